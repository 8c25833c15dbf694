package platform

import "strings"

// Topic attribute names.
const (
	attrState      = "$state"
	attrName       = "$name"
	attrRealm      = "$realm"
	attrNodes      = "$nodes"
	attrType       = "$type"
	attrProperties = "$properties"
	attrDataType   = "$datatype"
	attrSettable   = "$settable"
	attrUnit       = "$unit"
	attrFormat     = "$format"
	attrClass      = "$class"
	suffixSet      = "set"
)

// Topics builds device-convention topic strings under one device prefix.
//
// Topic Structure:
//
//	<prefix>/<deviceId>/$state               - device status (retained)
//	<prefix>/<deviceId>/$name|$realm|$nodes  - advertisement
//	<prefix>/<deviceId>/$config/apiKey/set   - pairing credential (guest only)
//	<prefix>/<deviceId>/$cmd/set             - restart | reset
//	<prefix>/<deviceId>/<node>/<property>    - value, /set for settable
type Topics struct {
	DevicePrefix string
}

// DevicePrefix joins a mode prefix and device id.
func DevicePrefix(prefix, deviceID string) string {
	return prefix + "/" + deviceID
}

// AuthenticatedPrefix returns the realm-scoped prefix, e.g. "v2/alice".
func AuthenticatedPrefix(topicVersion, realm string) string {
	return topicVersion + "/" + realm
}

// =============================================================================
// Device Topics
// =============================================================================

// State returns the status topic, also used as the last-will topic.
func (t Topics) State() string { return t.DevicePrefix + "/" + attrState }

// Name returns the display name topic.
func (t Topics) Name() string { return t.DevicePrefix + "/" + attrName }

// Realm returns the realm advertisement topic.
func (t Topics) Realm() string { return t.DevicePrefix + "/" + attrRealm }

// Nodes returns the comma-joined node list topic.
func (t Topics) Nodes() string { return t.DevicePrefix + "/" + attrNodes }

// APIKeySet returns the pairing credential topic.
func (t Topics) APIKeySet() string { return t.DevicePrefix + "/$config/apiKey/set" }

// CommandSet returns the device command topic.
func (t Topics) CommandSet() string { return t.DevicePrefix + "/$cmd/set" }

// =============================================================================
// Node and Property Topics
// =============================================================================

// NodeAttr returns a node attribute topic such as <node>/$name.
func (t Topics) NodeAttr(nodeID, attr string) string {
	return t.DevicePrefix + "/" + nodeID + "/" + attr
}

// PropertyValue returns the value channel of a property.
func (t Topics) PropertyValue(nodeID, propertyID string) string {
	return t.DevicePrefix + "/" + nodeID + "/" + propertyID
}

// PropertySet returns the inbound set channel of a settable property.
func (t Topics) PropertySet(nodeID, propertyID string) string {
	return t.PropertyValue(nodeID, propertyID) + "/" + suffixSet
}

// PropertyAttr returns a property attribute topic such as <node>/<prop>/$datatype.
func (t Topics) PropertyAttr(nodeID, propertyID, attr string) string {
	return t.PropertyValue(nodeID, propertyID) + "/" + attr
}

// validID reports whether id can be used as a single topic level.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/+#$")
}
