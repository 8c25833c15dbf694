package mqtt

import "strings"

// zigbee2mqtt topic segments.
const (
	segmentBridge       = "bridge"
	segmentDevices      = "devices"
	segmentState        = "state"
	segmentSet          = "set"
	segmentAvailability = "availability"
)

// GatewayTopics builds zigbee2mqtt topics under a base topic.
//
// Topic Structure:
//
//	<base>/bridge/devices               - retained JSON roster
//	<base>/bridge/state                 - online | offline
//	<base>/<friendly_name>              - JSON telemetry object
//	<base>/<friendly_name>/availability - online | offline
//	<base>/<friendly_name>/set/<prop>   - command to the device
//
// Example:
//
//	t := mqtt.GatewayTopics{Base: "zigbee2mqtt"}
//	t.DeviceSet("kitchen_plug", "state")
//	// Returns: "zigbee2mqtt/kitchen_plug/set/state"
type GatewayTopics struct {
	Base string
}

// All returns the wildcard subscription covering every gateway topic.
func (t GatewayTopics) All() string {
	return t.Base + "/#"
}

// BridgeDevices returns the roster topic.
func (t GatewayTopics) BridgeDevices() string {
	return t.Base + "/" + segmentBridge + "/" + segmentDevices
}

// BridgeState returns the bridge availability topic.
func (t GatewayTopics) BridgeState() string {
	return t.Base + "/" + segmentBridge + "/" + segmentState
}

// Device returns the telemetry topic of a device.
func (t GatewayTopics) Device(friendlyName string) string {
	return t.Base + "/" + friendlyName
}

// DeviceAvailability returns the availability topic of a device.
func (t GatewayTopics) DeviceAvailability(friendlyName string) string {
	return t.Device(friendlyName) + "/" + segmentAvailability
}

// DeviceSet returns the topic that sets one property of a device.
func (t GatewayTopics) DeviceSet(friendlyName, property string) string {
	return t.Device(friendlyName) + "/" + segmentSet + "/" + property
}

// TopicKind classifies an inbound gateway topic.
type TopicKind int

// Gateway topic kinds.
const (
	TopicUnknown TopicKind = iota
	TopicRoster
	TopicBridgeState
	TopicTelemetry
	TopicAvailability
)

// Parse classifies topic and extracts the friendly name for device topics.
//
// Friendly names may contain slashes, so anything under the base that is not
// a bridge topic, a set command or a get request is treated as telemetry for
// the full remaining path.
func (t GatewayTopics) Parse(topic string) (TopicKind, string) {
	rest, ok := strings.CutPrefix(topic, t.Base+"/")
	if !ok || rest == "" {
		return TopicUnknown, ""
	}

	switch {
	case rest == segmentBridge+"/"+segmentDevices:
		return TopicRoster, ""
	case rest == segmentBridge+"/"+segmentState:
		return TopicBridgeState, ""
	case strings.HasPrefix(rest, segmentBridge+"/"):
		return TopicUnknown, ""
	}

	if name, ok := strings.CutSuffix(rest, "/"+segmentAvailability); ok {
		return TopicAvailability, name
	}
	if strings.HasSuffix(rest, "/"+segmentSet) || strings.Contains(rest, "/"+segmentSet+"/") ||
		strings.HasSuffix(rest, "/get") || strings.Contains(rest, "/get/") {
		return TopicUnknown, ""
	}
	return TopicTelemetry, rest
}
