package platform

import (
	"fmt"
)

// PropertyArgs describe a property when it is added to a node.
type PropertyArgs struct {
	ID       string
	Name     string
	DataType DataType
	Settable bool
	Unit     string
	Format   string
	Class    string

	// OnSet receives the raw payload of a set message. It is only invoked for
	// settable properties while the device is authenticated.
	OnSet func(value string)
}

// Property is one observable or controllable attribute of a node.
//
// A property publishes through whatever session its node was last bound to,
// so the value topic always follows the current prefix.
type Property struct {
	args PropertyArgs
	node *Node

	value    string
	hasValue bool

	pub    Publisher
	topics Topics
}

// ID returns the device-unique property id.
func (p *Property) ID() string { return p.args.ID }

// Name returns the human-readable property name.
func (p *Property) Name() string { return p.args.Name }

// DataType returns the advertised datatype.
func (p *Property) DataType() DataType { return p.args.DataType }

// Settable reports whether the property accepts set messages.
func (p *Property) Settable() bool { return p.args.Settable }

// Unit returns the advertised unit, if any.
func (p *Property) Unit() string { return p.args.Unit }

// Format returns the advertised format, if any.
func (p *Property) Format() string { return p.args.Format }

// Node returns the owning node.
func (p *Property) Node() *Node { return p.node }

// Value returns the last value set and whether one has been set.
func (p *Property) Value() (string, bool) { return p.value, p.hasValue }

// SetValue stores value and publishes it on the value channel.
//
// The value is always stored. ErrNoSession is returned when the property is
// not bound to a session. No datatype validation is performed.
func (p *Property) SetValue(value string) error {
	p.value = value
	p.hasValue = true

	if p.pub == nil {
		return ErrNoSession
	}
	if err := p.pub.Publish(p.topics.PropertyValue(p.node.id, p.args.ID), value, 1, true); err != nil {
		return fmt.Errorf("publishing %s: %w", p.args.ID, err)
	}
	return nil
}

// advertise publishes the property descriptors and the current value.
func (p *Property) advertise(t Topics, pub Publisher) error {
	nodeID := p.node.id
	attrs := []struct{ attr, value string }{
		{attrName, p.args.Name},
		{attrDataType, string(p.args.DataType)},
	}
	if p.args.Settable {
		attrs = append(attrs, struct{ attr, value string }{attrSettable, "true"})
	}
	if p.args.Unit != "" {
		attrs = append(attrs, struct{ attr, value string }{attrUnit, p.args.Unit})
	}
	if p.args.Format != "" {
		attrs = append(attrs, struct{ attr, value string }{attrFormat, p.args.Format})
	}
	if p.args.Class != "" {
		attrs = append(attrs, struct{ attr, value string }{attrClass, p.args.Class})
	}

	for _, a := range attrs {
		if err := pub.Publish(t.PropertyAttr(nodeID, p.args.ID, a.attr), a.value, 1, true); err != nil {
			return fmt.Errorf("advertising %s/%s: %w", p.args.ID, a.attr, err)
		}
	}

	if p.hasValue {
		if err := pub.Publish(t.PropertyValue(nodeID, p.args.ID), p.value, 1, true); err != nil {
			return fmt.Errorf("publishing %s: %w", p.args.ID, err)
		}
	}
	return nil
}

// handleSet forwards an inbound set payload to the configured callback.
func (p *Property) handleSet(_ string, payload []byte) {
	if p.args.OnSet != nil {
		p.args.OnSet(string(payload))
	}
}
