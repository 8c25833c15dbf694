package platform

import (
	"errors"
	"fmt"
	"strings"
)

// Node groups related properties of a device.
//
// Node and Property are not safe for concurrent use on their own; a Platform
// serialises every access to the tree it owns.
type Node struct {
	id            string
	name          string
	componentType ComponentType
	properties    []*Property
	index         map[string]*Property
}

// NewNode creates an empty node.
func NewNode(id, name string, componentType ComponentType) (*Node, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: node %q", ErrInvalidID, id)
	}
	if componentType == "" {
		componentType = ComponentGeneric
	}
	return &Node{
		id:            id,
		name:          name,
		componentType: componentType,
		index:         make(map[string]*Property),
	}, nil
}

// ID returns the node id.
func (n *Node) ID() string { return n.id }

// Name returns the node display name.
func (n *Node) Name() string { return n.name }

// ComponentType returns the node classification.
func (n *Node) ComponentType() ComponentType { return n.componentType }

// Properties returns the properties in insertion order.
func (n *Node) Properties() []*Property {
	out := make([]*Property, len(n.properties))
	copy(out, n.properties)
	return out
}

// Property looks up a property of this node by id.
func (n *Node) Property(id string) (*Property, bool) {
	p, ok := n.index[id]
	return p, ok
}

// AddProperty appends a property. Adding an id that already exists on this
// node returns the existing property unchanged.
func (n *Node) AddProperty(args PropertyArgs) (*Property, error) {
	if !validID(args.ID) {
		return nil, fmt.Errorf("%w: property %q", ErrInvalidID, args.ID)
	}
	if existing, ok := n.index[args.ID]; ok {
		return existing, nil
	}
	if args.Name == "" {
		args.Name = args.ID
	}
	if args.DataType == "" {
		args.DataType = DataTypeString
	}

	p := &Property{args: args, node: n}
	n.properties = append(n.properties, p)
	n.index[args.ID] = p
	return p, nil
}

// Advertise publishes the node descriptors and every property descriptor
// under devicePrefix.
func (n *Node) Advertise(devicePrefix string, pub Publisher) error {
	t := Topics{DevicePrefix: devicePrefix}

	ids := make([]string, len(n.properties))
	for i, p := range n.properties {
		ids[i] = p.args.ID
	}

	meta := []struct{ attr, value string }{
		{attrName, n.name},
		{attrType, string(n.componentType)},
		{attrProperties, strings.Join(ids, ",")},
	}
	for _, m := range meta {
		if err := pub.Publish(t.NodeAttr(n.id, m.attr), m.value, 1, true); err != nil {
			return fmt.Errorf("advertising node %s: %w", n.id, err)
		}
	}

	var errs []error
	for _, p := range n.properties {
		if err := p.advertise(t, pub); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers set handlers for every settable property. Incoming
// payloads are passed to the property's OnSet callback.
func (n *Node) Subscribe(devicePrefix string, sub Subscriber) error {
	t := Topics{DevicePrefix: devicePrefix}
	for _, p := range n.properties {
		if !p.args.Settable {
			continue
		}
		if err := sub.Subscribe(t.PropertySet(n.id, p.args.ID), 1, p.handleSet); err != nil {
			return fmt.Errorf("subscribing %s/%s: %w", n.id, p.args.ID, err)
		}
	}
	return nil
}

// Bind points every property at pub under devicePrefix so later SetValue
// calls publish there. Binding a nil publisher detaches the node.
func (n *Node) Bind(devicePrefix string, pub Publisher) {
	t := Topics{DevicePrefix: devicePrefix}
	for _, p := range n.properties {
		p.pub = pub
		p.topics = t
	}
}
