package platform

// Snapshot is a read-only copy of a platform's state.
type Snapshot struct {
	DeviceID string         `json:"device_id"`
	Name     string         `json:"name"`
	Realm    string         `json:"realm"`
	Status   Status         `json:"status"`
	Mode     Mode           `json:"mode"`
	Paired   bool           `json:"paired"`
	Prefix   string         `json:"prefix"`
	Nodes    []NodeSnapshot `json:"nodes"`
}

// NodeSnapshot describes one node.
type NodeSnapshot struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	ComponentType ComponentType      `json:"component_type"`
	Properties    []PropertySnapshot `json:"properties"`
}

// PropertySnapshot describes one property and its last value.
type PropertySnapshot struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	DataType DataType `json:"datatype"`
	Settable bool     `json:"settable"`
	Unit     string   `json:"unit,omitempty"`
	Format   string   `json:"format,omitempty"`
	Value    *string  `json:"value,omitempty"`
}

// Snapshot copies the current state.
func (p *Platform) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{
		DeviceID: p.id.DeviceID,
		Name:     p.id.DisplayName,
		Realm:    p.id.Realm,
		Status:   p.status,
		Mode:     p.mode,
		Paired:   p.cred != nil,
		Prefix:   p.devicePrefix(),
		Nodes:    make([]NodeSnapshot, 0, len(p.nodes)),
	}
	for _, n := range p.nodes {
		ns := NodeSnapshot{
			ID:            n.id,
			Name:          n.name,
			ComponentType: n.componentType,
			Properties:    make([]PropertySnapshot, 0, len(n.properties)),
		}
		for _, prop := range n.properties {
			ps := PropertySnapshot{
				ID:       prop.args.ID,
				Name:     prop.args.Name,
				DataType: prop.args.DataType,
				Settable: prop.args.Settable,
				Unit:     prop.args.Unit,
				Format:   prop.args.Format,
			}
			if prop.hasValue {
				v := prop.value
				ps.Value = &v
			}
			ns.Properties = append(ns.Properties, ps)
		}
		s.Nodes = append(s.Nodes, ns)
	}
	return s
}
