package zigbee

import (
	"encoding/json"
	"fmt"
)

// coordinatorType is the roster type of the zigbee2mqtt adapter itself.
const coordinatorType = "Coordinator"

// Device is one entry of the bridge/devices roster.
type Device struct {
	IEEEAddress  string      `json:"ieee_address"`
	FriendlyName string      `json:"friendly_name"`
	Type         string      `json:"type"`
	Disabled     bool        `json:"disabled"`
	Supported    bool        `json:"supported"`
	Definition   *Definition `json:"definition"`
}

// Definition describes the device model and what it exposes.
type Definition struct {
	Model       string   `json:"model"`
	Vendor      string   `json:"vendor"`
	Description string   `json:"description"`
	Exposes     []Expose `json:"exposes"`
}

// Expose is one capability of a device. Composite exposes carry their
// leaves in Features.
type Expose struct {
	Type      string   `json:"type"`
	Name      string   `json:"name"`
	Label     string   `json:"label"`
	Property  string   `json:"property"`
	Access    int      `json:"access"`
	Unit      string   `json:"unit"`
	ValueMin  *float64 `json:"value_min"`
	ValueMax  *float64 `json:"value_max"`
	ValueStep *float64 `json:"value_step"`
	ValueOn   any      `json:"value_on"`
	ValueOff  any      `json:"value_off"`
	Values    []any    `json:"values"`
	Features  []Expose `json:"features"`
}

// key is the name zigbee2mqtt uses for the expose in telemetry and set
// topics.
func (e Expose) key() string {
	if e.Property != "" {
		return e.Property
	}
	return e.Name
}

// label is the human-readable property name.
func (e Expose) label() string {
	if e.Label != "" {
		return e.Label
	}
	return e.key()
}

// exposes returns the device exposes, or nil for unsupported devices.
func (d Device) exposes() []Expose {
	if d.Definition == nil {
		return nil
	}
	return d.Definition.Exposes
}

// displayName returns the friendly name, falling back to the ieee address.
func (d Device) displayName() string {
	if d.FriendlyName != "" {
		return d.FriendlyName
	}
	return d.IEEEAddress
}

// ParseRoster decodes a bridge/devices payload.
//
// The coordinator, disabled devices and entries without an ieee address are
// dropped. Repeated ieee addresses keep their first entry.
//
// Parameters:
//   - payload: Raw JSON array published on <base>/bridge/devices
//
// Returns:
//   - []Device: Devices that should be exposed on the platform, in roster order
//   - error: ErrMalformedPayload if the payload is not a JSON array of devices
func ParseRoster(payload []byte) ([]Device, error) {
	var all []Device
	if err := json.Unmarshal(payload, &all); err != nil {
		return nil, fmt.Errorf("%w: roster: %v", ErrMalformedPayload, err)
	}

	seen := make(map[string]struct{}, len(all))
	devices := make([]Device, 0, len(all))
	for _, d := range all {
		if d.Type == coordinatorType || d.Disabled || d.IEEEAddress == "" {
			continue
		}
		if _, dup := seen[d.IEEEAddress]; dup {
			continue
		}
		seen[d.IEEEAddress] = struct{}{}
		devices = append(devices, d)
	}
	return devices, nil
}
