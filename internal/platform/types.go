package platform

import "fmt"

// Status is the device state published on the $state topic.
type Status string

// Device states understood by the platform.
const (
	StatusDisconnected Status = "disconnected"
	StatusLost         Status = "lost"
	StatusError        Status = "error"
	StatusAlert        Status = "alert"
	StatusSleeping     Status = "sleeping"
	StatusRestarting   Status = "restarting"
	StatusReady        Status = "ready"
	StatusInit         Status = "init"
	StatusPaired       Status = "paired"
)

var validStatuses = map[Status]struct{}{
	StatusDisconnected: {},
	StatusLost:         {},
	StatusError:        {},
	StatusAlert:        {},
	StatusSleeping:     {},
	StatusRestarting:   {},
	StatusReady:        {},
	StatusInit:         {},
	StatusPaired:       {},
}

func (s Status) String() string { return string(s) }

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	_, ok := validStatuses[s]
	return ok
}

// ParseStatus converts a raw $state payload into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: status %q", ErrInvalidValue, raw)
	}
	return s, nil
}

// Command is a payload accepted on the $cmd/set topic.
type Command string

// Commands the platform can send to a device.
const (
	CommandRestart Command = "restart"
	CommandReset   Command = "reset"
)

// ParseCommand converts a raw $cmd/set payload into a Command.
func ParseCommand(raw string) (Command, error) {
	switch c := Command(raw); c {
	case CommandRestart, CommandReset:
		return c, nil
	default:
		return "", fmt.Errorf("%w: command %q", ErrInvalidValue, raw)
	}
}

// Mode selects which broker identity the device uses.
type Mode int

const (
	// ModeGuest is the unpaired identity, publishing under the guest prefix.
	ModeGuest Mode = iota
	// ModeAuthenticated uses the stored apiKey under the realm prefix.
	ModeAuthenticated
)

func (m Mode) String() string {
	switch m {
	case ModeGuest:
		return "guest"
	case ModeAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// MarshalText renders the mode by name in JSON output.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ComponentType classifies a node for platform UIs.
type ComponentType string

// Component types.
const (
	ComponentGeneric    ComponentType = "generic"
	ComponentSensor     ComponentType = "sensor"
	ComponentSwitch     ComponentType = "switch"
	ComponentLight      ComponentType = "light"
	ComponentThermostat ComponentType = "thermostat"
)

// DataType is the advertised type of a property value.
type DataType string

// Property data types.
const (
	DataTypeString  DataType = "string"
	DataTypeInteger DataType = "integer"
	DataTypeFloat   DataType = "float"
	DataTypeBoolean DataType = "boolean"
	DataTypeEnum    DataType = "enum"
	DataTypeColor   DataType = "color"
)

// Identity is the immutable description of one virtual device.
type Identity struct {
	DeviceID    string
	Realm       string
	DisplayName string
}
