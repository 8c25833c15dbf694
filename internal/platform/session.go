package platform

import "time"

// Handler receives a message delivered on a subscribed topic.
type Handler func(topic string, payload []byte)

// Publisher sends values to the platform broker.
type Publisher interface {
	Publish(topic, payload string, qos byte, retained bool) error
}

// Subscriber registers topic handlers on the platform broker.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler Handler) error
}

// Session is one broker connection owned by a Platform.
//
// End closes the connection gracefully so the broker discards the last will.
// It must be safe to call more than once. Connected reports false once End
// has been called.
type Session interface {
	Publisher
	Subscriber
	Connected() bool
	End()
}

// Will is the message the broker publishes when a session drops uncleanly.
type Will struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
}

// LastWill returns the will every session declares: $state=lost, retained, QoS 1.
func LastWill(devicePrefix string) Will {
	return Will{
		Topic:    Topics{DevicePrefix: devicePrefix}.State(),
		Payload:  string(StatusLost),
		QoS:      1,
		Retained: true,
	}
}

// SessionOptions parameterise a session. Guest and authenticated sessions
// differ only in Username and Password.
type SessionOptions struct {
	ClientID  string
	Username  string
	Password  string
	Will      Will
	KeepAlive time.Duration

	// OnError is called from transport goroutines when an established
	// session fails. Implementations wrap rejected credentials in
	// ErrBadCredentials.
	OnError func(err error)
}

// SessionFactory dials a new session. It is the only place sessions are created.
type SessionFactory func(opts SessionOptions) (Session, error)
