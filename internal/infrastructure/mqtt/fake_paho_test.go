package mqtt

import (
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken is a completed paho token.
type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool { return !t.timeout }

func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *fakeToken) Error() error { return t.err }

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// fakePublish records a Publish call.
type fakePublish struct {
	topic    string
	payload  string
	qos      byte
	retained bool
}

// fakePaho implements pahomqtt.Client without a broker.
type fakePaho struct {
	opts *pahomqtt.ClientOptions

	connectErr     error
	connectTimeout bool
	publishErr     error

	mu          sync.Mutex
	connected   bool
	disconnects int
	published   []fakePublish
	handlers    map[string]pahomqtt.MessageHandler
}

func newFakePaho(opts *pahomqtt.ClientOptions) *fakePaho {
	return &fakePaho{opts: opts, handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakePaho) Connect() pahomqtt.Token {
	if f.connectTimeout {
		return &fakeToken{timeout: true}
	}
	if f.connectErr != nil {
		return &fakeToken{err: f.connectErr}
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return &fakeToken{}
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	f.connected = false
	f.disconnects++
	f.mu.Unlock()
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	if f.publishErr != nil {
		return &fakeToken{err: f.publishErr}
	}
	var body string
	switch p := payload.(type) {
	case []byte:
		body = string(p)
	default:
		body = fmt.Sprint(p)
	}
	f.mu.Lock()
	f.published = append(f.published, fakePublish{topic: topic, payload: body, qos: qos, retained: retained})
	f.mu.Unlock()
	return &fakeToken{}
}

func (f *fakePaho) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	f.handlers[topic] = callback
	f.mu.Unlock()
	return &fakeToken{}
}

func (f *fakePaho) SubscribeMultiple(filters map[string]byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	for topic, qos := range filters {
		f.Subscribe(topic, qos, callback)
	}
	return &fakeToken{}
}

func (f *fakePaho) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	for _, topic := range topics {
		delete(f.handlers, topic)
	}
	f.mu.Unlock()
	return &fakeToken{}
}

func (f *fakePaho) AddRoute(string, pahomqtt.MessageHandler) {}

func (f *fakePaho) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

// deliver invokes the handler registered for topic.
func (f *fakePaho) deliver(topic, payload string) bool {
	f.mu.Lock()
	h, ok := f.handlers[topic]
	f.mu.Unlock()
	if !ok {
		return false
	}
	h(f, fakeMessage{topic: topic, payload: []byte(payload)})
	return true
}

// recordingLogger collects log calls.
type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
