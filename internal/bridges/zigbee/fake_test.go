package zigbee

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/founek2/IOT-Platforma-zigbee/internal/credential"
	"github.com/founek2/IOT-Platforma-zigbee/internal/infrastructure/mqtt"
	"github.com/founek2/IOT-Platforma-zigbee/internal/platform"
)

// gatewayMsg records a gateway Publish call.
type gatewayMsg struct {
	Topic   string
	Payload string
}

// fakeGateway implements GatewayClient for testing.
type fakeGateway struct {
	mu           sync.Mutex
	published    []gatewayMsg
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	subscribeErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{handlers: make(map[string]mqtt.MessageHandler)}
}

func (g *fakeGateway) Publish(topic string, payload []byte, _ byte, _ bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.published = append(g.published, gatewayMsg{Topic: topic, Payload: string(payload)})
	return nil
}

func (g *fakeGateway) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.subscribeErr != nil {
		return g.subscribeErr
	}
	g.handlers[topic] = handler
	return nil
}

func (g *fakeGateway) Unsubscribe(topic string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.handlers, topic)
	g.unsubscribed = append(g.unsubscribed, topic)
	return nil
}

// deliver hands a message to the wildcard subscription, like the broker
// would for any topic under the base.
func (g *fakeGateway) deliver(t *testing.T, topic, payload string) error {
	t.Helper()
	g.mu.Lock()
	h, ok := g.handlers[DefaultBaseTopic+"/#"]
	g.mu.Unlock()
	if !ok {
		t.Fatalf("no gateway subscription for %s", topic)
	}
	return h(topic, []byte(payload))
}

func (g *fakeGateway) sent() []gatewayMsg {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gatewayMsg(nil), g.published...)
}

// fakeSession implements platform.Session.
type fakeSession struct {
	opts platform.SessionOptions
	rec  *sessionRecorder

	mu       sync.Mutex
	handlers map[string]platform.Handler
	ended    bool
}

func (s *fakeSession) Publish(topic, payload string, _ byte, _ bool) error {
	if !s.Connected() {
		return errors.New("fake: session ended")
	}
	s.rec.record(topic, payload)
	return nil
}

func (s *fakeSession) Subscribe(topic string, _ byte, h platform.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[topic] = h
	return nil
}

func (s *fakeSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended
}

func (s *fakeSession) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

func (s *fakeSession) deliver(topic, payload string) bool {
	s.mu.Lock()
	h, ok := s.handlers[topic]
	s.mu.Unlock()
	if ok {
		h(topic, []byte(payload))
	}
	return ok
}

// sessionRecorder is a platform.SessionFactory shared by all platforms of
// a test. It records every dial and every publish.
type sessionRecorder struct {
	mu        sync.Mutex
	sessions  []*fakeSession
	dials     int
	failNext  int
	published map[string][]string
}

func newSessionRecorder() *sessionRecorder {
	return &sessionRecorder{published: make(map[string][]string)}
}

func (r *sessionRecorder) Dial(opts platform.SessionOptions) (platform.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dials++
	if r.failNext > 0 {
		r.failNext--
		return nil, errors.New("fake: broker unreachable")
	}
	s := &fakeSession{opts: opts, rec: r, handlers: make(map[string]platform.Handler)}
	r.sessions = append(r.sessions, s)
	return s, nil
}

func (r *sessionRecorder) record(topic, payload string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published[topic] = append(r.published[topic], payload)
}

func (r *sessionRecorder) payloads(topic string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.published[topic]...)
}

func (r *sessionRecorder) last(topic string) string {
	p := r.payloads(topic)
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

func (r *sessionRecorder) dialCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dials
}

func (r *sessionRecorder) session(i int) *fakeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= len(r.sessions) {
		return nil
	}
	return r.sessions[i]
}

func (r *sessionRecorder) sessionFor(username string) *fakeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sessions) - 1; i >= 0; i-- {
		if r.sessions[i].opts.Username == username {
			return r.sessions[i]
		}
	}
	return nil
}

// fakeTelemetry implements TelemetryWriter.
type fakeTelemetry struct {
	mu     sync.Mutex
	points map[string]float64
}

func (f *fakeTelemetry) WriteTelemetry(deviceID, friendlyName, property string, value float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.points == nil {
		f.points = make(map[string]float64)
	}
	f.points[strings.Join([]string{deviceID, friendlyName, property}, "|")] = value
}

func (f *fakeTelemetry) get(deviceID, friendlyName, property string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.points[strings.Join([]string{deviceID, friendlyName, property}, "|")]
	return v, ok
}

// eventLog is a platform.Observer that counts events per device.
type eventLog struct {
	mu     sync.Mutex
	counts map[string]int
}

func (e *eventLog) HandleEvent(ev platform.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.counts == nil {
		e.counts = make(map[string]int)
	}
	e.counts[ev.DeviceID+"|"+string(ev.Type)]++
}

func (e *eventLog) count(deviceID string, t platform.EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[deviceID+"|"+string(t)]
}

// =============================================================================
// Fixture
// =============================================================================

const (
	testRealm = "alice"
	plugIEEE  = "0x00158d0001"
	plugName  = "kitchen_plug"
	bulbIEEE  = "0x00158d0002"
)

// plugRoster contains the coordinator, a disabled device and a plug with a
// switch composite.
const plugRoster = `[
  {"ieee_address":"0x00124b0000","type":"Coordinator","friendly_name":"Coordinator"},
  {"ieee_address":"0x00158d0009","type":"Router","friendly_name":"old","disabled":true},
  {"ieee_address":"0x00158d0001","type":"Router","friendly_name":"kitchen_plug","supported":true,
   "definition":{"model":"ZNCZ02LM","vendor":"Xiaomi","exposes":[
     {"type":"switch","features":[
       {"type":"binary","name":"state","property":"state","access":7,"value_on":"ON","value_off":"OFF"}]},
     {"type":"numeric","name":"power","property":"power","label":"Power","access":1,"unit":"W"},
     {"type":"numeric","name":"linkquality","property":"linkquality","access":1,"unit":"lqi","value_min":0,"value_max":255,"value_step":1}
   ]}}
]`

type fixture struct {
	d         *Dispatcher
	gateway   *fakeGateway
	sessions  *sessionRecorder
	store     *credential.MemoryStore
	telemetry *fakeTelemetry
	events    *eventLog
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()

	f := &fixture{
		gateway:   newFakeGateway(),
		sessions:  newSessionRecorder(),
		store:     credential.NewMemoryStore(),
		telemetry: &fakeTelemetry{},
		events:    &eventLog{},
	}

	o := Options{
		Gateway: f.gateway,
		Realm:   testRealm,
		NewPlatform: func(id platform.Identity, obs platform.Observer) (*platform.Platform, error) {
			return platform.New(platform.Options{
				Identity: id,
				Store:    f.store,
				Factory:  f.sessions.Dial,
				Observer: obs,
			})
		},
		Telemetry: f.telemetry,
		Observer:  f.events,
		Backoff:   BackoffConfig{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond},
	}
	for _, fn := range opts {
		fn(&o)
	}

	d, err := New(o)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(d.Stop)

	f.d = d
	return f
}

// paired stores an apiKey so the device connects authenticated.
func (f *fixture) paired(t *testing.T, ieee string) {
	t.Helper()
	if err := f.store.Set(context.Background(), ieee, credential.Credential{APIKey: "key-" + ieee}); err != nil {
		t.Fatalf("store.Set() error = %v", err)
	}
}

// loadPlug delivers the plug roster and waits until its platform connected.
func (f *fixture) loadPlug(t *testing.T) {
	t.Helper()
	if err := f.gateway.deliver(t, "zigbee2mqtt/bridge/devices", plugRoster); err != nil {
		t.Fatalf("roster error = %v", err)
	}
	waitFor(t, "plug connected", func() bool {
		return f.events.count(plugIEEE, platform.EventConnected) > 0
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
