package platform

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// publishedMsg records a Publish call.
type publishedMsg struct {
	Session  int
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
}

// MockSession implements Session for testing.
type MockSession struct {
	index   int
	factory *MockFactory
	opts    SessionOptions

	mu       sync.Mutex
	idle     *sync.Cond
	handlers map[string]Handler
	ended    bool
	inFlight int
}

func (s *MockSession) Publish(topic, payload string, qos byte, retained bool) error {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return errors.New("mock: session ended")
	}
	s.factory.record(publishedMsg{Session: s.index, Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (s *MockSession) Subscribe(topic string, _ byte, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.factory.subscribeErr; err != nil {
		return err
	}
	s.handlers[topic] = h
	return nil
}

func (s *MockSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended
}

// End waits for running deliveries to return, as paho's Disconnect waits
// for its router goroutine.
func (s *MockSession) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	for s.inFlight > 0 {
		s.idle.Wait()
	}
}

// Deliver simulates an inbound message. It returns false when nothing is
// subscribed to topic.
func (s *MockSession) Deliver(topic, payload string) bool {
	s.mu.Lock()
	h, ok := s.handlers[topic]
	if ok {
		s.inFlight++
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.idle.Broadcast()
		s.mu.Unlock()
	}()
	h(topic, []byte(payload))
	return true
}

// InFlight returns the number of deliveries still running.
func (s *MockSession) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// HasSubscription reports whether topic has a handler.
func (s *MockSession) HasSubscription(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handlers[topic]
	return ok
}

// Ended reports whether End was called.
func (s *MockSession) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Fail reports an asynchronous session error.
func (s *MockSession) Fail(err error) {
	s.opts.OnError(err)
}

// MockFactory records every session it creates.
type MockFactory struct {
	mu           sync.Mutex
	sessions     []*MockSession
	dialErrs     []error
	published    []publishedMsg
	subscribeErr error
}

// FailNext makes the next dials return errs in order.
func (f *MockFactory) FailNext(errs ...error) {
	f.mu.Lock()
	f.dialErrs = append(f.dialErrs, errs...)
	f.mu.Unlock()
}

func (f *MockFactory) New(opts SessionOptions) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dialErrs) > 0 {
		err := f.dialErrs[0]
		f.dialErrs = f.dialErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := &MockSession{index: len(f.sessions), factory: f, opts: opts, handlers: make(map[string]Handler)}
	s.idle = sync.NewCond(&s.mu)
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *MockFactory) record(m publishedMsg) {
	f.mu.Lock()
	f.published = append(f.published, m)
	f.mu.Unlock()
}

// Session returns the i-th created session.
func (f *MockFactory) Session(i int) *MockSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.sessions) {
		return nil
	}
	return f.sessions[i]
}

// SessionCount returns how many sessions were created.
func (f *MockFactory) SessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// Published returns publishes to topic, in order, across all sessions.
func (f *MockFactory) Published(topic string) []publishedMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedMsg
	for _, m := range f.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// PublishCount returns the total number of publishes.
func (f *MockFactory) PublishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// Payloads returns the payloads published to topic by session i.
func (f *MockFactory) Payloads(session int, topic string) []string {
	var out []string
	for _, m := range f.Published(topic) {
		if m.Session == session {
			out = append(out, m.Payload)
		}
	}
	return out
}

// eventRecorder is an Observer that keeps every event.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) HandleEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) Count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// drain blocks until the event loop has handled everything queued so far.
func drain(t *testing.T, p *Platform) {
	t.Helper()
	done := make(chan struct{})
	p.inbox <- inbound{anyGen: true, handler: func(string, []byte) { close(done) }}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not drain")
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
