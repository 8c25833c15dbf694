package platform

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/founek2/IOT-Platforma-zigbee/internal/credential"
)

// Defaults applied by New.
const (
	DefaultGuestPrefix  = "prefix"
	DefaultTopicVersion = "v2"
	DefaultKeepAlive    = 20 * time.Second

	defaultInboxSize = 64
	storeTimeout     = 5 * time.Second
)

// Logger is the logging surface used by the platform.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configure a Platform.
type Options struct {
	Identity Identity
	Store    credential.Store
	Factory  SessionFactory

	// GuestPrefix is the topic root while unpaired. Default "prefix".
	GuestPrefix string
	// TopicVersion is the first segment of the realm prefix. Default "v2".
	TopicVersion string
	// KeepAlive is passed to every session. Default 20s.
	KeepAlive time.Duration
	// AutoRepair forgets a rejected apiKey and re-enters pairing.
	AutoRepair bool

	Observer  Observer
	Logger    Logger
	InboxSize int
}

// inbound is one unit of work for the event loop.
type inbound struct {
	gen     uint64
	anyGen  bool
	topic   string
	payload []byte
	handler Handler
	err     error
}

// Platform is the pairing and connection state machine of one virtual device.
//
// A Platform starts unpaired unless the credential store already holds an
// apiKey for its device id. Init opens a guest session (pairing) or an
// authenticated session. Messages delivered on a session are queued and
// handled by Run one at a time, so the state machine never runs two
// transitions concurrently. Public methods take the same lock.
type Platform struct {
	id           Identity
	store        credential.Store
	factory      SessionFactory
	observer     Observer
	logger       Logger
	guestPrefix  string
	topicVersion string
	keepAlive    time.Duration
	autoRepair   bool

	mu        sync.Mutex
	cred      *credential.Credential
	mode      Mode
	status    Status
	session   Session
	sessStop  chan struct{}
	gen       uint64
	nodes     []*Node
	sensorCnt int

	inbox    chan inbound
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Platform and loads its stored credential.
//
// A missing credential leaves the device unpaired. A corrupt one is logged
// and also treated as unpaired; the record is overwritten by the next pairing.
func New(opts Options) (*Platform, error) {
	if !validID(opts.Identity.DeviceID) {
		return nil, fmt.Errorf("%w: device id %q", ErrInvalidOptions, opts.Identity.DeviceID)
	}
	if !validID(opts.Identity.Realm) {
		return nil, fmt.Errorf("%w: realm %q", ErrInvalidOptions, opts.Identity.Realm)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: credential store is required", ErrInvalidOptions)
	}
	if opts.Factory == nil {
		return nil, fmt.Errorf("%w: session factory is required", ErrInvalidOptions)
	}

	if opts.Identity.DisplayName == "" {
		opts.Identity.DisplayName = opts.Identity.DeviceID
	}
	if opts.GuestPrefix == "" {
		opts.GuestPrefix = DefaultGuestPrefix
	}
	if opts.TopicVersion == "" {
		opts.TopicVersion = DefaultTopicVersion
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = defaultInboxSize
	}

	var logger Logger = nopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	p := &Platform{
		id:           opts.Identity,
		store:        opts.Store,
		factory:      opts.Factory,
		observer:     opts.Observer,
		logger:       logger,
		guestPrefix:  opts.GuestPrefix,
		topicVersion: opts.TopicVersion,
		keepAlive:    opts.KeepAlive,
		autoRepair:   opts.AutoRepair,
		mode:         ModeGuest,
		status:       StatusLost,
		inbox:        make(chan inbound, opts.InboxSize),
		done:         make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	c, err := p.store.Get(ctx, p.id.DeviceID)
	switch {
	case err == nil:
		p.cred = &c
	case errors.Is(err, credential.ErrNotFound):
	case errors.Is(err, credential.ErrCorrupt):
		p.logger.Warn("stored credential is corrupt, starting unpaired", "error", err)
	default:
		return nil, fmt.Errorf("loading credential: %w", err)
	}

	return p, nil
}

// =============================================================================
// Capability tree
// =============================================================================

// AddNode appends a node. Nodes added after Init are advertised on the
// next connection.
func (p *Platform) AddNode(id, name string, componentType ComponentType) (*Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addNode(id, name, componentType)
}

func (p *Platform) addNode(id, name string, componentType ComponentType) (*Node, error) {
	for _, n := range p.nodes {
		if n.id == id {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, id)
		}
	}
	n, err := NewNode(id, name, componentType)
	if err != nil {
		return nil, err
	}
	p.nodes = append(p.nodes, n)
	return n, nil
}

// AddSensor creates a sensor node named after the property, with ids
// sensor0, sensor1, ... in call order, and adds the property to it.
func (p *Platform) AddSensor(args PropertyArgs) (*Property, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, prop := p.findProperty(args.ID); prop != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateProperty, args.ID)
	}
	n, err := p.addNode("sensor"+strconv.Itoa(p.sensorCnt), args.Name, ComponentSensor)
	if err != nil {
		return nil, err
	}
	p.sensorCnt++
	return n.AddProperty(args)
}

// Validate checks that no property id is used by two nodes.
func (p *Platform) Validate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	owner := make(map[string]string)
	for _, n := range p.nodes {
		for _, prop := range n.properties {
			if other, ok := owner[prop.args.ID]; ok {
				return fmt.Errorf("%w: %s on nodes %s and %s", ErrDuplicateProperty, prop.args.ID, other, n.id)
			}
			owner[prop.args.ID] = n.id
		}
	}
	return nil
}

// findProperty locates a property by id across all nodes. Node ids are
// never consulted.
func (p *Platform) findProperty(propertyID string) (*Node, *Property) {
	for _, n := range p.nodes {
		if prop, ok := n.index[propertyID]; ok {
			return n, prop
		}
	}
	return nil, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Init opens the pairing session when no credential is stored and the
// authenticated session otherwise.
func (p *Platform) Init() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cred == nil {
		p.connectPairing()
		return
	}
	p.connect()
}

// ConnectPairing opens a guest session, subscribes to the credential and
// command topics and advertises the tree read-only. Failures are logged and
// reported as EventSessionFailed; there is no retry.
func (p *Platform) ConnectPairing() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectPairing()
}

func (p *Platform) connectPairing() {
	p.mode = ModeGuest
	prefix := p.devicePrefix()
	t := Topics{DevicePrefix: prefix}

	if err := p.openSession("guest="+p.id.DeviceID, p.id.Realm); err != nil {
		p.sessionFailed(err)
		return
	}

	p.publishStatus(StatusInit)

	sub := p.subscriber()
	if err := sub.Subscribe(t.APIKeySet(), 1, p.handleAPIKey); err != nil {
		p.abortSession(err)
		return
	}
	if err := sub.Subscribe(t.CommandSet(), 1, p.handleCommand); err != nil {
		p.abortSession(err)
		return
	}

	if err := p.advertise(); err != nil {
		p.logger.Warn("advertisement incomplete", "error", err)
	}

	// Values flow out while pairing, but nothing is settable.
	for _, n := range p.nodes {
		n.Bind(prefix, p.session)
	}

	p.publishStatus(StatusReady)
	p.emit(EventConnected, nil)
}

// Connect opens the authenticated session with the stored apiKey. Without a
// credential it logs a warning and does nothing.
func (p *Platform) Connect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connect()
}

func (p *Platform) connect() {
	if p.cred == nil {
		p.logger.Warn("cannot connect without apiKey")
		return
	}

	p.mode = ModeAuthenticated
	prefix := p.devicePrefix()
	t := Topics{DevicePrefix: prefix}

	username := "device=" + p.id.Realm + "/" + p.id.DeviceID
	if err := p.openSession(username, p.cred.APIKey); err != nil {
		p.handleSessionError(err)
		return
	}

	p.publishStatus(StatusInit)

	sub := p.subscriber()
	if err := sub.Subscribe(t.CommandSet(), 1, p.handleCommand); err != nil {
		p.abortSession(err)
		return
	}

	if err := p.advertise(); err != nil {
		p.logger.Warn("advertisement incomplete", "error", err)
	}

	for _, n := range p.nodes {
		if err := n.Subscribe(prefix, sub); err != nil {
			p.abortSession(err)
			return
		}
		n.Bind(prefix, p.session)
	}

	p.publishStatus(StatusReady)
	p.emit(EventConnected, nil)
}

// Forgot discards the credential in memory and in the store and switches
// back to the guest prefix. Calling it repeatedly is harmless.
func (p *Platform) Forgot() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forgot()
}

func (p *Platform) forgot() {
	p.cred = nil
	p.mode = ModeGuest

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := p.store.Remove(ctx, p.id.DeviceID); err != nil {
		p.logger.Error("removing stored credential failed", "error", err)
	}
	p.emit(EventForgotten, nil)
}

// Restart reconnects with the current identity, keeping the credential.
// It has the same effect as the restart command.
func (p *Platform) Restart() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restart()
}

// Reset ends the current session, forgets the credential and starts pairing
// again. It has the same effect as the reset command.
func (p *Platform) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}

// Disconnect publishes disconnected and ends the session gracefully. The
// platform can be connected again afterwards.
func (p *Platform) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishStatus(StatusDisconnected)
	p.endSession()
}

// Run handles queued session messages in arrival order until ctx is
// cancelled, then disconnects.
func (p *Platform) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.stopOnce.Do(func() { close(p.done) })
			p.Disconnect()
			return
		case msg := <-p.inbox:
			p.dispatch(msg)
		}
	}
}

// =============================================================================
// Publishing
// =============================================================================

// PublishStatus publishes status on $state. The status is recorded and
// observers are notified even when no session can carry it.
func (p *Platform) PublishStatus(status Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishStatus(status)
}

func (p *Platform) publishStatus(status Status) {
	p.status = status
	if p.connected() {
		t := Topics{DevicePrefix: p.devicePrefix()}
		if err := p.session.Publish(t.State(), string(status), 1, true); err != nil {
			p.logger.Warn("publishing status failed", "status", status, "error", err)
		}
	}
	p.emit(EventStatusChanged, nil)
}

// Advertise publishes $name, $realm, $nodes and every node and property
// descriptor under the current prefix.
func (p *Platform) Advertise() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advertise()
}

func (p *Platform) advertise() error {
	if !p.connected() {
		return ErrNoSession
	}
	prefix := p.devicePrefix()
	t := Topics{DevicePrefix: prefix}

	ids := make([]string, len(p.nodes))
	for i, n := range p.nodes {
		ids[i] = n.id
	}

	var errs []error
	for _, m := range []struct{ topic, value string }{
		{t.Name(), p.id.DisplayName},
		{t.Realm(), p.id.Realm},
		{t.Nodes(), strings.Join(ids, ",")},
	} {
		if err := p.session.Publish(m.topic, m.value, 1, true); err != nil {
			errs = append(errs, err)
		}
	}
	for _, n := range p.nodes {
		if err := n.Advertise(prefix, p.session); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Value is accepted by PublishPropertyData: a StringValue or a ValueFunc.
type Value interface {
	resolve(n *Node, prop *Property) string
}

// StringValue is a literal property value.
type StringValue string

func (v StringValue) resolve(*Node, *Property) string { return string(v) }

// ValueFunc computes a value from the owning node and property.
type ValueFunc func(n *Node, prop *Property) string

func (f ValueFunc) resolve(n *Node, prop *Property) string { return f(n, prop) }

// PublishPropertyData routes a value to the property with the given id,
// whichever node owns it. Unknown ids and a missing session are logged and
// returned as errors; neither changes state.
func (p *Platform) PublishPropertyData(propertyID string, v Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publishPropertyData(propertyID, v)
}

func (p *Platform) publishPropertyData(propertyID string, v Value) error {
	n, prop := p.findProperty(propertyID)
	if prop == nil {
		p.logger.Debug("unable to locate node with property", "property_id", propertyID)
		return fmt.Errorf("%w: %s", ErrPropertyNotFound, propertyID)
	}
	if !p.connected() {
		p.logger.Debug("not connected, dropping property data", "property_id", propertyID)
		return ErrNoSession
	}
	return prop.SetValue(v.resolve(n, prop))
}

// QueuePropertyData is the non-blocking form of PublishPropertyData. The
// value is handled by Run; it is dropped when the queue is full.
func (p *Platform) QueuePropertyData(propertyID string, v Value) bool {
	msg := inbound{
		anyGen: true,
		topic:  propertyID,
		handler: func(id string, _ []byte) {
			_ = p.publishPropertyData(id, v) //nolint:errcheck // Logged inside
		},
	}
	if !p.tryEnqueue(msg) {
		p.logger.Debug("inbox full, dropping property data", "property_id", propertyID)
		return false
	}
	return true
}

// QueueStatus is the non-blocking form of PublishStatus. Queued statuses are
// applied by Run in order; the status is dropped when the queue is full.
// Unlike PublishStatus, a queued status is discarded when no session is
// live, so gateway reports cannot mark a disconnected device ready.
func (p *Platform) QueueStatus(status Status) bool {
	msg := inbound{
		anyGen: true,
		topic:  string(status),
		handler: func(s string, _ []byte) {
			if !p.connected() {
				p.logger.Debug("not connected, dropping status", "status", s)
				return
			}
			p.publishStatus(Status(s))
		},
	}
	if !p.tryEnqueue(msg) {
		p.logger.Debug("inbox full, dropping status", "status", status)
		return false
	}
	return true
}

func (p *Platform) tryEnqueue(msg inbound) bool {
	select {
	case p.inbox <- msg:
		return true
	default:
		return false
	}
}

// =============================================================================
// Inbound handlers (run from the event loop with p.mu held)
// =============================================================================

func (p *Platform) handleAPIKey(_ string, payload []byte) {
	if p.mode != ModeGuest {
		p.logger.Warn("ignoring apiKey outside pairing mode")
		return
	}
	key := string(payload)
	if key == "" {
		p.logger.Warn("ignoring empty apiKey")
		return
	}

	c := credential.Credential{APIKey: key}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := p.store.Set(ctx, p.id.DeviceID, c); err != nil {
		p.logger.Error("persisting apiKey failed, staying in pairing mode", "error", err)
		return
	}
	p.cred = &c
	p.logger.Info("received apiKey, reconnecting as paired device")

	p.publishStatus(StatusPaired)
	p.publishStatus(StatusDisconnected)
	p.emit(EventPaired, nil)
	p.endSession()
	p.connect()
}

func (p *Platform) handleCommand(_ string, payload []byte) {
	cmd, err := ParseCommand(strings.TrimSpace(string(payload)))
	if err != nil {
		p.logger.Warn("ignoring unknown command", "error", err)
		return
	}

	switch cmd {
	case CommandRestart:
		p.restart()
	case CommandReset:
		p.reset()
	}
}

func (p *Platform) restart() {
	p.logger.Info("restarting")
	p.publishStatus(StatusRestarting)
	p.endSession()
	if p.mode == ModeAuthenticated {
		p.connect()
		return
	}
	p.connectPairing()
}

func (p *Platform) reset() {
	p.logger.Info("resetting")
	p.endSession()
	p.forgot()
	p.connectPairing()
}

// handleSessionError reacts to dial failures and errors reported by a live
// session. Rejected credentials trigger re-pairing only when AutoRepair is
// set; otherwise the device stays in authenticated mode with status error.
func (p *Platform) handleSessionError(err error) {
	if errors.Is(err, ErrBadCredentials) && p.mode == ModeAuthenticated {
		if p.autoRepair {
			p.logger.Warn("invalid apiKey, forgetting it and pairing again", "error", err)
			p.endSession()
			p.forgot()
			p.connectPairing()
			return
		}
		p.logger.Error("invalid apiKey, automatic re-pairing disabled", "error", err)
		p.publishStatus(StatusError)
		return
	}
	p.sessionFailed(err)
}

func (p *Platform) dispatch(msg inbound) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !msg.anyGen && msg.gen != p.gen {
		p.logger.Debug("dropping message from replaced session", "topic", msg.topic)
		return
	}
	if msg.err != nil {
		p.handleSessionError(msg.err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in message handler", "topic", msg.topic, "panic", r)
		}
	}()
	msg.handler(msg.topic, msg.payload)
}

// =============================================================================
// Session handling
// =============================================================================

// openSession ends the current session, then dials a new one. The handle is
// replaced only once the new session exists. Messages still queued from the
// old session are discarded by generation.
func (p *Platform) openSession(username, password string) error {
	p.endSession()
	for _, n := range p.nodes {
		n.Bind("", nil)
	}

	p.gen++
	gen := p.gen
	stop := make(chan struct{})
	p.sessStop = stop

	p.logger.Info("opening session",
		"mode", p.mode,
		"prefix", p.devicePrefix(),
		"username", username,
		"password", strings.Repeat("*", len(password)),
	)

	sess, err := p.factory(SessionOptions{
		ClientID:  p.id.DeviceID,
		Username:  username,
		Password:  password,
		Will:      LastWill(p.devicePrefix()),
		KeepAlive: p.keepAlive,
		OnError: func(err error) {
			p.enqueue(inbound{gen: gen, err: err}, stop)
		},
	})
	if err != nil {
		p.session = nil
		return err
	}
	p.session = sess
	return nil
}

// endSession releases transport callbacks still waiting on the inbox before
// ending the session. End may wait for those callbacks to return, and the
// event loop that would drain the inbox is usually the caller.
func (p *Platform) endSession() {
	if p.sessStop != nil {
		close(p.sessStop)
		p.sessStop = nil
	}
	if p.session != nil {
		p.session.End()
	}
}

// abortSession ends a session whose setup failed part way.
func (p *Platform) abortSession(err error) {
	p.endSession()
	p.sessionFailed(err)
}

func (p *Platform) sessionFailed(err error) {
	p.logger.Error("session failed", "mode", p.mode, "error", err)
	p.emit(EventSessionFailed, err)
}

func (p *Platform) connected() bool {
	return p.session != nil && p.session.Connected()
}

func (p *Platform) subscriber() Subscriber {
	return queuedSubscriber{p: p, sess: p.session, gen: p.gen, stop: p.sessStop}
}

// enqueue blocks until the event loop accepts msg, the loop stops, or the
// session that produced msg is ended. In the last two cases msg is dropped.
func (p *Platform) enqueue(msg inbound, stop <-chan struct{}) {
	select {
	case p.inbox <- msg:
	case <-p.done:
	case <-stop:
		p.logger.Debug("session ended, dropping message", "topic", msg.topic)
	}
}

// queuedSubscriber routes deliveries through the platform's event loop.
type queuedSubscriber struct {
	p    *Platform
	sess Session
	gen  uint64
	stop <-chan struct{}
}

func (q queuedSubscriber) Subscribe(topic string, qos byte, h Handler) error {
	return q.sess.Subscribe(topic, qos, func(t string, payload []byte) {
		q.p.enqueue(inbound{gen: q.gen, topic: t, payload: payload, handler: h}, q.stop)
	})
}

func (p *Platform) emit(t EventType, err error) {
	if p.observer == nil {
		return
	}
	p.observer.HandleEvent(Event{
		Type:     t,
		DeviceID: p.id.DeviceID,
		Status:   p.status,
		Mode:     p.mode,
		Time:     time.Now().UTC(),
		Err:      err,
	})
}

// =============================================================================
// Accessors
// =============================================================================

func (p *Platform) devicePrefix() string {
	if p.mode == ModeAuthenticated {
		return DevicePrefix(AuthenticatedPrefix(p.topicVersion, p.id.Realm), p.id.DeviceID)
	}
	return DevicePrefix(p.guestPrefix, p.id.DeviceID)
}

// DevicePrefix returns <prefix>/<deviceId> for the current mode.
func (p *Platform) DevicePrefix() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.devicePrefix()
}

// Identity returns the device identity.
func (p *Platform) Identity() Identity { return p.id }

// Status returns the last published status.
func (p *Platform) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Mode returns the current connection identity.
func (p *Platform) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// IsPaired reports whether an apiKey is held.
func (p *Platform) IsPaired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cred != nil
}

// Nodes returns the nodes in insertion order.
func (p *Platform) Nodes() []*Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Node, len(p.nodes))
	copy(out, p.nodes)
	return out
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
