package zigbee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/founek2/IOT-Platforma-zigbee/internal/infrastructure/mqtt"
	"github.com/founek2/IOT-Platforma-zigbee/internal/platform"
)

// Dispatcher constants.
const (
	// DefaultBaseTopic is the zigbee2mqtt default base topic.
	DefaultBaseTopic = "zigbee2mqtt"

	// gatewayQoS is used for the gateway subscription and set commands.
	gatewayQoS = 1

	// defaultMaxConcurrentInit bounds parallel session dials after a roster.
	defaultMaxConcurrentInit = 4
)

// GatewayClient is the MQTT connection to the zigbee2mqtt broker.
// *mqtt.Client satisfies it.
type GatewayClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// Unsubscribe removes a subscription.
	Unsubscribe(topic string) error
}

// TelemetryWriter stores numeric readings. *influxdb.Client satisfies it.
type TelemetryWriter interface {
	WriteTelemetry(deviceID, friendlyName, property string, value float64)
}

// PlatformFactory builds the Platform of one zigbee device. The dispatcher
// passes the identity and the observer chain; the factory supplies the
// credential store, session dialer and platform settings.
type PlatformFactory func(identity platform.Identity, observer platform.Observer) (*platform.Platform, error)

// Logger is the logging surface used by the dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// BackoffConfig bounds supervisor restart delays.
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration
}

// Options holds configuration for creating a Dispatcher.
type Options struct {
	// Gateway is the zigbee2mqtt broker connection.
	Gateway GatewayClient

	// BaseTopic is the zigbee2mqtt base topic. Default "zigbee2mqtt".
	BaseTopic string

	// Realm is the platform account every device is paired into.
	Realm string

	// NewPlatform builds one Platform per roster device.
	NewPlatform PlatformFactory

	// Telemetry is optional. Numeric and boolean readings are written to it.
	Telemetry TelemetryWriter

	// Observer is optional and receives the events of every platform.
	Observer platform.Observer

	// Logger is optional structured logger.
	Logger Logger

	// MaxConcurrentInit bounds parallel Init calls. Default 4.
	MaxConcurrentInit int

	// Backoff bounds restart delays after a failed session. Default 1s..60s.
	Backoff BackoffConfig
}

// device is one zigbee device and the Platform that represents it.
type device struct {
	ieee     string
	platform *platform.Platform
	backoff  *backoff

	// props is keyed by zigbee2mqtt field name. It is not modified after
	// the device is built.
	props map[string]*gatewayProperty

	mu      sync.Mutex
	name    string
	retry   *time.Timer
	alerted bool
}

func (dev *device) friendlyName() string {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.name
}

func (dev *device) stopRetry() {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.retry != nil {
		dev.retry.Stop()
		dev.retry = nil
	}
}

// setAlerted records whether the device shows the bridge-offline alert and
// reports whether the flag changed.
func (dev *device) setAlerted(alerted bool) bool {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	changed := dev.alerted != alerted
	dev.alerted = alerted
	return changed
}

// Dispatcher maps zigbee2mqtt devices to platform devices.
// It handles:
//   - Building one Platform per roster device from its exposes
//   - Forwarding telemetry to properties and set commands to the gateway
//   - Mapping gateway and device availability to platform status
//   - Restarting failed sessions with exponential backoff
//
// Thread Safety: All methods are safe for concurrent use.
type Dispatcher struct {
	gateway     GatewayClient
	topics      mqtt.GatewayTopics
	realm       string
	newPlatform PlatformFactory
	telemetry   TelemetryWriter
	observer    platform.Observer
	maxInit     int
	backoffCfg  BackoffConfig

	mu       sync.RWMutex
	devices  map[string]*device // by ieee address
	byName   map[string]*device // by friendly name
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	stopping bool

	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a Dispatcher. Call Start to subscribe to the gateway.
func New(opts Options) (*Dispatcher, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("%w: gateway client is required", ErrInvalidOptions)
	}
	if opts.NewPlatform == nil {
		return nil, fmt.Errorf("%w: platform factory is required", ErrInvalidOptions)
	}
	if opts.Realm == "" {
		return nil, fmt.Errorf("%w: realm is required", ErrInvalidOptions)
	}
	if opts.BaseTopic == "" {
		opts.BaseTopic = DefaultBaseTopic
	}
	if opts.MaxConcurrentInit <= 0 {
		opts.MaxConcurrentInit = defaultMaxConcurrentInit
	}

	return &Dispatcher{
		gateway:     opts.Gateway,
		topics:      mqtt.GatewayTopics{Base: opts.BaseTopic},
		realm:       opts.Realm,
		newPlatform: opts.NewPlatform,
		telemetry:   opts.Telemetry,
		observer:    opts.Observer,
		maxInit:     opts.MaxConcurrentInit,
		backoffCfg:  opts.Backoff,
		devices:     make(map[string]*device),
		byName:      make(map[string]*device),
		logger:      opts.Logger,
	}, nil
}

// Start subscribes to every gateway topic. Platforms created from the
// roster run until ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started || d.stopping {
		d.mu.Unlock()
		return nil
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.started = true
	d.mu.Unlock()

	if err := d.gateway.Subscribe(d.topics.All(), gatewayQoS, d.handleMessage); err != nil {
		return fmt.Errorf("subscribe to gateway: %w", err)
	}
	d.logInfo("dispatcher started", "topic", d.topics.All())
	return nil
}

// Stop unsubscribes from the gateway, cancels pending restarts and
// disconnects every platform.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopping = true
		started, cancel := d.started, d.cancel
		d.mu.Unlock()

		if started {
			if err := d.gateway.Unsubscribe(d.topics.All()); err != nil {
				d.logError("failed to unsubscribe from gateway", err)
			}
		}
		if cancel != nil {
			cancel()
		}

		devices := d.deviceList()
		for _, dev := range devices {
			dev.stopRetry()
		}
		d.wg.Wait()

		// Run disconnects on cancel; this catches an Init that finished
		// after its Run loop returned.
		for _, dev := range devices {
			dev.platform.Disconnect()
		}
		d.logInfo("dispatcher stopped", "platforms", len(devices))
	})
}

// Platforms returns every platform ordered by device id.
func (d *Dispatcher) Platforms() []*platform.Platform {
	devices := d.deviceList()
	out := make([]*platform.Platform, 0, len(devices))
	for _, dev := range devices {
		out = append(out, dev.platform)
	}
	return out
}

// Platform returns the platform of the device with the given ieee address.
func (d *Dispatcher) Platform(deviceID string) (*platform.Platform, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dev, ok := d.devices[deviceID]
	if !ok {
		return nil, false
	}
	return dev.platform, true
}

// =============================================================================
// Gateway messages
// =============================================================================

// handleMessage routes one gateway message. Returned errors are logged by
// the MQTT client.
func (d *Dispatcher) handleMessage(topic string, payload []byte) error {
	kind, name := d.topics.Parse(topic)
	switch kind {
	case mqtt.TopicRoster:
		return d.handleRoster(payload)
	case mqtt.TopicBridgeState:
		return d.handleBridgeState(payload)
	case mqtt.TopicTelemetry:
		return d.handleTelemetry(name, payload)
	case mqtt.TopicAvailability:
		return d.handleAvailability(name, payload)
	default:
		return nil
	}
}

// handleRoster creates a platform for every device not seen before and
// starts them. Known devices only have their friendly name refreshed.
func (d *Dispatcher) handleRoster(payload []byte) error {
	roster, err := ParseRoster(payload)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopping {
		return nil
	}
	if !d.started {
		return ErrNotStarted
	}

	var added []*device
	for _, zd := range roster {
		if dev, ok := d.devices[zd.IEEEAddress]; ok {
			d.rename(dev, zd.displayName())
			continue
		}

		dev, err := d.buildDevice(zd)
		if err != nil {
			d.logError("failed to create platform", err, "ieee", zd.IEEEAddress)
			continue
		}
		d.devices[dev.ieee] = dev
		d.byName[dev.name] = dev
		added = append(added, dev)
	}

	if len(added) == 0 {
		return nil
	}

	ctx := d.ctx
	for _, dev := range added {
		d.goLocked(func() { dev.platform.Run(ctx) })
	}
	d.goLocked(func() { d.initAll(ctx, added) })

	d.logInfo("roster applied", "devices", len(roster), "added", len(added))
	return nil
}

// buildDevice creates the platform, its node and one property per
// supported expose. Called with d.mu held.
func (d *Dispatcher) buildDevice(zd Device) (*device, error) {
	dev := &device{
		ieee:    zd.IEEEAddress,
		name:    zd.displayName(),
		props:   make(map[string]*gatewayProperty),
		backoff: newBackoff(d.backoffCfg),
	}

	observer := platform.Observers{
		platform.ObserverFunc(func(e platform.Event) { d.supervise(dev, e) }),
	}
	if d.observer != nil {
		observer = append(observer, d.observer)
	}

	p, err := d.newPlatform(platform.Identity{
		DeviceID:    zd.IEEEAddress,
		Realm:       d.realm,
		DisplayName: zd.displayName(),
	}, observer)
	if err != nil {
		return nil, err
	}
	dev.platform = p

	nodeName := zd.FriendlyName
	if nodeName == "" {
		nodeName = defaultNodeID
	}
	node, err := p.AddNode(nodeID(zd.FriendlyName), nodeName, platform.ComponentGeneric)
	if err != nil {
		return nil, fmt.Errorf("adding node: %w", err)
	}

	for _, gp := range convertExposes(zd.exposes()) {
		if _, dup := dev.props[gp.Key]; dup {
			continue
		}
		prop := gp
		if prop.Args.Settable {
			prop.Args.OnSet = func(value string) { d.forwardSet(dev, &prop, value) }
		}
		if _, err := node.AddProperty(prop.Args); err != nil {
			d.logWarn("skipping expose", "ieee", dev.ieee, "property", prop.Key, "error", err)
			continue
		}
		dev.props[prop.Key] = &prop
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validating capabilities: %w", err)
	}
	return dev, nil
}

// rename updates the friendly name routing of a known device. Called with
// d.mu held.
func (d *Dispatcher) rename(dev *device, name string) {
	dev.mu.Lock()
	old := dev.name
	dev.name = name
	dev.mu.Unlock()

	if old == name {
		return
	}
	if d.byName[old] == dev {
		delete(d.byName, old)
	}
	d.byName[name] = dev
	d.logInfo("device renamed", "ieee", dev.ieee, "from", old, "to", name)
}

// initAll runs Init for each device, at most maxInit at a time.
func (d *Dispatcher) initAll(ctx context.Context, devices []*device) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.maxInit)

	for _, dev := range devices {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			dev.platform.Init()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		d.logDebug("platform start interrupted", "error", err)
		return
	}
	d.logInfo("platforms started", "count", len(devices))
}

// handleTelemetry forwards every scalar field of a device state object to
// the property of the same name.
func (d *Dispatcher) handleTelemetry(name string, payload []byte) error {
	// An empty payload clears a retained message.
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	dev := d.deviceByName(name)
	if dev == nil {
		d.logDebug("telemetry for unknown device", "name", name)
		return nil
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return fmt.Errorf("%w: telemetry from %s: %v", ErrMalformedPayload, name, err)
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := fields[key]
		gp := dev.props[key]

		value, ok := gp.fromGateway(raw)
		if !ok {
			d.logDebug("skipping non-scalar field", "name", name, "field", key)
			continue
		}

		id := sanitizeID(key)
		if gp != nil {
			id = gp.Args.ID
		}
		if id == "" {
			continue
		}
		if !dev.platform.QueuePropertyData(id, platform.StringValue(value)) {
			d.logWarn("platform queue full, dropping telemetry", "ieee", dev.ieee, "field", key)
		}

		if d.telemetry != nil {
			if f, ok := gp.numeric(raw); ok {
				d.telemetry.WriteTelemetry(dev.ieee, name, key, f)
			}
		}
	}
	return nil
}

// handleAvailability maps device availability to ready or lost.
func (d *Dispatcher) handleAvailability(name string, payload []byte) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	online, err := parseOnline(payload)
	if err != nil {
		return fmt.Errorf("availability of %s: %w", name, err)
	}

	dev := d.deviceByName(name)
	if dev == nil {
		d.logDebug("availability for unknown device", "name", name)
		return nil
	}

	status := platform.StatusLost
	if online {
		status = platform.StatusReady
	}
	dev.platform.QueueStatus(status)
	return nil
}

// handleBridgeState raises alert on every platform while zigbee2mqtt is
// offline and restores ready once it is back.
func (d *Dispatcher) handleBridgeState(payload []byte) error {
	online, err := parseOnline(payload)
	if err != nil {
		return fmt.Errorf("bridge state: %w", err)
	}
	d.logInfo("zigbee2mqtt bridge state changed", "online", online)

	for _, dev := range d.deviceList() {
		if !dev.setAlerted(!online) {
			continue
		}
		if online {
			dev.platform.QueueStatus(platform.StatusReady)
		} else {
			dev.platform.QueueStatus(platform.StatusAlert)
		}
	}
	return nil
}

// parseOnline accepts "online"/"offline" as plain text or as
// {"state":"online"}.
func parseOnline(payload []byte) (bool, error) {
	s := strings.TrimSpace(string(payload))
	if strings.HasPrefix(s, "{") {
		var v struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return false, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		s = v.State
	}

	switch strings.ToLower(s) {
	case "online":
		return true, nil
	case "offline":
		return false, nil
	default:
		return false, fmt.Errorf("%w: state %q", ErrMalformedPayload, s)
	}
}

// forwardSet publishes a platform set command to the gateway. It runs on
// the platform's event loop.
func (d *Dispatcher) forwardSet(dev *device, gp *gatewayProperty, value string) {
	topic := d.topics.DeviceSet(dev.friendlyName(), gp.Key)
	payload := gp.toGateway(value)

	if err := d.gateway.Publish(topic, []byte(payload), gatewayQoS, false); err != nil {
		d.logError("failed to forward set command", err, "topic", topic)
		return
	}
	d.logDebug("set command forwarded", "topic", topic, "value", payload)
}

// =============================================================================
// Supervisor
// =============================================================================

// supervise restarts failed sessions. It runs while the platform holds its
// lock, so restarts are scheduled on a timer.
func (d *Dispatcher) supervise(dev *device, e platform.Event) {
	switch e.Type {
	case platform.EventConnected:
		dev.backoff.Reset()
		dev.stopRetry()
	case platform.EventSessionFailed:
		d.scheduleRetry(dev, e.Err)
	}
}

func (d *Dispatcher) scheduleRetry(dev *device, cause error) {
	d.mu.RLock()
	stopping := d.stopping
	d.mu.RUnlock()
	if stopping {
		return
	}

	delay := dev.backoff.Next()

	dev.mu.Lock()
	if dev.retry != nil {
		dev.retry.Stop()
	}
	dev.retry = time.AfterFunc(delay, func() { d.restart(dev) })
	dev.mu.Unlock()

	d.logWarn("platform session failed, restart scheduled",
		"ieee", dev.ieee,
		"delay", delay,
		"attempt", dev.backoff.Attempts(),
		"error", cause)
}

func (d *Dispatcher) restart(dev *device) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopping {
		return
	}
	d.goLocked(func() { dev.platform.Init() })
}

// =============================================================================
// Helpers
// =============================================================================

// goLocked runs fn on a tracked goroutine. d.mu must be held, read or
// write, and stopping must be false, so that no goroutine is added once
// Stop has started waiting.
func (d *Dispatcher) goLocked(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

func (d *Dispatcher) deviceByName(name string) *device {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byName[name]
}

// deviceList returns a copy of all devices ordered by ieee address.
func (d *Dispatcher) deviceList() []*device {
	d.mu.RLock()
	out := make([]*device, 0, len(d.devices))
	for _, dev := range d.devices {
		out = append(out, dev)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ieee < out[j].ieee })
	return out
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	defer d.loggerMu.Unlock()
	d.logger = logger
}

func (d *Dispatcher) getLogger() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}

// logInfo logs an info message if logger is set.
func (d *Dispatcher) logInfo(msg string, keysAndValues ...any) {
	if logger := d.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (d *Dispatcher) logWarn(msg string, keysAndValues ...any) {
	if logger := d.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (d *Dispatcher) logError(msg string, err error, keysAndValues ...any) {
	if logger := d.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}

// logDebug logs a debug message if logger is set.
func (d *Dispatcher) logDebug(msg string, keysAndValues ...any) {
	if logger := d.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
