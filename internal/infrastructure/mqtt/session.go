package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/founek2/IOT-Platforma-zigbee/internal/infrastructure/config"
	"github.com/founek2/IOT-Platforma-zigbee/internal/platform"
)

// SessionDialer opens platform sessions against the IoT platform broker.
//
// Its Dial method satisfies platform.SessionFactory:
//
//	dialer := mqtt.NewSessionDialer(cfg.Platform, logger)
//	p, err := platform.New(platform.Options{Factory: dialer.Dial, ...})
type SessionDialer struct {
	cfg    config.PlatformConfig
	logger Logger

	// newClient is swapped in tests.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client
}

// NewSessionDialer creates a dialer for the platform broker in cfg.
// logger may be nil.
func NewSessionDialer(cfg config.PlatformConfig, logger Logger) *SessionDialer {
	return &SessionDialer{
		cfg:       cfg,
		logger:    logger,
		newClient: pahomqtt.NewClient,
	}
}

// Dial connects one session and waits for the CONNACK.
//
// A refused username or password (CONNACK 4) or a refused authorisation
// (CONNACK 5) is returned wrapped in platform.ErrBadCredentials so the
// Platform can tell a revoked apiKey from an unreachable broker.
//
// Parameters:
//   - so: Identity, will and keepalive chosen by the Platform
//
// Returns:
//   - platform.Session: Connected session
//   - error: ErrConnectionFailed or platform.ErrBadCredentials, wrapped
func (d *SessionDialer) Dial(so platform.SessionOptions) (platform.Session, error) {
	opts := buildSessionOptions(d.cfg, so)

	s := &Session{logger: d.logger, onError: so.OnError}
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.connectionLost(err)
	})

	s.client = d.newClient(opts)

	timeout := d.cfg.GetConnectTimeout()
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	token := s.client.Connect()
	if !token.WaitTimeout(timeout) {
		s.client.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, timeout)
	}
	if err := connectError(token); err != nil {
		return nil, err
	}
	return s, nil
}

// connectError classifies the result of a connect token.
func connectError(token pahomqtt.Token) error {
	err := token.Error()
	if err == nil {
		return nil
	}

	if ct, ok := token.(*pahomqtt.ConnectToken); ok {
		switch ct.ReturnCode() {
		case packets.ErrRefusedBadUsernameOrPassword, packets.ErrRefusedNotAuthorised:
			return fmt.Errorf("%w: %w", platform.ErrBadCredentials, err)
		}
	}
	if errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) || errors.Is(err, packets.ErrorRefusedNotAuthorised) {
		return fmt.Errorf("%w: %w", platform.ErrBadCredentials, err)
	}
	return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
}

// Session is one platform broker connection. It implements platform.Session.
type Session struct {
	client  pahomqtt.Client
	logger  Logger
	onError func(error)

	ended   atomic.Bool
	endOnce sync.Once
}

// Publish sends payload and waits for the broker acknowledgement.
func (s *Session) Publish(topic, payload string, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if s.ended.Load() {
		return ErrSessionEnded
	}

	token := s.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrPublishFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// Subscribe registers h for topic. Deliveries arrive on paho's router
// goroutine in broker order.
func (s *Session) Subscribe(topic string, qos byte, h platform.Handler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if h == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if s.ended.Load() {
		return ErrSessionEnded
	}

	token := s.client.Subscribe(topic, qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil && s.logger != nil {
				s.logger.Error("platform session handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		h(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrSubscribeFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// Connected reports whether the session is open and has not been ended.
func (s *Session) Connected() bool {
	return !s.ended.Load() && s.client.IsConnectionOpen()
}

// End disconnects gracefully, so the broker discards the last will.
// Later calls do nothing.
func (s *Session) End() {
	s.endOnce.Do(func() {
		s.ended.Store(true)
		if s.client.IsConnected() {
			s.client.Disconnect(defaultDisconnectQuiesce)
		}
	})
}

// connectionLost forwards an unexpected drop to the owning Platform.
func (s *Session) connectionLost(err error) {
	if s.ended.Load() {
		return
	}
	if s.logger != nil {
		s.logger.Warn("platform session lost", "error", err)
	}
	if s.onError != nil {
		s.onError(fmt.Errorf("%w: %w", ErrConnectionLost, err))
	}
}
