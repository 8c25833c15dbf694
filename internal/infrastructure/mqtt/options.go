package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/founek2/IOT-Platforma-zigbee/internal/infrastructure/config"
	"github.com/founek2/IOT-Platforma-zigbee/internal/platform"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for the gateway connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// gatewayKeepAlive is the keepalive interval for the gateway connection.
	gatewayKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// clientIDSuffixLen is how many characters of a uuid are appended to
	// session client ids.
	clientIDSuffixLen = 8
)

// brokerURL formats a paho broker address.
func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// buildGatewayOptions creates paho options for the zigbee2mqtt broker.
//
// The gateway connection is long-lived: paho reconnects on its own with
// exponential backoff and Client restores subscriptions afterwards.
func buildGatewayOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(gatewayKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// buildSessionOptions creates paho options for one platform session.
//
// Sessions never reconnect by themselves. A dropped session is reported
// through so.OnError and the owning Platform decides what to do, so that
// a changed identity is always dialled fresh. The last will is declared
// on every session.
func buildSessionOptions(cfg config.PlatformConfig, so platform.SessionOptions) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(sessionClientID(so.ClientID))
	opts.SetUsername(so.Username)
	opts.SetPassword(so.Password)
	opts.SetWill(so.Will.Topic, so.Will.Payload, so.Will.QoS, so.Will.Retained)

	keepAlive := so.KeepAlive
	if keepAlive <= 0 {
		keepAlive = time.Duration(cfg.KeepAlive) * time.Second
	}
	opts.SetKeepAlive(keepAlive)

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(cfg.GetConnectTimeout())

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// sessionClientID makes the broker client id unique per dial. Brokers kick
// the older connection on a client id clash, which would otherwise let a
// late guest session tear down its authenticated replacement.
func sessionClientID(base string) string {
	return base + "-" + uuid.NewString()[:clientIDSuffixLen]
}
