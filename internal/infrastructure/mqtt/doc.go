// Package mqtt provides the two broker connections of the zigbee bridge.
//
// # Gateway client
//
// Client is a long-lived connection to the broker zigbee2mqtt publishes on.
// It reconnects automatically and restores its subscriptions.
//
//	client, err := mqtt.Connect(cfg.Gateway.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.GatewayTopics{Base: cfg.Gateway.BaseTopic}
//	err = client.Subscribe(topics.All(), 1, handler)
//
// # Platform sessions
//
// SessionDialer opens one short-lived session per virtual device on the IoT
// platform broker. Sessions declare the device's last will, never reconnect
// on their own and report a refused identity as platform.ErrBadCredentials.
//
//	dialer := mqtt.NewSessionDialer(cfg.Platform, logger)
//	sess, err := dialer.Dial(opts)
//
// # Security Considerations
//
//   - Set broker.tls for both brokers in production.
//   - Session passwords (realm or apiKey) are never logged by this package.
package mqtt
