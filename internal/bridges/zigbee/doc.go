// Package zigbee exposes zigbee2mqtt devices as IoT platform devices.
//
// The Dispatcher subscribes to the zigbee2mqtt base topic on the gateway
// broker. Every device in the bridge/devices roster gets its own
// platform.Platform with one generic node whose properties are derived from
// the device exposes. From then on:
//
//   - <base>/<friendly_name> telemetry is forwarded to the matching properties
//   - platform set commands are published to <base>/<friendly_name>/set/<property>
//   - device availability maps to ready or lost
//   - an offline zigbee2mqtt bridge raises alert on every device
//
// A platform whose session fails is restarted with exponential backoff.
//
// # Usage
//
//	d, err := zigbee.New(zigbee.Options{
//	    Gateway:     gatewayClient,
//	    Realm:       cfg.Platform.Realm,
//	    NewPlatform: newPlatform,
//	    Logger:      log,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := d.Start(ctx); err != nil {
//	    return err
//	}
//	defer d.Stop()
package zigbee
