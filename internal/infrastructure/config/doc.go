// Package config handles loading and validating the zigbee bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with ZBRIDGE_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords, the InfluxDB token and the API JWT secret should be
//     set via environment variables
//   - The config file should have restricted permissions (0600)
//   - ZBRIDGE_PRODUCTION=true disables automatic re-pairing when the platform
//     rejects a stored apiKey
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Platform.Realm)
package config
