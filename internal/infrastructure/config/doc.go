// Package config handles loading and validating fleetwatch configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with FLEETWATCH_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (broker password, InfluxDB token, JWT secret) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
