// Package config handles loading and validating bridged configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with BRIDGED_* environment variables
//   - Per-peer defaults and validation
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, p := range cfg.Peers {
//	    fmt.Println(p.Name, p.Endpoint)
//	}
package config
