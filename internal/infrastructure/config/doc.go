// Package config handles loading and validating ChatLink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with CHATLINK_* environment variables
//   - Generating a client identifier when none is configured
//   - Validation of required fields
//
// Security Considerations:
//   - Broker passwords, the InfluxDB token and the JWT secret should be set
//     via environment variables
//   - A configured JWT secret must be at least 32 characters
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Chat.Channel)
package config
