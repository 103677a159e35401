// Package config handles loading and validating locshare daemon configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with LOCSHARE_* environment variables
//   - Validation of required fields
//   - Default value handling (probe cadence, proximity radii, reporter limits)
//
// Security Considerations:
//   - The session token should be set via LOCSHARE_SESSION_TOKEN, not the file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Proximity.DefaultRadius)
package config
