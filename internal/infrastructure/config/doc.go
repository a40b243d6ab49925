// Package config handles loading and validating growrack-core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading optional .env files (never overriding the real environment)
//   - Overriding with GROWRACK_* environment variables
//   - Validation of required fields and engine tuning values
//
// Sensitive values (MQTT password, Redis password, Influx token, JWT secret)
// should be supplied through the environment rather than the YAML file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Automation.DispatchPolicy)
package config
