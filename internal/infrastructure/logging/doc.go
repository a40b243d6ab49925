// Package logging provides structured logging for growrack-core.
//
// This package wraps go.uber.org/zap to provide consistent, structured
// key/value logging across the engine, transports and API.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, or a file path
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("rule fired", "rack_id", "rack-1", "rule_id", id)
//	defer logger.Sync()
//
// Never log secrets, tokens or passwords.
package logging
