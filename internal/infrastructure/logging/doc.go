// Package logging provides structured logging for the locshare daemon.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output, or colourised "pretty" output via tint, for development
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text, pretty
//	  output: "stdout"   # stdout, stderr
//
// # Security
//
// Never log session tokens. Log the user id and token expiry instead.
package logging
