// Package logging provides structured logging for PumpLink using log/slog.
//
// # Architecture
//
// The package wraps the standard library's slog with PumpLink defaults:
//
//   - JSON output for production (machine-parseable, ships to log collectors)
//   - Text output for development (human-readable)
//   - Default fields on every record: service name and version
//   - Level filtering configured through config.yaml
//
// # Usage
//
// Create a logger from configuration at startup:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("starting", "port", cfg.API.Port)
//
// Derive component loggers with With:
//
//	routerLog := logger.With("component", "router")
//
// Before configuration is available, use Default():
//
//	logger := logging.Default()
//
// # Security Considerations
//
// Log records may describe infusion commands and device state. Callers must
// not log credentials, JWT tokens, or patient identifiers beyond the opaque
// patient ID already present in telemetry.
package logging
