// Package logging builds the slog logger shared by every ChatLink component.
//
// Entries carry service and version attributes. Components add their own
// with With:
//
//	logger := logging.New(cfg.Logging, version)
//	linkLogger := logger.With("component", "link")
//	linkLogger.Info("connected", "channel", channel)
//
// The console reads and writes stdout, so logs go to stderr unless
// logging.output is "stdout". Format is "text" or "json"; level is one of
// debug, info, warn or error.
//
// Broker passwords, InfluxDB tokens and JWT secrets must never be logged.
package logging
