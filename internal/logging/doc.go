// Package logging provides structured logging for the orchestrator.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation support for debugging and post-hoc analysis of the
// message plane: routing decisions, container lifecycle transitions, and
// event-bus activity.
//
// # Features
//
//   - JSON-formatted structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - Context propagation (agent id, mail id, component)
//   - Log rotation with configurable size limits
//   - Optional gzip compression for rotated logs
//   - Log aggregation and filtering utilities
//   - Export to JSON, text, or CSV formats
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. The [Logger] type
// uses Go's slog internally, which is designed for concurrent access. The
// [RotatingWriter] type uses a mutex to protect file operations during
// rotation. Child loggers created via With* methods share the underlying
// writer safely.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Debug("detailed info", "key", "value")
//	logger.Info("operation completed", "duration_ms", 150)
//	logger.Warn("potential issue", "threshold", 100)
//	logger.Error("operation failed", "error", err.Error())
//
// # Context Propagation
//
//	agentLogger := logger.WithAgentID("bee-7")
//	routerLogger := agentLogger.WithComponent("router")
//	routerLogger.Info("mail routed", "mail_id", m.ID)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"mail routed","agent_id":"bee-7","component":"router","mail_id":"..."}
//
// # Log Rotation
//
//	config := logging.RotationConfig{MaxSizeMB: 10, MaxBackups: 3, Compress: true}
//	logger, err := logging.NewLoggerWithRotation("/path/to/logs", "INFO", config)
//
// Rotated files are named orchestrator.log.1, orchestrator.log.2, etc.,
// where .1 is the most recent backup; with compression, .1.gz and so on.
//
// # Testing
//
//	func TestSomething(t *testing.T) {
//	    logger := logging.NopLogger()
//	}
//
// # Log Aggregation and Filtering
//
//	entries, err := logging.AggregateLogs("/path/to/logs")
//	filter := logging.LogFilter{Level: "WARN", AgentID: "bee-7", StartTime: time.Now().Add(-time.Hour)}
//	filtered := logging.FilterLogs(entries, filter)
//	logging.ExportLogEntries(filtered, "errors.json", "json")
package logging
