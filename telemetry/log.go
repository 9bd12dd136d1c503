// Package telemetry is the engine's ambient logging and metrics surface.
// Nothing in here carries detection semantics; it is pure observability
// for the engine's own operation.
package telemetry

import "go.uber.org/zap"

// Logger wraps zap with the engine's debug-gating convention: transport
// and probe failures are logged at debug level only and never surface
// otherwise.
type Logger struct {
	z     *zap.Logger
	debug bool
}

// New builds a Logger. debug enables debug-level diagnostic traces per the
// engine's "debug" configuration field; production builds should pass false
// so ProbeFailure/TransportFailure/StorageFailure never reach stderr.
func New(debug bool) *Logger {
	var z *zap.Logger
	if debug {
		z, _ = zap.NewDevelopment()
	} else {
		z, _ = zap.NewProduction()
	}
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z, debug: debug}
}

// Nop returns a Logger that discards everything; used as the zero-value
// fallback so components never need a nil check.
func Nop() *Logger {
	return &Logger{z: zap.NewNop()}
}

// Debug emits a diagnostic trace, only when debug mode is enabled.
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	if l == nil || !l.debug {
		return
	}
	l.z.Debug(msg, fields...)
}

// Warn emits a warning unconditionally (e.g. ConfigurationOmission).
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.z.Warn(msg, fields...)
}

// Info emits an informational message unconditionally (lifecycle events:
// init, shutdown, attach).
func (l *Logger) Info(msg string, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.z.Info(msg, fields...)
}

// Sync flushes the underlying zap core.
func (l *Logger) Sync() {
	if l == nil {
		return
	}
	_ = l.z.Sync()
}
