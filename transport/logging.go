package transport

import "go.uber.org/zap"

// Logger provides printf-style debug logging hooks.
type Logger interface {
	Debugf(format string, args ...any)
}

// StructuredLogger emits key/value pairs for structured logging backends.
type StructuredLogger interface {
	Debugw(msg string, keyvals ...any)
}

// ZapLogger adapts a zap.SugaredLogger to both Logger and
// StructuredLogger; production Transports supply one via Config rather
// than relying on a package-level logger.
type ZapLogger struct {
	S *zap.SugaredLogger
}

var (
	_ Logger           = ZapLogger{}
	_ StructuredLogger = ZapLogger{}
)

func (l ZapLogger) Debugf(format string, args ...any) {
	if l.S == nil {
		return
	}
	l.S.Debugf(format, args...)
}

func (l ZapLogger) Debugw(msg string, keyvals ...any) {
	if l.S == nil {
		return
	}
	l.S.Debugw(msg, keyvals...)
}

func (t *Transport) logDebugw(msg string, keyvals ...any) {
	if t == nil {
		return
	}
	if t.structuredLogger != nil {
		t.structuredLogger.Debugw(msg, keyvals...)
		return
	}
	if t.logger != nil {
		t.logger.Debugf("%s %v", msg, keyvals)
	}
}
