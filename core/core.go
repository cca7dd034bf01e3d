package core

import "github.com/hupe1980/vaagent/logging"

// loggerAdapter wraps a logging.Logger, prefixes every entry with a fixed
// set of key/value fields and exposes LogDebug/LogInfo/LogWarn/LogError.
// A nil logger is replaced with a NoOpLogger.
type loggerAdapter struct {
	logger logging.Logger
	fields []any
}

func newLoggerAdapter(l logging.Logger, fields ...any) *loggerAdapter {
	if l == nil {
		l = logging.NoOpLogger{}
	}
	return &loggerAdapter{logger: l, fields: fields}
}

// with returns a copy carrying additional fields.
func (l *loggerAdapter) with(fields ...any) *loggerAdapter {
	merged := make([]any, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &loggerAdapter{logger: l.logger, fields: merged}
}

func (l *loggerAdapter) args(args []any) []any {
	if len(l.fields) == 0 {
		return args
	}
	out := make([]any, 0, len(l.fields)+len(args))
	out = append(out, l.fields...)
	return append(out, args...)
}

// Logger returns the underlying logger.
func (l *loggerAdapter) Logger() logging.Logger {
	return l.logger
}

// LogDebug logs a debug message.
func (l *loggerAdapter) LogDebug(msg string, args ...any) {
	l.logger.Debug(msg, l.args(args)...)
}

// LogInfo logs an info message.
func (l *loggerAdapter) LogInfo(msg string, args ...any) {
	l.logger.Info(msg, l.args(args)...)
}

// LogWarn logs a warning message.
func (l *loggerAdapter) LogWarn(msg string, args ...any) {
	l.logger.Warn(msg, l.args(args)...)
}

// LogError logs an error message.
func (l *loggerAdapter) LogError(msg string, args ...any) {
	l.logger.Error(msg, l.args(args)...)
}
