package logger

import "go.uber.org/zap"

// CustomLogger is a component-scoped sugared logger.
type CustomLogger struct {
	sugaredZapLogger *zap.SugaredLogger
}

func NewCustomLogger() *CustomLogger {
	return &CustomLogger{
		sugaredZapLogger: SugaredZapLogger,
	}
}

// NewComponentLogger is shorthand for NewCustomLogger().With("component", name).
func NewComponentLogger(name string) *CustomLogger {
	return NewCustomLogger().With("component", name)
}

// NewNopLogger discards everything.
func NewNopLogger() *CustomLogger {
	return &CustomLogger{sugaredZapLogger: zap.NewNop().Sugar()}
}

func (l *CustomLogger) With(args ...interface{}) *CustomLogger {
	return &CustomLogger{sugaredZapLogger: l.sugaredZapLogger.With(args...)}
}

func (l *CustomLogger) Debugw(msg string, keysAndValues ...interface{}) {
	l.sugaredZapLogger.Debugw(msg, keysAndValues...)
}

func (l *CustomLogger) Infow(msg string, keysAndValues ...interface{}) {
	l.sugaredZapLogger.Infow(msg, keysAndValues...)
}

func (l *CustomLogger) Warnw(msg string, keysAndValues ...interface{}) {
	l.sugaredZapLogger.Warnw(msg, keysAndValues...)
}

func (l *CustomLogger) Errorw(msg string, keysAndValues ...interface{}) {
	l.sugaredZapLogger.Errorw(msg, keysAndValues...)
}

func (l *CustomLogger) Debugf(template string, args ...interface{}) {
	l.sugaredZapLogger.Debugf(template, args...)
}

func (l *CustomLogger) Infof(template string, args ...interface{}) {
	l.sugaredZapLogger.Infof(template, args...)
}

func (l *CustomLogger) Warnf(template string, args ...interface{}) {
	l.sugaredZapLogger.Warnf(template, args...)
}

func (l *CustomLogger) Errorf(template string, args ...interface{}) {
	l.sugaredZapLogger.Errorf(template, args...)
}
