// Package logger defines the structured logging surface used across the
// payment engine. Production deployments wire the zap implementation;
// everything defaults to the noop logger so the library stays quiet unless
// asked not to be.
package logger

// Logger is the minimal structured logging interface the engine needs.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

type noopLogger struct{}

// NewNoop returns a logger that discards everything.
func NewNoop() Logger { return noopLogger{} }

func (noopLogger) Debug(string, map[string]any) {}
func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Warn(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}
