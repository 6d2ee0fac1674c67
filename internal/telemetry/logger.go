// Package telemetry provides the structured logger and graceful-shutdown
// coordinator shared by the RT and Non-RT processes.
package telemetry

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process-wide zap logger. It is constructed once in
// main() and threaded down to every component via its Named child logger;
// nothing in this repository reaches for a package-level global.
func NewLogger(component string, level zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(cfg),
		zapcore.Lock(os.Stdout),
		level,
	)

	return zap.New(core, zap.AddCaller()).Named(component)
}

// NewDevelopmentLogger builds a human-readable console logger. Nothing in
// this repository calls it; both commands build their logger with NewLogger.
func NewDevelopmentLogger(component string) *zap.Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		l = zap.NewNop()
	}
	return l.Named(component)
}
