// Package logging builds the process-wide zap logger.
package logging

import "go.uber.org/zap"

var global *zap.Logger

// Init builds a production zap logger (JSON, info level) and stores it as
// the process-wide default.
func Init() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	global = logger
	return logger, nil
}

// Get returns the global logger, falling back to a development logger if
// Init was never called (e.g. in unit tests).
func Get() *zap.Logger {
	if global == nil {
		global, _ = zap.NewDevelopment()
	}
	return global
}

// Sync flushes any buffered log entries. Call on shutdown.
func Sync() {
	if global != nil {
		_ = global.Sync()
	}
}
