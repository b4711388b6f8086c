package logger

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var current atomic.Pointer[zap.Logger]

// Init builds the global logger for env. Production logs JSON to stdout,
// anything else logs coloured console output.
func Init(env string) {
	var cfg zap.Config

	if env == "production" {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "json"
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.MessageKey = "message"
		cfg.EncoderConfig.LevelKey = "level"
		cfg.EncoderConfig.CallerKey = "caller"
		cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.OutputPaths = []string{"stdout"}
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	built, err := cfg.Build(zap.AddCaller())
	if err != nil {
		panic(err)
	}
	current.Store(built.With(zap.String("service", "urembo-be")))
}

// L returns the global logger, initialising it from APP_ENV on first use.
func L() *zap.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	Init(os.Getenv("APP_ENV"))
	return current.Load()
}

// Replace swaps the global logger and returns a restore func. Tests use it
// with zaptest/observer.
func Replace(l *zap.Logger) func() {
	prev := current.Swap(l)
	return func() { current.Store(prev) }
}

// Sync flushes logs.
func Sync() {
	if l := current.Load(); l != nil {
		_ = l.Sync()
	}
}
