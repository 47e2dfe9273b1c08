package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the application-wide sugared logger.
type Logger = zap.SugaredLogger

func NewLogger() *Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	base, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return base.Sugar()
}

func NewDevLogger() *Logger {
	base, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return base.Sugar()
}

func NewNopLogger() *Logger {
	return zap.NewNop().Sugar()
}
