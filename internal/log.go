package internal

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevelFromEnv maps LOG_LEVEL (ERROR, WARN, INFO, DEBUG, TRACE) to a zap
// level. TRACE is folded into debug.
func LogLevelFromEnv() zapcore.Level {
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "ERROR":
		return zapcore.ErrorLevel
	case "WARN":
		return zapcore.WarnLevel
	case "DEBUG", "TRACE":
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger builds the process logger. verbose forces debug regardless of
// LOG_LEVEL; LOG_FORMAT=console switches to the human readable encoder.
func NewLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		config = zap.NewDevelopmentConfig()
	}
	level := LogLevelFromEnv()
	if verbose {
		level = zapcore.DebugLevel
	}
	config.Level = zap.NewAtomicLevelAt(level)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
