// Package logging owns the process-wide zap logger.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var defaultLogger *zap.Logger

// Options controls how InitLogger builds the logger.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Console selects the human-readable encoder instead of JSON.
	Console bool
}

// OptionsFromEnv reads LOG_LEVEL and LOG_FORMAT (json|console).
func OptionsFromEnv() Options {
	return Options{
		Level:   os.Getenv("LOG_LEVEL"),
		Console: strings.EqualFold(os.Getenv("LOG_FORMAT"), "console"),
	}
}

// InitLogger initializes the default logger from the environment.
func InitLogger() error {
	logger, err := Build(OptionsFromEnv())
	if err != nil {
		return err
	}
	defaultLogger = logger
	zap.ReplaceGlobals(defaultLogger)
	return nil
}

// Build creates a logger writing to stderr. Stdout carries prompts and the
// instance endpoint only.
func Build(opts Options) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if opts.Console {
		config.Encoding = "console"
		config.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, err
		}
	}
	config.Level = zap.NewAtomicLevelAt(level)

	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.MessageKey = "message"

	return config.Build()
}

// Logger returns the default logger instance
func Logger() *zap.Logger {
	if defaultLogger == nil {
		logger, err := Build(Options{})
		if err != nil {
			logger = zap.NewNop()
		}
		defaultLogger = logger
	}
	return defaultLogger
}

// SetLogger replaces the default logger, mostly for tests.
func SetLogger(l *zap.Logger) {
	defaultLogger = l
}

// Sync flushes any buffered log entries
func Sync() error {
	if defaultLogger != nil {
		// Sync on stderr fails with EINVAL on Linux; callers may ignore it.
		return defaultLogger.Sync()
	}
	return nil
}
