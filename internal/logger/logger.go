package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerOptions struct {
	Key  string
	Data interface{}
}

// Logger is the process-wide structured logger. It discards everything until Init is called.
var Logger = zap.NewNop()

// Init replaces Logger with one writing at the given level. format is "json" or "console".
func Init(level, format string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	Logger = l
	return nil
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Logger.Sync()
}

func fields(payload []LoggerOptions) []zapcore.Field {
	zapFields := make([]zapcore.Field, 0, len(payload))
	for _, data := range payload {
		zapFields = append(zapFields, zap.Any(data.Key, data.Data))
	}
	return zapFields
}

// This logs debug level messages.
func Debug(msg string, payload ...LoggerOptions) {
	Logger.Debug(msg, fields(payload)...)
}

// This logs info level messages.
func Info(msg string, payload ...LoggerOptions) {
	Logger.Info(msg, fields(payload)...)
}

// This logs warning messages.
func Warning(msg string, payload ...LoggerOptions) {
	Logger.Warn(msg, fields(payload)...)
}

// This logs error messages.
// describe the incident in msg and pass the error through logger options
// with key error
func Error(msg string, payload ...LoggerOptions) {
	Logger.Error(msg, fields(payload)...)
}
