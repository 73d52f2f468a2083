// Package logger builds the zap loggers used by every binary.
package logger

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects encoding and verbosity.
type Config struct {
	Level    string // debug, info, warn, error; empty = info
	Encoding string // console or json; empty = console
	Output   io.Writer
}

var levels = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

// LevelFor maps the CLI verbosity flags to a level name. Quiet wins.
func LevelFor(verbose, quiet bool) string {
	switch {
	case quiet:
		return "error"
	case verbose:
		return "debug"
	default:
		return "info"
	}
}

// New returns a logger writing to cfg.Output (stderr by default).
func New(cfg Config) *zap.Logger {
	level, ok := levels[strings.ToLower(cfg.Level)]
	if !ok {
		level = zapcore.InfoLevel
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Encoding, "json") {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(out), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

// FromEnv builds a logger from LOG_LEVEL and LOG_FORMAT, for the auxiliary
// binaries that have no flags.
func FromEnv() *zap.Logger {
	return New(Config{
		Level:    os.Getenv("LOG_LEVEL"),
		Encoding: os.Getenv("LOG_FORMAT"),
	})
}
