// Package logging builds the binary's zap logger and the slog bridge the
// library packages log through.
package logging

import (
	"fmt"
	"log/slog"

	"github.com/labstack/gommon/log"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// Logger pairs a zap logger with its slog front end. Its level can be
// changed while running.
type Logger struct {
	Zap   *zap.Logger
	Slog  *slog.Logger
	level zap.AtomicLevel
}

// New builds a logger writing to stdout. format is "json" or "console".
func New(level, format string) (*Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	atom := zap.NewAtomicLevelAt(lvl)
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	encoding := "json"
	if format == "console" {
		encoding = "console"
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	cfg := zap.Config{
		Encoding:         encoding,
		Level:            atom,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    encCfg,
	}

	z, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build: %w", err)
	}

	return &Logger{
		Zap:   z,
		Slog:  slog.New(zapslog.NewHandler(z.Core(), zapslog.WithCaller(true))),
		level: atom,
	}, nil
}

// SetLevel changes the level of both front ends.
func (l *Logger) SetLevel(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	l.level.SetLevel(lvl)
	return nil
}

// Level returns the current level name.
func (l *Logger) Level() string { return l.level.Level().String() }

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.Zap.Sync() }

// ParseLevel accepts debug, info, warn and error.
func ParseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zap.DebugLevel, nil
	case "info", "":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("logging: unknown level %q", level)
	}
}

// EchoLevel maps a level name onto echo's gommon logger levels.
func EchoLevel(level string) log.Lvl {
	switch level {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}
