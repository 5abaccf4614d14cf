// Package log builds the zap loggers used by the sender and receiver daemons.
package log

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/spacemeshos/go-bdsync/config"
	"github.com/spacemeshos/go-bdsync/filesystem"
)

// where logs go by default.
var logWriter io.Writer = os.Stdout

// New creates the root logger described by cfg.
// When cfg.File is set the output goes to a size rotated file instead of stdout.
func New(name string, cfg config.LoggerConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	encoder, err := newEncoder(cfg.Encoder)
	if err != nil {
		return nil, err
	}
	return zap.New(zapcore.NewCore(encoder, newSyncer(cfg), level)).Named(name), nil
}

func newEncoder(kind config.LogEncoder) (zapcore.Encoder, error) {
	switch kind {
	case config.ConsoleLogEncoder, "":
		return zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), nil
	case config.JSONLogEncoder:
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), nil
	}
	return nil, fmt.Errorf("unknown log encoder %q", kind)
}

func newSyncer(cfg config.LoggerConfig) zapcore.WriteSyncer {
	if cfg.File == "" {
		return zapcore.AddSync(logWriter)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filesystem.CanonicalPath(cfg.File),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
}
