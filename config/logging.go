package config

import "go.uber.org/zap/zapcore"

// LogEncoder defines a log encoder kind.
type LogEncoder = string

const (
	defaultLoggingLevel = zapcore.InfoLevel
	// ConsoleLogEncoder represents logging with plain text.
	ConsoleLogEncoder LogEncoder = "console"
	// JSONLogEncoder represents logging with JSON.
	JSONLogEncoder LogEncoder = "json"
)

// LoggerConfig configures the root logger of a daemon.
type LoggerConfig struct {
	Level   string     `mapstructure:"level"`
	Encoder LogEncoder `mapstructure:"encoder"`

	// File enables a size rotated log file instead of stdout.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max-size-mb"`
	MaxBackups int    `mapstructure:"max-backups"`
	MaxAgeDays int    `mapstructure:"max-age-days"`
	Compress   bool   `mapstructure:"compress"`
}

func defaultLoggingConfig() LoggerConfig {
	return LoggerConfig{
		Level:      defaultLoggingLevel.String(),
		Encoder:    ConsoleLogEncoder,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 28,
	}
}
