// Package config contains the sender and receiver configuration definitions.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/spacemeshos/go-bdsync/decoder"
	"github.com/spacemeshos/go-bdsync/idcache"
	"github.com/spacemeshos/go-bdsync/scheduler"
)

const (
	DefaultStream = 1
	DefaultPort   = 5000
)

// Config is the top level configuration shared by bdsend and bdrecv.
type Config struct {
	ConfigFile string `mapstructure:"config"`
	Preset     string `mapstructure:"preset"`

	Logging  LoggerConfig   `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Sender   SenderConfig   `mapstructure:"sender"`
	Receiver ReceiverConfig `mapstructure:"receiver"`
}

type MetricsConfig struct {
	// Listen enables the prometheus endpoint, for example ":9090".
	Listen     string        `mapstructure:"listen"`
	PushURL    string        `mapstructure:"push-url"`
	PushPeriod time.Duration `mapstructure:"push-period"`
}

type SenderConfig struct {
	// File is the image to distribute.
	File string `mapstructure:"file"`
	// Stream tags every datagram so several images can share a network.
	Stream uint16 `mapstructure:"stream"`
	// ImageSize is the declared size; longer images are truncated.
	ImageSize int `mapstructure:"image-size"`
	// StatePrefix is the path prefix of the snapshot, stamp and lock files.
	StatePrefix  string   `mapstructure:"state-prefix"`
	Destinations []string `mapstructure:"destinations"`
	// MaxPacketRate caps datagrams per second. Zero disables the cap.
	MaxPacketRate float64 `mapstructure:"max-packet-rate"`

	Schedule scheduler.Config `mapstructure:"schedule"`
}

type ReceiverConfig struct {
	Listen    string `mapstructure:"listen"`
	Stream    uint16 `mapstructure:"stream"`
	ImageSize int    `mapstructure:"image-size"`
	// Storage selects the backend: mem, journal:<path>, flat:<path> or
	// leveldb:<dir>.
	Storage string `mapstructure:"storage"`
	// MediumSize is the size of the journal medium. Zero uses the smallest
	// size able to hold the image.
	MediumSize int64 `mapstructure:"medium-size"`
	// MinChangeID makes a flat store treat older content as blank.
	MinChangeID    uint32        `mapstructure:"min-change-id"`
	CacheLevels    int           `mapstructure:"cache-levels"`
	FlushInterval  int           `mapstructure:"flush-interval"`
	WakeMargin     time.Duration `mapstructure:"wake-margin"`
	ExitOnComplete bool          `mapstructure:"exit-on-complete"`
}

// DefaultConfig returns the default configuration for both daemons.
func DefaultConfig() Config {
	return Config{
		Logging: defaultLoggingConfig(),
		Metrics: MetricsConfig{PushPeriod: time.Minute},
		Sender: SenderConfig{
			Stream:       DefaultStream,
			Destinations: []string{fmt.Sprintf("255.255.255.255:%d", DefaultPort)},
			Schedule:     scheduler.DefaultConfig(),
		},
		Receiver: ReceiverConfig{
			Listen:        fmt.Sprintf(":%d", DefaultPort),
			Stream:        DefaultStream,
			Storage:       "mem",
			CacheLevels:   idcache.DefaultLevels,
			FlushInterval: idcache.DefaultFlushInterval,
			WakeMargin:    decoder.DefaultWakeMargin,
		},
	}
}

func (c *SenderConfig) Validate() error {
	switch {
	case c.File == "":
		return errors.New("sender file is not set")
	case c.ImageSize <= 0:
		return fmt.Errorf("sender image-size must be positive, got %d", c.ImageSize)
	case c.StatePrefix == "":
		return errors.New("sender state-prefix is not set")
	case len(c.Destinations) == 0:
		return errors.New("sender has no destination")
	}
	return c.Schedule.Validate()
}

func (c *ReceiverConfig) Validate() error {
	switch {
	case c.ImageSize <= 0:
		return fmt.Errorf("receiver image-size must be positive, got %d", c.ImageSize)
	case c.Listen == "":
		return errors.New("receiver listen address is not set")
	case c.CacheLevels <= 0:
		return fmt.Errorf("receiver cache-levels must be positive, got %d", c.CacheLevels)
	case c.WakeMargin < 0:
		return fmt.Errorf("receiver wake-margin must not be negative, got %v", c.WakeMargin)
	}
	return nil
}

// LoadConfig reads the config file at path into vip.
func LoadConfig(path string, vip *viper.Viper) error {
	vip.SetConfigFile(path)
	if err := vip.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	return nil
}

// Load decodes the file at path on top of cfg. An empty path leaves cfg
// untouched.
func Load(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	vip := viper.New()
	if err := LoadConfig(path, vip); err != nil {
		return err
	}
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	opts := []viper.DecoderConfigOption{
		viper.DecodeHook(hook),
		WithZeroFields(),
		WithIgnoreUntagged(),
		WithErrorUnused(),
	}
	if err := vip.Unmarshal(cfg, opts...); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// WithZeroFields makes lists in the file replace the defaults instead of
// overwriting them element by element.
func WithZeroFields() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.ZeroFields = true
	}
}

func WithIgnoreUntagged() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.IgnoreUntaggedFields = true
	}
}

// WithErrorUnused rejects keys that do not map to a field.
func WithErrorUnused() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.ErrorUnused = true
	}
}
