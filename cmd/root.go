package cmd

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/spacemeshos/go-bdsync/config"
	"github.com/spacemeshos/go-bdsync/config/presets"
)

// AddFlags adds the flags shared by every daemon.
func AddFlags(flagSet *pflag.FlagSet, cfg *config.Config) {
	flagSet.StringVarP(&cfg.ConfigFile, "config", "c", cfg.ConfigFile,
		"load configuration from file")
	flagSet.StringVarP(&cfg.Preset, "preset", "p", cfg.Preset,
		fmt.Sprintf("preset overwrites default values of the config. options %+s", presets.Options()))

	/** ======================== Logging Flags ========================== **/
	flagSet.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level,
		"minimal level of logged messages")
	flagSet.StringVar(&cfg.Logging.Encoder, "log-encoder", cfg.Logging.Encoder,
		"log as json or as plain text (console)")
	flagSet.StringVar(&cfg.Logging.File, "log-file", cfg.Logging.File,
		"write logs to a rotated file instead of stdout")

	/** ======================== Metrics Flags ========================== **/
	flagSet.StringVar(&cfg.Metrics.Listen, "metrics", cfg.Metrics.Listen,
		"serve prometheus metrics on this address")
	flagSet.StringVar(&cfg.Metrics.PushURL, "metrics-push", cfg.Metrics.PushURL,
		"push metrics to this pushgateway url")
	flagSet.DurationVar(&cfg.Metrics.PushPeriod, "metrics-push-period", cfg.Metrics.PushPeriod,
		"period between two metric pushes")
}

// AddSenderFlags adds the flags of bdsend.
func AddSenderFlags(flagSet *pflag.FlagSet, cfg *config.SenderConfig) {
	flagSet.StringVarP(&cfg.File, "file", "f", cfg.File,
		"image to distribute")
	flagSet.Uint16Var(&cfg.Stream, "stream", cfg.Stream,
		"stream id tagging every datagram")
	flagSet.IntVar(&cfg.ImageSize, "image-size", cfg.ImageSize,
		"declared image size in bytes, longer images are truncated")
	flagSet.StringVar(&cfg.StatePrefix, "state-prefix", cfg.StatePrefix,
		"path prefix of the snapshot, stamp and lock files")
	flagSet.StringSliceVar(&cfg.Destinations, "dest", cfg.Destinations,
		"broadcast destinations as host:port, comma separated")
	flagSet.Float64Var(&cfg.MaxPacketRate, "max-packet-rate", cfg.MaxPacketRate,
		"hard cap on datagrams per second, 0 disables it")

	/** ======================== Schedule Flags ========================== **/
	flagSet.IntVar(&cfg.Schedule.PacketsPerMinute, "packets-per-minute", cfg.Schedule.PacketsPerMinute,
		"change packets sent per minute")
	flagSet.IntVar(&cfg.Schedule.BacklogPercent, "backlog-percent", cfg.Schedule.BacklogPercent,
		"share of change packets spent on the backlog rotation")
	flagSet.DurationVar(&cfg.Schedule.CycleDuration, "cycle-duration", cfg.Schedule.CycleDuration,
		"length of one broadcast cycle")
	flagSet.IntVar(&cfg.Schedule.CatalogPointerInterval, "catalog-pointer-interval",
		cfg.Schedule.CatalogPointerInterval, "change packets between two catalog pointers")
	flagSet.DurationVar(&cfg.Schedule.FlashWriteDelay, "flash-write-delay", cfg.Schedule.FlashWriteDelay,
		"idle time after every change packet")
	flagSet.DurationSliceVar(&cfg.Schedule.Horizons, "horizons", cfg.Schedule.Horizons,
		"ages bitmaps are sent for")
}

// AddReceiverFlags adds the flags of bdrecv.
func AddReceiverFlags(flagSet *pflag.FlagSet, cfg *config.ReceiverConfig) {
	flagSet.StringVar(&cfg.Listen, "listen", cfg.Listen,
		"udp address to receive on")
	flagSet.Uint16Var(&cfg.Stream, "stream", cfg.Stream,
		"stream id to follow")
	flagSet.IntVar(&cfg.ImageSize, "image-size", cfg.ImageSize,
		"image size in bytes")
	flagSet.StringVarP(&cfg.Storage, "storage", "s", cfg.Storage,
		"storage backend: mem, journal:<path>, flat:<path> or leveldb:<dir>")
	flagSet.Int64Var(&cfg.MediumSize, "medium-size", cfg.MediumSize,
		"journal medium size in bytes, 0 for the smallest that fits")
	flagSet.Uint32Var(&cfg.MinChangeID, "min-change-id", cfg.MinChangeID,
		"flat storage older than this id is treated as blank")
	flagSet.IntVar(&cfg.CacheLevels, "cache-levels", cfg.CacheLevels,
		"change ids kept in memory")
	flagSet.IntVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval,
		"sector writes between two change id flushes")
	flagSet.DurationVar(&cfg.WakeMargin, "wake-margin", cfg.WakeMargin,
		"how early to wake up before an announced section")
	flagSet.BoolVar(&cfg.ExitOnComplete, "exit-on-complete", cfg.ExitOnComplete,
		"exit once the whole image carries one change id")
}
