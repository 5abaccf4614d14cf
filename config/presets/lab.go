package presets

import (
	"time"

	"github.com/spacemeshos/go-bdsync/config"
)

func init() {
	register("lab", lab())
}

// lab runs short cycles on the loopback interface.
func lab() config.Config {
	conf := config.DefaultConfig()
	conf.Logging.Level = "debug"
	conf.Sender.Destinations = []string{"127.0.0.1:5000"}
	conf.Sender.Schedule.CycleDuration = 10 * time.Second
	conf.Sender.Schedule.PacketsPerMinute = 600
	conf.Sender.Schedule.FlashWriteDelay = 10 * time.Millisecond
	conf.Receiver.Listen = "127.0.0.1:5000"
	conf.Receiver.Storage = "journal:bdsync.journal"
	return conf
}
