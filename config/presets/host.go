package presets

import (
	"github.com/spacemeshos/go-bdsync/config"
)

func init() {
	register("host", host())
}

// host keeps a long running replica in leveldb and exports metrics.
func host() config.Config {
	conf := config.DefaultConfig()
	conf.Receiver.Storage = "leveldb:bdsync-replica"
	conf.Metrics.Listen = ":9090"
	conf.Logging.Encoder = config.JSONLogEncoder
	return conf
}
