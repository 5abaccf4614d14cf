package presets

import "github.com/spacemeshos/go-bdsync/config"

func init() {
	register("firmware", firmware())
}

// firmware receives a firmware image into a flat mirror and stops as soon as
// the whole image carries one change id.
func firmware() config.Config {
	conf := config.DefaultConfig()
	conf.Receiver.Storage = "flat:firmware.img"
	conf.Receiver.ExitOnComplete = true
	conf.Receiver.CacheLevels = 2
	conf.Receiver.FlushInterval = 1
	return conf
}
