// Package presets holds named configurations for common deployments.
package presets

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spacemeshos/go-bdsync/config"
)

var presets = map[string]config.Config{}

func register(name string, conf config.Config) {
	if _, exists := presets[name]; exists {
		panic(fmt.Sprintf("preset %s already registered", name))
	}
	presets[name] = conf
}

// Options lists the registered preset names.
func Options() []string {
	return slices.Sorted(maps.Keys(presets))
}

// Get returns a copy of the named preset.
func Get(name string) (config.Config, error) {
	conf, ok := presets[name]
	if !ok {
		return config.Config{}, fmt.Errorf("unknown preset %q, options: %v", name, Options())
	}
	conf.Sender.Destinations = slices.Clone(conf.Sender.Destinations)
	conf.Sender.Schedule.Horizons = slices.Clone(conf.Sender.Schedule.Horizons)
	return conf, nil
}
