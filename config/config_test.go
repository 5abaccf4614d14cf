package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, "bdsync.toml", `
[logging]
level = "debug"

[sender]
file = "/srv/image.bin"
image-size = 1048576
state-prefix = "/var/lib/bdsync/image"
destinations = "192.168.1.255:5000,10.0.0.255:5000"

[sender.schedule]
packets-per-minute = 120
cycle-duration = "30s"
horizons = ["1m", "1h"]

[receiver]
storage = "journal:/var/lib/bdsync/journal"
wake-margin = "500ms"
`)
	conf := DefaultConfig()
	require.NoError(t, Load(&conf, path))

	require.Equal(t, "debug", conf.Logging.Level)
	require.Equal(t, ConsoleLogEncoder, conf.Logging.Encoder)
	require.Equal(t, []string{"192.168.1.255:5000", "10.0.0.255:5000"}, conf.Sender.Destinations)
	require.Equal(t, 120, conf.Sender.Schedule.PacketsPerMinute)
	require.Equal(t, 30*time.Second, conf.Sender.Schedule.CycleDuration)
	require.Equal(t, []time.Duration{time.Minute, time.Hour}, conf.Sender.Schedule.Horizons)
	require.Equal(t, 30, conf.Sender.Schedule.BacklogPercent)
	require.NoError(t, conf.Sender.Validate())

	require.Equal(t, "journal:/var/lib/bdsync/journal", conf.Receiver.Storage)
	require.Equal(t, 500*time.Millisecond, conf.Receiver.WakeMargin)
	require.Equal(t, uint16(DefaultStream), conf.Receiver.Stream)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "bdsync.toml", "[receiver]\nstorrage = \"mem\"\n")
	conf := DefaultConfig()
	require.ErrorContains(t, Load(&conf, path), "storrage")
}

func TestLoadMissingFile(t *testing.T) {
	conf := DefaultConfig()
	require.Error(t, Load(&conf, filepath.Join(t.TempDir(), "missing.toml")))
	require.NoError(t, Load(&conf, ""))
}

func TestValidate(t *testing.T) {
	conf := DefaultConfig()
	require.Error(t, conf.Sender.Validate())
	require.Error(t, conf.Receiver.Validate())

	conf.Receiver.ImageSize = 8192
	require.NoError(t, conf.Receiver.Validate())
	conf.Receiver.CacheLevels = 0
	require.Error(t, conf.Receiver.Validate())
}
