package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/go-bdsync/config"
	"github.com/spacemeshos/go-bdsync/log/logtest"
)

func configure(t *testing.T, args ...string) config.Config {
	t.Helper()
	conf := config.DefaultConfig()
	c := &cobra.Command{}
	AddFlags(c.PersistentFlags(), &conf)
	AddSenderFlags(c.Flags(), &conf.Sender)
	AddReceiverFlags(c.Flags(), &conf.Receiver)
	require.NoError(t, c.ParseFlags(args))
	require.NoError(t, Configure(c, &conf))
	return conf
}

func TestConfigureDefaults(t *testing.T) {
	require.Equal(t, config.DefaultConfig(), configure(t))
}

func TestConfigurePrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bdsync.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[receiver]
wake-margin = "2s"
storage = "leveldb:/var/lib/bdsync"

[sender.schedule]
packets-per-minute = 30
`), 0o600))

	conf := configure(t,
		"--config", path,
		"--preset", "lab",
		"--storage", "mem",
		"--dest", "10.0.0.255:5000,10.1.0.255:5000",
		"--horizons", "1m,5m",
	)
	require.Equal(t, path, conf.ConfigFile)
	require.Equal(t, "lab", conf.Preset)
	// preset
	require.Equal(t, "127.0.0.1:5000", conf.Receiver.Listen)
	require.Equal(t, 10*time.Second, conf.Sender.Schedule.CycleDuration)
	// file over preset
	require.Equal(t, 2*time.Second, conf.Receiver.WakeMargin)
	require.Equal(t, 30, conf.Sender.Schedule.PacketsPerMinute)
	// flags over file
	require.Equal(t, "mem", conf.Receiver.Storage)
	require.Equal(t, []string{"10.0.0.255:5000", "10.1.0.255:5000"}, conf.Sender.Destinations)
	require.Equal(t, []time.Duration{time.Minute, 5 * time.Minute}, conf.Sender.Schedule.Horizons)
}

func TestConfigureErrors(t *testing.T) {
	conf := config.DefaultConfig()
	c := &cobra.Command{}
	AddFlags(c.PersistentFlags(), &conf)
	require.NoError(t, c.ParseFlags([]string{"--preset", "mainnet"}))
	require.Error(t, Configure(c, &conf))

	conf = config.DefaultConfig()
	c = &cobra.Command{}
	AddFlags(c.PersistentFlags(), &conf)
	require.NoError(t, c.ParseFlags([]string{"--config", filepath.Join(t.TempDir(), "missing.toml")}))
	require.Error(t, Configure(c, &conf))
}

func TestRun(t *testing.T) {
	fail := errors.New("storage failed")
	err := Run(context.Background(), logtest.New(t), config.MetricsConfig{}, "test",
		func(context.Context) error { return fail })
	require.ErrorIs(t, err, fail)

	// metrics stop with the main function
	conf := config.MetricsConfig{Listen: "127.0.0.1:0"}
	require.NoError(t, Run(context.Background(), logtest.New(t), conf, "test",
		func(context.Context) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, Run(ctx, logtest.New(t), config.MetricsConfig{}, "test",
		func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}))
}

func TestVersion(t *testing.T) {
	Version, Branch, Commit = "v1.2.3", "main", "abc"
	var buf bytes.Buffer
	c := VersionCmd()
	c.SetOut(&buf)
	c.Run(c, nil)
	require.Equal(t, "v1.2.3 (main abc)\n", buf.String())
}
