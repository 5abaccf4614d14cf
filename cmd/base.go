// Package cmd holds what bdsend and bdrecv share: flags, config loading and
// the process lifecycle.
package cmd

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spacemeshos/go-bdsync/config"
	"github.com/spacemeshos/go-bdsync/config/presets"
	"github.com/spacemeshos/go-bdsync/metrics"
)

var (
	// Version is the app's semantic version. Designed to be overwritten by make.
	Version string

	// Branch is the git branch used to build the App. Designed to be overwritten by make.
	Branch string

	// Commit is the git commit used to build the app. Designed to be overwritten by make.
	Commit string
)

// VersionCmd prints the build version.
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(c *cobra.Command, args []string) {
			fmt.Fprintf(c.OutOrStdout(), "%s (%s %s)\n", Version, Branch, Commit)
		},
	}
}

type override struct {
	value pflag.Value
	text  string
	list  []string
}

// Configure loads the preset and the config file into conf. Flags set on the
// command line take precedence over both.
func Configure(c *cobra.Command, conf *config.Config) error {
	var changed []override
	c.Flags().Visit(func(f *pflag.Flag) {
		o := override{value: f.Value, text: f.Value.String()}
		if s, ok := f.Value.(pflag.SliceValue); ok {
			o.list = slices.Clone(s.GetSlice())
		}
		changed = append(changed, o)
	})

	path, preset := conf.ConfigFile, conf.Preset
	if preset != "" {
		p, err := presets.Get(preset)
		if err != nil {
			return err
		}
		*conf = p
	}
	if err := config.Load(conf, path); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	for _, o := range changed {
		var err error
		if s, ok := o.value.(pflag.SliceValue); ok {
			err = s.Replace(o.list)
		} else {
			err = o.value.Set(o.text)
		}
		if err != nil {
			return fmt.Errorf("applying flags: %w", err)
		}
	}
	conf.ConfigFile, conf.Preset = path, preset
	return nil
}

// Run runs fn next to the configured metric exporters. It returns when fn
// returns or any of them fails.
func Run(
	ctx context.Context,
	logger *zap.Logger,
	conf config.MetricsConfig,
	job string,
	fn func(context.Context) error,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	if conf.Listen != "" {
		eg.Go(func() error {
			return metrics.Serve(ctx, logger, conf.Listen)
		})
	}
	if conf.PushURL != "" {
		instance, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("hostname: %w", err)
		}
		eg.Go(func() error {
			return metrics.Push(ctx, logger, conf.PushURL, job, instance, conf.PushPeriod)
		})
	}
	eg.Go(func() error {
		defer cancel()
		return fn(ctx)
	})
	return eg.Wait()
}
