// bdsend broadcasts a block device image to any number of receivers.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-bdsync/cmd"
	"github.com/spacemeshos/go-bdsync/config"
	"github.com/spacemeshos/go-bdsync/log"
	"github.com/spacemeshos/go-bdsync/sender"
	"github.com/spacemeshos/go-bdsync/senderstate"
	"github.com/spacemeshos/go-bdsync/transport"
)

func main() {
	if err := command().Execute(); err != nil {
		os.Exit(1)
	}
}

func command() *cobra.Command {
	conf := config.DefaultConfig()
	c := &cobra.Command{
		Use:   "bdsend",
		Short: "broadcast an image over udp",
		RunE: func(c *cobra.Command, args []string) error {
			if err := cmd.Configure(c, &conf); err != nil {
				return log.ErrBadFlags(err)
			}
			if err := conf.Sender.Validate(); err != nil {
				return log.ErrMalformedConfig(err)
			}
			logger, err := log.New("bdsend", conf.Logging)
			if err != nil {
				return log.ErrMalformedConfig(err)
			}
			defer logger.Sync()
			// Don't print usage on error from this point forward
			c.SilenceUsage = true

			if err := run(conf, logger); err != nil {
				logger.Error("bdsend failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.AddFlags(c.PersistentFlags(), &conf)
	cmd.AddSenderFlags(c.Flags(), &conf.Sender)
	c.AddCommand(cmd.VersionCmd())
	return c
}

func run(conf config.Config, logger *zap.Logger) error {
	// os.Interrupt for all systems, syscall.SIGTERM is mainly for docker.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	out, err := transport.NewUDPBroadcaster(conf.Sender.Stream, conf.Sender.Destinations,
		transport.WithLogger(logger.Named("transport")),
		transport.WithRateLimit(conf.Sender.MaxPacketRate, 1),
	)
	if err != nil {
		return log.ErrTransport(err)
	}
	defer out.Close()

	s, err := sender.New(conf.Sender, out, sender.WithLogger(logger))
	switch {
	case errors.Is(err, senderstate.ErrLocked):
		return log.ErrAlreadyRunning(conf.Sender.StatePrefix)
	case err != nil:
		return log.ErrSourceImage(err)
	}
	defer s.Close()

	return cmd.Run(ctx, logger, conf.Metrics, "bdsend", s.Run)
}
