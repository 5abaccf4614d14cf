// bdrecv follows a bdsend stream and keeps a local copy of the image.
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
	"github.com/spacemeshos/go-bdsync/receiver"
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
		Use:   "bdrecv",
		Short: "receive an image broadcast by bdsend",
		RunE: func(c *cobra.Command, args []string) error {
			if err := cmd.Configure(c, &conf); err != nil {
				return log.ErrBadFlags(err)
			}
			if err := conf.Receiver.Validate(); err != nil {
				return log.ErrMalformedConfig(err)
			}
			logger, err := log.New("bdrecv", conf.Logging)
			if err != nil {
				return log.ErrMalformedConfig(err)
			}
			defer logger.Sync()
			c.SilenceUsage = true

			if err := run(conf, logger); err != nil {
				logger.Error("bdrecv failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.AddFlags(c.PersistentFlags(), &conf)
	cmd.AddReceiverFlags(c.Flags(), &conf.Receiver)
	c.AddCommand(cmd.VersionCmd())
	return c
}

func run(conf config.Config, logger *zap.Logger) (err error) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	l, err := transport.ListenUDP(conf.Receiver.Listen, conf.Receiver.Stream,
		transport.WithLogger(logger.Named("transport")),
	)
	if err != nil {
		return log.ErrTransport(err)
	}
	defer l.Close()

	r, err := receiver.New(conf.Receiver, receiver.WithLogger(logger))
	switch {
	case errors.Is(err, receiver.ErrLocked):
		return log.ErrAlreadyRunning(conf.Receiver.Storage)
	case err != nil:
		return log.ErrOpenStorage(err)
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = log.ErrStorageIO(cerr)
		}
	}()

	err = cmd.Run(ctx, logger, conf.Metrics, "bdrecv", func(ctx context.Context) error {
		return r.Run(ctx, l)
	})
	switch {
	case errors.Is(err, receiver.ErrStorage):
		return log.ErrStorageIO(err)
	case err != nil:
		return log.ErrTransport(err)
	}
	return nil
}
