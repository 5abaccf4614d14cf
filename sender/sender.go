// Package sender assembles the sending side: the persisted image state, the
// cycle scheduler and the broadcast transport.
package sender

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-bdsync/config"
	"github.com/spacemeshos/go-bdsync/filesystem"
	"github.com/spacemeshos/go-bdsync/scheduler"
	"github.com/spacemeshos/go-bdsync/senderstate"
)

type Opt func(*Sender)

func WithLogger(logger *zap.Logger) Opt {
	return func(s *Sender) {
		s.logger = logger
	}
}

func WithClock(clock clockwork.Clock) Opt {
	return func(s *Sender) {
		s.clock = clock
	}
}

// WithImageFs sets the filesystem the image is read from.
func WithImageFs(fs afero.Fs) Opt {
	return func(s *Sender) {
		s.imageFs = fs
	}
}

// Sender broadcasts one image.
type Sender struct {
	logger  *zap.Logger
	clock   clockwork.Clock
	imageFs afero.Fs

	state     *senderstate.State
	scheduler *scheduler.Scheduler
}

// New loads the sender state and prepares the scheduler to broadcast
// through out.
func New(cfg config.SenderConfig, out scheduler.Broadcaster, opts ...Opt) (*Sender, error) {
	s := &Sender{
		logger: zap.NewNop(),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	stateOpts := []senderstate.Opt{senderstate.WithLogger(s.logger.Named("state"))}
	if s.imageFs != nil {
		stateOpts = append(stateOpts, senderstate.WithImageFs(s.imageFs))
	}
	state, err := senderstate.Open(
		filesystem.CanonicalPath(cfg.File),
		filesystem.CanonicalPath(cfg.StatePrefix),
		cfg.ImageSize,
		s.clock.Now(),
		stateOpts...,
	)
	if err != nil {
		return nil, fmt.Errorf("open sender state: %w", err)
	}
	s.state = state
	s.scheduler = scheduler.New(state, out,
		scheduler.WithLogger(s.logger.Named("scheduler")),
		scheduler.WithConfig(cfg.Schedule),
		scheduler.WithClock(s.clock),
	)
	s.logger.Info("sender ready",
		zap.String("image", cfg.File),
		zap.Uint16("stream", cfg.Stream),
		zap.Int("sectors", state.SectorCount()),
		zap.Stringer("change_id", state.Current()),
	)
	return s, nil
}

// Run broadcasts cycles until ctx is canceled.
func (s *Sender) Run(ctx context.Context) error {
	return s.scheduler.Run(ctx)
}

// RunCycle broadcasts a single cycle starting now.
func (s *Sender) RunCycle(ctx context.Context) error {
	return s.scheduler.RunCycle(ctx, s.clock.Now())
}

func (s *Sender) State() *senderstate.State { return s.state }

// Close releases the state lock.
func (s *Sender) Close() error {
	return s.state.Close()
}
