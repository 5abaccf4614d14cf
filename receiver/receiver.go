// Package receiver assembles the receiving side: a block store behind the
// change id cache, driven by the sync decoder.
package receiver

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-bdsync/blockstore"
	"github.com/spacemeshos/go-bdsync/common/types"
	"github.com/spacemeshos/go-bdsync/config"
	"github.com/spacemeshos/go-bdsync/decoder"
	"github.com/spacemeshos/go-bdsync/idcache"
	"github.com/spacemeshos/go-bdsync/transport"
	"github.com/spacemeshos/go-bdsync/wire"
)

var (
	// ErrLocked is returned when another receiver uses the storage.
	ErrLocked = errors.New("storage is locked by another process")
	// ErrStorage wraps failures of the block store while running.
	ErrStorage = errors.New("storage failed")
)

// Listener is the source of received envelopes.
type Listener interface {
	Recv(ctx context.Context) (*transport.Envelope, error)
}

type Opt func(*Receiver)

func WithLogger(logger *zap.Logger) Opt {
	return func(r *Receiver) {
		r.logger = logger
	}
}

func WithClock(clock clockwork.Clock) Opt {
	return func(r *Receiver) {
		r.clock = clock
	}
}

// WithFs sets the filesystem holding journal and flat media.
func WithFs(fs afero.Fs) Opt {
	return func(r *Receiver) {
		r.fs = fs
	}
}

// WithStore uses store instead of opening cfg.Storage.
func WithStore(store blockstore.BlockStore) Opt {
	return func(r *Receiver) {
		r.store = store
	}
}

// Receiver applies the packets of one stream to local storage. It is not
// safe for concurrent use.
type Receiver struct {
	logger *zap.Logger
	clock  clockwork.Clock
	fs     afero.Fs
	cfg    config.ReceiverConfig

	store   blockstore.BlockStore
	cache   *idcache.Cache
	decoder *decoder.Decoder

	complete   bool
	completeID types.ChangeID
}

// New opens the configured storage and replays it into the cache.
func New(cfg config.ReceiverConfig, opts ...Opt) (*Receiver, error) {
	r := &Receiver{
		logger: zap.NewNop(),
		clock:  clockwork.NewRealClock(),
		fs:     afero.NewOsFs(),
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if r.store == nil {
		store, err := OpenStore(cfg, r.fs, r.logger)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		r.store = store
	}
	cache, err := idcache.New(r.store,
		idcache.WithLogger(r.logger.Named("idcache")),
		idcache.WithLevels(cfg.CacheLevels),
		idcache.WithFlushInterval(cfg.FlushInterval),
		idcache.OnComplete(r.onComplete),
	)
	if err != nil {
		r.store.Close()
		return nil, err
	}
	r.cache = cache
	r.decoder = decoder.New(cache,
		decoder.WithLogger(r.logger.Named("decoder")),
		decoder.WithClock(r.clock),
		decoder.WithWakeMargin(cfg.WakeMargin),
	)
	oldest, err := cache.Oldest()
	if err != nil {
		cache.Close()
		return nil, err
	}
	r.logger.Info("receiver ready",
		zap.String("storage", cfg.Storage),
		zap.Int("sectors", cache.SectorCount()),
		zap.Stringer("oldest", oldest),
	)
	return r, nil
}

func (r *Receiver) onComplete(id types.ChangeID) {
	r.complete, r.completeID = true, id
}

// Complete returns the id every sector carried last time the image became
// uniform.
func (r *Receiver) Complete() (types.ChangeID, bool) {
	return r.completeID, r.complete
}

// Decoder exposes the protocol state.
func (r *Receiver) Decoder() *decoder.Decoder { return r.decoder }

// Cache exposes the change id cache.
func (r *Receiver) Cache() *idcache.Cache { return r.cache }

// Handle applies one envelope. Envelopes other than block sync are ignored.
// Only storage errors are returned.
func (r *Receiver) Handle(env *transport.Envelope) error {
	if env.Type != wire.TypeBDSync {
		r.logger.Debug("ignoring envelope", zap.Uint8("type", uint8(env.Type)))
		return nil
	}
	return r.decoder.Receive(env.Subtype, env.Payload)
}

// Run handles envelopes from l until ctx is canceled, or until the image is
// complete when exit-on-complete is set.
func (r *Receiver) Run(ctx context.Context, l Listener) error {
	for {
		env, err := l.Recv(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			return fmt.Errorf("receive: %w", err)
		}
		if err := r.Handle(env); err != nil {
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}
		if r.complete && r.cfg.ExitOnComplete {
			r.logger.Info("image complete, exiting", zap.Stringer("change_id", r.completeID))
			return nil
		}
	}
}

// Close flushes pending change ids and closes the storage.
func (r *Receiver) Close() error {
	return r.cache.Close()
}
