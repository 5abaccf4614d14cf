package receiver

import (
	"fmt"
	"strings"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-bdsync/blockstore"
	"github.com/spacemeshos/go-bdsync/blockstore/flat"
	"github.com/spacemeshos/go-bdsync/blockstore/journal"
	"github.com/spacemeshos/go-bdsync/blockstore/ldbstore"
	"github.com/spacemeshos/go-bdsync/blockstore/medium"
	"github.com/spacemeshos/go-bdsync/blockstore/memstore"
	"github.com/spacemeshos/go-bdsync/common/types"
	"github.com/spacemeshos/go-bdsync/config"
	"github.com/spacemeshos/go-bdsync/filesystem"
)

// Storage backends.
const (
	BackendMem     = "mem"
	BackendJournal = "journal"
	BackendFlat    = "flat"
	BackendLevelDB = "leveldb"
)

const lockSuffix = ".lock"

// Storage is a parsed storage descriptor.
type Storage struct {
	Backend string
	Path    string
}

func (s Storage) String() string {
	if s.Path == "" {
		return s.Backend
	}
	return s.Backend + ":" + s.Path
}

// ParseStorage parses descriptors like "journal:/var/lib/bdsync/journal".
func ParseStorage(desc string) (Storage, error) {
	backend, path, _ := strings.Cut(desc, ":")
	s := Storage{Backend: backend, Path: filesystem.CanonicalPath(path)}
	switch backend {
	case BackendMem:
		if path != "" {
			return Storage{}, fmt.Errorf("storage %q: mem takes no path", desc)
		}
	case BackendJournal, BackendFlat, BackendLevelDB:
		if path == "" {
			return Storage{}, fmt.Errorf("storage %q: %s needs a path", desc, backend)
		}
	default:
		return Storage{}, fmt.Errorf("storage %q: unknown backend %q", desc, backend)
	}
	return s, nil
}

// lockedStore releases the storage lock when the store is closed.
type lockedStore struct {
	blockstore.BlockStore
	lock *flock.Flock
}

func (s *lockedStore) NotifyComplete(id types.ChangeID) {
	if c, ok := s.BlockStore.(blockstore.Completer); ok {
		c.NotifyComplete(id)
	}
}

func (s *lockedStore) Close() error {
	err := s.BlockStore.Close()
	if uerr := s.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// OpenStore opens the backend described by cfg.Storage. File backends are
// guarded by an exclusive lock next to the storage path.
func OpenStore(cfg config.ReceiverConfig, fs afero.Fs, logger *zap.Logger) (blockstore.BlockStore, error) {
	storage, err := ParseStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	sectors := types.SectorCount(cfg.ImageSize)
	if sectors == 0 {
		return nil, fmt.Errorf("image size %d holds no sector", cfg.ImageSize)
	}
	logger = logger.With(zap.Stringer("storage", storage))
	if storage.Backend == BackendMem {
		return memstore.New(sectors), nil
	}

	lock := flock.New(storage.Path + lockSuffix)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("flock %s: %w", lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, lock.Path())
	}
	store, err := openBackend(storage, cfg, sectors, fs, logger)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	return &lockedStore{BlockStore: store, lock: lock}, nil
}

func openBackend(
	storage Storage,
	cfg config.ReceiverConfig,
	sectors int,
	fs afero.Fs,
	logger *zap.Logger,
) (blockstore.BlockStore, error) {
	switch storage.Backend {
	case BackendJournal:
		size := cfg.MediumSize
		if size == 0 {
			size = journal.MinMediumSize(sectors)
		}
		m, err := medium.Open(fs, storage.Path, size)
		if err != nil {
			return nil, err
		}
		j, err := journal.Open(m, sectors, journal.WithLogger(logger.Named("journal")))
		if err != nil {
			m.Close()
			return nil, err
		}
		return j, nil
	case BackendFlat:
		m, err := medium.Open(fs, storage.Path, flat.MediumSize(sectors))
		if err != nil {
			return nil, err
		}
		s, err := flat.Open(m, sectors,
			flat.WithLogger(logger.Named("flat")),
			flat.WithMinChangeID(types.ChangeID(cfg.MinChangeID)),
		)
		if err != nil {
			m.Close()
			return nil, err
		}
		return s, nil
	case BackendLevelDB:
		s, err := ldbstore.Open(storage.Path, sectors, ldbstore.WithLogger(logger.Named("leveldb")))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown backend %q", storage.Backend)
}
