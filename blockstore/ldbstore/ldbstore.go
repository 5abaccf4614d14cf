// Package ldbstore keeps an image in a LevelDB database. It is the persistent
// backend for receivers running on a regular filesystem.
package ldbstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-bdsync/blockstore"
	"github.com/spacemeshos/go-bdsync/common/types"
)

var (
	dataPrefix = []byte("d/")
	idPrefix   = []byte("c/")

	syncWrite = &opt.WriteOptions{Sync: true}
)

type Opt func(*Store)

func WithLogger(logger *zap.Logger) Opt {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithCache sets the LevelDB block cache and open file handle limits.
func WithCache(cacheMiB, handles int) Opt {
	return func(s *Store) {
		s.cache = cacheMiB
		s.handles = handles
	}
}

// Store is a blockstore.BlockStore on top of LevelDB. Data and change id of a
// sector are committed in one synced batch.
type Store struct {
	logger  *zap.Logger
	cache   int
	handles int

	path    string
	db      *leveldb.DB
	sectors int
}

var _ blockstore.BlockStore = (*Store)(nil)

func newStore(sectors int, opts []Opt) *Store {
	s := &Store{
		logger:  zap.NewNop(),
		sectors: sectors,
	}
	for _, opt := range opts {
		opt(s)
	}
	// Ensure we have some minimal caching and file guarantees
	s.cache = max(s.cache, 16)
	s.handles = max(s.handles, 16)
	return s
}

// Open opens or creates the database in dir.
func Open(dir string, sectors int, opts ...Opt) (*Store, error) {
	s := newStore(sectors, opts)
	s.path = dir
	s.logger.Info("allocated cache and file handles",
		zap.String("path", dir),
		zap.Int("cache_size", s.cache),
		zap.Int("num_handles", s.handles),
	)
	db, err := leveldb.OpenFile(dir, &opt.Options{
		OpenFilesCacheCapacity: s.handles,
		BlockCacheCapacity:     s.cache / 2 * opt.MiB,
		WriteBuffer:            s.cache / 4 * opt.MiB,
		Filter:                 filter.NewBloomFilter(10),
	})
	var corrupted *lerrors.ErrCorrupted
	if errors.As(err, &corrupted) {
		s.logger.Warn("database corrupted, recovering", zap.String("path", dir), zap.Error(err))
		db, err = leveldb.RecoverFile(dir, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", dir, err)
	}
	s.db = db
	return s, nil
}

// OpenMem returns a store backed by an in-memory LevelDB.
func OpenMem(sectors int, opts ...Opt) (*Store, error) {
	s := newStore(sectors, opts)
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open in-memory leveldb: %w", err)
	}
	s.db = db
	return s, nil
}

func key(prefix []byte, sector int) []byte {
	k := make([]byte, len(prefix)+4)
	copy(k, prefix)
	binary.BigEndian.PutUint32(k[len(prefix):], uint32(sector))
	return k
}

func (s *Store) SectorCount() int { return s.sectors }

func (s *Store) ChangeID(sector int) (types.ChangeID, error) {
	if err := blockstore.CheckSector(sector, s.sectors); err != nil {
		return 0, err
	}
	v, err := s.db.Get(key(idPrefix, sector), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return types.NoChangeID, nil
	case err != nil:
		return 0, fmt.Errorf("get change id %d: %w", sector, err)
	case len(v) != 4:
		return 0, fmt.Errorf("change id %d has %d bytes", sector, len(v))
	}
	return types.ChangeID(binary.BigEndian.Uint32(v)), nil
}

func (s *Store) SetChangeID(sector int, id types.ChangeID) error {
	if err := blockstore.CheckSector(sector, s.sectors); err != nil {
		return err
	}
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], id.Uint32())
	if err := s.db.Put(key(idPrefix, sector), v[:], syncWrite); err != nil {
		return fmt.Errorf("put change id %d: %w", sector, err)
	}
	return nil
}

func (s *Store) SectorData(sector int, buf []byte) error {
	if err := blockstore.CheckSector(sector, s.sectors); err != nil {
		return err
	}
	if err := blockstore.CheckBuffer(buf); err != nil {
		return err
	}
	v, err := s.db.Get(key(dataPrefix, sector), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		copy(buf, types.Erased())
		return nil
	case err != nil:
		return fmt.Errorf("get sector %d: %w", sector, err)
	}
	if err := blockstore.CheckBuffer(v); err != nil {
		return fmt.Errorf("stored sector %d: %w", sector, err)
	}
	copy(buf, v)
	return nil
}

func (s *Store) SetSectorData(sector int, data []byte, id types.ChangeID) error {
	if err := blockstore.CheckSector(sector, s.sectors); err != nil {
		return err
	}
	if err := blockstore.CheckBuffer(data); err != nil {
		return err
	}
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], id.Uint32())
	batch := new(leveldb.Batch)
	batch.Put(key(dataPrefix, sector), data)
	batch.Put(key(idPrefix, sector), v[:])
	if err := s.db.Write(batch, syncWrite); err != nil {
		return fmt.Errorf("write sector %d: %w", sector, err)
	}
	return nil
}

// ForEachBlock walks the change id keys in order and reports id 0 for gaps.
func (s *Store) ForEachBlock(fn func(int, types.ChangeID) error) error {
	it := s.db.NewIterator(util.BytesPrefix(idPrefix), nil)
	defer it.Release()
	next := 0
	for it.Next() {
		k, v := it.Key(), it.Value()
		if len(k) != len(idPrefix)+4 || len(v) != 4 {
			s.logger.Warn("skipping malformed change id record", zap.Binary("key", k))
			continue
		}
		sector := int(binary.BigEndian.Uint32(k[len(idPrefix):]))
		if sector >= s.sectors {
			break
		}
		for ; next < sector; next++ {
			if err := fn(next, types.NoChangeID); err != nil {
				return err
			}
		}
		if err := fn(sector, types.ChangeID(binary.BigEndian.Uint32(v))); err != nil {
			return err
		}
		next = sector + 1
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("iterate change ids: %w", err)
	}
	for ; next < s.sectors; next++ {
		if err := fn(next, types.NoChangeID); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database, flushing writes.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		s.logger.Error("failed to close database", zap.String("path", s.path), zap.Error(err))
		return fmt.Errorf("close leveldb: %w", err)
	}
	s.logger.Info("database closed", zap.String("path", s.path))
	return nil
}
