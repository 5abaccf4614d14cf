// Package flat stores an image as a plain sector-by-sector mirror, as needed
// when the image has to be usable in place (a firmware partition).
//
// Only one change id is remembered: a management sector after the image holds
// the newest id and an inverted bitmap of the sectors that do not carry it
// yet. Older ids cannot be represented, so the store is normally used behind
// the change id cache.
package flat

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/spacemeshos/go-bdsync/blockstore"
	"github.com/spacemeshos/go-bdsync/blockstore/medium"
	"github.com/spacemeshos/go-bdsync/common/types"
)

const (
	blockSize = medium.BlockSize
	idSize    = 4
)

type Opt func(*Store)

func WithLogger(logger *zap.Logger) Opt {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithMinChangeID makes the store discard a management sector carrying an
// id older than min, for example the build stamp of the running firmware.
func WithMinChangeID(min types.ChangeID) Opt {
	return func(s *Store) {
		s.minID = min
	}
}

// WithDone registers fn to run once every sector carries the current id.
func WithDone(fn func(types.ChangeID)) Opt {
	return func(s *Store) {
		s.done = fn
	}
}

// Store is a blockstore.BlockStore with a flat layout.
type Store struct {
	logger *zap.Logger
	minID  types.ChangeID
	done   func(types.ChangeID)

	m       medium.Medium
	sectors int
	mgmtOff int64

	// mgmt mirrors the management sector: id followed by the missing bitmap.
	mgmt []byte
}

var (
	_ blockstore.BlockStore = (*Store)(nil)
	_ blockstore.Completer  = (*Store)(nil)
)

// MediumSize returns the medium size needed for an image of sectors.
func MediumSize(sectors int) int64 {
	return int64(sectors+1) * blockSize
}

func Open(m medium.Medium, sectors int, opts ...Opt) (*Store, error) {
	s := &Store{
		logger:  zap.NewNop(),
		m:       m,
		sectors: sectors,
		mgmtOff: int64(sectors) * blockSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if sectors <= 0 || idSize+types.BitmapLen(sectors) > blockSize {
		return nil, fmt.Errorf("flat store supports 1 to %d sectors, got %d", (blockSize-idSize)*8, sectors)
	}
	if m.Size() < MediumSize(sectors) {
		return nil, fmt.Errorf("medium has %d bytes, need %d", m.Size(), MediumSize(sectors))
	}
	s.mgmt = make([]byte, idSize+types.BitmapLen(sectors))
	if _, err := m.ReadAt(s.mgmt, s.mgmtOff); err != nil {
		return nil, fmt.Errorf("read management sector: %w", err)
	}
	if id := s.current(); id == types.MaxChangeID || id < s.minID {
		s.logger.Info("management sector is blank or outdated",
			zap.Stringer("change_id", id),
			zap.Stringer("min_change_id", s.minID),
		)
		s.reset(types.NoChangeID)
	}
	return s, nil
}

func (s *Store) current() types.ChangeID {
	return types.ChangeID(binary.LittleEndian.Uint32(s.mgmt))
}

func (s *Store) reset(id types.ChangeID) {
	binary.LittleEndian.PutUint32(s.mgmt, id.Uint32())
	for i := idSize; i < len(s.mgmt); i++ {
		s.mgmt[i] = 0xff
	}
}

func (s *Store) missing(sector int) bool {
	return s.mgmt[idSize+sector/8]&(1<<(sector&7)) != 0
}

func (s *Store) SectorCount() int { return s.sectors }

func (s *Store) ChangeID(sector int) (types.ChangeID, error) {
	if err := blockstore.CheckSector(sector, s.sectors); err != nil {
		return 0, err
	}
	if s.missing(sector) {
		return types.NoChangeID, nil
	}
	return s.current(), nil
}

// SetChangeID records that sector carries id. A newer id starts a new
// generation in which no sector is present yet; older ids are dropped.
func (s *Store) SetChangeID(sector int, id types.ChangeID) error {
	if err := blockstore.CheckSector(sector, s.sectors); err != nil {
		return err
	}
	if id > s.current() {
		if err := s.m.Erase(s.mgmtOff, blockSize); err != nil {
			return err
		}
		s.reset(id)
		s.logger.Debug("new generation", zap.Stringer("change_id", id))
	}
	if id == types.NoChangeID || id != s.current() || !s.missing(sector) {
		return nil
	}
	s.mgmt[idSize+sector/8] &^= 1 << (sector & 7)
	if _, err := s.m.WriteAt(s.mgmt, s.mgmtOff); err != nil {
		return err
	}
	return s.m.Sync()
}

func (s *Store) SectorData(sector int, buf []byte) error {
	if err := blockstore.CheckSector(sector, s.sectors); err != nil {
		return err
	}
	if err := blockstore.CheckBuffer(buf); err != nil {
		return err
	}
	_, err := s.m.ReadAt(buf, int64(sector)*blockSize)
	return err
}

func (s *Store) SetSectorData(sector int, data []byte, id types.ChangeID) error {
	if err := blockstore.CheckSector(sector, s.sectors); err != nil {
		return err
	}
	if err := blockstore.CheckBuffer(data); err != nil {
		return err
	}
	off := int64(sector) * blockSize
	if err := s.m.Erase(off, blockSize); err != nil {
		return err
	}
	if _, err := s.m.WriteAt(data, off); err != nil {
		return err
	}
	if err := s.m.Sync(); err != nil {
		return err
	}
	return s.SetChangeID(sector, id)
}

func (s *Store) ForEachBlock(fn func(int, types.ChangeID) error) error {
	id := s.current()
	for sector := 0; sector < s.sectors; sector++ {
		cur := id
		if s.missing(sector) {
			cur = types.NoChangeID
		}
		if err := fn(sector, cur); err != nil {
			return err
		}
	}
	return nil
}

// NotifyComplete runs the done callback when id is the generation stored.
func (s *Store) NotifyComplete(id types.ChangeID) {
	if id != s.current() {
		return
	}
	s.logger.Info("image complete", zap.Stringer("change_id", id))
	if s.done != nil {
		s.done(id)
	}
}

func (s *Store) Close() error {
	if err := s.m.Sync(); err != nil {
		s.m.Close()
		return err
	}
	return s.m.Close()
}
