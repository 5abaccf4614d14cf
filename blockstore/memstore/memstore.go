// Package memstore keeps an image in RAM. It is used by tests and simulations.
package memstore

import (
	"github.com/spacemeshos/go-bdsync/blockstore"
	"github.com/spacemeshos/go-bdsync/common/types"
)

// Store is a volatile blockstore.BlockStore.
type Store struct {
	data [][]byte
	ids  []types.ChangeID

	onComplete func(types.ChangeID)
}

type Opt func(*Store)

// WithOnComplete registers fn to be called from NotifyComplete.
func WithOnComplete(fn func(types.ChangeID)) Opt {
	return func(s *Store) {
		s.onComplete = fn
	}
}

// New returns an empty store for an image of the given number of sectors.
func New(sectors int, opts ...Opt) *Store {
	s := &Store{
		data: make([][]byte, sectors),
		ids:  make([]types.ChangeID, sectors),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) SectorCount() int { return len(s.ids) }

func (s *Store) ChangeID(sector int) (types.ChangeID, error) {
	if err := blockstore.CheckSector(sector, len(s.ids)); err != nil {
		return 0, err
	}
	return s.ids[sector], nil
}

func (s *Store) SetChangeID(sector int, id types.ChangeID) error {
	if err := blockstore.CheckSector(sector, len(s.ids)); err != nil {
		return err
	}
	s.ids[sector] = id
	return nil
}

func (s *Store) SectorData(sector int, buf []byte) error {
	if err := blockstore.CheckSector(sector, len(s.ids)); err != nil {
		return err
	}
	if err := blockstore.CheckBuffer(buf); err != nil {
		return err
	}
	if s.data[sector] == nil {
		copy(buf, types.Erased())
		return nil
	}
	copy(buf, s.data[sector])
	return nil
}

func (s *Store) SetSectorData(sector int, data []byte, id types.ChangeID) error {
	if err := blockstore.CheckSector(sector, len(s.ids)); err != nil {
		return err
	}
	if err := blockstore.CheckBuffer(data); err != nil {
		return err
	}
	if s.data[sector] == nil {
		s.data[sector] = make([]byte, types.SectorSize)
	}
	copy(s.data[sector], data)
	s.ids[sector] = id
	return nil
}

func (s *Store) ForEachBlock(fn func(int, types.ChangeID) error) error {
	for i, id := range s.ids {
		if err := fn(i, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) NotifyComplete(id types.ChangeID) {
	if s.onComplete != nil {
		s.onComplete(id)
	}
}

func (s *Store) Close() error { return nil }
