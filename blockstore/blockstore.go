// Package blockstore defines the storage capability shared by every receiver
// backend: per sector data together with the change id it was last stamped with.
package blockstore

import (
	"errors"
	"fmt"

	"github.com/spacemeshos/go-bdsync/common/types"
)

var (
	// ErrOutOfRange is returned for sector indices outside of the image.
	ErrOutOfRange = errors.New("sector out of range")
	// ErrSectorSize is returned when a data buffer is not exactly one sector long.
	ErrSectorSize = errors.New("buffer is not one sector long")
)

// BlockStore maps virtual sector indices to sector data and change ids.
// Sectors that were never written read as erased data with id 0.
//
// Implementations are not safe for concurrent use.
type BlockStore interface {
	// SectorCount is the number of virtual sectors in the image.
	SectorCount() int
	ChangeID(sector int) (types.ChangeID, error)
	// SetChangeID relabels a sector without touching its data. Sectors that
	// were never written have no data to relabel; stores may ignore the call
	// and keep reporting id 0 for them, so callers must not relabel them.
	SetChangeID(sector int, id types.ChangeID) error
	// SectorData copies the sector content into buf.
	SectorData(sector int, buf []byte) error
	// SetSectorData durably stores data under id. The previous content stays
	// readable until the call returns.
	SetSectorData(sector int, data []byte, id types.ChangeID) error
	// ForEachBlock calls fn for every sector with its current change id, in
	// ascending sector order. Iteration stops at the first error.
	ForEachBlock(fn func(sector int, id types.ChangeID) error) error
	Close() error
}

// Completer is implemented by stores that want to know when every sector
// carries the same change id.
type Completer interface {
	NotifyComplete(id types.ChangeID)
}

// CheckSector validates a sector index against the sector count.
func CheckSector(sector, count int) error {
	if sector < 0 || sector >= count {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, sector, count)
	}
	return nil
}

// CheckBuffer validates that buf holds exactly one sector.
func CheckBuffer(buf []byte) error {
	if len(buf) != types.SectorSize {
		return fmt.Errorf("%w: %d bytes", ErrSectorSize, len(buf))
	}
	return nil
}
