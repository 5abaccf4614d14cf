package decoder

import "github.com/spacemeshos/go-bdsync/common/types"

// Cache is the change id view the decoder works on. *idcache.Cache
// implements it.
type Cache interface {
	SectorCount() int
	Get(sector int) (types.ChangeID, error)
	Set(sector int, id types.ChangeID) error
	SetSectorData(sector int, data []byte, id types.ChangeID) error
	Oldest() (types.ChangeID, error)
	AllAtLeast(id types.ChangeID) (bool, error)
}
