package scheduler

import (
	"context"
	"time"

	"github.com/spacemeshos/go-bdsync/common/types"
	"github.com/spacemeshos/go-bdsync/wire"
)

//go:generate mockgen -typed -package=scheduler -destination=./mocks_test.go -source=./interface.go

// Broadcaster puts packets on the broadcast medium.
type Broadcaster interface {
	Broadcast(ctx context.Context, p wire.Packet) error
}

// Source is the image being served. *senderstate.State implements it.
type Source interface {
	Update(now time.Time) (bool, error)
	SectorCount() int
	Current() types.ChangeID
	Stamps() []types.ChangeID
	Sector(i int) []byte
}
