package types

import (
	"strconv"
	"time"
)

// ChangeID is the version stamp carried by every sector. It is derived from the
// sender's wall clock (seconds since the unix epoch) and compared as a plain
// integer.
type ChangeID uint32

const (
	// NoChangeID is reported for sectors that were never written.
	NoChangeID = ChangeID(0)
	// MaxChangeID is the largest representable change id.
	MaxChangeID = ChangeID(^uint32(0))
)

// ChangeIDFromTime converts a wall clock reading to a change id.
func ChangeIDFromTime(t time.Time) ChangeID {
	return ChangeID(uint32(t.Unix()))
}

// Uint32 returns the id as uint32.
func (id ChangeID) Uint32() uint32 {
	return uint32(id)
}

// Time converts the id back to the wall clock time it was derived from.
func (id ChangeID) Time() time.Time {
	return time.Unix(int64(id), 0)
}

// Sub returns the id that lies d before id, saturating at NoChangeID.
func (id ChangeID) Sub(d time.Duration) ChangeID {
	secs := uint64(d / time.Second)
	if secs >= uint64(id) {
		return NoChangeID
	}
	return id - ChangeID(secs)
}

func (id ChangeID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}
