// Package wire implements the payload formats of the block sync protocol.
//
// All multi-byte fields are in network byte order. The transport prefixes
// every payload with a packet type and a subtype; this package only deals
// with what follows.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/spacemeshos/go-bdsync/common/types"
)

// PacketType is the high level packet type of the envelope.
type PacketType uint8

const (
	TypeHousekeeping PacketType = 0
	TypeBDSync       PacketType = 1
	TypeSubtitles    PacketType = 2
)

// Subtype identifies the block sync packet carried by a BDSync envelope.
type Subtype uint8

const (
	SubtypeBitmap Subtype = iota
	SubtypeOlderMarker
	SubtypeChange
	SubtypeCatalogPointer
)

func (s Subtype) String() string {
	switch s {
	case SubtypeBitmap:
		return "bitmap"
	case SubtypeOlderMarker:
		return "oldermarker"
	case SubtypeChange:
		return "change"
	case SubtypeCatalogPointer:
		return "catalogptr"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

const (
	bitmapHeaderSize   = 8
	olderMarkerSize    = 12
	changeHeaderSize   = 6
	catalogPointerSize = 4

	// ChangeSize is the payload size of a Change packet.
	ChangeSize = changeHeaderSize + types.SectorSize
)

var (
	ErrShortPacket    = errors.New("packet too short")
	ErrLongPacket     = errors.New("packet too long")
	ErrUnknownSubtype = errors.New("unknown packet subtype")
)

// Packet is a decoded block sync packet.
type Packet interface {
	Subtype() Subtype
	Encode() []byte
}

// Bitmap tells receivers that every flagged sector they hold at ChangeIDOrig or
// later may be relabeled to ChangeIDNew without new data.
type Bitmap struct {
	ChangeIDOrig types.ChangeID
	ChangeIDNew  types.ChangeID
	Sectors      *bitset.BitSet
}

func (*Bitmap) Subtype() Subtype { return SubtypeBitmap }

// Flagged reports whether sector i is eligible for relabeling.
func (b *Bitmap) Flagged(i int) bool {
	return b.Sectors != nil && b.Sectors.Test(uint(i))
}

// Len returns the number of sectors the bitmap covers.
func (b *Bitmap) Len() int {
	if b.Sectors == nil {
		return 0
	}
	return int(b.Sectors.Len())
}

// Encode serializes the bitmap. Bits past the last sector in the final byte are
// set to 1.
func (b *Bitmap) Encode() []byte {
	n := b.Len()
	buf := make([]byte, bitmapHeaderSize+types.BitmapLen(n))
	binary.BigEndian.PutUint32(buf[0:], b.ChangeIDOrig.Uint32())
	binary.BigEndian.PutUint32(buf[4:], b.ChangeIDNew.Uint32())
	bits := buf[bitmapHeaderSize:]
	if b.Sectors != nil {
		for i, ok := b.Sectors.NextSet(0); ok && int(i) < n; i, ok = b.Sectors.NextSet(i + 1) {
			bits[i/8] |= 1 << (i & 7)
		}
	}
	if n&7 != 0 {
		bits[n/8] |= 0xff << (n & 7)
	}
	return buf
}

// DecodeBitmap parses a Bitmap payload. The resulting bit vector covers every
// bit carried by the payload, pad bits included.
func DecodeBitmap(payload []byte) (*Bitmap, error) {
	if len(payload) < bitmapHeaderSize {
		return nil, fmt.Errorf("bitmap: %w: %d bytes", ErrShortPacket, len(payload))
	}
	bits := payload[bitmapHeaderSize:]
	set := bitset.New(uint(len(bits) * 8))
	for i, v := range bits {
		for j := 0; j < 8; j++ {
			if v&(1<<j) != 0 {
				set.Set(uint(i*8 + j))
			}
		}
	}
	return &Bitmap{
		ChangeIDOrig: types.ChangeID(binary.BigEndian.Uint32(payload[0:])),
		ChangeIDNew:  types.ChangeID(binary.BigEndian.Uint32(payload[4:])),
		Sectors:      set,
	}, nil
}

// OlderMarker announces the backlog range that will be sent later in the cycle.
type OlderMarker struct {
	// OldestNewTs is the change id of the newest sector left out of the fresh
	// section. Zero means the fresh section covers every sector.
	OldestNewTs types.ChangeID
	// SecIDStart and SecIDEnd delimit the backlog range [start, end), wrapping
	// at the sector count.
	SecIDStart uint16
	SecIDEnd   uint16
	// Delay until the backlog section starts.
	Delay time.Duration
}

func (*OlderMarker) Subtype() Subtype { return SubtypeOlderMarker }

func (m *OlderMarker) Encode() []byte {
	buf := make([]byte, olderMarkerSize)
	binary.BigEndian.PutUint32(buf[0:], m.OldestNewTs.Uint32())
	binary.BigEndian.PutUint16(buf[4:], m.SecIDStart)
	binary.BigEndian.PutUint16(buf[6:], m.SecIDEnd)
	binary.BigEndian.PutUint32(buf[8:], durationToMs(m.Delay))
	return buf
}

func DecodeOlderMarker(payload []byte) (*OlderMarker, error) {
	if len(payload) < olderMarkerSize {
		return nil, fmt.Errorf("oldermarker: %w: %d bytes", ErrShortPacket, len(payload))
	}
	return &OlderMarker{
		OldestNewTs: types.ChangeID(binary.BigEndian.Uint32(payload[0:])),
		SecIDStart:  binary.BigEndian.Uint16(payload[4:]),
		SecIDEnd:    binary.BigEndian.Uint16(payload[6:]),
		Delay:       msToDuration(binary.BigEndian.Uint32(payload[8:])),
	}, nil
}

// Change carries the content of one sector at the cycle's change id.
type Change struct {
	ChangeID types.ChangeID
	Sector   uint16
	Data     []byte
}

func (*Change) Subtype() Subtype { return SubtypeChange }

func (c *Change) Encode() []byte {
	buf := make([]byte, ChangeSize)
	binary.BigEndian.PutUint32(buf[0:], c.ChangeID.Uint32())
	binary.BigEndian.PutUint16(buf[4:], c.Sector)
	copy(buf[changeHeaderSize:], c.Data)
	return buf
}

// DecodeChange parses a Change payload. Data aliases the payload.
func DecodeChange(payload []byte) (*Change, error) {
	switch {
	case len(payload) < ChangeSize:
		return nil, fmt.Errorf("change: %w: %d bytes", ErrShortPacket, len(payload))
	case len(payload) > ChangeSize:
		return nil, fmt.Errorf("change: %w: %d bytes", ErrLongPacket, len(payload))
	}
	return &Change{
		ChangeID: types.ChangeID(binary.BigEndian.Uint32(payload[0:])),
		Sector:   binary.BigEndian.Uint16(payload[4:]),
		Data:     payload[changeHeaderSize:],
	}, nil
}

// CatalogPointer announces the time until the next cycle starts.
type CatalogPointer struct {
	Delay time.Duration
}

func (*CatalogPointer) Subtype() Subtype { return SubtypeCatalogPointer }

func (p *CatalogPointer) Encode() []byte {
	buf := make([]byte, catalogPointerSize)
	binary.BigEndian.PutUint32(buf, durationToMs(p.Delay))
	return buf
}

func DecodeCatalogPointer(payload []byte) (*CatalogPointer, error) {
	if len(payload) < catalogPointerSize {
		return nil, fmt.Errorf("catalogptr: %w: %d bytes", ErrShortPacket, len(payload))
	}
	return &CatalogPointer{Delay: msToDuration(binary.BigEndian.Uint32(payload))}, nil
}

// Decode parses the payload of a BDSync envelope.
func Decode(subtype Subtype, payload []byte) (Packet, error) {
	var (
		p   Packet
		err error
	)
	switch subtype {
	case SubtypeBitmap:
		p, err = DecodeBitmap(payload)
	case SubtypeOlderMarker:
		p, err = DecodeOlderMarker(payload)
	case SubtypeChange:
		p, err = DecodeChange(payload)
	case SubtypeCatalogPointer:
		p, err = DecodeCatalogPointer(payload)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownSubtype, subtype)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func durationToMs(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ms)
}

func msToDuration(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
