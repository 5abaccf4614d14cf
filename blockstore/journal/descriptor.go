package journal

import (
	"encoding/binary"

	"github.com/spacemeshos/go-bdsync/common/types"
)

const (
	descSize      = 8
	descsPerBlock = blockSize / descSize

	// physical and virtual sector numbers are 12 bits wide.
	maxSectorIndex = 1<<12 - 1
)

type slotState uint8

const (
	slotEmpty slotState = iota
	slotValid
	slotInvalid
)

func (s slotState) String() string {
	switch s {
	case slotEmpty:
		return "empty"
	case slotValid:
		return "valid"
	default:
		return "invalid"
	}
}

// descriptor binds a virtual sector to the physical sector holding its data.
//
// On the medium it is stored little-endian as
//
//	changeId u32 | phys:12 virt:12 | checksum u8
type descriptor struct {
	ChangeID types.ChangeID
	Phys     uint16
	Virt     uint16
}

type slot struct {
	desc  descriptor
	state slotState
}

func (d descriptor) encode() [descSize]byte {
	var b [descSize]byte
	binary.LittleEndian.PutUint32(b[0:], d.ChangeID.Uint32())
	b[4] = byte(d.Phys)
	b[5] = byte(d.Phys>>8)&0x0f | byte(d.Virt&0x0f)<<4
	b[6] = byte(d.Virt >> 4)
	b[7] = checksum(b[:descSize-1])
	return b
}

func decodeSlot(b []byte) slot {
	if erased(b) {
		return slot{state: slotEmpty}
	}
	if checksum(b[:descSize-1]) != b[descSize-1] {
		return slot{state: slotInvalid}
	}
	return slot{
		desc: descriptor{
			ChangeID: types.ChangeID(binary.LittleEndian.Uint32(b[0:])),
			Phys:     uint16(b[4]) | uint16(b[5]&0x0f)<<8,
			Virt:     uint16(b[5]>>4) | uint16(b[6])<<4,
		},
		state: slotValid,
	}
}

// checksum is the byte sum with the carry folded back once.
func checksum(b []byte) byte {
	sum := 0
	for _, v := range b {
		sum += int(v)
	}
	return byte((sum & 0xff) + (sum >> 8))
}

func erased(b []byte) bool {
	for _, v := range b {
		if v != 0xff {
			return false
		}
	}
	return true
}
