// Package transport frames block sync packets into datagrams and moves them
// over UDP broadcast, or in process for tests and simulations.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/spacemeshos/go-bdsync/wire"
)

// Magic starts every datagram.
const Magic uint32 = 0x1A014AF5

const (
	headerSize  = 8
	trailerSize = 4
	// MaxDatagram is the largest UDP payload over IPv4. Bitmaps of large
	// images are the biggest packets.
	MaxDatagram = 65507
)

var (
	ErrBadMagic    = errors.New("bad magic")
	ErrBadChecksum = errors.New("checksum mismatch")
	ErrTruncated   = errors.New("truncated datagram")
)

// Envelope is a framed packet.
type Envelope struct {
	Stream  uint16
	Type    wire.PacketType
	Subtype wire.Subtype
	Payload []byte
}

// Frame encodes e as
//
//	magic u32 | stream u16 | type u8 | subtype u8 | payload | crc32 u32
//
// with all integers big endian and the checksum covering everything before it.
func (e *Envelope) Frame() []byte {
	buf := make([]byte, headerSize+len(e.Payload)+trailerSize)
	binary.BigEndian.PutUint32(buf[0:], Magic)
	binary.BigEndian.PutUint16(buf[4:], e.Stream)
	buf[6] = byte(e.Type)
	buf[7] = byte(e.Subtype)
	copy(buf[headerSize:], e.Payload)
	body := buf[:len(buf)-trailerSize]
	binary.BigEndian.PutUint32(buf[len(body):], crc32.ChecksumIEEE(body))
	return buf
}

// Unframe parses a datagram. The payload aliases buf.
func Unframe(buf []byte) (*Envelope, error) {
	if len(buf) < headerSize+trailerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(buf))
	}
	if m := binary.BigEndian.Uint32(buf); m != Magic {
		return nil, fmt.Errorf("%w: %#x", ErrBadMagic, m)
	}
	body := buf[:len(buf)-trailerSize]
	if crc32.ChecksumIEEE(body) != binary.BigEndian.Uint32(buf[len(body):]) {
		return nil, ErrBadChecksum
	}
	return &Envelope{
		Stream:  binary.BigEndian.Uint16(buf[4:]),
		Type:    wire.PacketType(buf[6]),
		Subtype: wire.Subtype(buf[7]),
		Payload: body[headerSize:],
	}, nil
}

// Wrap frames a block sync packet for stream.
func Wrap(stream uint16, p wire.Packet) *Envelope {
	return &Envelope{
		Stream:  stream,
		Type:    wire.TypeBDSync,
		Subtype: p.Subtype(),
		Payload: p.Encode(),
	}
}
