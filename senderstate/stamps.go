package senderstate

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/spacemeshos/go-scale"

	"github.com/spacemeshos/go-bdsync/codec"
	"github.com/spacemeshos/go-bdsync/common/types"
	"github.com/spacemeshos/go-bdsync/hash"
)

const (
	stampsVersion = 1
	// maxStamps bounds the allocation for a corrupt length prefix.
	maxStamps = 1 << 20
)

var ErrCorruptStamps = errors.New("corrupt stamp file")

// stampTable is the persisted per-sector change id table.
type stampTable struct {
	Version uint32
	Stamps  []types.ChangeID
}

func (t *stampTable) EncodeScale(e *scale.Encoder) (int, error) {
	total := 0
	n, err := scale.EncodeCompact32(e, t.Version)
	if err != nil {
		return total, err
	}
	total += n
	n, err = scale.EncodeCompact32(e, uint32(len(t.Stamps)))
	if err != nil {
		return total, err
	}
	total += n
	for _, s := range t.Stamps {
		n, err = scale.EncodeUint32(e, s.Uint32())
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (t *stampTable) DecodeScale(d *scale.Decoder) (int, error) {
	total := 0
	v, n, err := scale.DecodeCompact32(d)
	if err != nil {
		return total, err
	}
	total += n
	t.Version = v
	count, n, err := scale.DecodeCompact32(d)
	if err != nil {
		return total, err
	}
	total += n
	if count > maxStamps {
		return total, fmt.Errorf("%d stamps exceed limit %d", count, maxStamps)
	}
	t.Stamps = make([]types.ChangeID, count)
	for i := range t.Stamps {
		s, n, err := scale.DecodeUint32(d)
		if err != nil {
			return total, err
		}
		total += n
		t.Stamps[i] = types.ChangeID(s)
	}
	return total, nil
}

// marshalStamps encodes the table followed by its blake3 digest.
func marshalStamps(stamps []types.ChangeID) ([]byte, error) {
	buf, err := codec.Encode(&stampTable{Version: stampsVersion, Stamps: stamps})
	if err != nil {
		return nil, err
	}
	sum := hash.Sum(buf)
	return append(buf, sum[:]...), nil
}

func unmarshalStamps(buf []byte) ([]types.ChangeID, error) {
	if len(buf) < hash.Size {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptStamps, len(buf))
	}
	body, digest := buf[:len(buf)-hash.Size], buf[len(buf)-hash.Size:]
	if sum := hash.Sum(body); !bytes.Equal(sum[:], digest) {
		return nil, fmt.Errorf("%w: digest mismatch", ErrCorruptStamps)
	}
	var t stampTable
	if err := codec.Decode(body, &t); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptStamps, err)
	}
	if t.Version != stampsVersion {
		return nil, fmt.Errorf("%w: version %d", ErrCorruptStamps, t.Version)
	}
	return t.Stamps, nil
}
