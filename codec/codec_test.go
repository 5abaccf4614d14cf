package codec

import (
	"testing"

	"github.com/spacemeshos/go-scale"
	"github.com/stretchr/testify/require"
)

type pair struct {
	A uint32
	B uint8
}

func (p *pair) EncodeScale(e *scale.Encoder) (int, error) {
	n, err := scale.EncodeCompact32(e, p.A)
	if err != nil {
		return n, err
	}
	m, err := scale.EncodeCompact8(e, p.B)
	return n + m, err
}

func (p *pair) DecodeScale(d *scale.Decoder) (int, error) {
	a, n, err := scale.DecodeCompact32(d)
	if err != nil {
		return n, err
	}
	b, m, err := scale.DecodeCompact8(d)
	p.A, p.B = a, b
	return n + m, err
}

func TestEncodeDecode(t *testing.T) {
	buf, err := Encode(&pair{A: 1 << 20, B: 3})
	require.NoError(t, err)

	var got pair
	require.NoError(t, Decode(buf, &got))
	require.Equal(t, pair{A: 1 << 20, B: 3}, got)

	require.ErrorContains(t, Decode(append(buf, 0), &got), "trailing")
	require.Error(t, Decode(buf[:1], &got))
}
