// Package codec wraps go-scale for the few persistent records of the sender.
package codec

import (
	"bytes"
	"fmt"

	"github.com/spacemeshos/go-scale"
)

// Encode returns the scale encoding of r.
func Encode(r scale.Encodable) ([]byte, error) {
	var b bytes.Buffer
	if _, err := r.EncodeScale(scale.NewEncoder(&b)); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return b.Bytes(), nil
}

// Decode fills r from buf. The whole buffer must be consumed.
func Decode(buf []byte, r scale.Decodable) error {
	rd := bytes.NewReader(buf)
	if _, err := r.DecodeScale(scale.NewDecoder(rd)); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if rd.Len() != 0 {
		return fmt.Errorf("decode: %d trailing bytes", rd.Len())
	}
	return nil
}
