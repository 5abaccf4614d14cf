// Package hash provides the blake3 digest used for integrity checks of
// persisted state.
package hash

import (
	"sync"

	"github.com/zeebo/blake3"
)

// Size of a digest in bytes.
const Size = 32

// hashers amortizes blake3 state allocations across digests.
var hashers = sync.Pool{
	New: func() any {
		return blake3.New()
	},
}

// Sum returns the blake3 digest of the concatenated chunks.
func Sum(chunks ...[]byte) [Size]byte {
	h := hashers.Get().(*blake3.Hasher)
	defer func() {
		h.Reset()
		hashers.Put(h)
	}()
	for _, c := range chunks {
		h.Write(c)
	}
	var out [Size]byte
	h.Sum(out[:0])
	return out
}
