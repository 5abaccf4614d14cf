package types

// SectorSize is the size of a single image sector in bytes.
const SectorSize = 4096

// SectorCount returns the number of sectors needed to hold size bytes.
func SectorCount(size int) int {
	return (size + SectorSize - 1) / SectorSize
}

// BitmapLen returns the number of bytes needed for one bit per sector.
func BitmapLen(sectors int) int {
	return (sectors + 7) / 8
}

// Erased returns a sector-sized buffer in the erased (all 0xFF) state.
func Erased() []byte {
	buf := make([]byte, SectorSize)
	for i := range buf {
		buf[i] = 0xff
	}
	return buf
}
