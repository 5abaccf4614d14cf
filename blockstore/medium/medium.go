// Package medium emulates an erase-block storage device (NOR flash) on top of
// a file. Erasing sets a block to 0xFF and writes can only clear bits, so an
// interrupted write never produces bits that were not already set.
package medium

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"

	"github.com/spacemeshos/go-bdsync/common/types"
	"github.com/spacemeshos/go-bdsync/metrics"
)

// BlockSize is the erase granularity of the medium.
const BlockSize = types.SectorSize

var (
	ErrUnaligned   = errors.New("erase range is not block aligned")
	ErrOutOfBounds = errors.New("access beyond end of medium")
)

const subsystem = "medium"

var (
	erases       = metrics.NewCounter("erases_total", subsystem, "Number of erased blocks", []string{})
	bytesWritten = metrics.NewCounter("written_bytes_total", subsystem, "Number of bytes programmed", []string{})
)

// Medium is a block device with flash write semantics.
type Medium interface {
	io.ReaderAt
	// WriteAt programs p at off. The stored value is the bitwise AND of
	// the previous content and p.
	WriteAt(p []byte, off int64) (int, error)
	// Erase resets n bytes at off to 0xFF. Both must be multiples of BlockSize.
	Erase(off, n int64) error
	Size() int64
	Sync() error
	Close() error
}

// File is a Medium backed by an afero file.
type File struct {
	f    afero.File
	size int64
	buf  []byte
}

// Open opens or creates the backing file at path and makes sure it is at
// least size bytes long. Regions that did not exist before read as erased.
func Open(fs afero.Fs, path string, size int64) (*File, error) {
	if size <= 0 || size%BlockSize != 0 {
		return nil, fmt.Errorf("medium size %d is not a positive multiple of %d", size, BlockSize)
	}
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open medium %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat medium %s: %w", path, err)
	}
	m := &File{f: f, size: size}
	if have := info.Size(); have < size {
		start := have / BlockSize * BlockSize
		if err := m.fill(start, size-start); err != nil {
			f.Close()
			return nil, fmt.Errorf("extend medium %s: %w", path, err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, fmt.Errorf("sync medium %s: %w", path, err)
		}
	}
	return m, nil
}

func (m *File) Size() int64 { return m.size }

func (m *File) check(off, n int64) error {
	if off < 0 || n < 0 || off+n > m.size {
		return fmt.Errorf("%w: [%d, %d) size %d", ErrOutOfBounds, off, off+n, m.size)
	}
	return nil
}

func (m *File) ReadAt(p []byte, off int64) (int, error) {
	if err := m.check(off, int64(len(p))); err != nil {
		return 0, err
	}
	n, err := m.f.ReadAt(p, off)
	if err != nil {
		return n, fmt.Errorf("read medium at %d: %w", off, err)
	}
	return n, nil
}

func (m *File) WriteAt(p []byte, off int64) (int, error) {
	if err := m.check(off, int64(len(p))); err != nil {
		return 0, err
	}
	if cap(m.buf) < len(p) {
		m.buf = make([]byte, len(p))
	}
	cur := m.buf[:len(p)]
	if _, err := m.f.ReadAt(cur, off); err != nil {
		return 0, fmt.Errorf("read medium at %d: %w", off, err)
	}
	for i := range cur {
		cur[i] &= p[i]
	}
	n, err := m.f.WriteAt(cur, off)
	if err != nil {
		return n, fmt.Errorf("write medium at %d: %w", off, err)
	}
	bytesWritten.WithLabelValues().Add(float64(n))
	return n, nil
}

func (m *File) Erase(off, n int64) error {
	if off%BlockSize != 0 || n%BlockSize != 0 {
		return fmt.Errorf("%w: [%d, %d)", ErrUnaligned, off, off+n)
	}
	if err := m.check(off, n); err != nil {
		return err
	}
	if err := m.fill(off, n); err != nil {
		return fmt.Errorf("erase medium at %d: %w", off, err)
	}
	erases.WithLabelValues().Add(float64(n / BlockSize))
	return nil
}

func (m *File) fill(off, n int64) error {
	erased := types.Erased()
	for done := int64(0); done < n; done += BlockSize {
		if _, err := m.f.WriteAt(erased, off+done); err != nil {
			return err
		}
	}
	return nil
}

func (m *File) Sync() error {
	if err := m.f.Sync(); err != nil {
		return fmt.Errorf("sync medium: %w", err)
	}
	return nil
}

func (m *File) Close() error {
	return m.f.Close()
}
