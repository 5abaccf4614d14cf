// Package senderstate tracks the image served by the sender: the snapshot
// of the last processed image and the change id each sector was last
// modified at. Both are persisted next to each other and survive crashes.
package senderstate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-bdsync/common/types"
)

const (
	SnapshotSuffix = ".lastprocessed"
	StampsSuffix   = ".timestamp"
	LockSuffix     = ".lock"
)

// ErrLocked is returned when another process owns the state prefix.
var ErrLocked = errors.New("sender state is locked by another process")

type Opt func(*State)

func WithLogger(logger *zap.Logger) Opt {
	return func(s *State) {
		s.logger = logger
	}
}

// WithImageFs sets the filesystem the image is read from.
func WithImageFs(fs afero.Fs) Opt {
	return func(s *State) {
		s.imageFs = fs
	}
}

// State is the sender side view of the image. It is not safe for concurrent
// use.
type State struct {
	logger  *zap.Logger
	imageFs afero.Fs
	stateFs afero.Fs

	image   string
	prefix  string
	size    int
	sectors int

	lock     *flock.Flock
	snapshot []byte
	stamps   []types.ChangeID
	current  types.ChangeID
}

// Open locks the state prefix and loads the persisted state. Without a
// snapshot the image itself is the starting point; without a valid stamp
// table every sector is stamped with now.
func Open(image, prefix string, size int, now time.Time, opts ...Opt) (*State, error) {
	s := &State{
		logger:  zap.NewNop(),
		imageFs: afero.NewReadOnlyFs(afero.NewOsFs()),
		stateFs: afero.NewOsFs(),
		image:   image,
		prefix:  prefix,
		size:    size,
		sectors: types.SectorCount(size),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sectors == 0 {
		return nil, fmt.Errorf("image size %d holds no sector", size)
	}
	if err := s.acquire(); err != nil {
		return nil, err
	}
	if err := s.load(now); err != nil {
		s.Close()
		return nil, err
	}
	s.logger.Info("sender state loaded",
		zap.String("image", image),
		zap.String("prefix", prefix),
		zap.Int("sectors", s.sectors),
		zap.Stringer("change_id", s.current),
	)
	return s, nil
}

func (s *State) acquire() error {
	path := s.prefix + LockSuffix
	if err := s.stateFs.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("flock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLocked, fl.Path())
	}
	s.lock = fl
	return nil
}

func (s *State) load(now time.Time) error {
	snapshot, err := s.read(s.stateFs, s.prefix+SnapshotSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("no snapshot found, starting from the image")
		snapshot, err = s.read(s.imageFs, s.image)
	}
	if err != nil {
		return err
	}
	s.snapshot = snapshot

	s.stamps = make([]types.ChangeID, s.sectors)
	stamp := types.ChangeIDFromTime(now)
	for i := range s.stamps {
		s.stamps[i] = stamp
	}
	buf, err := afero.ReadFile(s.stateFs, s.prefix+StampsSuffix)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Info("no stamp table found, stamping every sector", zap.Stringer("change_id", stamp))
	case err != nil:
		return fmt.Errorf("read stamps: %w", err)
	default:
		stored, err := unmarshalStamps(buf)
		if err != nil {
			s.logger.Warn("ignoring stamp table", zap.Error(err))
			break
		}
		if len(stored) != s.sectors {
			s.logger.Warn("stamp table size differs from image",
				zap.Int("stamps", len(stored)),
				zap.Int("sectors", s.sectors),
			)
		}
		copy(s.stamps, stored)
	}
	for _, id := range s.stamps {
		s.current = max(s.current, id)
	}
	return nil
}

// read loads path, truncated to the declared size and padded to whole
// erased sectors.
func (s *State) read(fsys afero.Fs, path string) ([]byte, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	buf := make([]byte, s.sectors*types.SectorSize)
	n, err := io.ReadFull(f, buf[:s.size])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0xff
	}
	if n == s.size {
		var extra [1]byte
		if m, _ := f.Read(extra[:]); m > 0 {
			s.logger.Warn("image is larger than the configured size, truncating",
				zap.String("path", path),
				zap.Int("size", s.size),
			)
		}
	}
	return buf, nil
}

// Update re-reads the image and stamps every sector that differs from the
// snapshot. The stamp table and then the snapshot are replaced atomically.
// It reports whether any sector changed.
func (s *State) Update(now time.Time) (bool, error) {
	next, err := s.read(s.imageFs, s.image)
	if err != nil {
		return false, err
	}
	// ids must grow even if the clock does not
	id := max(types.ChangeIDFromTime(now), s.current+1)
	stamps := make([]types.ChangeID, s.sectors)
	copy(stamps, s.stamps)
	changed := 0
	for i := range stamps {
		lo, hi := i*types.SectorSize, (i+1)*types.SectorSize
		if !bytes.Equal(s.snapshot[lo:hi], next[lo:hi]) {
			stamps[i] = id
			changed++
		}
	}
	if changed == 0 {
		s.logger.Debug("image unchanged")
		return false, nil
	}
	buf, err := marshalStamps(stamps)
	if err != nil {
		return false, err
	}
	if err := atomic.WriteFile(s.prefix+StampsSuffix, bytes.NewReader(buf)); err != nil {
		return false, fmt.Errorf("write stamps: %w", err)
	}
	if err := atomic.WriteFile(s.prefix+SnapshotSuffix, bytes.NewReader(next)); err != nil {
		return false, fmt.Errorf("write snapshot: %w", err)
	}
	s.snapshot, s.stamps, s.current = next, stamps, id
	s.logger.Info("image changed",
		zap.Int("sectors", changed),
		zap.Stringer("change_id", id),
	)
	return true, nil
}

func (s *State) SectorCount() int { return s.sectors }

// Current is the newest change id of any sector.
func (s *State) Current() types.ChangeID { return s.current }

// Stamps returns the change id of every sector. The slice must not be
// modified.
func (s *State) Stamps() []types.ChangeID { return s.stamps }

// Sector returns the snapshot content of sector i.
func (s *State) Sector(i int) []byte {
	return s.snapshot[i*types.SectorSize : (i+1)*types.SectorSize]
}

// Close releases the lock.
func (s *State) Close() error {
	if s.lock == nil {
		return nil
	}
	err := s.lock.Unlock()
	s.lock = nil
	if err != nil {
		return fmt.Errorf("unlock %s: %w", s.prefix+LockSuffix, err)
	}
	return nil
}
