// Package journal implements a log structured block store for erase-block
// media.
//
// The medium is split in a data region followed by a descriptor region. Every
// write puts the sector data in a free physical sector and then appends a
// descriptor binding the virtual sector to it. The descriptor region is a ring;
// the oldest block is compacted when free slots run low, carrying still current
// descriptors forward and releasing physical sectors that are no longer
// referenced.
package journal

import (
	"errors"
	"fmt"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-bdsync/blockstore"
	"github.com/spacemeshos/go-bdsync/blockstore/medium"
	"github.com/spacemeshos/go-bdsync/common/types"
)

const (
	blockSize = medium.BlockSize

	// invalidTolerance is the number of corrupt descriptors accepted at open.
	// Anything above it means the region was never initialized.
	invalidTolerance = 10

	// reserveSlots free slots are kept before every append so a compaction
	// can always relocate a full block.
	reserveSlots = descsPerBlock + 1

	defaultHintSize = 1024
)

var (
	// ErrJournalFull is returned when compaction cannot reclaim a descriptor
	// slot or physical sector.
	ErrJournalFull = errors.New("journal full")
	// ErrMediumTooSmall is returned when the medium cannot hold the image.
	ErrMediumTooSmall = errors.New("medium too small for image")
)

type Opt func(*Journal)

func WithLogger(logger *zap.Logger) Opt {
	return func(j *Journal) {
		j.logger = logger
	}
}

// WithHintCacheSize sets how many virtual sectors remember the slot of their
// latest descriptor.
func WithHintCacheSize(n int) Opt {
	return func(j *Journal) {
		j.hintSize = n
	}
}

// Journal is a blockstore.BlockStore on a medium.Medium.
type Journal struct {
	logger   *zap.Logger
	hintSize int

	m          medium.Medium
	sectors    int
	dataBlocks int
	descBlocks int
	descOff    int64

	slots      []slot
	start, pos int
	refs       []uint16
	searchPos  int

	hints *simplelru.LRU[int, int]
}

var _ blockstore.BlockStore = (*Journal)(nil)

// DescriptorBlocks returns the size of the descriptor region for an image of
// the given number of sectors.
func DescriptorBlocks(sectors int) int {
	return sectors*descSize/blockSize + 3
}

// MinMediumSize returns the smallest medium able to hold sectors.
func MinMediumSize(sectors int) int64 {
	return int64(sectors+1+DescriptorBlocks(sectors)) * blockSize
}

// Open loads the journal from m, initializing the descriptor region if it
// does not hold a usable journal.
func Open(m medium.Medium, sectors int, opts ...Opt) (*Journal, error) {
	j := &Journal{
		logger:   zap.NewNop(),
		hintSize: defaultHintSize,
		m:        m,
		sectors:  sectors,
	}
	for _, opt := range opts {
		opt(j)
	}
	if sectors <= 0 || sectors > maxSectorIndex+1 {
		return nil, fmt.Errorf("journal supports 1 to %d sectors, got %d", maxSectorIndex+1, sectors)
	}
	total := int(m.Size() / blockSize)
	j.descBlocks = DescriptorBlocks(sectors)
	j.dataBlocks = min(total-j.descBlocks, maxSectorIndex+1)
	if j.dataBlocks < sectors+1 {
		return nil, fmt.Errorf("%w: %d blocks, need %d", ErrMediumTooSmall, total, MinMediumSize(sectors)/blockSize)
	}
	j.descOff = int64(total-j.descBlocks) * blockSize
	hints, err := simplelru.NewLRU[int, int](j.hintSize, nil)
	if err != nil {
		return nil, fmt.Errorf("hint cache: %w", err)
	}
	j.hints = hints
	j.refs = make([]uint16, j.dataBlocks)
	if err := j.load(); err != nil {
		return nil, err
	}
	j.logger.Info("journal loaded",
		zap.Int("sectors", sectors),
		zap.Int("data_blocks", j.dataBlocks),
		zap.Int("descriptor_blocks", j.descBlocks),
		zap.Int("descriptors", len(j.slots)),
		zap.Int("in_use", j.used()),
	)
	j.updateGauges()
	return j, nil
}

func (j *Journal) SectorCount() int { return j.sectors }

func (j *Journal) ChangeID(sector int) (types.ChangeID, error) {
	if err := blockstore.CheckSector(sector, j.sectors); err != nil {
		return 0, err
	}
	i := j.lookup(sector)
	if i < 0 {
		return types.NoChangeID, nil
	}
	return j.slots[i].desc.ChangeID, nil
}

// SetChangeID appends a descriptor pointing at the current physical sector
// with the new id. Sectors that were never written are left alone.
func (j *Journal) SetChangeID(sector int, id types.ChangeID) error {
	if err := blockstore.CheckSector(sector, j.sectors); err != nil {
		return err
	}
	i := j.lookup(sector)
	if i < 0 {
		j.logger.Debug("change id for unwritten sector ignored",
			zap.Int("sector", sector),
			zap.Stringer("change_id", id),
		)
		return nil
	}
	d := j.slots[i].desc
	if d.ChangeID == id {
		return nil
	}
	d.ChangeID = id
	return j.append(d)
}

func (j *Journal) SectorData(sector int, buf []byte) error {
	if err := blockstore.CheckSector(sector, j.sectors); err != nil {
		return err
	}
	if err := blockstore.CheckBuffer(buf); err != nil {
		return err
	}
	i := j.lookup(sector)
	if i < 0 {
		copy(buf, types.Erased())
		return nil
	}
	if _, err := j.m.ReadAt(buf, int64(j.slots[i].desc.Phys)*blockSize); err != nil {
		return fmt.Errorf("read sector %d: %w", sector, err)
	}
	return nil
}

// SetSectorData writes data to a free physical sector and commits it with a
// new descriptor. The data is durable before the descriptor is written.
func (j *Journal) SetSectorData(sector int, data []byte, id types.ChangeID) error {
	if err := blockstore.CheckSector(sector, j.sectors); err != nil {
		return err
	}
	if err := blockstore.CheckBuffer(data); err != nil {
		return err
	}
	phys, err := j.allocate()
	if err != nil {
		return err
	}
	off := int64(phys) * blockSize
	if err := j.m.Erase(off, blockSize); err != nil {
		return err
	}
	if _, err := j.m.WriteAt(data, off); err != nil {
		return err
	}
	if err := j.m.Sync(); err != nil {
		return err
	}
	return j.append(descriptor{ChangeID: id, Phys: uint16(phys), Virt: uint16(sector)})
}

// ForEachBlock resolves every sector in a single pass over the ring.
func (j *Journal) ForEachBlock(fn func(int, types.ChangeID) error) error {
	ids := make([]types.ChangeID, j.sectors)
	seen := make([]bool, j.sectors)
	n := len(j.slots)
	for k := j.used() - 1; k >= 0; k-- {
		i := (j.start + k) % n
		s := j.slots[i]
		if s.state != slotValid || int(s.desc.Virt) >= j.sectors || seen[s.desc.Virt] {
			continue
		}
		seen[s.desc.Virt] = true
		ids[s.desc.Virt] = s.desc.ChangeID
	}
	for sector, id := range ids {
		if err := fn(sector, id); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) Close() error {
	if err := j.m.Sync(); err != nil {
		j.m.Close()
		return err
	}
	return j.m.Close()
}

func (j *Journal) used() int {
	n := len(j.slots)
	return (j.pos - j.start + n) % n
}

// free slots in the ring. start == pos always means an empty ring since
// appends keep at least one slot free.
func (j *Journal) free() int {
	return len(j.slots) - j.used()
}

func (j *Journal) inWindow(i int) bool {
	n := len(j.slots)
	return (i-j.start+n)%n < j.used()
}

// lookup returns the slot of the latest valid descriptor for sector, or -1.
func (j *Journal) lookup(sector int) int {
	if i, ok := j.hints.Get(sector); ok {
		if j.inWindow(i) && j.slots[i].state == slotValid && int(j.slots[i].desc.Virt) == sector {
			return i
		}
		j.hints.Remove(sector)
	}
	n := len(j.slots)
	for k := j.used() - 1; k >= 0; k-- {
		i := (j.start + k) % n
		if j.slots[i].state == slotValid && int(j.slots[i].desc.Virt) == sector {
			j.hints.Add(sector, i)
			return i
		}
	}
	return -1
}

// allocate finds an unreferenced physical sector, starting after the last
// allocated one.
func (j *Journal) allocate() (int, error) {
	for pass := 0; ; pass++ {
		for k := 1; k <= j.dataBlocks; k++ {
			p := (j.searchPos + k) % j.dataBlocks
			if j.refs[p] == 0 {
				j.searchPos = p
				return p, nil
			}
		}
		if pass > j.descBlocks || j.used() == 0 {
			return 0, fmt.Errorf("%w: no free physical sector", ErrJournalFull)
		}
		if err := j.compact(); err != nil {
			return 0, err
		}
	}
}

func (j *Journal) append(d descriptor) error {
	for pass := 0; j.free() < reserveSlots+1; pass++ {
		if pass > j.descBlocks {
			return fmt.Errorf("%w: %d free descriptors", ErrJournalFull, j.free())
		}
		if err := j.compact(); err != nil {
			return err
		}
	}
	if err := j.write(d); err != nil {
		return err
	}
	if err := j.m.Sync(); err != nil {
		return err
	}
	j.updateGauges()
	return nil
}

// write programs d at the head of the ring without syncing.
func (j *Journal) write(d descriptor) error {
	b := d.encode()
	if _, err := j.m.WriteAt(b[:], j.descOff+int64(j.pos)*descSize); err != nil {
		return fmt.Errorf("write descriptor %d: %w", j.pos, err)
	}
	j.slots[j.pos] = slot{desc: d, state: slotValid}
	j.refs[d.Phys]++
	j.hints.Add(int(d.Virt), j.pos)
	j.pos = (j.pos + 1) % len(j.slots)
	return nil
}

// compact rewrites the current descriptors of the oldest block at the head of
// the ring, then erases the block.
func (j *Journal) compact() error {
	n := len(j.slots)
	tail := j.start / descsPerBlock * descsPerBlock
	end := tail + descsPerBlock
	if j.pos >= tail && j.pos < end {
		// the window lives in a single block; relocate into the next one.
		for k := j.pos; k < end; k++ {
			if j.slots[k].state != slotEmpty {
				return fmt.Errorf("compact: unexpected %v descriptor %d ahead of head", j.slots[k].state, k)
			}
		}
		j.pos = end % n
	}
	var rel, dis int
	for i := tail; i < end; i++ {
		s := j.slots[i]
		if s.state != slotValid || !j.inWindow(i) {
			continue
		}
		if j.lookup(int(s.desc.Virt)) == i {
			if err := j.write(s.desc); err != nil {
				return err
			}
			rel++
		} else {
			dis++
		}
		j.refs[s.desc.Phys]--
	}
	if err := j.m.Sync(); err != nil {
		return err
	}
	if err := j.eraseBlock(tail / descsPerBlock); err != nil {
		return err
	}
	j.start = end % n
	compactions.WithLabelValues().Inc()
	relocated.Add(float64(rel))
	discarded.Add(float64(dis))
	j.logger.Debug("compacted descriptor block",
		zap.Int("block", tail/descsPerBlock),
		zap.Int("relocated", rel),
		zap.Int("discarded", dis),
		zap.Int("free", j.free()),
	)
	return nil
}

func (j *Journal) updateGauges() {
	freeDescriptors.Set(float64(j.free()))
	var free int
	for _, r := range j.refs {
		if r == 0 {
			free++
		}
	}
	freeSectors.Set(float64(free))
}
