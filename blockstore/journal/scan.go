package journal

import (
	"fmt"

	"go.uber.org/zap"
)

type run struct {
	start, length int
}

// load reads the descriptor region and rebuilds the ring window and the
// physical sector reference counts.
func (j *Journal) load() error {
	n := j.descBlocks * descsPerBlock
	raw := make([]byte, n*descSize)
	if _, err := j.m.ReadAt(raw, j.descOff); err != nil {
		return fmt.Errorf("read descriptors: %w", err)
	}
	j.slots = make([]slot, n)
	invalid := 0
	empty := 0
	for i := range j.slots {
		j.slots[i] = decodeSlot(raw[i*descSize : (i+1)*descSize])
		switch j.slots[i].state {
		case slotInvalid:
			invalid++
		case slotEmpty:
			empty++
		case slotValid:
			if int(j.slots[i].desc.Phys) >= j.dataBlocks {
				j.slots[i].state = slotInvalid
				invalid++
			}
		}
	}
	switch {
	case invalid > invalidTolerance:
		j.logger.Warn("descriptor region looks uninitialized, erasing", zap.Int("invalid", invalid))
		return j.format()
	case empty == 0:
		j.logger.Warn("descriptor region has no free slot, erasing")
		return j.format()
	case empty == n:
		j.start, j.pos = 0, 0
		return nil
	}

	runs := j.runs()
	best := runs[0]
	for _, r := range runs[1:] {
		if r.length > best.length {
			best = r
		}
	}
	if len(runs) > 1 {
		j.logger.Warn("descriptor ring has several runs, using the longest",
			zap.Int("runs", len(runs)),
			zap.Int("start", best.start),
			zap.Int("length", best.length),
		)
	}
	j.pos = (best.start + best.length) % n
	j.start = best.start / descsPerBlock * descsPerBlock
	if j.start != best.start {
		j.logger.Warn("descriptor ring start is not block aligned",
			zap.Int("start", best.start),
			zap.Int("aligned", j.start),
		)
	}
	if err := j.eraseOutside(); err != nil {
		return err
	}
	for i := range j.slots {
		if j.inWindow(i) && j.slots[i].state == slotValid {
			j.refs[j.slots[i].desc.Phys]++
		}
	}
	return nil
}

// runs returns the maximal sequences of non-empty slots, walking the ring
// from the first empty slot.
func (j *Journal) runs() []run {
	n := len(j.slots)
	first := 0
	for j.slots[first].state != slotEmpty {
		first++
	}
	var (
		runs []run
		cur  *run
	)
	for k := 1; k <= n; k++ {
		i := (first + k) % n
		if j.slots[i].state == slotEmpty {
			cur = nil
			continue
		}
		if cur == nil {
			runs = append(runs, run{start: i})
			cur = &runs[len(runs)-1]
		}
		cur.length++
	}
	return runs
}

// eraseOutside erases blocks that hold descriptors but do not intersect the
// live window.
func (j *Journal) eraseOutside() error {
	for b := 0; b < j.descBlocks; b++ {
		dirty, live := false, false
		for i := b * descsPerBlock; i < (b+1)*descsPerBlock; i++ {
			if j.inWindow(i) {
				live = true
				break
			}
			if j.slots[i].state != slotEmpty {
				dirty = true
			}
		}
		if live || !dirty {
			continue
		}
		j.logger.Warn("erasing stale descriptor block", zap.Int("block", b))
		if err := j.eraseBlock(b); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) format() error {
	if err := j.m.Erase(j.descOff, int64(j.descBlocks)*blockSize); err != nil {
		return fmt.Errorf("format descriptors: %w", err)
	}
	for i := range j.slots {
		j.slots[i] = slot{}
	}
	j.start, j.pos = 0, 0
	return j.m.Sync()
}

func (j *Journal) eraseBlock(b int) error {
	if err := j.m.Erase(j.descOff+int64(b)*blockSize, blockSize); err != nil {
		return fmt.Errorf("erase descriptor block %d: %w", b, err)
	}
	for i := b * descsPerBlock; i < (b+1)*descsPerBlock; i++ {
		j.slots[i] = slot{}
	}
	return nil
}
