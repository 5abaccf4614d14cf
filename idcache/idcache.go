// Package idcache keeps the change ids of the most recent versions in memory
// in front of a blockstore.BlockStore.
//
// Each level owns one change id and the set of sectors carrying it. A sector
// belongs to at most one level and no two levels share an id. Sectors not in
// any level are resolved by the store.
package idcache

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-bdsync/blockstore"
	"github.com/spacemeshos/go-bdsync/common/types"
)

const (
	DefaultLevels        = 5
	DefaultFlushInterval = 16
)

type level struct {
	id      types.ChangeID
	used    bool
	members *roaring.Bitmap
}

type Opt func(*Cache)

func WithLogger(logger *zap.Logger) Opt {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithLevels sets the number of change ids kept in memory.
func WithLevels(n int) Opt {
	return func(c *Cache) {
		c.levels = make([]level, n)
	}
}

// WithFlushInterval writes all cached ids to the store every n data writes.
func WithFlushInterval(n int) Opt {
	return func(c *Cache) {
		c.flushInterval = n
	}
}

// OnComplete registers fn to run when every sector carries the same id.
func OnComplete(fn func(types.ChangeID)) Opt {
	return func(c *Cache) {
		c.onComplete = fn
	}
}

// Cache is a write-back change id cache. It is not safe for concurrent use.
type Cache struct {
	logger        *zap.Logger
	flushInterval int
	onComplete    func(types.ChangeID)

	store   blockstore.BlockStore
	sectors int
	levels  []level

	// dirty sectors have a cached id the store does not know yet.
	dirty    *roaring.Bitmap
	writes   int
	notified types.ChangeID
	anyDone  bool
	seeding  bool
}

// New creates a cache in front of store and seeds it with the ids of every
// sector.
func New(store blockstore.BlockStore, opts ...Opt) (*Cache, error) {
	c := &Cache{
		logger:        zap.NewNop(),
		flushInterval: DefaultFlushInterval,
		store:         store,
		sectors:       store.SectorCount(),
		levels:        make([]level, DefaultLevels),
		dirty:         roaring.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.levels) == 0 {
		return nil, fmt.Errorf("idcache needs at least one level")
	}
	for i := range c.levels {
		c.levels[i].members = roaring.New()
	}
	c.seeding = true
	err := store.ForEachBlock(func(sector int, id types.ChangeID) error {
		_, err := c.record(sector, id, false)
		return err
	})
	c.seeding = false
	if err != nil {
		return nil, fmt.Errorf("seed cache: %w", err)
	}
	for _, l := range c.levels {
		if l.used {
			c.logger.Debug("cache level",
				zap.Stringer("change_id", l.id),
				zap.Uint64("sectors", l.members.GetCardinality()),
			)
		}
	}
	return c, nil
}

// SectorCount is the number of sectors in the image.
func (c *Cache) SectorCount() int { return c.sectors }

// Get returns the change id of sector.
func (c *Cache) Get(sector int) (types.ChangeID, error) {
	if err := blockstore.CheckSector(sector, c.sectors); err != nil {
		return 0, err
	}
	x := uint32(sector)
	for _, l := range c.levels {
		if l.used && l.members.Contains(x) {
			hits.Inc()
			return l.id, nil
		}
	}
	misses.Inc()
	id, err := c.store.ChangeID(sector)
	if err != nil {
		return 0, err
	}
	for i := range c.levels {
		l := &c.levels[i]
		if l.used && l.id == id {
			l.members.Add(x)
			return id, nil
		}
	}
	for i := range c.levels {
		l := &c.levels[i]
		if !l.used {
			l.id, l.used = id, true
			l.members.Add(x)
			return id, nil
		}
	}
	return id, nil
}

// Set records that sector carries id. The store learns about it on the next
// flush unless the id is too old to be cached.
func (c *Cache) Set(sector int, id types.ChangeID) error {
	if err := blockstore.CheckSector(sector, c.sectors); err != nil {
		return err
	}
	cached, err := c.record(sector, id, true)
	if err != nil {
		return err
	}
	if !cached {
		writeThroughs.WithLabelValues().Inc()
		if err := c.store.SetChangeID(sector, id); err != nil {
			return err
		}
	}
	return nil
}

// SectorData reads the sector content from the store.
func (c *Cache) SectorData(sector int, buf []byte) error {
	return c.store.SectorData(sector, buf)
}

// SetSectorData stores data with id and records the id.
func (c *Cache) SetSectorData(sector int, data []byte, id types.ChangeID) error {
	if err := c.store.SetSectorData(sector, data, id); err != nil {
		return err
	}
	if _, err := c.record(sector, id, false); err != nil {
		return err
	}
	c.writes++
	if c.flushInterval > 0 && c.writes%c.flushInterval == 0 {
		return c.Flush()
	}
	return nil
}

// record places sector in the level owning id. It returns false when id is
// older than every level and no level is free.
func (c *Cache) record(sector int, id types.ChangeID, dirty bool) (bool, error) {
	x := uint32(sector)
	var target *level
	newest := true
	for i := range c.levels {
		l := &c.levels[i]
		if !l.used {
			continue
		}
		if id <= l.id {
			newest = false
		}
		if l.id == id {
			target = l
		} else {
			l.members.Remove(x)
		}
	}
	if target == nil {
		target = c.free()
	}
	if target == nil && newest {
		var err error
		if target, err = c.evict(); err != nil {
			return false, err
		}
	}
	if target == nil {
		c.dirty.Remove(x)
		return false, nil
	}
	if !target.used {
		target.id, target.used = id, true
		target.members.Clear()
	}
	target.members.Add(x)
	if dirty {
		c.dirty.Add(x)
	} else {
		c.dirty.Remove(x)
	}
	if int(target.members.GetCardinality()) == c.sectors {
		return true, c.complete(target.id)
	}
	return true, nil
}

func (c *Cache) free() *level {
	for i := range c.levels {
		if !c.levels[i].used {
			return &c.levels[i]
		}
	}
	return nil
}

// evict writes back the level with the oldest id and releases it.
func (c *Cache) evict() (*level, error) {
	oldest := &c.levels[0]
	for i := range c.levels {
		if c.levels[i].id < oldest.id {
			oldest = &c.levels[i]
		}
	}
	pending := roaring.And(oldest.members, c.dirty)
	it := pending.Iterator()
	for it.HasNext() {
		if err := c.store.SetChangeID(int(it.Next()), oldest.id); err != nil {
			return nil, fmt.Errorf("write back level %v: %w", oldest.id, err)
		}
	}
	c.dirty.AndNot(pending)
	evictions.WithLabelValues().Inc()
	c.logger.Debug("evicted cache level",
		zap.Stringer("change_id", oldest.id),
		zap.Uint64("sectors", oldest.members.GetCardinality()),
		zap.Uint64("written_back", pending.GetCardinality()),
	)
	oldest.used = false
	oldest.members.Clear()
	return oldest, nil
}

func (c *Cache) complete(id types.ChangeID) error {
	if c.anyDone && c.notified == id {
		return nil
	}
	c.anyDone, c.notified = true, id
	if c.seeding {
		// already complete when the store was attached
		return nil
	}
	if err := c.Flush(); err != nil {
		return err
	}
	completions.WithLabelValues().Inc()
	c.logger.Info("every sector carries change id", zap.Stringer("change_id", id))
	if done, ok := c.store.(blockstore.Completer); ok {
		done.NotifyComplete(id)
	}
	if c.onComplete != nil {
		c.onComplete(id)
	}
	return nil
}

// Flush writes every cached id the store does not have yet.
func (c *Cache) Flush() error {
	if c.dirty.IsEmpty() {
		return nil
	}
	n := c.dirty.GetCardinality()
	for _, l := range c.levels {
		if !l.used {
			continue
		}
		pending := roaring.And(l.members, c.dirty)
		it := pending.Iterator()
		for it.HasNext() {
			if err := c.store.SetChangeID(int(it.Next()), l.id); err != nil {
				return fmt.Errorf("flush: %w", err)
			}
		}
		c.dirty.AndNot(pending)
	}
	flushes.WithLabelValues().Inc()
	c.logger.Debug("flushed change ids", zap.Uint64("sectors", n))
	return nil
}

// Oldest returns the smallest change id of any sector.
func (c *Cache) Oldest() (types.ChangeID, error) {
	oldest := types.MaxChangeID
	for sector := 0; sector < c.sectors; sector++ {
		id, err := c.Get(sector)
		if err != nil {
			return 0, err
		}
		oldest = min(oldest, id)
	}
	return oldest, nil
}

// AllAtLeast reports whether every sector carries id or a newer one.
func (c *Cache) AllAtLeast(id types.ChangeID) (bool, error) {
	var covered uint64
	for _, l := range c.levels {
		if l.used && l.id >= id {
			covered += l.members.GetCardinality()
		}
	}
	if int(covered) == c.sectors {
		return true, nil
	}
	for sector := 0; sector < c.sectors; sector++ {
		got, err := c.Get(sector)
		if err != nil {
			return false, err
		}
		if got < id {
			return false, nil
		}
	}
	return true, nil
}

// Close flushes the cache and closes the store.
func (c *Cache) Close() error {
	if err := c.Flush(); err != nil {
		c.store.Close()
		return err
	}
	return c.store.Close()
}
