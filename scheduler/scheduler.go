// Package scheduler decides what the sender broadcasts in every cycle.
//
// A cycle starts with one bitmap per horizon, followed by an older marker and
// the change packets: the most recently modified sectors first, then a slice
// of the backlog rotation. Change packets are spread evenly over the cycle and
// interleaved with catalog pointers announcing the next cycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-bdsync/common/types"
	"github.com/spacemeshos/go-bdsync/wire"
)

// DefaultHorizons are the ages bitmaps are sent for, newest first.
var DefaultHorizons = []time.Duration{
	time.Minute,
	3 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
	15 * time.Minute,
	20 * time.Minute,
	30 * time.Minute,
	time.Hour,
	3 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
	48 * time.Hour,
}

// overrunTolerance is how far the clock may be from the announced cycle end
// before the next cycle is started from the current time instead.
const overrunTolerance = 3 * time.Second

func DefaultConfig() Config {
	return Config{
		PacketsPerMinute:       60,
		BacklogPercent:         30,
		CycleDuration:          time.Minute,
		CatalogPointerInterval: 8,
		Horizons:               slices.Clone(DefaultHorizons),
		FlashWriteDelay:        300 * time.Millisecond,
	}
}

type Config struct {
	// PacketsPerMinute is the change packet rate.
	PacketsPerMinute int `mapstructure:"packets-per-minute"`
	// BacklogPercent of every cycle's change packets go to the backlog rotation.
	BacklogPercent int `mapstructure:"backlog-percent"`
	// CycleDuration is the length of one cycle.
	CycleDuration time.Duration `mapstructure:"cycle-duration"`
	// CatalogPointerInterval is the number of change packets between two
	// catalog pointers.
	CatalogPointerInterval int `mapstructure:"catalog-pointer-interval"`
	// Horizons are the ages bitmaps are generated for.
	Horizons []time.Duration `mapstructure:"horizons"`
	// FlashWriteDelay is left idle after every change packet so receivers
	// can program the sector.
	FlashWriteDelay time.Duration `mapstructure:"flash-write-delay"`
}

func (c Config) Validate() error {
	switch {
	case c.PacketsPerMinute <= 0:
		return fmt.Errorf("packets-per-minute must be positive, got %d", c.PacketsPerMinute)
	case c.BacklogPercent < 0 || c.BacklogPercent > 100:
		return fmt.Errorf("backlog-percent must be within [0, 100], got %d", c.BacklogPercent)
	case c.CycleDuration <= 0:
		return fmt.Errorf("cycle-duration must be positive, got %v", c.CycleDuration)
	case c.CatalogPointerInterval <= 0:
		return fmt.Errorf("catalog-pointer-interval must be positive, got %d", c.CatalogPointerInterval)
	case c.FlashWriteDelay < 0:
		return fmt.Errorf("flash-write-delay must not be negative, got %v", c.FlashWriteDelay)
	}
	return nil
}

type Opt func(*Scheduler)

func WithLogger(logger *zap.Logger) Opt {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithConfig(cfg Config) Opt {
	return func(s *Scheduler) {
		s.cfg = cfg
	}
}

func WithClock(clock clockwork.Clock) Opt {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// WithCursor sets the first sector of the backlog rotation.
func WithCursor(cursor int) Opt {
	return func(s *Scheduler) {
		s.cursor = cursor
	}
}

// Scheduler runs broadcast cycles. It is not safe for concurrent use.
type Scheduler struct {
	logger *zap.Logger
	cfg    Config
	clock  clockwork.Clock

	src Source
	out Broadcaster

	cursor int
}

func New(src Source, out Broadcaster, opts ...Opt) *Scheduler {
	s := &Scheduler{
		logger: zap.NewNop(),
		cfg:    DefaultConfig(),
		clock:  clockwork.NewRealClock(),
		src:    src,
		out:    out,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cursor %= max(src.SectorCount(), 1)
	return s
}

// Cursor is the next sector of the backlog rotation.
func (s *Scheduler) Cursor() int { return s.cursor }

// Run runs cycles back to back until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	start := s.clock.Now()
	for {
		if err := s.RunCycle(ctx, start); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		// catalog pointers announced start+CycleDuration as the next cycle
		start = start.Add(s.cfg.CycleDuration)
		now := s.clock.Now()
		if drift := now.Sub(start); drift > overrunTolerance || drift < -overrunTolerance {
			s.logger.Warn("cycle schedule drifted, restarting it",
				zap.Duration("drift", drift),
			)
			start = now
		}
	}
}

// cyclePlan is the split of one cycle's change packets.
type cyclePlan struct {
	Order   []int
	Fresh   int
	Backlog int
	Marker  wire.OlderMarker
}

// order returns the sectors sorted by stamp, newest first, ties by index.
func order(stamps []types.ChangeID) []int {
	idx := make([]int, len(stamps))
	for i := range idx {
		idx[i] = i
	}
	slices.SortFunc(idx, func(a, b int) int {
		switch {
		case stamps[a] > stamps[b]:
			return -1
		case stamps[a] < stamps[b]:
			return 1
		}
		return a - b
	})
	return idx
}

// plan splits the change packets that fit in remaining between the fresh
// section and the backlog rotation.
func (s *Scheduler) plan(remaining time.Duration) cyclePlan {
	stamps := s.src.Stamps()
	n := len(stamps)
	total := int(int64(s.cfg.PacketsPerMinute) * int64(remaining) / int64(time.Minute))
	if s.cfg.FlashWriteDelay > 0 {
		// every change packet is followed by an idle flash write
		total = min(total, int(remaining/s.cfg.FlashWriteDelay))
	}
	total = max(total, 0)
	backlog := s.cfg.BacklogPercent * total / 100
	fresh := min(total-backlog, n)
	// a full rotation would make [start, end) empty
	backlog = min(backlog, n-1)
	p := cyclePlan{
		Order:   order(stamps),
		Fresh:   fresh,
		Backlog: backlog,
	}
	if fresh < n {
		p.Marker.OldestNewTs = stamps[p.Order[fresh]]
	}
	p.Marker.SecIDStart = uint16(s.cursor)
	p.Marker.SecIDEnd = uint16((s.cursor + backlog) % n)
	if pkt := fresh + backlog; pkt > 0 {
		p.Marker.Delay = time.Duration(int64(remaining) * int64(fresh) / int64(pkt))
	}
	return p
}

// RunCycle runs one cycle that ends CycleDuration after start.
func (s *Scheduler) RunCycle(ctx context.Context, start time.Time) error {
	end := start.Add(s.cfg.CycleDuration)
	now := s.clock.Now()
	if _, err := s.src.Update(now); err != nil {
		return fmt.Errorf("update image: %w", err)
	}
	current := s.src.Current()
	stamps := s.src.Stamps()
	n := len(stamps)
	if n == 0 {
		return errors.New("image has no sectors")
	}

	for _, h := range s.cfg.Horizons {
		orig := types.ChangeIDFromTime(s.clock.Now()).Sub(h)
		set := bitset.New(uint(n))
		for i, ts := range stamps {
			if ts < orig {
				set.Set(uint(i))
			}
		}
		if err := s.send(ctx, &wire.Bitmap{ChangeIDOrig: orig, ChangeIDNew: current, Sectors: set}); err != nil {
			return err
		}
	}

	remaining := end.Sub(s.clock.Now())
	p := s.plan(remaining)
	freshBudget.Set(float64(p.Fresh))
	backlogBudget.Set(float64(p.Backlog))
	s.logger.Debug("cycle planned",
		zap.Stringer("change_id", current),
		zap.Int("fresh", p.Fresh),
		zap.Int("backlog", p.Backlog),
		zap.Int("cursor", s.cursor),
		zap.Duration("remaining", remaining),
	)
	if err := s.send(ctx, &p.Marker); err != nil {
		return err
	}

	pkt := p.Fresh + p.Backlog
	for k := 0; k < pkt; k++ {
		target := time.Duration(int64(pkt-k) * int64(remaining) / int64(pkt))
		if err := s.waitUntilRemaining(ctx, end, target); err != nil {
			return err
		}
		if k%s.cfg.CatalogPointerInterval == 0 {
			if err := s.send(ctx, &wire.CatalogPointer{Delay: end.Sub(s.clock.Now())}); err != nil {
				return err
			}
		}
		sector := 0
		if k < p.Fresh {
			sector = p.Order[k]
		} else {
			sector = s.cursor
			s.cursor = (s.cursor + 1) % n
			cursorGauge.Set(float64(s.cursor))
		}
		change := &wire.Change{ChangeID: current, Sector: uint16(sector), Data: s.src.Sector(sector)}
		if err := s.send(ctx, change); err != nil {
			return err
		}
		if err := s.sleep(ctx, s.cfg.FlashWriteDelay); err != nil {
			return err
		}
	}
	cycles.WithLabelValues().Inc()
	left := end.Sub(s.clock.Now())
	switch {
	case left < 0:
		s.logger.Warn("cycle ended late", zap.Duration("late", -left))
		return ctx.Err()
	case left > s.cfg.CycleDuration:
		// the clock jumped back, the announced end is meaningless
		return ctx.Err()
	}
	// receivers were told the next cycle starts at end
	return s.sleep(ctx, left)
}

// waitUntilRemaining waits until no more than target is left before end. The
// wait is skipped if the remaining time is implausibly large, which happens
// when the clock jumped.
func (s *Scheduler) waitUntilRemaining(ctx context.Context, end time.Time, target time.Duration) error {
	left := end.Sub(s.clock.Now())
	if left > 3*target {
		return nil
	}
	return s.sleep(ctx, left-target)
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}

func (s *Scheduler) send(ctx context.Context, p wire.Packet) error {
	if err := s.out.Broadcast(ctx, p); err != nil {
		return fmt.Errorf("broadcast %v: %w", p.Subtype(), err)
	}
	sent.WithLabelValues(p.Subtype().String()).Inc()
	return nil
}
