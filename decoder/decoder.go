// Package decoder implements the receiving side of the block sync protocol.
//
// The decoder consumes the packets of each broadcast cycle, relabels sectors
// that are still current, stores the sectors it is missing and decides when
// the receiver may stop listening.
package decoder

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-bdsync/common/types"
	"github.com/spacemeshos/go-bdsync/wire"
)

// DefaultWakeMargin is how early a sleep window ends before the announced
// time.
const DefaultWakeMargin = time.Second

// State of the decoder.
type State uint8

const (
	// WaitForCatalogPointer is the idle state: nothing is needed from the
	// current cycle.
	WaitForCatalogPointer State = iota
	// WaitCatalog sleeps until the next cycle starts.
	WaitCatalog
	// WaitOld skips the fresh section and waits for the backlog.
	WaitOld
	// WaitData consumes change packets.
	WaitData
)

func (s State) String() string {
	switch s {
	case WaitForCatalogPointer:
		return "wait_for_catalog_pointer"
	case WaitCatalog:
		return "wait_catalog"
	case WaitOld:
		return "wait_old"
	case WaitData:
		return "wait_data"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

type Opt func(*Decoder)

func WithLogger(logger *zap.Logger) Opt {
	return func(d *Decoder) {
		d.logger = logger
	}
}

func WithClock(clock clockwork.Clock) Opt {
	return func(d *Decoder) {
		d.clock = clock
	}
}

// WithWakeMargin sets how early sleep windows end.
func WithWakeMargin(margin time.Duration) Opt {
	return func(d *Decoder) {
		d.wakeMargin = margin
	}
}

// Decoder is the receiver state machine. It is not safe for concurrent use.
type Decoder struct {
	logger     *zap.Logger
	clock      clockwork.Clock
	wakeMargin time.Duration

	cache   Cache
	sectors int

	state         State
	target        types.ChangeID
	sleepingUntil time.Time
}

func New(cache Cache, opts ...Opt) *Decoder {
	d := &Decoder{
		logger:     zap.NewNop(),
		clock:      clockwork.NewRealClock(),
		wakeMargin: DefaultWakeMargin,
		cache:      cache,
		sectors:    cache.SectorCount(),
		state:      WaitForCatalogPointer,
	}
	for _, opt := range opts {
		opt(d)
	}
	stateGauge.Set(float64(d.state))
	return d
}

func (d *Decoder) State() State { return d.state }

// Target is the change id of the cycle being followed.
func (d *Decoder) Target() types.ChangeID { return d.target }

// SleepingUntil returns the end of the current sleep window. Packets
// received before it are dropped, so the caller may stop listening.
func (d *Decoder) SleepingUntil() time.Time { return d.sleepingUntil }

// Asleep reports whether a sleep window is active.
func (d *Decoder) Asleep() bool {
	return d.clock.Now().Before(d.sleepingUntil)
}

// Receive decodes and handles one BDSync payload. Malformed packets and
// protocol anomalies are logged and dropped; only storage errors are
// returned.
func (d *Decoder) Receive(subtype wire.Subtype, payload []byte) error {
	if d.Asleep() {
		packets.WithLabelValues(subtype.String(), outcomeSleeping).Inc()
		d.logger.Debug("sleeping, packet dropped",
			zap.Stringer("subtype", subtype),
			zap.Time("until", d.sleepingUntil),
		)
		return nil
	}
	p, err := wire.Decode(subtype, payload)
	if err != nil {
		packets.WithLabelValues(subtype.String(), outcomeMalformed).Inc()
		d.logger.Warn("malformed packet dropped", zap.Stringer("subtype", subtype), zap.Error(err))
		return nil
	}
	return d.Handle(p)
}

// Handle processes a decoded packet.
func (d *Decoder) Handle(p wire.Packet) error {
	if d.Asleep() {
		packets.WithLabelValues(p.Subtype().String(), outcomeSleeping).Inc()
		return nil
	}
	var (
		handled bool
		err     error
	)
	switch p := p.(type) {
	case *wire.Bitmap:
		handled, err = d.onBitmap(p)
	case *wire.OlderMarker:
		handled, err = d.onOlderMarker(p)
	case *wire.Change:
		handled, err = d.onChange(p)
	case *wire.CatalogPointer:
		handled = d.onCatalogPointer(p)
	default:
		return fmt.Errorf("unexpected packet %T", p)
	}
	if err != nil {
		return err
	}
	outcome := outcomeIgnored
	if handled {
		outcome = outcomeHandled
	}
	packets.WithLabelValues(p.Subtype().String(), outcome).Inc()
	return nil
}

func (d *Decoder) setState(s State) {
	if s == d.state {
		return
	}
	d.logger.Debug("state changed",
		zap.Stringer("from", d.state),
		zap.Stringer("to", s),
		zap.Stringer("target", d.target),
	)
	d.state = s
	stateGauge.Set(float64(s))
}

func (d *Decoder) sleep(subtype wire.Subtype, delay time.Duration) {
	sleeps.WithLabelValues(subtype.String()).Observe(delay.Seconds())
	d.sleepingUntil = d.clock.Now().Add(delay - d.wakeMargin)
	d.logger.Debug("sleeping",
		zap.Duration("delay", delay),
		zap.Time("until", d.sleepingUntil),
	)
}

func (d *Decoder) onBitmap(p *wire.Bitmap) (bool, error) {
	d.target = p.ChangeIDNew
	n := 0
	for sector := 0; sector < d.sectors; sector++ {
		if !p.Flagged(sector) {
			continue
		}
		id, err := d.cache.Get(sector)
		if err != nil {
			return false, err
		}
		// a sector never written holds no data the new id could vouch for
		if id == types.NoChangeID || id < p.ChangeIDOrig || id == p.ChangeIDNew {
			continue
		}
		if err := d.cache.Set(sector, p.ChangeIDNew); err != nil {
			return false, err
		}
		n++
	}
	relabels.WithLabelValues().Add(float64(n))
	d.logger.Debug("bitmap applied",
		zap.Stringer("orig", p.ChangeIDOrig),
		zap.Stringer("new", p.ChangeIDNew),
		zap.Int("relabeled", n),
	)
	done, err := d.cache.AllAtLeast(d.target)
	if err != nil {
		return false, err
	}
	if done {
		d.setState(WaitForCatalogPointer)
	} else {
		d.setState(WaitData)
	}
	return true, nil
}

func (d *Decoder) onOlderMarker(p *wire.OlderMarker) (bool, error) {
	if d.state == WaitForCatalogPointer || d.state == WaitCatalog {
		return false, nil
	}
	if p.OldestNewTs == types.NoChangeID {
		d.setState(WaitData)
		return true, nil
	}
	oldest, err := d.cache.Oldest()
	if err != nil {
		return false, err
	}
	if oldest > p.OldestNewTs {
		d.logger.Debug("fresh section covers this receiver",
			zap.Stringer("oldest", oldest),
			zap.Stringer("oldest_new", p.OldestNewTs),
		)
		d.setState(WaitData)
		return true, nil
	}
	start := int(p.SecIDStart) % d.sectors
	count := (int(p.SecIDEnd)%d.sectors - start + d.sectors) % d.sectors
	for k := 0; k < count; k++ {
		id, err := d.cache.Get((start + k) % d.sectors)
		if err != nil {
			return false, err
		}
		if id != d.target {
			d.logger.Debug("waiting for backlog",
				zap.Uint16("start", p.SecIDStart),
				zap.Uint16("end", p.SecIDEnd),
				zap.Duration("delay", p.Delay),
			)
			d.sleep(wire.SubtypeOlderMarker, p.Delay)
			d.setState(WaitOld)
			return true, nil
		}
	}
	d.logger.Debug("nothing useful in this cycle",
		zap.Uint16("start", p.SecIDStart),
		zap.Uint16("end", p.SecIDEnd),
	)
	d.setState(WaitForCatalogPointer)
	return true, nil
}

func (d *Decoder) onChange(p *wire.Change) (bool, error) {
	if d.state == WaitForCatalogPointer {
		return false, nil
	}
	sector := int(p.Sector)
	if p.ChangeID != d.target {
		desyncs.WithLabelValues().Inc()
		d.logger.Info("change id does not match the cycle, skipping cycle",
			zap.Stringer("change_id", p.ChangeID),
			zap.Stringer("target", d.target),
			zap.Int("sector", sector),
		)
		d.setState(WaitForCatalogPointer)
		return false, nil
	}
	if sector >= d.sectors {
		d.logger.Warn("change for sector outside of image", zap.Int("sector", sector), zap.Int("sectors", d.sectors))
		return false, nil
	}
	id, err := d.cache.Get(sector)
	if err != nil {
		return false, err
	}
	switch {
	case id == p.ChangeID:
		d.logger.Debug("duplicate change", zap.Int("sector", sector))
	case id > p.ChangeID:
		d.logger.Warn("change older than stored sector ignored",
			zap.Int("sector", sector),
			zap.Stringer("change_id", p.ChangeID),
			zap.Stringer("stored", id),
		)
		return false, nil
	default:
		if err := d.cache.SetSectorData(sector, p.Data, p.ChangeID); err != nil {
			return false, fmt.Errorf("store sector %d: %w", sector, err)
		}
		sectorsWritten.WithLabelValues().Inc()
		d.logger.Debug("sector written", zap.Int("sector", sector), zap.Stringer("change_id", p.ChangeID))
	}
	done, err := d.cache.AllAtLeast(d.target)
	if err != nil {
		return false, err
	}
	if done {
		d.logger.Info("up to date", zap.Stringer("change_id", d.target))
		d.setState(WaitForCatalogPointer)
	}
	return true, nil
}

func (d *Decoder) onCatalogPointer(p *wire.CatalogPointer) bool {
	if d.state != WaitForCatalogPointer {
		return false
	}
	d.sleep(wire.SubtypeCatalogPointer, p.Delay)
	d.setState(WaitCatalog)
	return true
}
