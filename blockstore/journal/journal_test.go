package journal

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	fuzz "github.com/google/gofuzz"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/go-bdsync/blockstore"
	"github.com/spacemeshos/go-bdsync/blockstore/medium"
	"github.com/spacemeshos/go-bdsync/common/types"
	"github.com/spacemeshos/go-bdsync/log/logtest"
)

var errPowerLoss = errors.New("power loss")

// faultyMedium fails every write and erase once its budget is used up.
type faultyMedium struct {
	medium.Medium
	writes int
	erases int
}

func (f *faultyMedium) WriteAt(p []byte, off int64) (int, error) {
	if f.writes == 0 {
		return 0, errPowerLoss
	}
	if f.writes > 0 {
		f.writes--
	}
	return f.Medium.WriteAt(p, off)
}

func (f *faultyMedium) Erase(off, n int64) error {
	if f.erases == 0 {
		return errPowerLoss
	}
	if f.erases > 0 {
		f.erases--
	}
	return f.Medium.Erase(off, n)
}

type env struct {
	fs      afero.Fs
	sectors int
	size    int64
}

func newEnv(sectors, spare int) *env {
	return &env{
		fs:      afero.NewMemMapFs(),
		sectors: sectors,
		size:    MinMediumSize(sectors) + int64(spare)*blockSize,
	}
}

func (e *env) medium(tb testing.TB) medium.Medium {
	tb.Helper()
	m, err := medium.Open(e.fs, "flash.bin", e.size)
	require.NoError(tb, err)
	return m
}

func (e *env) open(tb testing.TB) *Journal {
	tb.Helper()
	return e.openOn(tb, e.medium(tb))
}

func (e *env) openOn(tb testing.TB, m medium.Medium) *Journal {
	tb.Helper()
	j, err := Open(m, e.sectors, WithLogger(logtest.New(tb)), WithHintCacheSize(4))
	require.NoError(tb, err)
	return j
}

func sectorData(sector int, id types.ChangeID) []byte {
	return bytes.Repeat([]byte{byte(sector), byte(id)}, types.SectorSize/2)
}

func requireContent(tb testing.TB, j *Journal, sector int, id types.ChangeID) {
	tb.Helper()
	got, err := j.ChangeID(sector)
	require.NoError(tb, err)
	require.Equal(tb, id, got, "sector %d", sector)
	buf := make([]byte, types.SectorSize)
	require.NoError(tb, j.SectorData(sector, buf))
	require.Equal(tb, sectorData(sector, id), buf, "sector %d", sector)
}

// resolved returns the latest descriptor of every sector.
func resolved(j *Journal) []descriptor {
	out := make([]descriptor, j.sectors)
	for sector := range out {
		if i := j.lookup(sector); i >= 0 {
			out[sector] = j.slots[i].desc
		} else {
			out[sector] = descriptor{Phys: 0xffff, Virt: 0xffff}
		}
	}
	return out
}

func ids(tb testing.TB, s blockstore.BlockStore) []types.ChangeID {
	tb.Helper()
	var out []types.ChangeID
	require.NoError(tb, s.ForEachBlock(func(sector int, id types.ChangeID) error {
		require.Equal(tb, len(out), sector)
		out = append(out, id)
		return nil
	}))
	return out
}

func TestDescriptorEncoding(t *testing.T) {
	d := descriptor{ChangeID: 0x5915e12f, Phys: 0xabc, Virt: 0x123}
	b := d.encode()
	require.Equal(t, []byte{0x2f, 0xe1, 0x15, 0x59, 0xbc, 0x3a, 0x12}, b[:7])
	s := decodeSlot(b[:])
	require.Equal(t, slotValid, s.state)
	require.Equal(t, d, s.desc)

	b[2] ^= 0x01
	require.Equal(t, slotInvalid, decodeSlot(b[:]).state)

	require.Equal(t, slotEmpty, decodeSlot(bytes.Repeat([]byte{0xff}, descSize)).state)
}

func TestDescriptorRoundTrip(t *testing.T) {
	f := fuzz.New().NilChance(0)
	for i := 0; i < 1000; i++ {
		var d descriptor
		f.Fuzz(&d)
		d.Phys &= maxSectorIndex
		d.Virt &= maxSectorIndex
		b := d.encode()
		if erased(b[:]) {
			continue
		}
		s := decodeSlot(b[:])
		require.Equal(t, slotValid, s.state, "%+v", d)
		require.Equal(t, d, s.desc)
	}
}

func TestChecksumCarryFold(t *testing.T) {
	require.Equal(t, byte(0), checksum(make([]byte, 7)))
	// 0xff*7 = 0x6f9 -> 0xf9 + 0x06
	require.Equal(t, byte(0xff), checksum(bytes.Repeat([]byte{0xff}, 7)))
	// 0x5ff -> 0xff + 0x05 wraps in the byte
	require.Equal(t, byte(0x04), checksum([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x05}))
}

func TestOpenTooSmall(t *testing.T) {
	e := newEnv(16, 0)
	e.size -= blockSize
	_, err := Open(e.medium(t), e.sectors)
	require.ErrorIs(t, err, ErrMediumTooSmall)

	_, err = Open(newEnv(1, 0).medium(t), maxSectorIndex+2)
	require.Error(t, err)
}

func TestEmptyStore(t *testing.T) {
	j := newEnv(8, 0).open(t)
	require.Equal(t, 8, j.SectorCount())
	require.Equal(t, make([]types.ChangeID, 8), ids(t, j))

	buf := make([]byte, types.SectorSize)
	require.NoError(t, j.SectorData(3, buf))
	require.Equal(t, types.Erased(), buf)

	require.NoError(t, j.SetChangeID(3, 100))
	id, err := j.ChangeID(3)
	require.NoError(t, err)
	require.Equal(t, types.NoChangeID, id)

	_, err = j.ChangeID(8)
	require.ErrorIs(t, err, blockstore.ErrOutOfRange)
	require.ErrorIs(t, j.SetSectorData(0, buf[:10], 1), blockstore.ErrSectorSize)
}

func TestWriteAndReopen(t *testing.T) {
	e := newEnv(8, 2)
	j := e.open(t)
	for sector := 0; sector < 8; sector++ {
		require.NoError(t, j.SetSectorData(sector, sectorData(sector, 100), 100))
	}
	require.NoError(t, j.SetSectorData(2, sectorData(2, 200), 200))
	require.NoError(t, j.SetChangeID(5, 200))
	used := j.used()
	require.NoError(t, j.SetChangeID(5, 200))
	require.Equal(t, used, j.used())
	require.NoError(t, j.Close())

	j = e.open(t)
	for sector := 0; sector < 8; sector++ {
		switch sector {
		case 2:
			requireContent(t, j, sector, 200)
		case 5:
			id, err := j.ChangeID(sector)
			require.NoError(t, err)
			require.EqualValues(t, 200, id)
			buf := make([]byte, types.SectorSize)
			require.NoError(t, j.SectorData(sector, buf))
			require.Equal(t, sectorData(sector, 100), buf)
		default:
			requireContent(t, j, sector, 100)
		}
	}
}

func TestWearSpread(t *testing.T) {
	j := newEnv(4, 4).open(t)
	seen := map[uint16]bool{}
	for i := 0; i < j.dataBlocks; i++ {
		require.NoError(t, j.SetSectorData(0, sectorData(0, types.ChangeID(i)), types.ChangeID(i)))
		seen[j.slots[j.lookup(0)].desc.Phys] = true
	}
	require.Len(t, seen, j.dataBlocks)
}

func TestCompactionPreservesState(t *testing.T) {
	const sectors = 40
	rng := rand.New(rand.NewPCG(1, 2))
	e := newEnv(sectors, 3)
	j := e.open(t)
	model := make([]types.ChangeID, sectors)
	for step := 0; step < 3000; step++ {
		sector := rng.IntN(sectors)
		id := types.ChangeID(step + 1)
		if rng.IntN(3) == 0 {
			require.NoError(t, j.SetChangeID(sector, id))
			if model[sector] != 0 {
				model[sector] = id
			}
		} else {
			require.NoError(t, j.SetSectorData(sector, sectorData(sector, id), id))
			model[sector] = id
		}
		if step%97 == 0 {
			before := resolved(j)
			require.NoError(t, j.compact())
			require.Empty(t, cmp.Diff(before, resolved(j)))
		}
	}
	require.Equal(t, model, ids(t, j))
	require.GreaterOrEqual(t, j.free(), reserveSlots)

	require.NoError(t, j.Close())
	j = e.open(t)
	require.Equal(t, model, ids(t, j))
}

func TestSmallImageWrapsRing(t *testing.T) {
	e := newEnv(4, 0)
	j := e.open(t)
	for sector := 0; sector < 4; sector++ {
		require.NoError(t, j.SetSectorData(sector, sectorData(sector, 1), 1))
	}
	n := len(j.slots)
	for i := 2; i < 3*n; i++ {
		id := types.ChangeID(i)
		require.NoError(t, j.SetSectorData(i%4, sectorData(i%4, id), id))
	}
	require.NoError(t, j.Close())

	j = e.open(t)
	last := 3*n - 1
	for k := 0; k < 4; k++ {
		i := last - k
		requireContent(t, j, i%4, types.ChangeID(i))
	}
}

func TestUninitializedRegion(t *testing.T) {
	e := newEnv(8, 0)
	m := e.medium(t)
	garbage := bytes.Repeat([]byte{0x12, 0x34, 0x56, 0x78}, 64)
	descOff := m.Size() - int64(DescriptorBlocks(8))*blockSize
	_, err := m.WriteAt(garbage, descOff)
	require.NoError(t, err)

	j := e.openOn(t, m)
	require.Zero(t, j.used())
	require.Equal(t, make([]types.ChangeID, 8), ids(t, j))
	require.NoError(t, j.SetSectorData(1, sectorData(1, 7), 7))
	requireContent(t, j, 1, 7)
}

func TestToleratesFewInvalid(t *testing.T) {
	e := newEnv(8, 0)
	j := e.open(t)
	for sector := 0; sector < 8; sector++ {
		require.NoError(t, j.SetSectorData(sector, sectorData(sector, 3), 3))
	}
	// corrupt the descriptor of sector 7.
	_, err := j.m.WriteAt([]byte{0x00}, j.descOff+7*descSize)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j = e.open(t)
	got := ids(t, j)
	require.Equal(t, types.NoChangeID, got[7])
	for sector := 0; sector < 7; sector++ {
		requireContent(t, j, sector, 3)
	}
}

func TestPowerLossBeforeDescriptor(t *testing.T) {
	e := newEnv(4, 0)
	j := e.open(t)
	require.NoError(t, j.SetSectorData(1, sectorData(1, 10), 10))
	require.NoError(t, j.Close())

	// data write succeeds, descriptor write fails.
	fm := &faultyMedium{Medium: e.medium(t), writes: 1, erases: -1}
	j = e.openOn(t, fm)
	require.ErrorIs(t, j.SetSectorData(1, sectorData(1, 20), 20), errPowerLoss)

	j = e.open(t)
	requireContent(t, j, 1, 10)
	require.NoError(t, j.SetSectorData(1, sectorData(1, 30), 30))
	requireContent(t, j, 1, 30)
}

func TestPowerLossDuringCompaction(t *testing.T) {
	const sectors = 40
	e := newEnv(sectors, 1)
	j := e.open(t)
	for sector := 0; sector < sectors; sector++ {
		require.NoError(t, j.SetSectorData(sector, sectorData(sector, 1), 1))
	}
	// the last sector keeps its only descriptor in the oldest block.
	id := types.ChangeID(1)
	for j.free() > reserveSlots {
		id++
		require.NoError(t, j.SetChangeID(int(id)%(sectors-1), id))
	}
	want := ids(t, j)
	require.NoError(t, j.Close())

	// relocation succeeds but the erase of the compacted block fails.
	fm := &faultyMedium{Medium: e.medium(t), writes: -1, erases: 0}
	j = e.openOn(t, fm)
	require.ErrorIs(t, j.SetChangeID(0, id+1), errPowerLoss)

	for i := 0; i < 2; i++ {
		j = e.open(t)
		require.Equal(t, want, ids(t, j))
		require.NoError(t, j.Close())
	}

	j = e.open(t)
	require.NoError(t, j.SetChangeID(0, id+1))
	want[0] = id + 1
	require.Equal(t, want, ids(t, j))
	buf := make([]byte, types.SectorSize)
	for sector := 0; sector < sectors; sector++ {
		require.NoError(t, j.SectorData(sector, buf))
		require.Equal(t, sectorData(sector, 1), buf)
	}
}

func TestReopenIdempotent(t *testing.T) {
	e := newEnv(64, 2)
	j := e.open(t)
	rng := rand.New(rand.NewPCG(3, 4))
	for i := 1; i < 2000; i++ {
		sector := rng.IntN(64)
		require.NoError(t, j.SetSectorData(sector, sectorData(sector, types.ChangeID(i)), types.ChangeID(i)))
	}
	require.NoError(t, j.Close())

	first := e.open(t)
	a := ids(t, first)
	start, pos := first.start, first.pos
	require.NoError(t, first.Close())

	second := e.open(t)
	require.Equal(t, a, ids(t, second))
	require.Equal(t, start, second.start)
	require.Equal(t, pos, second.pos)
}
