package idcache

import (
	"bytes"
	"math/rand/v2"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/go-bdsync/blockstore"
	"github.com/spacemeshos/go-bdsync/blockstore/memstore"
	"github.com/spacemeshos/go-bdsync/common/types"
	"github.com/spacemeshos/go-bdsync/log/logtest"
)

func storeIDs(tb testing.TB, s blockstore.BlockStore) []types.ChangeID {
	tb.Helper()
	var out []types.ChangeID
	require.NoError(tb, s.ForEachBlock(func(_ int, id types.ChangeID) error {
		out = append(out, id)
		return nil
	}))
	return out
}

func cacheIDs(tb testing.TB, c *Cache) []types.ChangeID {
	tb.Helper()
	out := make([]types.ChangeID, c.SectorCount())
	for i := range out {
		id, err := c.Get(i)
		require.NoError(tb, err)
		out[i] = id
	}
	return out
}

func newCache(tb testing.TB, store blockstore.BlockStore, opts ...Opt) *Cache {
	tb.Helper()
	c, err := New(store, append([]Opt{WithLogger(logtest.New(tb))}, opts...)...)
	require.NoError(tb, err)
	return c
}

func TestSeed(t *testing.T) {
	store := memstore.New(4)
	for i, id := range []types.ChangeID{3, 1, 3, 2} {
		require.NoError(t, store.SetChangeID(i, id))
	}
	c := newCache(t, store)
	require.Equal(t, []types.ChangeID{3, 1, 3, 2}, cacheIDs(t, c))
	oldest, err := c.Oldest()
	require.NoError(t, err)
	require.Equal(t, types.ChangeID(1), oldest)
}

func TestSetIsWrittenBackOnFlush(t *testing.T) {
	store := memstore.New(3)
	c := newCache(t, store)
	require.NoError(t, c.Set(1, 7))
	require.Equal(t, []types.ChangeID{0, 7, 0}, cacheIDs(t, c))
	require.Equal(t, []types.ChangeID{0, 0, 0}, storeIDs(t, store))
	require.NoError(t, c.Flush())
	require.Equal(t, []types.ChangeID{0, 7, 0}, storeIDs(t, store))
}

func writeThroughCount(t *testing.T) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, writeThroughs.WithLabelValues().Write(m))
	return m.Counter.GetValue()
}

func TestEvictionAndWriteThrough(t *testing.T) {
	store := memstore.New(4)
	c := newCache(t, store, WithLevels(2))

	require.NoError(t, c.Set(0, 1))
	require.NoError(t, c.Set(1, 2))
	// evicts the level of id 1, which still has to reach the store
	require.NoError(t, c.Set(2, 3))
	require.Equal(t, []types.ChangeID{1, 0, 0, 0}, storeIDs(t, store))
	require.Equal(t, []types.ChangeID{1, 2, 3, 0}, cacheIDs(t, c))

	// no level for an id this old
	before := writeThroughCount(t)
	require.NoError(t, c.Set(3, 1))
	require.Equal(t, before+1, writeThroughCount(t))
	id, err := store.ChangeID(3)
	require.NoError(t, err)
	require.Equal(t, types.ChangeID(1), id)

	require.NoError(t, c.Flush())
	require.Equal(t, []types.ChangeID{1, 2, 3, 1}, storeIDs(t, store))
}

func TestSectorData(t *testing.T) {
	store := memstore.New(2)
	c := newCache(t, store, WithFlushInterval(2))
	data := bytes.Repeat([]byte{9}, types.SectorSize)

	require.NoError(t, c.Set(0, 4))
	require.NoError(t, c.SetSectorData(1, data, 5))
	require.Equal(t, []types.ChangeID{0, 5}, storeIDs(t, store))
	require.NoError(t, c.SetSectorData(1, data, 6))
	// second data write flushes the relabel of sector 0
	require.Equal(t, []types.ChangeID{4, 6}, storeIDs(t, store))

	buf := make([]byte, types.SectorSize)
	require.NoError(t, c.SectorData(1, buf))
	require.Equal(t, data, buf)
}

func TestCompletion(t *testing.T) {
	var stored []types.ChangeID
	store := memstore.New(3, memstore.WithOnComplete(func(id types.ChangeID) {
		stored = append(stored, id)
	}))
	var done []types.ChangeID
	c := newCache(t, store, OnComplete(func(id types.ChangeID) {
		done = append(done, id)
	}))
	require.Empty(t, done, "no notification for the state found at attach")

	require.NoError(t, c.Set(0, 10))
	require.NoError(t, c.Set(1, 10))
	require.Empty(t, done)
	require.NoError(t, c.SetSectorData(2, types.Erased(), 10))
	require.Equal(t, []types.ChangeID{10}, done)
	require.Equal(t, []types.ChangeID{10}, stored)
	// completion flushes
	require.Equal(t, []types.ChangeID{10, 10, 10}, storeIDs(t, store))

	require.NoError(t, c.Set(2, 10))
	require.Equal(t, []types.ChangeID{10}, done)

	ok, err := c.AllAtLeast(10)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.AllAtLeast(11)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAllAtLeastReadsStore(t *testing.T) {
	store := memstore.New(3)
	require.NoError(t, store.SetChangeID(0, 5))
	require.NoError(t, store.SetChangeID(1, 6))
	require.NoError(t, store.SetChangeID(2, 7))
	c := newCache(t, store, WithLevels(1))
	ok, err := c.AllAtLeast(5)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.AllAtLeast(6)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMatchesModel(t *testing.T) {
	const sectors = 40
	rng := rand.New(rand.NewPCG(7, 11))
	store := memstore.New(sectors)
	c := newCache(t, store, WithLevels(3), WithFlushInterval(5))
	model := make([]types.ChangeID, sectors)
	base := types.ChangeID(100)
	for step := 0; step < 5000; step++ {
		if rng.IntN(50) == 0 {
			base += types.ChangeID(rng.IntN(5))
		}
		sector := rng.IntN(sectors)
		id := base - types.ChangeID(rng.IntN(8))
		if rng.IntN(4) == 0 {
			require.NoError(t, c.SetSectorData(sector, types.Erased(), id))
		} else {
			require.NoError(t, c.Set(sector, id))
		}
		model[sector] = id
		got, err := c.Get(sector)
		require.NoError(t, err)
		require.Equal(t, id, got)
		if step%500 == 0 {
			require.Equal(t, model, cacheIDs(t, c))
		}
	}
	require.Equal(t, model, cacheIDs(t, c))
	require.NoError(t, c.Flush())
	require.Equal(t, model, storeIDs(t, store))
	require.Equal(t, model, cacheIDs(t, c))

	reopened := newCache(t, store, WithLevels(3))
	require.Equal(t, model, cacheIDs(t, reopened))
}

func TestClose(t *testing.T) {
	store := memstore.New(2)
	c := newCache(t, store)
	require.NoError(t, c.Set(0, 3))
	require.NoError(t, c.Close())
	require.Equal(t, []types.ChangeID{3, 0}, storeIDs(t, store))
}
