package idcache

import "github.com/spacemeshos/go-bdsync/metrics"

const subsystem = "idcache"

var (
	lookups = metrics.NewCounter(
		"lookups_total",
		subsystem,
		"Change id lookups by outcome",
		[]string{"outcome"},
	)
	hits   = lookups.WithLabelValues("hit")
	misses = lookups.WithLabelValues("miss")

	evictions = metrics.NewCounter(
		"evictions_total",
		subsystem,
		"Levels reassigned to a newer change id",
		[]string{},
	)
	writeThroughs = metrics.NewCounter(
		"write_throughs_total",
		subsystem,
		"Change ids too old for any level, written to the store",
		[]string{},
	)
	flushes = metrics.NewCounter(
		"flushes_total",
		subsystem,
		"Write-backs of all cached change ids",
		[]string{},
	)
	completions = metrics.NewCounter(
		"completions_total",
		subsystem,
		"Change ids that became resident on every sector",
		[]string{},
	)
)
