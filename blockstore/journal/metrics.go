package journal

import "github.com/spacemeshos/go-bdsync/metrics"

const subsystem = "journal"

var (
	compactions = metrics.NewCounter(
		"compactions_total",
		subsystem,
		"Number of compacted descriptor blocks",
		[]string{},
	)
	compacted = metrics.NewCounter(
		"compacted_descriptors_total",
		subsystem,
		"Descriptors seen by compaction",
		[]string{"outcome"},
	)
	relocated = compacted.WithLabelValues("relocated")
	discarded = compacted.WithLabelValues("discarded")

	freeDescriptors = metrics.NewSimpleGauge(
		"free_descriptors",
		subsystem,
		"Free descriptor slots in the journal ring",
	)
	freeSectors = metrics.NewSimpleGauge(
		"free_physical_sectors",
		subsystem,
		"Physical sectors not referenced by any live descriptor",
	)
)
