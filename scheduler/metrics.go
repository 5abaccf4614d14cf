package scheduler

import "github.com/spacemeshos/go-bdsync/metrics"

const subsystem = "scheduler"

var (
	sent = metrics.NewCounter(
		"packets_sent_total",
		subsystem,
		"Packets handed to the broadcaster by subtype",
		[]string{"subtype"},
	)
	budget = metrics.NewGauge(
		"cycle_budget",
		subsystem,
		"Change packets planned for the current cycle",
		[]string{"section"},
	)
	freshBudget   = budget.WithLabelValues("fresh")
	backlogBudget = budget.WithLabelValues("backlog")

	cursorGauge = metrics.NewSimpleGauge(
		"backlog_cursor",
		subsystem,
		"Next sector of the backlog rotation",
	)
	cycles = metrics.NewCounter(
		"cycles_total",
		subsystem,
		"Completed cycles",
		[]string{},
	)
)
