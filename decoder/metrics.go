package decoder

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/spacemeshos/go-bdsync/metrics"
)

const subsystem = "decoder"

var (
	packets = metrics.NewCounter(
		"packets_total",
		subsystem,
		"Received packets by subtype and outcome",
		[]string{"subtype", "outcome"},
	)
	sectorsWritten = metrics.NewCounter(
		"sectors_written_total",
		subsystem,
		"Sectors written from change packets",
		[]string{},
	)
	relabels = metrics.NewCounter(
		"relabels_total",
		subsystem,
		"Sectors relabeled from bitmap packets",
		[]string{},
	)
	desyncs = metrics.NewCounter(
		"desyncs_total",
		subsystem,
		"Cycles abandoned after a change id mismatch",
		[]string{},
	)
	sleeps = metrics.NewHistogramWithBuckets(
		"sleep_seconds",
		subsystem,
		"Announced delays the receiver stops listening for, by packet",
		[]string{"subtype"},
		prometheus.ExponentialBuckets(0.5, 2, 10),
	)
	stateGauge = metrics.NewSimpleGauge(
		"state",
		subsystem,
		"Current decoder state",
	)
)

const (
	outcomeSleeping  = "sleeping"
	outcomeMalformed = "malformed"
	outcomeIgnored   = "ignored"
	outcomeHandled   = "handled"
)
