package transport

import "github.com/spacemeshos/go-bdsync/metrics"

const subsystem = "transport"

var (
	datagrams = metrics.NewCounter(
		"datagrams_total",
		subsystem,
		"Datagrams by direction and outcome",
		[]string{"direction", "outcome"},
	)
	sentOK        = datagrams.WithLabelValues("out", "ok")
	sentFailed    = datagrams.WithLabelValues("out", "error")
	recvOK        = datagrams.WithLabelValues("in", "ok")
	recvMalformed = datagrams.WithLabelValues("in", "malformed")
	recvForeign   = datagrams.WithLabelValues("in", "other_stream")
)
