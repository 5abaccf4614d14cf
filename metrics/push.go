package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

// Push periodically pushes the default registry to a prometheus pushgateway
// at url until ctx is canceled.
func Push(ctx context.Context, logger *zap.Logger, url, job, instance string, period time.Duration) error {
	pusher := push.New(url, job).
		Gatherer(prometheus.DefaultGatherer).
		Grouping("instance", instance)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := pusher.PushContext(ctx); err != nil {
				logger.Warn("failed to push metrics", zap.String("url", url), zap.Error(err))
			}
		}
	}
}
