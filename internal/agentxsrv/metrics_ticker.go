package agentxsrv

import (
	"context"
	"time"

	"github.com/agentxhub/agentx/internal/observability"
)

// metricsTicker periodically refreshes process-wide gauges (goroutine
// count, memory) so the scrape endpoint never serves stale runtime stats.
type metricsTicker struct {
	ctx     context.Context
	metrics *observability.MetricsManager
	ticker  *time.Ticker
	done    chan struct{}
}

func newMetricsTicker(ctx context.Context, metrics *observability.MetricsManager) *metricsTicker {
	return &metricsTicker{
		ctx:     ctx,
		metrics: metrics,
		ticker:  time.NewTicker(30 * time.Second),
		done:    make(chan struct{}),
	}
}

func (m *metricsTicker) Start() {
	go func() {
		defer m.ticker.Stop()
		for {
			select {
			case <-m.ticker.C:
				m.metrics.UpdateSystemMetrics(m.ctx)
			case <-m.ctx.Done():
				return
			case <-m.done:
				return
			}
		}
	}()
}

func (m *metricsTicker) Stop() {
	close(m.done)
}
