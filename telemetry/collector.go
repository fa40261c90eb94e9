package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// QueueStatsProvider reports the number of due and delayed queued messages
type QueueStatsProvider interface {
	QueueStats(ctx context.Context, now time.Time) (due int, delayed int, err error)
}

// MetricsCollector periodically collects stats and updates telemetry gauges
type MetricsCollector struct {
	provider QueueStatsProvider
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(provider QueueStatsProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.provider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mc.interval)
	defer cancel()

	due, delayed, err := mc.provider.QueueStats(ctx, time.Now())
	if err != nil {
		log.Debug().Err(err).Msg("Failed to collect queue stats")
		return
	}

	QueueDepth.With("due").Set(float64(due))
	QueueDepth.With("delayed").Set(float64(delayed))
}
