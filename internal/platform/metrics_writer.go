package platform

import (
	"context"
	"log/slog"
	"sync/atomic"

	"neuroswarm/internal/model"
	"neuroswarm/internal/storage"
)

// metricWriter persists metric samples off the request path. Samples are
// best-effort: a full buffer drops the sample and counts it.
type metricWriter struct {
	store  storage.Store
	queue  chan model.MetricSample
	logger *slog.Logger

	dropped atomic.Int64
	failed  atomic.Int64
}

func newMetricWriter(store storage.Store, buffer int, logger *slog.Logger) *metricWriter {
	return &metricWriter{
		store:  store,
		queue:  make(chan model.MetricSample, buffer),
		logger: logger,
	}
}

func (w *metricWriter) enqueue(sample model.MetricSample) {
	select {
	case w.queue <- sample:
	default:
		if w.dropped.Add(1)%100 == 1 {
			w.logger.Warn("metric buffer full, dropping samples", "kind", sample.Kind, "dropped", w.dropped.Load())
		}
	}
}

// Run writes queued samples until ctx is done, then drains what is left.
func (w *metricWriter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case sample := <-w.queue:
			w.write(context.Background(), sample)
		}
	}
}

func (w *metricWriter) drain() {
	for {
		select {
		case sample := <-w.queue:
			w.write(context.Background(), sample)
		default:
			return
		}
	}
}

func (w *metricWriter) write(ctx context.Context, sample model.MetricSample) {
	if err := w.store.RecordMetric(ctx, sample); err != nil {
		w.failed.Add(1)
		// The agent may have been deleted between enqueue and write.
		w.logger.Debug("metric sample not recorded", "agent_id", sample.AgentID, "kind", sample.Kind, "error", err)
	}
}

func (w *metricWriter) Dropped() int64 {
	return w.dropped.Load()
}

func (w *metricWriter) Failed() int64 {
	return w.failed.Load()
}
