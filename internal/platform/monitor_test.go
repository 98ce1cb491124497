package platform

import (
	"context"
	"testing"
	"time"

	"neuroswarm/internal/logging"
	"neuroswarm/internal/model"
)

func TestSystemHealth(t *testing.T) {
	cfg := DefaultConfig()
	capacity := int64(cfg.MaxAgents) * cfg.MemoryLimitPerAgent

	cases := []struct {
		name    string
		metrics PerformanceMetrics
		want    int
	}{
		{name: "idle", want: 100},
		{name: "spawn at target", metrics: PerformanceMetrics{AverageSpawnTime: 100 * time.Millisecond}, want: 100},
		{name: "spawn slightly slow", metrics: PerformanceMetrics{AverageSpawnTime: 150 * time.Millisecond}, want: 95},
		{name: "spawn penalty capped", metrics: PerformanceMetrics{AverageSpawnTime: 10 * time.Second}, want: 80},
		{
			name: "both latencies slow",
			metrics: PerformanceMetrics{
				AverageSpawnTime:     150 * time.Millisecond,
				AverageInferenceTime: time.Second,
			},
			want: 75,
		},
		{name: "memory at 80 percent", metrics: PerformanceMetrics{MemoryUsage: capacity * 8 / 10}, want: 100},
		{name: "memory full", metrics: PerformanceMetrics{MemoryUsage: capacity}, want: 90},
		{
			name: "clamped at zero",
			metrics: PerformanceMetrics{
				AverageSpawnTime:     10 * time.Second,
				AverageInferenceTime: 10 * time.Second,
				MemoryUsage:          capacity * 3,
			},
			want: 0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SystemHealth(tc.metrics, cfg); got != tc.want {
				t.Fatalf("SystemHealth()=%d want=%d", got, tc.want)
			}
		})
	}
}

func TestNetworkHealth(t *testing.T) {
	if got := NetworkHealth(nil); got != 100 {
		t.Fatalf("empty swarm health=%d want=100", got)
	}
	fast := []model.AgentRecord{
		{ID: "a", Status: model.StatusActive},
		{ID: "b", Status: model.StatusActive},
	}
	if got := NetworkHealth(fast); got != 100 {
		t.Fatalf("fast swarm health=%d want=100", got)
	}
	mixed := []model.AgentRecord{
		{ID: "a", Status: model.StatusActive, AvgInferenceTime: 50 * time.Millisecond},
		{ID: "b", Status: model.StatusLearning, AvgInferenceTime: 200 * time.Millisecond},
	}
	// 0.5*50 + mean(50, 0)*0.5 = 37.5, rounded away from zero.
	if got := NetworkHealth(mixed); got != 38 {
		t.Fatalf("mixed swarm health=%d want=38", got)
	}
}

func TestRunningMean(t *testing.T) {
	mean := time.Duration(0)
	samples := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 60 * time.Millisecond}
	for i, sample := range samples {
		mean = runningMean(mean, int64(i+1), sample)
	}
	if mean != 30*time.Millisecond {
		t.Fatalf("running mean=%s want=30ms", mean)
	}
}

func TestMonitorTickAggregatesSnapshots(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAgents = 2
	cfg.MemoryLimitPerAgent = 1000
	registry := NewRegistry(cfg.MaxAgents)
	for _, id := range []string{"a", "b"} {
		if _, err := registry.Reserve(model.AgentRecord{ID: id}); err != nil {
			t.Fatalf("reserve %s: %v", id, err)
		}
		registry.Update(id, func(r *model.AgentRecord) { r.MemoryBytes = 900 })
	}

	var ticked PerformanceMetrics
	monitor := newMonitor(cfg, registry, newStats(), logging.Discard())
	monitor.onTick = func(m PerformanceMetrics) { ticked = m }
	metrics := monitor.Tick()

	if metrics.MemoryUsage != 1800 || metrics.LiveAgents != 2 {
		t.Fatalf("unexpected aggregate: %+v", metrics)
	}
	// ratio 0.9 costs 5 points
	if metrics.SystemHealthScore != 95 {
		t.Fatalf("health=%d want=95", metrics.SystemHealthScore)
	}
	if ticked.UpdatedAt.IsZero() {
		t.Fatal("expected tick hook to observe the update")
	}
	snap, _ := registry.Snapshot("a")
	if snap.Status != model.StatusInitializing || snap.MemoryBytes != 900 {
		t.Fatalf("monitor must not mutate records: %+v", snap)
	}
}

func TestMonitorRunStopsWithContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MonitorInterval = time.Millisecond
	monitor := newMonitor(cfg, NewRegistry(1), newStats(), logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("run error=%v want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestStatsLearningCounterNeverNegative(t *testing.T) {
	s := newStats()
	s.learningStarted()
	s.learningFinished()
	s.learningFinished()
	if got := s.snapshot().ActiveLearningTasks; got != 0 {
		t.Fatalf("active learning tasks=%d want=0", got)
	}
}
