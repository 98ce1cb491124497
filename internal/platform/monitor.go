package platform

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"neuroswarm/internal/model"
)

// PerformanceMetrics is a point-in-time copy of the swarm-wide counters.
type PerformanceMetrics struct {
	TotalAgentsSpawned   int64         `json:"total_agents_spawned"`
	TotalInferences      int64         `json:"total_inferences"`
	AverageSpawnTime     time.Duration `json:"average_spawn_time"`
	AverageInferenceTime time.Duration `json:"average_inference_time"`
	MemoryUsage          int64         `json:"memory_usage"`
	ActiveLearningTasks  int           `json:"active_learning_tasks"`
	SystemHealthScore    int           `json:"system_health_score"`
	LiveAgents           int           `json:"live_agents"`
	DroppedEvents        int64         `json:"dropped_events"`
	DroppedMetrics       int64         `json:"dropped_metrics"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// stats holds the manager's running counters.
type stats struct {
	mu      sync.Mutex
	current PerformanceMetrics
}

func newStats() *stats {
	return &stats{current: PerformanceMetrics{SystemHealthScore: 100}}
}

func runningMean(mean time.Duration, n int64, sample time.Duration) time.Duration {
	if n <= 1 {
		return sample
	}
	return time.Duration((float64(mean)*float64(n-1) + float64(sample)) / float64(n))
}

func (s *stats) recordSpawn(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.TotalAgentsSpawned++
	s.current.AverageSpawnTime = runningMean(s.current.AverageSpawnTime, s.current.TotalAgentsSpawned, elapsed)
}

func (s *stats) recordInference(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.TotalInferences++
	s.current.AverageInferenceTime = runningMean(s.current.AverageInferenceTime, s.current.TotalInferences, elapsed)
}

func (s *stats) learningStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.ActiveLearningTasks++
}

func (s *stats) learningFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.ActiveLearningTasks > 0 {
		s.current.ActiveLearningTasks--
	}
}

func (s *stats) setAggregate(live int, memory int64, health int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.LiveAgents = live
	s.current.MemoryUsage = memory
	s.current.SystemHealthScore = health
	s.current.UpdatedAt = time.Now()
}

func (s *stats) restore(state model.CoordinationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.TotalAgentsSpawned = state.TotalAgentsSpawned
	s.current.TotalInferences = state.TotalInferences
	s.current.AverageSpawnTime = state.AverageSpawnTime
	s.current.AverageInferenceTime = state.AverageInference
}

func (s *stats) snapshot() PerformanceMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SystemHealth scores the swarm from its aggregate metrics: 100 minus up
// to 20 points each for spawn and inference latency above target, minus
// (ratio-0.8)*50 once memory use passes 80% of total capacity.
func SystemHealth(metrics PerformanceMetrics, cfg Config) int {
	score := 100.0
	score -= latencyPenalty(metrics.AverageSpawnTime, cfg.SpawnLatencyTarget)
	score -= latencyPenalty(metrics.AverageInferenceTime, cfg.InferenceLatencyTarget)

	capacity := float64(cfg.MaxAgents) * float64(cfg.MemoryLimitPerAgent)
	if capacity > 0 {
		ratio := float64(metrics.MemoryUsage) / capacity
		if ratio > 0.8 {
			score -= (ratio - 0.8) * 50
		}
	}
	return clampScore(score)
}

func latencyPenalty(avg, target time.Duration) float64 {
	avgMs := durationMillis(avg)
	targetMs := durationMillis(target)
	if avgMs <= targetMs {
		return 0
	}
	return math.Min(20, (avgMs-targetMs)/10)
}

// NetworkHealth scores a set of live agents: half from the share of
// active agents, half from mean per-agent latency headroom under 100ms.
// An empty swarm scores 100.
func NetworkHealth(agents []model.AgentRecord) int {
	if len(agents) == 0 {
		return 100
	}
	active := 0
	headroom := 0.0
	for _, agent := range agents {
		if agent.Status == model.StatusActive {
			active++
		}
		headroom += 100 - math.Min(100, durationMillis(agent.AvgInferenceTime))
	}
	activeRatio := float64(active) / float64(len(agents))
	meanHeadroom := headroom / float64(len(agents))
	return clampScore(activeRatio*50 + meanHeadroom*0.5)
}

func clampScore(score float64) int {
	rounded := int(math.Round(score))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Monitor periodically folds registry snapshots into the aggregate
// metrics. It never mutates agent records.
type Monitor struct {
	cfg      Config
	registry *Registry
	stats    *stats
	logger   *slog.Logger
	onTick   func(PerformanceMetrics)
}

func newMonitor(cfg Config, registry *Registry, stats *stats, logger *slog.Logger) *Monitor {
	return &Monitor{cfg: cfg, registry: registry, stats: stats, logger: logger}
}

// Tick recomputes memory use and the system health score.
func (m *Monitor) Tick() PerformanceMetrics {
	agents := m.registry.Snapshots()
	var memory int64
	for _, agent := range agents {
		memory += agent.MemoryBytes
	}
	current := m.stats.snapshot()
	current.MemoryUsage = memory
	health := SystemHealth(current, m.cfg)
	m.stats.setAggregate(len(agents), memory, health)

	metrics := m.stats.snapshot()
	if m.onTick != nil {
		m.onTick(metrics)
	}
	return metrics
}

// Run ticks on the configured interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			metrics := m.Tick()
			if metrics.SystemHealthScore < 50 {
				m.logger.Warn("system health degraded", "score", metrics.SystemHealthScore, "memory", metrics.MemoryUsage)
			}
		}
	}
}
