package platform

import (
	"github.com/prometheus/client_golang/prometheus"

	"neuroswarm/internal/model"
)

const metricsNamespace = "neuroswarm"

// Collector exposes the manager's aggregate metrics to Prometheus. Values
// are read at scrape time.
type Collector struct {
	manager *Manager

	liveAgents      *prometheus.Desc
	agentsByStatus  *prometheus.Desc
	spawnedTotal    *prometheus.Desc
	inferencesTotal *prometheus.Desc
	avgSpawn        *prometheus.Desc
	avgInference    *prometheus.Desc
	memoryBytes     *prometheus.Desc
	learningTasks   *prometheus.Desc
	healthScore     *prometheus.Desc
	networkHealth   *prometheus.Desc
	droppedEvents   *prometheus.Desc
	droppedMetrics  *prometheus.Desc
}

func NewCollector(manager *Manager) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, labels, nil)
	}
	return &Collector{
		manager:         manager,
		liveAgents:      desc("agents_live", "Agents currently registered."),
		agentsByStatus:  desc("agents", "Live agents by lifecycle status.", "status"),
		spawnedTotal:    desc("agents_spawned_total", "Agents spawned since start."),
		inferencesTotal: desc("inferences_total", "Successful inferences since start."),
		avgSpawn:        desc("spawn_seconds_avg", "Running mean of network allocation time."),
		avgInference:    desc("inference_seconds_avg", "Running mean of inference time."),
		memoryBytes:     desc("memory_bytes", "Summed memory footprint of live agents at the last monitor tick."),
		learningTasks:   desc("learning_tasks", "Training sessions in progress."),
		healthScore:     desc("system_health_score", "System health score between 0 and 100."),
		networkHealth:   desc("network_health_score", "Network health score between 0 and 100."),
		droppedEvents:   desc("events_dropped_total", "Events dropped because a subscriber was full."),
		droppedMetrics:  desc("metric_samples_dropped_total", "Metric samples dropped because the write buffer was full."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.liveAgents
	ch <- c.agentsByStatus
	ch <- c.spawnedTotal
	ch <- c.inferencesTotal
	ch <- c.avgSpawn
	ch <- c.avgInference
	ch <- c.memoryBytes
	ch <- c.learningTasks
	ch <- c.healthScore
	ch <- c.networkHealth
	ch <- c.droppedEvents
	ch <- c.droppedMetrics
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	metrics := c.manager.PerformanceMetrics()
	agents := c.manager.ActiveAgents()

	byStatus := map[model.AgentStatus]int{
		model.StatusInitializing: 0,
		model.StatusActive:       0,
		model.StatusLearning:     0,
		model.StatusTerminating:  0,
	}
	for _, agent := range agents {
		byStatus[agent.Status]++
	}

	gauge := func(desc *prometheus.Desc, value float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value, labels...)
	}
	counter := func(desc *prometheus.Desc, value float64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, value)
	}

	gauge(c.liveAgents, float64(len(agents)))
	for status, count := range byStatus {
		gauge(c.agentsByStatus, float64(count), string(status))
	}
	counter(c.spawnedTotal, float64(metrics.TotalAgentsSpawned))
	counter(c.inferencesTotal, float64(metrics.TotalInferences))
	gauge(c.avgSpawn, metrics.AverageSpawnTime.Seconds())
	gauge(c.avgInference, metrics.AverageInferenceTime.Seconds())
	gauge(c.memoryBytes, float64(metrics.MemoryUsage))
	gauge(c.learningTasks, float64(metrics.ActiveLearningTasks))
	gauge(c.healthScore, float64(metrics.SystemHealthScore))
	gauge(c.networkHealth, float64(NetworkHealth(agents)))
	counter(c.droppedEvents, float64(metrics.DroppedEvents))
	counter(c.droppedMetrics, float64(metrics.DroppedMetrics))
}
