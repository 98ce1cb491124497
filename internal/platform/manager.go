package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"neuroswarm/internal/compute"
	"neuroswarm/internal/logging"
	"neuroswarm/internal/model"
	"neuroswarm/internal/storage"
)

type Options struct {
	Config Config
	// Store is required when persistence is enabled.
	Store  storage.Store
	Engine compute.Engine
	Logger *slog.Logger
}

type SpawnRequest struct {
	Type             model.AgentType
	CognitivePattern string
	// Topology defaults to a small sigmoid network when Layers is empty.
	Topology model.Topology
	Metadata map[string]string
}

// Manager owns every live agent: it enforces the capacity ceiling, drives
// the lifecycle state machine and keeps the durable store in step.
type Manager struct {
	cfg    Config
	store  storage.Store
	engine compute.Engine
	logger *slog.Logger

	registry   *Registry
	events     *EventBus
	stats      *stats
	monitor    *Monitor
	supervisor *Supervisor
	writer     *metricWriter

	mu        sync.RWMutex
	started   bool
	closed    bool
	scheduler *cron.Cron

	// persistMu orders checkpoint row snapshots against terminate flushes.
	persistMu sync.RWMutex
}

func NewManager(opts Options) (*Manager, error) {
	cfg := normalizeConfig(opts.Config)
	if opts.Engine == nil {
		return nil, errors.New("compute engine is required")
	}
	if cfg.PersistenceEnabled && opts.Store == nil {
		return nil, errors.New("store is required when persistence is enabled")
	}
	if cfg.CheckpointSchedule != "" {
		if err := ValidateSchedule(cfg.CheckpointSchedule); err != nil {
			return nil, err
		}
	}
	logger := logging.Component(opts.Logger, "manager")
	m := &Manager{
		cfg:        cfg,
		store:      opts.Store,
		engine:     opts.Engine,
		logger:     logger,
		registry:   NewRegistry(cfg.MaxAgents),
		events:     NewEventBus(logger),
		stats:      newStats(),
		supervisor: NewSupervisor(BackoffPolicy{}, opts.Logger),
	}
	m.monitor = newMonitor(cfg, m.registry, m.stats, logging.Component(opts.Logger, "monitor"))
	if cfg.PersistenceEnabled {
		m.writer = newMetricWriter(opts.Store, cfg.MetricBuffer, logging.Component(opts.Logger, "metric-writer"))
	}
	return m, nil
}

// Init opens the store and starts the background loops. It is idempotent
// until Cleanup.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: manager has been cleaned up", model.ErrNotInitialized)
	}
	if m.started {
		return nil
	}
	if m.cfg.PersistenceEnabled {
		if err := m.store.Init(ctx); err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		if err := m.supervisor.Start("metric-writer", RestartOnFailure, m.writer.Run); err != nil {
			return err
		}
	}
	if m.cfg.PerformanceMonitoringEnabled {
		if err := m.supervisor.Start("performance-monitor", RestartOnFailure, m.monitor.Run); err != nil {
			m.supervisor.StopAll()
			return err
		}
	}
	if m.cfg.PersistenceEnabled && m.cfg.CheckpointSchedule != "" {
		scheduler := cron.New(cron.WithParser(scheduleParser))
		if _, err := scheduler.AddFunc(m.cfg.CheckpointSchedule, m.scheduledCheckpoint); err != nil {
			m.supervisor.StopAll()
			return fmt.Errorf("schedule checkpoints: %w", err)
		}
		scheduler.Start()
		m.scheduler = scheduler
	}
	m.started = true
	m.logger.Info("manager initialized",
		"max_agents", m.cfg.MaxAgents,
		"persistence", m.cfg.PersistenceEnabled,
		"monitoring", m.cfg.PerformanceMonitoringEnabled,
		"cross_learning", m.cfg.CrossLearningEnabled,
	)
	m.publish(EventInitialized, "", nil)
	return nil
}

func (m *Manager) requireStarted() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.started {
		return fmt.Errorf("%w: manager is not running", model.ErrNotInitialized)
	}
	return nil
}

func (m *Manager) Config() Config {
	return m.cfg
}

// Spawn allocates a network for a new agent and registers it as active.
func (m *Manager) Spawn(ctx context.Context, req SpawnRequest) (model.AgentRecord, error) {
	if err := m.requireStarted(); err != nil {
		return model.AgentRecord{}, err
	}
	agentType, err := model.ParseAgentType(string(req.Type))
	if err != nil {
		return model.AgentRecord{}, err
	}
	topology := req.Topology.Clone()
	if len(topology.Layers) == 0 {
		topology = defaultTopology()
	}
	if topology.Activation == "" {
		topology.Activation = "sigmoid"
	}
	if err := topology.Validate(); err != nil {
		return model.AgentRecord{}, err
	}

	now := time.Now().UTC()
	record := model.AgentRecord{
		ID:                 "agent-" + uuid.NewString(),
		Type:               agentType,
		CognitivePattern:   req.CognitivePattern,
		Topology:           topology,
		CreatedAt:          now,
		LastActive:         now,
		ConnectionStrength: 1.0,
		Metadata:           req.Metadata,
	}
	entry, err := m.registry.Reserve(record)
	if err != nil {
		return model.AgentRecord{}, err
	}
	defer entry.op.Unlock()

	start := time.Now()
	handle, err := m.engine.CreateNetwork(ctx, topology)
	elapsed := time.Since(start)
	if err != nil {
		m.registry.Remove(record.ID)
		err = fmt.Errorf("%w: %w", model.ErrEngine, err)
		m.publishError("spawn", record.ID, err)
		return model.AgentRecord{}, err
	}
	memory := handle.MemoryBytes()
	if memory > m.cfg.MemoryLimitPerAgent {
		m.releaseHandle(record.ID, handle)
		m.registry.Remove(record.ID)
		return model.AgentRecord{}, fmt.Errorf("%w: network needs %d bytes, limit is %d", model.ErrCapacityExceeded, memory, m.cfg.MemoryLimitPerAgent)
	}

	active, err := m.registry.Activate(record.ID, handle, func(r *model.AgentRecord) {
		r.MemoryBytes = memory
		r.SpawnTime = elapsed
	})
	if err != nil {
		m.releaseHandle(record.ID, handle)
		m.registry.Remove(record.ID)
		return model.AgentRecord{}, err
	}
	if m.cfg.PersistenceEnabled {
		if err := m.store.SaveAgent(ctx, active); err != nil {
			m.releaseHandle(record.ID, handle)
			m.registry.Remove(record.ID)
			m.publishError("spawn", record.ID, err)
			return model.AgentRecord{}, fmt.Errorf("persist agent %s: %w", record.ID, err)
		}
	}

	m.stats.recordSpawn(elapsed)
	m.recordMetric(active.ID, model.MetricSpawnLatency, durationMillis(elapsed), "ms", map[string]any{"type": string(agentType)})
	m.recordMetric(active.ID, model.MetricMemoryUsage, float64(memory), "bytes", nil)
	m.logger.Info("agent spawned", "agent_id", active.ID, "type", agentType, "spawn_time", elapsed, "memory", memory)
	m.publish(EventAgentSpawned, active.ID, SpawnedPayload{
		Type:        agentType,
		Topology:    topology.Clone(),
		SpawnTime:   elapsed,
		MemoryBytes: memory,
	})
	return active, nil
}

func defaultTopology() model.Topology {
	return model.Topology{
		Layers:       []int{10, 20, 10},
		Activation:   "sigmoid",
		LearningRate: 0.1,
		Momentum:     0.9,
	}
}

type inferenceResult struct {
	outputs []float64
	err     error
}

// RunInference evaluates the agent's network on inputs within the
// configured timeout. Counters change only when the call succeeds; a late
// engine result is discarded. The agent stays locked until the engine call
// returns, so an abandoned call never overlaps the next operation.
func (m *Manager) RunInference(ctx context.Context, id string, inputs []float64) ([]float64, error) {
	if err := m.requireStarted(); err != nil {
		return nil, err
	}
	entry, record, ok := m.registry.entry(id)
	if !ok {
		return nil, fmt.Errorf("%w: agent %s", model.ErrNotFound, id)
	}
	if record.Status != model.StatusActive {
		return nil, fmt.Errorf("%w: agent %s is %s", model.ErrInvalidState, id, record.Status)
	}

	entry.op.Lock()
	if err := m.requireStatus(id, model.StatusActive); err != nil {
		entry.op.Unlock()
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.InferenceTimeout)
	defer cancel()
	results := make(chan inferenceResult, 1)
	start := time.Now()
	go func() {
		defer entry.op.Unlock()
		outputs, err := m.engine.Infer(callCtx, entry.handle, inputs)
		results <- inferenceResult{outputs: outputs, err: err}
	}()

	var result inferenceResult
	select {
	case result = <-results:
	case <-callCtx.Done():
		result.err = callCtx.Err()
	}
	elapsed := time.Since(start)
	if result.err != nil && callCtx.Err() != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.logger.Warn("inference timed out", "agent_id", id, "timeout", m.cfg.InferenceTimeout)
		return nil, fmt.Errorf("%w: agent %s exceeded %s", model.ErrInferenceTimeout, id, m.cfg.InferenceTimeout)
	}
	if result.err != nil {
		err := fmt.Errorf("%w: %w", model.ErrEngine, result.err)
		m.publishError("inference", id, err)
		return nil, err
	}

	m.registry.Update(id, func(r *model.AgentRecord) {
		r.TotalInferences++
		r.AvgInferenceTime = runningMean(r.AvgInferenceTime, r.TotalInferences, elapsed)
		r.LastActive = time.Now().UTC()
	})
	m.stats.recordInference(elapsed)
	m.recordMetric(id, model.MetricInferenceLatency, durationMillis(elapsed), "ms", map[string]any{
		"input_size":  len(inputs),
		"output_size": len(result.outputs),
	})
	m.publish(EventInferenceComplete, id, InferencePayload{
		InferenceTime: elapsed,
		InputSize:     len(inputs),
		OutputSize:    len(result.outputs),
	})
	return result.outputs, nil
}

func (m *Manager) requireStatus(id string, want model.AgentStatus) error {
	record, ok := m.registry.Snapshot(id)
	if !ok {
		return fmt.Errorf("%w: agent %s", model.ErrNotFound, id)
	}
	if record.Status != want {
		return fmt.Errorf("%w: agent %s is %s", model.ErrInvalidState, id, record.Status)
	}
	return nil
}

// TrainAgent runs a training session on an active agent. A second call for
// an agent that is already learning fails with ErrInvalidState.
func (m *Manager) TrainAgent(ctx context.Context, id string, data []model.TrainingSample, epochs int) (model.LearningSession, error) {
	if err := m.requireStarted(); err != nil {
		return model.LearningSession{}, err
	}
	if len(data) == 0 {
		return model.LearningSession{}, fmt.Errorf("%w: training data is empty", model.ErrInvalidInput)
	}
	if epochs <= 0 {
		epochs = DefaultTrainingEpochs
	}
	entry, _, ok := m.registry.entry(id)
	if !ok {
		return model.LearningSession{}, fmt.Errorf("%w: agent %s", model.ErrNotFound, id)
	}
	if _, err := m.registry.Transition(id, model.StatusLearning); err != nil {
		return model.LearningSession{}, err
	}
	m.stats.learningStarted()

	entry.op.Lock()
	defer entry.op.Unlock()

	// finish runs exactly once: the agent goes back to active before the
	// learning counter drops.
	finished := false
	finish := func(update func(*model.AgentRecord)) model.AgentRecord {
		finished = true
		record, _ := m.registry.FinishLearning(id, update)
		m.stats.learningFinished()
		return record
	}
	defer func() {
		if !finished {
			finish(nil)
		}
	}()

	session := model.LearningSession{
		ID:         "learning-" + uuid.NewString(),
		AgentID:    id,
		StartTime:  time.Now().UTC(),
		Epochs:     epochs,
		DataPoints: len(data),
	}
	result, err := m.engine.Train(ctx, entry.handle, data, epochs)
	session.Duration = time.Since(session.StartTime)
	if err != nil {
		err = fmt.Errorf("%w: %w", model.ErrEngine, err)
		m.logger.Warn("training failed", "agent_id", id, "error", err)
		m.publishError("train", id, err)
		return model.LearningSession{}, err
	}
	session.FinalAccuracy = result.Accuracy
	session.ConvergenceEpoch = result.ConvergenceEpoch

	record := finish(func(r *model.AgentRecord) {
		r.TrainingProgress = result.Accuracy
		r.PerformanceScore = result.Accuracy
		r.LastActive = time.Now().UTC()
	})
	if m.cfg.PersistenceEnabled {
		if err := m.persistWeights(ctx, record, entry.handle); err != nil {
			m.publishError("train", id, err)
			return model.LearningSession{}, err
		}
		if err := m.store.SaveAgent(ctx, record); err != nil {
			m.publishError("train", id, err)
			return model.LearningSession{}, fmt.Errorf("persist agent %s: %w", id, err)
		}
	}

	m.recordMetric(id, model.MetricTrainingAccuracy, result.Accuracy, "ratio", map[string]any{
		"session_id": session.ID,
		"epochs":     epochs,
	})
	m.logger.Info("training complete", "agent_id", id, "session_id", session.ID, "accuracy", result.Accuracy, "duration", session.Duration)
	m.publish(EventLearningComplete, id, session)
	return session, nil
}

// ShareKnowledge blends the source agent's parameters into each live
// target with KnowledgeInfluence. Unknown targets and the source itself
// are skipped. It returns the targets that received the blend.
func (m *Manager) ShareKnowledge(ctx context.Context, sourceID string, targetIDs []string) ([]string, error) {
	if err := m.requireStarted(); err != nil {
		return nil, err
	}
	if !m.cfg.CrossLearningEnabled {
		return nil, fmt.Errorf("%w: cross learning is disabled", model.ErrFeatureDisabled)
	}
	source, _, ok := m.registry.entry(sourceID)
	if !ok {
		return nil, fmt.Errorf("%w: source agent %s", model.ErrNotFound, sourceID)
	}

	source.op.Lock()
	current, ok := m.registry.Snapshot(sourceID)
	if !ok {
		source.op.Unlock()
		return nil, fmt.Errorf("%w: source agent %s", model.ErrNotFound, sourceID)
	}
	if current.Status == model.StatusInitializing || current.Status == model.StatusTerminating {
		source.op.Unlock()
		return nil, fmt.Errorf("%w: source agent %s is %s", model.ErrInvalidState, sourceID, current.Status)
	}
	weights, err := m.engine.SerializeWeights(ctx, source.handle)
	source.op.Unlock()
	if err != nil {
		err = fmt.Errorf("%w: %w", model.ErrEngine, err)
		m.publishError("share_knowledge", sourceID, err)
		return nil, err
	}

	applied := make([]string, 0, len(targetIDs))
	seen := make(map[string]struct{}, len(targetIDs))
	for _, targetID := range targetIDs {
		if targetID == sourceID {
			continue
		}
		if _, dup := seen[targetID]; dup {
			continue
		}
		seen[targetID] = struct{}{}

		ok, err := m.blendInto(ctx, targetID, weights)
		if err != nil {
			m.publishError("share_knowledge", targetID, err)
			return applied, err
		}
		if ok {
			applied = append(applied, targetID)
		}
	}

	m.logger.Debug("knowledge shared", "source_id", sourceID, "targets", len(targetIDs), "applied", len(applied))
	m.publish(EventKnowledgeShared, sourceID, KnowledgeSharedPayload{
		SourceID:  sourceID,
		TargetIDs: append([]string(nil), targetIDs...),
		Applied:   append([]string(nil), applied...),
	})
	return applied, nil
}

func (m *Manager) blendInto(ctx context.Context, targetID string, weights []byte) (bool, error) {
	target, _, ok := m.registry.entry(targetID)
	if !ok {
		return false, nil
	}
	target.op.Lock()
	defer target.op.Unlock()
	record, ok := m.registry.Snapshot(targetID)
	if !ok || record.Status == model.StatusTerminating || record.Status == model.StatusInitializing {
		return false, nil
	}
	if err := m.engine.DeserializeWeights(ctx, target.handle, weights, KnowledgeInfluence); err != nil {
		return false, fmt.Errorf("%w: %w", model.ErrEngine, err)
	}
	record, _ = m.registry.Update(targetID, func(r *model.AgentRecord) {
		r.LastActive = time.Now().UTC()
	})
	if m.cfg.PersistenceEnabled {
		if err := m.persistWeights(ctx, record, target.handle); err != nil {
			return false, err
		}
	}
	return true, nil
}

// TerminateAgent retires an agent. Unknown ids are a no-op. An agent in the
// middle of training is terminated once the session ends.
func (m *Manager) TerminateAgent(ctx context.Context, id string) error {
	if err := m.requireStarted(); err != nil {
		return err
	}
	return m.terminate(ctx, id)
}

func (m *Manager) terminate(ctx context.Context, id string) error {
	var (
		entry  *agentEntry
		record model.AgentRecord
	)
	for {
		var ok bool
		entry, _, ok = m.registry.entry(id)
		if !ok {
			return nil
		}
		if done, learning := m.registry.learningDone(entry); learning {
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		entry.op.Lock()
		current, ok := m.registry.Snapshot(id)
		if !ok || current.Status == model.StatusTerminating {
			entry.op.Unlock()
			return nil
		}
		if current.Status == model.StatusLearning {
			entry.op.Unlock()
			continue
		}
		// A checkpoint snapshot taken before this point is written before
		// the flush below, never after it.
		m.persistMu.RLock()
		var err error
		record, err = m.registry.Transition(id, model.StatusTerminating)
		if err != nil {
			m.persistMu.RUnlock()
			entry.op.Unlock()
			return err
		}
		break
	}
	defer entry.op.Unlock()
	defer m.persistMu.RUnlock()

	var flushErr error
	if m.cfg.PersistenceEnabled {
		if m.cfg.ArchiveOnTerminate {
			archived := record.Clone()
			archived.Status = model.StatusTerminated
			flushErr = m.store.SaveAgent(ctx, archived)
		} else {
			flushErr = m.store.DeleteAgent(ctx, id)
		}
		if flushErr != nil {
			flushErr = fmt.Errorf("flush terminated agent %s: %w", id, flushErr)
			m.publishError("terminate", id, flushErr)
		}
	}
	if entry.handle != nil {
		m.releaseHandle(id, entry.handle)
	}
	m.registry.Remove(id)

	m.logger.Info("agent terminated", "agent_id", id, "archived", m.cfg.PersistenceEnabled && m.cfg.ArchiveOnTerminate)
	m.publish(EventAgentTerminated, id, nil)
	return flushErr
}

func (m *Manager) releaseHandle(id string, handle compute.Handle) {
	if err := m.engine.Release(handle); err != nil {
		m.logger.Warn("release network failed", "agent_id", id, "error", err)
	}
}

func (m *Manager) GetNetworkTopology() NetworkTopology {
	return BuildTopology(m.registry.Snapshots())
}

// GetAgentState returns a copy of the live agent's record.
func (m *Manager) GetAgentState(id string) (model.AgentRecord, bool) {
	return m.registry.Snapshot(id)
}

func (m *Manager) ActiveAgents() []model.AgentRecord {
	return m.registry.Snapshots()
}

func (m *Manager) PerformanceMetrics() PerformanceMetrics {
	metrics := m.stats.snapshot()
	metrics.LiveAgents = m.registry.Len()
	metrics.DroppedEvents = m.events.Dropped()
	if m.writer != nil {
		metrics.DroppedMetrics = m.writer.Dropped()
	}
	return metrics
}

// Subscribe delivers lifecycle events published after the call. Slow
// subscribers lose events rather than stall the manager.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	return m.events.Subscribe(buffer)
}

func (m *Manager) Supervisor() *Supervisor {
	return m.supervisor
}

// Cleanup terminates every live agent, stops the background loops and
// releases the engine and the store. The manager cannot be reused.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	wasStarted := m.started
	m.started = false
	m.closed = true
	scheduler := m.scheduler
	m.scheduler = nil
	m.mu.Unlock()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	// Spawns that have not reserved yet fail; those that have are waited
	// for by terminate.
	m.registry.Close()

	var errs []error
	terminated := 0
	for _, id := range m.registry.IDs() {
		if err := m.terminate(ctx, id); err != nil {
			errs = append(errs, err)
		}
		terminated++
	}
	m.supervisor.StopAll()

	if err := m.engine.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close engine: %w", err))
	}
	if m.store != nil && wasStarted && m.cfg.PersistenceEnabled {
		if err := m.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	m.logger.Info("manager cleaned up", "terminated", terminated)
	m.publish(EventCleanup, "", nil)
	m.events.Close()
	return errors.Join(errs...)
}

func (m *Manager) recordMetric(agentID, kind string, value float64, unit string, fields map[string]any) {
	if m.writer == nil {
		return
	}
	m.writer.enqueue(model.MetricSample{
		AgentID:    agentID,
		Kind:       kind,
		Value:      value,
		Unit:       unit,
		RecordedAt: time.Now().UTC(),
		Context:    fields,
	})
}

func (m *Manager) publish(kind EventKind, agentID string, payload any) {
	m.events.Publish(Event{Kind: kind, At: time.Now().UTC(), AgentID: agentID, Payload: payload})
}

func (m *Manager) publishError(op, agentID string, err error) {
	m.publish(EventError, agentID, ErrorPayload{Op: op, Kind: model.ErrorKind(err), Error: err.Error()})
}
