package platform

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"neuroswarm/internal/compute"
	"neuroswarm/internal/model"
	"neuroswarm/internal/nn"
	"neuroswarm/internal/storage"
)

// checkpointTopology names the edge layout recorded with each checkpoint.
const checkpointTopology = "mesh"

// Remember stores an entry in the agent's knowledge base.
func (m *Manager) Remember(ctx context.Context, id string, entry model.MemoryEntry) (int64, error) {
	if err := m.requirePersistence(); err != nil {
		return 0, err
	}
	if _, ok := m.registry.Snapshot(id); !ok {
		return 0, fmt.Errorf("%w: agent %s", model.ErrNotFound, id)
	}
	entry.AgentID = id
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.LastAccessed.IsZero() {
		entry.LastAccessed = entry.CreatedAt
	}
	return m.store.SaveMemory(ctx, entry)
}

// Recall lists the agent's unexpired memories, most important first.
func (m *Manager) Recall(ctx context.Context, id, memoryType string, limit int) ([]model.MemoryEntry, error) {
	if err := m.requirePersistence(); err != nil {
		return nil, err
	}
	return m.store.ListMemories(ctx, id, memoryType, limit)
}

func (m *Manager) requirePersistence() error {
	if err := m.requireStarted(); err != nil {
		return err
	}
	if !m.cfg.PersistenceEnabled {
		return fmt.Errorf("%w: persistence is disabled", model.ErrFeatureDisabled)
	}
	return nil
}

// Checkpoint flushes every live agent and its weights, then records a
// session checkpoint that supersedes the previous one. Agents busy with a
// long operation keep their last persisted weights.
func (m *Manager) Checkpoint(ctx context.Context) (model.SessionCheckpoint, error) {
	if err := m.requirePersistence(); err != nil {
		return model.SessionCheckpoint{}, err
	}
	m.persistMu.Lock()
	agents := make([]model.AgentRecord, 0, m.registry.Len())
	for _, record := range m.registry.Snapshots() {
		if record.Status == model.StatusActive || record.Status == model.StatusLearning {
			agents = append(agents, record)
		}
	}
	err := m.store.BatchSaveAgents(ctx, agents)
	m.persistMu.Unlock()
	if err != nil {
		return model.SessionCheckpoint{}, fmt.Errorf("checkpoint agents: %w", err)
	}

	ids := make([]string, 0, len(agents))
	for _, record := range agents {
		ids = append(ids, record.ID)
		entry, _, ok := m.registry.entry(record.ID)
		if !ok {
			continue
		}
		if !entry.op.TryLock() {
			m.logger.Debug("agent busy, keeping previous weights in checkpoint", "agent_id", record.ID)
			continue
		}
		if current, live := m.registry.Snapshot(record.ID); !live || current.Status == model.StatusTerminating {
			entry.op.Unlock()
			continue
		}
		err := m.persistWeights(ctx, record, entry.handle)
		entry.op.Unlock()
		if err != nil {
			return model.SessionCheckpoint{}, fmt.Errorf("checkpoint weights: %w", err)
		}
	}

	metrics := m.stats.snapshot()
	coordination, err := storage.EncodeCoordination(model.CoordinationState{
		TotalAgentsSpawned:  metrics.TotalAgentsSpawned,
		TotalInferences:     metrics.TotalInferences,
		AverageSpawnTime:    metrics.AverageSpawnTime,
		AverageInference:    metrics.AverageInferenceTime,
		ActiveLearningTasks: metrics.ActiveLearningTasks,
		Config: map[string]string{
			"max_agents":             fmt.Sprint(m.cfg.MaxAgents),
			"memory_limit_per_agent": fmt.Sprint(m.cfg.MemoryLimitPerAgent),
			"inference_timeout":      m.cfg.InferenceTimeout.String(),
		},
	})
	if err != nil {
		return model.SessionCheckpoint{}, err
	}
	now := time.Now().UTC()
	cp := model.SessionCheckpoint{
		ID:             "session-" + uuid.NewString(),
		Topology:       checkpointTopology,
		ActiveAgentIDs: ids,
		Coordination:   coordination,
		CreatedAt:      now,
		CheckpointAt:   now,
		Active:         true,
	}
	if err := m.store.SaveCheckpoint(ctx, cp); err != nil {
		return model.SessionCheckpoint{}, fmt.Errorf("save checkpoint: %w", err)
	}
	m.logger.Info("checkpoint saved", "checkpoint_id", cp.ID, "agents", len(ids))
	return cp, nil
}

func (m *Manager) scheduledCheckpoint() {
	ctx := context.Background()
	if _, err := m.Checkpoint(ctx); err != nil {
		m.logger.Error("scheduled checkpoint failed", "error", err)
		m.publishError("checkpoint", "", err)
		return
	}
	pruned, err := m.store.PruneExpiredMemories(ctx, time.Now().UTC())
	if err != nil {
		m.logger.Warn("prune expired memories failed", "error", err)
		return
	}
	if pruned > 0 {
		m.logger.Debug("pruned expired memories", "count", pruned)
	}
}

// Restore rehydrates the agents of the latest active checkpoint that are
// not already live, including agents archived by a later shutdown. Agents
// whose rows were deleted are skipped. Restoration stops at the capacity
// ceiling.
func (m *Manager) Restore(ctx context.Context) ([]string, error) {
	if err := m.requirePersistence(); err != nil {
		return nil, err
	}
	cp, ok, err := m.store.LatestCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no active checkpoint", model.ErrNotFound)
	}
	state, err := storage.DecodeCoordination(cp.Coordination)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", cp.ID, err)
	}
	m.stats.restore(state)

	restored := make([]string, 0, len(cp.ActiveAgentIDs))
	for _, id := range cp.ActiveAgentIDs {
		if _, live := m.registry.Snapshot(id); live {
			continue
		}
		record, found, err := m.store.GetAgent(ctx, id)
		if err != nil {
			return restored, err
		}
		if !found {
			continue
		}
		ok, err := m.restoreAgent(ctx, record)
		if err != nil {
			return restored, err
		}
		if ok {
			restored = append(restored, id)
		}
	}
	m.logger.Info("checkpoint restored", "checkpoint_id", cp.ID, "agents", len(restored))
	return restored, nil
}

// restoreAgent reports false without an error when the agent's network
// no longer fits under the per-agent memory limit.
func (m *Manager) restoreAgent(ctx context.Context, record model.AgentRecord) (bool, error) {
	entry, err := m.registry.Reserve(record)
	if err != nil {
		return false, err
	}
	defer entry.op.Unlock()

	handle, err := m.engine.CreateNetwork(ctx, record.Topology)
	if err != nil {
		m.registry.Remove(record.ID)
		return false, fmt.Errorf("%w: %w", model.ErrEngine, err)
	}
	memory := handle.MemoryBytes()
	if memory > m.cfg.MemoryLimitPerAgent {
		m.releaseHandle(record.ID, handle)
		m.registry.Remove(record.ID)
		err := fmt.Errorf("%w: network needs %d bytes, limit is %d", model.ErrCapacityExceeded, memory, m.cfg.MemoryLimitPerAgent)
		m.logger.Warn("skipping restored agent over memory limit", "agent_id", record.ID, "memory", memory, "limit", m.cfg.MemoryLimitPerAgent)
		m.publishError("restore", record.ID, err)
		return false, nil
	}
	if err := m.loadWeights(ctx, record.ID, handle); err != nil {
		m.releaseHandle(record.ID, handle)
		m.registry.Remove(record.ID)
		return false, err
	}
	active, err := m.registry.Activate(record.ID, handle, func(r *model.AgentRecord) {
		r.MemoryBytes = memory
	})
	if err != nil {
		m.releaseHandle(record.ID, handle)
		m.registry.Remove(record.ID)
		return false, err
	}
	if err := m.store.SaveAgent(ctx, active); err != nil {
		m.releaseHandle(record.ID, handle)
		m.registry.Remove(record.ID)
		return false, fmt.Errorf("persist restored agent %s: %w", record.ID, err)
	}
	return true, nil
}

// persistWeights splits the engine's flat serialization into one blob per
// layer. A payload that does not match the topology is kept whole as
// layer 0.
func (m *Manager) persistWeights(ctx context.Context, record model.AgentRecord, handle compute.Handle) error {
	raw, err := m.engine.SerializeWeights(ctx, handle)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrEngine, err)
	}
	now := time.Now().UTC()
	spans := nn.LayerSpans(record.Topology.Layers)
	total := 0
	for _, span := range spans {
		total += (span.Weights + span.Biases) * 4
	}

	var blobs []model.WeightBlob
	if total == len(raw) && len(spans) > 0 {
		blobs = make([]model.WeightBlob, 0, len(spans))
		offset := 0
		for layer, span := range spans {
			weightsEnd := offset + span.Weights*4
			biasesEnd := weightsEnd + span.Biases*4
			blobs = append(blobs, model.WeightBlob{
				AgentID:    record.ID,
				LayerIndex: layer,
				Weights:    raw[offset:weightsEnd],
				Biases:     raw[weightsEnd:biasesEnd],
				UpdatedAt:  now,
			})
			offset = biasesEnd
		}
	} else {
		blobs = []model.WeightBlob{{AgentID: record.ID, Weights: raw, UpdatedAt: now}}
	}
	if err := m.store.SaveWeights(ctx, record.ID, blobs); err != nil {
		return fmt.Errorf("persist weights of %s: %w", record.ID, err)
	}
	return nil
}

func (m *Manager) loadWeights(ctx context.Context, id string, handle compute.Handle) error {
	blobs, err := m.store.GetWeights(ctx, id)
	if err != nil {
		return fmt.Errorf("load weights of %s: %w", id, err)
	}
	if len(blobs) == 0 {
		return nil
	}
	sort.Slice(blobs, func(i, j int) bool { return blobs[i].LayerIndex < blobs[j].LayerIndex })
	var flat []byte
	for _, blob := range blobs {
		flat = append(flat, blob.Weights...)
		flat = append(flat, blob.Biases...)
	}
	if err := m.engine.DeserializeWeights(ctx, handle, flat, 1.0); err != nil {
		return fmt.Errorf("%w: %w", model.ErrEngine, err)
	}
	return nil
}
