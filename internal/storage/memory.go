package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"neuroswarm/internal/model"
)

// MemoryStore keeps everything in process memory. It enforces the same
// parameter validation, enum constraints and cascading deletes as the
// SQLite schema but does not survive a restart.
type MemoryStore struct {
	guard guard

	mu           sync.RWMutex
	initialized  bool
	agents       map[string]model.AgentRecord
	metrics      []model.MetricSample
	nextMetricID int64
	weights      map[string][]model.WeightBlob
	memories     map[int64]model.MemoryEntry
	nextMemoryID int64
	checkpoints  map[string]model.SessionCheckpoint
}

func NewMemoryStore(opts Options) *MemoryStore {
	opts = opts.withDefaults()
	return &MemoryStore{guard: newGuard(opts, "memory")}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.agents = make(map[string]model.AgentRecord)
	s.metrics = nil
	s.weights = make(map[string][]model.WeightBlob)
	s.memories = make(map[int64]model.MemoryEntry)
	s.checkpoints = make(map[string]model.SessionCheckpoint)
	return nil
}

func (s *MemoryStore) SaveAgent(_ context.Context, record model.AgentRecord) error {
	if err := s.checkAgent("save_agent", record); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errMemoryNotInitialized
	}
	s.agents[record.ID] = normalizeRecord(record)
	return nil
}

func (s *MemoryStore) GetAgent(_ context.Context, id string) (model.AgentRecord, bool, error) {
	if _, err := s.guard.checkValues("get_agent", id); err != nil {
		return model.AgentRecord{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return model.AgentRecord{}, false, errMemoryNotInitialized
	}
	record, ok := s.agents[id]
	if !ok {
		return model.AgentRecord{}, false, nil
	}
	return record.Clone(), true, nil
}

func (s *MemoryStore) UpdateAgentStatus(_ context.Context, id string, status model.AgentStatus) error {
	if _, err := s.guard.checkValues("update_status", string(status), id); err != nil {
		return err
	}
	if _, err := model.ParseAgentStatus(string(status)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errMemoryNotInitialized
	}
	record, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("%w: agent %s", model.ErrNotFound, id)
	}
	record.Status = status
	record.LastActive = time.Now().UTC()
	s.agents[id] = record
	return nil
}

func (s *MemoryStore) ListAgents(_ context.Context, filter AgentFilter) ([]model.AgentRecord, error) {
	if _, err := s.guard.checkValues("list_agents", string(filter.Type), string(filter.Status), filter.Limit); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, errMemoryNotInitialized
	}

	var records []model.AgentRecord
	for _, record := range s.agents {
		if filter.Type != "" && record.Type != filter.Type {
			continue
		}
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		records = append(records, record.Clone())
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records, nil
}

func (s *MemoryStore) BatchSaveAgents(_ context.Context, records []model.AgentRecord) error {
	for i, record := range records {
		if err := s.checkAgent("batch_save_agents", record); err != nil {
			return fmt.Errorf("batch record %d: %w", i, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errMemoryNotInitialized
	}
	for _, record := range records {
		s.agents[record.ID] = normalizeRecord(record)
	}
	return nil
}

func (s *MemoryStore) DeleteAgent(_ context.Context, id string) error {
	if _, err := s.guard.checkValues("delete_agent", id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errMemoryNotInitialized
	}
	delete(s.agents, id)
	delete(s.weights, id)
	kept := s.metrics[:0]
	for _, sample := range s.metrics {
		if sample.AgentID != id {
			kept = append(kept, sample)
		}
	}
	s.metrics = kept
	for memoryID, entry := range s.memories {
		if entry.AgentID == id {
			delete(s.memories, memoryID)
		}
	}
	return nil
}

func (s *MemoryStore) RecordMetric(_ context.Context, sample model.MetricSample) error {
	contextJSON, err := encodeContext(sample.Context)
	if err != nil {
		return err
	}
	if _, err := s.guard.checkValues("record_metric", sample.AgentID, sample.Kind, sample.Value, sample.Unit, contextJSON); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errMemoryNotInitialized
	}
	if _, ok := s.agents[sample.AgentID]; !ok {
		return fmt.Errorf("%w: agent %s", model.ErrNotFound, sample.AgentID)
	}
	s.nextMetricID++
	sample.ID = s.nextMetricID
	sample.RecordedAt = fromNanos(toNanos(recordedAt(sample.RecordedAt)))
	// Round-trip through JSON so readers see the same shapes as SQLite.
	sample.Context, _ = decodeContext(contextJSON)
	s.metrics = append(s.metrics, sample)
	return nil
}

func (s *MemoryStore) GetMetrics(_ context.Context, agentID, kind string) ([]model.MetricSample, error) {
	if _, err := s.guard.checkValues("get_metrics", agentID, kind); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, errMemoryNotInitialized
	}
	var samples []model.MetricSample
	for _, sample := range s.metrics {
		if sample.AgentID != agentID || (kind != "" && sample.Kind != kind) {
			continue
		}
		samples = append(samples, sample)
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].RecordedAt.Before(samples[j].RecordedAt)
	})
	return samples, nil
}

func (s *MemoryStore) SaveWeights(_ context.Context, agentID string, blobs []model.WeightBlob) error {
	now := time.Now()
	stored := make([]model.WeightBlob, 0, len(blobs))
	for _, blob := range blobs {
		if _, err := s.guard.checkValues("save_weights", agentID, blob.LayerIndex, blob.Weights, blob.Biases); err != nil {
			return err
		}
		checksum := BlobChecksum(blob.Weights, blob.Biases)
		if blob.Checksum != "" && blob.Checksum != checksum {
			return fmt.Errorf("%w: layer %d", ErrChecksumMismatch, blob.LayerIndex)
		}
		updated := blob.UpdatedAt
		if updated.IsZero() {
			updated = now
		}
		stored = append(stored, model.WeightBlob{
			AgentID:     agentID,
			LayerIndex:  blob.LayerIndex,
			Weights:     append([]byte(nil), blob.Weights...),
			Biases:      append([]byte(nil), blob.Biases...),
			Checksum:    checksum,
			Compression: CompressionNone,
			UpdatedAt:   fromNanos(toNanos(updated)),
		})
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].LayerIndex < stored[j].LayerIndex })

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errMemoryNotInitialized
	}
	if _, ok := s.agents[agentID]; !ok {
		return fmt.Errorf("%w: agent %s", model.ErrNotFound, agentID)
	}
	s.weights[agentID] = stored
	return nil
}

func (s *MemoryStore) GetWeights(_ context.Context, agentID string) ([]model.WeightBlob, error) {
	if _, err := s.guard.checkValues("get_weights", agentID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, errMemoryNotInitialized
	}
	stored := s.weights[agentID]
	if len(stored) == 0 {
		return nil, nil
	}
	blobs := make([]model.WeightBlob, len(stored))
	for i, blob := range stored {
		blob.Weights = append([]byte(nil), blob.Weights...)
		blob.Biases = append([]byte(nil), blob.Biases...)
		blobs[i] = blob
	}
	return blobs, nil
}

func (s *MemoryStore) SaveMemory(_ context.Context, entry model.MemoryEntry) (int64, error) {
	if _, err := s.guard.checkValues("save_memory", entry.AgentID, entry.MemoryType, entry.Key, entry.Value, entry.Importance, entry.AccessCount); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return 0, errMemoryNotInitialized
	}
	if _, ok := s.agents[entry.AgentID]; !ok {
		return 0, fmt.Errorf("%w: agent %s", model.ErrNotFound, entry.AgentID)
	}

	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastAccessed.IsZero() {
		entry.LastAccessed = entry.CreatedAt
	}
	entry.CreatedAt = fromNanos(toNanos(entry.CreatedAt))
	entry.LastAccessed = fromNanos(toNanos(entry.LastAccessed))
	if entry.ExpiresAt != nil {
		at := fromNanos(toNanos(*entry.ExpiresAt))
		entry.ExpiresAt = &at
	}
	entry.Value = append([]byte(nil), entry.Value...)
	s.nextMemoryID++
	entry.ID = s.nextMemoryID
	s.memories[entry.ID] = entry
	return entry.ID, nil
}

func (s *MemoryStore) ListMemories(_ context.Context, agentID, memoryType string, limit int) ([]model.MemoryEntry, error) {
	if _, err := s.guard.checkValues("list_memories", agentID, memoryType, limit); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, errMemoryNotInitialized
	}
	now := time.Now()
	var entries []model.MemoryEntry
	for _, entry := range s.memories {
		if entry.AgentID != agentID || (memoryType != "" && entry.MemoryType != memoryType) {
			continue
		}
		if entry.ExpiresAt != nil && !entry.ExpiresAt.After(now) {
			continue
		}
		entry.Value = append([]byte(nil), entry.Value...)
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if !a.LastAccessed.Equal(b.LastAccessed) {
			return a.LastAccessed.After(b.LastAccessed)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *MemoryStore) PruneExpiredMemories(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return 0, errMemoryNotInitialized
	}
	var pruned int64
	for id, entry := range s.memories {
		if entry.ExpiresAt != nil && !entry.ExpiresAt.After(now) {
			delete(s.memories, id)
			pruned++
		}
	}
	return pruned, nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, cp model.SessionCheckpoint) error {
	if _, err := s.guard.checkValues("save_checkpoint", cp.ID, cp.Topology, cp.Coordination, cp.Active); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errMemoryNotInitialized
	}
	if cp.Active {
		for id, existing := range s.checkpoints {
			existing.Active = false
			s.checkpoints[id] = existing
		}
	}
	cp.ActiveAgentIDs = append([]string(nil), cp.ActiveAgentIDs...)
	cp.Coordination = append([]byte(nil), cp.Coordination...)
	cp.CreatedAt = fromNanos(toNanos(cp.CreatedAt))
	cp.CheckpointAt = fromNanos(toNanos(cp.CheckpointAt))
	if len(cp.ActiveAgentIDs) == 0 {
		cp.ActiveAgentIDs = nil
	}
	s.checkpoints[cp.ID] = cp
	return nil
}

func (s *MemoryStore) LatestCheckpoint(_ context.Context) (model.SessionCheckpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return model.SessionCheckpoint{}, false, errMemoryNotInitialized
	}
	var (
		latest model.SessionCheckpoint
		found  bool
	)
	for _, cp := range s.checkpoints {
		if !cp.Active {
			continue
		}
		if !found || cp.CheckpointAt.After(latest.CheckpointAt) {
			latest = cp
			found = true
		}
	}
	return latest, found, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	return nil
}

var errMemoryNotInitialized = fmt.Errorf("memory store: %w", model.ErrNotInitialized)

// checkAgent applies the parameter checks and the enum constraints the
// SQLite schema enforces with CHECK clauses.
func (s *MemoryStore) checkAgent(op string, record model.AgentRecord) error {
	layers, err := encodeLayers(record.Topology.Layers)
	if err != nil {
		return err
	}
	metadata, err := encodeMetadata(record.Metadata)
	if err != nil {
		return err
	}
	if _, err := s.guard.checkValues(op,
		record.ID, string(record.Type), string(record.Status), record.CognitivePattern, layers,
		record.Topology.Activation, record.Topology.LearningRate, record.Topology.Momentum,
		record.MemoryBytes, record.PerformanceScore, record.TotalInferences,
		record.TrainingProgress, record.ConnectionStrength, metadata,
	); err != nil {
		return err
	}
	if _, err := model.ParseAgentType(string(record.Type)); err != nil {
		return fmt.Errorf("agent %s: %w", record.ID, err)
	}
	if _, err := model.ParseAgentStatus(string(record.Status)); err != nil {
		return fmt.Errorf("agent %s: %w", record.ID, err)
	}
	return nil
}

// normalizeRecord gives the record the shape a SQLite round trip produces.
func normalizeRecord(record model.AgentRecord) model.AgentRecord {
	record = record.Clone()
	record.CreatedAt = fromNanos(toNanos(record.CreatedAt))
	record.LastActive = fromNanos(toNanos(record.LastActive))
	if len(record.Topology.Layers) == 0 {
		record.Topology.Layers = nil
	}
	if len(record.Metadata) == 0 {
		record.Metadata = nil
	}
	return record
}
