package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"neuroswarm/internal/logging"
	"neuroswarm/internal/model"
)

func openBackends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	opts := Options{
		Path:   filepath.Join(t.TempDir(), "nested", "agents.db"),
		Logger: logging.Discard(),
	}

	stores := map[string]Store{
		"memory": NewMemoryStore(opts),
		"sqlite": NewSQLiteStore(opts),
	}
	for name, store := range stores {
		if err := store.Init(ctx); err != nil {
			t.Fatalf("init %s: %v", name, err)
		}
		s := store
		t.Cleanup(func() {
			_ = s.Close()
		})
	}
	return stores
}

func sampleRecord(id string) model.AgentRecord {
	created := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	return model.AgentRecord{
		ID:               id,
		Type:             model.AgentTypeResearcher,
		Status:           model.StatusActive,
		CognitivePattern: "divergent",
		Topology: model.Topology{
			Layers:       []int{4, 8, 2},
			Activation:   "tanh",
			LearningRate: 0.05,
			Momentum:     0.9,
		},
		CreatedAt:          created,
		LastActive:         created.Add(3 * time.Second),
		MemoryBytes:        4096,
		PerformanceScore:   0.75,
		SpawnTime:          42 * time.Millisecond,
		TotalInferences:    17,
		AvgInferenceTime:   1500 * time.Microsecond,
		TrainingProgress:   0.5,
		ConnectionStrength: 0.3,
		Metadata:           map[string]string{"owner": "ops"},
	}
}

func float32Bytes(values ...float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func TestStoreAgentRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			record := sampleRecord("agent-roundtrip")
			if err := store.SaveAgent(ctx, record); err != nil {
				t.Fatalf("save agent: %v", err)
			}

			loaded, ok, err := store.GetAgent(ctx, record.ID)
			if err != nil {
				t.Fatalf("get agent: %v", err)
			}
			if !ok {
				t.Fatalf("expected agent %s", record.ID)
			}
			if !reflect.DeepEqual(loaded, record) {
				t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", loaded, record)
			}

			_, ok, err = store.GetAgent(ctx, "missing")
			if err != nil || ok {
				t.Fatalf("expected absent agent, got ok=%t err=%v", ok, err)
			}
		})
	}
}

func TestStoreUpsertAndStatus(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			record := sampleRecord("agent-upsert")
			if err := store.SaveAgent(ctx, record); err != nil {
				t.Fatalf("save agent: %v", err)
			}
			record.TotalInferences = 99
			record.Metadata = nil
			if err := store.SaveAgent(ctx, record); err != nil {
				t.Fatalf("upsert agent: %v", err)
			}
			if err := store.UpdateAgentStatus(ctx, record.ID, model.StatusTerminated); err != nil {
				t.Fatalf("update status: %v", err)
			}

			loaded, _, err := store.GetAgent(ctx, record.ID)
			if err != nil {
				t.Fatalf("get agent: %v", err)
			}
			if loaded.TotalInferences != 99 || loaded.Metadata != nil || loaded.Status != model.StatusTerminated {
				t.Fatalf("unexpected agent after upsert: %+v", loaded)
			}

			err = store.UpdateAgentStatus(ctx, "missing", model.StatusActive)
			if !errors.Is(err, model.ErrNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
		})
	}
}

func TestStoreListAgentsFilters(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			first := sampleRecord("a1")
			second := sampleRecord("a2")
			second.Type = model.AgentTypeCoder
			second.CreatedAt = first.CreatedAt.Add(time.Second)
			third := sampleRecord("a3")
			third.Status = model.StatusLearning
			third.CreatedAt = first.CreatedAt.Add(2 * time.Second)
			for _, record := range []model.AgentRecord{third, first, second} {
				if err := store.SaveAgent(ctx, record); err != nil {
					t.Fatalf("save %s: %v", record.ID, err)
				}
			}

			all, err := store.ListAgents(ctx, AgentFilter{})
			if err != nil {
				t.Fatalf("list agents: %v", err)
			}
			if got := ids(all); !reflect.DeepEqual(got, []string{"a1", "a2", "a3"}) {
				t.Fatalf("unexpected order: %v", got)
			}

			active, err := store.ListAgents(ctx, AgentFilter{Status: model.StatusActive, Type: model.AgentTypeResearcher})
			if err != nil {
				t.Fatalf("list filtered: %v", err)
			}
			if got := ids(active); !reflect.DeepEqual(got, []string{"a1"}) {
				t.Fatalf("unexpected filtered agents: %v", got)
			}

			limited, err := store.ListAgents(ctx, AgentFilter{Limit: 2})
			if err != nil {
				t.Fatalf("list limited: %v", err)
			}
			if len(limited) != 2 {
				t.Fatalf("expected 2 agents, got %d", len(limited))
			}
		})
	}
}

func ids(records []model.AgentRecord) []string {
	out := make([]string, 0, len(records))
	for _, record := range records {
		out = append(out, record.ID)
	}
	return out
}

func TestStoreBatchSaveIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			batch := make([]model.AgentRecord, 100)
			for i := range batch {
				batch[i] = sampleRecord(fmt.Sprintf("batch-%03d", i))
			}

			broken := append([]model.AgentRecord(nil), batch...)
			broken[99].Status = "exploded"
			if err := store.BatchSaveAgents(ctx, broken); err == nil {
				t.Fatal("expected batch with invalid record to fail")
			}
			all, err := store.ListAgents(ctx, AgentFilter{})
			if err != nil {
				t.Fatalf("list agents: %v", err)
			}
			if len(all) != 0 {
				t.Fatalf("expected no agents after failed batch, got %d", len(all))
			}

			if err := store.BatchSaveAgents(ctx, batch); err != nil {
				t.Fatalf("batch save: %v", err)
			}
			all, err = store.ListAgents(ctx, AgentFilter{})
			if err != nil {
				t.Fatalf("list agents: %v", err)
			}
			if len(all) != 100 {
				t.Fatalf("expected 100 agents, got %d", len(all))
			}
		})
	}
}

func TestStoreRejectsUnsafeParameters(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			record := sampleRecord("agent\x00evil")
			err := store.SaveAgent(ctx, record)
			if !errors.Is(err, model.ErrSecurityViolation) {
				t.Fatalf("expected security violation, got %v", err)
			}

			record = sampleRecord("agent-nan")
			record.PerformanceScore = math.NaN()
			if err := store.SaveAgent(ctx, record); !errors.Is(err, model.ErrSecurityViolation) {
				t.Fatalf("expected security violation for NaN, got %v", err)
			}

			all, err := store.ListAgents(ctx, AgentFilter{})
			if err != nil {
				t.Fatalf("list agents: %v", err)
			}
			if len(all) != 0 {
				t.Fatalf("rejected records must not be stored, got %d", len(all))
			}
		})
	}
}

func TestStoreMetrics(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			record := sampleRecord("agent-metrics")
			if err := store.SaveAgent(ctx, record); err != nil {
				t.Fatalf("save agent: %v", err)
			}
			base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
			samples := []model.MetricSample{
				{AgentID: record.ID, Kind: model.MetricInferenceLatency, Value: 2.5, Unit: "ms", RecordedAt: base.Add(2 * time.Second)},
				{AgentID: record.ID, Kind: model.MetricSpawnLatency, Value: 40, Unit: "ms", RecordedAt: base},
				{AgentID: record.ID, Kind: model.MetricInferenceLatency, Value: 1.5, Unit: "ms", RecordedAt: base.Add(time.Second),
					Context: map[string]any{"inputs": 4.0}},
			}
			for _, sample := range samples {
				if err := store.RecordMetric(ctx, sample); err != nil {
					t.Fatalf("record metric: %v", err)
				}
			}

			inference, err := store.GetMetrics(ctx, record.ID, model.MetricInferenceLatency)
			if err != nil {
				t.Fatalf("get metrics: %v", err)
			}
			if len(inference) != 2 || inference[0].Value != 1.5 || inference[1].Value != 2.5 {
				t.Fatalf("unexpected inference metrics: %+v", inference)
			}
			if inference[0].Context["inputs"] != 4.0 || !inference[0].RecordedAt.Equal(base.Add(time.Second)) {
				t.Fatalf("unexpected metric details: %+v", inference[0])
			}

			all, err := store.GetMetrics(ctx, record.ID, "")
			if err != nil {
				t.Fatalf("get all metrics: %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("expected 3 metrics, got %d", len(all))
			}

			if err := store.RecordMetric(ctx, model.MetricSample{AgentID: "ghost", Kind: "x", Unit: "ms"}); err == nil {
				t.Fatal("expected orphan metric to be rejected")
			}
		})
	}
}

func TestStoreWeightsRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			record := sampleRecord("agent-weights")
			if err := store.SaveAgent(ctx, record); err != nil {
				t.Fatalf("save agent: %v", err)
			}

			smooth := make([]float32, 512)
			for i := range smooth {
				smooth[i] = 0.25 + float32(i%8)*0.001
			}
			blobs := []model.WeightBlob{
				{LayerIndex: 1, Weights: float32Bytes(0.1, -0.2, 0.3), Biases: float32Bytes(0.01)},
				{LayerIndex: 0, Weights: float32Bytes(smooth...), Biases: float32Bytes(0, 0, 0, 0)},
			}
			if err := store.SaveWeights(ctx, record.ID, blobs); err != nil {
				t.Fatalf("save weights: %v", err)
			}

			loaded, err := store.GetWeights(ctx, record.ID)
			if err != nil {
				t.Fatalf("get weights: %v", err)
			}
			if len(loaded) != 2 || loaded[0].LayerIndex != 0 || loaded[1].LayerIndex != 1 {
				t.Fatalf("unexpected layers: %+v", loaded)
			}
			if !reflect.DeepEqual(loaded[0].Weights, blobs[1].Weights) || !reflect.DeepEqual(loaded[1].Biases, blobs[0].Biases) {
				t.Fatal("weight payload changed across round trip")
			}
			if loaded[0].Checksum != BlobChecksum(blobs[1].Weights, blobs[1].Biases) {
				t.Fatalf("unexpected checksum %s", loaded[0].Checksum)
			}

			if err := store.SaveWeights(ctx, record.ID, blobs[:1]); err != nil {
				t.Fatalf("replace weights: %v", err)
			}
			loaded, err = store.GetWeights(ctx, record.ID)
			if err != nil {
				t.Fatalf("get weights: %v", err)
			}
			if len(loaded) != 1 {
				t.Fatalf("expected replaced weights to hold 1 layer, got %d", len(loaded))
			}

			err = store.SaveWeights(ctx, "ghost", blobs)
			if !errors.Is(err, model.ErrNotFound) {
				t.Fatalf("expected not found for orphan weights, got %v", err)
			}
			bad := blobs[0]
			bad.Checksum = "deadbeef"
			if err := store.SaveWeights(ctx, record.ID, []model.WeightBlob{bad}); !errors.Is(err, ErrChecksumMismatch) {
				t.Fatalf("expected checksum mismatch, got %v", err)
			}
		})
	}
}

func TestStoreMemoriesOrderingAndExpiry(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			record := sampleRecord("agent-memory")
			if err := store.SaveAgent(ctx, record); err != nil {
				t.Fatalf("save agent: %v", err)
			}
			past := time.Now().Add(-time.Minute)
			future := time.Now().Add(time.Hour)
			entries := []model.MemoryEntry{
				{AgentID: record.ID, MemoryType: "fact", Key: "low", Value: []byte("l"), Importance: 0.2},
				{AgentID: record.ID, MemoryType: "fact", Key: "high", Value: []byte("h"), Importance: 0.9, ExpiresAt: &future},
				{AgentID: record.ID, MemoryType: "skill", Key: "mid", Value: []byte("m"), Importance: 0.5},
				{AgentID: record.ID, MemoryType: "fact", Key: "stale", Value: []byte("s"), Importance: 1.0, ExpiresAt: &past},
			}
			for _, entry := range entries {
				id, err := store.SaveMemory(ctx, entry)
				if err != nil {
					t.Fatalf("save memory %s: %v", entry.Key, err)
				}
				if id <= 0 {
					t.Fatalf("expected positive memory id, got %d", id)
				}
			}

			all, err := store.ListMemories(ctx, record.ID, "", 0)
			if err != nil {
				t.Fatalf("list memories: %v", err)
			}
			if got := memoryKeys(all); !reflect.DeepEqual(got, []string{"high", "mid", "low"}) {
				t.Fatalf("unexpected memory order: %v", got)
			}

			facts, err := store.ListMemories(ctx, record.ID, "fact", 1)
			if err != nil {
				t.Fatalf("list facts: %v", err)
			}
			if got := memoryKeys(facts); !reflect.DeepEqual(got, []string{"high"}) {
				t.Fatalf("unexpected facts: %v", got)
			}

			pruned, err := store.PruneExpiredMemories(ctx, time.Now())
			if err != nil {
				t.Fatalf("prune memories: %v", err)
			}
			if pruned != 1 {
				t.Fatalf("expected 1 pruned memory, got %d", pruned)
			}

			if _, err := store.SaveMemory(ctx, model.MemoryEntry{AgentID: "ghost", MemoryType: "fact", Key: "k"}); !errors.Is(err, model.ErrNotFound) {
				t.Fatalf("expected not found for orphan memory, got %v", err)
			}
		})
	}
}

func memoryKeys(entries []model.MemoryEntry) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Key)
	}
	return out
}

func TestStoreDeleteCascades(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			record := sampleRecord("agent-cascade")
			if err := store.SaveAgent(ctx, record); err != nil {
				t.Fatalf("save agent: %v", err)
			}
			if err := store.RecordMetric(ctx, model.MetricSample{AgentID: record.ID, Kind: model.MetricSpawnLatency, Value: 1, Unit: "ms"}); err != nil {
				t.Fatalf("record metric: %v", err)
			}
			if err := store.SaveWeights(ctx, record.ID, []model.WeightBlob{{LayerIndex: 0, Weights: float32Bytes(1), Biases: float32Bytes(2)}}); err != nil {
				t.Fatalf("save weights: %v", err)
			}
			if _, err := store.SaveMemory(ctx, model.MemoryEntry{AgentID: record.ID, MemoryType: "fact", Key: "k", Value: []byte("v")}); err != nil {
				t.Fatalf("save memory: %v", err)
			}

			if err := store.DeleteAgent(ctx, record.ID); err != nil {
				t.Fatalf("delete agent: %v", err)
			}

			if _, ok, _ := store.GetAgent(ctx, record.ID); ok {
				t.Fatal("agent still present after delete")
			}
			metrics, _ := store.GetMetrics(ctx, record.ID, "")
			weights, _ := store.GetWeights(ctx, record.ID)
			memories, _ := store.ListMemories(ctx, record.ID, "", 0)
			if len(metrics) != 0 || len(weights) != 0 || len(memories) != 0 {
				t.Fatalf("orphans left behind: metrics=%d weights=%d memories=%d", len(metrics), len(weights), len(memories))
			}
		})
	}
}

func TestStoreCheckpoints(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := store.LatestCheckpoint(ctx); err != nil || ok {
				t.Fatalf("expected no checkpoint, got ok=%t err=%v", ok, err)
			}

			base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
			first := model.SessionCheckpoint{
				ID: "cp-1", Topology: "mesh", ActiveAgentIDs: []string{"a1"}, Coordination: []byte{1},
				CreatedAt: base, CheckpointAt: base, Active: true,
			}
			second := model.SessionCheckpoint{
				ID: "cp-2", Topology: "mesh", ActiveAgentIDs: []string{"a1", "a2"}, Coordination: []byte{2},
				CreatedAt: base.Add(time.Minute), CheckpointAt: base.Add(time.Minute), Active: true,
			}
			for _, cp := range []model.SessionCheckpoint{first, second} {
				if err := store.SaveCheckpoint(ctx, cp); err != nil {
					t.Fatalf("save checkpoint %s: %v", cp.ID, err)
				}
			}

			latest, ok, err := store.LatestCheckpoint(ctx)
			if err != nil || !ok {
				t.Fatalf("latest checkpoint: ok=%t err=%v", ok, err)
			}
			if !reflect.DeepEqual(latest, second) {
				t.Fatalf("unexpected latest checkpoint:\n got %+v\nwant %+v", latest, second)
			}
		})
	}
}

func TestStoreClosedFailsNotInitialized(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}
			if err := store.SaveAgent(ctx, sampleRecord("late")); !errors.Is(err, model.ErrNotInitialized) {
				t.Fatalf("expected not initialized on save, got %v", err)
			}
			if _, _, err := store.GetAgent(ctx, "late"); !errors.Is(err, model.ErrNotInitialized) {
				t.Fatalf("expected not initialized on get, got %v", err)
			}
			if _, err := store.ListAgents(ctx, AgentFilter{}); !errors.Is(err, model.ErrNotInitialized) {
				t.Fatalf("expected not initialized on list, got %v", err)
			}
		})
	}
}
