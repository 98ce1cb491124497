package model

import (
	"fmt"
	"time"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version" cbor:"schema_version"`
	CodecVersion  int `json:"codec_version" cbor:"codec_version"`
}

type AgentType string

const (
	AgentTypeResearcher AgentType = "researcher"
	AgentTypeCoder      AgentType = "coder"
	AgentTypeTester     AgentType = "tester"
	AgentTypeReviewer   AgentType = "reviewer"
	AgentTypeDebugger   AgentType = "debugger"
	AgentTypeMLP        AgentType = "mlp"
	AgentTypeLSTM       AgentType = "lstm"
	AgentTypeCNN        AgentType = "cnn"
)

var agentTypes = []AgentType{
	AgentTypeResearcher,
	AgentTypeCoder,
	AgentTypeTester,
	AgentTypeReviewer,
	AgentTypeDebugger,
	AgentTypeMLP,
	AgentTypeLSTM,
	AgentTypeCNN,
}

// AgentTypes lists the closed set of agent type tags.
func AgentTypes() []AgentType {
	return append([]AgentType(nil), agentTypes...)
}

func ParseAgentType(raw string) (AgentType, error) {
	for _, t := range agentTypes {
		if string(t) == raw {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown agent type %q", ErrInvalidInput, raw)
}

type AgentStatus string

const (
	StatusInitializing AgentStatus = "initializing"
	StatusActive       AgentStatus = "active"
	StatusLearning     AgentStatus = "learning"
	StatusTerminating  AgentStatus = "terminating"
	// StatusTerminated only appears on archived store rows.
	StatusTerminated AgentStatus = "terminated"
)

var statuses = []AgentStatus{
	StatusInitializing,
	StatusActive,
	StatusLearning,
	StatusTerminating,
	StatusTerminated,
}

func ParseAgentStatus(raw string) (AgentStatus, error) {
	for _, s := range statuses {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: unknown agent status %q", ErrInvalidInput, raw)
}

var transitions = map[AgentStatus][]AgentStatus{
	StatusInitializing: {StatusActive, StatusTerminating},
	StatusActive:       {StatusLearning, StatusTerminating},
	StatusLearning:     {StatusActive},
	StatusTerminating:  {StatusTerminated},
}

// CanTransition reports whether the lifecycle state machine allows from -> to.
func CanTransition(from, to AgentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Live reports whether the status counts toward the live-agent capacity.
func (s AgentStatus) Live() bool {
	switch s {
	case StatusInitializing, StatusActive, StatusLearning, StatusTerminating:
		return true
	default:
		return false
	}
}

// Topology describes the network shape of an agent. It is immutable after spawn.
type Topology struct {
	Layers       []int   `json:"layers" cbor:"layers"`
	Activation   string  `json:"activation" cbor:"activation"`
	LearningRate float64 `json:"learning_rate" cbor:"learning_rate"`
	Momentum     float64 `json:"momentum" cbor:"momentum"`
}

func (t Topology) Clone() Topology {
	t.Layers = append([]int(nil), t.Layers...)
	return t
}

func (t Topology) Validate() error {
	if len(t.Layers) < 2 {
		return fmt.Errorf("%w: topology needs at least input and output layers", ErrInvalidInput)
	}
	for i, size := range t.Layers {
		if size <= 0 {
			return fmt.Errorf("%w: layer %d size must be > 0", ErrInvalidInput, i)
		}
	}
	if t.LearningRate < 0 || t.Momentum < 0 || t.Momentum >= 1 {
		return fmt.Errorf("%w: learning rate must be >= 0 and momentum in [0,1)", ErrInvalidInput)
	}
	return nil
}

type AgentRecord struct {
	ID                 string            `json:"id"`
	Type               AgentType         `json:"type"`
	Status             AgentStatus       `json:"status"`
	CognitivePattern   string            `json:"cognitive_pattern"`
	Topology           Topology          `json:"topology"`
	CreatedAt          time.Time         `json:"created_at"`
	LastActive         time.Time         `json:"last_active"`
	MemoryBytes        int64             `json:"memory_bytes"`
	PerformanceScore   float64           `json:"performance_score"`
	SpawnTime          time.Duration     `json:"spawn_time"`
	TotalInferences    int64             `json:"total_inferences"`
	AvgInferenceTime   time.Duration     `json:"avg_inference_time"`
	TrainingProgress   float64           `json:"training_progress"`
	ConnectionStrength float64           `json:"connection_strength"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy safe to hand to readers outside the registry.
func (r AgentRecord) Clone() AgentRecord {
	r.Topology = r.Topology.Clone()
	if r.Metadata != nil {
		metadata := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			metadata[k] = v
		}
		r.Metadata = metadata
	}
	return r
}

// Metric kinds recorded by the manager.
const (
	MetricSpawnLatency     = "spawn_latency"
	MetricInferenceLatency = "inference_latency"
	MetricTrainingAccuracy = "training_accuracy"
	MetricMemoryUsage      = "memory_usage"
)

type MetricSample struct {
	ID         int64          `json:"id,omitempty"`
	AgentID    string         `json:"agent_id"`
	Kind       string         `json:"kind"`
	Value      float64        `json:"value"`
	Unit       string         `json:"unit"`
	RecordedAt time.Time      `json:"recorded_at"`
	Context    map[string]any `json:"context,omitempty"`
}

type WeightBlob struct {
	AgentID     string    `json:"agent_id"`
	LayerIndex  int       `json:"layer_index"`
	Weights     []byte    `json:"weights"`
	Biases      []byte    `json:"biases"`
	Checksum    string    `json:"checksum"`
	Compression string    `json:"compression"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SessionCheckpoint struct {
	ID             string    `json:"id"`
	Topology       string    `json:"topology"`
	ActiveAgentIDs []string  `json:"active_agent_ids"`
	Coordination   []byte    `json:"coordination"`
	CreatedAt      time.Time `json:"created_at"`
	CheckpointAt   time.Time `json:"checkpoint_at"`
	Active         bool      `json:"active"`
}

// MemoryEntry is a keyed item in an agent's knowledge base.
type MemoryEntry struct {
	ID           int64      `json:"id,omitempty"`
	AgentID      string     `json:"agent_id"`
	MemoryType   string     `json:"memory_type"`
	Key          string     `json:"key"`
	Value        []byte     `json:"value"`
	Importance   float64    `json:"importance"`
	AccessCount  int64      `json:"access_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastAccessed time.Time  `json:"last_accessed"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

type TrainingSample struct {
	Inputs  []float64 `json:"inputs"`
	Outputs []float64 `json:"outputs"`
}

type LearningSession struct {
	ID               string        `json:"id"`
	AgentID          string        `json:"agent_id"`
	StartTime        time.Time     `json:"start_time"`
	Duration         time.Duration `json:"duration"`
	Epochs           int           `json:"epochs"`
	FinalAccuracy    float64       `json:"final_accuracy"`
	DataPoints       int           `json:"data_points"`
	ConvergenceEpoch int           `json:"convergence_epoch"`
}

// CoordinationState is the swarm-wide bookkeeping saved with a checkpoint.
type CoordinationState struct {
	VersionedRecord
	TotalAgentsSpawned  int64             `json:"total_agents_spawned" cbor:"total_agents_spawned"`
	TotalInferences     int64             `json:"total_inferences" cbor:"total_inferences"`
	AverageSpawnTime    time.Duration     `json:"average_spawn_time" cbor:"average_spawn_time"`
	AverageInference    time.Duration     `json:"average_inference" cbor:"average_inference"`
	ActiveLearningTasks int               `json:"active_learning_tasks" cbor:"active_learning_tasks"`
	Config              map[string]string `json:"config,omitempty" cbor:"config,omitempty"`
}
