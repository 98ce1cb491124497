package storage

import (
	"context"
	"log/slog"
	"time"

	"neuroswarm/internal/model"
	"neuroswarm/internal/security"
)

const (
	DefaultBusyTimeout   = 5 * time.Second
	DefaultSlowThreshold = 50 * time.Millisecond
)

// Options configures a store backend.
type Options struct {
	// Path of the SQLite database file. Parent directories are created.
	Path        string
	BusyTimeout time.Duration
	// SlowThreshold is the latency budget above which an operation is
	// logged as slow. It never fails the operation.
	SlowThreshold time.Duration
	Security      security.Config
	Logger        *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = DefaultBusyTimeout
	}
	if o.SlowThreshold <= 0 {
		o.SlowThreshold = DefaultSlowThreshold
	}
	return o
}

// AgentFilter narrows ListAgents. Zero values match everything.
type AgentFilter struct {
	Status model.AgentStatus
	Type   model.AgentType
	Limit  int
}

// Store persists agent records and everything hanging off them. Weight
// blobs, metric samples and memories are removed with their agent.
// Every operation on an uninitialized or closed store fails with
// model.ErrNotInitialized; rejected parameters fail with
// model.ErrSecurityViolation before any statement runs.
type Store interface {
	Init(ctx context.Context) error
	SaveAgent(ctx context.Context, record model.AgentRecord) error
	GetAgent(ctx context.Context, id string) (model.AgentRecord, bool, error)
	UpdateAgentStatus(ctx context.Context, id string, status model.AgentStatus) error
	ListAgents(ctx context.Context, filter AgentFilter) ([]model.AgentRecord, error)
	// BatchSaveAgents upserts all records in one transaction.
	BatchSaveAgents(ctx context.Context, records []model.AgentRecord) error
	DeleteAgent(ctx context.Context, id string) error
	RecordMetric(ctx context.Context, sample model.MetricSample) error
	GetMetrics(ctx context.Context, agentID, kind string) ([]model.MetricSample, error)
	// SaveWeights replaces every weight row of the agent.
	SaveWeights(ctx context.Context, agentID string, blobs []model.WeightBlob) error
	GetWeights(ctx context.Context, agentID string) ([]model.WeightBlob, error)
	SaveMemory(ctx context.Context, entry model.MemoryEntry) (int64, error)
	ListMemories(ctx context.Context, agentID, memoryType string, limit int) ([]model.MemoryEntry, error)
	PruneExpiredMemories(ctx context.Context, now time.Time) (int64, error)
	// SaveCheckpoint stores cp; when cp is active every older checkpoint
	// is deactivated in the same transaction.
	SaveCheckpoint(ctx context.Context, cp model.SessionCheckpoint) error
	LatestCheckpoint(ctx context.Context) (model.SessionCheckpoint, bool, error)
	Close() error
}

// Introspector exposes schema details of SQL-backed stores.
type Introspector interface {
	Tables(ctx context.Context) ([]string, error)
	Indexes(ctx context.Context) ([]string, error)
	JournalMode(ctx context.Context) (string, error)
}
