// Package neuroswarm is the embeddable entry point: it wires configuration,
// logging, the durable store and the compute engine into a running agent
// manager.
package neuroswarm

import (
	"context"
	"fmt"
	"log/slog"

	"neuroswarm/internal/compute"
	"neuroswarm/internal/config"
	"neuroswarm/internal/logging"
	"neuroswarm/internal/model"
	"neuroswarm/internal/platform"
	"neuroswarm/internal/storage"
)

type (
	Agent              = model.AgentRecord
	AgentType          = model.AgentType
	AgentStatus        = model.AgentStatus
	Topology           = model.Topology
	TrainingSample     = model.TrainingSample
	LearningSession    = model.LearningSession
	MetricSample       = model.MetricSample
	MemoryEntry        = model.MemoryEntry
	Checkpoint         = model.SessionCheckpoint
	SpawnRequest       = platform.SpawnRequest
	Event              = platform.Event
	EventKind          = platform.EventKind
	NetworkTopology    = platform.NetworkTopology
	PerformanceMetrics = platform.PerformanceMetrics
	Config             = config.Config
)

var (
	ErrCapacityExceeded  = model.ErrCapacityExceeded
	ErrInvalidState      = model.ErrInvalidState
	ErrNotFound          = model.ErrNotFound
	ErrInvalidInput      = model.ErrInvalidInput
	ErrInferenceTimeout  = model.ErrInferenceTimeout
	ErrFeatureDisabled   = model.ErrFeatureDisabled
	ErrSecurityViolation = model.ErrSecurityViolation
	ErrEngine            = model.ErrEngine
	ErrNotInitialized    = model.ErrNotInitialized
)

type Options struct {
	// Config defaults to config.Default() when nil.
	Config *config.Config
	// Logger defaults to one built from Config.Logging.
	Logger *slog.Logger
	// Engine defaults to the in-process engine seeded from Config.Engine.
	Engine compute.Engine
}

type Client struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   storage.Store
	manager *platform.Manager
}

func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.New(cfg.LoggingConfig())
	}
	engine := opts.Engine
	if engine == nil {
		engine = compute.NewLocalEngine(compute.LocalOptions{Seed: cfg.Engine.Seed})
	}

	managerCfg := cfg.ManagerConfig()
	var store storage.Store
	if managerCfg.PersistenceEnabled {
		storeOpts := cfg.StoreOptions()
		storeOpts.Logger = logger
		var err error
		store, err = storage.NewStore(cfg.Store.Kind, storeOpts)
		if err != nil {
			return nil, err
		}
	}

	manager, err := platform.NewManager(platform.Options{
		Config: managerCfg,
		Store:  store,
		Engine: engine,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, logger: logger, store: store, manager: manager}, nil
}

// Open builds a client and initializes it.
func Open(ctx context.Context, opts Options) (*Client, error) {
	client, err := New(opts)
	if err != nil {
		return nil, err
	}
	if err := client.Init(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (c *Client) Init(ctx context.Context) error {
	return c.manager.Init(ctx)
}

// Close terminates every agent and releases the engine and the store.
func (c *Client) Close() error {
	return c.manager.Cleanup(context.Background())
}

func (c *Client) Config() *config.Config {
	return c.cfg
}

func (c *Client) Spawn(ctx context.Context, req SpawnRequest) (Agent, error) {
	return c.manager.Spawn(ctx, req)
}

func (c *Client) Infer(ctx context.Context, agentID string, inputs []float64) ([]float64, error) {
	return c.manager.RunInference(ctx, agentID, inputs)
}

func (c *Client) Train(ctx context.Context, agentID string, data []TrainingSample, epochs int) (LearningSession, error) {
	return c.manager.TrainAgent(ctx, agentID, data, epochs)
}

func (c *Client) ShareKnowledge(ctx context.Context, sourceID string, targetIDs []string) ([]string, error) {
	return c.manager.ShareKnowledge(ctx, sourceID, targetIDs)
}

func (c *Client) Terminate(ctx context.Context, agentID string) error {
	return c.manager.TerminateAgent(ctx, agentID)
}

func (c *Client) Agent(agentID string) (Agent, bool) {
	return c.manager.GetAgentState(agentID)
}

func (c *Client) Agents() []Agent {
	return c.manager.ActiveAgents()
}

func (c *Client) Topology() NetworkTopology {
	return c.manager.GetNetworkTopology()
}

func (c *Client) Metrics() PerformanceMetrics {
	return c.manager.PerformanceMetrics()
}

func (c *Client) Subscribe(buffer int) (<-chan Event, func()) {
	return c.manager.Subscribe(buffer)
}

func (c *Client) Checkpoint(ctx context.Context) (Checkpoint, error) {
	return c.manager.Checkpoint(ctx)
}

func (c *Client) Restore(ctx context.Context) ([]string, error) {
	return c.manager.Restore(ctx)
}

func (c *Client) Remember(ctx context.Context, agentID string, entry MemoryEntry) (int64, error) {
	return c.manager.Remember(ctx, agentID, entry)
}

func (c *Client) Recall(ctx context.Context, agentID, memoryType string, limit int) ([]MemoryEntry, error) {
	return c.manager.Recall(ctx, agentID, memoryType, limit)
}

// Collector returns a Prometheus collector over the manager's metrics.
func (c *Client) Collector() *platform.Collector {
	return platform.NewCollector(c.manager)
}

// StoredAgents lists persisted agents, archived ones included.
func (c *Client) StoredAgents(ctx context.Context, status AgentStatus, agentType AgentType, limit int) ([]Agent, error) {
	store, err := c.requireStore()
	if err != nil {
		return nil, err
	}
	return store.ListAgents(ctx, storage.AgentFilter{Status: status, Type: agentType, Limit: limit})
}

// StoredAgent reads one persisted agent record.
func (c *Client) StoredAgent(ctx context.Context, agentID string) (Agent, bool, error) {
	store, err := c.requireStore()
	if err != nil {
		return Agent{}, false, err
	}
	return store.GetAgent(ctx, agentID)
}

// AgentMetrics returns the recorded samples of one agent, optionally of a
// single kind.
func (c *Client) AgentMetrics(ctx context.Context, agentID, kind string) ([]MetricSample, error) {
	store, err := c.requireStore()
	if err != nil {
		return nil, err
	}
	return store.GetMetrics(ctx, agentID, kind)
}

func (c *Client) LatestCheckpoint(ctx context.Context) (Checkpoint, bool, error) {
	store, err := c.requireStore()
	if err != nil {
		return Checkpoint{}, false, err
	}
	return store.LatestCheckpoint(ctx)
}

// StoreInfo reports the schema objects and journal mode of a SQLite-backed
// client.
type StoreInfo struct {
	Tables      []string
	Indexes     []string
	JournalMode string
}

func (c *Client) StoreInfo(ctx context.Context) (StoreInfo, error) {
	store, err := c.requireStore()
	if err != nil {
		return StoreInfo{}, err
	}
	introspector, ok := store.(storage.Introspector)
	if !ok {
		return StoreInfo{}, fmt.Errorf("%w: %s store has no schema to inspect", ErrFeatureDisabled, c.cfg.Store.Kind)
	}
	var info StoreInfo
	if info.Tables, err = introspector.Tables(ctx); err != nil {
		return StoreInfo{}, err
	}
	if info.Indexes, err = introspector.Indexes(ctx); err != nil {
		return StoreInfo{}, err
	}
	if info.JournalMode, err = introspector.JournalMode(ctx); err != nil {
		return StoreInfo{}, err
	}
	return info, nil
}

func (c *Client) requireStore() (storage.Store, error) {
	if c.store == nil {
		return nil, fmt.Errorf("%w: persistence is disabled", ErrFeatureDisabled)
	}
	return c.store, nil
}
