package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"neuroswarm/internal/model"

	_ "modernc.org/sqlite"
)

const agentColumns = `id, type, status, cognitive_pattern, network_layers, activation, learning_rate,
	momentum, created_at, last_active, memory_bytes, performance_score, spawn_time_ns, total_inferences,
	avg_inference_ns, training_progress, connection_strength, metadata_json`

const upsertAgentSQL = `
	INSERT INTO agents (` + agentColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		type = excluded.type,
		status = excluded.status,
		cognitive_pattern = excluded.cognitive_pattern,
		network_layers = excluded.network_layers,
		activation = excluded.activation,
		learning_rate = excluded.learning_rate,
		momentum = excluded.momentum,
		created_at = excluded.created_at,
		last_active = excluded.last_active,
		memory_bytes = excluded.memory_bytes,
		performance_score = excluded.performance_score,
		spawn_time_ns = excluded.spawn_time_ns,
		total_inferences = excluded.total_inferences,
		avg_inference_ns = excluded.avg_inference_ns,
		training_progress = excluded.training_progress,
		connection_strength = excluded.connection_strength,
		metadata_json = excluded.metadata_json`

// SQLiteStore is the durable Store backed by an embedded SQLite file in
// WAL mode with foreign keys enforced.
type SQLiteStore struct {
	opts  Options
	guard guard

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(opts Options) *SQLiteStore {
	opts = opts.withDefaults()
	return &SQLiteStore{opts: opts, guard: newGuard(opts, "sqlite")}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	if s.opts.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.opts.Path), 0o755); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping sqlite %s: %w", s.opts.Path, err)
	}
	if err := createSchema(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("create schema: %w", err)
	}

	s.db = db
	s.guard.logger.Debug("store initialized", "path", s.opts.Path)
	return nil
}

func (s *SQLiteStore) dsn() string {
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", s.opts.BusyTimeout.Milliseconds()))
	params.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + s.opts.Path + "?" + params.Encode()
}

func (s *SQLiteStore) SaveAgent(ctx context.Context, record model.AgentRecord) error {
	defer s.guard.observe("save_agent", time.Now())
	db, err := s.getDB()
	if err != nil {
		return err
	}
	args, err := s.agentArgs("save_agent", record)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, upsertAgentSQL, args...); err != nil {
		return fmt.Errorf("save agent %s: %w", record.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (model.AgentRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.AgentRecord{}, false, err
	}
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = ?`
	args, err := s.guard.check("get_agent", query, id)
	if err != nil {
		return model.AgentRecord{}, false, err
	}

	record, err := scanAgent(db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AgentRecord{}, false, nil
		}
		return model.AgentRecord{}, false, fmt.Errorf("get agent %s: %w", id, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) UpdateAgentStatus(ctx context.Context, id string, status model.AgentStatus) error {
	defer s.guard.observe("update_status", time.Now())
	db, err := s.getDB()
	if err != nil {
		return err
	}
	query := `UPDATE agents SET status = ?, last_active = ? WHERE id = ?`
	args, err := s.guard.check("update_status", query, string(status), time.Now().UnixNano(), id)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update status of %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: agent %s", model.ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) ListAgents(ctx context.Context, filter AgentFilter) ([]model.AgentRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	query := `SELECT ` + agentColumns + ` FROM agents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	args, err = s.guard.check("list_agents", query, args...)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var records []model.AgentRecord
	for rows.Next() {
		record, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("list agents: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) BatchSaveAgents(ctx context.Context, records []model.AgentRecord) error {
	defer s.guard.observe("batch_save_agents", time.Now())
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertAgentSQL)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for i, record := range records {
		args, err := s.agentArgs("batch_save_agents", record)
		if err != nil {
			return fmt.Errorf("batch record %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("batch record %d (%s): %w", i, record.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	defer s.guard.observe("delete_agent", time.Now())
	db, err := s.getDB()
	if err != nil {
		return err
	}
	query := `DELETE FROM agents WHERE id = ?`
	args, err := s.guard.check("delete_agent", query, id)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) RecordMetric(ctx context.Context, sample model.MetricSample) error {
	defer s.guard.observe("record_metric", time.Now())
	db, err := s.getDB()
	if err != nil {
		return err
	}
	contextJSON, err := encodeContext(sample.Context)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO agent_metrics (agent_id, metric_type, value, unit, recorded_at, context_json)
		VALUES (?, ?, ?, ?, ?, ?)`
	args, err := s.guard.check("record_metric", query,
		sample.AgentID, sample.Kind, sample.Value, sample.Unit, toNanos(recordedAt(sample.RecordedAt)), contextJSON)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record metric %s for %s: %w", sample.Kind, sample.AgentID, err)
	}
	return nil
}

func (s *SQLiteStore) GetMetrics(ctx context.Context, agentID, kind string) ([]model.MetricSample, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	query := `SELECT id, agent_id, metric_type, value, unit, recorded_at, context_json FROM agent_metrics WHERE agent_id = ?`
	args := []any{agentID}
	if kind != "" {
		query += " AND metric_type = ?"
		args = append(args, kind)
	}
	query += " ORDER BY recorded_at, id"
	args, err = s.guard.check("get_metrics", query, args...)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get metrics for %s: %w", agentID, err)
	}
	defer rows.Close()

	var samples []model.MetricSample
	for rows.Next() {
		var (
			sample      model.MetricSample
			recorded    int64
			contextJSON string
		)
		if err := rows.Scan(&sample.ID, &sample.AgentID, &sample.Kind, &sample.Value, &sample.Unit, &recorded, &contextJSON); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		sample.RecordedAt = fromNanos(recorded)
		if sample.Context, err = decodeContext(contextJSON); err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

func (s *SQLiteStore) SaveWeights(ctx context.Context, agentID string, blobs []model.WeightBlob) error {
	defer s.guard.observe("save_weights", time.Now())
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save weights: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireAgent(ctx, tx, s.guard, agentID); err != nil {
		return err
	}
	deleteQuery := `DELETE FROM neural_weights WHERE agent_id = ?`
	args, err := s.guard.check("save_weights", deleteQuery, agentID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, deleteQuery, args...); err != nil {
		return fmt.Errorf("clear weights of %s: %w", agentID, err)
	}

	insertQuery := `
		INSERT INTO neural_weights (agent_id, layer_index, weight_data, bias_data, weight_size, bias_size,
			updated_at, checksum, compression_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	for _, blob := range blobs {
		packed, err := packBlob(blob)
		if err != nil {
			return err
		}
		updated := blob.UpdatedAt
		if updated.IsZero() {
			updated = now
		}
		args, err := s.guard.check("save_weights", insertQuery,
			agentID, blob.LayerIndex, packed.weights, packed.biases, packed.weightsSize, packed.biasesSize,
			toNanos(updated), packed.checksum, packed.compression)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insertQuery, args...); err != nil {
			return fmt.Errorf("save weights of %s layer %d: %w", agentID, blob.LayerIndex, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit weights of %s: %w", agentID, err)
	}
	return nil
}

func (s *SQLiteStore) GetWeights(ctx context.Context, agentID string) ([]model.WeightBlob, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	query := `
		SELECT layer_index, weight_data, bias_data, weight_size, bias_size, updated_at, checksum, compression_type
		FROM neural_weights WHERE agent_id = ? ORDER BY layer_index`
	args, err := s.guard.check("get_weights", query, agentID)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get weights of %s: %w", agentID, err)
	}
	defer rows.Close()

	var blobs []model.WeightBlob
	for rows.Next() {
		var (
			layer   int
			packed  packedBlob
			updated int64
		)
		if err := rows.Scan(&layer, &packed.weights, &packed.biases, &packed.weightsSize, &packed.biasesSize,
			&updated, &packed.checksum, &packed.compression); err != nil {
			return nil, fmt.Errorf("scan weights: %w", err)
		}
		blob, err := unpackBlob(agentID, layer, packed)
		if err != nil {
			return nil, err
		}
		blob.UpdatedAt = fromNanos(updated)
		blobs = append(blobs, blob)
	}
	return blobs, rows.Err()
}

func (s *SQLiteStore) SaveMemory(ctx context.Context, entry model.MemoryEntry) (int64, error) {
	defer s.guard.observe("save_memory", time.Now())
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}

	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastAccessed.IsZero() {
		entry.LastAccessed = entry.CreatedAt
	}
	var expires any
	if entry.ExpiresAt != nil {
		expires = toNanos(*entry.ExpiresAt)
	}
	value := entry.Value
	if value == nil {
		value = []byte{}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin save memory: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireAgent(ctx, tx, s.guard, entry.AgentID); err != nil {
		return 0, err
	}
	query := `
		INSERT INTO agent_memory (agent_id, memory_type, key, value_data, importance_score, access_count,
			created_at, last_accessed, ttl_expires)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args, err := s.guard.check("save_memory", query,
		entry.AgentID, entry.MemoryType, entry.Key, value, entry.Importance, entry.AccessCount,
		toNanos(entry.CreatedAt), toNanos(entry.LastAccessed), expires)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("save memory %s for %s: %w", entry.Key, entry.AgentID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("save memory id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit memory: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) ListMemories(ctx context.Context, agentID, memoryType string, limit int) ([]model.MemoryEntry, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	query := `
		SELECT id, agent_id, memory_type, key, value_data, importance_score, access_count, created_at,
			last_accessed, ttl_expires
		FROM agent_memory WHERE agent_id = ? AND (ttl_expires IS NULL OR ttl_expires > ?)`
	args := []any{agentID, time.Now().UnixNano()}
	if memoryType != "" {
		query += " AND memory_type = ?"
		args = append(args, memoryType)
	}
	query += " ORDER BY importance_score DESC, last_accessed DESC, id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	args, err = s.guard.check("list_memories", query, args...)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories of %s: %w", agentID, err)
	}
	defer rows.Close()

	var entries []model.MemoryEntry
	for rows.Next() {
		var (
			entry             model.MemoryEntry
			created, accessed int64
			expires           sql.NullInt64
		)
		if err := rows.Scan(&entry.ID, &entry.AgentID, &entry.MemoryType, &entry.Key, &entry.Value,
			&entry.Importance, &entry.AccessCount, &created, &accessed, &expires); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		entry.CreatedAt = fromNanos(created)
		entry.LastAccessed = fromNanos(accessed)
		if expires.Valid {
			at := fromNanos(expires.Int64)
			entry.ExpiresAt = &at
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) PruneExpiredMemories(ctx context.Context, now time.Time) (int64, error) {
	defer s.guard.observe("prune_memories", time.Now())
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	query := `DELETE FROM agent_memory WHERE ttl_expires IS NOT NULL AND ttl_expires <= ?`
	args, err := s.guard.check("prune_memories", query, now.UnixNano())
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("prune memories: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp model.SessionCheckpoint) error {
	defer s.guard.observe("save_checkpoint", time.Now())
	db, err := s.getDB()
	if err != nil {
		return err
	}
	ids, err := encodeIDs(cp.ActiveAgentIDs)
	if err != nil {
		return err
	}
	coordination := cp.Coordination
	if coordination == nil {
		coordination = []byte{}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if cp.Active {
		if _, err := tx.ExecContext(ctx, `UPDATE session_state SET is_active = 0 WHERE is_active = 1`); err != nil {
			return fmt.Errorf("deactivate checkpoints: %w", err)
		}
	}
	query := `
		INSERT INTO session_state (id, swarm_topology, active_agents, coordination_state, created_at,
			last_checkpoint, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			swarm_topology = excluded.swarm_topology,
			active_agents = excluded.active_agents,
			coordination_state = excluded.coordination_state,
			last_checkpoint = excluded.last_checkpoint,
			is_active = excluded.is_active`
	args, err := s.guard.check("save_checkpoint", query,
		cp.ID, cp.Topology, ids, coordination, toNanos(cp.CreatedAt), toNanos(cp.CheckpointAt), cp.Active)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

func (s *SQLiteStore) LatestCheckpoint(ctx context.Context) (model.SessionCheckpoint, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.SessionCheckpoint{}, false, err
	}
	var (
		cp                model.SessionCheckpoint
		ids               string
		created, lastSeen int64
	)
	err = db.QueryRowContext(ctx, `
		SELECT id, swarm_topology, active_agents, coordination_state, created_at, last_checkpoint, is_active
		FROM session_state WHERE is_active = 1
		ORDER BY last_checkpoint DESC LIMIT 1`,
	).Scan(&cp.ID, &cp.Topology, &ids, &cp.Coordination, &created, &lastSeen, &cp.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SessionCheckpoint{}, false, nil
		}
		return model.SessionCheckpoint{}, false, fmt.Errorf("latest checkpoint: %w", err)
	}
	if cp.ActiveAgentIDs, err = decodeIDs(ids); err != nil {
		return model.SessionCheckpoint{}, false, err
	}
	cp.CreatedAt = fromNanos(created)
	cp.CheckpointAt = fromNanos(lastSeen)
	return cp, true, nil
}

func (s *SQLiteStore) Tables(ctx context.Context) ([]string, error) {
	return s.names(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
}

func (s *SQLiteStore) Indexes(ctx context.Context) ([]string, error) {
	return s.names(ctx, `SELECT name FROM sqlite_master WHERE type = 'index' AND name LIKE 'idx_%' ORDER BY name`)
}

func (s *SQLiteStore) JournalMode(ctx context.Context) (string, error) {
	db, err := s.getDB()
	if err != nil {
		return "", err
	}
	var mode string
	if err := db.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode); err != nil {
		return "", fmt.Errorf("journal mode: %w", err)
	}
	return strings.ToLower(mode), nil
}

func (s *SQLiteStore) names(ctx context.Context, query string) ([]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, fmt.Errorf("sqlite store: %w", model.ErrNotInitialized)
	}
	return s.db, nil
}

func (s *SQLiteStore) agentArgs(op string, record model.AgentRecord) ([]any, error) {
	layers, err := encodeLayers(record.Topology.Layers)
	if err != nil {
		return nil, err
	}
	metadata, err := encodeMetadata(record.Metadata)
	if err != nil {
		return nil, err
	}
	return s.guard.check(op, upsertAgentSQL,
		record.ID,
		string(record.Type),
		string(record.Status),
		record.CognitivePattern,
		layers,
		record.Topology.Activation,
		record.Topology.LearningRate,
		record.Topology.Momentum,
		toNanos(record.CreatedAt),
		toNanos(record.LastActive),
		record.MemoryBytes,
		record.PerformanceScore,
		int64(record.SpawnTime),
		record.TotalInferences,
		int64(record.AvgInferenceTime),
		record.TrainingProgress,
		record.ConnectionStrength,
		metadata,
	)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (model.AgentRecord, error) {
	var (
		record                   model.AgentRecord
		agentType, status        string
		layers, metadata         string
		created, lastActive      int64
		spawnNanos, avgInference int64
	)
	err := row.Scan(
		&record.ID,
		&agentType,
		&status,
		&record.CognitivePattern,
		&layers,
		&record.Topology.Activation,
		&record.Topology.LearningRate,
		&record.Topology.Momentum,
		&created,
		&lastActive,
		&record.MemoryBytes,
		&record.PerformanceScore,
		&spawnNanos,
		&record.TotalInferences,
		&avgInference,
		&record.TrainingProgress,
		&record.ConnectionStrength,
		&metadata,
	)
	if err != nil {
		return model.AgentRecord{}, err
	}
	record.Type = model.AgentType(agentType)
	record.Status = model.AgentStatus(status)
	record.CreatedAt = fromNanos(created)
	record.LastActive = fromNanos(lastActive)
	record.SpawnTime = time.Duration(spawnNanos)
	record.AvgInferenceTime = time.Duration(avgInference)
	if record.Topology.Layers, err = decodeLayers(layers); err != nil {
		return model.AgentRecord{}, err
	}
	if record.Metadata, err = decodeMetadata(metadata); err != nil {
		return model.AgentRecord{}, err
	}
	return record, nil
}

func requireAgent(ctx context.Context, tx *sql.Tx, g guard, agentID string) error {
	query := `SELECT 1 FROM agents WHERE id = ?`
	args, err := g.check("require_agent", query, agentID)
	if err != nil {
		return err
	}
	var one int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: agent %s", model.ErrNotFound, agentID)
		}
		return fmt.Errorf("lookup agent %s: %w", agentID, err)
	}
	return nil
}

func recordedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func createSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL CHECK (type IN ('researcher', 'coder', 'tester', 'reviewer', 'debugger', 'mlp', 'lstm', 'cnn')),
			status TEXT NOT NULL DEFAULT 'initializing'
				CHECK (status IN ('initializing', 'active', 'learning', 'terminating', 'terminated')),
			cognitive_pattern TEXT NOT NULL DEFAULT '',
			network_layers TEXT NOT NULL,
			activation TEXT NOT NULL DEFAULT '',
			learning_rate REAL NOT NULL DEFAULT 0.01,
			momentum REAL NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			last_active INTEGER NOT NULL,
			memory_bytes INTEGER NOT NULL DEFAULT 0,
			performance_score REAL NOT NULL DEFAULT 0,
			spawn_time_ns INTEGER NOT NULL DEFAULT 0,
			total_inferences INTEGER NOT NULL DEFAULT 0,
			avg_inference_ns INTEGER NOT NULL DEFAULT 0,
			training_progress REAL NOT NULL DEFAULT 0,
			connection_strength REAL NOT NULL DEFAULT 0,
			metadata_json TEXT NOT NULL DEFAULT '{}'
		);
		CREATE TABLE IF NOT EXISTS neural_weights (
			agent_id TEXT NOT NULL,
			layer_index INTEGER NOT NULL,
			weight_data BLOB NOT NULL,
			bias_data BLOB NOT NULL,
			weight_size INTEGER NOT NULL,
			bias_size INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			checksum TEXT NOT NULL,
			compression_type TEXT NOT NULL DEFAULT 'none',
			PRIMARY KEY (agent_id, layer_index),
			FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
		);
		CREATE TABLE IF NOT EXISTS agent_memory (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			key TEXT NOT NULL,
			value_data BLOB NOT NULL,
			importance_score REAL NOT NULL DEFAULT 0.5,
			access_count INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			last_accessed INTEGER NOT NULL,
			ttl_expires INTEGER DEFAULT NULL,
			FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
		);
		CREATE TABLE IF NOT EXISTS agent_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			metric_type TEXT NOT NULL,
			value REAL NOT NULL,
			unit TEXT NOT NULL,
			recorded_at INTEGER NOT NULL,
			context_json TEXT NOT NULL DEFAULT '{}',
			FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
		);
		CREATE TABLE IF NOT EXISTS session_state (
			id TEXT PRIMARY KEY,
			swarm_topology TEXT NOT NULL,
			active_agents TEXT NOT NULL,
			coordination_state BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			last_checkpoint INTEGER NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status, last_active);
		CREATE INDEX IF NOT EXISTS idx_agents_type ON agents(type, status);
		CREATE INDEX IF NOT EXISTS idx_neural_weights_agent ON neural_weights(agent_id);
		CREATE INDEX IF NOT EXISTS idx_agent_memory_type ON agent_memory(agent_id, memory_type);
		CREATE INDEX IF NOT EXISTS idx_agent_memory_importance ON agent_memory(importance_score DESC, last_accessed DESC);
		CREATE INDEX IF NOT EXISTS idx_metrics_agent_type ON agent_metrics(agent_id, metric_type, recorded_at);
		CREATE INDEX IF NOT EXISTS idx_session_active ON session_state(is_active, last_checkpoint);
	`)
	return err
}
