package platform

import (
	"fmt"
	"sort"
	"sync"

	"neuroswarm/internal/compute"
	"neuroswarm/internal/model"
)

// agentEntry is one live agent. record and trainDone are guarded by the
// registry lock; op serializes engine calls on the agent.
type agentEntry struct {
	op        sync.Mutex
	record    model.AgentRecord
	handle    compute.Handle
	trainDone chan struct{}
}

// Registry is the in-process table of live agents. Only the manager writes
// to it; readers receive cloned snapshots.
type Registry struct {
	capacity int

	mu     sync.RWMutex
	agents map[string]*agentEntry
	closed bool
}

func NewRegistry(capacity int) *Registry {
	return &Registry{capacity: capacity, agents: make(map[string]*agentEntry)}
}

// Reserve inserts record in the initializing state if capacity allows.
// The check and the insert happen under one lock. The returned entry's op
// lock is held; the caller unlocks it once the agent is active or removed.
func (r *Registry) Reserve(record model.AgentRecord) (*agentEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("%w: registry is closed", model.ErrNotInitialized)
	}
	if len(r.agents) >= r.capacity {
		return nil, fmt.Errorf("%w: %d of %d agents live", model.ErrCapacityExceeded, len(r.agents), r.capacity)
	}
	if _, exists := r.agents[record.ID]; exists {
		return nil, fmt.Errorf("%w: agent id %s already registered", model.ErrInvalidState, record.ID)
	}
	record.Status = model.StatusInitializing
	entry := &agentEntry{record: record.Clone()}
	entry.op.Lock()
	r.agents[record.ID] = entry
	return entry, nil
}

// Activate attaches the allocated network and moves the agent to active.
func (r *Registry) Activate(id string, handle compute.Handle, apply func(*model.AgentRecord)) (model.AgentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.agents[id]
	if !ok {
		return model.AgentRecord{}, fmt.Errorf("%w: agent %s", model.ErrNotFound, id)
	}
	if !model.CanTransition(entry.record.Status, model.StatusActive) {
		return model.AgentRecord{}, fmt.Errorf("%w: agent %s is %s", model.ErrInvalidState, id, entry.record.Status)
	}
	entry.handle = handle
	if apply != nil {
		apply(&entry.record)
	}
	entry.record.Status = model.StatusActive
	return entry.record.Clone(), nil
}

// Close stops further reservations. Agents already registered stay until
// they are removed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
}

func (r *Registry) entry(id string) (*agentEntry, model.AgentRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.agents[id]
	if !ok {
		return nil, model.AgentRecord{}, false
	}
	return entry, entry.record.Clone(), true
}

// Transition moves the agent along a legal state-machine edge.
func (r *Registry) Transition(id string, to model.AgentStatus) (model.AgentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.agents[id]
	if !ok {
		return model.AgentRecord{}, fmt.Errorf("%w: agent %s", model.ErrNotFound, id)
	}
	if !model.CanTransition(entry.record.Status, to) {
		return model.AgentRecord{}, fmt.Errorf("%w: agent %s cannot go from %s to %s", model.ErrInvalidState, id, entry.record.Status, to)
	}
	entry.record.Status = to
	if to == model.StatusLearning {
		entry.trainDone = make(chan struct{})
	}
	return entry.record.Clone(), nil
}

// FinishLearning returns a learning agent to active, applies update and
// wakes anyone waiting for the session to end.
func (r *Registry) FinishLearning(id string, update func(*model.AgentRecord)) (model.AgentRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.agents[id]
	if !ok {
		return model.AgentRecord{}, false
	}
	if update != nil {
		update(&entry.record)
	}
	if entry.record.Status == model.StatusLearning {
		entry.record.Status = model.StatusActive
	}
	if entry.trainDone != nil {
		close(entry.trainDone)
		entry.trainDone = nil
	}
	return entry.record.Clone(), true
}

// Update applies fn to the live record and returns the result.
func (r *Registry) Update(id string, fn func(*model.AgentRecord)) (model.AgentRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.agents[id]
	if !ok {
		return model.AgentRecord{}, false
	}
	fn(&entry.record)
	return entry.record.Clone(), true
}

func (r *Registry) learningDone(entry *agentEntry) (<-chan struct{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry.record.Status != model.StatusLearning || entry.trainDone == nil {
		return nil, false
	}
	return entry.trainDone, true
}

func (r *Registry) Snapshot(id string) (model.AgentRecord, bool) {
	_, record, ok := r.entry(id)
	return record, ok
}

// Snapshots returns clones of every live record ordered by creation time.
func (r *Registry) Snapshots() []model.AgentRecord {
	r.mu.RLock()
	out := make([]model.AgentRecord, 0, len(r.agents))
	for _, entry := range r.agents {
		out = append(out, entry.record.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

func (r *Registry) Capacity() int {
	return r.capacity
}
