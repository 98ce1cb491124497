package platform

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"neuroswarm/internal/model"
)

type EventKind string

const (
	EventInitialized       EventKind = "initialized"
	EventAgentSpawned      EventKind = "agentSpawned"
	EventInferenceComplete EventKind = "inferenceComplete"
	EventLearningComplete  EventKind = "learningComplete"
	EventKnowledgeShared   EventKind = "knowledgeShared"
	EventAgentTerminated   EventKind = "agentTerminated"
	EventCleanup           EventKind = "cleanup"
	EventError             EventKind = "error"
)

// Event is a lifecycle notification. Payload holds one of the *Payload
// types below, a model.LearningSession, or nil.
type Event struct {
	Kind    EventKind
	At      time.Time
	AgentID string
	Payload any
}

type SpawnedPayload struct {
	Type        model.AgentType
	Topology    model.Topology
	SpawnTime   time.Duration
	MemoryBytes int64
}

type InferencePayload struct {
	InferenceTime time.Duration
	InputSize     int
	OutputSize    int
}

type KnowledgeSharedPayload struct {
	SourceID  string
	TargetIDs []string
	// Applied lists the targets that existed and received the blend.
	Applied []string
}

type ErrorPayload struct {
	Op    string
	Kind  string
	Error string
}

// EventBus fans events out to subscribers over buffered channels. Publish
// never blocks: an event that does not fit a subscriber's buffer is
// dropped for that subscriber and counted.
type EventBus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
	closed bool

	dropped atomic.Int64
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{logger: logger, subs: make(map[uint64]chan Event)}
}

// Subscribe returns a channel receiving every event published after the
// call and a cancel func that closes it.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *EventBus) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			if b.dropped.Add(1) == 1 {
				b.logger.Warn("event subscriber is falling behind, dropping events", "kind", event.Kind)
			}
		}
	}
}

func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every subscription; later subscribers get a closed channel.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
