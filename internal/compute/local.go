package compute

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"neuroswarm/internal/model"
	"neuroswarm/internal/nn"
)

var (
	ErrEngineClosed  = errors.New("compute engine is closed")
	ErrUnknownHandle = errors.New("handle does not belong to this engine")
	ErrReleased      = errors.New("network has been released")
)

type LocalOptions struct {
	// Seed makes weight initialization reproducible; zero uses the clock.
	Seed int64
}

// LocalEngine runs networks in-process on top of package nn.
type LocalEngine struct {
	mu     sync.Mutex
	rng    *rand.Rand
	closed bool
	live   map[*localHandle]struct{}
}

type localHandle struct {
	mu       sync.Mutex
	network  *nn.Network
	released bool
}

func (h *localHandle) MemoryBytes() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.network == nil {
		return 0
	}
	return h.network.MemoryBytes()
}

func NewLocalEngine(opts LocalOptions) *LocalEngine {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &LocalEngine{
		rng:  rand.New(rand.NewSource(seed)),
		live: make(map[*localHandle]struct{}),
	}
}

func (e *LocalEngine) CreateNetwork(ctx context.Context, topology model.Topology) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	network, err := nn.NewNetwork(topology, rand.New(rand.NewSource(e.rng.Int63())))
	if err != nil {
		return nil, err
	}
	h := &localHandle{network: network}
	e.live[h] = struct{}{}
	return h, nil
}

func (e *LocalEngine) Infer(ctx context.Context, handle Handle, inputs []float64) ([]float64, error) {
	h, err := e.lookup(handle)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, ErrReleased
	}
	return h.network.Forward(inputs)
}

func (e *LocalEngine) Train(ctx context.Context, handle Handle, data []model.TrainingSample, epochs int) (TrainResult, error) {
	h, err := e.lookup(handle)
	if err != nil {
		return TrainResult{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return TrainResult{}, ErrReleased
	}
	result, err := h.network.Train(ctx, data, epochs)
	if err != nil {
		return TrainResult{}, err
	}
	return TrainResult{Accuracy: result.Accuracy, ConvergenceEpoch: result.ConvergenceEpoch}, nil
}

func (e *LocalEngine) SerializeWeights(_ context.Context, handle Handle) ([]byte, error) {
	h, err := e.lookup(handle)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, ErrReleased
	}
	return nn.EncodeFloat32s(h.network.Flatten()), nil
}

func (e *LocalEngine) DeserializeWeights(_ context.Context, handle Handle, weights []byte, influence float64) error {
	h, err := e.lookup(handle)
	if err != nil {
		return err
	}
	incoming, err := nn.DecodeFloat32s(weights)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	return h.network.Blend(incoming, influence)
}

func (e *LocalEngine) Release(handle Handle) error {
	h, err := e.lookup(handle)
	if err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.live, h)
	e.mu.Unlock()

	h.mu.Lock()
	h.released = true
	h.network = nil
	h.mu.Unlock()
	return nil
}

// Live reports how many networks are allocated and not yet released.
func (e *LocalEngine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

func (e *LocalEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	for h := range e.live {
		h.mu.Lock()
		h.released = true
		h.network = nil
		h.mu.Unlock()
	}
	e.live = make(map[*localHandle]struct{})
	e.closed = true
	return nil
}

func (e *LocalEngine) lookup(handle Handle) (*localHandle, error) {
	h, ok := handle.(*localHandle)
	if !ok || h == nil {
		return nil, fmt.Errorf("%w: %T", ErrUnknownHandle, handle)
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrEngineClosed
	}
	return h, nil
}
