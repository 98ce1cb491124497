package platform

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"neuroswarm/internal/compute"
	"neuroswarm/internal/model"
	"neuroswarm/internal/nn"
)

type fakeHandle struct {
	memory  int64
	weights []float64
	busy    atomic.Int32
}

func (h *fakeHandle) MemoryBytes() int64 { return h.memory }

// fakeEngine is a scriptable compute.Engine for lifecycle tests.
type fakeEngine struct {
	memory     int64
	createErr  error
	trainErr   error
	inferDelay atomic.Int64
	// ignoreCtx makes Infer sit out its delay after the deadline passes.
	ignoreCtx atomic.Bool
	// overlaps counts Infer and Train calls that found the handle busy.
	overlaps atomic.Int64

	// trainGate, when set, holds Train until it is closed.
	trainGate    chan struct{}
	trainStarted chan struct{}
	// createGate, when set, holds CreateNetwork until it is closed.
	createGate    chan struct{}
	createStarted chan struct{}

	mu       sync.Mutex
	live     int
	released int
	closed   bool
}

var _ compute.Engine = (*fakeEngine)(nil)

func newFakeEngine() *fakeEngine {
	return &fakeEngine{memory: 1024}
}

func (e *fakeEngine) setInferDelay(d time.Duration) {
	e.inferDelay.Store(int64(d))
}

// enter marks handle busy for the duration of an engine call.
func (e *fakeEngine) enter(handle compute.Handle) func() {
	h, ok := handle.(*fakeHandle)
	if !ok {
		return func() {}
	}
	if h.busy.Add(1) > 1 {
		e.overlaps.Add(1)
	}
	return func() { h.busy.Add(-1) }
}

func (e *fakeEngine) CreateNetwork(_ context.Context, _ model.Topology) (compute.Handle, error) {
	if e.createStarted != nil {
		select {
		case e.createStarted <- struct{}{}:
		default:
		}
	}
	if e.createGate != nil {
		<-e.createGate
	}
	if e.createErr != nil {
		return nil, e.createErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.live++
	return &fakeHandle{memory: e.memory, weights: []float64{1, 2, 3, 4}}, nil
}

func (e *fakeEngine) Infer(ctx context.Context, handle compute.Handle, inputs []float64) ([]float64, error) {
	defer e.enter(handle)()
	if delay := time.Duration(e.inferDelay.Load()); delay > 0 && e.ignoreCtx.Load() {
		time.Sleep(delay)
	} else if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([]float64, len(inputs))
	for i, v := range inputs {
		out[i] = v * 2
	}
	return out, nil
}

func (e *fakeEngine) Train(ctx context.Context, handle compute.Handle, _ []model.TrainingSample, epochs int) (compute.TrainResult, error) {
	defer e.enter(handle)()
	if e.trainStarted != nil {
		select {
		case e.trainStarted <- struct{}{}:
		default:
		}
	}
	if e.trainGate != nil {
		select {
		case <-e.trainGate:
		case <-ctx.Done():
			return compute.TrainResult{}, ctx.Err()
		}
	}
	if e.trainErr != nil {
		return compute.TrainResult{}, e.trainErr
	}
	return compute.TrainResult{Accuracy: 0.75, ConvergenceEpoch: epochs / 2}, nil
}

func (e *fakeEngine) SerializeWeights(_ context.Context, handle compute.Handle) ([]byte, error) {
	h, ok := handle.(*fakeHandle)
	if !ok {
		return nil, errors.New("foreign handle")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return nn.EncodeFloat32s(h.weights), nil
}

func (e *fakeEngine) DeserializeWeights(_ context.Context, handle compute.Handle, weights []byte, influence float64) error {
	h, ok := handle.(*fakeHandle)
	if !ok {
		return errors.New("foreign handle")
	}
	incoming, err := nn.DecodeFloat32s(weights)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range h.weights {
		if i >= len(incoming) {
			break
		}
		h.weights[i] = h.weights[i]*(1-influence) + incoming[i]*influence
	}
	return nil
}

func (e *fakeEngine) Release(compute.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.live--
	e.released++
	return nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) counts() (live, released int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live, e.released
}
