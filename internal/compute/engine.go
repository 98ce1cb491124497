// Package compute defines the boundary to the neural compute engine that
// allocates, evaluates and trains agent networks.
package compute

import (
	"context"

	"neuroswarm/internal/model"
)

// Handle is an opaque reference to an allocated network.
type Handle interface {
	// MemoryBytes reports the resident footprint of the network.
	MemoryBytes() int64
}

type TrainResult struct {
	Accuracy         float64
	ConvergenceEpoch int
}

// Engine is implemented by the numerical backend. Every call may be slow and
// may fail; callers treat returned errors as opaque engine failures.
// Implementations must tolerate concurrent calls on distinct handles and
// must honor context cancellation where they can.
type Engine interface {
	CreateNetwork(ctx context.Context, topology model.Topology) (Handle, error)
	Infer(ctx context.Context, handle Handle, inputs []float64) ([]float64, error)
	Train(ctx context.Context, handle Handle, data []model.TrainingSample, epochs int) (TrainResult, error)
	SerializeWeights(ctx context.Context, handle Handle) ([]byte, error)
	DeserializeWeights(ctx context.Context, handle Handle, weights []byte, influence float64) error
	Release(handle Handle) error
	Close() error
}
