package compute

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuroswarm/internal/model"
)

func TestLocalEngineLifecycle(t *testing.T) {
	ctx := context.Background()
	engine := NewLocalEngine(LocalOptions{Seed: 42})

	handle, err := engine.CreateNetwork(ctx, model.Topology{Layers: []int{2, 3, 1}, Activation: "sigmoid"})
	require.NoError(t, err)
	assert.Positive(t, handle.MemoryBytes())
	assert.Equal(t, 1, engine.Live())

	out, err := engine.Infer(ctx, handle, []float64{0.2, 0.8})
	require.NoError(t, err)
	assert.Len(t, out, 1)

	result, err := engine.Train(ctx, handle, []model.TrainingSample{
		{Inputs: []float64{0, 1}, Outputs: []float64{1}},
		{Inputs: []float64{1, 0}, Outputs: []float64{1}},
	}, 20)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Accuracy, 0.0)
	assert.LessOrEqual(t, result.Accuracy, 1.0)
	assert.Positive(t, result.ConvergenceEpoch)

	require.NoError(t, engine.Release(handle))
	assert.Equal(t, 0, engine.Live())
	_, err = engine.Infer(ctx, handle, []float64{0.2, 0.8})
	assert.ErrorIs(t, err, ErrReleased)
}

func TestLocalEngineWeightTransfer(t *testing.T) {
	ctx := context.Background()
	engine := NewLocalEngine(LocalOptions{Seed: 9})
	topology := model.Topology{Layers: []int{2, 2}, Activation: "identity"}

	source, err := engine.CreateNetwork(ctx, topology)
	require.NoError(t, err)
	target, err := engine.CreateNetwork(ctx, topology)
	require.NoError(t, err)

	weights, err := engine.SerializeWeights(ctx, source)
	require.NoError(t, err)
	assert.Len(t, weights, 6*4)

	require.NoError(t, engine.DeserializeWeights(ctx, target, weights, 1.0))
	copied, err := engine.SerializeWeights(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, weights, copied)

	assert.Error(t, engine.DeserializeWeights(ctx, target, []byte{1, 2, 3}, 0.1))
}

type foreignHandle struct{}

func (foreignHandle) MemoryBytes() int64 { return 0 }

func TestLocalEngineRejectsForeignHandlesAndClosedUse(t *testing.T) {
	ctx := context.Background()
	engine := NewLocalEngine(LocalOptions{Seed: 1})

	_, err := engine.Infer(ctx, foreignHandle{}, nil)
	assert.ErrorIs(t, err, ErrUnknownHandle)

	handle, err := engine.CreateNetwork(ctx, model.Topology{Layers: []int{1, 1}})
	require.NoError(t, err)
	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close())

	_, err = engine.Infer(ctx, handle, []float64{1})
	assert.ErrorIs(t, err, ErrEngineClosed)
	_, err = engine.CreateNetwork(ctx, model.Topology{Layers: []int{1, 1}})
	assert.ErrorIs(t, err, ErrEngineClosed)
}
