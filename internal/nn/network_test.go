package nn

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"neuroswarm/internal/model"
)

func TestForwardShapeAndDeterminism(t *testing.T) {
	topology := model.Topology{Layers: []int{3, 4, 2}, Activation: "tanh"}
	a, err := NewNetwork(topology, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	b, err := NewNetwork(topology, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("new network: %v", err)
	}

	outA, err := a.Forward([]float64{0.1, -0.2, 0.3})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	outB, _ := b.Forward([]float64{0.1, -0.2, 0.3})
	if len(outA) != 2 {
		t.Fatalf("unexpected output size: %d", len(outA))
	}
	for i := range outA {
		if outA[i] != outB[i] {
			t.Fatalf("same seed produced different outputs: %v vs %v", outA, outB)
		}
	}
	if got, want := a.ParameterCount(), 3*4+4+4*2+2; got != want {
		t.Fatalf("parameter count: got=%d want=%d", got, want)
	}
	if a.MemoryBytes() <= 0 {
		t.Fatal("expected positive memory estimate")
	}
}

func TestForwardInputMismatch(t *testing.T) {
	n, err := NewNetwork(model.Topology{Layers: []int{2, 1}}, nil)
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	if _, err := n.Forward([]float64{1}); err == nil {
		t.Fatal("expected input size mismatch")
	}
}

func TestNewNetworkRejectsUnknownActivation(t *testing.T) {
	if _, err := NewNetwork(model.Topology{Layers: []int{2, 1}, Activation: "nope"}, nil); err == nil {
		t.Fatal("expected unknown activation error")
	}
}

func TestTrainLearnsLinearMapping(t *testing.T) {
	n, err := NewNetwork(model.Topology{Layers: []int{1, 1}, Activation: "identity", LearningRate: 0.05}, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	var samples []model.TrainingSample
	for _, x := range []float64{-1, -0.5, 0, 0.5, 1} {
		samples = append(samples, model.TrainingSample{Inputs: []float64{x}, Outputs: []float64{0.5*x + 0.25}})
	}

	result, err := n.Train(context.Background(), samples, 500)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if result.Accuracy < 0.99 {
		t.Fatalf("expected accuracy >= 0.99, got %f (loss=%f)", result.Accuracy, result.Loss)
	}
	if result.ConvergenceEpoch <= 0 || result.ConvergenceEpoch > 500 {
		t.Fatalf("unexpected convergence epoch: %d", result.ConvergenceEpoch)
	}
}

func TestTrainReducesXORLoss(t *testing.T) {
	n, err := NewNetwork(model.Topology{Layers: []int{2, 4, 1}, Activation: "sigmoid", LearningRate: 0.5, Momentum: 0.5}, rand.New(rand.NewSource(11)))
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	samples := []model.TrainingSample{
		{Inputs: []float64{0, 0}, Outputs: []float64{0}},
		{Inputs: []float64{0, 1}, Outputs: []float64{1}},
		{Inputs: []float64{1, 0}, Outputs: []float64{1}},
		{Inputs: []float64{1, 1}, Outputs: []float64{0}},
	}
	before, err := n.Train(context.Background(), samples, 1)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	after, err := n.Train(context.Background(), samples, 1000)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if after.Loss >= before.Loss {
		t.Fatalf("expected loss to drop: before=%f after=%f", before.Loss, after.Loss)
	}
}

func TestTrainValidatesInput(t *testing.T) {
	n, _ := NewNetwork(model.Topology{Layers: []int{2, 1}}, nil)
	if _, err := n.Train(context.Background(), nil, 10); err == nil {
		t.Fatal("expected empty samples error")
	}
	if _, err := n.Train(context.Background(), []model.TrainingSample{{Inputs: []float64{1}, Outputs: []float64{1}}}, 10); err == nil {
		t.Fatal("expected shape mismatch error")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := n.Train(ctx, []model.TrainingSample{{Inputs: []float64{1, 0}, Outputs: []float64{1}}}, 10); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestBlendAndFloat32Codec(t *testing.T) {
	n, _ := NewNetwork(model.Topology{Layers: []int{2, 2}}, rand.New(rand.NewSource(5)))
	original := n.Flatten()
	if len(original) != 6 {
		t.Fatalf("unexpected flat size: %d", len(original))
	}

	incoming := []float64{1, 1, 1}
	if err := n.Blend(incoming, 0.1); err != nil {
		t.Fatalf("blend: %v", err)
	}
	blended := n.Flatten()
	for i := range blended {
		want := original[i]
		if i < len(incoming) {
			want = original[i]*0.9 + 0.1
		}
		if math.Abs(blended[i]-want) > 1e-12 {
			t.Fatalf("index %d: got=%f want=%f", i, blended[i], want)
		}
	}

	decoded, err := DecodeFloat32s(EncodeFloat32s([]float64{0.5, -2, 3.25}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded[0] != 0.5 || decoded[1] != -2 || decoded[2] != 3.25 {
		t.Fatalf("unexpected decoded values: %v", decoded)
	}
	if _, err := DecodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected length error")
	}
	if err := n.Blend(incoming, 1.5); err == nil {
		t.Fatal("expected influence range error")
	}
}

func TestLayerSpans(t *testing.T) {
	spans := LayerSpans([]int{3, 4, 2})
	if len(spans) != 2 || spans[0] != (LayerSpan{Weights: 12, Biases: 4}) || spans[1] != (LayerSpan{Weights: 8, Biases: 2}) {
		t.Fatalf("unexpected spans: %+v", spans)
	}
	if LayerSpans([]int{3}) != nil {
		t.Fatal("expected nil spans for single layer")
	}
}
