package nn

import (
	"fmt"
	"math"
	"math/rand"

	"neuroswarm/internal/model"
)

const (
	DefaultActivation   = "sigmoid"
	DefaultLearningRate = 0.1
)

// Network is a fully connected feed-forward network. Layer l holds a
// layers[l+1] x layers[l] weight matrix stored row-major.
type Network struct {
	layers       []int
	activation   Activation
	learningRate float64
	momentum     float64

	weights   [][]float64
	biases    [][]float64
	weightVel [][]float64
	biasVel   [][]float64
}

func NewNetwork(topology model.Topology, rng *rand.Rand) (*Network, error) {
	if err := topology.Validate(); err != nil {
		return nil, err
	}
	name := topology.Activation
	if name == "" {
		name = DefaultActivation
	}
	activation, err := GetActivation(name)
	if err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	learningRate := topology.LearningRate
	if learningRate == 0 {
		learningRate = DefaultLearningRate
	}

	n := &Network{
		layers:       append([]int(nil), topology.Layers...),
		activation:   activation,
		learningRate: learningRate,
		momentum:     topology.Momentum,
	}
	for l := 0; l < len(n.layers)-1; l++ {
		in, out := n.layers[l], n.layers[l+1]
		limit := math.Sqrt(6.0 / float64(in+out))
		w := make([]float64, in*out)
		for i := range w {
			w[i] = (rng.Float64()*2 - 1) * limit
		}
		n.weights = append(n.weights, w)
		n.biases = append(n.biases, make([]float64, out))
		n.weightVel = append(n.weightVel, make([]float64, in*out))
		n.biasVel = append(n.biasVel, make([]float64, out))
	}
	return n, nil
}

func (n *Network) Layers() []int {
	return append([]int(nil), n.layers...)
}

func (n *Network) InputSize() int {
	return n.layers[0]
}

func (n *Network) OutputSize() int {
	return n.layers[len(n.layers)-1]
}

func (n *Network) ParameterCount() int {
	total := 0
	for l := range n.weights {
		total += len(n.weights[l]) + len(n.biases[l])
	}
	return total
}

// MemoryBytes estimates the resident footprint: parameters and their
// momentum buffers plus one activation vector per layer during a pass.
func (n *Network) MemoryBytes() int64 {
	neurons := 0
	for _, size := range n.layers {
		neurons += size
	}
	return int64(n.ParameterCount()*8*2 + neurons*8*2)
}

func (n *Network) Forward(inputs []float64) ([]float64, error) {
	_, activations, err := n.forward(inputs)
	if err != nil {
		return nil, err
	}
	out := activations[len(activations)-1]
	return append([]float64(nil), out...), nil
}

// forward returns the pre-activation sums and activations of every layer.
// activations[0] is the input vector.
func (n *Network) forward(inputs []float64) ([][]float64, [][]float64, error) {
	if len(inputs) != n.InputSize() {
		return nil, nil, fmt.Errorf("input size mismatch: got=%d want=%d", len(inputs), n.InputSize())
	}
	sums := make([][]float64, len(n.weights))
	activations := make([][]float64, 0, len(n.layers))
	activations = append(activations, inputs)

	current := inputs
	for l, w := range n.weights {
		in, out := n.layers[l], n.layers[l+1]
		z := make([]float64, out)
		a := make([]float64, out)
		for j := 0; j < out; j++ {
			total := n.biases[l][j]
			row := w[j*in : (j+1)*in]
			for i, x := range current {
				total += row[i] * x
			}
			z[j] = total
			a[j] = n.activation.Func(total)
		}
		sums[l] = z
		activations = append(activations, a)
		current = a
	}
	return sums, activations, nil
}
