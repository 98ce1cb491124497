package nn

import (
	"encoding/binary"
	"fmt"
	"math"
)

// LayerSpan gives the parameter counts of one weight layer in the flat
// serialization: Weights values followed by Biases values.
type LayerSpan struct {
	Weights int
	Biases  int
}

func LayerSpans(layers []int) []LayerSpan {
	if len(layers) < 2 {
		return nil
	}
	spans := make([]LayerSpan, 0, len(layers)-1)
	for l := 0; l < len(layers)-1; l++ {
		spans = append(spans, LayerSpan{Weights: layers[l] * layers[l+1], Biases: layers[l+1]})
	}
	return spans
}

// Flatten returns every parameter, layer by layer, weights before biases.
func (n *Network) Flatten() []float64 {
	flat := make([]float64, 0, n.ParameterCount())
	for l := range n.weights {
		flat = append(flat, n.weights[l]...)
		flat = append(flat, n.biases[l]...)
	}
	return flat
}

// Blend mixes incoming parameters into the network element-wise:
// p = p*(1-influence) + incoming*influence, up to the shorter of the two
// vectors. An influence of 1 replaces the parameters outright.
func (n *Network) Blend(incoming []float64, influence float64) error {
	if influence < 0 || influence > 1 || math.IsNaN(influence) {
		return fmt.Errorf("influence must be in [0,1], got %f", influence)
	}
	idx := 0
	apply := func(values []float64) bool {
		for i := range values {
			if idx >= len(incoming) {
				return false
			}
			values[i] = values[i]*(1-influence) + incoming[idx]*influence
			idx++
		}
		return true
	}
	for l := range n.weights {
		if !apply(n.weights[l]) || !apply(n.biases[l]) {
			return nil
		}
	}
	return nil
}

func EncodeFloat32s(values []float64) []byte {
	out := make([]byte, len(values)*4)
	for i, value := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(value)))
	}
	return out
}

func DecodeFloat32s(data []byte) ([]float64, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("float32 payload length %d is not a multiple of 4", len(data))
	}
	out := make([]float64, len(data)/4)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
	}
	return out, nil
}
