package nn

import (
	"context"
	"errors"
	"fmt"
	"math"

	"neuroswarm/internal/model"
)

const (
	convergenceLoss  = 1e-3
	convergenceDelta = 1e-7
)

type TrainResult struct {
	Accuracy         float64
	Loss             float64
	ConvergenceEpoch int
}

// Train runs online gradient descent with momentum over samples for the given
// number of epochs. The context is checked between epochs.
func (n *Network) Train(ctx context.Context, samples []model.TrainingSample, epochs int) (TrainResult, error) {
	if len(samples) == 0 {
		return TrainResult{}, errors.New("training samples are required")
	}
	if epochs <= 0 {
		return TrainResult{}, fmt.Errorf("epochs must be > 0")
	}
	for i, sample := range samples {
		if len(sample.Inputs) != n.InputSize() || len(sample.Outputs) != n.OutputSize() {
			return TrainResult{}, fmt.Errorf("sample %d shape mismatch: inputs=%d outputs=%d want=%d/%d",
				i, len(sample.Inputs), len(sample.Outputs), n.InputSize(), n.OutputSize())
		}
	}

	converged := 0
	prevLoss := math.Inf(1)
	loss := 0.0
	for epoch := 1; epoch <= epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return TrainResult{}, err
		}
		loss = 0
		for _, sample := range samples {
			sampleLoss, err := n.step(sample)
			if err != nil {
				return TrainResult{}, err
			}
			loss += sampleLoss
		}
		loss /= float64(len(samples))
		if converged == 0 && (loss <= convergenceLoss || math.Abs(prevLoss-loss) < convergenceDelta) {
			converged = epoch
		}
		prevLoss = loss
	}
	if converged == 0 {
		converged = epochs
	}

	accuracy, err := n.Accuracy(samples)
	if err != nil {
		return TrainResult{}, err
	}
	return TrainResult{Accuracy: accuracy, Loss: loss, ConvergenceEpoch: converged}, nil
}

// Accuracy is 1 - mean absolute error over every output, clamped to [0, 1].
func (n *Network) Accuracy(samples []model.TrainingSample) (float64, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	total, count := 0.0, 0
	for _, sample := range samples {
		out, err := n.Forward(sample.Inputs)
		if err != nil {
			return 0, err
		}
		for i, want := range sample.Outputs {
			total += math.Abs(out[i] - want)
			count++
		}
	}
	return math.Max(0, math.Min(1, 1-total/float64(count))), nil
}

func (n *Network) step(sample model.TrainingSample) (float64, error) {
	sums, activations, err := n.forward(sample.Inputs)
	if err != nil {
		return 0, err
	}

	last := len(n.weights) - 1
	output := activations[len(activations)-1]
	delta := make([]float64, len(output))
	loss := 0.0
	for j, got := range output {
		diff := got - sample.Outputs[j]
		loss += diff * diff
		delta[j] = diff * n.activation.Derivative(sums[last][j])
	}
	loss /= float64(len(output))

	for l := last; l >= 0; l-- {
		in := n.layers[l]
		input := activations[l]

		var prevDelta []float64
		if l > 0 {
			prevDelta = make([]float64, in)
			for i := 0; i < in; i++ {
				total := 0.0
				for j := range delta {
					total += n.weights[l][j*in+i] * delta[j]
				}
				prevDelta[i] = total * n.activation.Derivative(sums[l-1][i])
			}
		}

		for j, d := range delta {
			for i := 0; i < in; i++ {
				idx := j*in + i
				n.weightVel[l][idx] = n.momentum*n.weightVel[l][idx] - n.learningRate*d*input[i]
				n.weights[l][idx] += n.weightVel[l][idx]
			}
			n.biasVel[l][j] = n.momentum*n.biasVel[l][j] - n.learningRate*d
			n.biases[l][j] += n.biasVel[l][j]
		}
		delta = prevDelta
	}
	return loss, nil
}
