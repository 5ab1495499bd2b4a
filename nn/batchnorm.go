package nn

import (
	"fmt"
	"math"

	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// BatchNorm2D normalizes NCHW activations per channel with statistics
// computed over (batch, height, width):
//
//	y = gamma * (x - mean) / sqrt(var + eps) + beta
//
// The encoder always normalizes with batch statistics, i.e. permanent
// training mode. There is no running-average state to carry: every
// forward pass recomputes the moments from the batch it is given.
type BatchNorm2D[B tensor.Backend] struct {
	numChannels int
	epsilon     float32

	gamma *Parameter[B] // scale [C]
	beta  *Parameter[B] // shift [C]

	backend B
}

// NewBatchNorm2D creates a batch normalization layer. Gamma starts at
// one, beta at zero. A typical epsilon is 1e-3.
func NewBatchNorm2D[B tensor.Backend](numChannels int, epsilon float32, backend B) *BatchNorm2D[B] {
	if numChannels <= 0 {
		panic(fmt.Sprintf("batchnorm2d: invalid channel count %d", numChannels))
	}
	if epsilon <= 0 {
		panic(fmt.Sprintf("batchnorm2d: invalid epsilon %g", epsilon))
	}
	return &BatchNorm2D[B]{
		numChannels: numChannels,
		epsilon:     epsilon,
		gamma:       NewParameter("batchnorm.gamma", Ones[B](tensor.Shape{numChannels}, backend)),
		beta:        NewParameter("batchnorm.beta", Zeros[B](tensor.Shape{numChannels}, backend)),
		backend:     backend,
	}
}

// Forward normalizes the input with this batch's per-channel moments.
func (bn *BatchNorm2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("batchnorm2d: expected 4D input [N,C,H,W], got %dD", len(shape)))
	}
	if shape[1] != bn.numChannels {
		panic(fmt.Sprintf("batchnorm2d: input channels %d != expected %d", shape[1], bn.numChannels))
	}

	n, c, h, w := shape[0], shape[1], shape[2], shape[3]
	plane := h * w
	count := n * plane

	in := input.Data()
	out := tensor.Zeros[float32](shape, bn.backend)
	outData := out.Data()
	gamma := bn.gamma.Tensor().Data()
	beta := bn.beta.Tensor().Data()

	// Two-pass moments per channel, then normalize in place.
	for ch := 0; ch < c; ch++ {
		var sum float64
		for img := 0; img < n; img++ {
			base := (img*c + ch) * plane
			for i := 0; i < plane; i++ {
				sum += float64(in[base+i])
			}
		}
		mean := sum / float64(count)

		var sq float64
		for img := 0; img < n; img++ {
			base := (img*c + ch) * plane
			for i := 0; i < plane; i++ {
				d := float64(in[base+i]) - mean
				sq += d * d
			}
		}
		variance := sq / float64(count)

		invStd := 1.0 / math.Sqrt(variance+float64(bn.epsilon))
		scale := float64(gamma[ch]) * invStd
		shift := float64(beta[ch]) - mean*scale
		for img := 0; img < n; img++ {
			base := (img*c + ch) * plane
			for i := 0; i < plane; i++ {
				outData[base+i] = float32(float64(in[base+i])*scale + shift)
			}
		}
	}
	return out
}

// Parameters returns gamma and beta.
func (bn *BatchNorm2D[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{bn.gamma, bn.beta}
}

// String describes the layer.
func (bn *BatchNorm2D[B]) String() string {
	return fmt.Sprintf("BatchNorm2D(channels=%d, eps=%g)", bn.numChannels, bn.epsilon)
}
