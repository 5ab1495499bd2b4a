package nn

import (
	"math"
	"math/rand"

	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// Initializer fills a fresh weight tensor. fanIn/fanOut are the layer's
// connectivity counts; scale-free initializers ignore them.
type Initializer[B tensor.Backend] func(fanIn, fanOut int, shape tensor.Shape, backend B) *tensor.Tensor[float32, B]

// Xavier returns the Glorot uniform initializer
// U(-sqrt(6/(fanIn+fanOut)), +sqrt(6/(fanIn+fanOut))).
func Xavier[B tensor.Backend]() Initializer[B] {
	return func(fanIn, fanOut int, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
		bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
		t := tensor.Zeros[float32](shape, backend)
		data := t.Data()
		for i := range data {
			data[i] = float32((rand.Float64()*2.0 - 1.0) * bound) //nolint:gosec // math/rand is fine for init
		}
		return t
	}
}

// Uniform returns an initializer drawing from U(minval, maxval). The
// recurrent layers use it with (-parameterInit, +parameterInit).
func Uniform[B tensor.Backend](minval, maxval float32) Initializer[B] {
	return func(_, _ int, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
		t := tensor.Zeros[float32](shape, backend)
		data := t.Data()
		span := float64(maxval - minval)
		for i := range data {
			data[i] = minval + float32(rand.Float64()*span) //nolint:gosec
		}
		return t
	}
}

// TruncatedNormal returns an initializer drawing from N(0, stddev^2)
// with samples beyond two standard deviations redrawn. The bridge layer
// uses it, matching the front-end's truncated-normal weights.
func TruncatedNormal[B tensor.Backend](stddev float32) Initializer[B] {
	return func(_, _ int, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
		t := tensor.Zeros[float32](shape, backend)
		data := t.Data()
		for i := range data {
			data[i] = float32(truncatedNorm()) * stddev
		}
		return t
	}
}

// truncatedNorm samples N(0,1) restricted to [-2, 2] by redrawing.
func truncatedNorm() float64 {
	for {
		v := rand.NormFloat64() //nolint:gosec
		if v >= -2 && v <= 2 {
			return v
		}
	}
}

// Zeros creates a zero tensor; the usual bias initializer.
func Zeros[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Zeros[float32](shape, backend)
}

// Ones creates a tensor of ones; the batch-norm scale initializer.
func Ones[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Ones[float32](shape, backend)
}
