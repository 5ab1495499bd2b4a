package nn

import (
	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// ReLU applies max(x, 0) element-wise.
type ReLU[B tensor.Backend] struct{}

// NewReLU creates a ReLU activation module.
func NewReLU[B tensor.Backend]() *ReLU[B] {
	return &ReLU[B]{}
}

// Forward applies the activation.
func (r *ReLU[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return input.Relu()
}

// Parameters returns an empty slice.
func (r *ReLU[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{}
}
