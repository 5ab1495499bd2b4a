package nn

import (
	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// Parameter is a named trainable tensor (a layer weight or bias).
type Parameter[B tensor.Backend] struct {
	name   string
	tensor *tensor.Tensor[float32, B]
}

// NewParameter creates a parameter around an initialized tensor.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{name: name, tensor: t}
}

// Name returns the parameter name, e.g. "VGG1/conv1.weight".
func (p *Parameter[B]) Name() string { return p.name }

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] { return p.tensor }
