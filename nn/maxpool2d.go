package nn

import (
	"fmt"

	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// MaxPool2D is a 2D max pooling layer. No learnable parameters.
//
// With ceilMode the output spatial size is ceil(in/stride) and edge
// windows are truncated, which is what the VGG stages need so that odd
// extents still halve per stage (the factor-4 reduction the bridge
// reshape assumes).
type MaxPool2D[B tensor.Backend] struct {
	kernelSize int
	stride     int
	ceilMode   bool
	backend    B
}

// NewMaxPool2D creates a max pooling layer with a square window.
func NewMaxPool2D[B tensor.Backend](kernelSize, stride int, ceilMode bool, backend B) *MaxPool2D[B] {
	if kernelSize <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel size %d", kernelSize))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid stride %d", stride))
	}
	return &MaxPool2D[B]{kernelSize: kernelSize, stride: stride, ceilMode: ceilMode, backend: backend}
}

// Forward pools the input.
func (m *MaxPool2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if len(input.Shape()) != 4 {
		panic(fmt.Sprintf("maxpool2d: expected 4D input [N,C,H,W], got %dD", len(input.Shape())))
	}
	raw := m.backend.MaxPool2D(input.Raw(), m.kernelSize, m.stride, m.ceilMode)
	return tensor.New[float32, B](raw, m.backend)
}

// Parameters returns an empty slice.
func (m *MaxPool2D[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{}
}

// ComputeOutputSize returns the output spatial dimensions for an input.
func (m *MaxPool2D[B]) ComputeOutputSize(inputH, inputW int) [2]int {
	f := func(in int) int {
		if m.ceilMode {
			return (in + m.stride - 1) / m.stride
		}
		return (in-m.kernelSize)/m.stride + 1
	}
	return [2]int{f(inputH), f(inputW)}
}

// String describes the layer.
func (m *MaxPool2D[B]) String() string {
	return fmt.Sprintf("MaxPool2D(kernel=%d, stride=%d, ceil=%v)", m.kernelSize, m.stride, m.ceilMode)
}
