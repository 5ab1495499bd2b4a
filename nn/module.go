package nn

import (
	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// Module is the base interface for network components with a fixed
// input/output arity. Layers that need extra per-call inputs (Dropout
// takes the keep probability at forward time) live outside it.
type Module[B tensor.Backend] interface {
	// Forward computes the module output for the given input.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all trainable parameters, including those of
	// nested modules. Empty for parameterless modules.
	Parameters() []*Parameter[B]
}
