package nn

import (
	"fmt"

	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// Linear is a fully connected layer: y = x @ W.T + b.
//
//	x: [batch, in_features]
//	W: [out_features, in_features]
//	b: [out_features]
//	y: [batch, out_features]
type Linear[B tensor.Backend] struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter[B]
	bias        *Parameter[B]
	backend     B
}

// NewLinear creates a fully connected layer. A nil init falls back to
// Xavier; the bias starts at zero.
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, init Initializer[B], backend B) *Linear[B] {
	if inFeatures <= 0 || outFeatures <= 0 {
		panic(fmt.Sprintf("linear: invalid features in=%d, out=%d", inFeatures, outFeatures))
	}
	if init == nil {
		init = Xavier[B]()
	}
	weightShape := tensor.Shape{outFeatures, inFeatures}
	weight := NewParameter("weight", init(inFeatures, outFeatures, weightShape, backend))
	bias := NewParameter("bias", Zeros[B](tensor.Shape{outFeatures}, backend))
	return &Linear[B]{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      weight,
		bias:        bias,
		backend:     backend,
	}
}

// Forward computes x @ W.T + b.
func (l *Linear[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	inputShape := input.Shape()
	if len(inputShape) != 2 {
		panic(fmt.Sprintf("linear: expected 2D input [batch, features], got shape %v", inputShape))
	}
	if inputShape[1] != l.inFeatures {
		panic(fmt.Sprintf("linear: expected %d input features, got %d", l.inFeatures, inputShape[1]))
	}

	wT := l.weight.Tensor().Transpose() // [in, out]
	output := input.MatMul(wT)
	bReshaped := l.bias.Tensor().Reshape(1, l.outFeatures)
	return output.Add(bReshaped)
}

// Parameters returns weight and bias.
func (l *Linear[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{l.weight, l.bias}
}

// Weight returns the weight parameter.
func (l *Linear[B]) Weight() *Parameter[B] { return l.weight }

// Bias returns the bias parameter.
func (l *Linear[B]) Bias() *Parameter[B] { return l.bias }

// InFeatures returns the input width.
func (l *Linear[B]) InFeatures() int { return l.inFeatures }

// OutFeatures returns the output width.
func (l *Linear[B]) OutFeatures() int { return l.outFeatures }
