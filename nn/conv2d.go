package nn

import (
	"fmt"

	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// Conv2D is a 2D convolutional layer.
//
// Input shape:  [batch, in_channels, height, width]
// Weight shape: [out_channels, in_channels, kernel_h, kernel_w]
// Output shape: [batch, out_channels, out_h, out_w] with
//
//	out_h = (height + 2*padding - kernel_h)/stride + 1
//	out_w = (width + 2*padding - kernel_w)/stride + 1
//
// For the VGG stages use 3x3 kernels with stride 1 and padding 1
// (SAME: spatial extent preserved).
type Conv2D[B tensor.Backend] struct {
	inChannels  int
	outChannels int
	kernelSize  [2]int
	stride      int
	padding     int
	useBias     bool

	weight *Parameter[B]
	bias   *Parameter[B] // nil without bias

	backend B
}

// NewConv2D creates a 2D convolutional layer. A nil init falls back to
// Xavier; biases start at zero.
func NewConv2D[B tensor.Backend](
	inChannels, outChannels int,
	kernelH, kernelW int,
	stride, padding int,
	useBias bool,
	init Initializer[B],
	backend B,
) *Conv2D[B] {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("conv2d: invalid channels in=%d, out=%d", inChannels, outChannels))
	}
	if kernelH <= 0 || kernelW <= 0 {
		panic(fmt.Sprintf("conv2d: invalid kernel size %dx%d", kernelH, kernelW))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("conv2d: invalid stride %d", stride))
	}
	if padding < 0 {
		panic(fmt.Sprintf("conv2d: invalid padding %d", padding))
	}
	if init == nil {
		init = Xavier[B]()
	}

	fanIn := inChannels * kernelH * kernelW
	fanOut := outChannels * kernelH * kernelW
	weightShape := tensor.Shape{outChannels, inChannels, kernelH, kernelW}
	weight := NewParameter("conv2d.weight", init(fanIn, fanOut, weightShape, backend))

	var bias *Parameter[B]
	if useBias {
		bias = NewParameter("conv2d.bias", Zeros[B](tensor.Shape{outChannels}, backend))
	}

	return &Conv2D[B]{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  [2]int{kernelH, kernelW},
		stride:      stride,
		padding:     padding,
		useBias:     useBias,
		weight:      weight,
		bias:        bias,
		backend:     backend,
	}
}

// Forward performs the convolution.
func (c *Conv2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}
	if inputShape[1] != c.inChannels {
		panic(fmt.Sprintf("conv2d: input channels %d != expected %d", inputShape[1], c.inChannels))
	}

	raw := c.backend.Conv2D(input.Raw(), c.weight.Tensor().Raw(), c.stride, c.padding)
	output := tensor.New[float32, B](raw, c.backend)

	if c.useBias {
		// [out_channels] broadcast as [1, out_channels, 1, 1].
		biasReshaped := c.bias.Tensor().Reshape(1, c.outChannels, 1, 1)
		output = output.Add(biasReshaped)
	}
	return output
}

// Parameters returns weight and (when present) bias.
func (c *Conv2D[B]) Parameters() []*Parameter[B] {
	if c.useBias {
		return []*Parameter[B]{c.weight, c.bias}
	}
	return []*Parameter[B]{c.weight}
}

// Weight returns the weight parameter.
func (c *Conv2D[B]) Weight() *Parameter[B] { return c.weight }

// OutChannels returns the filter count.
func (c *Conv2D[B]) OutChannels() int { return c.outChannels }

// InChannels returns the input channel count.
func (c *Conv2D[B]) InChannels() int { return c.inChannels }

// String describes the layer.
func (c *Conv2D[B]) String() string {
	return fmt.Sprintf("Conv2D(in=%d, out=%d, kernel=%dx%d, stride=%d, padding=%d, bias=%v)",
		c.inChannels, c.outChannels, c.kernelSize[0], c.kernelSize[1], c.stride, c.padding, c.useBias)
}
