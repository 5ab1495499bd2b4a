package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autohe/tensorflow-end2end-speech-recognition/backend/cpu"
	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

type Backend = *cpu.Backend

func fromSlice(t *testing.T, data []float32, shape tensor.Shape, backend Backend) *tensor.Tensor[float32, Backend] {
	t.Helper()
	x, err := tensor.FromSlice(data, shape, backend)
	require.NoError(t, err)
	return x
}

// TestConv2DIdentity builds a 3x3 SAME convolution whose kernel is a
// centered delta, so the layer must reproduce its input.
func TestConv2DIdentity(t *testing.T) {
	backend := cpu.New()
	conv := NewConv2D(1, 1, 3, 3, 1, 1, true, nil, backend)

	w := conv.Weight().Tensor().Data()
	for i := range w {
		w[i] = 0
	}
	w[4] = 1 // kernel center

	input := fromSlice(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, tensor.Shape{1, 1, 3, 3}, backend)
	out := conv.Forward(input)

	require.True(t, out.Shape().Equal(tensor.Shape{1, 1, 3, 3}))
	assert.Equal(t, input.Data(), out.Data())
}

func TestConv2DShapeAndBias(t *testing.T) {
	backend := cpu.New()
	conv := NewConv2D(3, 8, 3, 3, 1, 1, true, nil, backend)

	// Zero the kernel so the output is pure bias.
	w := conv.Weight().Tensor().Data()
	for i := range w {
		w[i] = 0
	}
	bias := conv.Parameters()[1].Tensor().Data()
	for i := range bias {
		bias[i] = float32(i)
	}

	input := fromSlice(t, make([]float32, 2*3*5*4), tensor.Shape{2, 3, 5, 4}, backend)
	out := conv.Forward(input)

	require.True(t, out.Shape().Equal(tensor.Shape{2, 8, 5, 4}), "got %v", out.Shape())
	// Every plane of channel c holds bias[c].
	for c := 0; c < 8; c++ {
		assert.InDelta(t, float32(c), out.At(1, c, 2, 3), 1e-6, "channel %d", c)
	}
}

func TestBatchNorm2DNormalizes(t *testing.T) {
	backend := cpu.New()
	bn := NewBatchNorm2D[Backend](2, 1e-3, backend)

	input := fromSlice(t, []float32{
		1, 2, 3, 4, // channel 0
		10, 20, 30, 40, // channel 1
	}, tensor.Shape{1, 2, 2, 2}, backend)

	out := bn.Forward(input)
	require.True(t, out.Shape().Equal(input.Shape()))

	// Each channel is normalized with its own batch moments.
	for c := 0; c < 2; c++ {
		var sum, sumSq float64
		for h := 0; h < 2; h++ {
			for w := 0; w < 2; w++ {
				v := float64(out.At(0, c, h, w))
				sum += v
				sumSq += v * v
			}
		}
		mean := sum / 4
		variance := sumSq/4 - mean*mean
		assert.InDelta(t, 0, mean, 1e-5, "channel %d mean", c)
		assert.InDelta(t, 1, variance, 1e-2, "channel %d variance", c)
	}
}

func TestBatchNorm2DScaleShift(t *testing.T) {
	backend := cpu.New()
	bn := NewBatchNorm2D[Backend](1, 1e-3, backend)

	bn.Parameters()[0].Tensor().Data()[0] = 0 // gamma
	bn.Parameters()[1].Tensor().Data()[0] = 5 // beta

	input := fromSlice(t, []float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2}, backend)
	out := bn.Forward(input)
	for _, v := range out.Data() {
		assert.InDelta(t, 5, v, 1e-6)
	}
}

func TestLinearKnownWeights(t *testing.T) {
	backend := cpu.New()
	l := NewLinear(2, 2, nil, backend)

	copy(l.Weight().Tensor().Data(), []float32{1, 0, 0, 1}) // identity
	copy(l.Bias().Tensor().Data(), []float32{1, -1})

	input := fromSlice(t, []float32{2, 3, 4, 5}, tensor.Shape{2, 2}, backend)
	out := l.Forward(input)

	require.True(t, out.Shape().Equal(tensor.Shape{2, 2}))
	assert.Equal(t, []float32{3, 2, 5, 4}, out.Data())
}

func TestLinearShapeChecks(t *testing.T) {
	backend := cpu.New()
	l := NewLinear(4, 3, nil, backend)

	input := fromSlice(t, make([]float32, 10), tensor.Shape{2, 5}, backend)
	assert.Panics(t, func() { l.Forward(input) })
}

func TestDropoutIdentityAtOne(t *testing.T) {
	backend := cpu.New()
	d := NewDropout(backend)

	input := fromSlice(t, []float32{1, 2, 3, 4}, tensor.Shape{4}, backend)
	out := d.Forward(input, 1.0)
	assert.Equal(t, input.Data(), out.Data())
}

func TestDropoutScalesKeptValues(t *testing.T) {
	backend := cpu.New()
	d := NewDropout(backend)

	data := make([]float32, 1000)
	for i := range data {
		data[i] = 1
	}
	input := fromSlice(t, data, tensor.Shape{1000}, backend)

	out := d.Forward(input, 0.5)
	kept := 0
	for _, v := range out.Data() {
		switch v {
		case 0:
		case 2: // 1 / keepProb
			kept++
		default:
			t.Fatalf("dropout produced %v, want 0 or 2", v)
		}
	}
	// Keep rate should be near 0.5; allow a wide margin.
	assert.Greater(t, kept, 350)
	assert.Less(t, kept, 650)

	assert.Panics(t, func() { d.Forward(input, 0) })
	assert.Panics(t, func() { d.Forward(input, 1.5) })
}

func TestInitializerBounds(t *testing.T) {
	backend := cpu.New()
	shape := tensor.Shape{50, 40}

	tn := TruncatedNormal[Backend](0.1)(0, 0, shape, backend)
	for _, v := range tn.Data() {
		assert.LessOrEqual(t, math.Abs(float64(v)), 0.201, "truncated normal beyond 2 stddev")
	}

	u := Uniform[Backend](-0.3, 0.3)(0, 0, shape, backend)
	for _, v := range u.Data() {
		assert.LessOrEqual(t, math.Abs(float64(v)), 0.3)
	}

	bound := math.Sqrt(6.0/float64(50+40)) + 1e-6
	x := Xavier[Backend]()(50, 40, shape, backend)
	for _, v := range x.Data() {
		assert.LessOrEqual(t, math.Abs(float64(v)), bound)
	}
}

func TestMaxPool2DOutputSize(t *testing.T) {
	backend := cpu.New()

	ceil := NewMaxPool2D(2, 2, true, backend)
	assert.Equal(t, [2]int{2, 3}, ceil.ComputeOutputSize(3, 5))

	floor := NewMaxPool2D(2, 2, false, backend)
	assert.Equal(t, [2]int{1, 2}, floor.ComputeOutputSize(3, 5))
}

func TestReLUModule(t *testing.T) {
	backend := cpu.New()
	r := NewReLU[Backend]()

	input := fromSlice(t, []float32{-2, -1, 0, 3}, tensor.Shape{4}, backend)
	assert.Equal(t, []float32{0, 0, 0, 3}, r.Forward(input).Data())
	assert.Empty(t, r.Parameters())
}
