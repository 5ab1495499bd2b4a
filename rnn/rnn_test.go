package rnn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autohe/tensorflow-end2end-speech-recognition/backend/cpu"
	"github.com/autohe/tensorflow-end2end-speech-recognition/nn"
	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

type Backend = *cpu.Backend

func smallInit() nn.Initializer[Backend] {
	return nn.Uniform[Backend](-0.1, 0.1)
}

// constInit fills every weight with the same value, which makes a
// combined-kernel cell and a split-kernel runner numerically identical.
func constInit(v float32) nn.Initializer[Backend] {
	return func(_, _ int, shape tensor.Shape, backend Backend) *tensor.Tensor[float32, Backend] {
		return tensor.Full(shape, v, backend)
	}
}

func zeroParams[B tensor.Backend](params []*nn.Parameter[B]) {
	for _, p := range params {
		data := p.Tensor().Data()
		for i := range data {
			data[i] = 0
		}
	}
}

func fromSlice(t *testing.T, data []float32, shape tensor.Shape, backend Backend) *tensor.Tensor[float32, Backend] {
	t.Helper()
	x, err := tensor.FromSlice(data, shape, backend)
	require.NoError(t, err)
	return x
}

// forgetBiasCheck verifies the standard unit-forget-bias step on a cell
// whose weights were zeroed: with x = 0, h = 0 and c = 1 the gates
// collapse to i = o = 0.5, g = 0, f = sigmoid(1), so the new cell state
// is sigmoid(1) and the output is 0.5*tanh(sigmoid(1)).
func forgetBiasCheck(t *testing.T, cell Cell[Backend], backend Backend) {
	t.Helper()
	const batch = 2
	u := cell.StateSize()

	x := tensor.Zeros[float32](tensor.Shape{batch, 3}, backend)
	h := tensor.Zeros[float32](tensor.Shape{batch, cell.OutputSize()}, backend)
	c := tensor.Ones[float32](tensor.Shape{batch, u}, backend)

	hNext, cNext := cell.Step(x, h, c)
	require.True(t, hNext.Shape().Equal(tensor.Shape{batch, cell.OutputSize()}))
	require.True(t, cNext.Shape().Equal(tensor.Shape{batch, u}))

	f := 1.0 / (1.0 + math.Exp(-1.0))
	wantC := float32(f)
	wantH := float32(0.5 * math.Tanh(f))
	for _, v := range cNext.Data() {
		assert.InDelta(t, wantC, v, 1e-5)
	}
	for _, v := range hNext.Data() {
		assert.InDelta(t, wantH, v, 1e-5)
	}
}

func TestBasicCellForgetBias(t *testing.T) {
	backend := cpu.New()
	cell := NewBasicCell(3, 4, smallInit(), backend)
	zeroParams(cell.Parameters())
	forgetBiasCheck(t, cell, backend)
}

func TestBlockCellForgetBias(t *testing.T) {
	backend := cpu.New()
	cell := NewBlockCell(3, 4, false, 0, smallInit(), backend)
	zeroParams(cell.Parameters())
	forgetBiasCheck(t, cell, backend)
}

// TestPackedCellNoForgetBias checks the canonical recurrence: the
// packed layout carries no implicit unit forget bias, so with zeroed
// weights every gate sits at its raw activation.
func TestPackedCellNoForgetBias(t *testing.T) {
	backend := cpu.New()
	cell := NewPackedCell(3, 4, 0.1, backend)
	zeroParams(cell.Parameters())

	x := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
	h := tensor.Zeros[float32](tensor.Shape{2, 4}, backend)
	c := tensor.Ones[float32](tensor.Shape{2, 4}, backend)

	hNext, cNext := cell.Step(x, h, c)
	for _, v := range cNext.Data() {
		assert.InDelta(t, 0.5, v, 1e-6) // f = sigmoid(0)
	}
	wantH := float32(0.5 * math.Tanh(0.5))
	for _, v := range hNext.Data() {
		assert.InDelta(t, wantH, v, 1e-6)
	}
}

func TestPeepholeCellForgetBias(t *testing.T) {
	backend := cpu.New()
	cell := NewPeepholeCell(3, 4, 0, false, 0, smallInit(), backend)
	zeroParams(cell.Parameters())
	forgetBiasCheck(t, cell, backend)
}

// peepholeCheck verifies the gate contributions of the diagonal
// peephole weights. With kernel and bias zeroed, wI = 1, wF = 2,
// wO = 3 and c = 1, the recurrence collapses to
//
//	c' = sigmoid(forgetBias + 2*1) * 1   (g = 0 kills the input term)
//	h' = sigmoid(3*c') * tanh(c')        (the o gate sees the new c)
func peepholeCheck(t *testing.T, cell Cell[Backend], wi, wf, wo []float32, backend Backend) {
	t.Helper()
	const batch = 2
	u := cell.StateSize()

	for j := 0; j < u; j++ {
		wi[j], wf[j], wo[j] = 1, 2, 3
	}

	x := tensor.Zeros[float32](tensor.Shape{batch, 3}, backend)
	h := tensor.Zeros[float32](tensor.Shape{batch, u}, backend)
	c := tensor.Ones[float32](tensor.Shape{batch, u}, backend)
	hNext, cNext := cell.Step(x, h, c)

	wantC := 1.0 / (1.0 + math.Exp(-3.0)) // sigmoid(1 + 2)
	wantH := (1.0 / (1.0 + math.Exp(-3.0*wantC))) * math.Tanh(wantC)
	for _, v := range cNext.Data() {
		assert.InDelta(t, wantC, v, 1e-5)
	}
	for _, v := range hNext.Data() {
		assert.InDelta(t, wantH, v, 1e-5)
	}
}

func TestPeepholeCellGateContribution(t *testing.T) {
	backend := cpu.New()
	cell := NewPeepholeCell(3, 4, 0, true, 0, smallInit(), backend)
	zeroParams(cell.Parameters())
	peepholeCheck(t, cell,
		cell.wI.Tensor().Data(), cell.wF.Tensor().Data(), cell.wO.Tensor().Data(), backend)
}

func TestBlockCellGateContribution(t *testing.T) {
	backend := cpu.New()
	cell := NewBlockCell(3, 4, true, 0, smallInit(), backend)
	zeroParams(cell.Parameters())
	peepholeCheck(t, cell,
		cell.wI.Tensor().Data(), cell.wF.Tensor().Data(), cell.wO.Tensor().Data(), backend)
}

// clipCheck drives the cell state well past the clip bound: with zeroed
// weights and c = 10 the unclipped update is sigmoid(1)*10, so the new
// state must come back pinned at +cellClip.
func clipCheck(t *testing.T, cell Cell[Backend], cellClip float32, backend Backend) {
	t.Helper()
	const batch = 2
	u := cell.StateSize()

	x := tensor.Zeros[float32](tensor.Shape{batch, 3}, backend)
	h := tensor.Zeros[float32](tensor.Shape{batch, u}, backend)
	c := tensor.Full(tensor.Shape{batch, u}, float32(10), backend)
	hNext, cNext := cell.Step(x, h, c)

	wantH := float32(0.5 * math.Tanh(float64(cellClip)))
	for _, v := range cNext.Data() {
		assert.InDelta(t, cellClip, v, 1e-6)
	}
	for _, v := range hNext.Data() {
		assert.InDelta(t, wantH, v, 1e-6)
	}
}

func TestPeepholeCellClipsState(t *testing.T) {
	backend := cpu.New()
	cell := NewPeepholeCell(3, 4, 0, false, 0.5, smallInit(), backend)
	zeroParams(cell.Parameters())
	clipCheck(t, cell, 0.5, backend)
}

func TestBlockCellClipsState(t *testing.T) {
	backend := cpu.New()
	cell := NewBlockCell(3, 4, false, 0.5, smallInit(), backend)
	zeroParams(cell.Parameters())
	clipCheck(t, cell, 0.5, backend)
}

// TestFusedRunnerClipsState covers the same bound through the
// time-fused path, which shares the gate loop with BlockCell. With the
// kernels zeroed and a large bias on the candidate gate, the state
// grows by 0.5*tanh(5) per step and must pin at the clip from the
// second step on.
func TestFusedRunnerClipsState(t *testing.T) {
	const u = 4
	backend := cpu.New()
	s := NewFusedStack(3, u, 1, false, 0.5, smallInit(), false, backend)
	for _, r := range []*fusedRunner[Backend]{
		s.layers[0].fwd.(*fusedRunner[Backend]),
		s.layers[0].bwd.(*fusedRunner[Backend]),
	} {
		zeroParams([]*nn.Parameter[Backend]{r.inputKernel, r.recurrentKernel, r.bias})
		bias := r.bias.Tensor().Data()
		for j := u; j < 2*u; j++ { // candidate gate section
			bias[j] = 5
		}
	}

	inputs := fromSlice(t, make([]float32, 1*6*3), tensor.Shape{1, 6, 3}, backend)
	_, state := s.Forward(inputs, []int{6}, 1.0)

	for _, st := range []CellState[Backend]{state.Forward[0], state.Backward[0]} {
		for _, v := range st.C.Data() {
			assert.InDelta(t, 0.5, v, 1e-6)
		}
	}
}

func TestPeepholeCellProjection(t *testing.T) {
	backend := cpu.New()
	cell := NewPeepholeCell(3, 4, 2, true, 1.0, smallInit(), backend)

	assert.Equal(t, 2, cell.OutputSize())
	assert.Equal(t, 4, cell.StateSize())

	x := tensor.Zeros[float32](tensor.Shape{5, 3}, backend)
	h := tensor.Zeros[float32](tensor.Shape{5, 2}, backend)
	c := tensor.Zeros[float32](tensor.Shape{5, 4}, backend)
	hNext, cNext := cell.Step(x, h, c)
	assert.True(t, hNext.Shape().Equal(tensor.Shape{5, 2}))
	assert.True(t, cNext.Shape().Equal(tensor.Shape{5, 4}))
}

func TestReverseSequence(t *testing.T) {
	backend := cpu.New()

	x := fromSlice(t, []float32{1, 2, 3, 4}, tensor.Shape{1, 4, 1}, backend)
	out := reverseSequence(x, []int{3})

	// The first three steps flip, the padding step stays put.
	assert.Equal(t, []float32{3, 2, 1, 4}, out.Data())
}

func TestCellRunnerMasking(t *testing.T) {
	backend := cpu.New()
	runner := newCellRunner[Backend](NewBasicCell(2, 3, smallInit(), backend), backend)

	inputs := fromSlice(t, []float32{
		1, 2, 3, 4, 5, 6, // example 0, three valid steps
		7, 8, 9, 10, 11, 12, // example 1, one valid step
	}, tensor.Shape{2, 3, 2}, backend)
	seqLen := []int{3, 1}

	outputs, state := runner.Run(inputs, seqLen, false)
	require.True(t, outputs.Shape().Equal(tensor.Shape{2, 3, 3}))

	// Output rows past an example's length are zero.
	for tstep := 1; tstep < 3; tstep++ {
		for f := 0; f < 3; f++ {
			assert.Zero(t, outputs.At(1, tstep, f), "t=%d f=%d", tstep, f)
		}
	}

	// The final state carries unchanged past the valid length, so it
	// equals the output at the last valid step.
	for b, l := range seqLen {
		for f := 0; f < 3; f++ {
			assert.InDelta(t, outputs.At(b, l-1, f), state.H.At(b, f), 1e-6, "b=%d f=%d", b, f)
		}
	}
}

func TestCellRunnerReverseShapes(t *testing.T) {
	backend := cpu.New()
	runner := newCellRunner[Backend](NewBasicCell(2, 3, smallInit(), backend), backend)

	inputs := fromSlice(t, make([]float32, 2*4*2), tensor.Shape{2, 4, 2}, backend)
	outputs, state := runner.Run(inputs, []int{4, 2}, true)

	assert.True(t, outputs.Shape().Equal(tensor.Shape{2, 4, 3}))
	assert.True(t, state.H.Shape().Equal(tensor.Shape{2, 3}))
	assert.True(t, state.C.Shape().Equal(tensor.Shape{2, 3}))
}

func TestStackShapes(t *testing.T) {
	backend := cpu.New()
	s := NewBasicStack(5, 4, 2, smallInit(), false, backend)

	assert.Equal(t, 8, s.OutputSize())
	assert.Equal(t, 2, s.NumLayers())

	inputs := fromSlice(t, make([]float32, 2*3*5), tensor.Shape{2, 3, 5}, backend)
	outputs, state := s.Forward(inputs, []int{3, 3}, 1.0)

	require.True(t, outputs.Shape().Equal(tensor.Shape{2, 3, 8}), "got %v", outputs.Shape())
	require.Len(t, state.Forward, 2)
	require.Len(t, state.Backward, 2)
	assert.True(t, state.Forward[0].H.Shape().Equal(tensor.Shape{2, 4}))
	assert.True(t, state.Backward[1].C.Shape().Equal(tensor.Shape{2, 4}))
}

func TestStackTimeMajor(t *testing.T) {
	backend := cpu.New()
	s := NewBasicStack(5, 4, 1, smallInit(), true, backend)

	inputs := fromSlice(t, make([]float32, 2*3*5), tensor.Shape{2, 3, 5}, backend)
	outputs, _ := s.Forward(inputs, []int{3, 3}, 1.0)

	assert.True(t, outputs.Shape().Equal(tensor.Shape{3, 2, 8}), "got %v", outputs.Shape())
}

// TestFusedMatchesBlock checks that the time-fused runner computes the
// same recurrence as the per-step block cell when both start from the
// same constant weights.
func TestFusedMatchesBlock(t *testing.T) {
	backend := cpu.New()
	init := constInit(0.05)

	block := NewBlockStack(3, 4, 1, false, 0, init, false, backend)
	fused := NewFusedStack(3, 4, 1, false, 0, init, false, backend)

	data := make([]float32, 2*5*3)
	for i := range data {
		data[i] = float32(i%7)*0.3 - 1
	}
	seqLen := []int{5, 3}

	inBlock := fromSlice(t, data, tensor.Shape{2, 5, 3}, backend)
	inFused := fromSlice(t, data, tensor.Shape{2, 5, 3}, backend)

	outBlock, stateBlock := block.Forward(inBlock, seqLen, 1.0)
	outFused, stateFused := fused.Forward(inFused, seqLen, 1.0)

	require.True(t, outBlock.Shape().Equal(outFused.Shape()))
	b, f := outBlock.Data(), outFused.Data()
	for i := range b {
		assert.InDelta(t, b[i], f[i], 1e-4, "output %d", i)
	}

	hb, hf := stateBlock.Forward[0].H.Data(), stateFused.Forward[0].H.Data()
	for i := range hb {
		assert.InDelta(t, hb[i], hf[i], 1e-4, "state %d", i)
	}
}

// TestPackedStackDeterministic runs the concurrent-direction stack
// twice over the same input and expects identical results.
func TestPackedStackDeterministic(t *testing.T) {
	backend := cpu.New()
	s := NewPackedStack(3, 4, 2, 0.1, false, backend)

	data := make([]float32, 2*6*3)
	for i := range data {
		data[i] = float32(i%5) * 0.2
	}
	inputs := fromSlice(t, data, tensor.Shape{2, 6, 3}, backend)

	out1, _ := s.Forward(inputs, []int{6, 4}, 1.0)
	out2, _ := s.Forward(inputs, []int{6, 4}, 1.0)
	assert.Equal(t, out1.Data(), out2.Data())
}

func TestSeqLenValidation(t *testing.T) {
	backend := cpu.New()
	s := NewBasicStack(2, 3, 1, smallInit(), false, backend)

	inputs := fromSlice(t, make([]float32, 1*2*2), tensor.Shape{1, 2, 2}, backend)
	assert.Panics(t, func() { s.Forward(inputs, []int{5}, 1.0) })
	assert.Panics(t, func() { s.Forward(inputs, []int{1, 1}, 1.0) })
}
