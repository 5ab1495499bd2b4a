package rnn

import (
	"fmt"

	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// CellState is one direction's recurrent state: cell state C and
// hidden/output state H, both [batch, size].
type CellState[B tensor.Backend] struct {
	C *tensor.Tensor[float32, B]
	H *tensor.Tensor[float32, B]
}

// State collects the final recurrent states of a stack, one CellState
// per layer and direction.
type State[B tensor.Backend] struct {
	Forward  []CellState[B]
	Backward []CellState[B]
}

// Cell advances one direction of one layer by a single timestep.
type Cell[B tensor.Backend] interface {
	// Step maps (x [batch,in], h [batch,out], c [batch,units]) to the
	// next (h, c).
	Step(x, h, c *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B])

	// OutputSize is the width of h (the projection width when the cell
	// projects, the unit count otherwise).
	OutputSize() int

	// StateSize is the width of c (always the unit count).
	StateSize() int
}

// runner consumes a whole sequence for one direction.
type runner[B tensor.Backend] interface {
	// Run maps inputs [batch, time, in] to outputs [batch, time, out]
	// and the final state. With reverse set the sequence is processed
	// back to front per example (reverse-sequence semantics).
	Run(inputs *tensor.Tensor[float32, B], seqLen []int, reverse bool) (*tensor.Tensor[float32, B], CellState[B])

	OutputSize() int
}

// cellRunner drives a step Cell over a sequence with length masking.
type cellRunner[B tensor.Backend] struct {
	cell    Cell[B]
	backend B
}

func newCellRunner[B tensor.Backend](cell Cell[B], backend B) *cellRunner[B] {
	return &cellRunner[B]{cell: cell, backend: backend}
}

func (r *cellRunner[B]) OutputSize() int { return r.cell.OutputSize() }

// Run unrolls the cell over time. Reverse direction reverses each
// example by its own length first and un-reverses the outputs after,
// so the recurrence itself always walks t = 0..T-1. Past an example's
// length the output row is zero and the state rows carry unchanged.
func (r *cellRunner[B]) Run(inputs *tensor.Tensor[float32, B], seqLen []int, reverse bool) (*tensor.Tensor[float32, B], CellState[B]) {
	shape := inputs.Shape()
	if len(shape) != 3 {
		panic(fmt.Sprintf("rnn: expected 3D input [batch, time, features], got %v", shape))
	}
	batch, maxTime, inSize := shape[0], shape[1], shape[2]
	checkSeqLen(seqLen, batch, maxTime)

	if reverse {
		inputs = reverseSequence(inputs, seqLen)
	}

	outSize := r.cell.OutputSize()
	stateSize := r.cell.StateSize()
	h := tensor.Zeros[float32](tensor.Shape{batch, outSize}, r.backend)
	c := tensor.Zeros[float32](tensor.Shape{batch, stateSize}, r.backend)
	outputs := tensor.Zeros[float32](tensor.Shape{batch, maxTime, outSize}, r.backend)
	outData := outputs.Data()

	x := tensor.Zeros[float32](tensor.Shape{batch, inSize}, r.backend)
	for t := 0; t < maxTime; t++ {
		copyTimeStep(x.Data(), inputs.Data(), batch, maxTime, inSize, t)
		hNext, cNext := r.cell.Step(x, h, c)

		hd, cd := hNext.Data(), cNext.Data()
		hPrev, cPrev := h.Data(), c.Data()
		for b := 0; b < batch; b++ {
			if t < seqLen[b] {
				copy(outData[(b*maxTime+t)*outSize:(b*maxTime+t+1)*outSize], hd[b*outSize:(b+1)*outSize])
			} else {
				// Frozen past the valid length.
				copy(hd[b*outSize:(b+1)*outSize], hPrev[b*outSize:(b+1)*outSize])
				copy(cd[b*stateSize:(b+1)*stateSize], cPrev[b*stateSize:(b+1)*stateSize])
			}
		}
		h, c = hNext, cNext
	}

	if reverse {
		outputs = reverseSequence(outputs, seqLen)
	}
	return outputs, CellState[B]{C: c, H: h}
}

func checkSeqLen(seqLen []int, batch, maxTime int) {
	if len(seqLen) != batch {
		panic(fmt.Sprintf("rnn: %d sequence lengths for batch of %d", len(seqLen), batch))
	}
	for b, l := range seqLen {
		if l < 0 || l > maxTime {
			panic(fmt.Sprintf("rnn: sequence length %d of example %d outside [0, %d]", l, b, maxTime))
		}
	}
}

// copyTimeStep gathers x_t [batch, f] out of [batch, time, f].
func copyTimeStep(dst, src []float32, batch, maxTime, f, t int) {
	for b := 0; b < batch; b++ {
		copy(dst[b*f:(b+1)*f], src[(b*maxTime+t)*f:(b*maxTime+t+1)*f])
	}
}

// reverseSequence flips the first seqLen[b] rows of every example along
// the time axis, leaving padding rows where they are.
func reverseSequence[B tensor.Backend](x *tensor.Tensor[float32, B], seqLen []int) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	batch, maxTime, f := shape[0], shape[1], shape[2]
	out := tensor.Zeros[float32](shape, x.Backend())
	src, dst := x.Data(), out.Data()
	for b := 0; b < batch; b++ {
		l := seqLen[b]
		for t := 0; t < maxTime; t++ {
			st := t
			if t < l {
				st = l - 1 - t
			}
			copy(dst[(b*maxTime+t)*f:(b*maxTime+t+1)*f], src[(b*maxTime+st)*f:(b*maxTime+st+1)*f])
		}
	}
	return out
}

// concatRows joins x [batch, n] and y [batch, m] into [batch, n+m].
func concatRows[B tensor.Backend](x, y *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return tensor.Cat([]*tensor.Tensor[float32, B]{x, y}, 1)
}
