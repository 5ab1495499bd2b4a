package rnn

import (
	"fmt"
	"sync"

	"github.com/autohe/tensorflow-end2end-speech-recognition/nn"
	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// biLayer pairs the forward and backward runners of one layer.
type biLayer[B tensor.Backend] struct {
	fwd, bwd runner[B]
}

// Stack is a multi-layer bidirectional LSTM. Each layer runs its two
// directions over the input sequence, concatenates their outputs along
// the feature axis, and applies output dropout before feeding the next
// layer.
type Stack[B tensor.Backend] struct {
	layers             []*biLayer[B]
	timeMajor          bool
	parallelDirections bool

	dropout *nn.Dropout[B]
	backend B
}

// OutputSize is the feature width of the stack output: both directions
// concatenated.
func (s *Stack[B]) OutputSize() int {
	return 2 * s.layers[len(s.layers)-1].fwd.OutputSize()
}

// NumLayers returns the layer count.
func (s *Stack[B]) NumLayers() int { return len(s.layers) }

// Forward runs the stack over a batch of sequences.
//
//	inputs:  [batch, time, features]
//	seqLen:  per-example valid lengths
//	keepProb: output dropout keep probability (1 at inference)
//
// Returns [batch, time, 2*out] — or [time, batch, 2*out] when the
// stack is time-major — plus the final state of every layer/direction.
func (s *Stack[B]) Forward(inputs *tensor.Tensor[float32, B], seqLen []int, keepProb float32) (*tensor.Tensor[float32, B], *State[B]) {
	if len(inputs.Shape()) != 3 {
		panic(fmt.Sprintf("rnn: expected 3D input [batch, time, features], got %v", inputs.Shape()))
	}

	state := &State[B]{
		Forward:  make([]CellState[B], len(s.layers)),
		Backward: make([]CellState[B], len(s.layers)),
	}

	x := inputs
	for l, layer := range s.layers {
		var fwdOut, bwdOut *tensor.Tensor[float32, B]
		var fwdState, bwdState CellState[B]

		if s.parallelDirections {
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				fwdOut, fwdState = layer.fwd.Run(x, seqLen, false)
			}()
			go func() {
				defer wg.Done()
				bwdOut, bwdState = layer.bwd.Run(x, seqLen, true)
			}()
			wg.Wait()
		} else {
			fwdOut, fwdState = layer.fwd.Run(x, seqLen, false)
			bwdOut, bwdState = layer.bwd.Run(x, seqLen, true)
		}

		state.Forward[l] = fwdState
		state.Backward[l] = bwdState

		x = tensor.Cat([]*tensor.Tensor[float32, B]{fwdOut, bwdOut}, 2)
		x = s.dropout.Forward(x, keepProb)
	}

	if s.timeMajor {
		x = x.Transpose(1, 0, 2)
	}
	return x, state
}

// NewBasicStack builds a bidirectional stack of plain cells.
func NewBasicStack[B tensor.Backend](
	inputSize, numUnits, numLayers int,
	init nn.Initializer[B],
	timeMajor bool,
	backend B,
) *Stack[B] {
	return newStack(inputSize, numLayers, timeMajor, false, backend, func(in int) (runner[B], runner[B]) {
		return newCellRunner[B](NewBasicCell(in, numUnits, init, backend), backend),
			newCellRunner[B](NewBasicCell(in, numUnits, init, backend), backend)
	})
}

// NewPeepholeStack builds a bidirectional stack of peephole-capable
// cells with optional projection (numProj == 0 disables it).
func NewPeepholeStack[B tensor.Backend](
	inputSize, numUnits, numProj, numLayers int,
	usePeephole bool,
	cellClip float32,
	init nn.Initializer[B],
	timeMajor bool,
	backend B,
) *Stack[B] {
	return newStack(inputSize, numLayers, timeMajor, false, backend, func(in int) (runner[B], runner[B]) {
		return newCellRunner[B](NewPeepholeCell(in, numUnits, numProj, usePeephole, cellClip, init, backend), backend),
			newCellRunner[B](NewPeepholeCell(in, numUnits, numProj, usePeephole, cellClip, init, backend), backend)
	})
}

// NewBlockStack builds a bidirectional stack of block cells.
func NewBlockStack[B tensor.Backend](
	inputSize, numUnits, numLayers int,
	usePeephole bool,
	cellClip float32,
	init nn.Initializer[B],
	timeMajor bool,
	backend B,
) *Stack[B] {
	return newStack(inputSize, numLayers, timeMajor, false, backend, func(in int) (runner[B], runner[B]) {
		return newCellRunner[B](NewBlockCell(in, numUnits, usePeephole, cellClip, init, backend), backend),
			newCellRunner[B](NewBlockCell(in, numUnits, usePeephole, cellClip, init, backend), backend)
	})
}

// NewFusedStack builds a bidirectional stack of time-fused runners.
func NewFusedStack[B tensor.Backend](
	inputSize, numUnits, numLayers int,
	usePeephole bool,
	cellClip float32,
	init nn.Initializer[B],
	timeMajor bool,
	backend B,
) *Stack[B] {
	return newStack(inputSize, numLayers, timeMajor, false, backend, func(in int) (runner[B], runner[B]) {
		return newFusedRunner(in, numUnits, usePeephole, cellClip, init, backend),
			newFusedRunner(in, numUnits, usePeephole, cellClip, init, backend)
	})
}

// NewPackedStack builds a bidirectional stack of packed-weight cells
// initialized from U(-scale, +scale), with the two directions of every
// layer running concurrently.
func NewPackedStack[B tensor.Backend](
	inputSize, numUnits, numLayers int,
	scale float32,
	timeMajor bool,
	backend B,
) *Stack[B] {
	return newStack(inputSize, numLayers, timeMajor, true, backend, func(in int) (runner[B], runner[B]) {
		return newCellRunner[B](NewPackedCell(in, numUnits, scale, backend), backend),
			newCellRunner[B](NewPackedCell(in, numUnits, scale, backend), backend)
	})
}

func newStack[B tensor.Backend](
	inputSize, numLayers int,
	timeMajor, parallelDirections bool,
	backend B,
	build func(in int) (runner[B], runner[B]),
) *Stack[B] {
	if inputSize <= 0 {
		panic(fmt.Sprintf("rnn: invalid input size %d", inputSize))
	}
	if numLayers <= 0 {
		panic(fmt.Sprintf("rnn: invalid layer count %d", numLayers))
	}

	s := &Stack[B]{
		timeMajor:          timeMajor,
		parallelDirections: parallelDirections,
		dropout:            nn.NewDropout(backend),
		backend:            backend,
	}
	in := inputSize
	for l := 0; l < numLayers; l++ {
		fwd, bwd := build(in)
		s.layers = append(s.layers, &biLayer[B]{fwd: fwd, bwd: bwd})
		in = 2 * fwd.OutputSize() // both directions feed the next layer
	}
	return s
}
