package rnn

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/autohe/tensorflow-end2end-speech-recognition/nn"
	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// fusedRunner is the time-fused LSTM: instead of projecting each
// timestep's input inside the recurrence, it multiplies the whole
// [batch*time, in] sequence against the input kernel in a single gemm
// up front, leaving only the [batch, units] recurrent gemm and the
// gate loop inside the time loop. Mathematically identical to
// BlockCell; the kernel is split into input and recurrent halves to
// make the hoisting possible.
type fusedRunner[B tensor.Backend] struct {
	numUnits    int
	inputSize   int
	usePeephole bool
	cellClip    float32
	forgetBias  float32

	inputKernel     *nn.Parameter[B] // [in, 4*units]
	recurrentKernel *nn.Parameter[B] // [units, 4*units]
	bias            *nn.Parameter[B] // [4*units]
	wI, wF, wO      *nn.Parameter[B]

	backend B
}

func newFusedRunner[B tensor.Backend](
	inputSize, numUnits int,
	usePeephole bool,
	cellClip float32,
	init nn.Initializer[B],
	backend B,
) *fusedRunner[B] {
	if inputSize <= 0 || numUnits <= 0 {
		panic(fmt.Sprintf("rnn: invalid fused LSTM sizes in=%d, units=%d", inputSize, numUnits))
	}
	if cellClip < 0 {
		panic(fmt.Sprintf("rnn: negative cell clip %g", cellClip))
	}
	if init == nil {
		init = nn.Xavier[B]()
	}

	r := &fusedRunner[B]{
		numUnits:    numUnits,
		inputSize:   inputSize,
		usePeephole: usePeephole,
		cellClip:    cellClip,
		forgetBias:  1.0,
		inputKernel: nn.NewParameter("lstm.input_kernel",
			init(inputSize, 4*numUnits, tensor.Shape{inputSize, 4 * numUnits}, backend)),
		recurrentKernel: nn.NewParameter("lstm.recurrent_kernel",
			init(numUnits, 4*numUnits, tensor.Shape{numUnits, 4 * numUnits}, backend)),
		bias:    nn.NewParameter("lstm.bias", nn.Zeros[B](tensor.Shape{4 * numUnits}, backend)),
		backend: backend,
	}
	if usePeephole {
		u := tensor.Shape{numUnits}
		r.wI = nn.NewParameter("lstm.w_i_diag", init(numUnits, numUnits, u, backend))
		r.wF = nn.NewParameter("lstm.w_f_diag", init(numUnits, numUnits, u, backend))
		r.wO = nn.NewParameter("lstm.w_o_diag", init(numUnits, numUnits, u, backend))
	}
	return r
}

func (r *fusedRunner[B]) OutputSize() int { return r.numUnits }

// Run processes the whole sequence for one direction.
func (r *fusedRunner[B]) Run(inputs *tensor.Tensor[float32, B], seqLen []int, reverse bool) (*tensor.Tensor[float32, B], CellState[B]) {
	shape := inputs.Shape()
	if len(shape) != 3 {
		panic(fmt.Sprintf("rnn: expected 3D input [batch, time, features], got %v", shape))
	}
	batch, maxTime, in := shape[0], shape[1], shape[2]
	if in != r.inputSize {
		panic(fmt.Sprintf("rnn: input width %d != expected %d", in, r.inputSize))
	}
	checkSeqLen(seqLen, batch, maxTime)

	if reverse {
		inputs = reverseSequence(inputs, seqLen)
	}

	u := r.numUnits

	// All input projections in one gemm: [batch*time, in] @ [in, 4u].
	xw := make([]float32, batch*maxTime*4*u)
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: batch * maxTime, Cols: in, Stride: in, Data: inputs.Data()},
		blas32.General{Rows: in, Cols: 4 * u, Stride: 4 * u, Data: r.inputKernel.Tensor().Data()},
		0,
		blas32.General{Rows: batch * maxTime, Cols: 4 * u, Stride: 4 * u, Data: xw})

	h := make([]float32, batch*u)
	c := make([]float32, batch*u)
	hNext := make([]float32, batch*u)
	cNext := make([]float32, batch*u)
	gates := make([]float32, batch*4*u)

	outputs := tensor.Zeros[float32](tensor.Shape{batch, maxTime, u}, r.backend)
	outData := outputs.Data()
	bias := r.bias.Tensor().Data()
	wi, wf, wo := peepholeWeights(r.wI), peepholeWeights(r.wF), peepholeWeights(r.wO)

	for t := 0; t < maxTime; t++ {
		// gates = xw_t + h @ recurrentKernel
		for b := 0; b < batch; b++ {
			copy(gates[b*4*u:(b+1)*4*u], xw[(b*maxTime+t)*4*u:(b*maxTime+t+1)*4*u])
		}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
			blas32.General{Rows: batch, Cols: u, Stride: u, Data: h},
			blas32.General{Rows: u, Cols: 4 * u, Stride: 4 * u, Data: r.recurrentKernel.Tensor().Data()},
			1,
			blas32.General{Rows: batch, Cols: 4 * u, Stride: 4 * u, Data: gates})

		blockGateLoop(hNext, cNext, gates, bias, c, wi, wf, wo, batch, u, r.forgetBias, r.cellClip)

		for b := 0; b < batch; b++ {
			if t < seqLen[b] {
				copy(outData[(b*maxTime+t)*u:(b*maxTime+t+1)*u], hNext[b*u:(b+1)*u])
			} else {
				copy(hNext[b*u:(b+1)*u], h[b*u:(b+1)*u])
				copy(cNext[b*u:(b+1)*u], c[b*u:(b+1)*u])
			}
		}
		h, hNext = hNext, h
		c, cNext = cNext, c
	}

	if reverse {
		outputs = reverseSequence(outputs, seqLen)
	}

	finalH, err := tensor.FromSlice(h, tensor.Shape{batch, u}, r.backend)
	if err != nil {
		panic(err)
	}
	finalC, err := tensor.FromSlice(c, tensor.Shape{batch, u}, r.backend)
	if err != nil {
		panic(err)
	}
	return outputs, CellState[B]{C: finalC, H: finalH}
}
