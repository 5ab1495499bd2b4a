package rnn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/autohe/tensorflow-end2end-speech-recognition/nn"
	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// BlockCell computes the same recurrence as PeepholeCell (peepholes and
// cell clipping, no projection) but is organized for throughput: the
// concatenated input, the gate preactivations and the states live in
// scratch buffers that are reused across timesteps, and the single gate
// gemm goes straight to BLAS instead of through per-gate tensor ops.
type BlockCell[B tensor.Backend] struct {
	numUnits    int
	inputSize   int
	usePeephole bool
	cellClip    float32
	forgetBias  float32

	kernel *nn.Parameter[B] // [in+units, 4*units]
	bias   *nn.Parameter[B] // [4*units]

	wI, wF, wO *nn.Parameter[B] // nil when peepholes are disabled

	// Scratch, sized on first Step for the batch in flight.
	xh    []float32 // [batch, in+units]
	gates []float32 // [batch, 4*units]

	backend B
}

// NewBlockCell creates a block cell. cellClip == 0 disables clipping.
func NewBlockCell[B tensor.Backend](
	inputSize, numUnits int,
	usePeephole bool,
	cellClip float32,
	init nn.Initializer[B],
	backend B,
) *BlockCell[B] {
	if inputSize <= 0 || numUnits <= 0 {
		panic(fmt.Sprintf("rnn: invalid BlockCell sizes in=%d, units=%d", inputSize, numUnits))
	}
	if cellClip < 0 {
		panic(fmt.Sprintf("rnn: negative cell clip %g", cellClip))
	}
	if init == nil {
		init = nn.Xavier[B]()
	}

	cell := &BlockCell[B]{
		numUnits:    numUnits,
		inputSize:   inputSize,
		usePeephole: usePeephole,
		cellClip:    cellClip,
		forgetBias:  1.0,
		kernel: nn.NewParameter("lstm.kernel",
			init(inputSize+numUnits, 4*numUnits, tensor.Shape{inputSize + numUnits, 4 * numUnits}, backend)),
		bias:    nn.NewParameter("lstm.bias", nn.Zeros[B](tensor.Shape{4 * numUnits}, backend)),
		backend: backend,
	}
	if usePeephole {
		u := tensor.Shape{numUnits}
		cell.wI = nn.NewParameter("lstm.w_i_diag", init(numUnits, numUnits, u, backend))
		cell.wF = nn.NewParameter("lstm.w_f_diag", init(numUnits, numUnits, u, backend))
		cell.wO = nn.NewParameter("lstm.w_o_diag", init(numUnits, numUnits, u, backend))
	}
	return cell
}

// OutputSize returns the unit count.
func (cell *BlockCell[B]) OutputSize() int { return cell.numUnits }

// StateSize returns the unit count.
func (cell *BlockCell[B]) StateSize() int { return cell.numUnits }

// Parameters returns all trainable parameters of the cell.
func (cell *BlockCell[B]) Parameters() []*nn.Parameter[B] {
	params := []*nn.Parameter[B]{cell.kernel, cell.bias}
	if cell.usePeephole {
		params = append(params, cell.wI, cell.wF, cell.wO)
	}
	return params
}

// Step advances the cell one timestep.
func (cell *BlockCell[B]) Step(x, h, c *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]) {
	batch := x.Shape()[0]
	u := cell.numUnits
	in := cell.inputSize
	width := in + u

	if len(cell.xh) < batch*width {
		cell.xh = make([]float32, batch*width)
		cell.gates = make([]float32, batch*4*u)
	}
	xh := cell.xh[:batch*width]
	gates := cell.gates[:batch*4*u]

	xd, hd := x.Data(), h.Data()
	for b := 0; b < batch; b++ {
		copy(xh[b*width:], xd[b*in:(b+1)*in])
		copy(xh[b*width+in:], hd[b*u:(b+1)*u])
	}

	// gates = xh @ kernel
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: batch, Cols: width, Stride: width, Data: xh},
		blas32.General{Rows: width, Cols: 4 * u, Stride: 4 * u, Data: cell.kernel.Tensor().Data()},
		0,
		blas32.General{Rows: batch, Cols: 4 * u, Stride: 4 * u, Data: gates})

	hNext := tensor.Zeros[float32](tensor.Shape{batch, u}, cell.backend)
	cNext := tensor.Zeros[float32](tensor.Shape{batch, u}, cell.backend)
	blockGateLoop(hNext.Data(), cNext.Data(), gates, cell.bias.Tensor().Data(), c.Data(),
		peepholeWeights(cell.wI), peepholeWeights(cell.wF), peepholeWeights(cell.wO),
		batch, u, cell.forgetBias, cell.cellClip)
	return hNext, cNext
}

func peepholeWeights[B tensor.Backend](p *nn.Parameter[B]) []float32 {
	if p == nil {
		return nil
	}
	return p.Tensor().Data()
}

// blockGateLoop applies bias, peepholes, nonlinearities and clipping in
// one pass over the gate buffer. Gate order (i, g, f, o).
func blockGateLoop(hOut, cOut, gates, bias, cPrev, wi, wf, wo []float32, batch, u int, forgetBias, cellClip float32) {
	for b := 0; b < batch; b++ {
		row := gates[b*4*u : (b+1)*4*u]
		for j := 0; j < u; j++ {
			cp := float64(cPrev[b*u+j])

			zi := float64(row[j] + bias[j])
			zf := float64(row[2*u+j]+bias[2*u+j]) + float64(forgetBias)
			if wi != nil {
				zi += float64(wi[j]) * cp
				zf += float64(wf[j]) * cp
			}
			i := 1.0 / (1.0 + math.Exp(-zi))
			f := 1.0 / (1.0 + math.Exp(-zf))
			g := math.Tanh(float64(row[u+j] + bias[u+j]))

			cn := f*cp + i*g
			if cellClip > 0 {
				cn = math.Min(math.Max(cn, -float64(cellClip)), float64(cellClip))
			}

			zo := float64(row[3*u+j] + bias[3*u+j])
			if wo != nil {
				zo += float64(wo[j]) * cn
			}
			o := 1.0 / (1.0 + math.Exp(-zo))

			cOut[b*u+j] = float32(cn)
			hOut[b*u+j] = float32(o * math.Tanh(cn))
		}
	}
}
