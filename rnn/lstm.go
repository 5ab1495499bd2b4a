package rnn

import (
	"fmt"
	"math"

	"github.com/autohe/tensorflow-end2end-speech-recognition/nn"
	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// PeepholeCell is the full-featured LSTM cell: optional peephole
// connections (gates see the cell state directly), optional projection
// of the output down to numProj, and optional cell-state clipping.
//
// With peepholes, the input and forget gates see the previous cell
// state and the output gate sees the updated one:
//
//	i = sigmoid(zi + wI.c)
//	f = sigmoid(zf + forgetBias + wF.c)
//	c' = clip(f*c + i*tanh(zg))
//	o = sigmoid(zo + wO.c')
//	h' = proj(o * tanh(c'))
//
// This is the only variant that supports projection; the encoder
// discards the projection width for every other selector.
type PeepholeCell[B tensor.Backend] struct {
	numUnits    int
	numProj     int // 0 disables projection
	inputSize   int
	usePeephole bool
	cellClip    float32 // 0 disables clipping
	forgetBias  float32

	kernel *nn.Parameter[B] // [in+out, 4*units]
	bias   *nn.Parameter[B] // [4*units]

	wI, wF, wO *nn.Parameter[B] // peephole weights [units], nil when disabled
	projKernel *nn.Parameter[B] // [units, numProj], nil without projection

	backend B
}

// NewPeepholeCell creates the peephole-capable cell. numProj == 0
// disables projection, cellClip == 0 disables clipping.
func NewPeepholeCell[B tensor.Backend](
	inputSize, numUnits, numProj int,
	usePeephole bool,
	cellClip float32,
	init nn.Initializer[B],
	backend B,
) *PeepholeCell[B] {
	if inputSize <= 0 || numUnits <= 0 {
		panic(fmt.Sprintf("rnn: invalid PeepholeCell sizes in=%d, units=%d", inputSize, numUnits))
	}
	if numProj < 0 || numProj > numUnits {
		panic(fmt.Sprintf("rnn: invalid projection width %d for %d units", numProj, numUnits))
	}
	if cellClip < 0 {
		panic(fmt.Sprintf("rnn: negative cell clip %g", cellClip))
	}
	if init == nil {
		init = nn.Xavier[B]()
	}

	outSize := numUnits
	if numProj > 0 {
		outSize = numProj
	}

	cell := &PeepholeCell[B]{
		numUnits:    numUnits,
		numProj:     numProj,
		inputSize:   inputSize,
		usePeephole: usePeephole,
		cellClip:    cellClip,
		forgetBias:  1.0,
		kernel: nn.NewParameter("lstm.kernel",
			init(inputSize+outSize, 4*numUnits, tensor.Shape{inputSize + outSize, 4 * numUnits}, backend)),
		bias:    nn.NewParameter("lstm.bias", nn.Zeros[B](tensor.Shape{4 * numUnits}, backend)),
		backend: backend,
	}
	if usePeephole {
		u := tensor.Shape{numUnits}
		cell.wI = nn.NewParameter("lstm.w_i_diag", init(numUnits, numUnits, u, backend))
		cell.wF = nn.NewParameter("lstm.w_f_diag", init(numUnits, numUnits, u, backend))
		cell.wO = nn.NewParameter("lstm.w_o_diag", init(numUnits, numUnits, u, backend))
	}
	if numProj > 0 {
		cell.projKernel = nn.NewParameter("lstm.projection",
			init(numUnits, numProj, tensor.Shape{numUnits, numProj}, backend))
	}
	return cell
}

// OutputSize returns numProj when projecting, else the unit count.
func (cell *PeepholeCell[B]) OutputSize() int {
	if cell.numProj > 0 {
		return cell.numProj
	}
	return cell.numUnits
}

// StateSize returns the unit count.
func (cell *PeepholeCell[B]) StateSize() int { return cell.numUnits }

// Parameters returns all trainable parameters of the cell.
func (cell *PeepholeCell[B]) Parameters() []*nn.Parameter[B] {
	params := []*nn.Parameter[B]{cell.kernel, cell.bias}
	if cell.usePeephole {
		params = append(params, cell.wI, cell.wF, cell.wO)
	}
	if cell.projKernel != nil {
		params = append(params, cell.projKernel)
	}
	return params
}

// Step advances the cell one timestep.
func (cell *PeepholeCell[B]) Step(x, h, c *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]) {
	batch := x.Shape()[0]
	u := cell.numUnits

	z := concatRows(x, h).MatMul(cell.kernel.Tensor())
	z = z.Add(cell.bias.Tensor().Reshape(1, 4*u))

	raw := tensor.Zeros[float32](tensor.Shape{batch, u}, cell.backend) // o * tanh(c') before projection
	cNext := tensor.Zeros[float32](tensor.Shape{batch, u}, cell.backend)
	zd, cd := z.Data(), c.Data()
	rawd, cnd := raw.Data(), cNext.Data()

	var wi, wf, wo []float32
	if cell.usePeephole {
		wi = cell.wI.Tensor().Data()
		wf = cell.wF.Tensor().Data()
		wo = cell.wO.Tensor().Data()
	}

	for b := 0; b < batch; b++ {
		row := zd[b*4*u : (b+1)*4*u]
		for j := 0; j < u; j++ {
			cPrev := float64(cd[b*u+j])

			zi := float64(row[j])
			zf := float64(row[2*u+j]) + float64(cell.forgetBias)
			if cell.usePeephole {
				zi += float64(wi[j]) * cPrev
				zf += float64(wf[j]) * cPrev
			}
			i := 1.0 / (1.0 + math.Exp(-zi))
			f := 1.0 / (1.0 + math.Exp(-zf))
			g := math.Tanh(float64(row[u+j]))

			cn := f*cPrev + i*g
			if cell.cellClip > 0 {
				cn = math.Min(math.Max(cn, -float64(cell.cellClip)), float64(cell.cellClip))
			}

			zo := float64(row[3*u+j])
			if cell.usePeephole {
				zo += float64(wo[j]) * cn
			}
			o := 1.0 / (1.0 + math.Exp(-zo))

			cnd[b*u+j] = float32(cn)
			rawd[b*u+j] = float32(o * math.Tanh(cn))
		}
	}

	if cell.projKernel != nil {
		return raw.MatMul(cell.projKernel.Tensor()), cNext
	}
	return raw, cNext
}
