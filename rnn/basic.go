package rnn

import (
	"fmt"
	"math"

	"github.com/autohe/tensorflow-end2end-speech-recognition/nn"
	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// BasicCell is the plain LSTM cell: no peephole connections, no
// projection, no activation clipping.
//
// Gate preactivations come from one kernel over the concatenated input
// and previous output, [in+units, 4*units], gate order (i, g, f, o):
//
//	c' = sigmoid(f + forgetBias) * c + sigmoid(i) * tanh(g)
//	h' = sigmoid(o) * tanh(c')
//
// The forget bias starts recall near one so early training does not
// immediately flush the cell state.
type BasicCell[B tensor.Backend] struct {
	numUnits   int
	inputSize  int
	forgetBias float32

	kernel *nn.Parameter[B] // [in+units, 4*units]
	bias   *nn.Parameter[B] // [4*units]

	backend B
}

// NewBasicCell creates a plain LSTM cell.
func NewBasicCell[B tensor.Backend](inputSize, numUnits int, init nn.Initializer[B], backend B) *BasicCell[B] {
	if inputSize <= 0 || numUnits <= 0 {
		panic(fmt.Sprintf("rnn: invalid BasicCell sizes in=%d, units=%d", inputSize, numUnits))
	}
	if init == nil {
		init = nn.Xavier[B]()
	}
	kernelShape := tensor.Shape{inputSize + numUnits, 4 * numUnits}
	return &BasicCell[B]{
		numUnits:   numUnits,
		inputSize:  inputSize,
		forgetBias: 1.0,
		kernel:     nn.NewParameter("lstm.kernel", init(inputSize+numUnits, 4*numUnits, kernelShape, backend)),
		bias:       nn.NewParameter("lstm.bias", nn.Zeros[B](tensor.Shape{4 * numUnits}, backend)),
		backend:    backend,
	}
}

// OutputSize returns the unit count.
func (cell *BasicCell[B]) OutputSize() int { return cell.numUnits }

// StateSize returns the unit count.
func (cell *BasicCell[B]) StateSize() int { return cell.numUnits }

// Parameters returns kernel and bias.
func (cell *BasicCell[B]) Parameters() []*nn.Parameter[B] {
	return []*nn.Parameter[B]{cell.kernel, cell.bias}
}

// Step advances the cell one timestep.
func (cell *BasicCell[B]) Step(x, h, c *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]) {
	batch := x.Shape()[0]
	u := cell.numUnits

	z := concatRows(x, h).MatMul(cell.kernel.Tensor())
	z = z.Add(cell.bias.Tensor().Reshape(1, 4*u))

	hNext := tensor.Zeros[float32](tensor.Shape{batch, u}, cell.backend)
	cNext := tensor.Zeros[float32](tensor.Shape{batch, u}, cell.backend)
	zd, cd := z.Data(), c.Data()
	hd, cnd := hNext.Data(), cNext.Data()

	for b := 0; b < batch; b++ {
		row := zd[b*4*u : (b+1)*4*u]
		for j := 0; j < u; j++ {
			i := sigmoid(row[j])
			g := math.Tanh(float64(row[u+j]))
			f := sigmoid(row[2*u+j] + cell.forgetBias)
			o := sigmoid(row[3*u+j])

			cn := f*float64(cd[b*u+j]) + i*g
			cnd[b*u+j] = float32(cn)
			hd[b*u+j] = float32(o * math.Tanh(cn))
		}
	}
	return hNext, cNext
}

func sigmoid(x float32) float64 {
	return 1.0 / (1.0 + math.Exp(-float64(x)))
}
