package rnn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/autohe/tensorflow-end2end-speech-recognition/nn"
	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// PackedCell is the canonical LSTM in the flat-buffer layout
// accelerator libraries expect: input kernel, recurrent kernel, and
// two bias vectors (one per kernel, both applied) packed back to back
// in a single parameter. No peepholes, no projection, no clipping —
// the restrictions the accelerated kernels impose.
//
// Unlike the other cells it does not take an initializer: the whole
// buffer is drawn from U(-scale, +scale) directly, which is how the
// encoder hands its parameter-init range to this variant.
//
// Packed layout, gate order (i, g, f, o):
//
//	[0, in*4u)           input kernel   [in, 4u]
//	[in*4u, (in+u)*4u)   recurrent kernel [u, 4u]
//	... + 4u             input bias
//	... + 4u             recurrent bias
type PackedCell[B tensor.Backend] struct {
	numUnits  int
	inputSize int

	packed *nn.Parameter[B] // [(in+u)*4u + 8u]

	backend B
}

// NewPackedCell creates a packed-weight cell with uniform init scale.
func NewPackedCell[B tensor.Backend](inputSize, numUnits int, scale float32, backend B) *PackedCell[B] {
	if inputSize <= 0 || numUnits <= 0 {
		panic(fmt.Sprintf("rnn: invalid PackedCell sizes in=%d, units=%d", inputSize, numUnits))
	}
	if scale < 0 {
		panic(fmt.Sprintf("rnn: negative init scale %g", scale))
	}

	size := (inputSize+numUnits)*4*numUnits + 8*numUnits
	buf := tensor.Zeros[float32](tensor.Shape{size}, backend)
	data := buf.Data()
	for i := range data {
		data[i] = -scale + float32(rand.Float64())*2*scale //nolint:gosec // math/rand is fine for init
	}

	return &PackedCell[B]{
		numUnits:  numUnits,
		inputSize: inputSize,
		packed:    nn.NewParameter("lstm.packed", buf),
		backend:   backend,
	}
}

// OutputSize returns the unit count.
func (cell *PackedCell[B]) OutputSize() int { return cell.numUnits }

// StateSize returns the unit count.
func (cell *PackedCell[B]) StateSize() int { return cell.numUnits }

// Parameters returns the single packed parameter.
func (cell *PackedCell[B]) Parameters() []*nn.Parameter[B] {
	return []*nn.Parameter[B]{cell.packed}
}

// views slices the packed buffer into its four regions.
func (cell *PackedCell[B]) views() (wx, wh, bx, bh []float32) {
	in, u := cell.inputSize, cell.numUnits
	data := cell.packed.Tensor().Data()
	wx = data[:in*4*u]
	wh = data[in*4*u : (in+u)*4*u]
	bx = data[(in+u)*4*u : (in+u)*4*u+4*u]
	bh = data[(in+u)*4*u+4*u:]
	return wx, wh, bx, bh
}

// Step advances the cell one timestep.
func (cell *PackedCell[B]) Step(x, h, c *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]) {
	batch := x.Shape()[0]
	in, u := cell.inputSize, cell.numUnits
	wx, wh, bx, bh := cell.views()

	gates := make([]float32, batch*4*u)
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: batch, Cols: in, Stride: in, Data: x.Data()},
		blas32.General{Rows: in, Cols: 4 * u, Stride: 4 * u, Data: wx},
		0,
		blas32.General{Rows: batch, Cols: 4 * u, Stride: 4 * u, Data: gates})
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: batch, Cols: u, Stride: u, Data: h.Data()},
		blas32.General{Rows: u, Cols: 4 * u, Stride: 4 * u, Data: wh},
		1,
		blas32.General{Rows: batch, Cols: 4 * u, Stride: 4 * u, Data: gates})

	hNext := tensor.Zeros[float32](tensor.Shape{batch, u}, cell.backend)
	cNext := tensor.Zeros[float32](tensor.Shape{batch, u}, cell.backend)
	hd, cnd := hNext.Data(), cNext.Data()
	cd := c.Data()

	for b := 0; b < batch; b++ {
		row := gates[b*4*u : (b+1)*4*u]
		for j := 0; j < u; j++ {
			i := 1.0 / (1.0 + math.Exp(-float64(row[j]+bx[j]+bh[j])))
			g := math.Tanh(float64(row[u+j] + bx[u+j] + bh[u+j]))
			f := 1.0 / (1.0 + math.Exp(-float64(row[2*u+j]+bx[2*u+j]+bh[2*u+j])))
			o := 1.0 / (1.0 + math.Exp(-float64(row[3*u+j]+bx[3*u+j]+bh[3*u+j])))

			cn := f*float64(cd[b*u+j]) + i*g
			cnd[b*u+j] = float32(cn)
			hd[b*u+j] = float32(o * math.Tanh(cn))
		}
	}
	return hNext, cNext
}
