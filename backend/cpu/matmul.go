package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// MatMul multiplies two 2D matrices: [M, K] @ [K, N] -> [M, N].
//
// float32 goes through gonum's BLAS sgemm, which is where essentially
// all of the encoder's compute ends up (im2col convolution, the bridge
// layer, and every LSTM gate projection all funnel into this call).
// float64 falls back to a blocked pure-Go loop.
func (cpu *Backend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("matmul: expected 2D operands, got %v @ %v", aShape, bShape))
	}
	m, k := aShape[0], aShape[1]
	k2, n := bShape[0], bShape[1]
	if k != k2 {
		panic(fmt.Sprintf("matmul: inner dimensions differ: %v @ %v", aShape, bShape))
	}
	if a.DType() != b.DType() {
		panic(fmt.Sprintf("matmul: dtype mismatch %s vs %s", a.DType(), b.DType()))
	}

	out, err := tensor.NewRaw(tensor.Shape{m, n}, a.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("matmul: %v", err))
	}

	switch a.DType() {
	case tensor.Float32:
		gemmFloat32(out.AsFloat32(), a.AsFloat32(), b.AsFloat32(), m, k, n)
	case tensor.Float64:
		matmulFloat64(out.AsFloat64(), a.AsFloat64(), b.AsFloat64(), m, k, n)
	default:
		panic(fmt.Sprintf("matmul: unsupported dtype %s", a.DType()))
	}
	return out
}

// gemmFloat32 computes C = A @ B via BLAS.
func gemmFloat32(c, a, b []float32, m, k, n int) {
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
		blas32.General{Rows: k, Cols: n, Stride: n, Data: b},
		0,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: c})
}

// matmulFloat64 is a cache-friendly ikj loop.
func matmulFloat64(c, a, b []float64, m, k, n int) {
	for i := 0; i < m; i++ {
		ci := c[i*n : (i+1)*n]
		for p := 0; p < k; p++ {
			av := a[i*k+p]
			if av == 0 {
				continue
			}
			bp := b[p*n : (p+1)*n]
			for j := range ci {
				ci[j] += av * bp[j]
			}
		}
	}
}
