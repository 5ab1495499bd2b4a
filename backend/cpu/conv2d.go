package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/autohe/tensorflow-end2end-speech-recognition/internal/parallel"
	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// Conv2D performs 2D convolution via im2col.
//
// Input:  [N, C_in, H, W]
// Kernel: [C_out, C_in, K_h, K_w]
// Output: [N, C_out, H_out, W_out] with
//
//	H_out = (H + 2*padding - K_h)/stride + 1
//	W_out = (W + 2*padding - K_w)/stride + 1
//
// im2col rearranges input patches into a matrix so the convolution
// reduces to one gemm per image, reusing the BLAS path in MatMul.
func (cpu *Backend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	inShape, kShape := input.Shape(), kernel.Shape()
	if len(inShape) != 4 {
		panic(fmt.Sprintf("conv2d: input must be 4D [N,C,H,W], got %dD", len(inShape)))
	}
	if len(kShape) != 4 {
		panic(fmt.Sprintf("conv2d: kernel must be 4D [C_out,C_in,K_h,K_w], got %dD", len(kShape)))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("conv2d: invalid stride %d", stride))
	}
	if padding < 0 {
		panic(fmt.Sprintf("conv2d: invalid padding %d", padding))
	}

	n, cIn, h, w := inShape[0], inShape[1], inShape[2], inShape[3]
	cOut, cInK, kh, kw := kShape[0], kShape[1], kShape[2], kShape[3]
	if cIn != cInK {
		panic(fmt.Sprintf("conv2d: input channels %d != kernel channels %d", cIn, cInK))
	}

	hOut := (h+2*padding-kh)/stride + 1
	wOut := (w+2*padding-kw)/stride + 1
	if hOut <= 0 || wOut <= 0 {
		panic(fmt.Sprintf("conv2d: degenerate output %dx%d (input %dx%d, kernel %dx%d, stride %d, padding %d)",
			hOut, wOut, h, w, kh, kw, stride, padding))
	}

	if input.DType() != tensor.Float32 || kernel.DType() != tensor.Float32 {
		panic(fmt.Sprintf("conv2d: unsupported dtype %s", input.DType()))
	}

	out, err := tensor.NewRaw(tensor.Shape{n, cOut, hOut, wOut}, tensor.Float32, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("conv2d: %v", err))
	}

	inData := input.AsFloat32()
	kData := kernel.AsFloat32() // already [C_out, C_in*K_h*K_w] row-major
	outData := out.AsFloat32()

	colWidth := cIn * kh * kw
	imSize := cIn * h * w
	outSize := cOut * hOut * wOut

	// One im2col buffer and gemm per image, images in parallel.
	parallel.For(n, func(img int) {
		col := make([]float32, hOut*wOut*colWidth)
		im2col(col, inData[img*imSize:(img+1)*imSize],
			cIn, h, w, kh, kw, hOut, wOut, stride, padding)

		// kernel [C_out, colWidth] @ col^T [colWidth, H_out*W_out]
		// col is row-major [H_out*W_out, colWidth]; gemm wants the
		// transpose, so compute out^T = col @ kernel^T instead and
		// write through a transposing copy.
		tmp := make([]float32, hOut*wOut*cOut)
		gemmNT(tmp, col, kData, hOut*wOut, colWidth, cOut)

		dst := outData[img*outSize : (img+1)*outSize]
		for p := 0; p < hOut*wOut; p++ {
			for c := 0; c < cOut; c++ {
				dst[c*hOut*wOut+p] = tmp[p*cOut+c]
			}
		}
	}, parallel.Config{Enabled: cpu.par.Enabled, NumWorkers: cpu.par.NumWorkers, MinChunkSize: 1})

	return out
}

// im2col unrolls conv patches of one image into rows of col:
// col[(y*wOut+x), (c*kh+i)*kw+j] = in[c, y*stride+i-pad, x*stride+j-pad],
// with zeros outside the image.
func im2col(col, in []float32, cIn, h, w, kh, kw, hOut, wOut, stride, padding int) {
	colWidth := cIn * kh * kw
	for y := 0; y < hOut; y++ {
		for x := 0; x < wOut; x++ {
			row := col[(y*wOut+x)*colWidth:]
			k := 0
			for c := 0; c < cIn; c++ {
				for i := 0; i < kh; i++ {
					iy := y*stride + i - padding
					for j := 0; j < kw; j++ {
						ix := x*stride + j - padding
						if iy >= 0 && iy < h && ix >= 0 && ix < w {
							row[k] = in[(c*h+iy)*w+ix]
						} else {
							row[k] = 0
						}
						k++
					}
				}
			}
		}
	}
}

// gemmNT computes C[m,n] = A[m,k] @ B[n,k]^T through BLAS.
func gemmNT(c, a, b []float32, m, k, n int) {
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
		blas32.General{Rows: n, Cols: k, Stride: k, Data: b},
		0,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: c})
}
