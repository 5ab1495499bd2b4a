package cpu

import (
	"fmt"
	"math"

	"github.com/autohe/tensorflow-end2end-speech-recognition/internal/parallel"
	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// MaxPool2D performs 2D max pooling over NCHW input with a square
// window.
//
// With ceilMode false the output size is the usual floor formula
// (H-k)/stride + 1. With ceilMode true the output size is
// ceil(H/stride) for k == stride and windows that hang over the
// right/bottom edge are truncated to the valid region, matching
// TensorFlow's SAME pooling. The VGG front-end relies on ceil mode so
// that odd channel/splice extents still reduce by exactly the expected
// factor of two per stage.
func (cpu *Backend) MaxPool2D(input *tensor.RawTensor, kernelSize, stride int, ceilMode bool) *tensor.RawTensor {
	inShape := input.Shape()
	if len(inShape) != 4 {
		panic(fmt.Sprintf("maxpool2d: expected 4D input [N,C,H,W], got %dD", len(inShape)))
	}
	if kernelSize <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel size %d", kernelSize))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid stride %d", stride))
	}

	n, c, h, w := inShape[0], inShape[1], inShape[2], inShape[3]

	hOut := poolOutSize(h, kernelSize, stride, ceilMode)
	wOut := poolOutSize(w, kernelSize, stride, ceilMode)
	if hOut <= 0 || wOut <= 0 {
		panic(fmt.Sprintf("maxpool2d: degenerate output %dx%d (input %dx%d, kernel %d, stride %d)",
			hOut, wOut, h, w, kernelSize, stride))
	}

	if input.DType() != tensor.Float32 {
		panic(fmt.Sprintf("maxpool2d: unsupported dtype %s", input.DType()))
	}

	out, err := tensor.NewRaw(tensor.Shape{n, c, hOut, wOut}, tensor.Float32, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("maxpool2d: %v", err))
	}

	inData := input.AsFloat32()
	outData := out.AsFloat32()

	parallel.ForBatch(n, c, func(img, ch int) {
		inPlane := inData[(img*c+ch)*h*w:]
		outPlane := outData[(img*c+ch)*hOut*wOut:]
		for oy := 0; oy < hOut; oy++ {
			for ox := 0; ox < wOut; ox++ {
				maxVal := float32(math.Inf(-1))
				yEnd := min(oy*stride+kernelSize, h)
				xEnd := min(ox*stride+kernelSize, w)
				for y := oy * stride; y < yEnd; y++ {
					for x := ox * stride; x < xEnd; x++ {
						if v := inPlane[y*w+x]; v > maxVal {
							maxVal = v
						}
					}
				}
				outPlane[oy*wOut+ox] = maxVal
			}
		}
	}, parallel.Config{Enabled: cpu.par.Enabled, NumWorkers: cpu.par.NumWorkers, MinChunkSize: 1})

	return out
}

func poolOutSize(in, kernel, stride int, ceilMode bool) int {
	if ceilMode {
		return (in + stride - 1) / stride
	}
	return (in-kernel)/stride + 1
}
