package cpu

import (
	"fmt"

	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// Reshape returns a view of x under a new shape sharing the same buffer.
func (cpu *Backend) Reshape(x *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	out, err := x.WithShape(newShape)
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	return out
}

// Transpose permutes the dimensions of x. With no axes a 2D tensor is
// transposed; otherwise axes must be a permutation of x's dimensions.
// The result is materialized contiguously (dtype-agnostic, moved at
// byte granularity).
func (cpu *Backend) Transpose(x *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := x.Shape()
	if len(axes) == 0 {
		if len(shape) != 2 {
			panic(fmt.Sprintf("transpose: implicit transpose requires 2D, got %v", shape))
		}
		axes = []int{1, 0}
	}
	if len(axes) != len(shape) {
		panic(fmt.Sprintf("transpose: %d axes for %dD tensor", len(axes), len(shape)))
	}
	seen := make([]bool, len(shape))
	for _, a := range axes {
		if a < 0 || a >= len(shape) || seen[a] {
			panic(fmt.Sprintf("transpose: axes %v is not a permutation", axes))
		}
		seen[a] = true
	}

	outShape := make(tensor.Shape, len(shape))
	for i, a := range axes {
		outShape[i] = shape[a]
	}
	out, err := tensor.NewRaw(outShape, x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("transpose: %v", err))
	}

	elemSize := x.DType().Size()
	srcStrides := x.Strides()
	outStrides := outShape.ComputeStrides()
	src, dst := x.Bytes(), out.Bytes()

	n := x.NumElements()
	idx := make([]int, len(outShape))
	for i := 0; i < n; i++ {
		rem := i
		srcOff := 0
		for d := range outShape {
			idx[d] = rem / outStrides[d]
			rem %= outStrides[d]
			srcOff += idx[d] * srcStrides[axes[d]]
		}
		copy(dst[i*elemSize:(i+1)*elemSize], src[srcOff*elemSize:(srcOff+1)*elemSize])
	}
	return out
}

// Cat concatenates tensors along dim. All shapes must agree except on
// the concatenation dimension.
func (cpu *Backend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	if len(tensors) == 0 {
		panic("cat: no tensors")
	}
	first := tensors[0]
	rank := len(first.Shape())
	if dim < 0 || dim >= rank {
		panic(fmt.Sprintf("cat: dim %d out of range for %dD tensors", dim, rank))
	}

	outShape := first.Shape().Clone()
	for _, t := range tensors[1:] {
		s := t.Shape()
		if len(s) != rank || t.DType() != first.DType() {
			panic(fmt.Sprintf("cat: incompatible tensor %s with %s", t, first))
		}
		for d := 0; d < rank; d++ {
			if d != dim && s[d] != outShape[d] {
				panic(fmt.Sprintf("cat: shape mismatch on dim %d: %v vs %v", d, s, first.Shape()))
			}
		}
		outShape[dim] += s[dim]
	}

	out, err := tensor.NewRaw(outShape, first.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("cat: %v", err))
	}

	elemSize := first.DType().Size()
	outer := 1
	for d := 0; d < dim; d++ {
		outer *= outShape[d]
	}
	inner := 1
	for d := dim + 1; d < rank; d++ {
		inner *= outShape[d]
	}

	dst := out.Bytes()
	rowBytes := outShape[dim] * inner * elemSize
	off := 0
	for _, t := range tensors {
		src := t.Bytes()
		chunk := t.Shape()[dim] * inner * elemSize
		for o := 0; o < outer; o++ {
			copy(dst[o*rowBytes+off:], src[o*chunk:(o+1)*chunk])
		}
		off += chunk
	}
	return out
}
