// Package cpu implements the CPU compute backend: pure Go kernels with
// BLAS-backed matrix multiplication and chunked parallel loops.
package cpu

import (
	"fmt"

	"github.com/autohe/tensorflow-end2end-speech-recognition/internal/parallel"
	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// Backend implements tensor.Backend on the host CPU.
type Backend struct {
	device tensor.Device
	par    parallel.Config
}

// New creates a CPU backend with the default parallel configuration.
func New() *Backend {
	return &Backend{
		device: tensor.CPU,
		par:    parallel.DefaultConfig(),
	}
}

// NewSequential creates a CPU backend with parallelism disabled.
// Useful for deterministic benchmarking and small unit tests.
func NewSequential() *Backend {
	return &Backend{
		device: tensor.CPU,
		par:    parallel.Config{Enabled: false},
	}
}

// Name returns the backend name.
func (cpu *Backend) Name() string { return "CPU" }

// Device returns the compute device.
func (cpu *Backend) Device() tensor.Device { return cpu.device }

// Add performs element-wise addition with broadcasting.
func (cpu *Backend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("add", a, b,
		func(x, y float32) float32 { return x + y },
		func(x, y float64) float64 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *Backend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("sub", a, b,
		func(x, y float32) float32 { return x - y },
		func(x, y float64) float64 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *Backend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("mul", a, b,
		func(x, y float32) float32 { return x * y },
		func(x, y float64) float64 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (cpu *Backend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("div", a, b,
		func(x, y float32) float32 { return x / y },
		func(x, y float64) float64 { return x / y })
}

// binaryOp dispatches an element-wise binary operation by dtype, with a
// fast path for identical shapes and a strided path for broadcasting.
func (cpu *Backend) binaryOp(
	name string,
	a, b *tensor.RawTensor,
	f32 func(x, y float32) float32,
	f64 func(x, y float64) float64,
) *tensor.RawTensor {
	if a.DType() != b.DType() {
		panic(fmt.Sprintf("%s: dtype mismatch %s vs %s", name, a.DType(), b.DType()))
	}
	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}
	out, err := tensor.NewRaw(outShape, a.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	switch a.DType() {
	case tensor.Float32:
		if !needsBroadcast {
			ad, bd, od := a.AsFloat32(), b.AsFloat32(), out.AsFloat32()
			for i := range od {
				od[i] = f32(ad[i], bd[i])
			}
			return out
		}
		broadcastBinary(out.AsFloat32(), a.AsFloat32(), b.AsFloat32(), outShape, a.Shape(), b.Shape(), f32)
	case tensor.Float64:
		if !needsBroadcast {
			ad, bd, od := a.AsFloat64(), b.AsFloat64(), out.AsFloat64()
			for i := range od {
				od[i] = f64(ad[i], bd[i])
			}
			return out
		}
		broadcastBinary(out.AsFloat64(), a.AsFloat64(), b.AsFloat64(), outShape, a.Shape(), b.Shape(), f64)
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, a.DType()))
	}
	return out
}

// broadcastBinary walks the output index space and maps every position
// back onto the (possibly size-1) source dimensions.
func broadcastBinary[T float32 | float64](
	out, a, b []T,
	outShape, aShape, bShape tensor.Shape,
	f func(x, y T) T,
) {
	aStrides := broadcastStrides(outShape, aShape)
	bStrides := broadcastStrides(outShape, bShape)
	outStrides := outShape.ComputeStrides()

	idx := make([]int, len(outShape))
	for i := range out {
		aOff, bOff := 0, 0
		rem := i
		for d := range outShape {
			idx[d] = rem / outStrides[d]
			rem %= outStrides[d]
			aOff += idx[d] * aStrides[d]
			bOff += idx[d] * bStrides[d]
		}
		out[i] = f(a[aOff], b[bOff])
	}
}

// broadcastStrides computes strides of src aligned to the output rank,
// with zero stride on broadcast (size-1 or missing) dimensions.
func broadcastStrides(outShape, srcShape tensor.Shape) []int {
	srcStrides := srcShape.ComputeStrides()
	strides := make([]int, len(outShape))
	offset := len(outShape) - len(srcShape)
	for d := range outShape {
		sd := d - offset
		if sd < 0 || srcShape[sd] == 1 {
			strides[d] = 0
		} else {
			strides[d] = srcStrides[sd]
		}
	}
	return strides
}

// AddScalar adds a scalar to every element.
func (cpu *Backend) AddScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	return cpu.scalarOp("addscalar", x, scalar,
		func(v, s float32) float32 { return v + s },
		func(v, s float64) float64 { return v + s })
}

// MulScalar multiplies every element by a scalar.
func (cpu *Backend) MulScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	return cpu.scalarOp("mulscalar", x, scalar,
		func(v, s float32) float32 { return v * s },
		func(v, s float64) float64 { return v * s })
}

func (cpu *Backend) scalarOp(
	name string,
	x *tensor.RawTensor,
	scalar any,
	f32 func(v, s float32) float32,
	f64 func(v, s float64) float64,
) *tensor.RawTensor {
	out, err := tensor.NewRaw(x.Shape(), x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}
	switch x.DType() {
	case tensor.Float32:
		s, ok := scalar.(float32)
		if !ok {
			panic(fmt.Sprintf("%s: scalar %T for float32 tensor", name, scalar))
		}
		xd, od := x.AsFloat32(), out.AsFloat32()
		for i := range od {
			od[i] = f32(xd[i], s)
		}
	case tensor.Float64:
		s, ok := scalar.(float64)
		if !ok {
			panic(fmt.Sprintf("%s: scalar %T for float64 tensor", name, scalar))
		}
		xd, od := x.AsFloat64(), out.AsFloat64()
		for i := range od {
			od[i] = f64(xd[i], s)
		}
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, x.DType()))
	}
	return out
}
