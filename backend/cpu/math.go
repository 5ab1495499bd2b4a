package cpu

import (
	"fmt"
	"math"

	"github.com/autohe/tensorflow-end2end-speech-recognition/tensor"
)

// Exp applies e^x element-wise.
func (cpu *Backend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("exp", x, func(v float64) float64 { return math.Exp(v) })
}

// Sqrt applies the square root element-wise.
func (cpu *Backend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("sqrt", x, math.Sqrt)
}

// Tanh applies the hyperbolic tangent element-wise.
func (cpu *Backend) Tanh(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("tanh", x, math.Tanh)
}

// Sigmoid applies 1/(1+e^-x) element-wise.
func (cpu *Backend) Sigmoid(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("sigmoid", x, func(v float64) float64 {
		return 1.0 / (1.0 + math.Exp(-v))
	})
}

// Relu applies max(x, 0) element-wise.
func (cpu *Backend) Relu(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("relu", x, func(v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	})
}

// Clip limits every element to [lo, hi].
func (cpu *Backend) Clip(x *tensor.RawTensor, lo, hi float64) *tensor.RawTensor {
	if lo > hi {
		panic(fmt.Sprintf("clip: lo %v > hi %v", lo, hi))
	}
	return cpu.unaryOp("clip", x, func(v float64) float64 {
		return math.Min(math.Max(v, lo), hi)
	})
}

func (cpu *Backend) unaryOp(name string, x *tensor.RawTensor, f func(float64) float64) *tensor.RawTensor {
	out, err := tensor.NewRaw(x.Shape(), x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}
	switch x.DType() {
	case tensor.Float32:
		xd, od := x.AsFloat32(), out.AsFloat32()
		for i := range od {
			od[i] = float32(f(float64(xd[i])))
		}
	case tensor.Float64:
		xd, od := x.AsFloat64(), out.AsFloat64()
		for i := range od {
			od[i] = f(xd[i])
		}
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, x.DType()))
	}
	return out
}
