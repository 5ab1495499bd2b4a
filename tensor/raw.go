package tensor

import (
	"fmt"
	"unsafe"
)

// Device represents the compute device a tensor lives on.
type Device int

// Supported compute devices. Only CPU is implemented; the enum keeps
// the backend seam open for accelerator ports.
const (
	CPU Device = iota
	GPU
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// RawTensor is untyped tensor storage: a contiguous row-major byte
// buffer plus shape, strides and runtime type information. Typed views
// are obtained through the As* accessors; the generic Tensor wraps a
// RawTensor with compile-time element typing.
type RawTensor struct {
	shape   Shape
	strides []int
	dtype   DataType
	device  Device
	data    []byte
}

// NewRaw allocates zeroed storage for the given shape and dtype.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("newraw: %w", err)
	}
	return &RawTensor{
		shape:   shape.Clone(),
		strides: shape.ComputeStrides(),
		dtype:   dtype,
		device:  device,
		data:    make([]byte, shape.NumElements()*dtype.Size()),
	}, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape { return r.shape }

// Strides returns the row-major strides.
func (r *RawTensor) Strides() []int { return r.strides }

// DType returns the runtime data type.
func (r *RawTensor) DType() DataType { return r.dtype }

// Device returns the compute device.
func (r *RawTensor) Device() Device { return r.device }

// NumElements returns the total element count.
func (r *RawTensor) NumElements() int { return r.shape.NumElements() }

// Bytes returns the underlying byte buffer.
func (r *RawTensor) Bytes() []byte { return r.data }

// AsFloat32 returns a float32 view of the buffer. Panics on dtype mismatch.
func (r *RawTensor) AsFloat32() []float32 {
	r.checkDType(Float32)
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsFloat64 returns a float64 view of the buffer. Panics on dtype mismatch.
func (r *RawTensor) AsFloat64() []float64 {
	r.checkDType(Float64)
	return unsafe.Slice((*float64)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsInt32 returns an int32 view of the buffer. Panics on dtype mismatch.
func (r *RawTensor) AsInt32() []int32 {
	r.checkDType(Int32)
	return unsafe.Slice((*int32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsInt64 returns an int64 view of the buffer. Panics on dtype mismatch.
func (r *RawTensor) AsInt64() []int64 {
	r.checkDType(Int64)
	return unsafe.Slice((*int64)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsBool returns a bool view of the buffer. Panics on dtype mismatch.
func (r *RawTensor) AsBool() []bool {
	r.checkDType(Bool)
	return unsafe.Slice((*bool)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

func (r *RawTensor) checkDType(want DataType) {
	if r.dtype != want {
		panic(fmt.Sprintf("rawtensor: dtype is %s, requested view as %s", r.dtype, want))
	}
	if len(r.data) == 0 {
		panic("rawtensor: empty buffer")
	}
}

// Clone returns a deep copy of the tensor.
func (r *RawTensor) Clone() *RawTensor {
	clone := &RawTensor{
		shape:   r.shape.Clone(),
		strides: append([]int(nil), r.strides...),
		dtype:   r.dtype,
		device:  r.device,
		data:    make([]byte, len(r.data)),
	}
	copy(clone.data, r.data)
	return clone
}

// WithShape returns a view sharing this tensor's buffer under a new
// shape. The element count must match.
func (r *RawTensor) WithShape(shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("withshape: %w", err)
	}
	if shape.NumElements() != r.NumElements() {
		return nil, fmt.Errorf("withshape: cannot view %v (%d elements) as %v (%d elements)",
			r.shape, r.NumElements(), shape, shape.NumElements())
	}
	return &RawTensor{
		shape:   shape.Clone(),
		strides: shape.ComputeStrides(),
		dtype:   r.dtype,
		device:  r.device,
		data:    r.data,
	}, nil
}

// String returns a short description of the tensor.
func (r *RawTensor) String() string {
	return fmt.Sprintf("RawTensor[%s]%v on %s", r.dtype, r.shape, r.device)
}
