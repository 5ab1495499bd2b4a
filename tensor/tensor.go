package tensor

import "fmt"

// Tensor is a typed tensor bound to a compute backend.
//
// Type parameters:
//   - T: element type (DType constraint)
//   - B: compute backend
//
// Example:
//
//	backend := cpu.New()
//	t := tensor.Zeros[float32](tensor.Shape{3, 4}, backend)
//	u := t.Add(t)
type Tensor[T DType, B Backend] struct {
	raw     *RawTensor
	backend B
}

// New wraps a RawTensor with a typed, backend-bound handle.
func New[T DType, B Backend](raw *RawTensor, b B) *Tensor[T, B] {
	return &Tensor[T, B]{raw: raw, backend: b}
}

// FromSlice creates a tensor by copying a Go slice.
func FromSlice[T DType, B Backend](data []T, shape Shape, b B) (*Tensor[T, B], error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, got %d", shape, shape.NumElements(), len(data))
	}
	var dummy T
	raw, err := NewRaw(shape, inferDataType(dummy), b.Device())
	if err != nil {
		return nil, err
	}
	t := New[T, B](raw, b)
	copy(t.Data(), data)
	return t, nil
}

// Shape returns the tensor's shape.
func (t *Tensor[T, B]) Shape() Shape { return t.raw.Shape() }

// DType returns the runtime data type.
func (t *Tensor[T, B]) DType() DataType { return t.raw.DType() }

// Device returns the compute device.
func (t *Tensor[T, B]) Device() Device { return t.raw.Device() }

// NumElements returns the total element count.
func (t *Tensor[T, B]) NumElements() int { return t.raw.NumElements() }

// Raw returns the underlying RawTensor. Backends operate on this.
func (t *Tensor[T, B]) Raw() *RawTensor { return t.raw }

// Backend returns the compute backend.
func (t *Tensor[T, B]) Backend() B { return t.backend }

// Data returns a typed slice view of the tensor's memory (zero-copy).
// Writes through the slice modify the tensor.
func (t *Tensor[T, B]) Data() []T {
	var dummy T
	switch any(dummy).(type) {
	case float32:
		return any(t.raw.AsFloat32()).([]T)
	case float64:
		return any(t.raw.AsFloat64()).([]T)
	case int32:
		return any(t.raw.AsInt32()).([]T)
	case int64:
		return any(t.raw.AsInt64()).([]T)
	case bool:
		return any(t.raw.AsBool()).([]T)
	default:
		panic("unsupported type")
	}
}

// Item returns the value of a single-element tensor.
func (t *Tensor[T, B]) Item() T {
	if t.NumElements() != 1 {
		panic(fmt.Sprintf("Item() requires a single-element tensor, got shape %v", t.Shape()))
	}
	return t.Data()[0]
}

// At returns the element at the given indices.
func (t *Tensor[T, B]) At(indices ...int) T {
	return t.Data()[t.offset(indices)]
}

// Set assigns the element at the given indices.
func (t *Tensor[T, B]) Set(value T, indices ...int) {
	t.Data()[t.offset(indices)] = value
}

func (t *Tensor[T, B]) offset(indices []int) int {
	if len(indices) != len(t.Shape()) {
		panic(fmt.Sprintf("expected %d indices, got %d", len(t.Shape()), len(indices)))
	}
	offset := 0
	strides := t.raw.Strides()
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape()[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d (size %d)", idx, i, t.Shape()[i]))
		}
		offset += idx * strides[i]
	}
	return offset
}

// Clone returns a deep copy.
func (t *Tensor[T, B]) Clone() *Tensor[T, B] {
	return &Tensor[T, B]{raw: t.raw.Clone(), backend: t.backend}
}

// String returns a short description of the tensor.
func (t *Tensor[T, B]) String() string {
	return fmt.Sprintf("Tensor[%s]%v on %s", t.DType(), t.Shape(), t.Device())
}
