package tensor

import "fmt"

// Shape represents the dimensions of a tensor.
type Shape []int

// NumElements returns the total number of elements in the tensor.
func (s Shape) NumElements() int {
	if len(s) == 0 {
		return 1 // scalar
	}
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks that every dimension is positive.
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// Equal reports whether two shapes have identical dimensions.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// ComputeStrides calculates row-major strides for the shape:
// stride[i] is the product of all dimensions after i.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}
	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// BroadcastShapes applies NumPy-style broadcasting rules to a pair of
// shapes: dimensions are compared right to left and are compatible when
// equal or when one of them is 1; missing leading dimensions count as 1.
//
// Returns the broadcast shape, whether any broadcasting is actually
// needed, and an error for incompatible shapes.
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	n := max(len(a), len(b))
	out := make(Shape, n)
	needed := len(a) != len(b)

	for i := 0; i < n; i++ {
		da, db := 1, 1
		if i < len(a) {
			da = a[len(a)-1-i]
		}
		if i < len(b) {
			db = b[len(b)-1-i]
		}
		switch {
		case da == db:
			out[n-1-i] = da
		case da == 1:
			out[n-1-i] = db
			needed = true
		case db == 1:
			out[n-1-i] = da
			needed = true
		default:
			return nil, false, fmt.Errorf("cannot broadcast shapes %v and %v", a, b)
		}
	}
	return out, needed, nil
}
