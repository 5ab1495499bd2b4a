package tensor

// Method sugar over the backend operations. Each returns a new tensor
// computed on this tensor's backend.

// Add performs element-wise addition with broadcasting.
func (t *Tensor[T, B]) Add(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.Add(t.raw, other.raw), t.backend)
}

// Sub performs element-wise subtraction with broadcasting.
func (t *Tensor[T, B]) Sub(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.Sub(t.raw, other.raw), t.backend)
}

// Mul performs element-wise multiplication with broadcasting.
func (t *Tensor[T, B]) Mul(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.Mul(t.raw, other.raw), t.backend)
}

// Div performs element-wise division with broadcasting.
func (t *Tensor[T, B]) Div(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.Div(t.raw, other.raw), t.backend)
}

// MatMul multiplies two 2D matrices.
func (t *Tensor[T, B]) MatMul(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.MatMul(t.raw, other.raw), t.backend)
}

// Reshape returns a view of the tensor under a new shape. The element
// count must match.
func (t *Tensor[T, B]) Reshape(dims ...int) *Tensor[T, B] {
	return New[T, B](t.backend.Reshape(t.raw, Shape(dims)), t.backend)
}

// Transpose permutes dimensions. With no arguments a 2D tensor is
// transposed; otherwise axes must be a permutation of the dimensions.
func (t *Tensor[T, B]) Transpose(axes ...int) *Tensor[T, B] {
	return New[T, B](t.backend.Transpose(t.raw, axes...), t.backend)
}

// AddScalar adds a scalar to every element.
func (t *Tensor[T, B]) AddScalar(s T) *Tensor[T, B] {
	return New[T, B](t.backend.AddScalar(t.raw, s), t.backend)
}

// MulScalar multiplies every element by a scalar.
func (t *Tensor[T, B]) MulScalar(s T) *Tensor[T, B] {
	return New[T, B](t.backend.MulScalar(t.raw, s), t.backend)
}

// Relu applies max(x, 0) element-wise.
func (t *Tensor[T, B]) Relu() *Tensor[T, B] {
	return New[T, B](t.backend.Relu(t.raw), t.backend)
}

// Tanh applies the hyperbolic tangent element-wise.
func (t *Tensor[T, B]) Tanh() *Tensor[T, B] {
	return New[T, B](t.backend.Tanh(t.raw), t.backend)
}

// Sigmoid applies the logistic function element-wise.
func (t *Tensor[T, B]) Sigmoid() *Tensor[T, B] {
	return New[T, B](t.backend.Sigmoid(t.raw), t.backend)
}

// Cat concatenates tensors along the given dimension.
func Cat[T DType, B Backend](tensors []*Tensor[T, B], dim int) *Tensor[T, B] {
	if len(tensors) == 0 {
		panic("cat: no tensors")
	}
	raws := make([]*RawTensor, len(tensors))
	for i, t := range tensors {
		raws[i] = t.Raw()
	}
	b := tensors[0].Backend()
	return New[T, B](b.Cat(raws, dim), b)
}
