package tensor

// Backend is the interface compute backends implement. The encoder
// builds its graph against this seam; backend/cpu is the reference
// implementation.
//
// Operations panic on shape or dtype errors: by the time a backend op
// runs, argument shapes have been fixed by the layer that issued it,
// so a mismatch is a programming error rather than user input.
type Backend interface {
	// Element-wise binary operations with right-aligned broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// MatMul multiplies two 2D matrices: [M, K] @ [K, N] -> [M, N].
	MatMul(a, b *RawTensor) *RawTensor

	// Conv2D performs 2D convolution over NCHW input with an
	// [outC, inC, kH, kW] kernel.
	Conv2D(input, kernel *RawTensor, stride, padding int) *RawTensor

	// MaxPool2D pools NCHW input with a square window. With ceilMode
	// the output size is ceil(H/stride) and windows hanging over the
	// right/bottom edge are truncated (TensorFlow SAME pooling).
	MaxPool2D(input *RawTensor, kernelSize, stride int, ceilMode bool) *RawTensor

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor
	Cat(tensors []*RawTensor, dim int) *RawTensor

	// Scalar operations.
	AddScalar(x *RawTensor, scalar any) *RawTensor
	MulScalar(x *RawTensor, scalar any) *RawTensor

	// Element-wise math and activations.
	Exp(x *RawTensor) *RawTensor
	Sqrt(x *RawTensor) *RawTensor
	Tanh(x *RawTensor) *RawTensor
	Sigmoid(x *RawTensor) *RawTensor
	Relu(x *RawTensor) *RawTensor

	// Clip limits every element to [lo, hi].
	Clip(x *RawTensor, lo, hi float64) *RawTensor

	// Metadata.
	Name() string
	Device() Device
}
