package tensor

// Backend defines the interface that all compute backends must implement.
//
// Backends allocate fresh results and never modify their inputs, so a tensor
// recorded on a gradient tape stays valid until the tape is cleared.
// Unless stated otherwise the operations act on Float32 tensors.
type Backend interface {
	// Element-wise binary operations with NumPy broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// Scalar operations.
	AddScalar(x *RawTensor, scalar float32) *RawTensor
	MulScalar(x *RawTensor, scalar float32) *RawTensor

	// Element-wise math.
	Exp(x *RawTensor) *RawTensor
	Log(x *RawTensor) *RawTensor
	Sqrt(x *RawTensor) *RawTensor

	// Activations.
	ReLU(x *RawTensor) *RawTensor
	Sigmoid(x *RawTensor) *RawTensor
	Softmax(x *RawTensor, dim int) *RawTensor

	// Squash scales every vector along the last axis to (|v|²/(1+|v|²))·v/|v|,
	// where |v| = sqrt(|v|² + eps).
	Squash(x *RawTensor, eps float32) *RawTensor
	SquashBackward(x, grad *RawTensor, eps float32) *RawTensor

	// Reductions.
	Sum(x *RawTensor) *RawTensor
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor
	Argmax(x *RawTensor, dim int) *RawTensor // returns Int64

	// Linear algebra.
	MatMul(a, b *RawTensor) *RawTensor      // [M,K] @ [K,N]
	BatchMatMul(a, b *RawTensor) *RawTensor // [B,M,K] @ [B,K,N]

	// Convolution over NCHW input with an [Cout, Cin, KH, KW] kernel.
	Conv2D(input, kernel *RawTensor, stride, padding int) *RawTensor
	Conv2DInputBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor
	Conv2DKernelBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor

	// Shape manipulation.
	Reshape(x *RawTensor, shape Shape) *RawTensor
	Transpose(x *RawTensor, axes ...int) *RawTensor
	Expand(x *RawTensor, shape Shape) *RawTensor

	// IndexSelect gathers slices of x along dim. Works for Float32 and Int64.
	IndexSelect(x *RawTensor, dim int, indices []int) *RawTensor
	// IndexAdd is the adjoint of IndexSelect: it scatters src into a zero
	// tensor of the given shape, accumulating repeated indices.
	IndexAdd(shape Shape, dim int, indices []int, src *RawTensor) *RawTensor

	// Metadata.
	Name() string
	Device() Device
}
