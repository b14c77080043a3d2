package tensor

import "fmt"

func (t *Tensor[T, B]) wrap(raw *RawTensor) *Tensor[T, B] {
	return &Tensor[T, B]{raw: raw, backend: t.backend}
}

// Add performs element-wise addition with broadcasting.
func (t *Tensor[T, B]) Add(other *Tensor[T, B]) *Tensor[T, B] {
	return t.wrap(t.backend.Add(t.raw, other.raw))
}

// Sub performs element-wise subtraction with broadcasting.
func (t *Tensor[T, B]) Sub(other *Tensor[T, B]) *Tensor[T, B] {
	return t.wrap(t.backend.Sub(t.raw, other.raw))
}

// Mul performs element-wise multiplication with broadcasting.
func (t *Tensor[T, B]) Mul(other *Tensor[T, B]) *Tensor[T, B] {
	return t.wrap(t.backend.Mul(t.raw, other.raw))
}

// Div performs element-wise division with broadcasting.
func (t *Tensor[T, B]) Div(other *Tensor[T, B]) *Tensor[T, B] {
	return t.wrap(t.backend.Div(t.raw, other.raw))
}

// AddScalar adds a scalar to every element.
func (t *Tensor[T, B]) AddScalar(scalar float32) *Tensor[T, B] {
	return t.wrap(t.backend.AddScalar(t.raw, scalar))
}

// MulScalar multiplies every element by a scalar.
func (t *Tensor[T, B]) MulScalar(scalar float32) *Tensor[T, B] {
	return t.wrap(t.backend.MulScalar(t.raw, scalar))
}

// Exp computes e^x element-wise.
func (t *Tensor[T, B]) Exp() *Tensor[T, B] {
	return t.wrap(t.backend.Exp(t.raw))
}

// Log computes the natural logarithm element-wise.
func (t *Tensor[T, B]) Log() *Tensor[T, B] {
	return t.wrap(t.backend.Log(t.raw))
}

// Sqrt computes the square root element-wise.
func (t *Tensor[T, B]) Sqrt() *Tensor[T, B] {
	return t.wrap(t.backend.Sqrt(t.raw))
}

// ReLU applies max(0, x).
func (t *Tensor[T, B]) ReLU() *Tensor[T, B] {
	return t.wrap(t.backend.ReLU(t.raw))
}

// Sigmoid applies 1/(1+e^-x).
func (t *Tensor[T, B]) Sigmoid() *Tensor[T, B] {
	return t.wrap(t.backend.Sigmoid(t.raw))
}

// Softmax normalizes along dim.
func (t *Tensor[T, B]) Softmax(dim int) *Tensor[T, B] {
	return t.wrap(t.backend.Softmax(t.raw, dim))
}

// Squash applies the capsule squashing non-linearity along the last axis.
func (t *Tensor[T, B]) Squash(eps float32) *Tensor[T, B] {
	return t.wrap(t.backend.Squash(t.raw, eps))
}

// Sum reduces all elements to a scalar.
func (t *Tensor[T, B]) Sum() *Tensor[T, B] {
	return t.wrap(t.backend.Sum(t.raw))
}

// SumDim sums along dim.
func (t *Tensor[T, B]) SumDim(dim int, keepDim bool) *Tensor[T, B] {
	return t.wrap(t.backend.SumDim(t.raw, dim, keepDim))
}

// Argmax returns the index of the largest element along dim.
func (t *Tensor[T, B]) Argmax(dim int) *Tensor[int64, B] {
	return New[int64, B](t.backend.Argmax(t.raw, dim), t.backend)
}

// MatMul performs 2D matrix multiplication.
func (t *Tensor[T, B]) MatMul(other *Tensor[T, B]) *Tensor[T, B] {
	return t.wrap(t.backend.MatMul(t.raw, other.raw))
}

// BatchMatMul performs batched 3D matrix multiplication.
func (t *Tensor[T, B]) BatchMatMul(other *Tensor[T, B]) *Tensor[T, B] {
	return t.wrap(t.backend.BatchMatMul(t.raw, other.raw))
}

// Conv2D convolves an NCHW tensor with an [Cout, Cin, KH, KW] kernel.
func (t *Tensor[T, B]) Conv2D(kernel *Tensor[T, B], stride, padding int) *Tensor[T, B] {
	return t.wrap(t.backend.Conv2D(t.raw, kernel.raw, stride, padding))
}

// Reshape returns a tensor with the same data and a new shape.
// A single -1 dimension is inferred.
func (t *Tensor[T, B]) Reshape(dims ...int) *Tensor[T, B] {
	return t.wrap(t.backend.Reshape(t.raw, inferShape(t.NumElements(), dims)))
}

// Transpose permutes the axes. With no axes the last two are swapped.
func (t *Tensor[T, B]) Transpose(axes ...int) *Tensor[T, B] {
	return t.wrap(t.backend.Transpose(t.raw, axes...))
}

// Expand broadcasts t to shape.
func (t *Tensor[T, B]) Expand(shape Shape) *Tensor[T, B] {
	return t.wrap(t.backend.Expand(t.raw, shape))
}

// IndexSelect gathers slices along dim.
func (t *Tensor[T, B]) IndexSelect(dim int, indices []int) *Tensor[T, B] {
	return t.wrap(t.backend.IndexSelect(t.raw, dim, indices))
}

func inferShape(numElements int, dims []int) Shape {
	shape := make(Shape, len(dims))
	infer := -1
	known := 1
	for i, d := range dims {
		if d == -1 {
			if infer >= 0 {
				panic("reshape: only one dimension can be -1")
			}
			infer = i
			continue
		}
		shape[i] = d
		known *= d
	}
	if infer >= 0 {
		if known == 0 || numElements%known != 0 {
			panic(fmt.Sprintf("reshape: cannot infer dimension for %d elements from %v", numElements, dims))
		}
		shape[infer] = numElements / known
	}
	if shape.NumElements() != numElements {
		panic(fmt.Sprintf("reshape: cannot reshape %d elements into %v", numElements, dims))
	}
	return shape
}
