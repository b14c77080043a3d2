package cpu

import (
	"math"

	"github.com/born-ml/capsnet/internal/tensor"
)

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("mul", a, b, func(x, y float32) float32 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("div", a, b, func(x, y float32) float32 { return x / y })
}

func (cpu *CPUBackend) unary(op string, x *tensor.RawTensor, f func(v float32) float32) *tensor.RawTensor {
	requireFloat32(op, x)
	result := cpu.alloc(op, x.Shape(), tensor.Float32)
	out, in := result.AsFloat32(), x.AsFloat32()
	for i, v := range in {
		out[i] = f(v)
	}
	return result
}

// AddScalar adds scalar to every element.
func (cpu *CPUBackend) AddScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	return cpu.unary("add_scalar", x, func(v float32) float32 { return v + scalar })
}

// MulScalar multiplies every element by scalar.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	return cpu.unary("mul_scalar", x, func(v float32) float32 { return v * scalar })
}

// Exp computes e^x.
func (cpu *CPUBackend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("exp", x, func(v float32) float32 { return float32(math.Exp(float64(v))) })
}

// Log computes the natural logarithm.
func (cpu *CPUBackend) Log(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("log", x, func(v float32) float32 { return float32(math.Log(float64(v))) })
}

// Sqrt computes the square root.
func (cpu *CPUBackend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("sqrt", x, func(v float32) float32 { return float32(math.Sqrt(float64(v))) })
}

// ReLU computes max(0, x).
func (cpu *CPUBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("relu", x, func(v float32) float32 { return max(v, 0) })
}

// Sigmoid computes 1/(1+e^-x) in a form that does not overflow for large |x|.
func (cpu *CPUBackend) Sigmoid(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("sigmoid", x, func(v float32) float32 {
		if v >= 0 {
			return float32(1 / (1 + math.Exp(-float64(v))))
		}
		e := math.Exp(float64(v))
		return float32(e / (1 + e))
	})
}

// splitDim returns the outer, size and inner extents of shape around dim.
func splitDim(shape tensor.Shape, dim int) (outer, size, inner int) {
	outer, inner = 1, 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	return outer, shape[dim], inner
}

// Softmax computes a numerically stable softmax along dim.
func (cpu *CPUBackend) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	requireFloat32("softmax", x)
	dim = x.Shape().NormalizeDim(dim)
	outer, size, inner := splitDim(x.Shape(), dim)

	result := cpu.alloc("softmax", x.Shape(), tensor.Float32)
	in, out := x.AsFloat32(), result.AsFloat32()

	for o := 0; o < outer; o++ {
		for k := 0; k < inner; k++ {
			base := o*size*inner + k
			maxVal := in[base]
			for j := 1; j < size; j++ {
				maxVal = max(maxVal, in[base+j*inner])
			}
			var sum float64
			for j := 0; j < size; j++ {
				e := math.Exp(float64(in[base+j*inner] - maxVal))
				out[base+j*inner] = float32(e)
				sum += e
			}
			inv := float32(1 / sum)
			for j := 0; j < size; j++ {
				out[base+j*inner] *= inv
			}
		}
	}
	return result
}

// Squash rescales each vector along the last axis so its length lies in [0, 1).
func (cpu *CPUBackend) Squash(x *tensor.RawTensor, eps float32) *tensor.RawTensor {
	requireFloat32("squash", x)
	shape := x.Shape()
	if len(shape) == 0 {
		panic("squash: scalar input")
	}
	d := shape[len(shape)-1]

	result := cpu.alloc("squash", shape, tensor.Float32)
	in, out := x.AsFloat32(), result.AsFloat32()
	for start := 0; start < len(in); start += d {
		row := in[start : start+d]
		scale := float32(squashScale(sumSquares(row), eps))
		for j, v := range row {
			out[start+j] = scale * v
		}
	}
	return result
}

// squashScale returns f(q) = q/((1+q)·sqrt(q+eps)) for a squared norm q.
func squashScale(q float64, eps float32) float64 {
	return q / ((1 + q) * math.Sqrt(q+float64(eps)))
}

// squashScaleDerivative returns df/dq.
func squashScaleDerivative(q float64, eps float32) float64 {
	r := math.Sqrt(q + float64(eps))
	return (r - q*(1+q)/(2*r)) / ((1 + q) * (1 + q) * r * r)
}

// SquashBackward returns dL/dx for y = squash(x) given dL/dy.
//
// With y = f(q)·x and q = |x|², the Jacobian-vector product is
// f(q)·g + 2·f'(q)·(g·x)·x.
func (cpu *CPUBackend) SquashBackward(x, grad *tensor.RawTensor, eps float32) *tensor.RawTensor {
	requireFloat32("squash_backward", x, grad)
	if !x.Shape().Equal(grad.Shape()) {
		panic("squash_backward: gradient shape does not match input")
	}
	shape := x.Shape()
	d := shape[len(shape)-1]

	result := cpu.alloc("squash_backward", shape, tensor.Float32)
	in, g, out := x.AsFloat32(), grad.AsFloat32(), result.AsFloat32()
	for start := 0; start < len(in); start += d {
		row := in[start : start+d]
		grow := g[start : start+d]
		q := sumSquares(row)
		f := squashScale(q, eps)
		df := squashScaleDerivative(q, eps)
		var dot float64
		for j, v := range row {
			dot += float64(grow[j]) * float64(v)
		}
		for j, v := range row {
			out[start+j] = float32(f*float64(grow[j]) + 2*df*dot*float64(v))
		}
	}
	return result
}

func sumSquares(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return s
}
