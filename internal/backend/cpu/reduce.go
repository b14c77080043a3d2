package cpu

import (
	"github.com/born-ml/capsnet/internal/tensor"
)

// Sum reduces all elements to a scalar (shape []).
func (cpu *CPUBackend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("sum", x)
	var s float64
	for _, v := range x.AsFloat32() {
		s += float64(v)
	}
	result := cpu.alloc("sum", tensor.Shape{}, tensor.Float32)
	result.AsFloat32()[0] = float32(s)
	return result
}

// SumDim sums along dim, optionally keeping it as a size-1 dimension.
func (cpu *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	requireFloat32("sum_dim", x)
	shape := x.Shape()
	dim = shape.NormalizeDim(dim)
	outer, size, inner := splitDim(shape, dim)

	result := cpu.alloc("sum_dim", reducedShape(shape, dim, keepDim), tensor.Float32)
	in, out := x.AsFloat32(), result.AsFloat32()
	for o := 0; o < outer; o++ {
		for j := 0; j < size; j++ {
			src := in[(o*size+j)*inner : (o*size+j+1)*inner]
			dst := out[o*inner : (o+1)*inner]
			for k, v := range src {
				dst[k] += v
			}
		}
	}
	return result
}

// Argmax returns Int64 indices of the maximum along dim. Ties resolve to the
// lowest index.
func (cpu *CPUBackend) Argmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	requireFloat32("argmax", x)
	shape := x.Shape()
	dim = shape.NormalizeDim(dim)
	outer, size, inner := splitDim(shape, dim)

	result := cpu.alloc("argmax", reducedShape(shape, dim, false), tensor.Int64)
	in, out := x.AsFloat32(), result.AsInt64()
	for o := 0; o < outer; o++ {
		for k := 0; k < inner; k++ {
			base := o*size*inner + k
			best := 0
			for j := 1; j < size; j++ {
				if in[base+j*inner] > in[base+best*inner] {
					best = j
				}
			}
			out[o*inner+k] = int64(best)
		}
	}
	return result
}

func reducedShape(shape tensor.Shape, dim int, keepDim bool) tensor.Shape {
	out := make(tensor.Shape, 0, len(shape))
	for i, d := range shape {
		switch {
		case i != dim:
			out = append(out, d)
		case keepDim:
			out = append(out, 1)
		}
	}
	return out
}
