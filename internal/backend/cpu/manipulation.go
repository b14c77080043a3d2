package cpu

import (
	"fmt"

	"github.com/born-ml/capsnet/internal/tensor"
)

// Reshape returns a view with a new shape. Data is shared, never copied.
func (cpu *CPUBackend) Reshape(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	if shape.NumElements() != x.NumElements() {
		panic(fmt.Sprintf("reshape: cannot reshape %v into %v", x.Shape(), shape))
	}
	return x.View(shape)
}

// Transpose permutes axes. With no axes the last two dimensions are swapped.
func (cpu *CPUBackend) Transpose(x *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := x.Shape()
	rank := len(shape)
	if len(axes) == 0 {
		if rank < 2 {
			panic(fmt.Sprintf("transpose: need at least 2 dimensions, got %v", shape))
		}
		axes = make([]int, rank)
		for i := range axes {
			axes[i] = i
		}
		axes[rank-1], axes[rank-2] = axes[rank-2], axes[rank-1]
	}
	if len(axes) != rank {
		panic(fmt.Sprintf("transpose: %d axes for %dD tensor", len(axes), rank))
	}

	seen := make([]bool, rank)
	outShape := make(tensor.Shape, rank)
	inStrides := x.Strides()
	srcStrides := make([]int, rank)
	for i, a := range axes {
		if a < 0 || a >= rank || seen[a] {
			panic(fmt.Sprintf("transpose: invalid permutation %v", axes))
		}
		seen[a] = true
		outShape[i] = shape[a]
		srcStrides[i] = inStrides[a]
	}

	result := cpu.alloc("transpose", outShape, x.DType())
	switch x.DType() {
	case tensor.Int64:
		gatherStrided(outShape, srcStrides, x.AsInt64(), result.AsInt64())
	default:
		gatherStrided(outShape, srcStrides, x.AsFloat32(), result.AsFloat32())
	}
	return result
}

// Expand broadcasts x to shape, materializing the repeated values.
func (cpu *CPUBackend) Expand(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	out, _, err := tensor.BroadcastShapes(x.Shape(), shape)
	if err != nil || !out.Equal(shape) {
		panic(fmt.Sprintf("expand: cannot expand %v to %v", x.Shape(), shape))
	}
	result := cpu.alloc("expand", shape, x.DType())
	strides := broadcastStrides(x.Shape(), shape)
	switch x.DType() {
	case tensor.Int64:
		gatherStrided(shape, strides, x.AsInt64(), result.AsInt64())
	default:
		gatherStrided(shape, strides, x.AsFloat32(), result.AsFloat32())
	}
	return result
}

// gatherStrided writes dst[i] = src[offset(i)] where offset walks outShape
// with the given source strides.
func gatherStrided[T float32 | int64](outShape tensor.Shape, srcStrides []int, src, dst []T) {
	forEachBroadcast(outShape, srcStrides, make([]int, len(outShape)), func(i, is, _ int) {
		dst[i] = src[is]
	})
}

// IndexSelect gathers slices of x along dim.
func (cpu *CPUBackend) IndexSelect(x *tensor.RawTensor, dim int, indices []int) *tensor.RawTensor {
	shape := x.Shape()
	dim = shape.NormalizeDim(dim)
	outer, size, inner := splitDim(shape, dim)
	for _, idx := range indices {
		if idx < 0 || idx >= size {
			panic(fmt.Sprintf("index_select: index %d out of range for dim %d (size %d)", idx, dim, size))
		}
	}

	outShape := shape.Clone()
	outShape[dim] = len(indices)
	result := cpu.alloc("index_select", outShape, x.DType())
	switch x.DType() {
	case tensor.Int64:
		selectRows(outer, size, inner, indices, x.AsInt64(), result.AsInt64())
	default:
		selectRows(outer, size, inner, indices, x.AsFloat32(), result.AsFloat32())
	}
	return result
}

func selectRows[T float32 | int64](outer, size, inner int, indices []int, src, dst []T) {
	n := len(indices)
	for o := 0; o < outer; o++ {
		for j, idx := range indices {
			copy(dst[(o*n+j)*inner:(o*n+j+1)*inner], src[(o*size+idx)*inner:(o*size+idx+1)*inner])
		}
	}
}

// IndexAdd scatters src back into a zero tensor of shape, summing slices that
// share an index.
func (cpu *CPUBackend) IndexAdd(shape tensor.Shape, dim int, indices []int, src *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("index_add", src)
	dim = shape.NormalizeDim(dim)
	outer, size, inner := splitDim(shape, dim)
	n := len(indices)
	if src.NumElements() != outer*n*inner {
		panic(fmt.Sprintf("index_add: source %v does not match %d indices into %v", src.Shape(), n, shape))
	}

	result := cpu.alloc("index_add", shape, tensor.Float32)
	in, out := src.AsFloat32(), result.AsFloat32()
	for o := 0; o < outer; o++ {
		for j, idx := range indices {
			s := in[(o*n+j)*inner : (o*n+j+1)*inner]
			d := out[(o*size+idx)*inner : (o*size+idx+1)*inner]
			for k, v := range s {
				d[k] += v
			}
		}
	}
	return result
}
