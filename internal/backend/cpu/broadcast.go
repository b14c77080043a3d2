package cpu

import "github.com/born-ml/capsnet/internal/tensor"

// broadcastStrides returns strides of inShape aligned to outShape, with 0 for
// padded and size-1 dimensions.
func broadcastStrides(inShape, outShape tensor.Shape) []int {
	strides := make([]int, len(outShape))
	offset := len(outShape) - len(inShape)
	orig := inShape.ComputeStrides()
	for i := range outShape {
		j := i - offset
		if j < 0 || inShape[j] == 1 {
			continue
		}
		strides[i] = orig[j]
	}
	return strides
}

// forEachBroadcast walks outShape in row-major order, tracking the matching
// flat offsets into two broadcast operands.
func forEachBroadcast(outShape tensor.Shape, aStrides, bStrides []int, f func(i, ia, ib int)) {
	rank := len(outShape)
	idx := make([]int, rank)
	ia, ib := 0, 0
	n := outShape.NumElements()
	for i := 0; i < n; i++ {
		f(i, ia, ib)
		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			ia += aStrides[d]
			ib += bStrides[d]
			if idx[d] < outShape[d] {
				break
			}
			ia -= aStrides[d] * outShape[d]
			ib -= bStrides[d] * outShape[d]
			idx[d] = 0
		}
	}
}

func (cpu *CPUBackend) binary(op string, a, b *tensor.RawTensor, f func(x, y float32) float32) *tensor.RawTensor {
	requireFloat32(op, a, b)
	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(op + ": " + err.Error())
	}

	result := cpu.alloc(op, outShape, tensor.Float32)
	out := result.AsFloat32()
	ad, bd := a.AsFloat32(), b.AsFloat32()

	switch {
	case !needsBroadcast:
		for i := range out {
			out[i] = f(ad[i], bd[i])
		}
	case len(bd) == 1:
		s := bd[0]
		for i := range out {
			out[i] = f(ad[i%len(ad)], s)
		}
	case len(ad) == 1:
		s := ad[0]
		for i := range out {
			out[i] = f(s, bd[i%len(bd)])
		}
	default:
		as := broadcastStrides(a.Shape(), outShape)
		bs := broadcastStrides(b.Shape(), outShape)
		forEachBroadcast(outShape, as, bs, func(i, ia, ib int) {
			out[i] = f(ad[ia], bd[ib])
		})
	}
	return result
}
