package ops

import "github.com/born-ml/capsnet/internal/tensor"

// reduceBroadcast sums a gradient back down to the shape of an operand that
// was broadcast in the forward pass.
//
//	Forward: a[3,1] + b[3,4] -> c[3,4]
//	Backward: grad_c[3,4] -> grad_a[3,1] (sum along dim 1)
func reduceBroadcast(grad *tensor.RawTensor, target tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	if grad.Shape().Equal(target) {
		return grad
	}
	if len(target) == 0 || target.NumElements() == 1 {
		return backend.Reshape(backend.Sum(grad), target)
	}

	result := grad
	for len(result.Shape()) > len(target) {
		result = backend.SumDim(result, 0, false)
	}
	for i, d := range target {
		if d == 1 && result.Shape()[i] != 1 {
			result = backend.SumDim(result, i, true)
		}
	}
	if !result.Shape().Equal(target) {
		result = backend.Reshape(result, target)
	}
	return result
}

// inversePermutation returns q such that q[p[i]] = i.
func inversePermutation(p []int) []int {
	q := make([]int, len(p))
	for i, a := range p {
		q[a] = i
	}
	return q
}
