// Package caps implements the capsule layers and routing algorithms:
//   - Squash and capsule lengths
//   - PrimaryCapsules and RoutingCapsules (dynamic routing between capsules)
//   - PrimaryMatrixCapsules, ConvCapsules, ClassCapsules and EMRouting
//     (matrix capsules with EM routing)
//
// Layers are stateless across forward passes: routing logits and
// responsibilities are rebuilt on every call and only the transformation
// weights are learned.
package caps

import (
	"github.com/born-ml/capsnet/internal/tensor"
)

// Epsilon guards the vector norm in Squash and Length.
const Epsilon float32 = 1e-8

// RoutingObserver receives the coupling coefficients (dynamic routing) or
// responsibilities (EM routing) computed in every routing round.
// The tensor has shape [batch, in_caps, out_caps] and must not be retained.
type RoutingObserver func(iteration int, coupling *tensor.RawTensor)

// Squash scales every vector along the last axis to length ‖s‖²/(1+‖s‖²).
func Squash[B tensor.Backend](s *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return s.Squash(Epsilon)
}

// Length returns sqrt(Σ v² + ε) over the last axis.
func Length[B tensor.Backend](v *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return v.Mul(v).SumDim(-1, false).AddScalar(Epsilon).Sqrt()
}
