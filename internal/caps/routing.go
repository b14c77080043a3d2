package caps

import (
	"fmt"

	"github.com/born-ml/capsnet/internal/nn"
	"github.com/born-ml/capsnet/internal/tensor"
)

// RoutingCapsules implements routing-by-agreement between a layer of input
// capsules and one output capsule per class.
//
// Predictions û_{j|i} = W_ij·u_i come from a learned transform
// W [in_caps, num_caps·out_dim, in_dim]. Each round computes
//
//	c = softmax_j(b)
//	s_j = Σ_i c_ij·û_{j|i}
//	v_j = squash(s_j)
//	b_ij += û_{j|i}·v_j   (all rounds but the last)
//
// Only the final round back-propagates into W; earlier rounds work on a
// detached copy of û.
type RoutingCapsules[B tensor.Backend] struct {
	inDim      int
	inCaps     int
	numCaps    int
	outDim     int
	iterations int
	weight     *nn.Parameter[B]
	observer   RoutingObserver
}

// NewRoutingCapsules creates a dynamic-routing layer. W is initialized from
// 0.01·N(0, 1).
func NewRoutingCapsules[B tensor.Backend](inDim, inCaps, numCaps, outDim, iterations int, backend B) (*RoutingCapsules[B], error) {
	if inDim <= 0 || inCaps <= 0 || numCaps <= 0 || outDim <= 0 {
		return nil, fmt.Errorf("routing capsules: invalid geometry in_dim=%d in_caps=%d num_caps=%d out_dim=%d",
			inDim, inCaps, numCaps, outDim)
	}
	if iterations < 1 {
		return nil, fmt.Errorf("routing capsules: need at least one routing iteration, got %d", iterations)
	}
	w := nn.Normal(0.01, tensor.Shape{inCaps, numCaps * outDim, inDim}, backend)
	return &RoutingCapsules[B]{
		inDim:      inDim,
		inCaps:     inCaps,
		numCaps:    numCaps,
		outDim:     outDim,
		iterations: iterations,
		weight:     nn.NewParameter("weight", w),
	}, nil
}

// SetObserver installs a hook called with the coupling coefficients of every
// round. Pass nil to remove it.
func (r *RoutingCapsules[B]) SetObserver(observer RoutingObserver) {
	r.observer = observer
}

// Forward routes u [N, in_caps, in_dim] to v [N, num_caps, out_dim].
func (r *RoutingCapsules[B]) Forward(u *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := u.Shape()
	if len(shape) != 3 || shape[1] != r.inCaps || shape[2] != r.inDim {
		panic(fmt.Sprintf("RoutingCapsules.Forward: expected [N, %d, %d], got %v", r.inCaps, r.inDim, shape))
	}
	batch := shape[0]

	// [in, C·D, in_dim] @ [in, in_dim, N] → [in, C·D, N] → [N, in, C, D]
	uHat := r.weight.Tensor().BatchMatMul(u.Transpose(1, 2, 0)).
		Transpose(2, 0, 1).
		Reshape(batch, r.inCaps, r.numCaps, r.outDim)
	detached := uHat.Detach()

	logits := tensor.Zeros[float32](tensor.Shape{batch, r.inCaps, r.numCaps}, u.Backend())
	var v *tensor.Tensor[float32, B]
	for i := 0; i < r.iterations; i++ {
		last := i == r.iterations-1
		c := logits.Softmax(2)
		if r.observer != nil {
			r.observer(i, c.Raw())
		}

		preds := detached
		if last {
			preds = uHat
		}
		s := c.Reshape(batch, r.inCaps, r.numCaps, 1).Mul(preds).SumDim(1, false)
		v = Squash(s)

		if !last {
			agreement := detached.Mul(v.Reshape(batch, 1, r.numCaps, r.outDim)).SumDim(3, false)
			logits = logits.Add(agreement)
		}
	}
	return v
}

// Parameters returns [weight].
func (r *RoutingCapsules[B]) Parameters() []*nn.Parameter[B] {
	return []*nn.Parameter[B]{r.weight}
}

// StateDict returns {"weight"}.
func (r *RoutingCapsules[B]) StateDict() map[string]*tensor.RawTensor {
	return nn.ParametersStateDict(r.weight)
}

// LoadStateDict restores the transformation weights.
func (r *RoutingCapsules[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return nn.LoadParameters(stateDict, r.weight)
}

func (r *RoutingCapsules[B]) String() string {
	return fmt.Sprintf("RoutingCapsules(in=%d×%d, out=%d×%d, iterations=%d)",
		r.inCaps, r.inDim, r.numCaps, r.outDim, r.iterations)
}
