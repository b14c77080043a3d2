package caps

import (
	"fmt"
	"math"

	"github.com/born-ml/capsnet/internal/nn"
	"github.com/born-ml/capsnet/internal/tensor"
)

// emEpsilon guards every log and division in EM routing.
const emEpsilon float32 = 1e-6

// poseSize is the number of entries of a 4×4 pose matrix.
const poseSize = 16

// EMRouting clusters the votes of I input capsules into J output capsules
// with a Gaussian mixture per output capsule.
//
// Responsibilities start uniform (R = 1/J). The M-step fits mean and variance
// per output capsule and activates it with
//
//	a_j = sigmoid(λ(β_a + (mean(cost) − cost_j)/std(cost)))
//
// where cost_j = Σ_h (β_u + ln σ_jh)·Σ_i R_ij·a_i. The E-step between rounds
// recomputes R_ij = softmax_j(ln p_ij + ln a_j).
type EMRouting[B tensor.Backend] struct {
	numCaps    int
	iterations int
	betaU      *nn.Parameter[B] // [1, 1, J, 1]
	betaA      *nn.Parameter[B] // [1, 1, J]
	observer   RoutingObserver
}

// NewEMRouting creates an EM-routing procedure for numCaps output capsules.
func NewEMRouting[B tensor.Backend](numCaps, iterations int, backend B) (*EMRouting[B], error) {
	if numCaps <= 0 {
		return nil, fmt.Errorf("em routing: number of output capsules must be positive, got %d", numCaps)
	}
	if iterations < 1 {
		return nil, fmt.Errorf("em routing: need at least one iteration, got %d", iterations)
	}
	return &EMRouting[B]{
		numCaps:    numCaps,
		iterations: iterations,
		betaU:      nn.NewParameter("beta_u", nn.Zeros(tensor.Shape{1, 1, numCaps, 1}, backend)),
		betaA:      nn.NewParameter("beta_a", nn.Zeros(tensor.Shape{1, 1, numCaps}, backend)),
	}, nil
}

// SetObserver installs a hook called with the responsibilities used by every
// M-step.
func (e *EMRouting[B]) SetObserver(observer RoutingObserver) {
	e.observer = observer
}

// Forward routes votes [N, I, J, 16] weighted by activations [N, I] and
// returns poses [N, J, 16] and activations [N, J].
func (e *EMRouting[B]) Forward(votes, activations *tensor.Tensor[float32, B], lambda float32) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]) {
	vs := votes.Shape()
	if len(vs) != 4 || vs[2] != e.numCaps || vs[3] != poseSize {
		panic(fmt.Sprintf("EMRouting.Forward: expected votes [N, I, %d, %d], got %v", e.numCaps, poseSize, vs))
	}
	n, in, j := vs[0], vs[1], vs[2]
	if as := activations.Shape(); len(as) != 2 || as[0] != n || as[1] != in {
		panic(fmt.Sprintf("EMRouting.Forward: expected activations [%d, %d], got %v", n, in, as))
	}

	invJ := 1 / float32(j)
	lnTwoPi := float32(0.5 * poseSize * math.Log(2*math.Pi))

	r := tensor.Full[float32](tensor.Shape{n, in, j}, invJ, votes.Backend())
	aIn := activations.Reshape(n, in, 1)

	for it := 0; ; it++ {
		if e.observer != nil {
			e.observer(it, r.Raw())
		}

		// M-step.
		ra := r.Mul(aIn)           // [N, I, J]
		rSum := ra.SumDim(1, true) // [N, 1, J]
		coeff := ra.Div(rSum.AddScalar(emEpsilon)).Reshape(n, in, j, 1)
		mu := coeff.Mul(votes).SumDim(1, true) // [N, 1, J, 16]
		diff := votes.Sub(mu)
		diff2 := diff.Mul(diff)
		sigma2 := coeff.Mul(diff2).SumDim(1, true).AddScalar(emEpsilon)
		logSigma := sigma2.Log().MulScalar(0.5)

		cost := e.betaU.Tensor().Add(logSigma).Mul(rSum.Reshape(n, 1, j, 1)).SumDim(3, false) // [N, 1, J]
		costMean := cost.SumDim(2, true).MulScalar(invJ)
		centered := cost.Sub(costMean)
		costStd := centered.Mul(centered).SumDim(2, true).MulScalar(invJ).AddScalar(emEpsilon).Sqrt()
		logits := e.betaA.Tensor().Sub(centered.Div(costStd.AddScalar(emEpsilon)))
		aOut := logits.MulScalar(lambda).Sigmoid() // [N, 1, J]

		if it == e.iterations-1 {
			return mu.Reshape(n, j, poseSize), aOut.Reshape(n, j)
		}

		// E-step.
		lnP := diff2.Div(sigma2).SumDim(3, false).MulScalar(-0.5) // [N, I, J]
		lnP = lnP.Sub(logSigma.SumDim(3, false)).AddScalar(-lnTwoPi)
		r = lnP.Add(aOut.AddScalar(emEpsilon).Log()).Softmax(2)
	}
}

// Parameters returns [beta_u, beta_a].
func (e *EMRouting[B]) Parameters() []*nn.Parameter[B] {
	return []*nn.Parameter[B]{e.betaU, e.betaA}
}

// StateDict returns {"beta_u", "beta_a"}.
func (e *EMRouting[B]) StateDict() map[string]*tensor.RawTensor {
	return nn.ParametersStateDict(e.betaU, e.betaA)
}

// LoadStateDict restores the learned costs.
func (e *EMRouting[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return nn.LoadParameters(stateDict, e.betaU, e.betaA)
}
