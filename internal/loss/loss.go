// Package loss implements the capsule network training objective: a
// classification term (margin, spread or cross-entropy) plus a scaled
// reconstruction term.
package loss

import (
	"fmt"

	"github.com/born-ml/capsnet/internal/tensor"
)

// Margin loss constants.
const (
	UpperMargin = 0.9
	LowerMargin = 0.1
	DownWeight  = 0.5
)

// ReconstructionScale down-weights the reconstruction term so it does not
// dominate the classification term.
const ReconstructionScale = 0.0005

const logEpsilon = 1e-9

// Criterion computes the total loss for one batch.
type Criterion[B tensor.Backend] struct {
	kind          Kind
	dynamicMargin bool
}

// New creates a criterion. With dynamicMargin the margin passed to Compute
// replaces UpperMargin in the margin loss; the spread loss always uses it.
func New[B tensor.Backend](kind Kind, dynamicMargin bool) *Criterion[B] {
	return &Criterion[B]{kind: kind, dynamicMargin: dynamicMargin}
}

// Kind returns the classification term in use.
func (c *Criterion[B]) Kind() Kind {
	return c.kind
}

// Compute returns classification(preds, onehot, m) + reconstruction(images,
// reconstructions) as a scalar tensor.
//
// preds and onehot are [N, classes]; images and reconstructions share the
// shape [N, C, H, W].
func (c *Criterion[B]) Compute(preds, onehot, images, reconstructions *tensor.Tensor[float32, B], m float32) *tensor.Tensor[float32, B] {
	return c.Classification(preds, onehot, m).Add(Reconstruction(images, reconstructions))
}

// Classification returns the classification term averaged over the batch.
func (c *Criterion[B]) Classification(preds, onehot *tensor.Tensor[float32, B], m float32) *tensor.Tensor[float32, B] {
	if !preds.Shape().Equal(onehot.Shape()) || len(preds.Shape()) != 2 {
		panic(fmt.Sprintf("loss: predictions %v and labels %v must both be [N, classes]", preds.Shape(), onehot.Shape()))
	}
	switch c.kind {
	case MarginLoss:
		upper := float32(UpperMargin)
		if c.dynamicMargin {
			upper = m
		}
		return Margin(preds, onehot, upper, LowerMargin, DownWeight)
	case SpreadLoss:
		return Spread(preds, onehot, m)
	case CrossEntropyLoss:
		return CrossEntropy(preds, onehot)
	default:
		panic(fmt.Sprintf("loss: unsupported kind %v", c.kind))
	}
}

// Margin returns
//
//	Σ_k T_k·max(0, m⁺ − ‖v_k‖)² + λ·(1 − T_k)·max(0, ‖v_k‖ − m⁻)²
//
// averaged over the batch.
func Margin[B tensor.Backend](lengths, onehot *tensor.Tensor[float32, B], upper, lower, downWeight float32) *tensor.Tensor[float32, B] {
	present := lengths.MulScalar(-1).AddScalar(upper).ReLU()
	absent := lengths.AddScalar(-lower).ReLU()
	absentMask := onehot.MulScalar(-1).AddScalar(1)

	l := onehot.Mul(present.Mul(present)).
		Add(absentMask.Mul(absent.Mul(absent)).MulScalar(downWeight))
	return batchMean(l)
}

// Spread returns Σ_{k≠t} max(0, m − (a_t − a_k))² averaged over the batch.
func Spread[B tensor.Backend](activations, onehot *tensor.Tensor[float32, B], m float32) *tensor.Tensor[float32, B] {
	target := activations.Mul(onehot).SumDim(1, true) // [N, 1]
	gap := activations.Sub(target).AddScalar(m).ReLU()
	others := onehot.MulScalar(-1).AddScalar(1)
	return batchMean(gap.Mul(gap).Mul(others))
}

// CrossEntropy returns −Σ_k T_k·log softmax(a)_k averaged over the batch.
func CrossEntropy[B tensor.Backend](logits, onehot *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	logProbs := logits.Softmax(1).AddScalar(logEpsilon).Log()
	return batchMean(onehot.Mul(logProbs)).MulScalar(-1)
}

// Reconstruction returns ReconstructionScale·Σ (r − x)² averaged over the
// batch. It is zero iff reconstructions equal images.
func Reconstruction[B tensor.Backend](images, reconstructions *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if !images.Shape().Equal(reconstructions.Shape()) {
		panic(fmt.Sprintf("loss: reconstructions %v do not match images %v", reconstructions.Shape(), images.Shape()))
	}
	diff := reconstructions.Sub(images)
	return batchMean(diff.Mul(diff)).MulScalar(ReconstructionScale)
}

// batchMean sums every element and divides by the batch size.
func batchMean[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return x.Sum().MulScalar(1 / float32(x.Shape()[0]))
}
