package ops

import (
	"fmt"

	"github.com/born-ml/capsnet/internal/tensor"
)

// ReLUOp represents output = max(0, x); grad_x = outputGrad where x > 0.
type ReLUOp struct{ node }

// NewReLUOp creates a new ReLUOp.
func NewReLUOp(x, output *tensor.RawTensor) *ReLUOp {
	return &ReLUOp{newNode(output, x)}
}

// Backward masks the gradient with the positive part of the input.
func (op *ReLUOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	x := op.inputs[0]
	result, err := tensor.NewRaw(x.Shape(), tensor.Float32, x.Device())
	if err != nil {
		panic(fmt.Sprintf("relu backward: %v", err))
	}
	in, g, out := x.AsFloat32(), outputGrad.AsFloat32(), result.AsFloat32()
	for i, v := range in {
		if v > 0 {
			out[i] = g[i]
		}
	}
	return []*tensor.RawTensor{result}
}

// SigmoidOp represents output = σ(x); grad_x = outputGrad * σ(x) * (1 - σ(x)).
type SigmoidOp struct{ node }

// NewSigmoidOp creates a new SigmoidOp.
func NewSigmoidOp(x, output *tensor.RawTensor) *SigmoidOp {
	return &SigmoidOp{newNode(output, x)}
}

// Backward computes the gradient of the sigmoid.
func (op *SigmoidOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	y := op.output
	oneMinusY := backend.AddScalar(backend.MulScalar(y, -1), 1)
	return []*tensor.RawTensor{backend.Mul(outputGrad, backend.Mul(y, oneMinusY))}
}

// SoftmaxOp represents output = softmax(x, dim).
//
// Backward pass: grad_x = y * (g - Σ_dim(g * y)).
type SoftmaxOp struct {
	node
	dim int
}

// NewSoftmaxOp creates a new SoftmaxOp.
func NewSoftmaxOp(x, output *tensor.RawTensor, dim int) *SoftmaxOp {
	return &SoftmaxOp{node: newNode(output, x), dim: dim}
}

// Backward computes the Jacobian-vector product of softmax.
func (op *SoftmaxOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	y := op.output
	dot := backend.SumDim(backend.Mul(outputGrad, y), op.dim, true)
	return []*tensor.RawTensor{backend.Mul(y, backend.Sub(outputGrad, dot))}
}

// SquashOp represents the capsule non-linearity applied along the last axis.
type SquashOp struct {
	node
	eps float32
}

// NewSquashOp creates a new SquashOp.
func NewSquashOp(x, output *tensor.RawTensor, eps float32) *SquashOp {
	return &SquashOp{node: newNode(output, x), eps: eps}
}

// Backward delegates the fused Jacobian-vector product to the backend.
func (op *SquashOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.SquashBackward(op.inputs[0], outputGrad, op.eps)}
}
