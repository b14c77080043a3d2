// Package ops defines the differentiable operations recorded on a gradient tape.
//
// Each operation keeps references to its inputs and output from the forward
// pass and turns an output gradient into input gradients:
//   - AddOp, SubOp, MulOp, DivOp: element-wise arithmetic with broadcasting
//   - AddScalarOp, MulScalarOp: scalar arithmetic
//   - ExpOp, LogOp, SqrtOp: element-wise math
//   - ReLUOp, SigmoidOp, SoftmaxOp, SquashOp: activations
//   - SumOp, SumDimOp: reductions
//   - MatMulOp, BatchMatMulOp, Conv2DOp: linear maps
//   - ReshapeOp, TransposeOp, ExpandOp, IndexSelectOp: data movement
package ops

import "github.com/born-ml/capsnet/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// The result is aligned with Inputs(); a nil entry means no gradient.
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}

// node carries the bookkeeping shared by every operation.
type node struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
}

func newNode(output *tensor.RawTensor, inputs ...*tensor.RawTensor) node {
	return node{inputs: inputs, output: output}
}

// Inputs returns the input tensors.
func (n *node) Inputs() []*tensor.RawTensor {
	return n.inputs
}

// Output returns the output tensor.
func (n *node) Output() *tensor.RawTensor {
	return n.output
}
