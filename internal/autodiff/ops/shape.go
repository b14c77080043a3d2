package ops

import "github.com/born-ml/capsnet/internal/tensor"

// ReshapeOp represents a reshape; the gradient is reshaped back.
type ReshapeOp struct{ node }

// NewReshapeOp creates a new ReshapeOp.
func NewReshapeOp(x, output *tensor.RawTensor) *ReshapeOp {
	return &ReshapeOp{newNode(output, x)}
}

// Backward reshapes the gradient to the input shape.
func (op *ReshapeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Reshape(outputGrad, op.inputs[0].Shape())}
}

// TransposeOp represents an axis permutation; the gradient is permuted back.
type TransposeOp struct {
	node
	axes []int
}

// NewTransposeOp creates a new TransposeOp. Empty axes swap the last two.
func NewTransposeOp(x, output *tensor.RawTensor, axes []int) *TransposeOp {
	if len(axes) == 0 {
		rank := len(x.Shape())
		axes = make([]int, rank)
		for i := range axes {
			axes[i] = i
		}
		axes[rank-1], axes[rank-2] = axes[rank-2], axes[rank-1]
	}
	return &TransposeOp{node: newNode(output, x), axes: axes}
}

// Backward applies the inverse permutation.
func (op *TransposeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Transpose(outputGrad, inversePermutation(op.axes)...)}
}

// ExpandOp represents a broadcast; the gradient is summed back.
type ExpandOp struct{ node }

// NewExpandOp creates a new ExpandOp.
func NewExpandOp(x, output *tensor.RawTensor) *ExpandOp {
	return &ExpandOp{newNode(output, x)}
}

// Backward reduces the gradient over the broadcast dimensions.
func (op *ExpandOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{reduceBroadcast(outputGrad, op.inputs[0].Shape(), backend)}
}

// IndexSelectOp represents a gather along dim. Its adjoint is a scatter-add,
// so indices selected more than once accumulate their gradients.
type IndexSelectOp struct {
	node
	dim     int
	indices []int
}

// NewIndexSelectOp creates a new IndexSelectOp.
func NewIndexSelectOp(x, output *tensor.RawTensor, dim int, indices []int) *IndexSelectOp {
	return &IndexSelectOp{node: newNode(output, x), dim: dim, indices: indices}
}

// Backward scatters the gradient back to the selected positions.
func (op *IndexSelectOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.IndexAdd(op.inputs[0].Shape(), op.dim, op.indices, outputGrad)}
}
