package model

import (
	"github.com/born-ml/capsnet/internal/nn"
	"github.com/born-ml/capsnet/internal/tensor"
)

// newDecoder builds the reconstruction network
// Linear → ReLU → Linear → ReLU → Linear → Sigmoid.
func newDecoder[B tensor.Backend](inFeatures, out1, out2, imageSize int, backend B) *nn.Sequential[B] {
	return nn.NewSequential[B](
		nn.NewLinear(inFeatures, out1, backend),
		nn.NewReLU[B](),
		nn.NewLinear(out1, out2, backend),
		nn.NewReLU[B](),
		nn.NewLinear(out2, imageSize, backend),
		nn.NewSigmoid[B](),
	)
}

// winners returns the arg-max class of every row of preds [N, classes].
func winners[B tensor.Backend](preds *tensor.Tensor[float32, B]) []int {
	idx := preds.Argmax(1).Data()
	out := make([]int, len(idx))
	for i, v := range idx {
		out[i] = int(v)
	}
	return out
}

// reconstruct masks every pose but the winning class's, flattens the result
// and decodes it to an image batch of the given shape.
func reconstruct[B tensor.Backend](decoder *nn.Sequential[B], poses, preds *tensor.Tensor[float32, B], imageShape []int) *tensor.Tensor[float32, B] {
	s := poses.Shape()
	n, classes := s[0], s[1]

	eye := tensor.Eye[float32](classes, poses.Backend())
	mask := eye.IndexSelect(0, winners(preds)).Reshape(n, classes, 1)
	flat := poses.Mul(mask).Reshape(n, -1)

	return decoder.Forward(flat).Reshape(n, imageShape[0], imageShape[1], imageShape[2])
}
