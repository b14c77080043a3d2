package caps

import (
	"fmt"

	"github.com/born-ml/capsnet/internal/nn"
	"github.com/born-ml/capsnet/internal/tensor"
)

// Matrix capsule layers keep poses in NHWC order: poses [N, H, W, caps, 16]
// and activations [N, H, W, caps].

// PrimaryMatrixCapsules derives B capsule types per position from a feature
// map with two 1×1 convolutions: one for the 4×4 poses and one, followed by a
// sigmoid, for the activations.
type PrimaryMatrixCapsules[B tensor.Backend] struct {
	numCaps    int
	pose       *nn.Conv2D[B]
	activation *nn.Conv2D[B]
}

// NewPrimaryMatrixCapsules creates the primary matrix capsule layer.
func NewPrimaryMatrixCapsules[B tensor.Backend](inChannels, numCaps int, backend B) (*PrimaryMatrixCapsules[B], error) {
	if inChannels <= 0 || numCaps <= 0 {
		return nil, fmt.Errorf("primary matrix capsules: invalid geometry in=%d caps=%d", inChannels, numCaps)
	}
	return &PrimaryMatrixCapsules[B]{
		numCaps:    numCaps,
		pose:       nn.NewConv2D(inChannels, numCaps*poseSize, 1, 1, 0, backend),
		activation: nn.NewConv2D(inChannels, numCaps, 1, 1, 0, backend),
	}, nil
}

// Forward maps [N, C, H, W] to poses [N, H, W, B, 16] and activations [N, H, W, B].
func (p *PrimaryMatrixCapsules[B]) Forward(x *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]) {
	s := x.Shape()
	n, h, w := s[0], s[2], s[3]
	poses := p.pose.Forward(x).Transpose(0, 2, 3, 1).Reshape(n, h, w, p.numCaps, poseSize)
	acts := p.activation.Forward(x).Sigmoid().Transpose(0, 2, 3, 1)
	return poses, acts
}

// Parameters returns the pose and activation convolution parameters.
func (p *PrimaryMatrixCapsules[B]) Parameters() []*nn.Parameter[B] {
	return append(p.pose.Parameters(), p.activation.Parameters()...)
}

// StateDict returns the parameters under "pose." and "activation.".
func (p *PrimaryMatrixCapsules[B]) StateDict() map[string]*tensor.RawTensor {
	dict := make(map[string]*tensor.RawTensor)
	nn.MergeStateDict(dict, "pose", p.pose.StateDict())
	nn.MergeStateDict(dict, "activation", p.activation.StateDict())
	return dict
}

// LoadStateDict restores both convolutions.
func (p *PrimaryMatrixCapsules[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if err := p.pose.LoadStateDict(nn.SubStateDict(stateDict, "pose")); err != nil {
		return fmt.Errorf("pose: %w", err)
	}
	if err := p.activation.LoadStateDict(nn.SubStateDict(stateDict, "activation")); err != nil {
		return fmt.Errorf("activation: %w", err)
	}
	return nil
}

// ConvCapsules is a convolutional capsule layer: every K×K window of input
// capsules votes for the output capsules at that position through learned
// 4×4 transforms, and the votes are combined with EM routing.
type ConvCapsules[B tensor.Backend] struct {
	inCaps     int
	outCaps    int
	kernelSize int
	stride     int
	weight     *nn.Parameter[B] // [K·K·in, 4, out·4]
	routing    *EMRouting[B]
}

// NewConvCapsules creates a convolutional capsule layer.
func NewConvCapsules[B tensor.Backend](inCaps, outCaps, kernelSize, stride, iterations int, backend B) (*ConvCapsules[B], error) {
	if inCaps <= 0 || outCaps <= 0 || kernelSize <= 0 || stride <= 0 {
		return nil, fmt.Errorf("conv capsules: invalid geometry in=%d out=%d kernel=%d stride=%d",
			inCaps, outCaps, kernelSize, stride)
	}
	routing, err := NewEMRouting(outCaps, iterations, backend)
	if err != nil {
		return nil, fmt.Errorf("conv capsules: %w", err)
	}
	k := kernelSize * kernelSize * inCaps
	return &ConvCapsules[B]{
		inCaps:     inCaps,
		outCaps:    outCaps,
		kernelSize: kernelSize,
		stride:     stride,
		weight:     nn.NewParameter("weight", nn.Normal(0.5, tensor.Shape{k, 4, outCaps * 4}, backend)),
		routing:    routing,
	}, nil
}

// OutputSize returns the spatial output size for an h×w capsule grid.
func (c *ConvCapsules[B]) OutputSize(h, w int) (int, int) {
	return nn.ConvOutputSize(h, c.kernelSize, c.stride, 0), nn.ConvOutputSize(w, c.kernelSize, c.stride, 0)
}

// Routing returns the EM routing procedure of the layer.
func (c *ConvCapsules[B]) Routing() *EMRouting[B] {
	return c.routing
}

// Forward maps poses [N, H, W, in, 16] and activations [N, H, W, in] to
// poses [N, H', W', out, 16] and activations [N, H', W', out].
func (c *ConvCapsules[B]) Forward(poses, acts *tensor.Tensor[float32, B], lambda float32) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]) {
	s := poses.Shape()
	if len(s) != 5 || s[3] != c.inCaps || s[4] != poseSize {
		panic(fmt.Sprintf("ConvCapsules.Forward: expected poses [N, H, W, %d, %d], got %v", c.inCaps, poseSize, s))
	}
	n, h, w := s[0], s[1], s[2]
	oh, ow := c.OutputSize(h, w)
	if oh <= 0 || ow <= 0 {
		panic(fmt.Sprintf("ConvCapsules.Forward: %dx%d grid is too small for kernel %d", h, w, c.kernelSize))
	}

	idx := windowIndices(w, oh, ow, c.kernelSize, c.stride)
	kk := c.kernelSize * c.kernelSize
	windows := n * oh * ow

	p := poses.Reshape(n, h*w, c.inCaps*poseSize).IndexSelect(1, idx).Reshape(windows, kk*c.inCaps, poseSize)
	a := acts.Reshape(n, h*w, c.inCaps).IndexSelect(1, idx).Reshape(windows, kk*c.inCaps)

	votes := computeVotes(p, c.weight.Tensor(), c.outCaps)
	outPoses, outActs := c.routing.Forward(votes, a, lambda)
	return outPoses.Reshape(n, oh, ow, c.outCaps, poseSize), outActs.Reshape(n, oh, ow, c.outCaps)
}

// Parameters returns [weight, beta_u, beta_a].
func (c *ConvCapsules[B]) Parameters() []*nn.Parameter[B] {
	return append([]*nn.Parameter[B]{c.weight}, c.routing.Parameters()...)
}

// StateDict returns the transform and routing parameters.
func (c *ConvCapsules[B]) StateDict() map[string]*tensor.RawTensor {
	dict := nn.ParametersStateDict(c.weight)
	nn.MergeStateDict(dict, "routing", c.routing.StateDict())
	return dict
}

// LoadStateDict restores the transform and routing parameters.
func (c *ConvCapsules[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if err := nn.LoadParameters(stateDict, c.weight); err != nil {
		return err
	}
	return c.routing.LoadStateDict(nn.SubStateDict(stateDict, "routing"))
}

// ClassCapsules routes every capsule of the last convolutional capsule layer
// into one capsule per class. Transforms are shared across positions and the
// scaled centre of each position is added to the first two vote entries.
type ClassCapsules[B tensor.Backend] struct {
	inCaps     int
	numClasses int
	weight     *nn.Parameter[B] // [in, 4, classes·4]
	routing    *EMRouting[B]
}

// NewClassCapsules creates the class capsule layer.
func NewClassCapsules[B tensor.Backend](inCaps, numClasses, iterations int, backend B) (*ClassCapsules[B], error) {
	if inCaps <= 0 || numClasses <= 0 {
		return nil, fmt.Errorf("class capsules: invalid geometry in=%d classes=%d", inCaps, numClasses)
	}
	routing, err := NewEMRouting(numClasses, iterations, backend)
	if err != nil {
		return nil, fmt.Errorf("class capsules: %w", err)
	}
	return &ClassCapsules[B]{
		inCaps:     inCaps,
		numClasses: numClasses,
		weight:     nn.NewParameter("weight", nn.Normal(0.5, tensor.Shape{inCaps, 4, numClasses * 4}, backend)),
		routing:    routing,
	}, nil
}

// Routing returns the EM routing procedure of the layer.
func (c *ClassCapsules[B]) Routing() *EMRouting[B] {
	return c.routing
}

// Forward maps poses [N, H, W, in, 16] and activations [N, H, W, in] to class
// poses [N, classes, 16] and class activations [N, classes].
func (c *ClassCapsules[B]) Forward(poses, acts *tensor.Tensor[float32, B], lambda float32) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]) {
	s := poses.Shape()
	if len(s) != 5 || s[3] != c.inCaps || s[4] != poseSize {
		panic(fmt.Sprintf("ClassCapsules.Forward: expected poses [N, H, W, %d, %d], got %v", c.inCaps, poseSize, s))
	}
	n, h, w := s[0], s[1], s[2]

	votes := computeVotes(poses.Reshape(n*h*w, c.inCaps, poseSize), c.weight.Tensor(), c.numClasses)
	coords := tensor.MustFromSlice(coordinates(h, w), tensor.Shape{1, h * w, 1, 1, poseSize}, poses.Backend())
	votes = votes.Reshape(n, h*w, c.inCaps, c.numClasses, poseSize).Add(coords).
		Reshape(n, h*w*c.inCaps, c.numClasses, poseSize)

	return c.routing.Forward(votes, acts.Reshape(n, h*w*c.inCaps), lambda)
}

// Parameters returns [weight, beta_u, beta_a].
func (c *ClassCapsules[B]) Parameters() []*nn.Parameter[B] {
	return append([]*nn.Parameter[B]{c.weight}, c.routing.Parameters()...)
}

// StateDict returns the transform and routing parameters.
func (c *ClassCapsules[B]) StateDict() map[string]*tensor.RawTensor {
	dict := nn.ParametersStateDict(c.weight)
	nn.MergeStateDict(dict, "routing", c.routing.StateDict())
	return dict
}

// LoadStateDict restores the transform and routing parameters.
func (c *ClassCapsules[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if err := nn.LoadParameters(stateDict, c.weight); err != nil {
		return err
	}
	return c.routing.LoadStateDict(nn.SubStateDict(stateDict, "routing"))
}

// computeVotes multiplies every pose p [M, I, 16] (as 4×4) by the transforms
// w [I, 4, J·4] shared across M, giving votes [M, I, J, 16].
func computeVotes[B tensor.Backend](p, w *tensor.Tensor[float32, B], numOut int) *tensor.Tensor[float32, B] {
	s := p.Shape()
	m, in := s[0], s[1]
	rows := p.Reshape(m, in, 4, 4).Transpose(1, 0, 2, 3).Reshape(in, m*4, 4)
	v := rows.BatchMatMul(w) // [I, M·4, J·4]
	return v.Reshape(in, m, 4, numOut, 4).Transpose(1, 0, 3, 2, 4).Reshape(m, in, numOut, poseSize)
}

// windowIndices lists, for every output position and kernel offset, the
// flattened input position it reads.
func windowIndices(w, oh, ow, kernel, stride int) []int {
	idx := make([]int, 0, oh*ow*kernel*kernel)
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			for ky := 0; ky < kernel; ky++ {
				for kx := 0; kx < kernel; kx++ {
					idx = append(idx, (y*stride+ky)*w+(x*stride+kx))
				}
			}
		}
	}
	return idx
}

// coordinates returns the [H·W, 16] offsets added to class votes: the scaled
// row and column centre of each position in the first two entries.
func coordinates(h, w int) []float32 {
	out := make([]float32, h*w*poseSize)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			base := (y*w + x) * poseSize
			out[base] = (float32(y) + 0.5) / float32(h)
			out[base+1] = (float32(x) + 0.5) / float32(w)
		}
	}
	return out
}
