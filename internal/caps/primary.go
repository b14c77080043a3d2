package caps

import (
	"fmt"

	"github.com/born-ml/capsnet/internal/nn"
	"github.com/born-ml/capsnet/internal/tensor"
)

// PrimaryCapsules turns a feature map into squashed capsule vectors.
//
// A stride-2 convolution produces [N, C, H', W'], which is viewed as
// [N, C·H'·W'/dim, dim] and squashed.
type PrimaryCapsules[B tensor.Backend] struct {
	conv *nn.Conv2D[B]
	dim  int
}

// NewPrimaryCapsules creates the primary capsule layer.
func NewPrimaryCapsules[B tensor.Backend](inChannels, outChannels, dim, kernelSize int, backend B) (*PrimaryCapsules[B], error) {
	if inChannels <= 0 || outChannels <= 0 || kernelSize <= 0 {
		return nil, fmt.Errorf("primary capsules: invalid conv geometry in=%d out=%d kernel=%d",
			inChannels, outChannels, kernelSize)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("primary capsules: capsule dimension must be positive, got %d", dim)
	}
	return &PrimaryCapsules[B]{
		conv: nn.NewConv2D(inChannels, outChannels, kernelSize, 2, 0, backend),
		dim:  dim,
	}, nil
}

// NumCapsules returns the number of capsules produced for an h×w input, or
// an error when the convolution output cannot be split into capsules.
func (p *PrimaryCapsules[B]) NumCapsules(h, w int) (int, error) {
	oh, ow := p.conv.OutputSize(h, w)
	if oh <= 0 || ow <= 0 {
		return 0, fmt.Errorf("primary capsules: %dx%d feature map is too small for the kernel", h, w)
	}
	total := p.conv.OutChannels() * oh * ow
	if total%p.dim != 0 {
		return 0, fmt.Errorf("primary capsules: %d outputs (%d×%d×%d) not divisible by capsule dimension %d",
			total, p.conv.OutChannels(), oh, ow, p.dim)
	}
	return total / p.dim, nil
}

// Forward maps [N, C_in, H, W] to [N, num_capsules, dim].
func (p *PrimaryCapsules[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	out := p.conv.Forward(x)
	return Squash(out.Reshape(out.Shape()[0], -1, p.dim))
}

// Dim returns the capsule dimension.
func (p *PrimaryCapsules[B]) Dim() int {
	return p.dim
}

// Parameters returns the convolution parameters.
func (p *PrimaryCapsules[B]) Parameters() []*nn.Parameter[B] {
	return p.conv.Parameters()
}

// StateDict returns {"conv.weight", "conv.bias"}.
func (p *PrimaryCapsules[B]) StateDict() map[string]*tensor.RawTensor {
	dict := make(map[string]*tensor.RawTensor)
	nn.MergeStateDict(dict, "conv", p.conv.StateDict())
	return dict
}

// LoadStateDict restores the convolution parameters.
func (p *PrimaryCapsules[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return p.conv.LoadStateDict(nn.SubStateDict(stateDict, "conv"))
}

func (p *PrimaryCapsules[B]) String() string {
	return fmt.Sprintf("PrimaryCapsules(%s, dim=%d)", p.conv, p.dim)
}
