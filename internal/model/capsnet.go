package model

import (
	"fmt"
	"strings"

	"github.com/born-ml/capsnet/internal/caps"
	"github.com/born-ml/capsnet/internal/nn"
	"github.com/born-ml/capsnet/internal/tensor"
)

// CapsuleNetwork is the NIPS2017 dynamic-routing network:
//
//	conv1 → ReLU → primary capsules → routing capsules → ‖v‖ → mask → decoder
type CapsuleNetwork[B tensor.Backend] struct {
	cfg     Config
	conv1   *nn.Conv2D[B]
	relu    *nn.ReLU[B]
	primary *caps.PrimaryCapsules[B]
	digits  *caps.RoutingCapsules[B]
	decoder *nn.Sequential[B]
}

// NewCapsuleNetwork builds a NIPS2017 network, returning an error when the
// image is too small for the kernels or the primary capsules cannot be
// formed.
func NewCapsuleNetwork[B tensor.Backend](cfg Config, backend B) (*CapsuleNetwork[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("capsule network: %w", err)
	}
	if cfg.Channels <= 0 || cfg.KernelSize <= 0 || cfg.OutDim <= 0 {
		return nil, fmt.Errorf("capsule network: invalid channels=%d kernel=%d out_dim=%d",
			cfg.Channels, cfg.KernelSize, cfg.OutDim)
	}
	c, h, w := cfg.ImageShape[0], cfg.ImageShape[1], cfg.ImageShape[2]

	conv1 := nn.NewConv2D(c, cfg.Channels, cfg.KernelSize, 1, 0, backend)
	h1, w1 := conv1.OutputSize(h, w)
	if h1 <= 0 || w1 <= 0 {
		return nil, fmt.Errorf("capsule network: %dx%d image is too small for kernel %d", h, w, cfg.KernelSize)
	}

	primary, err := caps.NewPrimaryCapsules(cfg.Channels, cfg.Channels, cfg.PrimaryDim, cfg.KernelSize, backend)
	if err != nil {
		return nil, fmt.Errorf("capsule network: %w", err)
	}
	numPrimary, err := primary.NumCapsules(h1, w1)
	if err != nil {
		return nil, fmt.Errorf("capsule network: %w", err)
	}

	digits, err := caps.NewRoutingCapsules(cfg.PrimaryDim, numPrimary, cfg.NumClasses, cfg.OutDim, cfg.NumRouting, backend)
	if err != nil {
		return nil, fmt.Errorf("capsule network: %w", err)
	}

	return &CapsuleNetwork[B]{
		cfg:     cfg,
		conv1:   conv1,
		relu:    nn.NewReLU[B](),
		primary: primary,
		digits:  digits,
		decoder: newDecoder(cfg.OutDim*cfg.NumClasses, cfg.Out1Features, cfg.Out2Features, cfg.ImageSize(), backend),
	}, nil
}

// Forward ignores the schedule.
func (n *CapsuleNetwork[B]) Forward(images *tensor.Tensor[float32, B], _ Schedule) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]) {
	out := n.relu.Forward(n.conv1.Forward(images))
	v := n.digits.Forward(n.primary.Forward(out))
	preds := caps.Length(v)
	return preds, reconstruct(n.decoder, v, preds, n.cfg.ImageShape)
}

// Digits returns the routing layer.
func (n *CapsuleNetwork[B]) Digits() *caps.RoutingCapsules[B] {
	return n.digits
}

func (n *CapsuleNetwork[B]) modules() []namedModule {
	return []namedModule{
		{"conv1", n.conv1.StateDict, n.conv1.LoadStateDict},
		{"primary", n.primary.StateDict, n.primary.LoadStateDict},
		{"digits", n.digits.StateDict, n.digits.LoadStateDict},
		{"decoder", n.decoder.StateDict, n.decoder.LoadStateDict},
	}
}

// Parameters returns all trainable parameters.
func (n *CapsuleNetwork[B]) Parameters() []*nn.Parameter[B] {
	params := n.conv1.Parameters()
	params = append(params, n.primary.Parameters()...)
	params = append(params, n.digits.Parameters()...)
	return append(params, n.decoder.Parameters()...)
}

// StateDict returns the parameters keyed by dotted name.
func (n *CapsuleNetwork[B]) StateDict() map[string]*tensor.RawTensor {
	return collectStateDict(n.modules())
}

// LoadStateDict restores all parameters.
func (n *CapsuleNetwork[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return loadStateDict(n.modules(), stateDict)
}

// Config returns the network configuration.
func (n *CapsuleNetwork[B]) Config() Config {
	return n.cfg
}

func (n *CapsuleNetwork[B]) String() string {
	var sb strings.Builder
	sb.WriteString("CapsuleNetwork(\n")
	fmt.Fprintf(&sb, "  (conv1): %s\n", n.conv1)
	fmt.Fprintf(&sb, "  (relu): %s\n", n.relu)
	fmt.Fprintf(&sb, "  (primary): %s\n", n.primary)
	fmt.Fprintf(&sb, "  (digits): %s\n", n.digits)
	fmt.Fprintf(&sb, "  (decoder): %s\n", n.decoder)
	sb.WriteString(")")
	return sb.String()
}
