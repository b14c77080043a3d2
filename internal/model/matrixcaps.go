package model

import (
	"fmt"
	"strings"

	"github.com/born-ml/capsnet/internal/caps"
	"github.com/born-ml/capsnet/internal/nn"
	"github.com/born-ml/capsnet/internal/tensor"
)

// poseSize is the number of entries of a 4×4 pose matrix.
const poseSize = 16

// MatrixCapsNet is the ICLR2018 EM-routing network:
//
//	conv1 (5×5, stride 2) → ReLU → primary matrix caps (B)
//	  → conv caps (C, K=3, stride 2) → conv caps (D, K=3, stride 1)
//	  → class caps (E) → mask → decoder
//
// Predictions are class activations. Schedule.Lambda is the inverse
// temperature of every EM routing.
type MatrixCapsNet[B tensor.Backend] struct {
	cfg       Config
	conv1     *nn.Conv2D[B]
	relu      *nn.ReLU[B]
	primary   *caps.PrimaryMatrixCapsules[B]
	convCaps1 *caps.ConvCapsules[B]
	convCaps2 *caps.ConvCapsules[B]
	classCaps *caps.ClassCapsules[B]
	decoder   *nn.Sequential[B]
}

// NewMatrixCapsNet builds an ICLR2018 network, returning an error when a
// stage would produce an empty capsule grid.
func NewMatrixCapsNet[B tensor.Backend](cfg Config, backend B) (*MatrixCapsNet[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("matrix capsule network: %w", err)
	}
	if cfg.ConvChannels <= 0 {
		return nil, fmt.Errorf("matrix capsule network: conv channels must be positive, got %d", cfg.ConvChannels)
	}
	c, h, w := cfg.ImageShape[0], cfg.ImageShape[1], cfg.ImageShape[2]

	conv1 := nn.NewConv2D(c, cfg.ConvChannels, 5, 2, 2, backend)
	primary, err := caps.NewPrimaryMatrixCapsules(cfg.ConvChannels, cfg.PrimaryCaps, backend)
	if err != nil {
		return nil, fmt.Errorf("matrix capsule network: %w", err)
	}
	convCaps1, err := caps.NewConvCapsules(cfg.PrimaryCaps, cfg.ConvCaps1, 3, 2, cfg.NumRouting, backend)
	if err != nil {
		return nil, fmt.Errorf("matrix capsule network: %w", err)
	}
	convCaps2, err := caps.NewConvCapsules(cfg.ConvCaps1, cfg.ConvCaps2, 3, 1, cfg.NumRouting, backend)
	if err != nil {
		return nil, fmt.Errorf("matrix capsule network: %w", err)
	}
	classCaps, err := caps.NewClassCapsules(cfg.ConvCaps2, cfg.NumClasses, cfg.NumRouting, backend)
	if err != nil {
		return nil, fmt.Errorf("matrix capsule network: %w", err)
	}

	h1, w1 := conv1.OutputSize(h, w)
	h2, w2 := convCaps1.OutputSize(h1, w1)
	h3, w3 := convCaps2.OutputSize(h2, w2)
	if h1 <= 0 || w1 <= 0 || h2 <= 0 || w2 <= 0 || h3 <= 0 || w3 <= 0 {
		return nil, fmt.Errorf("matrix capsule network: %dx%d image is too small (grids %dx%d → %dx%d → %dx%d)",
			h, w, h1, w1, h2, w2, h3, w3)
	}

	return &MatrixCapsNet[B]{
		cfg:       cfg,
		conv1:     conv1,
		relu:      nn.NewReLU[B](),
		primary:   primary,
		convCaps1: convCaps1,
		convCaps2: convCaps2,
		classCaps: classCaps,
		decoder:   newDecoder(poseSize*cfg.NumClasses, cfg.Out1Features, cfg.Out2Features, cfg.ImageSize(), backend),
	}, nil
}

// Forward runs the network with λ = schedule.Lambda.
func (n *MatrixCapsNet[B]) Forward(images *tensor.Tensor[float32, B], schedule Schedule) (*tensor.Tensor[float32, B], *tensor.Tensor[float32, B]) {
	x := n.relu.Forward(n.conv1.Forward(images))
	poses, acts := n.primary.Forward(x)
	poses, acts = n.convCaps1.Forward(poses, acts, schedule.Lambda)
	poses, acts = n.convCaps2.Forward(poses, acts, schedule.Lambda)
	poses, acts = n.classCaps.Forward(poses, acts, schedule.Lambda)
	return acts, reconstruct(n.decoder, poses, acts, n.cfg.ImageShape)
}

// ClassCapsules returns the final capsule layer.
func (n *MatrixCapsNet[B]) ClassCapsules() *caps.ClassCapsules[B] {
	return n.classCaps
}

func (n *MatrixCapsNet[B]) modules() []namedModule {
	return []namedModule{
		{"conv1", n.conv1.StateDict, n.conv1.LoadStateDict},
		{"primary", n.primary.StateDict, n.primary.LoadStateDict},
		{"conv_caps1", n.convCaps1.StateDict, n.convCaps1.LoadStateDict},
		{"conv_caps2", n.convCaps2.StateDict, n.convCaps2.LoadStateDict},
		{"class_caps", n.classCaps.StateDict, n.classCaps.LoadStateDict},
		{"decoder", n.decoder.StateDict, n.decoder.LoadStateDict},
	}
}

// Parameters returns all trainable parameters.
func (n *MatrixCapsNet[B]) Parameters() []*nn.Parameter[B] {
	params := n.conv1.Parameters()
	params = append(params, n.primary.Parameters()...)
	params = append(params, n.convCaps1.Parameters()...)
	params = append(params, n.convCaps2.Parameters()...)
	params = append(params, n.classCaps.Parameters()...)
	return append(params, n.decoder.Parameters()...)
}

// StateDict returns the parameters keyed by dotted name.
func (n *MatrixCapsNet[B]) StateDict() map[string]*tensor.RawTensor {
	return collectStateDict(n.modules())
}

// LoadStateDict restores all parameters.
func (n *MatrixCapsNet[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return loadStateDict(n.modules(), stateDict)
}

// Config returns the network configuration.
func (n *MatrixCapsNet[B]) Config() Config {
	return n.cfg
}

func (n *MatrixCapsNet[B]) String() string {
	var sb strings.Builder
	sb.WriteString("MatrixCapsNet(\n")
	fmt.Fprintf(&sb, "  (conv1): %s\n", n.conv1)
	fmt.Fprintf(&sb, "  (relu): %s\n", n.relu)
	fmt.Fprintf(&sb, "  (primary): PrimaryMatrixCapsules(B=%d)\n", n.cfg.PrimaryCaps)
	fmt.Fprintf(&sb, "  (conv_caps1): ConvCapsules(C=%d, K=3, stride=2, iterations=%d)\n", n.cfg.ConvCaps1, n.cfg.NumRouting)
	fmt.Fprintf(&sb, "  (conv_caps2): ConvCapsules(D=%d, K=3, stride=1, iterations=%d)\n", n.cfg.ConvCaps2, n.cfg.NumRouting)
	fmt.Fprintf(&sb, "  (class_caps): ClassCapsules(E=%d, iterations=%d)\n", n.cfg.NumClasses, n.cfg.NumRouting)
	fmt.Fprintf(&sb, "  (decoder): %s\n", n.decoder)
	sb.WriteString(")")
	return sb.String()
}
