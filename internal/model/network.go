// Package model composes the capsule layers into complete networks:
//   - CapsuleNetwork (NIPS2017): conv, primary capsules, dynamic routing
//   - MatrixCapsNet (ICLR2018): conv, matrix capsules, EM routing
//
// Both produce class predictions (capsule lengths or activations, not a
// softmax) and a reconstruction of the input decoded from the pose of the
// winning class.
package model

import (
	"fmt"

	"github.com/born-ml/capsnet/internal/nn"
	"github.com/born-ml/capsnet/internal/tensor"
)

// Network is implemented by every architecture.
type Network[B tensor.Backend] interface {
	// Forward maps images [N, C, H, W] to predictions [N, classes] and
	// reconstructions [N, C, H, W] in [0, 1].
	Forward(images *tensor.Tensor[float32, B], schedule Schedule) (preds, reconstructions *tensor.Tensor[float32, B])

	// Parameters returns all trainable parameters.
	Parameters() []*nn.Parameter[B]

	// StateDict returns the parameters keyed by dotted name.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict restores parameters from a state dictionary.
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error

	// Config returns the configuration the network was built from.
	Config() Config

	String() string
}

// New builds the network described by cfg.
func New[B tensor.Backend](cfg Config, backend B) (Network[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	switch cfg.Architecture {
	case NIPS2017:
		net, err := NewCapsuleNetwork(cfg, backend)
		if err != nil {
			return nil, err
		}
		return net, nil
	case ICLR2018:
		net, err := NewMatrixCapsNet(cfg, backend)
		if err != nil {
			return nil, err
		}
		return net, nil
	default:
		return nil, fmt.Errorf("model: unsupported architecture %v", cfg.Architecture)
	}
}

// namedModule pairs a sub-module with its state dict prefix.
type namedModule struct {
	name string
	dict func() map[string]*tensor.RawTensor
	load func(map[string]*tensor.RawTensor) error
}

func collectStateDict(modules []namedModule) map[string]*tensor.RawTensor {
	dict := make(map[string]*tensor.RawTensor)
	for _, m := range modules {
		nn.MergeStateDict(dict, m.name, m.dict())
	}
	return dict
}

func loadStateDict(modules []namedModule, stateDict map[string]*tensor.RawTensor) error {
	for _, m := range modules {
		if err := m.load(nn.SubStateDict(stateDict, m.name)); err != nil {
			return fmt.Errorf("%s: %w", m.name, err)
		}
	}
	return nil
}
