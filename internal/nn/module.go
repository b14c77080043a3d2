// Package nn implements the neural network building blocks used by the
// capsule models:
//   - Module interface and Parameter
//   - Linear and Conv2D layers
//   - ReLU and Sigmoid activations
//   - Sequential container
//   - state dictionaries for checkpointing
package nn

import (
	"fmt"
	"sort"

	"github.com/born-ml/capsnet/internal/tensor"
)

// Module is the base interface for all neural network components.
//
//	decoder := nn.NewSequential[Backend](
//	    nn.NewLinear(160, 512, backend),
//	    nn.NewReLU[Backend](),
//	    nn.NewLinear(512, 784, backend),
//	    nn.NewSigmoid[Backend](),
//	)
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all trainable parameters of the module.
	Parameters() []*Parameter[B]

	// StateDict returns the module's parameters keyed by dotted name.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict copies parameter values from a state dictionary.
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
}

// ParametersStateDict builds a state dictionary from named parameters.
func ParametersStateDict[B tensor.Backend](params ...*Parameter[B]) map[string]*tensor.RawTensor {
	dict := make(map[string]*tensor.RawTensor, len(params))
	for _, p := range params {
		dict[p.Name()] = p.Tensor().Raw()
	}
	return dict
}

// LoadParameters copies values from dict into the named parameters.
// Every parameter must be present with a matching shape and dtype.
func LoadParameters[B tensor.Backend](dict map[string]*tensor.RawTensor, params ...*Parameter[B]) error {
	for _, p := range params {
		raw, ok := dict[p.Name()]
		if !ok {
			return fmt.Errorf("missing parameter %q", p.Name())
		}
		if err := p.Load(raw); err != nil {
			return err
		}
	}
	return nil
}

// MergeStateDict copies src into dst with every key prefixed by prefix + ".".
func MergeStateDict(dst map[string]*tensor.RawTensor, prefix string, src map[string]*tensor.RawTensor) {
	for name, raw := range src {
		dst[prefix+"."+name] = raw
	}
}

// SubStateDict returns the entries of dict under prefix with the prefix removed.
func SubStateDict(dict map[string]*tensor.RawTensor, prefix string) map[string]*tensor.RawTensor {
	sub := make(map[string]*tensor.RawTensor)
	p := prefix + "."
	for name, raw := range dict {
		if len(name) > len(p) && name[:len(p)] == p {
			sub[name[len(p):]] = raw
		}
	}
	return sub
}

// SortedKeys returns the keys of a state dictionary in lexical order.
func SortedKeys(dict map[string]*tensor.RawTensor) []string {
	keys := make([]string, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CountParameters returns the total number of scalar weights.
func CountParameters[B tensor.Backend](params []*Parameter[B]) int {
	n := 0
	for _, p := range params {
		n += p.Tensor().NumElements()
	}
	return n
}
