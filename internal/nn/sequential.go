package nn

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/born-ml/capsnet/internal/tensor"
)

// Sequential chains modules; the output of each feeds the next.
// State dictionary keys are prefixed with the module index ("0.weight").
type Sequential[B tensor.Backend] struct {
	modules []Module[B]
}

// NewSequential creates a Sequential container.
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return &Sequential[B]{modules: modules}
}

// Forward runs the modules in order.
func (s *Sequential[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	out := input
	for _, m := range s.modules {
		out = m.Forward(out)
	}
	return out
}

// Parameters returns the parameters of all modules in order.
func (s *Sequential[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// StateDict merges the module dictionaries under their index.
func (s *Sequential[B]) StateDict() map[string]*tensor.RawTensor {
	dict := make(map[string]*tensor.RawTensor)
	for i, m := range s.modules {
		MergeStateDict(dict, strconv.Itoa(i), m.StateDict())
	}
	return dict
}

// LoadStateDict restores each module from its indexed sub-dictionary.
func (s *Sequential[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	for i, m := range s.modules {
		if err := m.LoadStateDict(SubStateDict(stateDict, strconv.Itoa(i))); err != nil {
			return fmt.Errorf("module %d: %w", i, err)
		}
	}
	return nil
}

// Len returns the number of modules.
func (s *Sequential[B]) Len() int {
	return len(s.modules)
}

// String lists the contained modules.
func (s *Sequential[B]) String() string {
	parts := make([]string, len(s.modules))
	for i, m := range s.modules {
		parts[i] = fmt.Sprintf("(%d) %v", i, m)
	}
	return "Sequential(" + strings.Join(parts, ", ") + ")"
}
