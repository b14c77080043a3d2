package nn

import (
	"fmt"

	"github.com/born-ml/capsnet/internal/tensor"
)

// Parameter represents a trainable tensor of a module.
type Parameter[B tensor.Backend] struct {
	name   string
	tensor *tensor.Tensor[float32, B]
	grad   *tensor.Tensor[float32, B]
}

// NewParameter creates a new trainable parameter.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{name: name, tensor: t}
}

// Name returns the parameter name.
func (p *Parameter[B]) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] {
	return p.tensor
}

// Grad returns the last gradient, or nil before the first backward pass.
func (p *Parameter[B]) Grad() *tensor.Tensor[float32, B] {
	return p.grad
}

// SetGrad sets the gradient tensor.
func (p *Parameter[B]) SetGrad(grad *tensor.Tensor[float32, B]) {
	p.grad = grad
}

// ZeroGrad clears the gradient.
func (p *Parameter[B]) ZeroGrad() {
	p.grad = nil
}

// Load copies values from raw after checking shape and dtype.
func (p *Parameter[B]) Load(raw *tensor.RawTensor) error {
	if raw.DType() != tensor.Float32 {
		return fmt.Errorf("parameter %q: dtype mismatch: expected float32, got %s", p.name, raw.DType())
	}
	if !raw.Shape().Equal(p.tensor.Shape()) {
		return fmt.Errorf("parameter %q: shape mismatch: expected %v, got %v", p.name, p.tensor.Shape(), raw.Shape())
	}
	copy(p.tensor.Data(), raw.AsFloat32())
	return nil
}
