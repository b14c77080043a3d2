// Package optim implements the optimizer and learning-rate schedule used for
// training:
//   - Optimizer interface
//   - Adam with bias correction
//   - ExponentialLR decay applied once per epoch
package optim

import (
	"github.com/born-ml/capsnet/internal/nn"
	"github.com/born-ml/capsnet/internal/tensor"
)

// Optimizer updates model parameters from a gradient map produced by the
// autodiff tape.
type Optimizer interface {
	// Step applies one update. Parameters absent from grads are left alone.
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)

	// ZeroGrad clears the gradients stored on the parameters.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32

	// SetLR replaces the learning rate; used by schedulers.
	SetLR(lr float32)
}

// getGradient looks up a parameter's gradient and records it on the parameter.
func getGradient[B tensor.Backend](param *nn.Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor) *tensor.RawTensor {
	grad, ok := grads[param.Tensor().Raw()]
	if !ok {
		return nil
	}
	param.SetGrad(tensor.New[float32](grad, param.Tensor().Backend()))
	return grad
}
