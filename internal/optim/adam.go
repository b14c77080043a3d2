package optim

import (
	"fmt"
	"math"

	"github.com/born-ml/capsnet/internal/nn"
	"github.com/born-ml/capsnet/internal/tensor"
)

// Adam implements the Adam optimizer (Kingma & Ba, 2014).
//
//	m_t = β1·m + (1−β1)·g
//	v_t = β2·v + (1−β2)·g²
//	param -= lr · (m_t/(1−β1^t)) / (sqrt(v_t/(1−β2^t)) + eps)
type Adam[B tensor.Backend] struct {
	params []*nn.Parameter[B]
	lr     float32
	beta1  float32
	beta2  float32
	eps    float32
	t      int
	m      [][]float32 // first moments, aligned with params
	v      [][]float32 // second moments, aligned with params
}

// AdamConfig holds configuration for the Adam optimizer.
type AdamConfig struct {
	LR    float32    // default 0.001
	Betas [2]float32 // default [0.9, 0.999]
	Eps   float32    // default 1e-8
}

// NewAdam creates a new Adam optimizer; zero config fields take defaults.
func NewAdam[B tensor.Backend](params []*nn.Parameter[B], config AdamConfig) *Adam[B] {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}

	a := &Adam[B]{
		params: params,
		lr:     config.LR,
		beta1:  config.Betas[0],
		beta2:  config.Betas[1],
		eps:    config.Eps,
		m:      make([][]float32, len(params)),
		v:      make([][]float32, len(params)),
	}
	for i, p := range params {
		a.m[i] = make([]float32, p.Tensor().NumElements())
		a.v[i] = make([]float32, p.Tensor().NumElements())
	}
	return a
}

// Step performs a single Adam update.
func (a *Adam[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	a.t++
	bc1 := 1 - math.Pow(float64(a.beta1), float64(a.t))
	bc2 := 1 - math.Pow(float64(a.beta2), float64(a.t))
	stepSize := float32(float64(a.lr) / bc1)
	bc2Sqrt := float32(math.Sqrt(bc2))

	for i, param := range a.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}
		if !grad.Shape().Equal(param.Tensor().Shape()) {
			panic(fmt.Sprintf("adam: gradient shape %v does not match parameter %q %v",
				grad.Shape(), param.Name(), param.Tensor().Shape()))
		}

		g, m, v := grad.AsFloat32(), a.m[i], a.v[i]
		w := param.Tensor().Data()
		for j := range w {
			m[j] = a.beta1*m[j] + (1-a.beta1)*g[j]
			v[j] = a.beta2*v[j] + (1-a.beta2)*g[j]*g[j]
			denom := float32(math.Sqrt(float64(v[j])))/bc2Sqrt + a.eps
			w[j] -= stepSize * m[j] / denom
		}
	}
}

// ZeroGrad clears gradients of all parameters.
func (a *Adam[B]) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (a *Adam[B]) GetLR() float32 {
	return a.lr
}

// SetLR updates the learning rate.
func (a *Adam[B]) SetLR(lr float32) {
	a.lr = lr
}

// StepCount returns the number of updates applied so far.
func (a *Adam[B]) StepCount() int {
	return a.t
}
