// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides the Adam optimizer and the exponential
// learning-rate decay used to train capsule networks.
//
// Example:
//
//	optimizer := optim.NewAdam(net.Parameters(), optim.AdamConfig{
//	    LR:    0.001,
//	    Betas: [2]float32{0.9, 0.999},
//	    Eps:   1e-8,
//	})
//	scheduler := optim.NewExponentialLR(optimizer, 0.96)
//	for epoch := 0; epoch < epochs; epoch++ {
//	    // ... optimizer.Step(grads) per batch ...
//	    scheduler.Step()
//	}
package optim

import (
	"github.com/born-ml/capsnet/internal/nn"
	"github.com/born-ml/capsnet/internal/optim"
	"github.com/born-ml/capsnet/internal/tensor"
)

// Optimizer interface defines the common interface for all optimizers.
type Optimizer = optim.Optimizer

// Adam represents the Adam optimizer.
type Adam[B tensor.Backend] = optim.Adam[B]

// AdamConfig contains configuration for Adam optimizer.
type AdamConfig = optim.AdamConfig

// NewAdam creates a new Adam optimizer with bias correction.
func NewAdam[B tensor.Backend](params []*nn.Parameter[B], config AdamConfig) *Adam[B] {
	return optim.NewAdam(params, config)
}

// ExponentialLR multiplies the learning rate by gamma once per epoch.
type ExponentialLR = optim.ExponentialLR

// NewExponentialLR attaches an exponential decay to optimizer.
func NewExponentialLR(optimizer Optimizer, gamma float64) *ExponentialLR {
	return optim.NewExponentialLR(optimizer, gamma)
}
