// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package optim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/born-ml/capsnet/backend/cpu"
	"github.com/born-ml/capsnet/nn"
	"github.com/born-ml/capsnet/optim"
)

func TestPublicDecay(t *testing.T) {
	layer := nn.NewLinear(2, 2, cpu.New())
	adam := optim.NewAdam(layer.Parameters(), optim.AdamConfig{LR: 0.01, Betas: [2]float32{0.9, 0.999}, Eps: 1e-8})
	scheduler := optim.NewExponentialLR(adam, 0.5)

	scheduler.Step()
	scheduler.Step()
	assert.InDelta(t, 0.0025, adam.GetLR(), 1e-9)
}
