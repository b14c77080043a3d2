// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package model provides the public API of the capsule networks.
//
// Two architectures are available:
//   - NIPS2017: convolution, primary capsules and dynamic routing
//   - ICLR2018: matrix capsules with EM routing
//
// Example:
//
//	backend := cpu.New()
//	cfg := model.DefaultConfig(model.NIPS2017, []int{1, 28, 28}, 10, 3)
//	net, err := model.New(cfg, backend)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	preds, recon := net.Forward(images, model.NewSchedule())
//
// Predictions are capsule lengths (NIPS2017) or class activations
// (ICLR2018), not probabilities.
package model

import (
	"github.com/born-ml/capsnet/internal/checkpoint"
	"github.com/born-ml/capsnet/internal/model"
	"github.com/born-ml/capsnet/internal/serialization"
	"github.com/born-ml/capsnet/internal/tensor"
)

// Architecture selects the network family.
type Architecture = model.Architecture

// Architectures.
const (
	NIPS2017 Architecture = model.NIPS2017
	ICLR2018 Architecture = model.ICLR2018
)

// ParseArchitecture parses "NIPS2017" or "ICLR2018" (case-insensitive).
func ParseArchitecture(name string) (Architecture, error) {
	return model.ParseArchitecture(name)
}

// Config describes a network.
type Config = model.Config

// DefaultConfig returns the published hyper-parameters for arch.
func DefaultConfig(arch Architecture, imageShape []int, numClasses, numRouting int) Config {
	return model.DefaultConfig(arch, imageShape, numClasses, numRouting)
}

// Schedule carries the EM-routing inverse temperature and the spread/margin
// loss margin.
type Schedule = model.Schedule

// NewSchedule returns the schedule at the start of training.
func NewSchedule() Schedule {
	return model.NewSchedule()
}

// Network is implemented by every architecture.
type Network[B tensor.Backend] = model.Network[B]

// New builds the network described by cfg.
func New[B tensor.Backend](cfg Config, backend B) (Network[B], error) {
	return model.New(cfg, backend)
}

// Header is the metadata stored with a checkpoint.
type Header = serialization.Header

// Save writes net and metadata to path.
func Save[B tensor.Backend](path string, net Network[B], metadata map[string]string) error {
	return checkpoint.Save(path, net, metadata)
}

// Load rebuilds the network stored at path.
func Load[B tensor.Backend](path string, backend B) (Network[B], Header, error) {
	return checkpoint.Load(path, backend)
}
