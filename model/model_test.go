// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package model_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/capsnet/backend/cpu"
	"github.com/born-ml/capsnet/model"
	"github.com/born-ml/capsnet/tensor"
)

func TestPublicBuildSaveLoad(t *testing.T) {
	backend := cpu.New()
	cfg := model.DefaultConfig(model.NIPS2017, []int{1, 28, 28}, 10, 3)
	cfg.Channels = 16
	cfg.Out1Features = 32
	cfg.Out2Features = 64

	net, err := model.New(cfg, backend)
	require.NoError(t, err)

	images := tensor.Ones[float32](tensor.Shape{2, 1, 28, 28}, backend)
	preds, recon := net.Forward(images, model.NewSchedule())
	assert.Equal(t, tensor.Shape{2, 10}, preds.Shape())
	assert.Equal(t, tensor.Shape{2, 1, 28, 28}, recon.Shape())

	path := filepath.Join(t.TempDir(), "net.pth.tar")
	require.NoError(t, model.Save(path, net, nil))
	loaded, header, err := model.Load(path, backend)
	require.NoError(t, err)
	assert.Equal(t, "NIPS2017", header.ModelType)

	again, _ := loaded.Forward(images, model.NewSchedule())
	assert.Equal(t, preds.Data(), again.Data())
}

func TestPublicParseArchitecture(t *testing.T) {
	arch, err := model.ParseArchitecture("nips2017")
	require.NoError(t, err)
	assert.Equal(t, model.NIPS2017, arch)
}
