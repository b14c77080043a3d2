// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/capsnet/backend/cpu"
	"github.com/born-ml/capsnet/tensor"
)

func TestPublicCreation(t *testing.T) {
	backend := cpu.New()

	x := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
	y := tensor.Ones[float32](tensor.Shape{2, 3}, backend)
	z := x.Add(y).MulScalar(2)
	assert.Equal(t, []float32{2, 2, 2, 2, 2, 2}, z.Data())

	f := tensor.Full(tensor.Shape{2}, float32(1.5), backend)
	assert.Equal(t, []float32{1.5, 1.5}, f.Data())

	_, err := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{2, 2}, backend)
	assert.Error(t, err)
}

func TestPublicOneHot(t *testing.T) {
	backend := cpu.New()
	onehot := tensor.Eye[float32](3, backend).IndexSelect(0, []int{2, 0})
	assert.Equal(t, tensor.Shape{2, 3}, onehot.Shape())
	assert.Equal(t, []float32{0, 0, 1, 1, 0, 0}, onehot.Data())
}

func TestPublicRaw(t *testing.T) {
	raw, err := tensor.NewRaw(tensor.Shape{2}, tensor.Int64, tensor.CPU)
	require.NoError(t, err)
	copy(raw.AsInt64(), []int64{4, 5})

	labels := tensor.New[int64](raw, cpu.New())
	assert.Equal(t, []int64{4, 5}, labels.Data())
}
