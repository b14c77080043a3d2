package tensor_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/capsnet/internal/backend/cpu"
	"github.com/born-ml/capsnet/internal/tensor"
)

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		a, b    tensor.Shape
		want    tensor.Shape
		wantErr bool
	}{
		{tensor.Shape{3, 1}, tensor.Shape{3, 5}, tensor.Shape{3, 5}, false},
		{tensor.Shape{5}, tensor.Shape{2, 3, 5}, tensor.Shape{2, 3, 5}, false},
		{tensor.Shape{2, 1, 4}, tensor.Shape{3, 1}, tensor.Shape{2, 3, 4}, false},
		{tensor.Shape{}, tensor.Shape{2, 2}, tensor.Shape{2, 2}, false},
		{tensor.Shape{3, 4}, tensor.Shape{5, 4}, nil, true},
	}
	for _, tt := range tests {
		got, _, err := tensor.BroadcastShapes(tt.a, tt.b)
		if tt.wantErr {
			assert.Error(t, err, "%v + %v", tt.a, tt.b)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestShapeHelpers(t *testing.T) {
	s := tensor.Shape{2, 3, 4}
	assert.Equal(t, 24, s.NumElements())
	assert.Equal(t, []int{12, 4, 1}, s.ComputeStrides())
	assert.Equal(t, 2, s.NormalizeDim(-1))
	assert.Panics(t, func() { s.NormalizeDim(3) })
	assert.Error(t, tensor.Shape{2, 0}.Validate())
	assert.Equal(t, 1, tensor.Shape{}.NumElements())
}

func TestFromSlice(t *testing.T) {
	b := cpu.New()
	x, err := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, b)
	require.NoError(t, err)
	assert.Equal(t, float32(6), x.At(1, 2))
	assert.Equal(t, tensor.Float32, x.DType())

	_, err = tensor.FromSlice([]float32{1, 2}, tensor.Shape{3}, b)
	assert.Error(t, err)
}

func TestCreation(t *testing.T) {
	b := cpu.New()
	assert.Equal(t, []float32{0, 0, 0}, tensor.Zeros[float32](tensor.Shape{3}, b).Data())
	assert.Equal(t, []float32{1, 1}, tensor.Ones[float32](tensor.Shape{2}, b).Data())
	assert.Equal(t, []int64{7, 7}, tensor.Full[int64](tensor.Shape{2}, 7, b).Data())
	assert.Equal(t, []float32{1, 0, 0, 1}, tensor.Eye[float32](2, b).Data())

	r1 := tensor.Randn[float32](tensor.Shape{8}, rand.New(rand.NewSource(1)), b)
	r2 := tensor.Randn[float32](tensor.Shape{8}, rand.New(rand.NewSource(1)), b)
	assert.Equal(t, r1.Data(), r2.Data())
}

func TestEyeIndexSelectIsOneHot(t *testing.T) {
	b := cpu.New()
	onehot := tensor.Eye[float32](4, b).IndexSelect(0, []int{2, 0})
	assert.Equal(t, tensor.Shape{2, 4}, onehot.Shape())
	assert.Equal(t, []float32{0, 0, 1, 0, 1, 0, 0, 0}, onehot.Data())
}

func TestReshapeInfer(t *testing.T) {
	b := cpu.New()
	x := tensor.Zeros[float32](tensor.Shape{2, 3, 4}, b)
	assert.Equal(t, tensor.Shape{6, 4}, x.Reshape(-1, 4).Shape())
	assert.Panics(t, func() { x.Reshape(5, -1) })
	assert.Panics(t, func() { x.Reshape(-1, -1) })
}

func TestDetachSharesStorage(t *testing.T) {
	b := cpu.New()
	x := tensor.MustFromSlice([]float32{1, 2}, tensor.Shape{2}, b)
	d := x.Detach()
	assert.NotSame(t, x.Raw(), d.Raw())
	x.Data()[0] = 5
	assert.Equal(t, float32(5), d.Data()[0])

	c := x.Clone()
	x.Data()[1] = 9
	assert.Equal(t, float32(2), c.Data()[1])
}

func TestArgmaxReturnsInt64(t *testing.T) {
	b := cpu.New()
	x := tensor.MustFromSlice([]float32{0.1, 0.7, 0.2, 0.9, 0.05, 0.05}, tensor.Shape{2, 3}, b)
	idx := x.Argmax(1)
	assert.Equal(t, []int64{1, 0}, idx.Data())
}

func TestMismatchedDTypePanics(t *testing.T) {
	raw, err := tensor.NewRaw(tensor.Shape{2}, tensor.Int64, tensor.CPU)
	require.NoError(t, err)
	assert.Panics(t, func() { tensor.New[float32](raw, cpu.New()) })
}
