package nn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/capsnet/internal/autodiff"
	"github.com/born-ml/capsnet/internal/backend/cpu"
	"github.com/born-ml/capsnet/internal/nn"
	"github.com/born-ml/capsnet/internal/tensor"
)

type Backend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func TestLinearForward(t *testing.T) {
	backend := cpu.New()
	layer := nn.NewLinear(3, 2, backend)
	copy(layer.Weight().Tensor().Data(), []float32{1, 0, 0, 0, 1, 1})
	copy(layer.Bias().Tensor().Data(), []float32{0.5, -1})

	x := tensor.MustFromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, backend)
	out := layer.Forward(x)

	assert.Equal(t, tensor.Shape{2, 2}, out.Shape())
	assert.Equal(t, []float32{1.5, 4, 4.5, 10}, out.Data())
	assert.Panics(t, func() { layer.Forward(tensor.Zeros[float32](tensor.Shape{2, 4}, backend)) })
}

func TestConv2DForwardShape(t *testing.T) {
	backend := cpu.New()
	conv := nn.NewConv2D(1, 4, 9, 2, 0, backend)
	out := conv.Forward(tensor.Zeros[float32](tensor.Shape{2, 1, 28, 28}, backend))

	assert.Equal(t, tensor.Shape{2, 4, 10, 10}, out.Shape())
	h, w := conv.OutputSize(28, 28)
	assert.Equal(t, 10, h)
	assert.Equal(t, 10, w)
	assert.Equal(t, 0, nn.ConvOutputSize(4, 9, 1, 0))
}

func TestSequentialStateDictRoundTrip(t *testing.T) {
	backend := cpu.New()
	build := func() *nn.Sequential[*cpu.CPUBackend] {
		return nn.NewSequential[*cpu.CPUBackend](
			nn.NewLinear(4, 3, backend),
			nn.NewReLU[*cpu.CPUBackend](),
			nn.NewLinear(3, 2, backend),
			nn.NewSigmoid[*cpu.CPUBackend](),
		)
	}
	nn.Seed(1)
	src := build()
	nn.Seed(2)
	dst := build()

	dict := src.StateDict()
	assert.Equal(t, []string{"0.bias", "0.weight", "2.bias", "2.weight"}, nn.SortedKeys(dict))
	require.NoError(t, dst.LoadStateDict(dict))

	x := tensor.MustFromSlice([]float32{1, -2, 3, 0.5}, tensor.Shape{1, 4}, backend)
	assert.Equal(t, src.Forward(x).Data(), dst.Forward(x).Data())
	assert.Equal(t, 4*3+3+3*2+2, nn.CountParameters(src.Parameters()))
}

func TestLoadStateDictErrors(t *testing.T) {
	backend := cpu.New()
	layer := nn.NewLinear(2, 2, backend)

	err := layer.LoadStateDict(map[string]*tensor.RawTensor{})
	assert.ErrorContains(t, err, "missing parameter")

	wrong := nn.ParametersStateDict(nn.NewLinear(3, 2, backend).Parameters()...)
	err = layer.LoadStateDict(wrong)
	assert.ErrorContains(t, err, "shape mismatch")
}

func TestSeedIsDeterministic(t *testing.T) {
	backend := cpu.New()
	nn.Seed(7)
	a := nn.Normal(0.01, tensor.Shape{5}, backend)
	nn.Seed(7)
	b := nn.Normal(0.01, tensor.Shape{5}, backend)
	assert.Equal(t, a.Data(), b.Data())
	for _, v := range a.Data() {
		assert.Less(t, v, float32(0.1))
		assert.Greater(t, v, float32(-0.1))
	}
}

func TestGradientsReachParameters(t *testing.T) {
	backend := autodiff.New(cpu.New())
	model := nn.NewSequential[Backend](
		nn.NewConv2D(1, 2, 3, 1, 0, backend),
		nn.NewReLU[Backend](),
	)
	head := nn.NewLinear(2*3*3, 1, backend)

	backend.Tape().StartRecording()
	x := tensor.Ones[float32](tensor.Shape{2, 1, 5, 5}, backend)
	out := head.Forward(model.Forward(x).Reshape(2, -1)).Sum()
	grads := autodiff.Backward(out, backend)

	for _, p := range append(model.Parameters(), head.Parameters()...) {
		g, ok := grads[p.Tensor().Raw()]
		require.True(t, ok, "no gradient for %s", p.Name())
		assert.Equal(t, p.Tensor().Shape(), g.Shape())
	}
}
