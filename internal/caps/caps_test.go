package caps

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/capsnet/internal/autodiff"
	"github.com/born-ml/capsnet/internal/backend/cpu"
	"github.com/born-ml/capsnet/internal/nn"
	"github.com/born-ml/capsnet/internal/tensor"
)

func vectorNorms(data []float32, dim int) []float64 {
	norms := make([]float64, len(data)/dim)
	for i := range norms {
		var s float64
		for _, v := range data[i*dim : (i+1)*dim] {
			s += float64(v) * float64(v)
		}
		norms[i] = math.Sqrt(s)
	}
	return norms
}

// assertRowsSumToOne checks that every row of a [.., J] tensor sums to one.
func assertRowsSumToOne(t *testing.T, raw *tensor.RawTensor) {
	t.Helper()
	s := raw.Shape()
	j := s[len(s)-1]
	data := raw.AsFloat32()
	for row := 0; row < len(data)/j; row++ {
		var sum float64
		for _, v := range data[row*j : (row+1)*j] {
			assert.GreaterOrEqual(t, v, float32(0))
			sum += float64(v)
		}
		assert.InDelta(t, 1.0, sum, 1e-5, "row %d", row)
	}
}

func TestSquashBoundsLength(t *testing.T) {
	backend := cpu.New()
	x := tensor.Randn[float32](tensor.Shape{5, 7, 8}, rand.New(rand.NewSource(1)), backend).MulScalar(10)
	clear(x.Data()[:8])
	out := Squash(x)

	for _, v := range out.Data()[:8] {
		assert.False(t, math.IsNaN(float64(v)))
		assert.Equal(t, float32(0), v)
	}

	for _, n := range vectorNorms(out.Data(), 8) {
		assert.GreaterOrEqual(t, n, 0.0)
		assert.Less(t, n, 1.0)
	}
	lengths := Length(out).Data()
	for i, n := range vectorNorms(out.Data(), 8) {
		assert.InDelta(t, n, lengths[i], 1e-3)
	}
}

func TestSquashGradientFiniteAtZero(t *testing.T) {
	backend := cpu.New()
	x := tensor.Zeros[float32](tensor.Shape{2, 8}, backend)
	grad := tensor.Ones[float32](tensor.Shape{2, 8}, backend)

	dx := backend.SquashBackward(x.Raw(), grad.Raw(), Epsilon).AsFloat32()
	require.Len(t, dx, 16)
	for _, v := range dx {
		assert.False(t, math.IsNaN(float64(v)))
		assert.False(t, math.IsInf(float64(v), 0))
	}
}

func TestPrimaryCapsulesNumCapsules(t *testing.T) {
	backend := cpu.New()
	primary, err := NewPrimaryCapsules(16, 16, 8, 9, backend)
	require.NoError(t, err)

	n, err := primary.NumCapsules(20, 20)
	require.NoError(t, err)
	assert.Equal(t, 16*6*6/8, n)

	_, err = primary.NumCapsules(5, 5)
	assert.ErrorContains(t, err, "too small")

	odd, err := NewPrimaryCapsules(3, 3, 8, 9, backend)
	require.NoError(t, err)
	_, err = odd.NumCapsules(20, 20)
	assert.ErrorContains(t, err, "not divisible")

	_, err = NewPrimaryCapsules(3, 3, 0, 9, backend)
	assert.Error(t, err)
}

func TestPrimaryCapsulesForward(t *testing.T) {
	backend := cpu.New()
	primary, err := NewPrimaryCapsules(4, 16, 8, 9, backend)
	require.NoError(t, err)

	x := tensor.Randn[float32](tensor.Shape{2, 4, 20, 20}, rand.New(rand.NewSource(2)), backend)
	out := primary.Forward(x)
	assert.Equal(t, tensor.Shape{2, 72, 8}, out.Shape())
	for _, n := range vectorNorms(out.Data(), 8) {
		assert.Less(t, n, 1.0)
	}
	assert.Equal(t, []string{"conv.bias", "conv.weight"}, nn.SortedKeys(primary.StateDict()))
}

func TestRoutingShapesAndCouplings(t *testing.T) {
	backend := cpu.New()
	routing, err := NewRoutingCapsules(8, 72, 10, 16, 3, backend)
	require.NoError(t, err)

	rounds := 0
	routing.SetObserver(func(iteration int, coupling *tensor.RawTensor) {
		assert.Equal(t, rounds, iteration)
		assert.Equal(t, tensor.Shape{3, 72, 10}, coupling.Shape())
		assertRowsSumToOne(t, coupling)
		rounds++
	})

	u := Squash(tensor.Randn[float32](tensor.Shape{3, 72, 8}, rand.New(rand.NewSource(3)), backend))
	v := routing.Forward(u)

	assert.Equal(t, 3, rounds)
	assert.Equal(t, tensor.Shape{3, 10, 16}, v.Shape())
	assert.Equal(t, tensor.Shape{3, 10}, Length(v).Shape())
	for _, n := range vectorNorms(v.Data(), 16) {
		assert.Less(t, n, 1.0)
	}
}

func TestRoutingSingleIterationIsUniformAndSquashed(t *testing.T) {
	backend := cpu.New()
	routing, err := NewRoutingCapsules(4, 6, 3, 5, 1, backend)
	require.NoError(t, err)
	routing.SetObserver(func(_ int, coupling *tensor.RawTensor) {
		for _, c := range coupling.AsFloat32() {
			assert.InDelta(t, 1.0/3.0, c, 1e-6)
		}
	})

	u := tensor.Randn[float32](tensor.Shape{2, 6, 4}, rand.New(rand.NewSource(4)), backend).MulScalar(100)
	v := routing.Forward(u)
	for _, n := range vectorNorms(v.Data(), 5) {
		assert.Less(t, n, 1.0)
	}

	_, err = NewRoutingCapsules(4, 6, 3, 5, 0, backend)
	assert.Error(t, err)
}

func TestRoutingGradientReachesWeights(t *testing.T) {
	backend := autodiff.New(cpu.New())
	routing, err := NewRoutingCapsules(4, 6, 3, 5, 3, backend)
	require.NoError(t, err)

	backend.Tape().StartRecording()
	u := tensor.Randn[float32](tensor.Shape{2, 6, 4}, rand.New(rand.NewSource(5)), backend)
	loss := Length(routing.Forward(u)).Sum()
	grads := autodiff.Backward(loss, backend)

	w := routing.Parameters()[0]
	g, ok := grads[w.Tensor().Raw()]
	require.True(t, ok)
	assert.Equal(t, w.Tensor().Shape(), g.Shape())
	var total float64
	for _, v := range g.AsFloat32() {
		total += math.Abs(float64(v))
	}
	assert.Greater(t, total, 0.0)
}

func TestComputeVotesMatchesMatrixProduct(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(6))
	const m, in, out = 3, 2, 2
	p := tensor.Randn[float32](tensor.Shape{m, in, 16}, rng, backend)
	w := tensor.Randn[float32](tensor.Shape{in, 4, out * 4}, rng, backend)

	votes := computeVotes(p, w, out)
	require.Equal(t, tensor.Shape{m, in, out, 16}, votes.Shape())

	for a := 0; a < m; a++ {
		for i := 0; i < in; i++ {
			for j := 0; j < out; j++ {
				for r := 0; r < 4; r++ {
					for c := 0; c < 4; c++ {
						var want float32
						for k := 0; k < 4; k++ {
							want += p.At(a, i, r*4+k) * w.At(i, k, j*4+c)
						}
						assert.InDelta(t, want, votes.At(a, i, j, r*4+c), 1e-4)
					}
				}
			}
		}
	}
}

func TestWindowIndices(t *testing.T) {
	// 3×3 grid, 2×2 kernel, stride 1 → 2×2 outputs.
	idx := windowIndices(3, 2, 2, 2, 1)
	assert.Equal(t, []int{
		0, 1, 3, 4,
		1, 2, 4, 5,
		3, 4, 6, 7,
		4, 5, 7, 8,
	}, idx)
}

func TestEMRoutingResponsibilities(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(7))
	routing, err := NewEMRouting(4, 3, backend)
	require.NoError(t, err)

	rounds := 0
	routing.SetObserver(func(_ int, r *tensor.RawTensor) {
		assert.Equal(t, tensor.Shape{2, 5, 4}, r.Shape())
		assertRowsSumToOne(t, r)
		rounds++
	})

	votes := tensor.Randn[float32](tensor.Shape{2, 5, 4, 16}, rng, backend)
	acts := tensor.Randn[float32](tensor.Shape{2, 5}, rng, backend).Sigmoid()
	poses, outActs := routing.Forward(votes, acts, 0.5)

	assert.Equal(t, 3, rounds)
	assert.Equal(t, tensor.Shape{2, 4, 16}, poses.Shape())
	assert.Equal(t, tensor.Shape{2, 4}, outActs.Shape())
	for _, a := range outActs.Data() {
		assert.False(t, math.IsNaN(float64(a)))
		assert.Greater(t, a, float32(0))
		assert.Less(t, a, float32(1))
	}
}

func TestMatrixCapsuleStack(t *testing.T) {
	backend := autodiff.New(cpu.New())
	rng := rand.New(rand.NewSource(8))

	primary, err := NewPrimaryMatrixCapsules(3, 2, backend)
	require.NoError(t, err)
	conv, err := NewConvCapsules(2, 3, 3, 2, 2, backend)
	require.NoError(t, err)
	class, err := NewClassCapsules(3, 4, 2, backend)
	require.NoError(t, err)

	backend.Tape().StartRecording()
	x := tensor.Randn[float32](tensor.Shape{2, 3, 7, 7}, rng, backend)
	poses, acts := primary.Forward(x)
	assert.Equal(t, tensor.Shape{2, 7, 7, 2, 16}, poses.Shape())
	assert.Equal(t, tensor.Shape{2, 7, 7, 2}, acts.Shape())

	poses, acts = conv.Forward(poses, acts, 0.01)
	assert.Equal(t, tensor.Shape{2, 3, 3, 3, 16}, poses.Shape())
	assert.Equal(t, tensor.Shape{2, 3, 3, 3}, acts.Shape())

	poses, acts = class.Forward(poses, acts, 0.01)
	assert.Equal(t, tensor.Shape{2, 4, 16}, poses.Shape())
	assert.Equal(t, tensor.Shape{2, 4}, acts.Shape())

	grads := autodiff.Backward(acts.Sum().Add(poses.Mul(poses).Sum()), backend)
	params := append(append(primary.Parameters(), conv.Parameters()...), class.Parameters()...)
	for _, p := range params {
		g, ok := grads[p.Tensor().Raw()]
		require.True(t, ok, "no gradient for %s", p.Name())
		for _, v := range g.AsFloat32() {
			require.False(t, math.IsNaN(float64(v)), "NaN gradient for %s", p.Name())
		}
	}
}

func TestConvCapsulesRejectsBadGeometry(t *testing.T) {
	backend := cpu.New()
	_, err := NewConvCapsules(0, 3, 3, 1, 2, backend)
	assert.Error(t, err)
	_, err = NewClassCapsules(3, 4, 0, backend)
	assert.Error(t, err)
}
