package cpu

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/capsnet/internal/tensor"
)

func raw(t *testing.T, data []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(tensor.Shape(shape), tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(r.AsFloat32(), data)
	return r
}

func randomRaw(t *testing.T, rng *rand.Rand, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(tensor.Shape(shape), tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	for i := range r.AsFloat32() {
		r.AsFloat32()[i] = float32(rng.NormFloat64())
	}
	return r
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestAddBroadcast(t *testing.T) {
	b := New()
	a := raw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	c := raw(t, []float32{10, 20, 30}, 3)
	out := b.Add(a, c)

	assert.Equal(t, tensor.Shape{2, 3}, out.Shape())
	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, out.AsFloat32())
}

func TestMulBroadcastColumn(t *testing.T) {
	b := New()
	a := raw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	c := raw(t, []float32{2, 3}, 2, 1)
	out := b.Mul(a, c)

	assert.Equal(t, []float32{2, 4, 6, 12, 15, 18}, out.AsFloat32())
}

func TestBinaryDoesNotModifyInputs(t *testing.T) {
	b := New()
	a := raw(t, []float32{1, 2}, 2)
	c := raw(t, []float32{3, 4}, 2)
	_ = b.Sub(a, c)
	_ = b.Div(a, c)

	assert.Equal(t, []float32{1, 2}, a.AsFloat32())
	assert.Equal(t, []float32{3, 4}, c.AsFloat32())
}

func TestIncompatibleBroadcastPanics(t *testing.T) {
	b := New()
	assert.Panics(t, func() {
		b.Add(raw(t, make([]float32, 6), 2, 3), raw(t, make([]float32, 4), 4))
	})
}

func TestSoftmaxSumsToOne(t *testing.T) {
	b := New()
	x := randomRaw(t, rand.New(rand.NewSource(1)), 2, 5, 3)

	for dim := 0; dim < 3; dim++ {
		out := b.Softmax(x, dim)
		sums := b.SumDim(out, dim, false).AsFloat32()
		for _, s := range sums {
			assert.InDelta(t, 1.0, s, 1e-5)
		}
	}
}

func TestSoftmaxLargeLogits(t *testing.T) {
	b := New()
	out := b.Softmax(raw(t, []float32{1000, 1000}, 1, 2), 1).AsFloat32()
	assert.InDelta(t, 0.5, out[0], 1e-6)
	assert.InDelta(t, 0.5, out[1], 1e-6)
}

func TestSquashNormBound(t *testing.T) {
	b := New()
	x := raw(t, []float32{
		0, 0, 0, 0,
		1e-4, 0, 0, 0,
		3, 4, 0, 0,
		1e3, -1e3, 1e3, 1e3,
	}, 4, 4)
	out := b.Squash(x, 1e-8).AsFloat32()

	for row := 0; row < 4; row++ {
		v := out[row*4 : (row+1)*4]
		n := math.Sqrt(dot(v, v))
		assert.GreaterOrEqual(t, n, 0.0)
		assert.Less(t, n, 1.0)
		for _, e := range v {
			assert.False(t, math.IsNaN(float64(e)))
		}
	}
	// |(3,4)| = 5 → 25/26.
	assert.InDelta(t, 25.0/26.0, math.Sqrt(dot(out[8:12], out[8:12])), 1e-5)
}

func TestSquashBackwardMatchesFiniteDifferences(t *testing.T) {
	b := New()
	rng := rand.New(rand.NewSource(7))
	x := randomRaw(t, rng, 3, 4)
	g := randomRaw(t, rng, 3, 4)
	const eps = 1e-8

	analytic := b.SquashBackward(x, g, eps).AsFloat32()

	xd := x.AsFloat32()
	const h = 1e-3
	for i := range xd {
		orig := xd[i]
		xd[i] = orig + h
		plus := dot(b.Squash(x, eps).AsFloat32(), g.AsFloat32())
		xd[i] = orig - h
		minus := dot(b.Squash(x, eps).AsFloat32(), g.AsFloat32())
		xd[i] = orig
		assert.InDelta(t, (plus-minus)/(2*h), analytic[i], 2e-3, "index %d", i)
	}
}

func TestSumDimAndArgmax(t *testing.T) {
	b := New()
	x := raw(t, []float32{1, 5, 3, 7, 2, 9}, 2, 3)

	assert.Equal(t, []float32{8, 7, 12}, b.SumDim(x, 0, false).AsFloat32())
	kept := b.SumDim(x, 1, true)
	assert.Equal(t, tensor.Shape{2, 1}, kept.Shape())
	assert.Equal(t, []float32{9, 18}, kept.AsFloat32())
	assert.Equal(t, float32(27), b.Sum(x).AsFloat32()[0])

	idx := b.Argmax(x, -1)
	assert.Equal(t, tensor.Int64, idx.DType())
	assert.Equal(t, []int64{1, 2}, idx.AsInt64())
}

func TestMatMul(t *testing.T) {
	b := New()
	a := raw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	c := raw(t, []float32{7, 8, 9, 10, 11, 12}, 3, 2)
	out := b.MatMul(a, c)

	assert.Equal(t, tensor.Shape{2, 2}, out.Shape())
	assert.Equal(t, []float32{58, 64, 139, 154}, out.AsFloat32())
}

func TestBatchMatMulMatchesMatMul(t *testing.T) {
	b := New()
	rng := rand.New(rand.NewSource(3))
	a := randomRaw(t, rng, 4, 3, 5)
	c := randomRaw(t, rng, 4, 5, 2)
	out := b.BatchMatMul(a, c).AsFloat32()

	for i := 0; i < 4; i++ {
		ai := raw(t, a.AsFloat32()[i*15:(i+1)*15], 3, 5)
		ci := raw(t, c.AsFloat32()[i*10:(i+1)*10], 5, 2)
		want := b.MatMul(ai, ci).AsFloat32()
		assert.InDeltaSlice(t, want, out[i*6:(i+1)*6], 1e-5)
	}
}

func naiveConv(in, k []float32, n, cin, h, w, cout, kh, kw, stride, pad int) []float32 {
	ho := (h+2*pad-kh)/stride + 1
	wo := (w+2*pad-kw)/stride + 1
	out := make([]float32, n*cout*ho*wo)
	for b := 0; b < n; b++ {
		for co := 0; co < cout; co++ {
			for oh := 0; oh < ho; oh++ {
				for ow := 0; ow < wo; ow++ {
					var s float32
					for ci := 0; ci < cin; ci++ {
						for i := 0; i < kh; i++ {
							for j := 0; j < kw; j++ {
								ih, iw := oh*stride+i-pad, ow*stride+j-pad
								if ih < 0 || ih >= h || iw < 0 || iw >= w {
									continue
								}
								s += in[((b*cin+ci)*h+ih)*w+iw] * k[((co*cin+ci)*kh+i)*kw+j]
							}
						}
					}
					out[((b*cout+co)*ho+oh)*wo+ow] = s
				}
			}
		}
	}
	return out
}

func TestConv2DMatchesNaive(t *testing.T) {
	b := New()
	rng := rand.New(rand.NewSource(11))
	cases := []struct{ stride, pad int }{{1, 0}, {2, 0}, {2, 2}}
	for _, tc := range cases {
		in := randomRaw(t, rng, 2, 3, 9, 9)
		k := randomRaw(t, rng, 4, 3, 3, 3)
		out := b.Conv2D(in, k, tc.stride, tc.pad)
		want := naiveConv(in.AsFloat32(), k.AsFloat32(), 2, 3, 9, 9, 4, 3, 3, tc.stride, tc.pad)
		assert.InDeltaSlice(t, want, out.AsFloat32(), 1e-4)
	}
}

// The backward kernels must be adjoints of the forward map:
// <conv(x, k), g> = <x, dX(g)> = <k, dK(g)>.
func TestConv2DBackwardAdjoint(t *testing.T) {
	b := New()
	rng := rand.New(rand.NewSource(5))
	in := randomRaw(t, rng, 3, 2, 7, 7)
	k := randomRaw(t, rng, 5, 2, 3, 3)
	out := b.Conv2D(in, k, 2, 1)
	g := randomRaw(t, rng, out.Shape()...)

	lhs := dot(out.AsFloat32(), g.AsFloat32())
	dx := b.Conv2DInputBackward(in, k, g, 2, 1)
	dk := b.Conv2DKernelBackward(in, k, g, 2, 1)

	assert.InDelta(t, lhs, dot(in.AsFloat32(), dx.AsFloat32()), 1e-2)
	assert.InDelta(t, lhs, dot(k.AsFloat32(), dk.AsFloat32()), 1e-2)
}

func TestTranspose(t *testing.T) {
	b := New()
	x := raw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	out := b.Transpose(x)
	assert.Equal(t, tensor.Shape{3, 2}, out.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, out.AsFloat32())

	y := randomRaw(t, rand.New(rand.NewSource(2)), 2, 3, 4)
	p := b.Transpose(y, 2, 0, 1)
	assert.Equal(t, tensor.Shape{4, 2, 3}, p.Shape())
	back := b.Transpose(p, 1, 2, 0)
	assert.Equal(t, y.AsFloat32(), back.AsFloat32())
}

func TestExpand(t *testing.T) {
	b := New()
	out := b.Expand(raw(t, []float32{1, 2}, 2, 1), tensor.Shape{2, 3})
	assert.Equal(t, []float32{1, 1, 1, 2, 2, 2}, out.AsFloat32())
	assert.Panics(t, func() { b.Expand(raw(t, []float32{1, 2}, 2), tensor.Shape{3}) })
}

func TestIndexSelectAndAdd(t *testing.T) {
	b := New()
	x := raw(t, []float32{1, 2, 3, 4, 5, 6}, 3, 2)
	sel := b.IndexSelect(x, 0, []int{2, 0, 2})
	assert.Equal(t, tensor.Shape{3, 2}, sel.Shape())
	assert.Equal(t, []float32{5, 6, 1, 2, 5, 6}, sel.AsFloat32())

	back := b.IndexAdd(x.Shape(), 0, []int{2, 0, 2}, sel)
	assert.Equal(t, []float32{1, 2, 0, 0, 10, 12}, back.AsFloat32())

	assert.Panics(t, func() { b.IndexSelect(x, 0, []int{3}) })
}

func TestIndexSelectInt64(t *testing.T) {
	b := New()
	x, err := tensor.NewRaw(tensor.Shape{4}, tensor.Int64, tensor.CPU)
	require.NoError(t, err)
	copy(x.AsInt64(), []int64{10, 11, 12, 13})
	out := b.IndexSelect(x, 0, []int{3, 1})
	assert.Equal(t, []int64{13, 11}, out.AsInt64())
}

func TestReshapeSharesStorage(t *testing.T) {
	b := New()
	x := raw(t, []float32{1, 2, 3, 4}, 2, 2)
	y := b.Reshape(x, tensor.Shape{4})
	assert.NotSame(t, x, y)
	assert.Equal(t, tensor.Shape{4}, y.Shape())
	assert.Panics(t, func() { b.Reshape(x, tensor.Shape{3}) })
}
