package device_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/capsnet/internal/autodiff"
	"github.com/born-ml/capsnet/internal/backend/cpu"
	"github.com/born-ml/capsnet/internal/dataset"
	"github.com/born-ml/capsnet/internal/device"
	"github.com/born-ml/capsnet/internal/tensor"
)

func batch(n int) dataset.Batch {
	b := dataset.Batch{
		Images:      make([]float32, n*2),
		Labels:      make([]int64, n),
		SampleShape: []int{1, 1, 2},
	}
	for i := 0; i < n; i++ {
		b.Images[2*i] = float32(i)
		b.Images[2*i+1] = float32(i) * 10
		b.Labels[i] = int64(i)
	}
	return b
}

func TestNewSelectsContext(t *testing.T) {
	assert.Equal(t, 1, device.New(false, false, 4, nil).Replicas())
	assert.Equal(t, 1, device.New(true, true, 1, nil).Replicas())
	ctx := device.New(false, true, 3, nil)
	assert.Equal(t, 3, ctx.Replicas())
	assert.Equal(t, "cpu×3", ctx.Name())
}

func TestReplicatedPlace(t *testing.T) {
	ctx := device.NewReplicated(3)
	shards := ctx.Place(batch(7))
	require.Len(t, shards, 3)
	assert.Equal(t, []int64{0, 1, 2}, shards[0].Labels)
	assert.Equal(t, []int64{3, 4}, shards[1].Labels)
	assert.Equal(t, []int64{5, 6}, shards[2].Labels)
	assert.Equal(t, []float32{5, 50, 6, 60}, shards[2].Images)

	assert.Len(t, ctx.Place(batch(2)), 2)
	assert.Len(t, device.Single{}.Place(batch(7)), 1)
}

// Gradients of a mean loss aggregated over shards equal the gradients of the
// mean loss over the whole batch.
func TestReplicatedAggregateMatchesSingle(t *testing.T) {
	backend := autodiff.New(cpu.New())
	w := tensor.MustFromSlice([]float32{0.5, -1}, tensor.Shape{2, 1}, backend)

	gradsFor := func(b dataset.Batch) device.Gradients {
		tape := backend.Tape()
		tape.Clear()
		tape.StartRecording()
		defer tape.StopRecording()
		x := tensor.MustFromSlice(b.Images, tensor.Shape{b.Size(), 2}, backend)
		out := x.MatMul(w)
		l := out.Mul(out).Sum().MulScalar(1 / float32(b.Size()))
		return autodiff.Backward(l, backend)
	}

	full := batch(5)
	want := gradsFor(full)[w.Raw()].AsFloat32()

	ctx := device.NewReplicated(2)
	shards := ctx.Place(full)
	var grads []device.Gradients
	var sizes []int
	for _, s := range shards {
		grads = append(grads, gradsFor(s))
		sizes = append(sizes, s.Size())
	}
	got := ctx.Aggregate(grads, sizes)[w.Raw()].AsFloat32()
	assert.InEpsilonSlice(t, want, got, 1e-4)
}

func TestWeightedMean(t *testing.T) {
	assert.InDelta(t, 2.5, device.WeightedMean([]float64{1, 3}, []int{1, 3}), 1e-12)
	assert.Equal(t, 0.0, device.WeightedMean(nil, nil))
}
