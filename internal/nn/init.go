package nn

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/born-ml/capsnet/internal/tensor"
)

var (
	initMu  sync.Mutex
	initRNG = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Seed resets the generator used by every initializer in this package.
func Seed(seed int64) {
	initMu.Lock()
	defer initMu.Unlock()
	initRNG = rand.New(rand.NewSource(seed))
}

func fill[B tensor.Backend](shape tensor.Shape, backend B, sample func(r *rand.Rand) float64) *tensor.Tensor[float32, B] {
	t := tensor.Zeros[float32](shape, backend)
	data := t.Data()
	initMu.Lock()
	defer initMu.Unlock()
	for i := range data {
		data[i] = float32(sample(initRNG))
	}
	return t
}

// Xavier (Glorot) uniform initialization: U(-b, b) with b = sqrt(6/(fan_in+fan_out)).
func Xavier[B tensor.Backend](fanIn, fanOut int, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	return fill(shape, backend, func(r *rand.Rand) float64 {
		return (r.Float64()*2 - 1) * bound
	})
}

// Uniform draws from U(-bound, bound).
func Uniform[B tensor.Backend](bound float64, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return fill(shape, backend, func(r *rand.Rand) float64 {
		return (r.Float64()*2 - 1) * bound
	})
}

// Normal draws from N(0, std²).
func Normal[B tensor.Backend](std float64, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return fill(shape, backend, func(r *rand.Rand) float64 {
		return r.NormFloat64() * std
	})
}

// Zeros creates a zero-filled float32 tensor, typically for biases.
func Zeros[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Zeros[float32](shape, backend)
}
