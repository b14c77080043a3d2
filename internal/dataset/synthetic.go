package dataset

import (
	"math/rand"

	"github.com/pkg/errors"
)

// NewSynthetic generates n noisy images of the given shape in numClasses
// classes. Every class lights a different horizontal band, so the task is
// learnable by any convolutional model.
func NewSynthetic(n, numClasses int, shape []int, seed int64) (*InMemory, error) {
	if n <= 0 || numClasses <= 0 {
		return nil, errors.Errorf("synthetic dataset needs positive size and classes, got %d and %d", n, numClasses)
	}
	if len(shape) != 3 || shape[1] < numClasses {
		return nil, errors.Errorf("synthetic dataset: shape %v must be [C, H, W] with H ≥ %d", shape, numClasses)
	}

	rng := rand.New(rand.NewSource(seed))
	c, h, w := shape[0], shape[1], shape[2]
	size := c * h * w
	band := h / numClasses

	images := make([]float32, n*size)
	labels := make([]int64, n)
	for i := 0; i < n; i++ {
		label := i % numClasses
		labels[i] = int64(label)
		img := images[i*size : (i+1)*size]
		for ch := 0; ch < c; ch++ {
			for y := 0; y < h; y++ {
				on := y >= label*band && y < (label+1)*band
				for x := 0; x < w; x++ {
					v := rng.Float32() * 0.2
					if on {
						v += 0.8
					}
					img[(ch*h+y)*w+x] = v
				}
			}
		}
	}
	return NewInMemory(images, labels, shape)
}
