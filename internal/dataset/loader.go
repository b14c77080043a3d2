package dataset

import (
	"iter"
	"math/rand"

	"github.com/pkg/errors"
)

// Loader yields a dataset once per epoch in batches.
type Loader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
}

// NewLoader creates a loader. With shuffle the sample order is redrawn
// every epoch from a generator seeded with seed.
func NewLoader(dataset Dataset, batchSize int, shuffle bool, seed int64) (*Loader, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", batchSize)
	}
	if dataset.Len() == 0 {
		return nil, errors.New("dataset is empty")
	}
	return &Loader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// Steps returns the number of batches per epoch.
func (l *Loader) Steps() int {
	return (l.dataset.Len() + l.batchSize - 1) / l.batchSize
}

// Len returns the number of samples per epoch.
func (l *Loader) Len() int {
	return l.dataset.Len()
}

// SampleShape returns the image shape [C, H, W].
func (l *Loader) SampleShape() []int {
	return l.dataset.SampleShape()
}

// Batches iterates one epoch. The last batch may be smaller.
func (l *Loader) Batches() iter.Seq[Batch] {
	n := l.dataset.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if l.shuffle {
		l.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	shape := l.dataset.SampleShape()
	size := shape[0] * shape[1] * shape[2]
	return func(yield func(Batch) bool) {
		for start := 0; start < n; start += l.batchSize {
			end := min(start+l.batchSize, n)
			b := Batch{
				Images:      make([]float32, (end-start)*size),
				Labels:      make([]int64, end-start),
				SampleShape: shape,
			}
			for k, idx := range order[start:end] {
				b.Labels[k] = l.dataset.Sample(idx, b.Images[k*size:(k+1)*size])
			}
			if !yield(b) {
				return
			}
		}
	}
}

// Loaders holds the loader of each partition.
type Loaders struct {
	Train *Loader
	Test  *Loader
}

// For returns the loader of partition p.
func (l Loaders) For(p Partition) *Loader {
	if p == Train {
		return l.Train
	}
	return l.Test
}
