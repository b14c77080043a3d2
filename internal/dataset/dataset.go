// Package dataset provides the data-loading side of training:
//   - Dataset and the in-memory implementation
//   - Loader: shuffled fixed-size batches with a known step count
//   - MNIST IDX reader (plain or gzip-compressed files)
//   - a synthetic, learnable image dataset for smoke runs and tests
package dataset

import (
	"fmt"

	"github.com/pkg/errors"
)

// Partition names one of the two data splits.
type Partition string

const (
	Train Partition = "train"
	Test  Partition = "test"
)

// Dataset is a random-access collection of labelled images.
type Dataset interface {
	// Len returns the number of samples.
	Len() int

	// SampleShape returns the image shape [C, H, W].
	SampleShape() []int

	// Sample copies image i into dst (len C·H·W) and returns its label.
	Sample(i int, dst []float32) int64
}

// InMemory is a Dataset backed by one contiguous pixel slice.
type InMemory struct {
	images []float32
	labels []int64
	shape  []int
}

// NewInMemory wraps images laid out [N, C, H, W] and their labels.
func NewInMemory(images []float32, labels []int64, shape []int) (*InMemory, error) {
	if len(shape) != 3 {
		return nil, errors.Errorf("sample shape must be [C, H, W], got %v", shape)
	}
	size := shape[0] * shape[1] * shape[2]
	if size <= 0 {
		return nil, errors.Errorf("invalid sample shape %v", shape)
	}
	if len(images) != len(labels)*size {
		return nil, errors.Errorf("%d pixels do not hold %d samples of shape %v", len(images), len(labels), shape)
	}
	return &InMemory{images: images, labels: labels, shape: append([]int(nil), shape...)}, nil
}

// Len returns the number of samples.
func (d *InMemory) Len() int {
	return len(d.labels)
}

// SampleShape returns [C, H, W].
func (d *InMemory) SampleShape() []int {
	return d.shape
}

// Sample copies image i into dst and returns its label.
func (d *InMemory) Sample(i int, dst []float32) int64 {
	size := len(dst)
	copy(dst, d.images[i*size:(i+1)*size])
	return d.labels[i]
}

// Labels returns every label in order.
func (d *InMemory) Labels() []int64 {
	return d.labels
}

// Batch is a group of samples: Images is laid out [N, C, H, W].
type Batch struct {
	Images      []float32
	Labels      []int64
	SampleShape []int
}

// Size returns the number of samples in the batch.
func (b Batch) Size() int {
	return len(b.Labels)
}

// Shape returns [N, C, H, W].
func (b Batch) Shape() []int {
	return append([]int{b.Size()}, b.SampleShape...)
}

// Slice returns samples [start, end) sharing storage with b.
func (b Batch) Slice(start, end int) Batch {
	if start < 0 || end > b.Size() || start > end {
		panic(fmt.Sprintf("batch: invalid slice [%d:%d] of %d samples", start, end, b.Size()))
	}
	size := len(b.Images) / max(b.Size(), 1)
	return Batch{
		Images:      b.Images[start*size : end*size],
		Labels:      b.Labels[start:end],
		SampleShape: b.SampleShape,
	}
}
