// Package device abstracts where a training step runs. The trainer places
// every batch through a Context and hands it the per-shard gradients; whether
// one shard or many were computed is invisible to the training loop.
package device

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/capsnet/internal/dataset"
	"github.com/born-ml/capsnet/internal/tensor"
)

// Gradients maps parameter storage to its gradient, as produced by the tape.
type Gradients = map[*tensor.RawTensor]*tensor.RawTensor

// Context places batches and aggregates gradients.
type Context interface {
	// Name describes the context for logs.
	Name() string

	// Replicas returns the number of model replicas.
	Replicas() int

	// Place splits a batch into one non-empty shard per replica.
	Place(batch dataset.Batch) []dataset.Batch

	// Aggregate combines the gradients of every shard into gradients of the
	// mean loss over the whole batch. sizes[i] is the sample count of shard i.
	Aggregate(grads []Gradients, sizes []int) Gradients
}

// New returns the context for the given flags. Only the CPU backend is
// available, so useGPU falls back to the host with a warning; multiGPU
// selects in-process data-parallel replication over replicas shards.
func New(useGPU, multiGPU bool, replicas int, logger *slog.Logger) Context {
	if logger == nil {
		logger = slog.Default()
	}
	if useGPU {
		logger.Warn("GPU backend not available, running on CPU")
	}
	if multiGPU && replicas > 1 {
		return NewReplicated(replicas)
	}
	return Single{}
}

// Single runs every batch as one shard.
type Single struct{}

// Name returns "cpu".
func (Single) Name() string { return "cpu" }

// Replicas returns 1.
func (Single) Replicas() int { return 1 }

// Place returns the batch unchanged.
func (Single) Place(batch dataset.Batch) []dataset.Batch {
	return []dataset.Batch{batch}
}

// Aggregate returns the only shard's gradients.
func (Single) Aggregate(grads []Gradients, _ []int) Gradients {
	if len(grads) != 1 {
		panic(fmt.Sprintf("device: single context got %d gradient sets", len(grads)))
	}
	return grads[0]
}

// Replicated splits each batch across N replicas of the model sharing one
// set of parameters and averages their gradients weighted by shard size.
type Replicated struct {
	replicas int
}

// NewReplicated creates a data-parallel context with n replicas.
func NewReplicated(n int) *Replicated {
	if n < 1 {
		panic(fmt.Sprintf("device: replicas must be positive, got %d", n))
	}
	return &Replicated{replicas: n}
}

// Name returns "cpu×N".
func (r *Replicated) Name() string {
	return fmt.Sprintf("cpu×%d", r.replicas)
}

// Replicas returns N.
func (r *Replicated) Replicas() int {
	return r.replicas
}

// Place splits the batch into at most N contiguous shards of near-equal size.
func (r *Replicated) Place(batch dataset.Batch) []dataset.Batch {
	n := batch.Size()
	shards := min(r.replicas, n)
	if shards <= 1 {
		return []dataset.Batch{batch}
	}
	out := make([]dataset.Batch, 0, shards)
	per, extra := n/shards, n%shards
	start := 0
	for i := 0; i < shards; i++ {
		end := start + per
		if i < extra {
			end++
		}
		out = append(out, batch.Slice(start, end))
		start = end
	}
	return out
}

// Aggregate returns Σ_i (sizes[i]/Σ sizes)·grads[i] for every parameter.
func (r *Replicated) Aggregate(grads []Gradients, sizes []int) Gradients {
	if len(grads) != len(sizes) || len(grads) == 0 {
		panic(fmt.Sprintf("device: %d gradient sets for %d shards", len(grads), len(sizes)))
	}
	if len(grads) == 1 {
		return grads[0]
	}
	total := 0
	for _, s := range sizes {
		total += s
	}

	out := make(Gradients)
	for i, shard := range grads {
		weight := float32(sizes[i]) / float32(total)
		for key, g := range shard {
			acc, ok := out[key]
			if !ok {
				var err error
				acc, err = tensor.NewRaw(g.Shape(), tensor.Float32, g.Device())
				if err != nil {
					panic(fmt.Sprintf("device: %v", err))
				}
				out[key] = acc
			}
			if !acc.Shape().Equal(g.Shape()) {
				panic(fmt.Sprintf("device: gradient shape %v does not match %v", g.Shape(), acc.Shape()))
			}
			blas32.Axpy(weight, vector(g.AsFloat32()), vector(acc.AsFloat32()))
		}
	}
	return out
}

func vector(data []float32) blas32.Vector {
	return blas32.Vector{N: len(data), Data: data, Inc: 1}
}

// WeightedMean averages per-shard values weighted by shard size.
func WeightedMean(values []float64, sizes []int) float64 {
	var sum float64
	total := 0
	for i, v := range values {
		sum += v * float64(sizes[i])
		total += sizes[i]
	}
	if total == 0 {
		return 0
	}
	return sum / float64(total)
}
