package main

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/born-ml/capsnet/internal/config"
	"github.com/born-ml/capsnet/internal/dataset"
)

// syntheticSize is the number of samples per synthetic partition when
// max_samples is unset.
const syntheticSize = 1000

var mnistShape = []int{1, 28, 28}

func loadData(cfg *config.Config) (dataset.Loaders, []string, error) {
	train, classes, err := loadPartition(cfg, dataset.Train, mnistShape)
	if err != nil {
		return dataset.Loaders{}, nil, err
	}
	test, _, err := loadPartition(cfg, dataset.Test, mnistShape)
	if err != nil {
		return dataset.Loaders{}, nil, err
	}
	trainLoader, err := dataset.NewLoader(train, cfg.BatchSize, true, cfg.Seed)
	if err != nil {
		return dataset.Loaders{}, nil, err
	}
	testLoader, err := dataset.NewLoader(test, cfg.BatchSize, false, cfg.Seed)
	if err != nil {
		return dataset.Loaders{}, nil, err
	}
	return dataset.Loaders{Train: trainLoader, Test: testLoader}, classes, nil
}

func loadPartition(cfg *config.Config, p dataset.Partition, shape []int) (dataset.Dataset, []string, error) {
	if cfg.Dataset == "synthetic" {
		n := cfg.MaxSamples
		if n == 0 {
			n = syntheticSize
		}
		seed := cfg.Seed
		if p == dataset.Test {
			seed++
		}
		ds, err := dataset.NewSynthetic(n, cfg.NumClasses, shape, seed)
		if err != nil {
			return nil, nil, err
		}
		classes := make([]string, cfg.NumClasses)
		for i := range classes {
			classes[i] = fmt.Sprint(i)
		}
		return ds, classes, nil
	}

	ds, err := dataset.LoadMNIST(cfg.DataDir, p, cfg.MaxSamples)
	if err != nil {
		return nil, nil, errors.Wrap(err, "MNIST files not found? download them into -data or run with -dataset synthetic")
	}
	if cfg.NumClasses != len(dataset.MNISTClasses) {
		return nil, nil, errors.Errorf("MNIST has %d classes, config says %d", len(dataset.MNISTClasses), cfg.NumClasses)
	}
	return ds, dataset.MNISTClasses, nil
}
