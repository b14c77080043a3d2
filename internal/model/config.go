package model

import (
	"fmt"
)

// Config describes a network completely enough to rebuild it from a
// checkpoint.
type Config struct {
	Architecture Architecture `json:"architecture"`
	ImageShape   []int        `json:"image_shape"` // [C, H, W]
	NumClasses   int          `json:"num_classes"`
	NumRouting   int          `json:"num_routing"`

	// NIPS2017.
	Channels   int `json:"channels"`
	PrimaryDim int `json:"primary_dim"`
	OutDim     int `json:"out_dim"`
	KernelSize int `json:"kernel_size"`

	// ICLR2018: A, B, C and D in the paper.
	ConvChannels int `json:"A"`
	PrimaryCaps  int `json:"B"`
	ConvCaps1    int `json:"C"`
	ConvCaps2    int `json:"D"`

	// Reconstruction decoder.
	Out1Features int `json:"out1_features"`
	Out2Features int `json:"out2_features"`
}

// DefaultConfig returns the published hyper-parameters for arch.
func DefaultConfig(arch Architecture, imageShape []int, numClasses, numRouting int) Config {
	return Config{
		Architecture: arch,
		ImageShape:   append([]int(nil), imageShape...),
		NumClasses:   numClasses,
		NumRouting:   numRouting,
		Channels:     256,
		PrimaryDim:   8,
		OutDim:       16,
		KernelSize:   9,
		ConvChannels: 64,
		PrimaryCaps:  8,
		ConvCaps1:    16,
		ConvCaps2:    16,
		Out1Features: 512,
		Out2Features: 1024,
	}
}

// ImageSize returns C·H·W.
func (c Config) ImageSize() int {
	n := 1
	for _, d := range c.ImageShape {
		n *= d
	}
	return n
}

// Validate checks the fields shared by both architectures. Layer geometry
// is checked when the network is built.
func (c Config) Validate() error {
	if len(c.ImageShape) != 3 {
		return fmt.Errorf("image shape must be [C, H, W], got %v", c.ImageShape)
	}
	for _, d := range c.ImageShape {
		if d <= 0 {
			return fmt.Errorf("image shape must be positive, got %v", c.ImageShape)
		}
	}
	if c.NumClasses < 2 {
		return fmt.Errorf("need at least 2 classes, got %d", c.NumClasses)
	}
	if c.NumRouting < 1 {
		return fmt.Errorf("need at least 1 routing iteration, got %d", c.NumRouting)
	}
	if c.Out1Features <= 0 || c.Out2Features <= 0 {
		return fmt.Errorf("decoder widths must be positive, got %d and %d", c.Out1Features, c.Out2Features)
	}
	return nil
}
