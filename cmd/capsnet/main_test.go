package main

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/capsnet/internal/config"
)

func TestExplicitZeroFlagsOverrideConfig(t *testing.T) {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	seed := fs.Int64("seed", 0, "")
	gpu := fs.Bool("gpu", false, "")
	epochs := fs.Int("epochs", 0, "")
	require.NoError(t, fs.Parse([]string{"-seed", "0", "-gpu=false"}))

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg := config.Default()
	cfg.Seed, cfg.UseGPU, cfg.Epochs = 42, true, 7
	cfg.ApplyOverrides(config.Overrides{
		Seed:   ifSet(set, "seed", seed),
		UseGPU: ifSet(set, "gpu", gpu),
		Epochs: ifSet(set, "epochs", epochs),
	})

	assert.Equal(t, int64(0), cfg.Seed)
	assert.False(t, cfg.UseGPU)
	assert.Equal(t, 7, cfg.Epochs)
}

func TestScheduleFromMetadata(t *testing.T) {
	s := scheduleFrom(map[string]string{"lambda": "0.5", "m": "0.7"})
	assert.InDelta(t, 0.5, s.Lambda, 1e-6)
	assert.InDelta(t, 0.7, s.M, 1e-6)

	s = scheduleFrom(nil)
	assert.InDelta(t, 0.001, s.Lambda, 1e-6)
	assert.InDelta(t, 0.2, s.M, 1e-6)
}
