package checkpoint_test

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/capsnet/internal/backend/cpu"
	"github.com/born-ml/capsnet/internal/checkpoint"
	"github.com/born-ml/capsnet/internal/model"
	"github.com/born-ml/capsnet/internal/nn"
	"github.com/born-ml/capsnet/internal/tensor"
)

func TestFileName(t *testing.T) {
	now := time.Date(2024, 3, 5, 14, 7, 9, 123456000, time.Local)

	assert.Equal(t, "2.0_2024-03-05-14:07:09.123456.pth.tar", checkpoint.FileName(0.98, now))
	assert.Equal(t, "1.25_2024-03-05-14:07:09.123456.pth.tar", checkpoint.FileName(0.9875, now))
	assert.Equal(t, "0.0_2024-03-05-14:07:09.123456.pth.tar", checkpoint.FileName(1, now))
	assert.Equal(t, "100.0_2024-03-05-14:07:09.123456.pth.tar", checkpoint.FileName(0, now))
	assert.Equal(t, filepath.Join("runs", checkpoint.FileName(0.5, now)), checkpoint.Path("runs", 0.5, now))
}

func TestErrorRateRoundsToTwoDecimals(t *testing.T) {
	assert.InDelta(t, 1.23, checkpoint.ErrorRate(0.98766), 1e-9)
	assert.InDelta(t, 50.0, checkpoint.ErrorRate(0.5), 1e-9)
}

func smallConfig(arch model.Architecture) model.Config {
	cfg := model.DefaultConfig(arch, []int{1, 28, 28}, 10, 2)
	cfg.Channels = 16
	cfg.ConvChannels = 8
	cfg.PrimaryCaps = 4
	cfg.ConvCaps1 = 4
	cfg.ConvCaps2 = 4
	cfg.Out1Features = 32
	cfg.Out2Features = 64
	return cfg
}

func TestRoundTripReproducesPredictions(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(3))
	x := tensor.Randn[float32](tensor.Shape{2, 1, 28, 28}, rng, backend)

	for _, arch := range []model.Architecture{model.NIPS2017, model.ICLR2018} {
		t.Run(arch.String(), func(t *testing.T) {
			nn.Seed(1)
			net, err := model.New(smallConfig(arch), backend)
			require.NoError(t, err)
			schedule := model.NewSchedule()
			wantPreds, wantRecon := net.Forward(x, schedule)

			path := filepath.Join(t.TempDir(), checkpoint.FileName(0.9, time.Now()))
			require.NoError(t, checkpoint.Save(path, net, map[string]string{"run_id": "abc"}))

			nn.Seed(99)
			loaded, header, err := checkpoint.Load(path, backend)
			require.NoError(t, err)
			assert.Equal(t, arch.String(), header.ModelType)
			assert.Equal(t, "abc", header.Metadata["run_id"])
			assert.Equal(t, net.Config(), loaded.Config())

			gotPreds, gotRecon := loaded.Forward(x, schedule)
			assert.Equal(t, wantPreds.Data(), gotPreds.Data())
			assert.Equal(t, wantRecon.Data(), gotRecon.Data())
		})
	}
}

func TestLoadErrors(t *testing.T) {
	backend := cpu.New()
	dir := t.TempDir()

	_, _, err := checkpoint.Load(filepath.Join(dir, "missing.pth.tar"), backend)
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.pth.tar")
	require.NoError(t, os.WriteFile(garbage, []byte("not a checkpoint"), 0o600))
	_, _, err = checkpoint.Load(garbage, backend)
	assert.Error(t, err)
}
