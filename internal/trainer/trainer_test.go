package trainer

import (
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/capsnet/internal/backend/cpu"
	"github.com/born-ml/capsnet/internal/checkpoint"
	"github.com/born-ml/capsnet/internal/dataset"
	"github.com/born-ml/capsnet/internal/loss"
	"github.com/born-ml/capsnet/internal/metrics"
	"github.com/born-ml/capsnet/internal/model"
)

var classes = []string{"0", "1", "2"}

func loaders(t *testing.T, n, batchSize int, shape []int) dataset.Loaders {
	t.Helper()
	train, err := dataset.NewSynthetic(n, len(classes), shape, 1)
	require.NoError(t, err)
	test, err := dataset.NewSynthetic(n, len(classes), shape, 2)
	require.NoError(t, err)
	trainLoader, err := dataset.NewLoader(train, batchSize, true, 1)
	require.NoError(t, err)
	testLoader, err := dataset.NewLoader(test, batchSize, false, 0)
	require.NoError(t, err)
	return dataset.Loaders{Train: trainLoader, Test: testLoader}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nipsOptions() Options {
	cfg := model.DefaultConfig(model.NIPS2017, nil, len(classes), 3)
	cfg.Channels = 16
	cfg.KernelSize = 3
	cfg.Out1Features = 32
	cfg.Out2Features = 64
	return Options{
		Model:        cfg,
		LearningRate: 0.005,
		LRDecay:      0.9,
		Loss:         loss.MarginLoss,
		Seed:         1,
		Logger:       quietLogger(),
	}
}

func iclrOptions() Options {
	cfg := model.DefaultConfig(model.ICLR2018, nil, len(classes), 2)
	cfg.ConvChannels = 8
	cfg.PrimaryCaps = 4
	cfg.ConvCaps1 = 4
	cfg.ConvCaps2 = 4
	cfg.Out1Features = 32
	cfg.Out2Features = 64
	return Options{
		Model:        cfg,
		LearningRate: 0.001,
		LRDecay:      0.96,
		Loss:         loss.SpreadLoss,
		Seed:         1,
		Logger:       quietLogger(),
	}
}

func TestLossDecreasesWhileTraining(t *testing.T) {
	data := loaders(t, 6, 6, []int{1, 12, 12})
	tr, err := New(data, nipsOptions(), cpu.New())
	require.NoError(t, err)

	report, err := tr.Train(20, classes, t.TempDir(), nil)
	require.NoError(t, err)

	series := report.History.Series("train", "loss: ")
	require.Len(t, series, 20)
	for _, p := range series {
		assert.False(t, math.IsNaN(p.Value))
		assert.GreaterOrEqual(t, p.Value, 0.0)
	}
	assert.Less(t, series[19].Value, series[0].Value)
	assert.Len(t, report.History.Series("test", "accuracy: "), 20)
}

func TestTrainProducesReport(t *testing.T) {
	data := loaders(t, 6, 4, []int{1, 12, 12})
	opts := nipsOptions()
	stamp := time.Date(2024, 1, 2, 3, 4, 5, 600000000, time.Local)
	opts.Now = func() time.Time { return stamp }
	tr, err := New(data, opts, cpu.New())
	require.NoError(t, err)

	saveDir := t.TempDir()
	history := metrics.NewHistory()
	sinks := map[dataset.Partition]metrics.ScalarLogger{
		dataset.Train: history.Phase("tb-train"),
		dataset.Test:  history.Phase("tb-test"),
	}
	report, err := tr.Train(2, classes, saveDir, sinks)
	require.NoError(t, err)

	assert.Equal(t, checkpoint.Path(saveDir, report.Accuracy, stamp), report.Checkpoint)
	_, err = os.Stat(report.Checkpoint)
	require.NoError(t, err)
	assert.Equal(t, filepath.Dir(report.Checkpoint), saveDir)
	assert.InDelta(t, checkpoint.ErrorRate(report.Accuracy), report.ErrorRate, 1e-12)

	require.Len(t, report.Classes, len(classes))
	total := 0
	for _, row := range report.Classes {
		total += row.Total
	}
	assert.Equal(t, 6, total)

	assert.Len(t, history.Series("tb-train", "loss: "), 2)
	assert.Equal(t, 2, history.Series("tb-test", "accuracy: ")[1].Step)

	// two decays of 0.9
	assert.InDelta(t, 0.005*0.81, report.LR, 1e-7)
	// NIPS2017 never touches the schedule
	assert.Equal(t, model.NewSchedule(), report.Schedule)

	net, _, err := checkpoint.Load(report.Checkpoint, cpu.New())
	require.NoError(t, err)
	assert.Equal(t, tr.Network().Config(), net.Config())
}

func TestScheduleAdvancesOnlyWhileTraining(t *testing.T) {
	// 5 samples in batches of 3: two train steps per epoch.
	data := loaders(t, 5, 3, []int{1, 16, 16})
	tr, err := New(data, iclrOptions(), cpu.New())
	require.NoError(t, err)

	report, err := tr.Train(2, classes, t.TempDir(), nil)
	require.NoError(t, err)

	// 4 train batches, each adding 0.2/2.
	assert.InDelta(t, 0.001+0.4, report.Schedule.Lambda, 1e-5)
	assert.InDelta(t, 0.2+0.4, report.Schedule.M, 1e-5)
	assert.Equal(t, report.Schedule, tr.Schedule())
}

func TestReplicatedTraining(t *testing.T) {
	data := loaders(t, 6, 6, []int{1, 12, 12})
	opts := nipsOptions()
	opts.MultiGPU = true
	opts.Replicas = 3
	tr, err := New(data, opts, cpu.New())
	require.NoError(t, err)

	report, err := tr.Train(1, classes, t.TempDir(), nil)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(report.History.Series("train", "loss: ")[0].Value))
}

func TestNewRejectsBadOptions(t *testing.T) {
	data := loaders(t, 3, 3, []int{1, 12, 12})

	_, err := New(dataset.Loaders{Train: data.Train}, nipsOptions(), cpu.New())
	assert.Error(t, err)

	opts := nipsOptions()
	opts.LearningRate = 0
	_, err = New(data, opts, cpu.New())
	assert.Error(t, err)

	opts = nipsOptions()
	opts.Model.ImageShape = []int{1, 28, 28}
	_, err = New(data, opts, cpu.New())
	assert.ErrorContains(t, err, "train partition")

	opts = nipsOptions()
	opts.Model.PrimaryDim = 7 // 16·4·4 is not divisible by 7
	_, err = New(data, opts, cpu.New())
	assert.Error(t, err)
}

func TestTrainRejectsBadArguments(t *testing.T) {
	data := loaders(t, 3, 3, []int{1, 12, 12})
	tr, err := New(data, nipsOptions(), cpu.New())
	require.NoError(t, err)

	_, err = tr.Train(0, classes, t.TempDir(), nil)
	assert.Error(t, err)
	_, err = tr.Train(1, classes[:2], t.TempDir(), nil)
	assert.Error(t, err)
}
