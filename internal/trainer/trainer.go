// Package trainer runs the train/evaluate loop of a capsule network.
//
// One epoch is a train phase followed by an eval phase over the matching
// partitions. After the last epoch the network is checkpointed and the test
// partition is scored once more per class.
package trainer

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/born-ml/capsnet/internal/autodiff"
	"github.com/born-ml/capsnet/internal/checkpoint"
	"github.com/born-ml/capsnet/internal/dataset"
	"github.com/born-ml/capsnet/internal/device"
	"github.com/born-ml/capsnet/internal/loss"
	"github.com/born-ml/capsnet/internal/metrics"
	"github.com/born-ml/capsnet/internal/model"
	"github.com/born-ml/capsnet/internal/nn"
	"github.com/born-ml/capsnet/internal/optim"
	"github.com/born-ml/capsnet/internal/tensor"
)

// Options configures a Trainer.
type Options struct {
	// Model describes the network. ImageShape is taken from the train
	// partition when empty.
	Model model.Config

	LearningRate float64
	LRDecay      float64
	Loss         loss.Kind

	UseGPU   bool
	MultiGPU bool
	Replicas int

	Seed     int64
	LogEvery int // batches between train progress records, 0 = every batch
	Logger   *slog.Logger

	// Now stamps checkpoint names; defaults to time.Now.
	Now func() time.Time
}

// Report summarizes a finished run.
type Report struct {
	Accuracy   float64 // test accuracy of the last epoch
	ErrorRate  float64
	Checkpoint string
	Classes    []metrics.ClassAccuracy
	History    *metrics.History
	Schedule   model.Schedule
	LR         float32
}

// Trainer owns the network, optimizer and schedule of one run.
type Trainer[B tensor.Backend] struct {
	backend   *autodiff.AutodiffBackend[B]
	loaders   dataset.Loaders
	net       model.Network[*autodiff.AutodiffBackend[B]]
	criterion *loss.Criterion[*autodiff.AutodiffBackend[B]]
	optimizer *optim.Adam[*autodiff.AutodiffBackend[B]]
	scheduler *optim.ExponentialLR
	compute   device.Context
	schedule  model.Schedule
	opts      Options
	logger    *slog.Logger
}

// New builds the network for the train partition's sample shape together
// with its criterion, Adam optimizer, learning-rate decay and compute context.
func New[B tensor.Backend](loaders dataset.Loaders, opts Options, backend B) (*Trainer[B], error) {
	if loaders.Train == nil || loaders.Test == nil {
		return nil, errors.New("trainer: both train and test loaders are required")
	}
	if opts.LearningRate <= 0 {
		return nil, errors.Errorf("trainer: learning rate must be positive, got %g", opts.LearningRate)
	}
	if opts.LRDecay <= 0 {
		return nil, errors.Errorf("trainer: lr decay must be positive, got %g", opts.LRDecay)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LogEvery <= 0 {
		opts.LogEvery = 1
	}

	shape := loaders.Train.SampleShape()
	if len(opts.Model.ImageShape) == 0 {
		opts.Model.ImageShape = append([]int(nil), shape...)
	}
	if !tensor.Shape(opts.Model.ImageShape).Equal(tensor.Shape(shape)) {
		return nil, errors.Errorf("trainer: model expects images %v, train partition has %v", opts.Model.ImageShape, shape)
	}

	ad := autodiff.New(backend)
	nn.Seed(opts.Seed)
	net, err := model.New(opts.Model, ad)
	if err != nil {
		return nil, errors.Wrap(err, "trainer: build model")
	}

	arch := opts.Model.Architecture
	adam := optim.NewAdam(net.Parameters(), optim.AdamConfig{
		LR:    float32(opts.LearningRate),
		Betas: [2]float32{0.9, 0.999},
		Eps:   1e-8,
	})

	t := &Trainer[B]{
		backend:   ad,
		loaders:   loaders,
		net:       net,
		criterion: loss.New[*autodiff.AutodiffBackend[B]](opts.Loss, arch.UsesSchedule()),
		optimizer: adam,
		scheduler: optim.NewExponentialLR(adam, opts.LRDecay),
		compute:   device.New(opts.UseGPU, opts.MultiGPU, opts.Replicas, opts.Logger),
		schedule:  model.NewSchedule(),
		opts:      opts,
		logger:    opts.Logger,
	}
	t.logger.Info("model built",
		"architecture", arch.String(),
		"params", nn.CountParameters(net.Parameters()),
		"loss", opts.Loss.String(),
		"device", t.compute.Name())
	return t, nil
}

// Network returns the model being trained.
func (t *Trainer[B]) Network() model.Network[*autodiff.AutodiffBackend[B]] {
	return t.net
}

// Schedule returns the current routing schedule.
func (t *Trainer[B]) Schedule() model.Schedule {
	return t.schedule
}

// LR returns the current learning rate.
func (t *Trainer[B]) LR() float32 {
	return t.optimizer.GetLR()
}

// String describes the network.
func (t *Trainer[B]) String() string {
	return t.net.String()
}

// Train runs epochs train/eval cycles, saves a checkpoint into saveDir and
// scores the test partition per class. loggers receives the per-epoch
// "loss: " and "accuracy: " scalars of each phase and may be nil.
func (t *Trainer[B]) Train(epochs int, classes []string, saveDir string, loggers map[dataset.Partition]metrics.ScalarLogger) (*Report, error) {
	if epochs <= 0 {
		return nil, errors.Errorf("trainer: epochs must be positive, got %d", epochs)
	}
	if len(classes) != t.opts.Model.NumClasses {
		return nil, errors.Errorf("trainer: %d class names for %d classes", len(classes), t.opts.Model.NumClasses)
	}

	history := metrics.NewHistory()
	t.logger.Info("run started", "epochs", epochs, "train_steps", t.loaders.Train.Steps(), "test_steps", t.loaders.Test.Steps())

	var accuracy float64
	for epoch := 1; epoch <= epochs; epoch++ {
		for _, phase := range []dataset.Partition{dataset.Train, dataset.Test} {
			stats := t.runPhase(phase, epoch)
			accuracy = stats.Accuracy()

			t.logger.Info(fmt.Sprintf("%s epoch", phase),
				"epoch", epoch,
				"loss", stats.Loss(),
				"accuracy", accuracy,
				"elapsed", stats.Elapsed.Round(time.Millisecond))

			sink := metrics.Multi{history.Phase(string(phase)), loggers[phase]}
			if err := stats.Log(sink, epoch); err != nil {
				return nil, errors.Wrapf(err, "trainer: log %s scalars", phase)
			}
		}
		t.scheduler.Step()
		t.logger.Debug("learning rate decayed", "epoch", epoch, "lr", t.scheduler.LR())
	}

	report := &Report{
		Accuracy:  accuracy,
		ErrorRate: checkpoint.ErrorRate(accuracy),
		History:   history,
		Schedule:  t.schedule,
		LR:        t.optimizer.GetLR(),
	}

	report.Checkpoint = checkpoint.Path(saveDir, accuracy, t.opts.Now())
	err := checkpoint.Save(report.Checkpoint, t.net, map[string]string{
		"accuracy": fmt.Sprintf("%g", accuracy),
		"epochs":   fmt.Sprintf("%d", epochs),
		"lambda":   fmt.Sprintf("%g", t.schedule.Lambda),
		"m":        fmt.Sprintf("%g", t.schedule.M),
	})
	if err != nil {
		return nil, errors.Wrap(err, "trainer")
	}
	t.logger.Info("checkpoint saved", "path", report.Checkpoint, "error_rate", report.ErrorRate)

	report.Classes = t.Evaluate(classes)
	for _, row := range report.Classes {
		t.logger.Info(row.String())
	}
	return report, nil
}

// Evaluate scores the test partition per class without recording gradients.
func (t *Trainer[B]) Evaluate(classes []string) []metrics.ClassAccuracy {
	t.eval()
	tally := metrics.NewClassTally(classes)
	for batch := range t.loaders.Test.Batches() {
		preds, _ := t.net.Forward(t.images(batch), t.schedule)
		tally.Add(predictions(preds), batch.Labels)
		t.backend.Tape().Clear()
	}
	return tally.Rows()
}

func (t *Trainer[B]) runPhase(phase dataset.Partition, epoch int) metrics.PhaseStats {
	training := phase == dataset.Train
	if training {
		t.train()
	} else {
		t.eval()
	}

	loader := t.loaders.For(phase)
	steps := t.loaders.Train.Steps()
	var stats metrics.PhaseStats
	i := 0
	for batch := range loader.Batches() {
		i++
		if training && t.opts.Model.Architecture.UsesSchedule() {
			t.schedule.Advance(steps)
		}

		start := time.Now()
		var lossValue float64
		var correct int
		if training {
			lossValue, correct = t.trainStep(batch)
		} else {
			lossValue, correct = t.evalStep(batch)
		}
		elapsed := time.Since(start)
		stats.Add(lossValue, correct, batch.Size(), elapsed)

		if training && (i%t.opts.LogEvery == 0 || i == loader.Steps()) {
			t.logger.Info("train batch",
				"epoch", epoch,
				"batch", i,
				"loss", stats.Loss(),
				"accuracy", stats.Accuracy(),
				"elapsed", elapsed.Round(time.Millisecond))
		}
	}
	return stats
}

// trainStep runs forward and backward on every shard of batch, then applies
// one optimizer update with the aggregated gradients.
func (t *Trainer[B]) trainStep(batch dataset.Batch) (float64, int) {
	shards := t.compute.Place(batch)
	grads := make([]device.Gradients, len(shards))
	sizes := make([]int, len(shards))
	losses := make([]float64, len(shards))
	correct := 0

	t.optimizer.ZeroGrad()
	for i, shard := range shards {
		t.backend.Tape().Clear()
		preds, l := t.forward(shard)
		grads[i] = t.parameterGradients(autodiff.Backward(l, t.backend))
		sizes[i] = shard.Size()
		losses[i] = float64(l.Item())
		correct += metrics.CountCorrect(predictions(preds), shard.Labels)
	}
	t.backend.Tape().Clear()

	t.optimizer.Step(t.compute.Aggregate(grads, sizes))
	return device.WeightedMean(losses, sizes), correct
}

// parameterGradients drops the gradients of intermediate tensors.
func (t *Trainer[B]) parameterGradients(all device.Gradients) device.Gradients {
	params := t.net.Parameters()
	out := make(device.Gradients, len(params))
	for _, p := range params {
		if g, ok := all[p.Tensor().Raw()]; ok {
			out[p.Tensor().Raw()] = g
		}
	}
	return out
}

func (t *Trainer[B]) evalStep(batch dataset.Batch) (float64, int) {
	preds, l := t.forward(batch)
	t.backend.Tape().Clear()
	return float64(l.Item()), metrics.CountCorrect(predictions(preds), batch.Labels)
}

func (t *Trainer[B]) forward(batch dataset.Batch) (preds, total *tensor.Tensor[float32, *autodiff.AutodiffBackend[B]]) {
	images := t.images(batch)
	onehot := t.oneHot(batch.Labels)
	preds, recon := t.net.Forward(images, t.schedule)
	return preds, t.criterion.Compute(preds, onehot, images, recon, t.schedule.M)
}

func (t *Trainer[B]) images(batch dataset.Batch) *tensor.Tensor[float32, *autodiff.AutodiffBackend[B]] {
	return tensor.MustFromSlice(batch.Images, tensor.Shape(batch.Shape()), t.backend)
}

func (t *Trainer[B]) oneHot(labels []int64) *tensor.Tensor[float32, *autodiff.AutodiffBackend[B]] {
	idx := make([]int, len(labels))
	for i, l := range labels {
		idx[i] = int(l)
	}
	return tensor.Eye[float32](t.opts.Model.NumClasses, t.backend).IndexSelect(0, idx)
}

// train and eval switch the tape between recording and inference mode.
func (t *Trainer[B]) train() {
	t.backend.Tape().Clear()
	t.backend.Tape().StartRecording()
}

func (t *Trainer[B]) eval() {
	t.backend.Tape().StopRecording()
	t.backend.Tape().Clear()
}

func predictions[B tensor.Backend](preds *tensor.Tensor[float32, B]) []int {
	idx := preds.Argmax(1).Data()
	out := make([]int, len(idx))
	for i, v := range idx {
		out[i] = int(v)
	}
	return out
}
