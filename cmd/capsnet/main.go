// Package main provides the capsnet CLI.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/capsnet/internal/backend/cpu"
	"github.com/born-ml/capsnet/internal/checkpoint"
	"github.com/born-ml/capsnet/internal/config"
	"github.com/born-ml/capsnet/internal/dataset"
	"github.com/born-ml/capsnet/internal/metrics"
	"github.com/born-ml/capsnet/internal/model"
	"github.com/born-ml/capsnet/internal/tblog"
	"github.com/born-ml/capsnet/internal/tensor"
	"github.com/born-ml/capsnet/internal/trainer"
)

const version = "v0.1.0-dev"

func main() {
	cmd := "train"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "version":
		fmt.Printf("capsnet %s\n", version)
		return
	case "train":
		err = runTrain(args)
	case "eval":
		err = runEval(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\nCommands:\n  train    Train a capsule network (default)\n  eval     Score a checkpoint per class\n  version  Show version\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("capsnet failed", "err", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to YAML config (optional)")
	arch := fs.String("model", "", "Architecture: NIPS2017 or ICLR2018")
	lr := fs.Float64("lr", 0, "Learning rate")
	lrDecay := fs.Float64("lr-decay", 0, "Exponential learning-rate decay per epoch")
	routing := fs.Int("routing", 0, "Routing iterations")
	lossName := fs.String("loss", "", "margin_loss, spread_loss or cross_entropy_loss")
	epochs := fs.Int("epochs", 0, "Number of epochs")
	batchSize := fs.Int("batch", 0, "Batch size")
	seed := fs.Int64("seed", 0, "PRNG seed")
	maxSamples := fs.Int("samples", 0, "Max samples per partition (0 = all)")
	ds := fs.String("dataset", "", "mnist or synthetic")
	dataDir := fs.String("data", "", "Directory containing MNIST IDX files")
	saveDir := fs.String("save-dir", "", "Checkpoint directory")
	logDir := fs.String("log-dir", "", "TensorBoard log directory")
	useGPU := fs.Bool("gpu", false, "Request the GPU backend")
	multiGPU := fs.Bool("multi-gpu", false, "Split batches over replicas")
	replicas := fs.Int("replicas", 0, "Number of replicas for -multi-gpu")
	plot := fs.Bool("plot", false, "Write loss.png and accuracy.png to the log dir")
	verbose := fs.Bool("v", false, "Debug logging")
	_ = fs.Parse(args)

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			return err
		}
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	cfg.ApplyOverrides(config.Overrides{
		Model:        ifSet(set, "model", arch),
		LearningRate: ifSet(set, "lr", lr),
		LRDecay:      ifSet(set, "lr-decay", lrDecay),
		NumRouting:   ifSet(set, "routing", routing),
		Loss:         ifSet(set, "loss", lossName),
		Epochs:       ifSet(set, "epochs", epochs),
		BatchSize:    ifSet(set, "batch", batchSize),
		Seed:         ifSet(set, "seed", seed),
		MaxSamples:   ifSet(set, "samples", maxSamples),
		Dataset:      ifSet(set, "dataset", ds),
		DataDir:      ifSet(set, "data", dataDir),
		SaveDir:      ifSet(set, "save-dir", saveDir),
		LogDir:       ifSet(set, "log-dir", logDir),
		UseGPU:       ifSet(set, "gpu", useGPU),
		MultiGPU:     ifSet(set, "multi-gpu", multiGPU),
		Replicas:     ifSet(set, "replicas", replicas),
		Plot:         ifSet(set, "plot", plot),
	})
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	logger := newLogger(*verbose)
	logger.Info("run configured", "run_id", cfg.RunID, "model", cfg.Model, "dataset", cfg.Dataset, "epochs", cfg.Epochs)

	loaders, classes, err := loadData(cfg)
	if err != nil {
		return err
	}

	tr, err := trainer.New(loaders, trainer.Options{
		Model:        cfg.ModelConfig(loaders.Train.SampleShape()),
		LearningRate: cfg.LearningRate,
		LRDecay:      cfg.LRDecay,
		Loss:         cfg.LossKind(),
		UseGPU:       cfg.UseGPU,
		MultiGPU:     cfg.MultiGPU,
		Replicas:     cfg.Replicas,
		Seed:         cfg.Seed,
		LogEvery:     cfg.LogEvery,
		Logger:       logger,
	}, cpu.New())
	if err != nil {
		return err
	}
	logger.Debug("network", "description", tr.String())

	if err := os.MkdirAll(cfg.SaveDir, 0o750); err != nil {
		return errors.Wrap(err, "create save dir")
	}
	run, err := tblog.OpenRun(cfg.LogDir, cfg.RunID)
	if err != nil {
		return err
	}
	defer run.Close()

	report, err := tr.Train(cfg.Epochs, classes, cfg.SaveDir, map[dataset.Partition]metrics.ScalarLogger{
		dataset.Train: run.Train,
		dataset.Test:  run.Test,
	})
	if err != nil {
		return err
	}
	if cfg.Plot {
		if err := report.History.PlotAll(run.Dir); err != nil {
			return err
		}
	}
	logger.Info("run finished",
		"accuracy", report.Accuracy,
		"error_rate", report.ErrorRate,
		"checkpoint", report.Checkpoint,
		"events", run.Dir)
	return nil
}

func runEval(args []string) error {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	path := fs.String("checkpoint", "", "Checkpoint to score")
	dataDir := fs.String("data", "data", "Directory containing MNIST IDX files")
	synthetic := fs.Bool("synthetic", false, "Score on a synthetic test set")
	batchSize := fs.Int("batch", 128, "Batch size")
	_ = fs.Parse(args)
	if *path == "" {
		return errors.New("eval: -checkpoint is required")
	}

	backend := cpu.New()
	net, header, err := checkpoint.Load(*path, backend)
	if err != nil {
		return err
	}
	logger := newLogger(false)
	logger.Info("checkpoint loaded", "path", *path, "model", header.ModelType, "created", header.CreatedAt)

	cfg := config.Default()
	cfg.DataDir = *dataDir
	cfg.BatchSize = *batchSize
	cfg.NumClasses = net.Config().NumClasses
	if *synthetic {
		cfg.Dataset = "synthetic"
	}
	test, classes, err := loadPartition(cfg, dataset.Test, net.Config().ImageShape)
	if err != nil {
		return err
	}
	loader, err := dataset.NewLoader(test, cfg.BatchSize, false, 0)
	if err != nil {
		return err
	}

	tally := metrics.NewClassTally(classes)
	schedule := scheduleFrom(header.Metadata)
	for batch := range loader.Batches() {
		images, err := tensor.FromSlice(batch.Images, tensor.Shape(batch.Shape()), backend)
		if err != nil {
			return err
		}
		preds, _ := net.Forward(images, schedule)
		labels := preds.Argmax(1).Data()
		predicted := make([]int, len(labels))
		for i, v := range labels {
			predicted[i] = int(v)
		}
		tally.Add(predicted, batch.Labels)
	}
	for _, row := range tally.Rows() {
		fmt.Println(row)
	}
	return nil
}

// ifSet returns v only when the named flag was given on the command line.
func ifSet[T any](set map[string]bool, name string, v *T) *T {
	if set[name] {
		return v
	}
	return nil
}

// scheduleFrom restores the routing schedule recorded in checkpoint metadata.
func scheduleFrom(meta map[string]string) model.Schedule {
	s := model.NewSchedule()
	if v, err := strconv.ParseFloat(meta["lambda"], 32); err == nil {
		s.Lambda = float32(v)
	}
	if v, err := strconv.ParseFloat(meta["m"], 32); err == nil {
		s.M = float32(v)
	}
	return s
}
