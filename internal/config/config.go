// Package config holds the runtime knobs of a training run.
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/capsnet/internal/loss"
	"github.com/born-ml/capsnet/internal/model"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	Model        string  `yaml:"model"` // NIPS2017 or ICLR2018
	LearningRate float64 `yaml:"learning_rate"`
	LRDecay      float64 `yaml:"lr_decay"`
	NumClasses   int     `yaml:"num_classes"`
	NumRouting   int     `yaml:"num_routing"`
	Loss         string  `yaml:"loss"`
	UseGPU       bool    `yaml:"use_gpu"`
	MultiGPU     bool    `yaml:"multi_gpu"`
	Replicas     int     `yaml:"replicas"`

	Epochs     int   `yaml:"epochs"`
	BatchSize  int   `yaml:"batch_size"`
	Seed       int64 `yaml:"seed"`
	LogEvery   int   `yaml:"log_every"`
	MaxSamples int   `yaml:"max_samples"` // per partition, 0 = all

	Dataset string `yaml:"dataset"` // mnist or synthetic
	DataDir string `yaml:"data_dir"`
	SaveDir string `yaml:"save_dir"`
	LogDir  string `yaml:"log_dir"`
	RunID   string `yaml:"run_id"`
	Plot    bool   `yaml:"plot"`

	// Optional architecture overrides; zero keeps the published default.
	Network NetworkConfig `yaml:"network"`
}

// NetworkConfig overrides model hyper-parameters.
type NetworkConfig struct {
	Channels     int `yaml:"channels"`
	PrimaryDim   int `yaml:"primary_dim"`
	OutDim       int `yaml:"out_dim"`
	KernelSize   int `yaml:"kernel_size"`
	A            int `yaml:"A"`
	B            int `yaml:"B"`
	C            int `yaml:"C"`
	D            int `yaml:"D"`
	Out1Features int `yaml:"out1_features"`
	Out2Features int `yaml:"out2_features"`
}

// Overrides captures CLI supplied values. Nil fields leave the loaded value
// untouched, so explicit zero values such as -seed 0 or -gpu=false still apply.
type Overrides struct {
	Model        *string
	LearningRate *float64
	LRDecay      *float64
	NumRouting   *int
	Loss         *string
	Epochs       *int
	BatchSize    *int
	Seed         *int64
	MaxSamples   *int
	Dataset      *string
	DataDir      *string
	SaveDir      *string
	LogDir       *string
	UseGPU       *bool
	MultiGPU     *bool
	Replicas     *int
	Plot         *bool
}

// Default returns the configuration of the reference MNIST run.
func Default() *Config {
	return &Config{
		Model:        model.NIPS2017.String(),
		LearningRate: 0.001,
		LRDecay:      0.96,
		NumClasses:   10,
		NumRouting:   3,
		Loss:         loss.MarginLoss.String(),
		Replicas:     2,
		Epochs:       30,
		BatchSize:    128,
		Seed:         1,
		LogEvery:     1,
		Dataset:      "mnist",
		DataDir:      "data",
		SaveDir:      "checkpoints",
		LogDir:       "logs",
	}
}

// Load reads a YAML file on top of Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: config path comes from the command line
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "decode yaml")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	return data, errors.Wrap(err, "encode yaml")
}

// ApplyOverrides copies every non-nil override into c.
func (c *Config) ApplyOverrides(o Overrides) {
	override(&c.Model, o.Model)
	override(&c.LearningRate, o.LearningRate)
	override(&c.LRDecay, o.LRDecay)
	override(&c.NumRouting, o.NumRouting)
	override(&c.Loss, o.Loss)
	override(&c.Epochs, o.Epochs)
	override(&c.BatchSize, o.BatchSize)
	override(&c.Seed, o.Seed)
	override(&c.MaxSamples, o.MaxSamples)
	override(&c.Dataset, o.Dataset)
	override(&c.DataDir, o.DataDir)
	override(&c.SaveDir, o.SaveDir)
	override(&c.LogDir, o.LogDir)
	override(&c.UseGPU, o.UseGPU)
	override(&c.MultiGPU, o.MultiGPU)
	override(&c.Replicas, o.Replicas)
	override(&c.Plot, o.Plot)
}

func override[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Validate verifies the config is runnable and fills in derived defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if _, err := model.ParseArchitecture(c.Model); err != nil {
		return err
	}
	if _, err := loss.ParseKind(c.Loss); err != nil {
		return err
	}
	switch {
	case c.LearningRate <= 0:
		return errors.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	case c.LRDecay <= 0 || c.LRDecay > 1:
		return errors.Errorf("lr_decay must be in (0, 1] (got %g)", c.LRDecay)
	case c.NumClasses < 2:
		return errors.Errorf("num_classes must be >= 2 (got %d)", c.NumClasses)
	case c.NumRouting < 1:
		return errors.Errorf("num_routing must be >= 1 (got %d)", c.NumRouting)
	case c.Epochs <= 0:
		return errors.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	case c.BatchSize <= 0:
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	case c.MaxSamples < 0:
		return errors.Errorf("max_samples must be >= 0 (got %d)", c.MaxSamples)
	case c.MultiGPU && c.Replicas < 2:
		return errors.Errorf("multi_gpu needs replicas >= 2 (got %d)", c.Replicas)
	}
	switch c.Dataset {
	case "mnist", "synthetic":
	default:
		return errors.Errorf("unknown dataset %q", c.Dataset)
	}
	if c.SaveDir == "" {
		return errors.New("save_dir must be set")
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 1
	}
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
	return nil
}

// Architecture returns the parsed model name. Call after Validate.
func (c *Config) Architecture() model.Architecture {
	arch, _ := model.ParseArchitecture(c.Model)
	return arch
}

// LossKind returns the parsed loss name. Call after Validate.
func (c *Config) LossKind() loss.Kind {
	kind, _ := loss.ParseKind(c.Loss)
	return kind
}

// ModelConfig returns the network configuration for images of imageShape.
func (c *Config) ModelConfig(imageShape []int) model.Config {
	mc := model.DefaultConfig(c.Architecture(), imageShape, c.NumClasses, c.NumRouting)
	n := c.Network
	overrides := []struct {
		dst *int
		src int
	}{
		{&mc.Channels, n.Channels},
		{&mc.PrimaryDim, n.PrimaryDim},
		{&mc.OutDim, n.OutDim},
		{&mc.KernelSize, n.KernelSize},
		{&mc.ConvChannels, n.A},
		{&mc.PrimaryCaps, n.B},
		{&mc.ConvCaps1, n.C},
		{&mc.ConvCaps2, n.D},
		{&mc.Out1Features, n.Out1Features},
		{&mc.Out2Features, n.Out2Features},
	}
	for _, o := range overrides {
		if o.src > 0 {
			*o.dst = o.src
		}
	}
	return mc
}
