// Package config loads the training configuration from YAML files and
// provides default values.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents a training run loaded from YAML
type Config struct {
	// Model selects the network variant and its constructor arguments
	Model struct {
		Name string `yaml:"name"`
		Args struct {
			InChannels  int     `yaml:"inChannels"`
			OutChannels int     `yaml:"outChannels"`
			Hidden      int     `yaml:"hidden"`
			DropoutRate float64 `yaml:"dropoutRate"`
		} `yaml:"args"`
	} `yaml:"model"`

	Optimizer struct {
		Name        string  `yaml:"name"`
		LR          float64 `yaml:"lr"`
		Momentum    float64 `yaml:"momentum"`
		Beta1       float64 `yaml:"beta1"`
		Beta2       float64 `yaml:"beta2"`
		Eps         float64 `yaml:"eps"`
		WeightDecay float64 `yaml:"weightDecay"`
	} `yaml:"optimizer"`

	// Metrics are evaluated in the listed order
	Metrics []Metric `yaml:"metrics"`

	// Reg maps a regularizer name (l1, l2) to its weight
	Reg map[string]float64 `yaml:"reg,omitempty"`

	// Device must be "cpu"
	Device string `yaml:"device"`
	Seed   int64  `yaml:"seed"`

	Training struct {
		Epochs     int    `yaml:"epochs"`
		BatchSize  int    `yaml:"batchSize"`
		OutDir     string `yaml:"outDir"`
		SaveEvery  int    `yaml:"saveEvery"`
		NumWorkers int    `yaml:"numWorkers"`
		// OneHot adds a background channel to single-channel masks
		OneHot bool `yaml:"oneHot"`
	} `yaml:"training"`
}

type Metric struct {
	Name      string   `yaml:"name"`
	Threshold *float64 `yaml:"threshold,omitempty"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Model.Name = "Unet"
	cfg.Model.Args.InChannels = 10
	cfg.Model.Args.OutChannels = 2
	cfg.Model.Args.Hidden = 16
	cfg.Model.Args.DropoutRate = 0.2

	cfg.Optimizer.Name = "Adam"
	cfg.Optimizer.LR = 1e-3
	cfg.Optimizer.Beta1 = 0.9
	cfg.Optimizer.Beta2 = 0.999
	cfg.Optimizer.Eps = 1e-8

	half := 0.5
	cfg.Metrics = []Metric{
		{Name: "iou", Threshold: &half},
		{Name: "precision", Threshold: &half},
		{Name: "recall", Threshold: &half},
	}

	cfg.Device = "cpu"
	cfg.Seed = 1

	cfg.Training.Epochs = 10
	cfg.Training.BatchSize = 8
	cfg.Training.OutDir = "checkpoints"
	cfg.Training.SaveEvery = 1
	cfg.Training.NumWorkers = 4
	cfg.Training.OneHot = true

	return cfg
}

// LoadConfig reads a training config over the defaults. Keys absent from
// the file keep their default values. A missing file or an unknown key is
// an error, so a mistyped path never trains the default model.
func LoadConfig(configPath string) (cfg *Config, err error) {
	f, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("training config: %w", err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()

	cfg = DefaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	// an empty file leaves the defaults
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML, creating parent directories.
func SaveConfig(cfg *Config, configPath string) (err error) {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}
	f, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode %s: %w", configPath, err)
	}
	return enc.Close()
}
