// Package config holds the immutable runtime knobs for a training run.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config captures every option recognized at process start.
type Config struct {
	Arch          string   `yaml:"arch"`
	DataRoots     []string `yaml:"data_roots"`
	Synthetic     bool     `yaml:"synthetic"`
	NumLeads      int      `yaml:"num_leads"`
	SeqLen        int      `yaml:"seq_len"`
	Epochs        int      `yaml:"epochs"`
	StepsPerEpoch int      `yaml:"steps_per_epoch"`
	BatchSize     int      `yaml:"batch_size"`
	LearningRate  float64  `yaml:"learning_rate"`
	Temperature   float64  `yaml:"temperature"`
	WarmupEpochs  int      `yaml:"warmup_epochs"`
	CheckpointFreq int     `yaml:"checkpoint_freq"`
	CheckpointDir  string  `yaml:"checkpoint_dir"`
	LeadGroupings  bool    `yaml:"lead_groupings"`
	AvgEmbeddings  bool    `yaml:"avg_embeddings"`
	Pretrained     string  `yaml:"pretrained"`
	NumWorkers     int     `yaml:"num_workers"`
	Seed           int64   `yaml:"seed"`
	LogEvery       int     `yaml:"log_every"`
	MetricsFile    string  `yaml:"metrics_file"`
	OnDivergence   string  `yaml:"on_divergence"`
}

// Overrides captures CLI supplied values; zero values leave the config
// untouched.
type Overrides struct {
	DataRoot     string
	Synthetic    bool
	Epochs       int
	BatchSize    int
	LearningRate float64
	NumWorkers   int
	Seed         int64
	LogEvery     int
}

// Load reads and validates a Config from YAML.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataRoot != "" {
		c.DataRoots = []string{o.DataRoot}
	}
	if o.Synthetic {
		c.Synthetic = true
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
}

// Validate verifies the config is runnable and fills defaults for the
// optional knobs.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if !c.Synthetic && len(c.DataRoots) == 0 {
		return errors.New("either synthetic mode or at least one data root must be set")
	}
	if c.Epochs <= 1 {
		return fmt.Errorf("epochs must be > 1 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.StepsPerEpoch <= 0 {
		return fmt.Errorf("steps_per_epoch must be > 0 (got %d)", c.StepsPerEpoch)
	}
	if c.NumLeads <= 0 {
		return fmt.Errorf("num_leads must be > 0 (got %d)", c.NumLeads)
	}
	if c.SeqLen <= 0 {
		return fmt.Errorf("seq_len must be > 0 (got %d)", c.SeqLen)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.Arch == "" {
		c.Arch = "baseline_conv"
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.1
	}
	if c.WarmupEpochs < 0 {
		return fmt.Errorf("warmup_epochs must be >= 0 (got %d)", c.WarmupEpochs)
	}
	if c.CheckpointFreq <= 0 {
		c.CheckpointFreq = 10
	}
	if c.CheckpointDir == "" {
		c.CheckpointDir = "checkpoints"
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = 1
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 50
	}
	switch c.OnDivergence {
	case "":
		c.OnDivergence = "halt"
	case "halt", "skip":
	default:
		return fmt.Errorf("on_divergence must be halt or skip (got %q)", c.OnDivergence)
	}
	return nil
}
