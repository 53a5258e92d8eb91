// Package config holds the settings of a training run.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pascalrobust/advtrain/checkpoints"
	"github.com/pascalrobust/advtrain/optimizer"
	"github.com/pascalrobust/advtrain/training"
)

// Tricks select dataset augmentation variants.
const (
	TricksNone      = "None"
	TricksCutOff    = "cut-off"
	TricksCutOut    = "cut-out"
	TricksSmoothing = "smoothing"
	TricksAll       = "all"
)

// Tricks lists the accepted tricks values.
var Tricks = []string{TricksNone, TricksCutOff, TricksCutOut, TricksSmoothing, TricksAll}

// Dataset sources.
const (
	DatasetVOC       = "voc"
	DatasetSynthetic = "synthetic"
)

// Datasets lists the accepted dataset sources.
var Datasets = []string{DatasetVOC, DatasetSynthetic}

// Log formats.
var LogFormats = []string{"console", "json"}

// TrainSplit is the share of the dataset, taken from the front, used for
// training; the rest validates.
const TrainSplit = 0.7

// Config is the complete description of a run.
type Config struct {
	Mode         string `yaml:"mode" json:"mode"`
	Optim        string `yaml:"optim" json:"optim"`
	LossFunction string `yaml:"loss_function" json:"loss_function"`
	Epochs       int    `yaml:"epochs" json:"epochs"`
	Method       string `yaml:"method" json:"method"`
	Exp          string `yaml:"exp" json:"exp"`
	Tricks       string `yaml:"tricks" json:"tricks"`
	BatchTrain   int    `yaml:"batch_train" json:"batch_train"`
	BatchVal     int    `yaml:"batch_val" json:"batch_val"`

	Data       DataConfig       `yaml:"data" json:"data"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`
	Output     OutputConfig     `yaml:"output" json:"output"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`

	LRSchedule string `yaml:"lr_schedule" json:"lr_schedule"`
	Seed       int64  `yaml:"seed" json:"seed"`
	Workers    int    `yaml:"workers" json:"workers"`
}

// DataConfig locates and shapes the dataset.
type DataConfig struct {
	Source        string `yaml:"source" json:"source"`
	Root          string `yaml:"root" json:"root"`
	ImageSize     int    `yaml:"image_size" json:"image_size"`
	SyntheticSize int    `yaml:"synthetic_size" json:"synthetic_size"`
	SampleLimit   int    `yaml:"sample_limit" json:"sample_limit"` // 0 uses every sample
	CacheSize     int    `yaml:"cache_size" json:"cache_size"`     // decoded samples kept in memory
}

// CheckpointConfig controls where checkpoints go.
type CheckpointConfig struct {
	Dir     string `yaml:"dir" json:"dir"`
	Format  string `yaml:"format" json:"format"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Epochs  []int  `yaml:"epochs" json:"epochs"`
}

// OutputConfig controls result artifacts and the run log.
type OutputConfig struct {
	Dir       string `yaml:"dir" json:"dir"`
	HistoryDB string `yaml:"history_db" json:"history_db"` // empty disables the run log
	Progress  bool   `yaml:"progress" json:"progress"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Mode:         training.ModeSegmentation,
		Optim:        optimizer.NameRAdam,
		LossFunction: training.LossBCE,
		Epochs:       50,
		Method:       training.MethodAdversarial,
		Exp:          "Test",
		Tricks:       TricksNone,
		BatchTrain:   32,
		BatchVal:     16,
		Data: DataConfig{
			Source:        DatasetVOC,
			Root:          "seg_da/VOCdevkit/VOC2010",
			ImageSize:     256,
			SyntheticSize: 64,
			CacheSize:     0,
		},
		Checkpoint: CheckpointConfig{
			Dir:     "./",
			Format:  checkpoints.FormatProto.String(),
			Pattern: checkpoints.DefaultNamePattern,
			Epochs:  checkpoints.DefaultPolicy().Sorted(),
		},
		Output: OutputConfig{
			Dir: ".",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		LRSchedule: training.SchedulerNone,
		Seed:       1,
		Workers:    1,
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// YAML renders the configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// CutOut reports whether training images get the cut-out trick.
func (c *Config) CutOut() bool {
	return c.Tricks == TricksCutOff || c.Tricks == TricksCutOut || c.Tricks == TricksAll
}

// Smoothing reports whether classification targets are smoothed.
func (c *Config) Smoothing() bool {
	return c.Tricks == TricksSmoothing || c.Tricks == TricksAll
}

// FieldError describes one invalid setting.
type FieldError struct {
	Field   string
	Value   interface{}
	Allowed []string // empty when the constraint is not a choice
	Reason  string
}

func (f FieldError) String() string {
	if len(f.Allowed) > 0 {
		return fmt.Sprintf("%s=%v (allowed: %s)", f.Field, f.Value, strings.Join(f.Allowed, ", "))
	}
	return fmt.Sprintf("%s=%v (%s)", f.Field, f.Value, f.Reason)
}

// Error lists every invalid field of a Config.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Has reports whether field is among the invalid fields.
func (e *Error) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// Validate checks every field and returns a *Error naming all invalid ones.
func (c *Config) Validate() error {
	var errs []FieldError
	choice := func(field, value string, allowed []string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, FieldError{Field: field, Value: fmt.Sprintf("%q", value), Allowed: allowed})
	}
	positive := func(field string, value int) {
		if value <= 0 {
			errs = append(errs, FieldError{Field: field, Value: value, Reason: "must be positive"})
		}
	}

	choice("mode", c.Mode, training.Modes)
	choice("optim", c.Optim, optimizer.Names)
	choice("loss_function", c.LossFunction, training.LossNames)
	choice("tricks", c.Tricks, Tricks)
	choice("data.source", c.Data.Source, Datasets)
	choice("lr_schedule", c.LRSchedule, training.SchedulerNames)
	choice("logging.format", c.Logging.Format, LogFormats)
	if _, err := checkpoints.ParseFormat(c.Checkpoint.Format); err != nil {
		errs = append(errs, FieldError{Field: "checkpoint.format", Value: fmt.Sprintf("%q", c.Checkpoint.Format), Allowed: []string{"proto", "json"}})
	}

	positive("epochs", c.Epochs)
	positive("batch_train", c.BatchTrain)
	positive("batch_val", c.BatchVal)
	positive("data.image_size", c.Data.ImageSize)
	positive("workers", c.Workers)
	if c.Data.Source == DatasetSynthetic {
		positive("data.synthetic_size", c.Data.SyntheticSize)
	}
	if c.Data.SampleLimit < 0 {
		errs = append(errs, FieldError{Field: "data.sample_limit", Value: c.Data.SampleLimit, Reason: "must not be negative"})
	}
	if c.Exp == "" {
		errs = append(errs, FieldError{Field: "exp", Value: `""`, Reason: "must not be empty"})
	}
	for _, e := range c.Checkpoint.Epochs {
		if e < 0 {
			errs = append(errs, FieldError{Field: "checkpoint.epochs", Value: e, Reason: "must not be negative"})
			break
		}
	}

	if len(errs) > 0 {
		return &Error{Fields: errs}
	}
	return nil
}
