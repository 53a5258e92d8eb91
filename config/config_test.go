package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "segmentation", cfg.Mode)
	assert.Equal(t, "radam", cfg.Optim)
	assert.Equal(t, "bce", cfg.LossFunction)
	assert.Equal(t, 50, cfg.Epochs)
	assert.Equal(t, "adv", cfg.Method)
	assert.Equal(t, "Test", cfg.Exp)
	assert.Equal(t, "None", cfg.Tricks)
	assert.Equal(t, 32, cfg.BatchTrain)
	assert.Equal(t, 16, cfg.BatchVal)
	assert.Equal(t, []int{24, 49, 74, 99, 124, 149, 174, 199}, cfg.Checkpoint.Epochs)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	content := `
mode: classification
optim: sgd
epochs: 3
tricks: all
data:
  source: synthetic
  synthetic_size: 20
checkpoint:
  epochs: [0, 2]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "classification", cfg.Mode)
	assert.Equal(t, "sgd", cfg.Optim)
	assert.Equal(t, 3, cfg.Epochs)
	assert.Equal(t, "synthetic", cfg.Data.Source)
	assert.Equal(t, 20, cfg.Data.SyntheticSize)
	assert.Equal(t, []int{0, 2}, cfg.Checkpoint.Epochs)
	// Untouched fields keep their defaults.
	assert.Equal(t, 16, cfg.BatchVal)
	assert.Equal(t, 256, cfg.Data.ImageSize)
	assert.True(t, cfg.CutOut())
	assert.True(t, cfg.Smoothing())
	require.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("epochs: [1"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Exp = "roundtrip"
	data, err := cfg.YAML()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidateListsEveryInvalidField(t *testing.T) {
	cfg := Default()
	cfg.Mode = "detection"
	cfg.Optim = "lbfgs"
	cfg.LossFunction = "focal"
	cfg.Tricks = "mixup"
	cfg.Epochs = 0
	cfg.BatchTrain = -1
	cfg.BatchVal = 0
	cfg.Checkpoint.Format = "onnx"

	err := cfg.Validate()
	var cfgErr *Error
	require.True(t, errors.As(err, &cfgErr), "expected *config.Error, got %v", err)
	for _, field := range []string{"mode", "optim", "loss_function", "tricks", "epochs", "batch_train", "batch_val", "checkpoint.format"} {
		assert.True(t, cfgErr.Has(field), "missing field %s in %v", field, err)
	}
	assert.Len(t, cfgErr.Fields, 8)
	assert.Contains(t, err.Error(), `optim="lbfgs" (allowed: sgd, adam, radam)`)
	assert.Contains(t, err.Error(), "epochs=0 (must be positive)")
}

func TestValidateSyntheticSize(t *testing.T) {
	cfg := Default()
	cfg.Data.Source = DatasetSynthetic
	cfg.Data.SyntheticSize = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, err.(*Error).Has("data.synthetic_size"))
}

func TestTricks(t *testing.T) {
	tests := []struct {
		tricks            string
		cutOut, smoothing bool
	}{
		{TricksNone, false, false},
		{TricksCutOff, true, false},
		{TricksCutOut, true, false},
		{TricksSmoothing, false, true},
		{TricksAll, true, true},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.Tricks = tt.tricks
		assert.Equal(t, tt.cutOut, cfg.CutOut(), tt.tricks)
		assert.Equal(t, tt.smoothing, cfg.Smoothing(), tt.tricks)
	}
}
