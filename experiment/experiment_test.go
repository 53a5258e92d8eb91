package experiment

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pascalrobust/advtrain/checkpoints"
	"github.com/pascalrobust/advtrain/config"
	"github.com/pascalrobust/advtrain/results"
	"github.com/pascalrobust/advtrain/runlog"
)

func syntheticConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Data.Source = config.DatasetSynthetic
	cfg.Data.SyntheticSize = 10
	cfg.Data.ImageSize = 8
	cfg.Epochs = 1
	cfg.BatchTrain = 2
	cfg.BatchVal = 2
	cfg.Method = "plain"
	cfg.Checkpoint.Dir = filepath.Join(dir, "ckpt")
	cfg.Output.Dir = filepath.Join(dir, "out")
	return cfg
}

func TestRunSyntheticSegmentation(t *testing.T) {
	cfg := syntheticConfig(t)

	res, err := Run(cfg, zaptest.NewLogger(t), Options{})
	require.NoError(t, err)

	h := res.History
	require.Equal(t, 1, h.Len())
	for _, v := range []float64{h.TrainLoss[0], h.ValLoss[0]} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		assert.GreaterOrEqual(t, v, 0.0)
	}
	assert.Empty(t, res.Checkpoints)
	assert.Empty(t, res.RunID)

	require.Len(t, res.Artifacts, 4)
	assert.Equal(t, filepath.Join(cfg.Output.Dir, "segmentationplain1Trainloss.pkl"), res.Artifacts[0])
	loss, err := results.Read(res.Artifacts[0])
	require.NoError(t, err)
	assert.Equal(t, h.TrainLoss, loss)
}

func TestRunAdversarialClassificationWithCheckpointsAndRunLog(t *testing.T) {
	cfg := syntheticConfig(t)
	cfg.Mode = "classification"
	cfg.Method = "adv"
	cfg.Optim = "sgd"
	cfg.Tricks = config.TricksAll
	cfg.Epochs = 2
	cfg.Checkpoint.Epochs = []int{1}
	cfg.Output.HistoryDB = filepath.Join(t.TempDir(), "history.db")
	cfg.LRSchedule = "cosine"
	cfg.Workers = 2

	res, err := Run(cfg, zaptest.NewLogger(t), Options{})
	require.NoError(t, err)
	require.Equal(t, 2, res.History.Len())
	for _, acc := range res.History.ValAcc {
		assert.True(t, acc >= 0 && acc <= 1, "accuracy %v", acc)
	}

	require.Equal(t, []string{filepath.Join(cfg.Checkpoint.Dir, "model_1_Test.pth")}, res.Checkpoints)
	cp, err := checkpoints.Load(res.Checkpoints[0])
	require.NoError(t, err)
	assert.Equal(t, 1, cp.TrainingState.Epoch)

	store, err := runlog.Open(cfg.Output.HistoryDB)
	require.NoError(t, err)
	defer store.Close()
	run, err := store.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, runlog.StatusCompleted, run.Status)
	epochs, err := store.Epochs(res.RunID)
	require.NoError(t, err)
	require.Len(t, epochs, 2)
	assert.Equal(t, res.History.ValLoss[1], epochs[1].ValLoss)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := syntheticConfig(t)
	cfg.Optim = "lbfgs"
	_, err := Run(cfg, nil, Options{})
	var cfgErr *config.Error
	require.True(t, errors.As(err, &cfgErr))
	assert.True(t, cfgErr.Has("optim"))
}

func TestRunDatasetTooSmall(t *testing.T) {
	cfg := syntheticConfig(t)
	cfg.Data.SampleLimit = 1
	_, err := Run(cfg, nil, Options{})
	assert.Error(t, err)
}

func TestRunMissingVOCRoot(t *testing.T) {
	cfg := syntheticConfig(t)
	cfg.Data.Source = config.DatasetVOC
	cfg.Data.Root = filepath.Join(t.TempDir(), "VOC2010")
	_, err := Run(cfg, nil, Options{})
	assert.Error(t, err)
}

func TestRunWriteErrorIsTyped(t *testing.T) {
	cfg := syntheticConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.Output.Dir = filepath.Join(blocker, "out")

	_, err := Run(cfg, nil, Options{})
	var we *results.WriteError
	require.True(t, errors.As(err, &we), "expected *results.WriteError, got %v", err)
}

func TestEvaluateCheckpoint(t *testing.T) {
	cfg := syntheticConfig(t)
	cfg.Epochs = 2
	cfg.Checkpoint.Epochs = []int{1}

	res, err := Run(cfg, zaptest.NewLogger(t), Options{})
	require.NoError(t, err)
	require.Len(t, res.Checkpoints, 1)

	eval, err := Evaluate(cfg, res.Checkpoints[0], zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 1, eval.Epoch)
	for _, r := range []float64{eval.Plain.Loss, eval.Adversarial.Loss} {
		assert.False(t, math.IsNaN(r) || math.IsInf(r, 0))
	}
	assert.Equal(t, eval.Plain.Batches, eval.Adversarial.Batches)
	assert.Positive(t, eval.Plain.Batches)
}

func TestEvaluateMissingCheckpoint(t *testing.T) {
	cfg := syntheticConfig(t)
	_, err := Evaluate(cfg, filepath.Join(t.TempDir(), "missing.pth"), nil)
	assert.Error(t, err)
}
