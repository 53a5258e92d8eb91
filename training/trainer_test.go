package training

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pascalrobust/advtrain/attack"
	"github.com/pascalrobust/advtrain/checkpoints"
	"github.com/pascalrobust/advtrain/layers"
	"github.com/pascalrobust/advtrain/optimizer"
	"github.com/pascalrobust/advtrain/tensor"
)

// separableDataset has 8 samples of 4 features; label j is set when feature j
// is positive.
func separableDataset(t *testing.T) *SimpleDataset {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	var data, labels []*tensor.Tensor
	for i := 0; i < 8; i++ {
		x := make([]float32, 4)
		y := make([]float32, 3)
		for j := range x {
			x[j] = float32(rng.Float64()*2 - 1)
			if j < 3 && x[j] > 0 {
				y[j] = 1
			}
		}
		data = append(data, floatTensor(t, []int{4}, x))
		labels = append(labels, floatTensor(t, []int{3}, y))
	}
	ds, err := NewSimpleDataset(data, labels)
	require.NoError(t, err)
	return ds
}

func denseModel(t *testing.T) *layers.Sequential {
	t.Helper()
	spec, err := layers.NewModelBuilder([]int{1, 4}).AddDense(3, true, "fc").Compile()
	require.NoError(t, err)
	model, err := layers.Build(spec, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	return model
}

func newClassificationTrainer(t *testing.T, model *layers.Sequential, config TrainerConfig) (*Trainer, optimizer.Optimizer) {
	t.Helper()
	task, err := NewTask(ModeClassification, NewBCEWithLogitsLoss("mean"), 3)
	require.NoError(t, err)
	opt, err := optimizer.New(optimizer.NameSGD, model.Parameters())
	require.NoError(t, err)
	trainer, err := NewTrainer(model, task, opt, config, zap.NewNop())
	require.NoError(t, err)
	return trainer, opt
}

func snapshot(t *testing.T, model *layers.Sequential) [][]float32 {
	t.Helper()
	var out [][]float32
	for _, p := range model.Parameters() {
		data, err := p.GetFloat32Data()
		require.NoError(t, err)
		out = append(out, append([]float32(nil), data...))
	}
	return out
}

func TestTrainEpochReducesLoss(t *testing.T) {
	model := denseModel(t)
	trainer, opt := newClassificationTrainer(t, model, TrainerConfig{})
	loader, err := NewDataLoader(separableDataset(t), 4, NewSubsetRandomSampler([]int{0, 1, 2, 3, 4, 5, 6, 7}, 9), 2)
	require.NoError(t, err)

	first, err := trainer.TrainEpoch(loader, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Batches)
	assert.False(t, math.IsNaN(first.Loss))

	var last EpochResult
	for epoch := 1; epoch < 40; epoch++ {
		last, err = trainer.TrainEpoch(loader, epoch)
		require.NoError(t, err)
	}
	assert.Less(t, last.Loss, first.Loss)
	assert.Equal(t, 80, trainer.Steps())
	assert.EqualValues(t, 80, opt.GetStepCount())
	assert.GreaterOrEqual(t, last.Metric, 0.0)
	assert.LessOrEqual(t, last.Metric, 1.0)
}

func TestValidateLeavesModelUnchanged(t *testing.T) {
	policies := []ValidationPolicy{
		PlainValidation{},
		AdversarialValidation{Attack: attack.DefaultConfig()},
		AdversarialValidation{Attack: attack.Config{Epsilon: 0.1, Norm: attack.NormL2}},
	}
	for _, policy := range policies {
		t.Run(policy.Name(), func(t *testing.T) {
			model := denseModel(t)
			trainer, opt := newClassificationTrainer(t, model, TrainerConfig{Validation: policy})
			loader, err := NewDataLoader(separableDataset(t), 3, nil, 1)
			require.NoError(t, err)

			before := snapshot(t, model)
			result, err := trainer.Validate(loader, 0)
			require.NoError(t, err)

			assert.Equal(t, before, snapshot(t, model))
			assert.Equal(t, 3, result.Batches)
			assert.True(t, result.Loss >= 0 && !math.IsInf(result.Loss, 0))
			assert.EqualValues(t, 0, opt.GetStepCount())
			assert.True(t, model.IsTraining(), "Validate should restore training mode")
			for _, p := range model.Parameters() {
				assert.Nil(t, p.Grad(), "live parameters should carry no gradient")
			}
		})
	}
}

func TestAdversarialValidationIsNoEasierThanPlain(t *testing.T) {
	model := denseModel(t)
	loader, err := NewDataLoader(separableDataset(t), 8, nil, 1)
	require.NoError(t, err)

	plain, _ := newClassificationTrainer(t, model, TrainerConfig{Validation: PlainValidation{}})
	clean, err := plain.Validate(loader, 0)
	require.NoError(t, err)

	adv, _ := newClassificationTrainer(t, model, TrainerConfig{Validation: NewValidationPolicy(MethodAdversarial)})
	attacked, err := adv.Validate(loader, 0)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, attacked.Loss, clean.Loss)
}

func TestNewValidationPolicy(t *testing.T) {
	assert.Equal(t, "adversarial", NewValidationPolicy("adv").Name())
	assert.Equal(t, "plain", NewValidationPolicy("plain").Name())
	assert.Equal(t, "plain", NewValidationPolicy("anything").Name())
}

func TestTrainEpochCheckpointsSelectedEpochOnly(t *testing.T) {
	dir := t.TempDir()
	config := DefaultCheckpointConfig()
	config.SaveDirectory = dir
	config.Experiment = "unit"
	config.Policy = checkpoints.Epochs(1)
	manager, err := NewCheckpointManager(config, zap.NewNop())
	require.NoError(t, err)

	model := denseModel(t)
	trainer, _ := newClassificationTrainer(t, model, TrainerConfig{Checkpoints: manager})
	loader, err := NewDataLoader(separableDataset(t), 4, nil, 1)
	require.NoError(t, err)

	for epoch := 0; epoch < 3; epoch++ {
		_, err := trainer.TrainEpoch(loader, epoch)
		require.NoError(t, err)
	}

	want := filepath.Join(dir, "model_1_unit.pth")
	assert.Equal(t, []string{want}, manager.SavedFiles())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	cp, err := checkpoints.Load(want)
	require.NoError(t, err)
	assert.Equal(t, 1, cp.TrainingState.Epoch)
	assert.Equal(t, 4, cp.TrainingState.Step)
	assert.Len(t, cp.Weights, 2)
	require.NotNil(t, cp.OptimizerState)
}

func TestNewTrainerRequiresCollaborators(t *testing.T) {
	_, err := NewTrainer(nil, nil, nil, TrainerConfig{}, nil)
	assert.Error(t, err)
}
