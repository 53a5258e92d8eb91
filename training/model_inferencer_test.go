package training

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pascalrobust/advtrain/checkpoints"
	"github.com/pascalrobust/advtrain/layers"
	"github.com/pascalrobust/advtrain/tensor"
)

func TestModelInferencerRestoresCheckpoint(t *testing.T) {
	for _, format := range []checkpoints.CheckpointFormat{checkpoints.FormatProto, checkpoints.FormatJSON} {
		t.Run(format.String(), func(t *testing.T) {
			config := DefaultCheckpointConfig()
			config.SaveDirectory = t.TempDir()
			config.Format = format
			config.Policy = checkpoints.Epochs(5)
			manager, err := NewCheckpointManager(config, nil)
			require.NoError(t, err)

			model, err := layers.NewSegmentationNet(3, 4, rand.New(rand.NewSource(2)))
			require.NoError(t, err)
			path, err := manager.MaybeSave(5, 12, model, nil, EpochResult{Loss: 0.4})
			require.NoError(t, err)
			require.Equal(t, filepath.Join(config.SaveDirectory, "model_5_Test.pth"), path)

			mi, err := LoadModelInferencer(path)
			require.NoError(t, err)
			assert.Equal(t, 5, mi.Epoch())

			x, err := tensor.RandomUniform([]int{2, 3, 4, 4}, 0, 1, rand.New(rand.NewSource(3)))
			require.NoError(t, err)
			got, err := mi.Predict(x)
			require.NoError(t, err)
			want, err := model.Forward(x)
			require.NoError(t, err)

			gotData, _ := got.GetFloat32Data()
			wantData, _ := want.GetFloat32Data()
			require.Equal(t, want.Shape, got.Shape)
			assert.InDeltaSlice(t, wantData, gotData, 1e-6)
		})
	}
}

func TestModelInferencerEvaluate(t *testing.T) {
	model := denseModel(t)
	cp := &checkpoints.Checkpoint{
		ModelSpec:     model.Spec(),
		Weights:       checkpoints.ExtractWeights(model),
		TrainingState: checkpoints.TrainingState{Epoch: 9},
	}
	mi, err := NewModelInferencer(cp)
	require.NoError(t, err)

	task, err := NewTask(ModeClassification, NewBCEWithLogitsLoss("mean"), 3)
	require.NoError(t, err)
	loader, err := NewDataLoader(separableDataset(t), 4, nil, 1)
	require.NoError(t, err)

	before := snapshot(t, mi.Model())
	plain, err := mi.Evaluate(loader, task, PlainValidation{}, nil)
	require.NoError(t, err)
	adv, err := mi.Evaluate(loader, task, NewValidationPolicy(MethodAdversarial), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, plain.Batches)
	assert.GreaterOrEqual(t, adv.Loss, plain.Loss)
	assert.Equal(t, before, snapshot(t, mi.Model()))
}

func TestModelInferencerRequiresSpec(t *testing.T) {
	_, err := NewModelInferencer(&checkpoints.Checkpoint{})
	assert.Error(t, err)
}
