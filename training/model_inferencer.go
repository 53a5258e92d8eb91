package training

import (
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/pascalrobust/advtrain/checkpoints"
	"github.com/pascalrobust/advtrain/layers"
	"github.com/pascalrobust/advtrain/tensor"
)

// ModelInferencer runs a model restored from a checkpoint without training
// it.
type ModelInferencer struct {
	model      *layers.Sequential
	checkpoint *checkpoints.Checkpoint
}

// NewModelInferencer rebuilds the checkpoint's model and loads its weights.
// The checkpoint must carry its model spec.
func NewModelInferencer(cp *checkpoints.Checkpoint) (*ModelInferencer, error) {
	if cp.ModelSpec == nil {
		return nil, fmt.Errorf("checkpoint has no model spec")
	}
	model, err := layers.Build(cp.ModelSpec, rand.New(rand.NewSource(0)))
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild model: %w", err)
	}
	if err := checkpoints.LoadWeights(cp.Weights, model); err != nil {
		return nil, fmt.Errorf("failed to load weights: %w", err)
	}
	model.Eval()
	return &ModelInferencer{model: model, checkpoint: cp}, nil
}

// LoadModelInferencer reads the checkpoint at path.
func LoadModelInferencer(path string) (*ModelInferencer, error) {
	cp, err := checkpoints.Load(path)
	if err != nil {
		return nil, err
	}
	return NewModelInferencer(cp)
}

// Predict runs one forward pass without recording a graph.
func (mi *ModelInferencer) Predict(input *tensor.Tensor) (*tensor.Tensor, error) {
	var output *tensor.Tensor
	err := tensor.NoGrad(func() error {
		var err error
		output, err = mi.model.Forward(input)
		return err
	})
	return output, err
}

// Evaluate scores loader under policy, like a validation pass at the
// checkpoint's epoch. The restored weights are never updated.
func (mi *ModelInferencer) Evaluate(loader *DataLoader, task Task, policy ValidationPolicy, logger *zap.Logger) (EpochResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = PlainValidation{}
	}
	t := &Trainer{
		model:  mi.model,
		task:   task,
		config: TrainerConfig{Validation: policy},
		logger: logger,
	}
	return t.Validate(loader, mi.checkpoint.TrainingState.Epoch)
}

// Model returns the restored model.
func (mi *ModelInferencer) Model() *layers.Sequential {
	return mi.model
}

// Epoch returns the epoch the checkpoint was written at.
func (mi *ModelInferencer) Epoch() int {
	return mi.checkpoint.TrainingState.Epoch
}
