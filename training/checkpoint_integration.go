package training

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/pascalrobust/advtrain/checkpoints"
	"github.com/pascalrobust/advtrain/layers"
	"github.com/pascalrobust/advtrain/optimizer"
)

// CheckpointConfig configures checkpoint saving behavior
type CheckpointConfig struct {
	SaveDirectory   string                       // Directory to save checkpoints
	Experiment      string                       // Tag rendered into file names
	Policy          checkpoints.Policy           // Epochs that produce a checkpoint
	FilenamePattern string                       // text/template over checkpoints.NameFields
	Format          checkpoints.CheckpointFormat // Proto or JSON
	SaveOptimizer   bool                         // Include optimizer state
}

// DefaultCheckpointConfig saves ./model_{epoch}_Test.pth at the default
// epochs.
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		SaveDirectory:   "./",
		Experiment:      "Test",
		Policy:          checkpoints.DefaultPolicy(),
		FilenamePattern: checkpoints.DefaultNamePattern,
		Format:          checkpoints.FormatProto,
		SaveOptimizer:   true,
	}
}

// CheckpointManager decides when to write checkpoints and where.
type CheckpointManager struct {
	config     CheckpointConfig
	names      *checkpoints.NameTemplate
	saver      *checkpoints.CheckpointSaver
	savedFiles []string
	logger     *zap.Logger
}

// NewCheckpointManager creates a new checkpoint manager
func NewCheckpointManager(config CheckpointConfig, logger *zap.Logger) (*CheckpointManager, error) {
	if config.Policy == nil {
		config.Policy = checkpoints.DefaultPolicy()
	}
	names, err := checkpoints.NewNameTemplate(config.FilenamePattern, config.SaveDirectory)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckpointManager{
		config: config,
		names:  names,
		saver:  checkpoints.NewCheckpointSaver(config.Format),
		logger: logger,
	}, nil
}

// ShouldSave reports whether epoch is selected by the policy.
func (cm *CheckpointManager) ShouldSave(epoch int) bool {
	return cm.config.Policy.ShouldSave(epoch)
}

// Path returns the file a checkpoint for epoch would be written to.
func (cm *CheckpointManager) Path(epoch int) (string, error) {
	return cm.names.Name(epoch, cm.config.Experiment)
}

// MaybeSave writes a checkpoint when the policy selects epoch. It returns the
// path written, or "" when the epoch is skipped.
func (cm *CheckpointManager) MaybeSave(epoch, step int, model *layers.Sequential, opt optimizer.Optimizer, result EpochResult) (string, error) {
	if !cm.ShouldSave(epoch) {
		return "", nil
	}
	path, err := cm.Path(epoch)
	if err != nil {
		return "", err
	}

	checkpoint, err := cm.createCheckpoint(epoch, step, model, opt, result)
	if err != nil {
		return "", fmt.Errorf("failed to create checkpoint: %w", err)
	}
	if err := cm.ensureDirectory(path); err != nil {
		return "", fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	if err := cm.saver.SaveCheckpoint(checkpoint, path); err != nil {
		return "", fmt.Errorf("failed to save checkpoint: %w", err)
	}

	cm.savedFiles = append(cm.savedFiles, path)
	cm.logger.Info("checkpoint saved",
		zap.Int("epoch", epoch),
		zap.String("path", path),
		zap.String("format", cm.saver.Format().String()))
	return path, nil
}

// SavedFiles lists every checkpoint written so far, in order.
func (cm *CheckpointManager) SavedFiles() []string {
	return append([]string(nil), cm.savedFiles...)
}

func (cm *CheckpointManager) createCheckpoint(epoch, step int, model *layers.Sequential, opt optimizer.Optimizer, result EpochResult) (*checkpoints.Checkpoint, error) {
	checkpoint := &checkpoints.Checkpoint{
		ModelSpec: model.Spec(),
		Weights:   checkpoints.ExtractWeights(model),
		TrainingState: checkpoints.TrainingState{
			Epoch:        epoch,
			Step:         step,
			BestLoss:     float32(result.Loss),
			BestAccuracy: float32(result.Metric),
			TotalSteps:   step,
		},
		Metadata: checkpoints.CheckpointMetadata{
			Description: fmt.Sprintf("%s epoch %d", cm.config.Experiment, epoch),
			Tags:        []string{cm.config.Experiment},
		},
	}

	if opt != nil {
		checkpoint.TrainingState.LearningRate = opt.GetLearningRate()
		if cm.config.SaveOptimizer {
			state, err := opt.GetState()
			if err != nil {
				return nil, fmt.Errorf("failed to get optimizer state: %w", err)
			}
			checkpoint.OptimizerState = state
		}
	}
	return checkpoint, nil
}

func (cm *CheckpointManager) ensureDirectory(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
