package experiment

import (
	"go.uber.org/zap"

	"github.com/pascalrobust/advtrain/config"
	"github.com/pascalrobust/advtrain/training"
	"github.com/pascalrobust/advtrain/vision/dataset"
)

// Evaluation scores one checkpoint on the validation split.
type Evaluation struct {
	Epoch       int
	Plain       training.EpochResult
	Adversarial training.EpochResult
}

// Evaluate restores the checkpoint at path and scores it on the validation
// split of cfg's dataset, once on clean inputs and once on FGSM inputs.
// cfg must describe the same mode and image size the checkpoint was trained
// with.
func Evaluate(cfg *config.Config, path string, logger *zap.Logger) (*Evaluation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("checkpoint", path), zap.String("mode", cfg.Mode))

	mi, err := training.LoadModelInferencer(path)
	if err != nil {
		return nil, err
	}
	data, err := newData(cfg, logger)
	if err != nil {
		return nil, err
	}
	classes := dataset.SegmentationClasses
	if cfg.Mode == training.ModeClassification {
		classes = dataset.ClassificationClasses
	}
	criterion, err := training.NewLoss(cfg.LossFunction)
	if err != nil {
		return nil, err
	}
	task, err := training.NewTask(cfg.Mode, criterion, classes)
	if err != nil {
		return nil, err
	}

	eval := &Evaluation{Epoch: mi.Epoch()}
	if eval.Plain, err = mi.Evaluate(data.val, task, training.PlainValidation{}, logger); err != nil {
		return nil, err
	}
	adv := training.NewValidationPolicy(training.MethodAdversarial)
	if eval.Adversarial, err = mi.Evaluate(data.val, task, adv, logger); err != nil {
		return nil, err
	}
	logger.Info("checkpoint evaluated",
		zap.Int("epoch", eval.Epoch),
		zap.Float64("plain_loss", eval.Plain.Loss),
		zap.Float64("plain_measure", eval.Plain.Metric),
		zap.Float64("adv_loss", eval.Adversarial.Loss),
		zap.Float64("adv_measure", eval.Adversarial.Metric))
	return eval, nil
}
