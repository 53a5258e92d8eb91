package training

import (
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/pascalrobust/advtrain/attack"
	"github.com/pascalrobust/advtrain/layers"
	"github.com/pascalrobust/advtrain/optimizer"
	"github.com/pascalrobust/advtrain/tensor"
)

// MethodAdversarial selects adversarial validation; any other method
// validates on clean inputs.
const MethodAdversarial = "adv"

// TrainerConfig holds the collaborators that are optional for a Trainer.
type TrainerConfig struct {
	Checkpoints *CheckpointManager // nil disables checkpointing
	Validation  ValidationPolicy   // nil means PlainValidation
	Progress    io.Writer          // nil disables progress bars
}

// Trainer runs training and validation passes over one model. The model's
// weights are only mutated by TrainEpoch.
type Trainer struct {
	model     *layers.Sequential
	task      Task
	optimizer optimizer.Optimizer
	config    TrainerConfig
	logger    *zap.Logger
	step      int
}

// NewTrainer creates a new Trainer
func NewTrainer(model *layers.Sequential, task Task, opt optimizer.Optimizer, config TrainerConfig, logger *zap.Logger) (*Trainer, error) {
	if model == nil || task == nil || opt == nil {
		return nil, fmt.Errorf("trainer requires a model, a task and an optimizer")
	}
	if config.Validation == nil {
		config.Validation = PlainValidation{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{
		model:     model,
		task:      task,
		optimizer: opt,
		config:    config,
		logger:    logger,
	}, nil
}

// Steps returns the number of optimizer steps taken so far.
func (t *Trainer) Steps() int { return t.step }

// TrainEpoch makes one pass over loader: forward, loss, zero gradients,
// backward, optimizer step. It returns the mean loss and metric over batches
// and writes a checkpoint afterwards if the checkpoint policy selects epoch.
func (t *Trainer) TrainEpoch(loader *DataLoader, epoch int) (EpochResult, error) {
	t.model.Train()
	loader.Reset()

	var meter EpochMeter
	bar := t.progressBar(fmt.Sprintf("Epoch %d (Training)", epoch), loader.Len())
	start := time.Now()

	for i := 0; ; i++ {
		batch, err := loader.Next()
		if err != nil {
			return EpochResult{}, fmt.Errorf("epoch %d batch %d: %w", epoch, i, err)
		}
		if batch == nil {
			break
		}

		loss, metric, err := t.trainBatch(batch)
		if err != nil {
			return EpochResult{}, fmt.Errorf("epoch %d batch %d: %w", epoch, i, err)
		}
		meter.Add(loss, metric)

		t.logger.Info("train batch",
			zap.Int("epoch", epoch),
			zap.Int("batch", i),
			zap.Int("batches", loader.Len()),
			zap.Float64("loss", loss),
			zap.Float64("measure", metric),
			zap.Float64("seconds", time.Since(start).Seconds()))
		if bar != nil {
			bar.Update(i+1, map[string]float64{"loss": loss, "acc": metric})
		}
		start = time.Now()
	}
	if bar != nil {
		bar.Finish()
	}

	result := meter.Result()
	if t.config.Checkpoints != nil {
		if _, err := t.config.Checkpoints.MaybeSave(epoch, t.step, t.model, t.optimizer, result); err != nil {
			return EpochResult{}, fmt.Errorf("epoch %d: %w", epoch, err)
		}
	}
	return result, nil
}

func (t *Trainer) trainBatch(batch *Batch) (float64, float64, error) {
	output, err := t.model.Forward(batch.Data)
	if err != nil {
		return 0, 0, fmt.Errorf("forward pass failed: %w", err)
	}
	loss, err := t.task.Loss(output, batch.Labels)
	if err != nil {
		return 0, 0, fmt.Errorf("loss computation failed: %w", err)
	}

	t.optimizer.ZeroGrad()
	if err := loss.Backward(); err != nil {
		return 0, 0, fmt.Errorf("backward pass failed: %w", err)
	}
	if err := t.optimizer.Step(); err != nil {
		return 0, 0, fmt.Errorf("optimizer step failed: %w", err)
	}
	t.step++

	value, err := loss.Item()
	if err != nil {
		return 0, 0, err
	}
	metric, err := t.task.Metric(output, batch.Labels)
	if err != nil {
		return 0, 0, fmt.Errorf("metric computation failed: %w", err)
	}
	return value, metric, nil
}

// Validate scores loader under the configured validation policy and returns
// the mean loss and metric over batches. Segmentation tasks also log mean IoU.
func (t *Trainer) Validate(loader *DataLoader, epoch int) (EpochResult, error) {
	t.model.Eval()
	defer t.model.Train()
	loader.Reset()

	var cm *ConfusionMatrix
	ct, tracksConfusion := t.task.(ConfusionTask)
	if tracksConfusion {
		cm = NewConfusionMatrix(ct.NumClasses())
	}

	policy := t.config.Validation
	var meter EpochMeter
	bar := t.progressBar(fmt.Sprintf("Epoch %d (Validation)", epoch), loader.Len())
	start := time.Now()

	for i := 0; ; i++ {
		batch, err := loader.Next()
		if err != nil {
			return EpochResult{}, fmt.Errorf("validation epoch %d batch %d: %w", epoch, i, err)
		}
		if batch == nil {
			break
		}

		eval, err := policy.Evaluate(t.model, t.task, t.optimizer, batch)
		if err != nil {
			return EpochResult{}, fmt.Errorf("validation epoch %d batch %d: %w", epoch, i, err)
		}
		meter.Add(eval.Loss, eval.Metric)
		if cm != nil {
			if err := ct.UpdateConfusion(cm, eval.Output, batch.Labels); err != nil {
				return EpochResult{}, err
			}
		}

		t.logger.Info("validation batch",
			zap.Int("epoch", epoch),
			zap.Int("batch", i),
			zap.Int("batches", loader.Len()),
			zap.String("policy", policy.Name()),
			zap.Float64("loss", eval.Loss),
			zap.Float64("measure", eval.Metric),
			zap.Float64("seconds", time.Since(start).Seconds()))
		if bar != nil {
			bar.Update(i+1, map[string]float64{"loss": eval.Loss, "acc": eval.Metric})
		}
		start = time.Now()
	}
	if bar != nil {
		bar.Finish()
	}

	result := meter.Result()
	if cm != nil {
		t.logger.Info("validation summary",
			zap.Int("epoch", epoch),
			zap.Float64("mean_iou", cm.MeanIoU()),
			zap.Float64("pixel_accuracy", cm.GetAccuracy()))
	}
	return result, nil
}

func (t *Trainer) progressBar(description string, total int) *ProgressBar {
	if t.config.Progress == nil {
		return nil
	}
	return NewProgressBar(t.config.Progress, description, total)
}

// Evaluation is the outcome of scoring one validation batch.
type Evaluation struct {
	Loss   float64
	Metric float64
	Output *tensor.Tensor
}

// ValidationPolicy scores one validation batch.
type ValidationPolicy interface {
	Name() string
	Evaluate(model layers.Module, task Task, opt optimizer.Optimizer, batch *Batch) (Evaluation, error)
}

// NewValidationPolicy maps a method name to its policy: "adv" is adversarial,
// everything else is plain.
func NewValidationPolicy(method string) ValidationPolicy {
	if method == MethodAdversarial {
		return AdversarialValidation{Attack: attack.DefaultConfig()}
	}
	return PlainValidation{}
}

// PlainValidation runs the model forward without recording a graph.
type PlainValidation struct{}

func (PlainValidation) Name() string { return "plain" }

func (PlainValidation) Evaluate(model layers.Module, task Task, _ optimizer.Optimizer, batch *Batch) (Evaluation, error) {
	var eval Evaluation
	err := tensor.NoGrad(func() error {
		var err error
		eval, err = score(model, task, batch.Data, batch.Labels)
		return err
	})
	return eval, err
}

// AdversarialValidation scores a private copy of the model on FGSM inputs.
// The copy keeps gradient bookkeeping away from the live model; the live
// optimizer's gradients are cleared before and after each batch.
type AdversarialValidation struct {
	Attack attack.Config
}

func (AdversarialValidation) Name() string { return "adversarial" }

func (a AdversarialValidation) Evaluate(model layers.Module, task Task, opt optimizer.Optimizer, batch *Batch) (Evaluation, error) {
	copied, err := model.Clone()
	if err != nil {
		return Evaluation{}, fmt.Errorf("failed to copy model: %w", err)
	}

	if opt != nil {
		opt.ZeroGrad()
	}
	adv, err := attack.FGSM(copied, batch.Data, batch.Labels, task.Loss, a.Attack)
	if err != nil {
		return Evaluation{}, fmt.Errorf("adversarial example failed: %w", err)
	}
	if opt != nil {
		opt.ZeroGrad()
	}

	var eval Evaluation
	err = tensor.NoGrad(func() error {
		var err error
		eval, err = score(copied, task, adv, batch.Labels)
		return err
	})
	return eval, err
}

func score(model layers.Module, task Task, x, y *tensor.Tensor) (Evaluation, error) {
	output, err := model.Forward(x)
	if err != nil {
		return Evaluation{}, fmt.Errorf("forward pass failed: %w", err)
	}
	loss, err := task.Loss(output, y)
	if err != nil {
		return Evaluation{}, fmt.Errorf("loss computation failed: %w", err)
	}
	value, err := loss.Item()
	if err != nil {
		return Evaluation{}, err
	}
	metric, err := task.Metric(output, y)
	if err != nil {
		return Evaluation{}, fmt.Errorf("metric computation failed: %w", err)
	}
	return Evaluation{Loss: value, Metric: metric, Output: output}, nil
}
