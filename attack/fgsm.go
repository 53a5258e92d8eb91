package attack

import (
	"fmt"

	"github.com/pascalrobust/advtrain/layers"
	"github.com/pascalrobust/advtrain/tensor"
)

// LossFunc scores a model output against its target. The result must be a
// one-element tensor connected to output's graph.
type LossFunc func(output, target *tensor.Tensor) (*tensor.Tensor, error)

// Config holds the perturbation size and norm.
type Config struct {
	Epsilon float64
	Norm    Norm
}

// DefaultConfig is the evaluation setting: eps 0.25 under the infinity norm.
func DefaultConfig() Config {
	return Config{Epsilon: 0.25, Norm: NormInf}
}

// FGSM builds an adversarial version of x with a single gradient step. The
// input is cloned as a gradient-requiring leaf, scored by model, and the loss
// gradient with respect to that clone is turned into a perturbation by
// OptimizeLinear. The returned tensor is a detached leaf.
//
// Backward also accumulates gradients into model's parameters; callers that
// care pass a copy of the model.
func FGSM(model layers.Module, x, target *tensor.Tensor, loss LossFunc, cfg Config) (*tensor.Tensor, error) {
	xClone, err := x.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to clone input: %w", err)
	}
	xClone.SetRequiresGrad(true)

	out, err := model.Forward(xClone)
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %w", err)
	}
	l, err := loss(out, target)
	if err != nil {
		return nil, fmt.Errorf("loss computation failed: %w", err)
	}
	if err := l.Backward(); err != nil {
		return nil, fmt.Errorf("backward pass failed: %w", err)
	}

	grad := xClone.Grad()
	if grad == nil {
		return nil, fmt.Errorf("input received no gradient")
	}
	perturbation, err := OptimizeLinear(grad, cfg.Epsilon, cfg.Norm)
	if err != nil {
		return nil, err
	}
	adv, err := tensor.Add(xClone.Detach(), perturbation)
	if err != nil {
		return nil, fmt.Errorf("failed to apply perturbation: %w", err)
	}
	adv.SetRequiresGrad(false)
	return adv, nil
}
