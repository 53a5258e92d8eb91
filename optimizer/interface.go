package optimizer

import (
	"fmt"
	"strings"

	"github.com/pascalrobust/advtrain/checkpoints"
	"github.com/pascalrobust/advtrain/tensor"
)

// Optimizer defines the common interface for all optimizers. State can be
// exported and restored for checkpoints.
type Optimizer interface {
	// Step updates every parameter that has an accumulated gradient.
	Step() error

	// ZeroGrad resets the gradients of all managed parameters.
	ZeroGrad()

	// GetState extracts optimizer state for checkpointing
	GetState() (*OptimizerState, error)

	// LoadState restores optimizer state from checkpoint
	LoadState(state *OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	UpdateLearningRate(lr float32)
	GetLearningRate() float32
}

// OptimizerState represents the complete state of an optimizer
type OptimizerState = checkpoints.OptimizerState

// Names accepted by New.
const (
	NameSGD   = "sgd"
	NameAdam  = "adam"
	NameRAdam = "radam"
)

// Names lists the optimizers New can build.
var Names = []string{NameSGD, NameAdam, NameRAdam}

// New builds an optimizer by name with its default configuration: sgd uses
// lr 0.01 and momentum 0.9, adam and radam use lr 0.001.
func New(name string, params []*tensor.Tensor) (Optimizer, error) {
	var (
		opt Optimizer
		err error
	)
	switch strings.ToLower(name) {
	case NameSGD:
		config := DefaultSGDConfig()
		config.Momentum = 0.9
		opt, err = NewSGDOptimizer(config, params)
	case NameAdam:
		opt, err = NewAdamOptimizer(DefaultAdamConfig(), params)
	case NameRAdam:
		opt, err = NewRAdamOptimizer(DefaultRAdamConfig(), params)
	default:
		return nil, fmt.Errorf("unknown optimizer %q (allowed: %s)", name, strings.Join(Names, ", "))
	}
	if err != nil {
		return nil, err
	}
	return opt, nil
}

// extractBufferIndex extracts the buffer index from state tensor names like "momentum_0", "m_1"
func extractBufferIndex(name string) int {
	i := strings.LastIndexByte(name, '_')
	if i < 0 {
		return -1
	}
	var idx int
	if n, err := fmt.Sscanf(name[i+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return fmt.Errorf("nil optimizer state")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
