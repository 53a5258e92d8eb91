package optimizer

import (
	"fmt"

	"github.com/pascalrobust/advtrain/checkpoints"
	"github.com/pascalrobust/advtrain/tensor"
)

// SGDOptimizerState implements stochastic gradient descent with optional
// momentum, Nesterov momentum and L2 weight decay:
//
//	g = grad + wd·p
//	v = μ·v + g
//	p -= lr · (g + μ·v)   Nesterov
//	p -= lr · v           otherwise
type SGDOptimizerState struct {
	paramSet

	LearningRate float32
	Momentum     float32
	WeightDecay  float32
	Nesterov     bool

	// Momentum buffers (only if momentum > 0)
	MomentumBuffers [][]float32
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// NewSGDOptimizer creates a new SGD optimizer
func NewSGDOptimizer(config SGDConfig, params []*tensor.Tensor) (*SGDOptimizerState, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.Momentum > 1.0 {
		return nil, fmt.Errorf("momentum cannot be greater than 1.0: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	sgd := &SGDOptimizerState{
		paramSet:     paramSet{params: params},
		LearningRate: config.LearningRate,
		Momentum:     config.Momentum,
		WeightDecay:  config.WeightDecay,
		Nesterov:     config.Nesterov,
	}
	if config.Momentum > 0 {
		sgd.MomentumBuffers = zeroBuffers(params)
	}
	return sgd, nil
}

// Step performs a single optimization step
func (sgd *SGDOptimizerState) Step() error {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	lr, mu, wd := sgd.LearningRate, sgd.Momentum, sgd.WeightDecay
	for i, p := range sgd.params {
		grad := gradData(p)
		if grad == nil {
			continue
		}
		w := p.Data.([]float32)

		for j := range w {
			g := grad[j] + wd*w[j]
			if mu > 0 {
				v := mu*sgd.MomentumBuffers[i][j] + g
				sgd.MomentumBuffers[i][j] = v
				if sgd.Nesterov {
					g += mu * v
				} else {
					g = v
				}
			}
			w[j] -= lr * g
		}
	}

	sgd.stepCount++
	return nil
}

func (sgd *SGDOptimizerState) UpdateLearningRate(lr float32) {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()
	sgd.LearningRate = lr
}

func (sgd *SGDOptimizerState) GetLearningRate() float32 {
	sgd.mutex.RLock()
	defer sgd.mutex.RUnlock()
	return sgd.LearningRate
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGDOptimizerState) GetState() (*OptimizerState, error) {
	sgd.mutex.RLock()
	defer sgd.mutex.RUnlock()

	state := &OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": float64(sgd.LearningRate),
			"momentum":      float64(sgd.Momentum),
			"weight_decay":  float64(sgd.WeightDecay),
			"nesterov":      sgd.Nesterov,
			"step_count":    float64(sgd.stepCount),
		},
		StateData: []checkpoints.OptimizerTensor{},
	}
	for i, buf := range sgd.MomentumBuffers {
		state.StateData = append(state.StateData,
			extractBufferState(buf, sgd.params[i].Shape, fmt.Sprintf("momentum_%d", i), "momentum"))
	}
	return state, nil
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGDOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	sgd.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", sgd.LearningRate)
	sgd.Momentum = extractFloat32Param(state.Parameters, "momentum", sgd.Momentum)
	sgd.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)
	sgd.stepCount = extractUint64Param(state.Parameters, "step_count", sgd.stepCount)

	if sgd.Momentum > 0 && sgd.MomentumBuffers == nil {
		sgd.MomentumBuffers = zeroBuffers(sgd.params)
	}
	return restoreBuffers(state, map[string][][]float32{"momentum": sgd.MomentumBuffers})
}
