package optimizer

import (
	"fmt"
	"math"

	"github.com/pascalrobust/advtrain/checkpoints"
	"github.com/pascalrobust/advtrain/tensor"
)

// AdamOptimizerState implements Adam with bias correction and L2 weight
// decay added to the gradient.
type AdamOptimizerState struct {
	paramSet

	LearningRate float32
	Beta1        float32 // Momentum decay (typically 0.9)
	Beta2        float32 // Variance decay (typically 0.999)
	Epsilon      float32
	WeightDecay  float32

	MomentumBuffers [][]float32 // first moment per parameter
	VarianceBuffers [][]float32 // second moment per parameter
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

func validateAdamConfig(config AdamConfig) error {
	if config.LearningRate < 0 {
		return fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return fmt.Errorf("beta1 must be in [0, 1): %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return fmt.Errorf("beta2 must be in [0, 1): %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive: %f", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	return nil
}

// NewAdamOptimizer creates a new Adam optimizer
func NewAdamOptimizer(config AdamConfig, params []*tensor.Tensor) (*AdamOptimizerState, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if err := validateAdamConfig(config); err != nil {
		return nil, err
	}

	adam := &AdamOptimizerState{}
	adam.init(config, params)
	return adam, nil
}

func (adam *AdamOptimizerState) init(config AdamConfig, params []*tensor.Tensor) {
	adam.params = params
	adam.LearningRate = config.LearningRate
	adam.Beta1 = config.Beta1
	adam.Beta2 = config.Beta2
	adam.Epsilon = config.Epsilon
	adam.WeightDecay = config.WeightDecay
	adam.MomentumBuffers = zeroBuffers(params)
	adam.VarianceBuffers = zeroBuffers(params)
}

// Step performs a single Adam update:
//
//	m = β1·m + (1-β1)·g
//	v = β2·v + (1-β2)·g²
//	p -= lr · m̂ / (sqrt(v̂) + ε)
func (adam *AdamOptimizerState) Step() error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	adam.stepCount++
	t := float64(adam.stepCount)
	b1, b2 := float64(adam.Beta1), float64(adam.Beta2)
	bc1 := 1 - math.Pow(b1, t)
	bc2 := 1 - math.Pow(b2, t)
	lr, eps, wd := float64(adam.LearningRate), float64(adam.Epsilon), adam.WeightDecay

	for i, p := range adam.params {
		grad := gradData(p)
		if grad == nil {
			continue
		}
		w := p.Data.([]float32)
		m, v := adam.MomentumBuffers[i], adam.VarianceBuffers[i]

		for j := range w {
			g := grad[j] + wd*w[j]
			m[j] = adam.Beta1*m[j] + (1-adam.Beta1)*g
			v[j] = adam.Beta2*v[j] + (1-adam.Beta2)*g*g

			mHat := float64(m[j]) / bc1
			vHat := float64(v[j]) / bc2
			w[j] -= float32(lr * mHat / (math.Sqrt(vHat) + eps))
		}
	}
	return nil
}

func (adam *AdamOptimizerState) UpdateLearningRate(lr float32) {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()
	adam.LearningRate = lr
}

func (adam *AdamOptimizerState) GetLearningRate() float32 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.LearningRate
}

func (adam *AdamOptimizerState) GetState() (*OptimizerState, error) {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return momentState("Adam", &adam.paramSet, adam.hyperparameters(), adam.MomentumBuffers, adam.VarianceBuffers), nil
}

func (adam *AdamOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	adam.mutex.Lock()
	defer adam.mutex.Unlock()
	adam.loadHyperparameters(state.Parameters)
	adam.stepCount = extractUint64Param(state.Parameters, "step_count", adam.stepCount)
	return restoreBuffers(state, map[string][][]float32{
		"momentum": adam.MomentumBuffers,
		"variance": adam.VarianceBuffers,
	})
}

func (adam *AdamOptimizerState) hyperparameters() map[string]interface{} {
	return map[string]interface{}{
		"learning_rate": float64(adam.LearningRate),
		"beta1":         float64(adam.Beta1),
		"beta2":         float64(adam.Beta2),
		"epsilon":       float64(adam.Epsilon),
		"weight_decay":  float64(adam.WeightDecay),
	}
}

func (adam *AdamOptimizerState) loadHyperparameters(params map[string]interface{}) {
	adam.LearningRate = extractFloat32Param(params, "learning_rate", adam.LearningRate)
	adam.Beta1 = extractFloat32Param(params, "beta1", adam.Beta1)
	adam.Beta2 = extractFloat32Param(params, "beta2", adam.Beta2)
	adam.Epsilon = extractFloat32Param(params, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloat32Param(params, "weight_decay", adam.WeightDecay)
}

// momentState exports first and second moment buffers under the names
// "momentum_<i>" and "variance_<i>".
func momentState(kind string, ps *paramSet, hyper map[string]interface{}, m, v [][]float32) *OptimizerState {
	hyper["step_count"] = float64(ps.stepCount)
	state := &OptimizerState{
		Type:       kind,
		Parameters: hyper,
		StateData:  make([]checkpoints.OptimizerTensor, 0, 2*len(m)),
	}
	for i := range m {
		shape := ps.params[i].Shape
		state.StateData = append(state.StateData,
			extractBufferState(m[i], shape, fmt.Sprintf("momentum_%d", i), "momentum"),
			extractBufferState(v[i], shape, fmt.Sprintf("variance_%d", i), "variance"))
	}
	return state
}
