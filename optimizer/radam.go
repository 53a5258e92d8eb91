package optimizer

import (
	"math"

	"github.com/pascalrobust/advtrain/tensor"
)

// RAdamOptimizerState implements Rectified Adam. While the variance estimate
// is unreliable (ρ_t ≤ 5) it takes plain momentum steps; afterwards it scales
// the adaptive step by the rectification term r_t.
type RAdamOptimizerState struct {
	AdamOptimizerState
}

// RAdamConfig uses the same hyperparameters as Adam.
type RAdamConfig = AdamConfig

// DefaultRAdamConfig returns lr 0.001, betas (0.9, 0.999), eps 1e-8.
func DefaultRAdamConfig() RAdamConfig {
	return DefaultAdamConfig()
}

func NewRAdamOptimizer(config RAdamConfig, params []*tensor.Tensor) (*RAdamOptimizerState, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if err := validateAdamConfig(config); err != nil {
		return nil, err
	}
	ra := &RAdamOptimizerState{}
	ra.init(config, params)
	return ra, nil
}

// rectification returns r_t and whether the adaptive branch applies at step t.
func rectification(beta2, t float64) (float64, bool) {
	rhoInf := 2/(1-beta2) - 1
	b2t := math.Pow(beta2, t)
	rhoT := rhoInf - 2*t*b2t/(1-b2t)
	if rhoT <= 5 {
		return 0, false
	}
	r := math.Sqrt(((rhoT - 4) * (rhoT - 2) * rhoInf) / ((rhoInf - 4) * (rhoInf - 2) * rhoT))
	return r, true
}

func (ra *RAdamOptimizerState) Step() error {
	ra.mutex.Lock()
	defer ra.mutex.Unlock()

	ra.stepCount++
	t := float64(ra.stepCount)
	b1, b2 := float64(ra.Beta1), float64(ra.Beta2)
	bc1 := 1 - math.Pow(b1, t)
	bc2 := 1 - math.Pow(b2, t)
	lr, eps, wd := float64(ra.LearningRate), float64(ra.Epsilon), ra.WeightDecay
	r, adaptive := rectification(b2, t)

	for i, p := range ra.params {
		grad := gradData(p)
		if grad == nil {
			continue
		}
		w := p.Data.([]float32)
		m, v := ra.MomentumBuffers[i], ra.VarianceBuffers[i]

		for j := range w {
			g := grad[j] + wd*w[j]
			m[j] = ra.Beta1*m[j] + (1-ra.Beta1)*g
			v[j] = ra.Beta2*v[j] + (1-ra.Beta2)*g*g

			mHat := float64(m[j]) / bc1
			if adaptive {
				l := math.Sqrt(bc2) / (math.Sqrt(float64(v[j])) + eps)
				w[j] -= float32(lr * mHat * r * l)
			} else {
				w[j] -= float32(lr * mHat)
			}
		}
	}
	return nil
}

func (ra *RAdamOptimizerState) GetState() (*OptimizerState, error) {
	ra.mutex.RLock()
	defer ra.mutex.RUnlock()
	return momentState("RAdam", &ra.paramSet, ra.hyperparameters(), ra.MomentumBuffers, ra.VarianceBuffers), nil
}

func (ra *RAdamOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("RAdam", state); err != nil {
		return err
	}

	ra.mutex.Lock()
	defer ra.mutex.Unlock()
	ra.loadHyperparameters(state.Parameters)
	ra.stepCount = extractUint64Param(state.Parameters, "step_count", ra.stepCount)
	return restoreBuffers(state, map[string][][]float32{
		"momentum": ra.MomentumBuffers,
		"variance": ra.VarianceBuffers,
	})
}
