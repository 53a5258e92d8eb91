package optimizer

import (
	"testing"

	"github.com/pascalrobust/advtrain/tensor"
)

func TestDefaultSGDConfig(t *testing.T) {
	config := DefaultSGDConfig()
	if config.LearningRate != 0.01 {
		t.Errorf("LearningRate = %v, want 0.01", config.LearningRate)
	}
	if config.Momentum != 0 || config.WeightDecay != 0 || config.Nesterov {
		t.Errorf("unexpected defaults: %+v", config)
	}
}

func TestSGDConfigValidation(t *testing.T) {
	p := []*tensor.Tensor{param(t, []float32{1}, nil)}
	tests := []struct {
		name   string
		config SGDConfig
	}{
		{"negative lr", SGDConfig{LearningRate: -1}},
		{"negative momentum", SGDConfig{LearningRate: 0.1, Momentum: -0.1}},
		{"momentum above one", SGDConfig{LearningRate: 0.1, Momentum: 1.5}},
		{"negative weight decay", SGDConfig{LearningRate: 0.1, WeightDecay: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSGDOptimizer(tt.config, p); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSGDStep(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		p := param(t, []float32{1, -2}, []float32{0.5, -1})
		sgd, err := NewSGDOptimizer(SGDConfig{LearningRate: 0.1}, []*tensor.Tensor{p})
		if err != nil {
			t.Fatalf("NewSGDOptimizer failed: %v", err)
		}
		if err := sgd.Step(); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		assertClose(t, "weights", p.Data.([]float32), []float32{0.95, -1.9})
		if sgd.GetStepCount() != 1 {
			t.Errorf("step count = %d, want 1", sgd.GetStepCount())
		}
	})

	t.Run("momentum", func(t *testing.T) {
		p := param(t, []float32{1}, []float32{1})
		sgd, _ := NewSGDOptimizer(SGDConfig{LearningRate: 0.1, Momentum: 0.9}, []*tensor.Tensor{p})
		_ = sgd.Step() // v = 1, w = 0.9
		_ = sgd.Step() // v = 1.9, w = 0.71
		assertClose(t, "weights", p.Data.([]float32), []float32{0.71})
		assertClose(t, "momentum", sgd.MomentumBuffers[0], []float32{1.9})
	})

	t.Run("nesterov", func(t *testing.T) {
		p := param(t, []float32{1}, []float32{1})
		sgd, _ := NewSGDOptimizer(SGDConfig{LearningRate: 0.1, Momentum: 0.5, Nesterov: true}, []*tensor.Tensor{p})
		_ = sgd.Step() // v = 1, step = 1 + 0.5
		assertClose(t, "weights", p.Data.([]float32), []float32{0.85})
	})

	t.Run("weight decay", func(t *testing.T) {
		p := param(t, []float32{2}, []float32{0})
		sgd, _ := NewSGDOptimizer(SGDConfig{LearningRate: 0.1, WeightDecay: 0.5}, []*tensor.Tensor{p})
		_ = sgd.Step()
		assertClose(t, "weights", p.Data.([]float32), []float32{1.9})
	})

	t.Run("parameters without gradient are skipped", func(t *testing.T) {
		p := param(t, []float32{3}, nil)
		sgd, _ := NewSGDOptimizer(SGDConfig{LearningRate: 0.1}, []*tensor.Tensor{p})
		_ = sgd.Step()
		assertClose(t, "weights", p.Data.([]float32), []float32{3})
	})
}

func TestSGDZeroGrad(t *testing.T) {
	p := param(t, []float32{1, 1}, []float32{4, 5})
	sgd, _ := NewSGDOptimizer(DefaultSGDConfig(), []*tensor.Tensor{p})
	sgd.ZeroGrad()
	if g := p.Grad(); g != nil {
		for i, v := range g.Data.([]float32) {
			if v != 0 {
				t.Errorf("grad[%d] = %v after ZeroGrad", i, v)
			}
		}
	}
}

func TestSGDStateRoundTrip(t *testing.T) {
	p := param(t, []float32{1, 2}, []float32{1, 1})
	sgd, _ := NewSGDOptimizer(SGDConfig{LearningRate: 0.1, Momentum: 0.9, Nesterov: true}, []*tensor.Tensor{p})
	_ = sgd.Step()
	_ = sgd.Step()

	state, err := sgd.GetState()
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if state.Type != "SGD" || len(state.StateData) != 1 {
		t.Fatalf("unexpected state: type %s, %d tensors", state.Type, len(state.StateData))
	}

	q := param(t, []float32{1, 2}, nil)
	restored, _ := NewSGDOptimizer(DefaultSGDConfig(), []*tensor.Tensor{q})
	if err := restored.LoadState(state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if restored.GetLearningRate() != 0.1 || restored.Momentum != 0.9 || !restored.Nesterov {
		t.Errorf("hyperparameters not restored: %+v", restored.Momentum)
	}
	if restored.GetStepCount() != 2 {
		t.Errorf("step count = %d, want 2", restored.GetStepCount())
	}
	assertClose(t, "momentum", restored.MomentumBuffers[0], sgd.MomentumBuffers[0])

	adamState := &OptimizerState{Type: "Adam"}
	if err := restored.LoadState(adamState); err == nil {
		t.Error("expected type mismatch error")
	}
}

func TestSGDUpdateLearningRate(t *testing.T) {
	sgd, _ := NewSGDOptimizer(DefaultSGDConfig(), []*tensor.Tensor{param(t, []float32{1}, nil)})
	sgd.UpdateLearningRate(0.5)
	if sgd.GetLearningRate() != 0.5 {
		t.Errorf("learning rate = %v, want 0.5", sgd.GetLearningRate())
	}
}
