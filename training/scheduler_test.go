package training

import (
	"math"
	"testing"
)

func TestNewScheduler(t *testing.T) {
	tests := []struct {
		name     string
		wantName string
		epoch    int
		want     float64
	}{
		{"none", "ConstantLR", 150, 0.01},
		{"", "ConstantLR", 3, 0.01},
		{"step", "StepLR", 30, 0.001},
		{"step", "StepLR", 29, 0.01},
		{"exponential", "ExponentialLR", 2, 0.01 * 0.95 * 0.95},
		{"cosine", "CosineAnnealingLR", 0, 0.01},
		{"cosine", "CosineAnnealingLR", 50, 0.005},
		{"cosine", "CosineAnnealingLR", 100, 0},
	}
	for _, tt := range tests {
		s, err := NewScheduler(tt.name, 100)
		if err != nil {
			t.Fatalf("NewScheduler(%q) failed: %v", tt.name, err)
		}
		if s.GetName() != tt.wantName {
			t.Errorf("NewScheduler(%q).GetName() = %s, want %s", tt.name, s.GetName(), tt.wantName)
		}
		if got := s.GetLR(tt.epoch, 0.01); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s GetLR(%d) = %v, want %v", tt.wantName, tt.epoch, got, tt.want)
		}
	}

	if _, err := NewScheduler("warmup", 10); err == nil {
		t.Error("expected error for unknown schedule")
	}
}

func TestSchedulerDefaults(t *testing.T) {
	step := NewStepLRScheduler(0, 2)
	if step.StepSize != 30 || step.Gamma != 0.1 {
		t.Errorf("step defaults = %+v", step)
	}
	if exp := NewExponentialLRScheduler(-1); exp.Gamma != 0.95 {
		t.Errorf("exponential gamma = %v", exp.Gamma)
	}
	if cos := NewCosineAnnealingLRScheduler(0, -1); cos.TMax != 100 || cos.EtaMin != 0 {
		t.Errorf("cosine defaults = %+v", cos)
	}
}
