package training

import (
	"fmt"
	"math"
	"strings"
)

// LRScheduler defines the interface for learning rate scheduling strategies.
// Schedulers are pure functions of the epoch.
type LRScheduler interface {
	// GetLR returns the learning rate for epoch given the optimizer's
	// initial rate.
	GetLR(epoch int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// Scheduler names accepted by NewScheduler.
const (
	SchedulerNone   = "none"
	SchedulerStep   = "step"
	SchedulerExp    = "exponential"
	SchedulerCosine = "cosine"
)

// SchedulerNames lists the schedules NewScheduler can build.
var SchedulerNames = []string{SchedulerNone, SchedulerStep, SchedulerExp, SchedulerCosine}

// NewScheduler builds a schedule by name for a run of epochs. "none" keeps the
// learning rate constant.
func NewScheduler(name string, epochs int) (LRScheduler, error) {
	switch strings.ToLower(name) {
	case "", SchedulerNone:
		return ConstantLRScheduler{}, nil
	case SchedulerStep:
		return NewStepLRScheduler(30, 0.1), nil
	case SchedulerExp:
		return NewExponentialLRScheduler(0.95), nil
	case SchedulerCosine:
		return NewCosineAnnealingLRScheduler(epochs, 0), nil
	default:
		return nil, fmt.Errorf("unknown lr schedule %q (allowed: %s)", name, strings.Join(SchedulerNames, ", "))
	}
}

// ConstantLRScheduler never changes the learning rate.
type ConstantLRScheduler struct{}

func (ConstantLRScheduler) GetLR(_ int, baseLR float64) float64 { return baseLR }
func (ConstantLRScheduler) GetName() string                     { return "ConstantLR" }

// StepLRScheduler reduces learning rate by a factor every stepSize epochs
type StepLRScheduler struct {
	StepSize int     // Epochs between LR reductions
	Gamma    float64 // Multiplicative factor of LR decay
}

// NewStepLRScheduler creates a step learning rate scheduler
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLRScheduler{
		StepSize: stepSize,
		Gamma:    gamma,
	}
}

func (s *StepLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	times := epoch / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// ExponentialLRScheduler decays learning rate exponentially
type ExponentialLRScheduler struct {
	Gamma float64 // Multiplicative factor of LR decay per epoch
}

// NewExponentialLRScheduler creates an exponential learning rate scheduler
func NewExponentialLRScheduler(gamma float64) *ExponentialLRScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialLRScheduler{Gamma: gamma}
}

func (s *ExponentialLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLRScheduler) GetName() string {
	return "ExponentialLR"
}

// CosineAnnealingLRScheduler implements cosine annealing schedule
type CosineAnnealingLRScheduler struct {
	TMax   int     // Maximum number of epochs
	EtaMin float64 // Minimum learning rate
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 100
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLRScheduler{
		TMax:   tMax,
		EtaMin: etaMin,
	}
}

func (s *CosineAnnealingLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealingLR"
}
