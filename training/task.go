package training

import (
	"fmt"
	"strings"

	"github.com/pascalrobust/advtrain/tensor"
)

// Task modes.
const (
	ModeSegmentation   = "segmentation"
	ModeClassification = "classification"
)

// Modes lists the accepted task modes.
var Modes = []string{ModeSegmentation, ModeClassification}

// Task adapts a loss and a metric to one kind of target, so the training and
// validation loops stay independent of the mode.
type Task interface {
	Name() string
	// Loss scores output against target after converting target to the
	// representation the task trains on.
	Loss(output, target *tensor.Tensor) (*tensor.Tensor, error)
	// Metric is pixel accuracy for segmentation and thresholded multi-label
	// accuracy for classification.
	Metric(output, target *tensor.Tensor) (float64, error)
}

// ConfusionTask is implemented by tasks whose outputs can be tallied in a
// confusion matrix.
type ConfusionTask interface {
	Task
	NumClasses() int
	UpdateConfusion(cm *ConfusionMatrix, output, target *tensor.Tensor) error
}

// NewTask builds the task strategy for mode.
func NewTask(mode string, criterion Loss, classes int) (Task, error) {
	if criterion == nil {
		return nil, fmt.Errorf("nil loss function")
	}
	switch strings.ToLower(mode) {
	case ModeSegmentation:
		return &SegmentationTask{Criterion: criterion, Classes: classes}, nil
	case ModeClassification:
		return &ClassificationTask{Criterion: criterion, Threshold: 0.5}, nil
	default:
		return nil, fmt.Errorf("unknown mode %q (allowed: %s)", mode, strings.Join(Modes, ", "))
	}
}

// SegmentationTask trains per-pixel classifiers against Int32 class maps.
type SegmentationTask struct {
	Criterion Loss
	Classes   int
}

func (t *SegmentationTask) Name() string    { return ModeSegmentation }
func (t *SegmentationTask) NumClasses() int { return t.Classes }

func (t *SegmentationTask) Loss(output, target *tensor.Tensor) (*tensor.Tensor, error) {
	labels, err := t.classMap(target)
	if err != nil {
		return nil, err
	}
	return t.Criterion.Forward(output, labels)
}

func (t *SegmentationTask) Metric(output, target *tensor.Tensor) (float64, error) {
	labels, err := t.classMap(target)
	if err != nil {
		return 0, err
	}
	return PixelAccuracy(output, labels)
}

func (t *SegmentationTask) UpdateConfusion(cm *ConfusionMatrix, output, target *tensor.Tensor) error {
	labels, err := t.classMap(target)
	if err != nil {
		return err
	}
	return cm.Update(output, labels)
}

// classMap casts target to integer class indices.
func (t *SegmentationTask) classMap(target *tensor.Tensor) (*tensor.Tensor, error) {
	if target.DType == tensor.Int32 {
		return target, nil
	}
	return target.AsInt32()
}

// ClassificationTask trains multi-label classifiers against Float32 multi-hot
// vectors.
type ClassificationTask struct {
	Criterion Loss
	Threshold float32
}

func (t *ClassificationTask) Name() string { return ModeClassification }

func (t *ClassificationTask) Loss(output, target *tensor.Tensor) (*tensor.Tensor, error) {
	labels, err := t.floatTarget(target)
	if err != nil {
		return nil, err
	}
	return t.Criterion.Forward(output, labels)
}

func (t *ClassificationTask) Metric(output, target *tensor.Tensor) (float64, error) {
	labels, err := t.floatTarget(target)
	if err != nil {
		return 0, err
	}
	return MultiLabelAccuracy(output, labels, t.Threshold)
}

func (t *ClassificationTask) floatTarget(target *tensor.Tensor) (*tensor.Tensor, error) {
	if target.DType == tensor.Float32 {
		return target, nil
	}
	return target.AsFloat32()
}
