package training

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/pascalrobust/advtrain/tensor"
)

// ConfusionMatrix accumulates per-pixel class assignments for segmentation.
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{
		NumClasses: numClasses,
		Matrix:     matrix,
	}
}

// Reset clears the confusion matrix
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
}

// Update adds the argmax predictions of output [N, C, ...] against the Int32
// class map target [N, ...].
func (cm *ConfusionMatrix) Update(output, target *tensor.Tensor) error {
	n, c, s, err := channelLayout(output.Shape)
	if err != nil {
		return err
	}
	if c != cm.NumClasses {
		return fmt.Errorf("class count mismatch: expected %d, got %d", cm.NumClasses, c)
	}
	labels, err := target.GetInt32Data()
	if err != nil {
		return err
	}
	if len(labels) != n*s {
		return fmt.Errorf("labels length mismatch: expected %d, got %d", n*s, len(labels))
	}

	pred := argmaxChannels(output.Data.([]float32), n, c, s)
	for i, p := range pred {
		trueClass := int(labels[i])
		if trueClass < 0 || trueClass >= cm.NumClasses {
			continue
		}
		cm.Matrix[trueClass][p]++
		cm.TotalSamples++
	}
	return nil
}

// GetAccuracy returns overall pixel accuracy
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.TotalSamples)
}

// ClassIoU returns TP / (TP + FP + FN) for class, and false when the class
// appears neither in the targets nor in the predictions.
func (cm *ConfusionMatrix) ClassIoU(class int) (float64, bool) {
	tp := cm.Matrix[class][class]
	fn, fp := 0, 0
	for j := 0; j < cm.NumClasses; j++ {
		if j == class {
			continue
		}
		fn += cm.Matrix[class][j]
		fp += cm.Matrix[j][class]
	}
	union := tp + fp + fn
	if union == 0 {
		return 0, false
	}
	return float64(tp) / float64(union), true
}

// MeanIoU averages ClassIoU over the classes that occur.
func (cm *ConfusionMatrix) MeanIoU() float64 {
	var ious []float64
	for c := 0; c < cm.NumClasses; c++ {
		if iou, ok := cm.ClassIoU(c); ok {
			ious = append(ious, iou)
		}
	}
	if len(ious) == 0 {
		return 0
	}
	return floats.Sum(ious) / float64(len(ious))
}

func argmaxChannels(x []float32, n, c, s int) []int {
	pred := make([]int, n*s)
	for b := 0; b < n; b++ {
		for p := 0; p < s; p++ {
			best := 0
			bestVal := x[b*c*s+p]
			for k := 1; k < c; k++ {
				if v := x[(b*c+k)*s+p]; v > bestVal {
					best, bestVal = k, v
				}
			}
			pred[b*s+p] = best
		}
	}
	return pred
}

// PixelAccuracy is the fraction of positions whose argmax class matches the
// Int32 class map.
func PixelAccuracy(output, target *tensor.Tensor) (float64, error) {
	n, c, s, err := channelLayout(output.Shape)
	if err != nil {
		return 0, err
	}
	labels, err := target.GetInt32Data()
	if err != nil {
		return 0, err
	}
	if len(labels) != n*s {
		return 0, fmt.Errorf("labels length mismatch: expected %d, got %d", n*s, len(labels))
	}
	correct := 0
	for i, p := range argmaxChannels(output.Data.([]float32), n, c, s) {
		if int(labels[i]) == p {
			correct++
		}
	}
	return float64(correct) / float64(len(labels)), nil
}

// MultiLabelAccuracy thresholds sigmoid(output) at threshold and returns the
// fraction of matching entries, matches / (B × classes). Targets above 0.5
// count as positive so smoothed labels compare correctly.
func MultiLabelAccuracy(output, target *tensor.Tensor, threshold float32) (float64, error) {
	if !tensor.SameShape(output.Shape, target.Shape) {
		return 0, fmt.Errorf("output shape %v and target shape %v differ", output.Shape, target.Shape)
	}
	logits, err := output.GetFloat32Data()
	if err != nil {
		return 0, err
	}
	labels, err := target.GetFloat32Data()
	if err != nil {
		return 0, err
	}
	if len(logits) == 0 {
		return 0, fmt.Errorf("empty output")
	}
	matches := 0
	for i, v := range logits {
		if (sigmoid(v) > threshold) == (labels[i] > 0.5) {
			matches++
		}
	}
	return float64(matches) / float64(len(logits)), nil
}

// EpochMeter accumulates per-batch loss and metric values.
type EpochMeter struct {
	losses  []float64
	metrics []float64
}

func (m *EpochMeter) Add(loss, metric float64) {
	m.losses = append(m.losses, loss)
	m.metrics = append(m.metrics, metric)
}

// Batches returns the number of recorded batches.
func (m *EpochMeter) Batches() int {
	return len(m.losses)
}

// Result returns the means over recorded batches. An empty meter yields
// zeros.
func (m *EpochMeter) Result() EpochResult {
	n := len(m.losses)
	if n == 0 {
		return EpochResult{}
	}
	return EpochResult{
		Loss:    floats.Sum(m.losses) / float64(n),
		Metric:  floats.Sum(m.metrics) / float64(n),
		Batches: n,
	}
}

// EpochResult holds the mean loss and task metric of one pass.
type EpochResult struct {
	Loss    float64
	Metric  float64
	Batches int
}
