package training

import (
	"fmt"
	"math"
	"strings"

	"github.com/pascalrobust/advtrain/tensor"
)

// Loss interface defines methods that all loss functions must implement.
// Forward returns a one-element tensor connected to predicted's graph, so
// calling Backward on it propagates into the model.
//
// Targets are either Float32 tensors shaped like predicted, or Int32 class
// maps shaped like predicted without its channel axis (dimension 1), which
// are expanded to one-hot.
type Loss interface {
	Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error)
}

// Names accepted by NewLoss.
const (
	LossBCE          = "bce"
	LossDice         = "dice"
	LossCrossEntropy = "cross_entropy"
	LossSmoothing    = "smoothing"
)

// LossNames lists the loss functions NewLoss can build.
var LossNames = []string{LossBCE, LossDice, LossCrossEntropy, LossSmoothing}

// DefaultSmoothing is the label smoothing factor used by the smoothing loss
// and the smoothing dataset variant.
const DefaultSmoothing = 0.1

// NewLoss builds a loss function by name.
func NewLoss(name string) (Loss, error) {
	switch strings.ToLower(name) {
	case LossBCE:
		return NewBCEWithLogitsLoss("mean"), nil
	case LossDice:
		return NewDiceLoss(1), nil
	case LossCrossEntropy:
		return NewCrossEntropyLoss("mean"), nil
	case LossSmoothing:
		return NewSmoothingBCELoss(DefaultSmoothing), nil
	default:
		return nil, fmt.Errorf("unknown loss function %q (allowed: %s)", name, strings.Join(LossNames, ", "))
	}
}

// channelLayout splits a [N, C, ...] shape into batch, channel and the
// number of positions per channel.
func channelLayout(shape []int) (n, c, s int, err error) {
	if len(shape) < 2 {
		return 0, 0, 0, fmt.Errorf("predicted must be at least 2D [batch, channels, ...], got shape %v", shape)
	}
	s = 1
	for _, d := range shape[2:] {
		s *= d
	}
	return shape[0], shape[1], s, nil
}

// denseTarget returns target as float32 values laid out like predicted.
func denseTarget(predicted, target *tensor.Tensor) ([]float32, error) {
	if predicted.DType != tensor.Float32 {
		return nil, fmt.Errorf("predicted must be Float32, got %s", predicted.DType)
	}

	switch target.DType {
	case tensor.Float32:
		if !tensor.SameShape(predicted.Shape, target.Shape) {
			return nil, fmt.Errorf("predicted shape %v and target shape %v differ", predicted.Shape, target.Shape)
		}
		return target.Data.([]float32), nil
	case tensor.Int32:
		n, c, s, err := channelLayout(predicted.Shape)
		if err != nil {
			return nil, err
		}
		want := append([]int{n}, predicted.Shape[2:]...)
		if !tensor.SameShape(want, target.Shape) {
			return nil, fmt.Errorf("class map shape %v does not match predicted shape %v", target.Shape, predicted.Shape)
		}
		labels := target.Data.([]int32)
		oneHot := make([]float32, predicted.NumElems)
		for b := 0; b < n; b++ {
			for p := 0; p < s; p++ {
				class := int(labels[b*s+p])
				if class < 0 || class >= c {
					return nil, fmt.Errorf("target class %d out of range [0, %d)", class, c)
				}
				oneHot[(b*c+class)*s+p] = 1
			}
		}
		return oneHot, nil
	default:
		return nil, fmt.Errorf("unsupported target dtype %s", target.DType)
	}
}

func reductionScale(reduction string, n int) float32 {
	if reduction == "sum" {
		return 1
	}
	return 1 / float32(n)
}

// BCEWithLogitsLoss applies a sigmoid and binary cross entropy per element:
// L = max(x,0) - x·y + log(1 + exp(-|x|)).
type BCEWithLogitsLoss struct {
	reduction string // "mean" or "sum"
	smoothing float32
}

// NewBCEWithLogitsLoss creates a new BCE-with-logits loss function
func NewBCEWithLogitsLoss(reduction string) *BCEWithLogitsLoss {
	if reduction == "" {
		reduction = "mean"
	}
	return &BCEWithLogitsLoss{reduction: reduction}
}

// NewSmoothingBCELoss is BCE with logits against smoothed targets
// y·(1-alpha) + alpha/2.
func NewSmoothingBCELoss(alpha float32) *BCEWithLogitsLoss {
	return &BCEWithLogitsLoss{reduction: "mean", smoothing: alpha}
}

func (bce *BCEWithLogitsLoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := denseTarget(predicted, target)
	if err != nil {
		return nil, err
	}
	x := predicted.Data.([]float32)
	scale := reductionScale(bce.reduction, len(x))

	grad := make([]float32, len(x))
	var sum float64
	for i, xi := range x {
		yi := y[i]
		if bce.smoothing > 0 {
			yi = yi*(1-bce.smoothing) + bce.smoothing/2
		}
		xf := float64(xi)
		sum += math.Max(xf, 0) - xf*float64(yi) + math.Log1p(math.Exp(-math.Abs(xf)))
		grad[i] = (sigmoid(xi) - yi) * scale
	}
	return attachLoss(float32(sum)*scale, predicted, grad)
}

// DiceLoss is the soft Dice loss over sigmoid probabilities of the whole
// batch: L = 1 - (2·Σpy + s) / (Σp + Σy + s).
type DiceLoss struct {
	smooth float32
}

// NewDiceLoss creates a Dice loss with the given smoothing constant.
func NewDiceLoss(smooth float32) *DiceLoss {
	return &DiceLoss{smooth: smooth}
}

func (d *DiceLoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := denseTarget(predicted, target)
	if err != nil {
		return nil, err
	}
	x := predicted.Data.([]float32)
	p := make([]float64, len(x))
	var inter, union float64
	for i, xi := range x {
		p[i] = float64(sigmoid(xi))
		inter += p[i] * float64(y[i])
		union += p[i] + float64(y[i])
	}
	s := float64(d.smooth)
	num := 2*inter + s
	den := union + s

	grad := make([]float32, len(x))
	for i := range x {
		dp := -(2*float64(y[i])*den - num) / (den * den)
		grad[i] = float32(dp * p[i] * (1 - p[i]))
	}
	return attachLoss(float32(1-num/den), predicted, grad)
}

// CrossEntropyLoss applies a softmax over the channel axis. Int32 targets are
// class indices per position; Float32 targets are class probabilities.
type CrossEntropyLoss struct {
	reduction string // "mean" or "sum"
}

// NewCrossEntropyLoss creates a new Cross Entropy loss function
func NewCrossEntropyLoss(reduction string) *CrossEntropyLoss {
	if reduction == "" {
		reduction = "mean"
	}
	return &CrossEntropyLoss{reduction: reduction}
}

// Forward computes the mean over positions of -Σ_c y_c·log softmax(x)_c.
func (ce *CrossEntropyLoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := denseTarget(predicted, target)
	if err != nil {
		return nil, err
	}
	n, c, s, _ := channelLayout(predicted.Shape)
	x := predicted.Data.([]float32)
	scale := reductionScale(ce.reduction, n*s)

	grad := make([]float32, len(x))
	probs := make([]float64, c)
	var sum float64
	for b := 0; b < n; b++ {
		for p := 0; p < s; p++ {
			at := func(k int) int { return (b*c+k)*s + p }

			maxVal := math.Inf(-1)
			for k := 0; k < c; k++ {
				maxVal = math.Max(maxVal, float64(x[at(k)]))
			}
			var z float64
			for k := 0; k < c; k++ {
				probs[k] = math.Exp(float64(x[at(k)]) - maxVal)
				z += probs[k]
			}
			logZ := math.Log(z)
			var mass float64
			for k := 0; k < c; k++ {
				yk := float64(y[at(k)])
				mass += yk
				sum -= yk * (float64(x[at(k)]) - maxVal - logZ)
			}
			for k := 0; k < c; k++ {
				grad[at(k)] = float32((mass*probs[k]/z - float64(y[at(k)]))) * scale
			}
		}
	}
	return attachLoss(float32(sum)*scale, predicted, grad)
}

func attachLoss(value float32, predicted *tensor.Tensor, grad []float32) (*tensor.Tensor, error) {
	g, err := tensor.NewTensor(predicted.Shape, tensor.Float32, grad)
	if err != nil {
		return nil, err
	}
	return tensor.Attach(value, predicted, g)
}

func sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}
