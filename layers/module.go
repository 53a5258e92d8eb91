package layers

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pascalrobust/advtrain/tensor"
)

// Module interface defines methods that all neural network layers must implement
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor // trainable tensors, requiresGrad=true
	Train()
	Eval()
	IsTraining() bool
	// Clone returns an independent deep copy with the same weights and mode
	// and no accumulated gradients.
	Clone() (Module, error)
}

// NamedParameter pairs a trainable tensor with its qualified name, e.g.
// "conv1.weight".
type NamedParameter struct {
	Name   string
	Tensor *tensor.Tensor
}

type trainingMode struct {
	training bool
}

func (m *trainingMode) Train()           { m.training = true }
func (m *trainingMode) Eval()            { m.training = false }
func (m *trainingMode) IsTraining() bool { return m.training }

// xavierUniform fills a new trainable tensor from
// U(-sqrt(6/(fanIn+fanOut)), sqrt(6/(fanIn+fanOut))).
func xavierUniform(shape []int, fanIn, fanOut int, rng *rand.Rand) (*tensor.Tensor, error) {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	t, err := tensor.RandomUniform(shape, -bound, bound, rng)
	if err != nil {
		return nil, err
	}
	t.SetRequiresGrad(true)
	return t, nil
}

func zeroParam(shape []int) (*tensor.Tensor, error) {
	t, err := tensor.Zeros(shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	t.SetRequiresGrad(true)
	return t, nil
}

func cloneParam(t *tensor.Tensor) (*tensor.Tensor, error) {
	if t == nil {
		return nil, nil
	}
	c, err := t.Clone()
	if err != nil {
		return nil, err
	}
	c.SetRequiresGrad(true)
	return c, nil
}

// DenseLayer implements a fully connected layer: y = xW + b. Inputs with more
// than two dimensions are flattened after the batch dimension.
type DenseLayer struct {
	trainingMode
	weight *tensor.Tensor // [inputSize, outputSize]
	bias   *tensor.Tensor
}

func NewDense(inputSize, outputSize int, bias bool, rng *rand.Rand) (*DenseLayer, error) {
	weight, err := xavierUniform([]int{inputSize, outputSize}, inputSize, outputSize, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}
	l := &DenseLayer{trainingMode: trainingMode{true}, weight: weight}
	if bias {
		if l.bias, err = zeroParam([]int{outputSize}); err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %v", err)
		}
	}
	return l, nil
}

func (l *DenseLayer) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) < 2 {
		return nil, fmt.Errorf("dense layer expects at least 2D input, got shape %v", input.Shape)
	}
	x := input
	if len(input.Shape) > 2 {
		x = tensor.ReshapeAutograd(input, []int{input.Shape[0], -1})
	}
	if x.Shape[1] != l.weight.Shape[0] {
		return nil, fmt.Errorf("input size mismatch: expected %d, got %d", l.weight.Shape[0], x.Shape[1])
	}

	output := tensor.MatMulAutograd(x, l.weight)
	if l.bias != nil {
		output = tensor.AddBiasAutograd(output, l.bias)
	}
	return output, nil
}

func (l *DenseLayer) Parameters() []*tensor.Tensor {
	if l.bias != nil {
		return []*tensor.Tensor{l.weight, l.bias}
	}
	return []*tensor.Tensor{l.weight}
}

func (l *DenseLayer) Clone() (Module, error) {
	weight, err := cloneParam(l.weight)
	if err != nil {
		return nil, err
	}
	bias, err := cloneParam(l.bias)
	if err != nil {
		return nil, err
	}
	return &DenseLayer{trainingMode: l.trainingMode, weight: weight, bias: bias}, nil
}

// Conv2DLayer implements a 2D convolution layer over NCHW input.
type Conv2DLayer struct {
	trainingMode
	weight   *tensor.Tensor // [out, in, k, k]
	bias     *tensor.Tensor
	geometry tensor.ConvGeometry
}

func NewConv2D(inputChannels, outputChannels, kernelSize, stride, padding int, bias bool, rng *rand.Rand) (*Conv2DLayer, error) {
	area := kernelSize * kernelSize
	weight, err := xavierUniform(
		[]int{outputChannels, inputChannels, kernelSize, kernelSize},
		inputChannels*area, outputChannels*area, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}
	c := &Conv2DLayer{
		trainingMode: trainingMode{true},
		weight:       weight,
		geometry:     tensor.ConvGeometry{Kernel: kernelSize, Stride: stride, Padding: padding},
	}
	if bias {
		if c.bias, err = zeroParam([]int{outputChannels}); err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %v", err)
		}
	}
	return c, nil
}

func (c *Conv2DLayer) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("conv2d expects 4D input [batch, channels, height, width], got %v", input.Shape)
	}
	if input.Shape[1] != c.weight.Shape[1] {
		return nil, fmt.Errorf("input channel mismatch: expected %d, got %d", c.weight.Shape[1], input.Shape[1])
	}
	if c.geometry.OutputSize(input.Shape[2]) <= 0 || c.geometry.OutputSize(input.Shape[3]) <= 0 {
		return nil, fmt.Errorf("input %v too small for kernel %d", input.Shape, c.geometry.Kernel)
	}

	output := tensor.Conv2DAutograd(input, c.weight, c.geometry)
	if c.bias != nil {
		output = tensor.AddBiasAutograd(output, c.bias)
	}
	return output, nil
}

func (c *Conv2DLayer) Parameters() []*tensor.Tensor {
	if c.bias != nil {
		return []*tensor.Tensor{c.weight, c.bias}
	}
	return []*tensor.Tensor{c.weight}
}

func (c *Conv2DLayer) Clone() (Module, error) {
	weight, err := cloneParam(c.weight)
	if err != nil {
		return nil, err
	}
	bias, err := cloneParam(c.bias)
	if err != nil {
		return nil, err
	}
	return &Conv2DLayer{trainingMode: c.trainingMode, weight: weight, bias: bias, geometry: c.geometry}, nil
}

// ReLULayer implements ReLU activation function module
type ReLULayer struct {
	trainingMode
}

func NewReLU() *ReLULayer {
	return &ReLULayer{trainingMode{true}}
}

func (r *ReLULayer) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.ReLUAutograd(input), nil
}

func (r *ReLULayer) Parameters() []*tensor.Tensor { return nil }

func (r *ReLULayer) Clone() (Module, error) {
	return &ReLULayer{r.trainingMode}, nil
}

// AvgPool2DLayer averages non-overlapping size×size windows.
type AvgPool2DLayer struct {
	trainingMode
	size int
}

func NewAvgPool2D(size int) *AvgPool2DLayer {
	return &AvgPool2DLayer{trainingMode{true}, size}
}

func (p *AvgPool2DLayer) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 4 || input.Shape[2] < p.size || input.Shape[3] < p.size {
		return nil, fmt.Errorf("pool size %d does not fit input %v", p.size, input.Shape)
	}
	return tensor.AvgPool2DAutograd(input, p.size), nil
}

func (p *AvgPool2DLayer) Parameters() []*tensor.Tensor { return nil }

func (p *AvgPool2DLayer) Clone() (Module, error) {
	return &AvgPool2DLayer{p.trainingMode, p.size}, nil
}

// GlobalAvgPoolLayer reduces [N,C,H,W] to [N,C].
type GlobalAvgPoolLayer struct {
	trainingMode
}

func NewGlobalAvgPool() *GlobalAvgPoolLayer {
	return &GlobalAvgPoolLayer{trainingMode{true}}
}

func (p *GlobalAvgPoolLayer) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("global pooling expects 4D input, got %v", input.Shape)
	}
	return tensor.GlobalAvgPoolAutograd(input), nil
}

func (p *GlobalAvgPoolLayer) Parameters() []*tensor.Tensor { return nil }

func (p *GlobalAvgPoolLayer) Clone() (Module, error) {
	return &GlobalAvgPoolLayer{p.trainingMode}, nil
}
