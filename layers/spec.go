package layers

import (
	"fmt"
	"strings"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	Dense LayerType = iota
	Conv2D
	ReLU
	AvgPool2D
	GlobalAvgPool
)

func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case Conv2D:
		return "Conv2D"
	case ReLU:
		return "ReLU"
	case AvgPool2D:
		return "AvgPool2D"
	case GlobalAvgPool:
		return "GlobalAvgPool"
	default:
		return "Unknown"
	}
}

// LayerSpec is the configuration of one layer. It carries no weights; Build
// turns a compiled ModelSpec into executable modules.
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	// Filled in by Compile
	InputShape      []int   `json:"input_shape,omitempty"`
	OutputShape     []int   `json:"output_shape,omitempty"`
	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count,omitempty"`
}

// ModelSpec is a compiled sequence of layers with resolved shapes.
type ModelSpec struct {
	Layers []LayerSpec `json:"layers"`

	TotalParameters int64   `json:"total_parameters"`
	ParameterShapes [][]int `json:"parameter_shapes"`
	InputShape      []int   `json:"input_shape"`
	OutputShape     []int   `json:"output_shape"`
	Compiled        bool    `json:"compiled"`
}

// ModelBuilder helps construct neural network models
type ModelBuilder struct {
	layers     []LayerSpec
	inputShape []int
}

// NewModelBuilder starts a model for inputs of the given shape. The leading
// dimension is the batch size used for shape inference only; built modules
// accept any batch size.
func NewModelBuilder(inputShape []int) *ModelBuilder {
	shape := make([]int, len(inputShape))
	copy(shape, inputShape)
	return &ModelBuilder{inputShape: shape}
}

// AddLayer adds a layer to the model
func (mb *ModelBuilder) AddLayer(layer LayerSpec) *ModelBuilder {
	mb.layers = append(mb.layers, layer)
	return mb
}

// AddDense adds a fully connected layer; 4D inputs are flattened first.
func (mb *ModelBuilder) AddDense(outputSize int, useBias bool, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Dense,
		Name: name,
		Parameters: map[string]interface{}{
			"output_size": outputSize,
			"use_bias":    useBias,
		},
	})
}

// AddConv2D adds a Conv2D layer to the model
func (mb *ModelBuilder) AddConv2D(outputChannels, kernelSize, stride, padding int, useBias bool, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Conv2D,
		Name: name,
		Parameters: map[string]interface{}{
			"output_channels": outputChannels,
			"kernel_size":     kernelSize,
			"stride":          stride,
			"padding":         padding,
			"use_bias":        useBias,
		},
	})
}

func (mb *ModelBuilder) AddReLU(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: ReLU, Name: name, Parameters: map[string]interface{}{}})
}

func (mb *ModelBuilder) AddAvgPool2D(size int, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type:       AvgPool2D,
		Name:       name,
		Parameters: map[string]interface{}{"size": size},
	})
}

func (mb *ModelBuilder) AddGlobalAvgPool(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: GlobalAvgPool, Name: name, Parameters: map[string]interface{}{}})
}

// Compile resolves every layer's input and output shapes and parameter
// shapes.
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if len(mb.layers) == 0 {
		return nil, fmt.Errorf("cannot compile empty model")
	}

	model := &ModelSpec{
		Layers:     make([]LayerSpec, len(mb.layers)),
		InputShape: mb.inputShape,
	}

	seen := make(map[string]bool)
	currentShape := mb.inputShape
	for i, src := range mb.layers {
		layer := src
		layer.Parameters = make(map[string]interface{}, len(src.Parameters))
		for k, v := range src.Parameters {
			layer.Parameters[k] = v
		}
		if layer.Name == "" || seen[layer.Name] {
			return nil, fmt.Errorf("layer %d has an empty or duplicate name %q", i, layer.Name)
		}
		seen[layer.Name] = true

		layer.InputShape = append([]int(nil), currentShape...)
		outputShape, paramShapes, paramCount, err := computeLayerInfo(&layer, currentShape)
		if err != nil {
			return nil, fmt.Errorf("failed to compute layer %d (%s) info: %v", i, layer.Name, err)
		}
		layer.OutputShape = outputShape
		layer.ParameterShapes = paramShapes
		layer.ParameterCount = paramCount

		model.Layers[i] = layer
		model.ParameterShapes = append(model.ParameterShapes, paramShapes...)
		model.TotalParameters += paramCount
		currentShape = outputShape
	}

	model.OutputShape = currentShape
	model.Compiled = true
	return model, nil
}

func computeLayerInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	switch layer.Type {
	case Dense:
		return computeDenseInfo(layer, inputShape)
	case Conv2D:
		return computeConv2DInfo(layer, inputShape)
	case AvgPool2D:
		return computePoolInfo(layer, inputShape)
	case GlobalAvgPool:
		if len(inputShape) != 4 {
			return nil, nil, 0, fmt.Errorf("global pooling requires 4D input, got %v", inputShape)
		}
		return []int{inputShape[0], inputShape[1]}, nil, 0, nil
	case ReLU:
		return append([]int(nil), inputShape...), nil, 0, nil
	default:
		return nil, nil, 0, fmt.Errorf("unsupported layer type: %s", layer.Type.String())
	}
}

func computeDenseInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) < 2 {
		return nil, nil, 0, fmt.Errorf("dense layer requires at least 2D input")
	}
	outputSize := getIntParam(layer.Parameters, "output_size", 0)
	if outputSize <= 0 {
		return nil, nil, 0, fmt.Errorf("missing output_size parameter")
	}

	// Everything after the batch dimension is flattened
	inputSize := 1
	for _, d := range inputShape[1:] {
		inputSize *= d
	}
	layer.Parameters["input_size"] = inputSize

	paramShapes := [][]int{{inputSize, outputSize}}
	paramCount := int64(inputSize * outputSize)
	if getBoolParam(layer.Parameters, "use_bias", true) {
		paramShapes = append(paramShapes, []int{outputSize})
		paramCount += int64(outputSize)
	}
	return []int{inputShape[0], outputSize}, paramShapes, paramCount, nil
}

func computeConv2DInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 4 {
		return nil, nil, 0, fmt.Errorf("Conv2D layer requires 4D input [batch, channels, height, width]")
	}
	outputChannels := getIntParam(layer.Parameters, "output_channels", 0)
	kernelSize := getIntParam(layer.Parameters, "kernel_size", 0)
	if outputChannels <= 0 || kernelSize <= 0 {
		return nil, nil, 0, fmt.Errorf("output_channels and kernel_size must be positive")
	}
	stride := getIntParam(layer.Parameters, "stride", 1)
	padding := getIntParam(layer.Parameters, "padding", 0)

	inputChannels := inputShape[1]
	layer.Parameters["input_channels"] = inputChannels

	outputHeight := (inputShape[2]+2*padding-kernelSize)/stride + 1
	outputWidth := (inputShape[3]+2*padding-kernelSize)/stride + 1
	if outputHeight <= 0 || outputWidth <= 0 {
		return nil, nil, 0, fmt.Errorf("input %v too small for kernel %d", inputShape, kernelSize)
	}

	paramShapes := [][]int{{outputChannels, inputChannels, kernelSize, kernelSize}}
	paramCount := int64(outputChannels * inputChannels * kernelSize * kernelSize)
	if getBoolParam(layer.Parameters, "use_bias", true) {
		paramShapes = append(paramShapes, []int{outputChannels})
		paramCount += int64(outputChannels)
	}
	return []int{inputShape[0], outputChannels, outputHeight, outputWidth}, paramShapes, paramCount, nil
}

func computePoolInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 4 {
		return nil, nil, 0, fmt.Errorf("pooling requires 4D input, got %v", inputShape)
	}
	size := getIntParam(layer.Parameters, "size", 2)
	if size <= 0 || inputShape[2] < size || inputShape[3] < size {
		return nil, nil, 0, fmt.Errorf("pool size %d does not fit input %v", size, inputShape)
	}
	return []int{inputShape[0], inputShape[1], inputShape[2] / size, inputShape[3] / size}, nil, 0, nil
}

// Summary returns a human-readable model summary
func (ms *ModelSpec) Summary() string {
	if !ms.Compiled {
		return "Model not compiled"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Model Summary:\n")
	fmt.Fprintf(&b, "Input Shape: %v\n", ms.InputShape)
	fmt.Fprintf(&b, "Output Shape: %v\n", ms.OutputShape)
	fmt.Fprintf(&b, "Total Parameters: %d\n", ms.TotalParameters)
	fmt.Fprintf(&b, "Layers: %d\n\n", len(ms.Layers))
	for i, layer := range ms.Layers {
		fmt.Fprintf(&b, "Layer %d: %s (%s)\n", i+1, layer.Name, layer.Type.String())
		fmt.Fprintf(&b, "  Input:  %v\n", layer.InputShape)
		fmt.Fprintf(&b, "  Output: %v\n", layer.OutputShape)
		fmt.Fprintf(&b, "  Params: %d\n", layer.ParameterCount)
	}
	return b.String()
}

// IntParam returns an integer layer parameter, or defaultValue when absent.
func (l LayerSpec) IntParam(key string, defaultValue int) int {
	return getIntParam(l.Parameters, key, defaultValue)
}

// BoolParam returns a boolean layer parameter, or defaultValue when absent.
func (l LayerSpec) BoolParam(key string, defaultValue bool) bool {
	return getBoolParam(l.Parameters, key, defaultValue)
}

// Helper functions for parameter extraction. Specs decoded from JSON carry
// numbers as float64.
func getIntParam(params map[string]interface{}, key string, defaultValue int) int {
	switch val := params[key].(type) {
	case int:
		return val
	case float64:
		return int(val)
	}
	return defaultValue
}

func getBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, exists := params[key]; exists {
		if boolVal, ok := val.(bool); ok {
			return boolVal
		}
	}
	return defaultValue
}
