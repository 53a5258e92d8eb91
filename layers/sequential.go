package layers

import (
	"fmt"
	"math/rand"

	"github.com/pascalrobust/advtrain/tensor"
)

// Sequential allows chaining multiple modules together
type Sequential struct {
	trainingMode
	names   []string
	modules []Module
	spec    *ModelSpec
}

// NewSequential creates a new Sequential container. Modules are named by
// their position.
func NewSequential(modules ...Module) *Sequential {
	s := &Sequential{trainingMode: trainingMode{true}}
	for _, m := range modules {
		s.Add(fmt.Sprintf("%d", len(s.modules)), m)
	}
	return s
}

// Add appends a named module to the container.
func (s *Sequential) Add(name string, module Module) {
	s.names = append(s.names, name)
	s.modules = append(s.modules, module)
}

// Forward passes input through all modules in sequence
func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	output := input
	for i, m := range s.modules {
		var err error
		output, err = m.Forward(output)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", s.names[i], err)
		}
	}
	return output, nil
}

// Parameters returns all trainable parameters from all modules
func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// NamedParameters returns the parameters in Parameters order, named
// "<layer>.weight" and "<layer>.bias".
func (s *Sequential) NamedParameters() []NamedParameter {
	var named []NamedParameter
	for i, m := range s.modules {
		for j, p := range m.Parameters() {
			suffix := "weight"
			if j == 1 {
				suffix = "bias"
			}
			named = append(named, NamedParameter{Name: s.names[i] + "." + suffix, Tensor: p})
		}
	}
	return named
}

// LoadParameters copies values into the parameters with matching names.
// Every parameter must be present with the same shape.
func (s *Sequential) LoadParameters(values map[string]*tensor.Tensor) error {
	for _, np := range s.NamedParameters() {
		src, ok := values[np.Name]
		if !ok {
			return fmt.Errorf("missing parameter %q", np.Name)
		}
		if !tensor.SameShape(src.Shape, np.Tensor.Shape) {
			return fmt.Errorf("parameter %q has shape %v, expected %v", np.Name, src.Shape, np.Tensor.Shape)
		}
		data, err := src.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %q: %w", np.Name, err)
		}
		copy(np.Tensor.Data.([]float32), data)
	}
	return nil
}

func (s *Sequential) Train() {
	s.training = true
	for _, m := range s.modules {
		m.Train()
	}
}

func (s *Sequential) Eval() {
	s.training = false
	for _, m := range s.modules {
		m.Eval()
	}
}

func (s *Sequential) Clone() (Module, error) {
	c := &Sequential{trainingMode: s.trainingMode, spec: s.spec}
	for i, m := range s.modules {
		mc, err := m.Clone()
		if err != nil {
			return nil, fmt.Errorf("failed to clone layer %s: %w", s.names[i], err)
		}
		c.Add(s.names[i], mc)
	}
	return c, nil
}

// Spec returns the compiled spec the container was built from, or nil.
func (s *Sequential) Spec() *ModelSpec {
	return s.spec
}

// Len returns the number of layers.
func (s *Sequential) Len() int {
	return len(s.modules)
}

// Build instantiates a compiled ModelSpec, drawing initial weights from rng.
func Build(spec *ModelSpec, rng *rand.Rand) (*Sequential, error) {
	if spec == nil || !spec.Compiled {
		return nil, fmt.Errorf("model not compiled")
	}

	s := &Sequential{trainingMode: trainingMode{true}, spec: spec}
	for _, layer := range spec.Layers {
		var (
			m   Module
			err error
		)
		p := layer.Parameters
		switch layer.Type {
		case Dense:
			m, err = NewDense(getIntParam(p, "input_size", 0), getIntParam(p, "output_size", 0),
				getBoolParam(p, "use_bias", true), rng)
		case Conv2D:
			m, err = NewConv2D(getIntParam(p, "input_channels", 0), getIntParam(p, "output_channels", 0),
				getIntParam(p, "kernel_size", 0), getIntParam(p, "stride", 1), getIntParam(p, "padding", 0),
				getBoolParam(p, "use_bias", true), rng)
		case ReLU:
			m = NewReLU()
		case AvgPool2D:
			m = NewAvgPool2D(getIntParam(p, "size", 2))
		case GlobalAvgPool:
			m = NewGlobalAvgPool()
		default:
			err = fmt.Errorf("unsupported layer type: %s", layer.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to build layer %s: %w", layer.Name, err)
		}
		s.Add(layer.Name, m)
	}
	return s, nil
}
