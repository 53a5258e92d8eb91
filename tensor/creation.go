package tensor

import (
	"fmt"
	"math/rand"
)

func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	ownShape := make([]int, len(shape))
	copy(ownShape, shape)

	tensor := &Tensor{
		Shape:    ownShape,
		Strides:  calculateStrides(ownShape),
		DType:    dtype,
		NumElems: calculateNumElements(ownShape),
	}

	if data != nil {
		if err := tensor.setData(data); err != nil {
			return nil, err
		}
	}

	return tensor, nil
}

func (t *Tensor) setData(data interface{}) error {
	switch t.DType {
	case Float32:
		switch d := data.(type) {
		case []float32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case float32:
			slice := make([]float32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Float32 tensor: %T", data)
		}
	case Int32:
		switch d := data.(type) {
		case []int32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case int32:
			slice := make([]int32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Int32 tensor: %T", data)
		}
	default:
		return fmt.Errorf("unsupported dtype: %s", t.DType)
	}
	return nil
}

// SetData replaces the tensor contents in place. The new data must have the
// same length and element type.
func (t *Tensor) SetData(data interface{}) error {
	return t.setData(data)
}

func Zeros(shape []int, dtype DType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	var data interface{}
	switch dtype {
	case Float32:
		data = make([]float32, numElems)
	case Int32:
		data = make([]int32, numElems)
	default:
		return nil, fmt.Errorf("unsupported dtype for Zeros: %s", dtype)
	}

	return NewTensor(shape, dtype, data)
}

// ZerosLike returns a zero Float32 tensor with the shape of t.
func ZerosLike(t *Tensor) *Tensor {
	z, _ := Zeros(t.Shape, Float32)
	return z
}

func Ones(shape []int, dtype DType) (*Tensor, error) {
	switch dtype {
	case Float32:
		return Full(shape, float32(1), dtype)
	case Int32:
		return Full(shape, int32(1), dtype)
	default:
		return nil, fmt.Errorf("unsupported dtype for Ones: %s", dtype)
	}
}

func Full(shape []int, value interface{}, dtype DType) (*Tensor, error) {
	return NewTensor(shape, dtype, value)
}

// RandomUniform fills a Float32 tensor from U(low, high) using rng.
func RandomUniform(shape []int, low, high float64, rng *rand.Rand) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	slice := make([]float32, calculateNumElements(shape))
	for i := range slice {
		slice[i] = float32(low + rng.Float64()*(high-low))
	}

	return NewTensor(shape, Float32, slice)
}

// RandomNormal fills a Float32 tensor from N(mean, std²) using rng.
func RandomNormal(shape []int, mean, std float32, rng *rand.Rand) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	slice := make([]float32, calculateNumElements(shape))
	for i := range slice {
		slice[i] = float32(rng.NormFloat64())*std + mean
	}

	return NewTensor(shape, Float32, slice)
}

// FromScalar creates a one-element tensor from a float64 value
func FromScalar(value float64, dtype DType) *Tensor {
	switch dtype {
	case Int32:
		tensor, _ := NewTensor([]int{1}, dtype, []int32{int32(value)})
		return tensor
	default:
		tensor, _ := NewTensor([]int{1}, Float32, []float32{float32(value)})
		return tensor
	}
}
