package tensor

import (
	"fmt"
	"math"
)

// Reshape returns a new tensor with the same data but different shape
// The new shape must have the same total number of elements
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	shape := make([]int, len(newShape))
	copy(shape, newShape)

	newNumElems := 1
	negOneIdx := -1

	for i, dim := range shape {
		if dim < 0 {
			if dim != -1 {
				return nil, fmt.Errorf("negative dimension %d at index %d is not allowed (only -1 is allowed)", dim, i)
			}
			if negOneIdx >= 0 {
				return nil, fmt.Errorf("only one dimension can be -1")
			}
			negOneIdx = i
		} else if dim == 0 {
			return nil, fmt.Errorf("dimension %d cannot be 0", i)
		} else {
			newNumElems *= dim
		}
	}

	if negOneIdx >= 0 {
		if t.NumElems%newNumElems != 0 {
			return nil, fmt.Errorf("cannot reshape tensor of size %d into shape with -1: size must be divisible by %d", t.NumElems, newNumElems)
		}
		inferredDim := t.NumElems / newNumElems
		shape[negOneIdx] = inferredDim
		newNumElems *= inferredDim
	}

	if newNumElems != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v (size %d)", t.NumElems, shape, newNumElems)
	}

	return &Tensor{
		Shape:        shape,
		Strides:      calculateStrides(shape),
		DType:        t.DType,
		Data:         t.Data, // Share the same underlying data
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}, nil
}

func (t *Tensor) Clone() (*Tensor, error) {
	clone := &Tensor{
		Shape:        make([]int, len(t.Shape)),
		Strides:      make([]int, len(t.Strides)),
		DType:        t.DType,
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}

	copy(clone.Shape, t.Shape)
	copy(clone.Strides, t.Strides)

	switch t.DType {
	case Float32:
		if t.Data == nil {
			return nil, fmt.Errorf("tensor has nil data")
		}
		data := t.Data.([]float32)
		cloneData := make([]float32, len(data))
		copy(cloneData, data)
		clone.Data = cloneData
	case Int32:
		if t.Data == nil {
			return nil, fmt.Errorf("tensor has nil data")
		}
		data := t.Data.([]int32)
		cloneData := make([]int32, len(data))
		copy(cloneData, data)
		clone.Data = cloneData
	default:
		return nil, fmt.Errorf("unsupported dtype for Clone: %s", t.DType)
	}

	return clone, nil
}

// Detach returns a leaf tensor sharing t's data, with no graph history and no
// gradient requirement.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{
		Shape:    t.Shape,
		Strides:  t.Strides,
		DType:    t.DType,
		Data:     t.Data,
		NumElems: t.NumElems,
	}
}

func (t *Tensor) GetFloat32Data() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Float32", t.DType)
	}
	return t.Data.([]float32), nil
}

func (t *Tensor) GetInt32Data() ([]int32, error) {
	if t.DType != Int32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Int32", t.DType)
	}
	return t.Data.([]int32), nil
}

// Item returns the single value of a one-element tensor as float64.
func (t *Tensor) Item() (float64, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item() can only be called on single-element tensors, got %d elements", t.NumElems)
	}

	switch t.DType {
	case Float32:
		return float64(t.Data.([]float32)[0]), nil
	case Int32:
		return float64(t.Data.([]int32)[0]), nil
	default:
		return 0, fmt.Errorf("unsupported dtype for Item: %s", t.DType)
	}
}

func (t *Tensor) At(indices ...int) (float64, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("number of indices (%d) must match tensor dimensions (%d)", len(indices), len(t.Shape))
	}

	flatIndex := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of bounds for dimension %d with size %d", idx, i, t.Shape[i])
		}
		flatIndex += idx * t.Strides[i]
	}

	switch t.DType {
	case Float32:
		return float64(t.Data.([]float32)[flatIndex]), nil
	case Int32:
		return float64(t.Data.([]int32)[flatIndex]), nil
	default:
		return 0, fmt.Errorf("unsupported dtype for At: %s", t.DType)
	}
}

func (t *Tensor) Size() []int {
	size := make([]int, len(t.Shape))
	copy(size, t.Shape)
	return size
}

func (t *Tensor) Numel() int {
	return t.NumElems
}

func (t *Tensor) Dim() int {
	return len(t.Shape)
}

// Equal reports whether both tensors have the same shape, dtype and values.
func (t *Tensor) Equal(other *Tensor) bool {
	if t.DType != other.DType || !shapesEqual(t.Shape, other.Shape) {
		return false
	}

	switch t.DType {
	case Float32:
		a, b := t.Data.([]float32), other.Data.([]float32)
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	case Int32:
		a, b := t.Data.([]int32), other.Data.([]int32)
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	}
	return true
}

// AsInt32 converts a tensor to Int32 class indices, truncating floats toward
// zero.
func (t *Tensor) AsInt32() (*Tensor, error) {
	switch t.DType {
	case Int32:
		return t, nil
	case Float32:
		data := t.Data.([]float32)
		out := make([]int32, len(data))
		for i, v := range data {
			out[i] = int32(v)
		}
		return NewTensor(t.Shape, Int32, out)
	default:
		return nil, fmt.Errorf("unsupported dtype for AsInt32: %s", t.DType)
	}
}

// AsFloat32 converts a tensor to Float32.
func (t *Tensor) AsFloat32() (*Tensor, error) {
	switch t.DType {
	case Float32:
		return t, nil
	case Int32:
		data := t.Data.([]int32)
		out := make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(v)
		}
		return NewTensor(t.Shape, Float32, out)
	default:
		return nil, fmt.Errorf("unsupported dtype for AsFloat32: %s", t.DType)
	}
}

// IsFinite reports whether every Float32 element is neither NaN nor Inf.
func (t *Tensor) IsFinite() bool {
	if t.DType != Float32 {
		return true
	}
	for _, v := range t.Data.([]float32) {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return true
}

// ZeroGrad resets the accumulated gradient of every tensor to zero.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t.requiresGrad && t.grad != nil {
			data := t.grad.Data.([]float32)
			for i := range data {
				data[i] = 0
			}
		}
	}
}
