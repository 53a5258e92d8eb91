package tensor

import (
	"fmt"
	"math"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("incompatible data types: %s and %s", t1.DType, t2.DType)
	}
	if t1.DType != Float32 {
		return fmt.Errorf("elementwise operations only support Float32, got %s", t1.DType)
	}
	return nil
}

// elementwise applies fn over two Float32 tensors of the same shape, or a
// tensor and a one-element tensor on either side.
func elementwise(name string, t1, t2 *Tensor, fn func(a, b float32) float32) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	a := t1.Data.([]float32)
	b := t2.Data.([]float32)

	switch {
	case shapesEqual(t1.Shape, t2.Shape):
		out := make([]float32, len(a))
		for i := range a {
			out[i] = fn(a[i], b[i])
		}
		return NewTensor(t1.Shape, Float32, out)
	case t2.NumElems == 1:
		out := make([]float32, len(a))
		for i := range a {
			out[i] = fn(a[i], b[0])
		}
		return NewTensor(t1.Shape, Float32, out)
	case t1.NumElems == 1:
		out := make([]float32, len(b))
		for i := range b {
			out[i] = fn(a[0], b[i])
		}
		return NewTensor(t2.Shape, Float32, out)
	default:
		return nil, fmt.Errorf("%s: incompatible shapes %v and %v", name, t1.Shape, t2.Shape)
	}
}

func Add(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise("add", t1, t2, func(a, b float32) float32 { return a + b })
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise("sub", t1, t2, func(a, b float32) float32 { return a - b })
}

func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise("mul", t1, t2, func(a, b float32) float32 { return a * b })
}

// Div performs element-wise division. Division by zero follows IEEE rules.
func Div(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise("div", t1, t2, func(a, b float32) float32 { return a / b })
}

// Scale multiplies every element by s.
func Scale(t *Tensor, s float64) (*Tensor, error) {
	return mapFloat32("scale", t, func(v float32) float32 { return v * float32(s) })
}

// Sign returns -1, 0 or 1 per element. NaN maps to 0.
func Sign(t *Tensor) (*Tensor, error) {
	return mapFloat32("sign", t, func(v float32) float32 {
		switch {
		case v > 0:
			return 1
		case v < 0:
			return -1
		default:
			return 0
		}
	})
}

func ReLU(t *Tensor) (*Tensor, error) {
	return mapFloat32("relu", t, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return 0
	})
}

func Sigmoid(t *Tensor) (*Tensor, error) {
	return mapFloat32("sigmoid", t, sigmoid32)
}

func Exp(t *Tensor) (*Tensor, error) {
	return mapFloat32("exp", t, func(v float32) float32 { return float32(math.Exp(float64(v))) })
}

// Sqrt computes the square root of a tensor element-wise. Negative inputs
// produce NaN.
func Sqrt(t *Tensor) (*Tensor, error) {
	return mapFloat32("sqrt", t, func(v float32) float32 {
		if v < 0 {
			return float32(math.NaN())
		}
		return float32(math.Sqrt(float64(v)))
	})
}

// Clamp limits every element to [low, high].
func Clamp(t *Tensor, low, high float32) (*Tensor, error) {
	return mapFloat32("clamp", t, func(v float32) float32 {
		if v < low {
			return low
		}
		if v > high {
			return high
		}
		return v
	})
}

func mapFloat32(name string, t *Tensor, fn func(float32) float32) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("%s only supports Float32 tensors, got %s", name, t.DType)
	}
	data := t.Data.([]float32)
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = fn(v)
	}
	return NewTensor(t.Shape, Float32, out)
}

func sigmoid32(v float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(v))))
}
