package tensor

import "fmt"

// AvgPool2D averages non-overlapping size×size windows of x [N,C,H,W].
// Trailing rows and columns that do not fill a window are dropped.
func AvgPool2D(x *Tensor, size int) (*Tensor, error) {
	if x.DType != Float32 || len(x.Shape) != 4 {
		return nil, fmt.Errorf("avgpool2d requires a 4D Float32 tensor, got %v %s", x.Shape, x.DType)
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid pool size %d", size)
	}
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	outH, outW := h/size, w/size
	if outH == 0 || outW == 0 {
		return nil, fmt.Errorf("input %dx%d smaller than pool size %d", h, w, size)
	}

	src := x.Data.([]float32)
	out := make([]float32, n*c*outH*outW)
	inv := 1 / float32(size*size)
	for p := 0; p < n*c; p++ {
		plane := src[p*h*w : (p+1)*h*w]
		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				var sum float32
				for dy := 0; dy < size; dy++ {
					row := (oy*size + dy) * w
					for dx := 0; dx < size; dx++ {
						sum += plane[row+ox*size+dx]
					}
				}
				out[(p*outH+oy)*outW+ox] = sum * inv
			}
		}
	}

	return NewTensor([]int{n, c, outH, outW}, Float32, out)
}

// AvgPool2DOp implements the Operation interface for AvgPool2D.
type AvgPool2DOp struct {
	inputs []*Tensor
	size   int
}

func (op *AvgPool2DOp) Inputs() []*Tensor { return op.inputs }

func (op *AvgPool2DOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("AvgPool2DOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := AvgPool2D(inputs[0], op.size)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}
	return record(op, result, inputs...)
}

func (op *AvgPool2DOp) Backward(gradOut *Tensor) []*Tensor {
	x := op.inputs[0]
	size := op.size
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	outH, outW := h/size, w/size

	g := gradOut.Data.([]float32)
	dx := make([]float32, x.NumElems)
	inv := 1 / float32(size*size)
	for p := 0; p < n*c; p++ {
		plane := dx[p*h*w : (p+1)*h*w]
		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				v := g[(p*outH+oy)*outW+ox] * inv
				for dy := 0; dy < size; dy++ {
					row := (oy*size + dy) * w
					for ddx := 0; ddx < size; ddx++ {
						plane[row+ox*size+ddx] = v
					}
				}
			}
		}
	}

	grad, _ := NewTensor(x.Shape, Float32, dx)
	return []*Tensor{grad}
}

// GlobalAvgPool reduces x [N,C,H,W] to [N,C] by averaging each plane.
func GlobalAvgPool(x *Tensor) (*Tensor, error) {
	if x.DType != Float32 || len(x.Shape) != 4 {
		return nil, fmt.Errorf("global average pool requires a 4D Float32 tensor, got %v %s", x.Shape, x.DType)
	}
	n, c, hw := x.Shape[0], x.Shape[1], x.Shape[2]*x.Shape[3]

	src := x.Data.([]float32)
	out := make([]float32, n*c)
	for p := range out {
		var sum float32
		for _, v := range src[p*hw : (p+1)*hw] {
			sum += v
		}
		out[p] = sum / float32(hw)
	}

	return NewTensor([]int{n, c}, Float32, out)
}

// GlobalAvgPoolOp implements the Operation interface for GlobalAvgPool.
type GlobalAvgPoolOp struct {
	inputs []*Tensor
}

func (op *GlobalAvgPoolOp) Inputs() []*Tensor { return op.inputs }

func (op *GlobalAvgPoolOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("GlobalAvgPoolOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := GlobalAvgPool(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}
	return record(op, result, inputs...)
}

func (op *GlobalAvgPoolOp) Backward(gradOut *Tensor) []*Tensor {
	x := op.inputs[0]
	hw := x.Shape[2] * x.Shape[3]
	g := gradOut.Data.([]float32)
	dx := make([]float32, x.NumElems)
	inv := 1 / float32(hw)
	for i := range dx {
		dx[i] = g[i/hw] * inv
	}

	grad, _ := NewTensor(x.Shape, Float32, dx)
	return []*Tensor{grad}
}

func AvgPool2DAutograd(x *Tensor, size int) *Tensor {
	op := &AvgPool2DOp{size: size}
	return op.Forward(x)
}

func GlobalAvgPoolAutograd(x *Tensor) *Tensor {
	op := &GlobalAvgPoolOp{}
	return op.Forward(x)
}
