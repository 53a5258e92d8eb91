package tensor

import "fmt"

// ConvGeometry describes a square-kernel 2D convolution over NCHW input.
type ConvGeometry struct {
	Kernel  int
	Stride  int
	Padding int
}

// OutputSize returns the spatial output size for an input of size in.
func (g ConvGeometry) OutputSize(in int) int {
	return (in+2*g.Padding-g.Kernel)/g.Stride + 1
}

// im2col unrolls one sample [C,H,W] into columns [C*K*K, Ho*Wo].
func im2col(src []float32, channels, height, width int, g ConvGeometry, col []float32) {
	outH, outW := g.OutputSize(height), g.OutputSize(width)
	k := g.Kernel
	cols := outH * outW
	for c := 0; c < channels; c++ {
		for ki := 0; ki < k; ki++ {
			for kj := 0; kj < k; kj++ {
				row := (c*k+ki)*k + kj
				for oy := 0; oy < outH; oy++ {
					iy := oy*g.Stride - g.Padding + ki
					for ox := 0; ox < outW; ox++ {
						ix := ox*g.Stride - g.Padding + kj
						var v float32
						if iy >= 0 && iy < height && ix >= 0 && ix < width {
							v = src[(c*height+iy)*width+ix]
						}
						col[row*cols+oy*outW+ox] = v
					}
				}
			}
		}
	}
}

// col2im is the adjoint of im2col: it scatter-adds columns back into dst.
func col2im(col []float32, channels, height, width int, g ConvGeometry, dst []float32) {
	outH, outW := g.OutputSize(height), g.OutputSize(width)
	k := g.Kernel
	cols := outH * outW
	for c := 0; c < channels; c++ {
		for ki := 0; ki < k; ki++ {
			for kj := 0; kj < k; kj++ {
				row := (c*k+ki)*k + kj
				for oy := 0; oy < outH; oy++ {
					iy := oy*g.Stride - g.Padding + ki
					if iy < 0 || iy >= height {
						continue
					}
					for ox := 0; ox < outW; ox++ {
						ix := ox*g.Stride - g.Padding + kj
						if ix < 0 || ix >= width {
							continue
						}
						dst[(c*height+iy)*width+ix] += col[row*cols+oy*outW+ox]
					}
				}
			}
		}
	}
}

// Conv2D convolves x [N,Cin,H,W] with weight [Cout,Cin,K,K]. Bias is applied
// separately.
func Conv2D(x, weight *Tensor, g ConvGeometry) (*Tensor, error) {
	if x.DType != Float32 || weight.DType != Float32 {
		return nil, fmt.Errorf("conv2d only supports Float32 tensors")
	}
	if len(x.Shape) != 4 || len(weight.Shape) != 4 {
		return nil, fmt.Errorf("conv2d requires 4D input and weight, got %v and %v", x.Shape, weight.Shape)
	}
	if g.Stride <= 0 || g.Kernel <= 0 || g.Padding < 0 {
		return nil, fmt.Errorf("invalid conv geometry %+v", g)
	}
	n, cin, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	cout := weight.Shape[0]
	if weight.Shape[1] != cin || weight.Shape[2] != g.Kernel || weight.Shape[3] != g.Kernel {
		return nil, fmt.Errorf("weight shape %v does not match %d input channels and kernel %d", weight.Shape, cin, g.Kernel)
	}
	outH, outW := g.OutputSize(h), g.OutputSize(w)
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("input %dx%d too small for kernel %d", h, w, g.Kernel)
	}

	src := x.Data.([]float32)
	wData := weight.Data.([]float32)
	rows := cin * g.Kernel * g.Kernel
	cols := outH * outW
	col := make([]float32, rows*cols)
	out := make([]float32, n*cout*cols)

	for s := 0; s < n; s++ {
		im2col(src[s*cin*h*w:(s+1)*cin*h*w], cin, h, w, g, col)
		gemm(false, cout, rows, wData, false, rows, cols, col, 1, 0, out[s*cout*cols:(s+1)*cout*cols])
	}

	return NewTensor([]int{n, cout, outH, outW}, Float32, out)
}

// Conv2DOp implements the Operation interface for Conv2D.
type Conv2DOp struct {
	inputs   []*Tensor
	geometry ConvGeometry
}

func (op *Conv2DOp) Inputs() []*Tensor { return op.inputs }

func (op *Conv2DOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("Conv2DOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := Conv2D(inputs[0], inputs[1], op.geometry)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}
	return record(op, result, inputs...)
}

func (op *Conv2DOp) Backward(gradOut *Tensor) []*Tensor {
	x, weight := op.inputs[0], op.inputs[1]
	g := op.geometry
	n, cin, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	cout := weight.Shape[0]
	rows := cin * g.Kernel * g.Kernel
	cols := g.OutputSize(h) * g.OutputSize(w)

	src := x.Data.([]float32)
	wData := weight.Data.([]float32)
	gOut := gradOut.Data.([]float32)
	col := make([]float32, rows*cols)
	dcol := make([]float32, rows*cols)

	var dx, dw []float32
	if x.requiresGrad {
		dx = make([]float32, x.NumElems)
	}
	if weight.requiresGrad {
		dw = make([]float32, weight.NumElems)
	}

	for s := 0; s < n; s++ {
		gs := gOut[s*cout*cols : (s+1)*cout*cols]
		if dw != nil {
			// dW += dY_s x col_s^T
			im2col(src[s*cin*h*w:(s+1)*cin*h*w], cin, h, w, g, col)
			gemm(false, cout, cols, gs, true, rows, cols, col, 1, 1, dw)
		}
		if dx != nil {
			// dX_s = col2im(W^T x dY_s)
			gemm(true, cout, rows, wData, false, cout, cols, gs, 1, 0, dcol)
			col2im(dcol, cin, h, w, g, dx[s*cin*h*w:(s+1)*cin*h*w])
		}
	}

	var gradX, gradW *Tensor
	if dx != nil {
		gradX, _ = NewTensor(x.Shape, Float32, dx)
	}
	if dw != nil {
		gradW, _ = NewTensor(weight.Shape, Float32, dw)
	}
	return []*Tensor{gradX, gradW}
}

func Conv2DAutograd(x, weight *Tensor, g ConvGeometry) *Tensor {
	op := &Conv2DOp{geometry: g}
	return op.Forward(x, weight)
}
