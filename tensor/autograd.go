package tensor

import (
	"fmt"
	"sync/atomic"
)

var noGradDepth atomic.Int32

// NoGrad runs fn with graph recording disabled. Ops executed inside fn return
// plain tensors without a creator, so nothing is retained for Backward.
func NoGrad(fn func() error) error {
	noGradDepth.Add(1)
	defer noGradDepth.Add(-1)
	return fn()
}

// GradEnabled reports whether ops currently record the autograd graph.
func GradEnabled() bool {
	return noGradDepth.Load() == 0
}

// record attaches op to result when any input requires a gradient.
func record(op Operation, result *Tensor, inputs ...*Tensor) *Tensor {
	if !GradEnabled() {
		return result
	}
	for _, in := range inputs {
		if in != nil && in.requiresGrad {
			result.requiresGrad = true
			result.creator = op
			break
		}
	}
	return result
}

// Backward computes gradients of a one-element tensor with respect to every
// leaf that requires them. Leaf gradients accumulate until cleared with
// ZeroGrad.
func (t *Tensor) Backward() error {
	if t.NumElems != 1 {
		return fmt.Errorf("backward requires a single-element tensor, got shape %v", t.Shape)
	}
	if !t.requiresGrad {
		return fmt.Errorf("tensor does not require grad and has no creator")
	}
	seed, _ := NewTensor(t.Shape, Float32, []float32{1})
	return t.BackwardWithGrad(seed)
}

// BackwardWithGrad propagates grad, which must match t's shape, through the
// graph that produced t.
func (t *Tensor) BackwardWithGrad(grad *Tensor) error {
	if !shapesEqual(t.Shape, grad.Shape) {
		return fmt.Errorf("gradient shape %v does not match tensor shape %v", grad.Shape, t.Shape)
	}

	order := topologicalOrder(t)
	grads := map[*Tensor]*Tensor{t: grad}

	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		g := grads[node]
		if g == nil {
			continue
		}
		delete(grads, node)

		if node.creator == nil {
			if node.requiresGrad {
				if err := node.accumulateGrad(g); err != nil {
					return err
				}
			}
			continue
		}

		inputs := node.creator.Inputs()
		inputGrads := node.creator.Backward(g)
		if len(inputGrads) != len(inputs) {
			return fmt.Errorf("%T returned %d gradients for %d inputs", node.creator, len(inputGrads), len(inputs))
		}
		for j, in := range inputs {
			if in == nil || !in.requiresGrad || inputGrads[j] == nil {
				continue
			}
			if existing, ok := grads[in]; ok {
				sum, err := Add(existing, inputGrads[j])
				if err != nil {
					return fmt.Errorf("failed to accumulate gradient: %v", err)
				}
				grads[in] = sum
			} else {
				grads[in] = inputGrads[j]
			}
		}
	}

	return nil
}

func (t *Tensor) accumulateGrad(g *Tensor) error {
	if !shapesEqual(t.Shape, g.Shape) {
		var err error
		if g, err = g.Reshape(t.Shape); err != nil {
			return fmt.Errorf("gradient shape %v does not fit leaf shape %v: %v", g.Shape, t.Shape, err)
		}
	}
	if t.grad == nil {
		owned, err := g.Clone()
		if err != nil {
			return err
		}
		owned.requiresGrad = false
		t.grad = owned
		return nil
	}
	dst := t.grad.Data.([]float32)
	src := g.Data.([]float32)
	for i := range dst {
		dst[i] += src[i]
	}
	return nil
}

// topologicalOrder returns the nodes reachable from root that require grad,
// with every node placed after all of its inputs.
func topologicalOrder(root *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]bool)

	var visit func(n *Tensor)
	visit = func(n *Tensor) {
		if n == nil || visited[n] || !n.requiresGrad {
			return
		}
		visited[n] = true
		if n.creator != nil {
			for _, in := range n.creator.Inputs() {
				visit(in)
			}
		}
		order = append(order, n)
	}
	visit(root)

	return order
}

// MatMulOp implements the Operation interface for 2D matrix multiplication
type MatMulOp struct {
	inputs []*Tensor
}

func (op *MatMulOp) Inputs() []*Tensor { return op.inputs }

func (op *MatMulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MatMulOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := MatMul(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}
	return record(op, result, inputs...)
}

func (op *MatMulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]
	m, k := a.Shape[0], a.Shape[1]
	n := b.Shape[1]
	g := gradOut.Data.([]float32)

	var gradA, gradB *Tensor
	if a.requiresGrad {
		// dA = dC x B^T
		data := make([]float32, m*k)
		gemm(false, m, n, g, true, k, n, b.Data.([]float32), 1, 0, data)
		gradA, _ = NewTensor(a.Shape, Float32, data)
	}
	if b.requiresGrad {
		// dB = A^T x dC
		data := make([]float32, k*n)
		gemm(true, m, k, a.Data.([]float32), false, m, n, g, 1, 0, data)
		gradB, _ = NewTensor(b.Shape, Float32, data)
	}
	return []*Tensor{gradA, gradB}
}

// AddBiasOp adds a per-channel bias [C] to a tensor [N, C, ...].
type AddBiasOp struct {
	inputs []*Tensor
}

func (op *AddBiasOp) Inputs() []*Tensor { return op.inputs }

func (op *AddBiasOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("AddBiasOp requires exactly 2 inputs")
	}
	x, bias := inputs[0], inputs[1]
	op.inputs = inputs

	if len(x.Shape) < 2 || len(bias.Shape) != 1 || bias.Shape[0] != x.Shape[1] {
		panic(fmt.Sprintf("Forward pass failed: bias shape %v does not match input shape %v", bias.Shape, x.Shape))
	}

	channels := x.Shape[1]
	inner := x.NumElems / (x.Shape[0] * channels)
	src := x.Data.([]float32)
	b := bias.Data.([]float32)
	out := make([]float32, len(src))
	for i := range src {
		out[i] = src[i] + b[(i/inner)%channels]
	}

	result, _ := NewTensor(x.Shape, Float32, out)
	return record(op, result, inputs...)
}

func (op *AddBiasOp) Backward(gradOut *Tensor) []*Tensor {
	x, bias := op.inputs[0], op.inputs[1]
	channels := x.Shape[1]
	inner := x.NumElems / (x.Shape[0] * channels)

	var gradBias *Tensor
	if bias.requiresGrad {
		g := gradOut.Data.([]float32)
		sums := make([]float32, channels)
		for i, v := range g {
			sums[(i/inner)%channels] += v
		}
		gradBias, _ = NewTensor(bias.Shape, Float32, sums)
	}
	return []*Tensor{gradOut, gradBias}
}

// ReLUOp implements the Operation interface for ReLU activation
type ReLUOp struct {
	inputs []*Tensor
}

func (op *ReLUOp) Inputs() []*Tensor { return op.inputs }

func (op *ReLUOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ReLUOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := ReLU(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}
	return record(op, result, inputs...)
}

func (op *ReLUOp) Backward(gradOut *Tensor) []*Tensor {
	// ReLU gradient: 1 if input > 0, 0 otherwise
	in := op.inputs[0].Data.([]float32)
	g := gradOut.Data.([]float32)
	out := make([]float32, len(in))
	for i, v := range in {
		if v > 0 {
			out[i] = g[i]
		}
	}
	grad, _ := NewTensor(op.inputs[0].Shape, Float32, out)
	return []*Tensor{grad}
}

// ReshapeOp records a view change so the gradient can be mapped back.
type ReshapeOp struct {
	inputs []*Tensor
	shape  []int
}

func (op *ReshapeOp) Inputs() []*Tensor { return op.inputs }

func (op *ReshapeOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ReshapeOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := inputs[0].Reshape(op.shape)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}
	result.requiresGrad = false
	return record(op, result, inputs...)
}

func (op *ReshapeOp) Backward(gradOut *Tensor) []*Tensor {
	grad, err := gradOut.Reshape(op.inputs[0].Shape)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

// lossOp connects a scalar computed outside the graph to its input, using a
// gradient that the caller computed alongside the value.
type lossOp struct {
	inputs []*Tensor
	grad   *Tensor
}

func (op *lossOp) Inputs() []*Tensor { return op.inputs }

func (op *lossOp) Forward(inputs ...*Tensor) *Tensor {
	panic("lossOp is built by Attach")
}

func (op *lossOp) Backward(gradOut *Tensor) []*Tensor {
	scale := gradOut.Data.([]float32)[0]
	if scale == 1 {
		return []*Tensor{op.grad}
	}
	scaled, _ := Scale(op.grad, float64(scale))
	return []*Tensor{scaled}
}

// Attach returns a one-element tensor holding value whose gradient with
// respect to input is grad. It is how losses with closed-form gradients join
// the graph.
func Attach(value float32, input, grad *Tensor) (*Tensor, error) {
	if !shapesEqual(input.Shape, grad.Shape) {
		return nil, fmt.Errorf("gradient shape %v does not match input shape %v", grad.Shape, input.Shape)
	}
	result, err := NewTensor([]int{1}, Float32, []float32{value})
	if err != nil {
		return nil, err
	}
	return record(&lossOp{inputs: []*Tensor{input}, grad: grad}, result, input), nil
}

func MatMulAutograd(a, b *Tensor) *Tensor {
	op := &MatMulOp{}
	return op.Forward(a, b)
}

func AddBiasAutograd(x, bias *Tensor) *Tensor {
	op := &AddBiasOp{}
	return op.Forward(x, bias)
}

func ReLUAutograd(a *Tensor) *Tensor {
	op := &ReLUOp{}
	return op.Forward(a)
}

func ReshapeAutograd(a *Tensor, shape []int) *Tensor {
	op := &ReshapeOp{shape: shape}
	return op.Forward(a)
}
