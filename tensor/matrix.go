package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

func general(rows, cols int, data []float32) blas32.General {
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: data}
}

// gemm computes c = alpha*op(a)*op(b) + beta*c on row-major slices, where
// op(x) is x or its transpose. Dimensions are those of the stored matrices.
func gemm(transA bool, aRows, aCols int, a []float32, transB bool, bRows, bCols int, b []float32, alpha, beta float32, c []float32) {
	tA, tB := blas.NoTrans, blas.NoTrans
	m, n := aRows, bCols
	if transA {
		tA = blas.Trans
		m = aCols
	}
	if transB {
		tB = blas.Trans
		n = bRows
	}
	blas32.Gemm(tA, tB, alpha, general(aRows, aCols, a), general(bRows, bCols, b), beta, general(m, n, c))
}

// MatMul multiplies two 2D Float32 tensors: [M,K] x [K,N] -> [M,N].
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if t1.DType != Float32 || t2.DType != Float32 {
		return nil, fmt.Errorf("matrix multiplication only supports Float32 tensors")
	}
	if len(t1.Shape) != 2 || len(t2.Shape) != 2 {
		return nil, fmt.Errorf("matrix multiplication requires 2D tensors, got shapes %v and %v", t1.Shape, t2.Shape)
	}

	rows1, cols1 := t1.Shape[0], t1.Shape[1]
	rows2, cols2 := t2.Shape[0], t2.Shape[1]

	if cols1 != rows2 {
		return nil, fmt.Errorf("incompatible matrix dimensions: (%d, %d) x (%d, %d)", rows1, cols1, rows2, cols2)
	}

	out := make([]float32, rows1*cols2)
	gemm(false, rows1, cols1, t1.Data.([]float32), false, rows2, cols2, t2.Data.([]float32), 1, 0, out)

	return NewTensor([]int{rows1, cols2}, Float32, out)
}

// Reshape returns a view of t with a new shape. One dimension may be -1.
func Reshape(t *Tensor, newShape []int) (*Tensor, error) {
	return t.Reshape(newShape)
}

// Flatten collapses every dimension after the first: [N, ...] -> [N, rest].
func Flatten(t *Tensor) (*Tensor, error) {
	if len(t.Shape) < 1 {
		return nil, fmt.Errorf("cannot flatten a tensor without dimensions")
	}
	return t.Reshape([]int{t.Shape[0], -1})
}
