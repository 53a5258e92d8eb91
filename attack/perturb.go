// Package attack computes gradient-based adversarial perturbations for
// robustness evaluation.
package attack

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/pascalrobust/advtrain/tensor"
)

// Norm selects the constraint OptimizeLinear normalises the gradient under.
type Norm int

const (
	NormInf Norm = iota
	NormL1
	NormL2
)

func (n Norm) String() string {
	switch n {
	case NormInf:
		return "inf"
	case NormL1:
		return "l1"
	case NormL2:
		return "l2"
	default:
		return fmt.Sprintf("Norm(%d)", int(n))
	}
}

// ParseNorm accepts "inf", "l1"/"1" and "l2"/"2".
func ParseNorm(s string) (Norm, error) {
	switch strings.ToLower(s) {
	case "inf", "linf":
		return NormInf, nil
	case "l1", "1":
		return NormL1, nil
	case "l2", "2":
		return NormL2, nil
	}
	return 0, fmt.Errorf("unknown norm %q (allowed: inf, l1, l2)", s)
}

// avoidZeroDiv floors the normaliser so an all-zero gradient yields a zero
// perturbation.
const avoidZeroDiv = 1e-12

// OptimizeLinear returns the perturbation of size eps that maximises the
// linear approximation of the loss given its gradient:
//
//	inf: eps · sign(g)
//	l1:  eps · g / max(Σ|g|, 1e-12)
//	l2:  eps · g / sqrt(max(Σg², 1e-12))
//
// The L1 and L2 sums are taken per example along the first dimension.
// sign(0) is 0.
func OptimizeLinear(grad *tensor.Tensor, eps float64, norm Norm) (*tensor.Tensor, error) {
	if grad == nil {
		return nil, fmt.Errorf("nil gradient")
	}
	if grad.DType != tensor.Float32 {
		return nil, fmt.Errorf("gradient dtype is %s, expected Float32", grad.DType)
	}

	switch norm {
	case NormInf:
		sign, err := tensor.Sign(grad)
		if err != nil {
			return nil, err
		}
		return tensor.Scale(sign, eps)
	case NormL1, NormL2:
	default:
		return nil, fmt.Errorf("unsupported norm %s", norm)
	}

	out, err := grad.Clone()
	if err != nil {
		return nil, err
	}
	out.SetRequiresGrad(false)

	data := out.Data.([]float32)
	batch := 1
	if grad.Dim() > 1 {
		batch = grad.Shape[0]
	}
	per := len(data) / batch
	for b := 0; b < batch; b++ {
		v := blas32.Vector{N: per, Data: data[b*per : (b+1)*per], Inc: 1}
		var denom float64
		if norm == NormL1 {
			denom = math.Max(float64(blas32.Asum(v)), avoidZeroDiv)
		} else {
			n := float64(blas32.Nrm2(v))
			denom = math.Sqrt(math.Max(n*n, avoidZeroDiv))
		}
		blas32.Scal(float32(eps/denom), v)
	}
	return out, nil
}
