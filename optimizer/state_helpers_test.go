package optimizer

import (
	"math"
	"testing"

	"github.com/pascalrobust/advtrain/tensor"
)

// param returns a trainable Float32 tensor with the given values and gradient.
func param(t *testing.T, values, grad []float32) *tensor.Tensor {
	t.Helper()
	p, err := tensor.NewTensor([]int{len(values)}, tensor.Float32, append([]float32(nil), values...))
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	p.SetRequiresGrad(true)
	if grad != nil {
		g, err := tensor.NewTensor([]int{len(grad)}, tensor.Float32, append([]float32(nil), grad...))
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}
		p.SetGrad(g)
	}
	return p
}

func assertClose(t *testing.T, name string, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: length %d, want %d", name, len(got), len(want))
	}
	for i := range got {
		if math.Abs(float64(got[i]-want[i])) > 1e-5 {
			t.Errorf("%s[%d] = %v, want %v", name, i, got[i], want[i])
		}
	}
}

func TestValidateParams(t *testing.T) {
	if err := validateParams(nil); err == nil {
		t.Error("expected error for empty parameter list")
	}

	ints, _ := tensor.Zeros([]int{2}, tensor.Int32)
	if err := validateParams([]*tensor.Tensor{ints}); err == nil {
		t.Error("expected error for Int32 parameter")
	}

	if err := validateParams([]*tensor.Tensor{param(t, []float32{1}, nil)}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExtractBufferIndex(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"momentum_0", 0},
		{"variance_12", 12},
		{"m_1", 1},
		{"momentum", -1},
		{"momentum_x", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractBufferIndex(tt.name); got != tt.want {
				t.Errorf("extractBufferIndex(%q) = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestExtractParams(t *testing.T) {
	params := map[string]interface{}{
		"lr":       float64(0.5),
		"lr32":     float32(0.25),
		"flag":     true,
		"flagNum":  float64(1),
		"steps":    float64(7),
		"stepsU64": uint64(9),
		"wrong":    "text",
	}

	if got := extractFloat32Param(params, "lr", 0); got != 0.5 {
		t.Errorf("float64 lr = %v", got)
	}
	if got := extractFloat32Param(params, "lr32", 0); got != 0.25 {
		t.Errorf("float32 lr = %v", got)
	}
	if got := extractFloat32Param(params, "wrong", 3); got != 3 {
		t.Errorf("wrong type should fall back to default, got %v", got)
	}
	if !extractBoolParam(params, "flag", false) || !extractBoolParam(params, "flagNum", false) {
		t.Error("bool params not extracted")
	}
	if extractBoolParam(params, "missing", false) {
		t.Error("missing bool should use default")
	}
	if got := extractUint64Param(params, "steps", 0); got != 7 {
		t.Errorf("steps = %d", got)
	}
	if got := extractUint64Param(params, "stepsU64", 0); got != 9 {
		t.Errorf("stepsU64 = %d", got)
	}
}

func TestRestoreBuffersRejectsBadInput(t *testing.T) {
	buffers := [][]float32{make([]float32, 2)}

	state := &OptimizerState{Type: "SGD"}
	state.StateData = append(state.StateData, extractBufferState([]float32{1, 2, 3}, []int{3}, "momentum_0", "momentum"))
	if err := restoreBuffers(state, map[string][][]float32{"momentum": buffers}); err == nil {
		t.Error("expected size mismatch error")
	}

	state.StateData[0] = extractBufferState([]float32{1, 2}, []int{2}, "momentum_4", "momentum")
	if err := restoreBuffers(state, map[string][][]float32{"momentum": buffers}); err == nil {
		t.Error("expected index error")
	}

	state.StateData[0] = extractBufferState([]float32{1, 2}, []int{2}, "other_0", "other")
	if err := restoreBuffers(state, map[string][][]float32{"momentum": buffers}); err != nil {
		t.Errorf("unknown state types should be ignored: %v", err)
	}
}
