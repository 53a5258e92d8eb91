package optimizer

import (
	"fmt"
	"sync"

	"github.com/pascalrobust/advtrain/checkpoints"
	"github.com/pascalrobust/advtrain/tensor"
)

// paramSet holds the parameters an optimizer updates and the bookkeeping
// shared by every implementation.
type paramSet struct {
	params    []*tensor.Tensor
	stepCount uint64
	mutex     sync.RWMutex
}

func validateParams(params []*tensor.Tensor) error {
	if len(params) == 0 {
		return fmt.Errorf("no parameters to optimize")
	}
	for i, p := range params {
		if p.DType != tensor.Float32 {
			return fmt.Errorf("parameter %d has dtype %s, expected Float32", i, p.DType)
		}
	}
	return nil
}

func (ps *paramSet) ZeroGrad() {
	tensor.ZeroGrad(ps.params)
}

func (ps *paramSet) GetStepCount() uint64 {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()
	return ps.stepCount
}

// zeroBuffers allocates one zeroed slice per parameter.
func zeroBuffers(params []*tensor.Tensor) [][]float32 {
	buffers := make([][]float32, len(params))
	for i, p := range params {
		buffers[i] = make([]float32, p.NumElems)
	}
	return buffers
}

// gradData returns the parameter's gradient values, or nil when it has none.
func gradData(p *tensor.Tensor) []float32 {
	if !p.RequiresGrad() || p.Grad() == nil {
		return nil
	}
	return p.Grad().Data.([]float32)
}

// extractBufferState copies a single buffer into a checkpoint tensor
func extractBufferState(buffer []float32, shape []int, name, stateType string) checkpoints.OptimizerTensor {
	data := make([]float32, len(buffer))
	copy(data, buffer)
	return checkpoints.OptimizerTensor{
		Name:      name,
		Shape:     append([]int(nil), shape...),
		Data:      data,
		StateType: stateType,
	}
}

// restoreBufferState copies checkpoint data back into buffer.
func restoreBufferState(buffer []float32, data []float32, name string) error {
	if len(data) != len(buffer) {
		return fmt.Errorf("data size mismatch for %s: expected %d elements, got %d",
			name, len(buffer), len(data))
	}
	copy(buffer, data)
	return nil
}

// restoreBuffers routes every state tensor whose StateType is in targets to
// the buffer named by its index suffix.
func restoreBuffers(state *OptimizerState, targets map[string][][]float32) error {
	for _, st := range state.StateData {
		buffers, ok := targets[st.StateType]
		if !ok {
			continue
		}
		idx := extractBufferIndex(st.Name)
		if idx < 0 || idx >= len(buffers) {
			return fmt.Errorf("invalid buffer index in state tensor %q", st.Name)
		}
		if err := restoreBufferState(buffers[idx], st.Data, st.Name); err != nil {
			return err
		}
	}
	return nil
}

// extractFloat32Param safely extracts a float32 parameter from the state map
func extractFloat32Param(params map[string]interface{}, key string, defaultValue float32) float32 {
	switch val := params[key].(type) {
	case float64:
		return float32(val)
	case float32:
		return val
	}
	return defaultValue
}

// extractBoolParam accepts a bool or a 0/1 number, since the proto format
// stores every hyperparameter as a double.
func extractBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	switch val := params[key].(type) {
	case bool:
		return val
	case float64:
		return val != 0
	}
	return defaultValue
}

// extractUint64Param safely extracts a uint64 parameter from the state map
func extractUint64Param(params map[string]interface{}, key string, defaultValue uint64) uint64 {
	switch val := params[key].(type) {
	case float64:
		return uint64(val)
	case uint64:
		return val
	}
	return defaultValue
}
