package checkpoints

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/pascalrobust/advtrain/layers"
	"github.com/pascalrobust/advtrain/tensor"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatProto CheckpointFormat = iota
	FormatJSON
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatProto:
		return "proto"
	case FormatJSON:
		return "json"
	default:
		return "Unknown"
	}
}

// ParseFormat maps "proto" or "json" to a CheckpointFormat.
func ParseFormat(s string) (CheckpointFormat, error) {
	switch strings.ToLower(s) {
	case "proto", "":
		return FormatProto, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("unknown checkpoint format %q (allowed: proto, json)", s)
	}
}

const (
	frameworkName    = "advtrain"
	frameworkVersion = "1.0.0"
)

// Checkpoint represents a complete model state including weights, optimizer state, and training metadata
type Checkpoint struct {
	ModelSpec *layers.ModelSpec `json:"model_spec,omitempty"`
	Weights   []WeightTensor    `json:"weights"`

	TrainingState TrainingState `json:"training_state"`

	// Optimizer state (if available)
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight" or "bias"
}

// TrainingState captures the current training progress
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	Step         int     `json:"step"`
	LearningRate float32 `json:"learning_rate"`
	BestLoss     float32 `json:"best_loss"`
	BestAccuracy float32 `json:"best_accuracy"`
	TotalSteps   int     `json:"total_steps"`
}

// OptimizerState captures optimizer-specific state (momentum, variance, etc.)
type OptimizerState struct {
	Type       string                 `json:"type"` // "SGD", "Adam", "RAdam"
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "momentum", "m", "v", ...
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// CheckpointSaver handles saving model checkpoints in various formats.
// Paths ending in ".xz" are compressed.
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{format: format}
}

// Format returns the format used for writing.
func (cs *CheckpointSaver) Format() CheckpointFormat {
	return cs.format
}

// SaveCheckpoint writes checkpoint to path, replacing any existing file.
// The file is written to a temporary name first and renamed into place.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = frameworkName
		checkpoint.Metadata.Version = frameworkVersion
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	var payload []byte
	switch cs.format {
	case FormatProto:
		data, err := marshalCheckpoint(checkpoint)
		if err != nil {
			return fmt.Errorf("failed to encode checkpoint: %w", err)
		}
		payload = data
	case FormatJSON:
		data, err := json.MarshalIndent(checkpoint, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode checkpoint: %w", err)
		}
		payload = data
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writePayload(tmp, payload, isCompressed(path)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move checkpoint into place: %w", err)
	}
	return nil
}

func writePayload(w io.Writer, payload []byte, compress bool) error {
	if !compress {
		_, err := w.Write(payload)
		return err
	}
	zw, err := xz.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err := zw.Write(payload); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// LoadCheckpoint reads a checkpoint written in either format. The format is
// detected from the content, so the saver's own format does not matter.
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	return Load(path)
}

// Load reads a checkpoint file in proto or JSON format, optionally xz
// compressed.
func Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var r io.Reader = bufio.NewReader(file)
	if isCompressed(path) {
		zr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open xz stream: %w", err)
		}
		r = zr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var checkpoint Checkpoint
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
		return &checkpoint, nil
	}

	checkpoint, err := unmarshalCheckpoint(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return checkpoint, nil
}

func isCompressed(path string) bool {
	return strings.HasSuffix(path, ".xz")
}

// ExtractWeights copies the named parameters of model into WeightTensors.
func ExtractWeights(model *layers.Sequential) []WeightTensor {
	named := model.NamedParameters()
	weights := make([]WeightTensor, 0, len(named))
	for _, np := range named {
		layer, kind, _ := strings.Cut(np.Name, ".")
		data := make([]float32, np.Tensor.NumElems)
		copy(data, np.Tensor.Data.([]float32))
		weights = append(weights, WeightTensor{
			Name:  np.Name,
			Shape: np.Tensor.Size(),
			Data:  data,
			Layer: layer,
			Type:  kind,
		})
	}
	return weights
}

// LoadWeights copies checkpoint weights back into model by name.
func LoadWeights(weights []WeightTensor, model *layers.Sequential) error {
	values := make(map[string]*tensor.Tensor, len(weights))
	for _, w := range weights {
		t, err := tensor.NewTensor(w.Shape, tensor.Float32, w.Data)
		if err != nil {
			return fmt.Errorf("weight %s: %w", w.Name, err)
		}
		values[w.Name] = t
	}
	return model.LoadParameters(values)
}
