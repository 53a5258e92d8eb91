package checkpoints

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pascalrobust/advtrain/layers"
)

// Protobuf wire layout of a checkpoint file:
//
//	Checkpoint     { 1: Metadata  2: TrainingState  3: repeated Tensor (weights)
//	                 4: OptimizerState  5: bytes model spec (JSON) }
//	Metadata       { 1: version  2: framework  3: created_at unix nanos (zigzag)
//	                 4: description  5: repeated tags }
//	TrainingState  { 1: epoch  2: step  6: total_steps (zigzag varints)
//	                 3: learning_rate  4: best_loss  5: best_accuracy (fixed32) }
//	Tensor         { 1: name  2: packed shape  3: packed fixed32 data
//	                 4: layer  5: type / state_type }
//	OptimizerState { 1: type  2: repeated Param { 1: key  2: double }
//	                 3: repeated Tensor }

func marshalCheckpoint(c *Checkpoint) ([]byte, error) {
	var b []byte

	b = appendMessage(b, 1, marshalMetadata(&c.Metadata))
	b = appendMessage(b, 2, marshalTrainingState(&c.TrainingState))
	for i := range c.Weights {
		w := &c.Weights[i]
		b = appendMessage(b, 3, marshalTensor(w.Name, w.Shape, w.Data, w.Layer, w.Type))
	}
	if c.OptimizerState != nil {
		opt, err := marshalOptimizerState(c.OptimizerState)
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, 4, opt)
	}
	if c.ModelSpec != nil {
		spec, err := json.Marshal(c.ModelSpec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode model spec: %w", err)
		}
		b = appendMessage(b, 5, spec)
	}
	return b, nil
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func marshalMetadata(m *CheckpointMetadata) []byte {
	var b []byte
	b = appendString(b, 1, m.Version)
	b = appendString(b, 2, m.Framework)
	if !m.CreatedAt.IsZero() {
		b = appendInt(b, 3, m.CreatedAt.UnixNano())
	}
	b = appendString(b, 4, m.Description)
	for _, tag := range m.Tags {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, tag)
	}
	return b
}

func marshalTrainingState(s *TrainingState) []byte {
	var b []byte
	b = appendInt(b, 1, int64(s.Epoch))
	b = appendInt(b, 2, int64(s.Step))
	b = appendFloat(b, 3, s.LearningRate)
	b = appendFloat(b, 4, s.BestLoss)
	b = appendFloat(b, 5, s.BestAccuracy)
	b = appendInt(b, 6, int64(s.TotalSteps))
	return b
}

func marshalTensor(name string, shape []int, data []float32, layer, kind string) []byte {
	var b []byte
	b = appendString(b, 1, name)

	var dims []byte
	for _, d := range shape {
		dims = protowire.AppendVarint(dims, uint64(d))
	}
	b = appendMessage(b, 2, dims)

	values := make([]byte, 0, 4*len(data))
	for _, v := range data {
		values = protowire.AppendFixed32(values, math.Float32bits(v))
	}
	b = appendMessage(b, 3, values)

	b = appendString(b, 4, layer)
	b = appendString(b, 5, kind)
	return b
}

func marshalOptimizerState(s *OptimizerState) ([]byte, error) {
	var b []byte
	b = appendString(b, 1, s.Type)

	keys := make([]string, 0, len(s.Parameters))
	for k := range s.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := toFloat64(s.Parameters[k])
		if err != nil {
			return nil, fmt.Errorf("optimizer parameter %q: %w", k, err)
		}
		var entry []byte
		entry = appendString(entry, 1, k)
		entry = protowire.AppendTag(entry, 2, protowire.Fixed64Type)
		entry = protowire.AppendFixed64(entry, math.Float64bits(v))
		b = appendMessage(b, 2, entry)
	}

	for i := range s.StateData {
		t := &s.StateData[i]
		b = appendMessage(b, 3, marshalTensor(t.Name, t.Shape, t.Data, "", t.StateType))
	}
	return b, nil
}

func toFloat64(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported parameter type %T", v)
	}
}

// field is one decoded top-level field of a message.
type field struct {
	num   protowire.Number
	typ   protowire.Type
	bytes []byte
	u64   uint64
}

func parseFields(b []byte) ([]field, error) {
	var fields []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u64, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.u64 = uint64(v)
		case protowire.Fixed64Type:
			f.u64, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		fields = append(fields, f)
	}
	return fields, nil
}

func unmarshalCheckpoint(b []byte) (*Checkpoint, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}

	c := &Checkpoint{}
	for _, f := range fields {
		switch f.num {
		case 1:
			if err := unmarshalMetadata(f.bytes, &c.Metadata); err != nil {
				return nil, fmt.Errorf("metadata: %w", err)
			}
		case 2:
			if err := unmarshalTrainingState(f.bytes, &c.TrainingState); err != nil {
				return nil, fmt.Errorf("training state: %w", err)
			}
		case 3:
			name, shape, data, layer, kind, err := unmarshalTensor(f.bytes)
			if err != nil {
				return nil, fmt.Errorf("weight: %w", err)
			}
			c.Weights = append(c.Weights, WeightTensor{Name: name, Shape: shape, Data: data, Layer: layer, Type: kind})
		case 4:
			opt, err := unmarshalOptimizerState(f.bytes)
			if err != nil {
				return nil, fmt.Errorf("optimizer state: %w", err)
			}
			c.OptimizerState = opt
		case 5:
			var spec layers.ModelSpec
			if err := json.Unmarshal(f.bytes, &spec); err != nil {
				return nil, fmt.Errorf("model spec: %w", err)
			}
			c.ModelSpec = &spec
		}
	}
	if c.Metadata.Framework == "" {
		return nil, fmt.Errorf("not a checkpoint: missing metadata")
	}
	return c, nil
}

func unmarshalMetadata(b []byte, m *CheckpointMetadata) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			m.Version = string(f.bytes)
		case 2:
			m.Framework = string(f.bytes)
		case 3:
			m.CreatedAt = time.Unix(0, protowire.DecodeZigZag(f.u64))
		case 4:
			m.Description = string(f.bytes)
		case 5:
			m.Tags = append(m.Tags, string(f.bytes))
		}
	}
	return nil
}

func unmarshalTrainingState(b []byte, s *TrainingState) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			s.Epoch = int(protowire.DecodeZigZag(f.u64))
		case 2:
			s.Step = int(protowire.DecodeZigZag(f.u64))
		case 3:
			s.LearningRate = math.Float32frombits(uint32(f.u64))
		case 4:
			s.BestLoss = math.Float32frombits(uint32(f.u64))
		case 5:
			s.BestAccuracy = math.Float32frombits(uint32(f.u64))
		case 6:
			s.TotalSteps = int(protowire.DecodeZigZag(f.u64))
		}
	}
	return nil
}

func unmarshalTensor(b []byte) (name string, shape []int, data []float32, layer, kind string, err error) {
	fields, err := parseFields(b)
	if err != nil {
		return "", nil, nil, "", "", err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			name = string(f.bytes)
		case 2:
			dims := f.bytes
			for len(dims) > 0 {
				v, n := protowire.ConsumeVarint(dims)
				if n < 0 {
					return "", nil, nil, "", "", protowire.ParseError(n)
				}
				shape = append(shape, int(v))
				dims = dims[n:]
			}
		case 3:
			if len(f.bytes)%4 != 0 {
				return "", nil, nil, "", "", fmt.Errorf("tensor %q: data length %d is not a multiple of 4", name, len(f.bytes))
			}
			data = make([]float32, 0, len(f.bytes)/4)
			values := f.bytes
			for len(values) > 0 {
				v, n := protowire.ConsumeFixed32(values)
				if n < 0 {
					return "", nil, nil, "", "", protowire.ParseError(n)
				}
				data = append(data, math.Float32frombits(v))
				values = values[n:]
			}
		case 4:
			layer = string(f.bytes)
		case 5:
			kind = string(f.bytes)
		}
	}

	elems := 1
	for _, d := range shape {
		elems *= d
	}
	if elems != len(data) {
		return "", nil, nil, "", "", fmt.Errorf("tensor %q: shape %v does not match %d values", name, shape, len(data))
	}
	return name, shape, data, layer, kind, nil
}

func unmarshalOptimizerState(b []byte) (*OptimizerState, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	s := &OptimizerState{Parameters: make(map[string]interface{})}
	for _, f := range fields {
		switch f.num {
		case 1:
			s.Type = string(f.bytes)
		case 2:
			entry, err := parseFields(f.bytes)
			if err != nil {
				return nil, err
			}
			var key string
			var value float64
			for _, e := range entry {
				switch e.num {
				case 1:
					key = string(e.bytes)
				case 2:
					value = math.Float64frombits(e.u64)
				}
			}
			s.Parameters[key] = value
		case 3:
			name, shape, data, _, kind, err := unmarshalTensor(f.bytes)
			if err != nil {
				return nil, err
			}
			s.StateData = append(s.StateData, OptimizerTensor{Name: name, Shape: shape, Data: data, StateType: kind})
		}
	}
	return s, nil
}
