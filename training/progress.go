package training

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/pascalrobust/advtrain/layers"
)

// ProgressBar renders a single-line progress indicator to a terminal.
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	metrics     map[string]float64
}

// NewProgressBar creates a new progress bar
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40,
		metrics:     make(map[string]float64),
	}
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	pb.metrics = metrics
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out)
}

func (pb *ProgressBar) render() {
	fmt.Fprint(pb.out, pb.line())
}

// line formats the current state, starting with a carriage return so the
// terminal overwrites the previous line.
func (pb *ProgressBar) line() string {
	percentage := 0.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}
	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	if percentage > 0 {
		eta = time.Duration(float64(elapsed)/percentage) - elapsed
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d [%s<%s",
		pb.description, percentage*100, bar, pb.current, pb.total,
		formatDuration(elapsed), formatDuration(eta))

	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := pb.metrics[key]
		if strings.Contains(key, "acc") {
			line += fmt.Sprintf(", %s=%.2f%%", key, value*100)
		} else {
			line += fmt.Sprintf(", %s=%.4f", key, value)
		}
	}
	return line + "]"
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// ModelArchitecturePrinter prints PyTorch-style model architecture
type ModelArchitecturePrinter struct {
	modelName string
}

// NewModelArchitecturePrinter creates a new model architecture printer
func NewModelArchitecturePrinter(modelName string) *ModelArchitecturePrinter {
	return &ModelArchitecturePrinter{modelName: modelName}
}

// PrintArchitecture writes the layer list and a size summary of modelSpec.
func (p *ModelArchitecturePrinter) PrintArchitecture(w io.Writer, modelSpec *layers.ModelSpec) {
	fmt.Fprintf(w, "%s(\n", p.modelName)
	for _, layer := range modelSpec.Layers {
		fmt.Fprintf(w, "  %s\n", p.formatLayer(layer))
	}
	fmt.Fprintf(w, ")\n")
	fmt.Fprintf(w, "Total parameters: %s\n", formatParameterCount(modelSpec.TotalParameters))
	fmt.Fprintf(w, "Input size (MB): %.3f\n", calculateInputSize(modelSpec.InputShape))
	fmt.Fprintf(w, "Params size (MB): %.3f\n", float64(modelSpec.TotalParameters*4)/1024/1024)
}

func (p *ModelArchitecturePrinter) formatLayer(layer layers.LayerSpec) string {
	switch layer.Type {
	case layers.Conv2D:
		k := layer.IntParam("kernel_size", 0)
		s := layer.IntParam("stride", 1)
		pad := layer.IntParam("padding", 0)
		return fmt.Sprintf("(%s): Conv2d(%d, %d, kernel_size=(%d, %d), stride=(%d, %d), padding=(%d, %d), bias=%t)",
			layer.Name, layer.IntParam("input_channels", 0), layer.IntParam("output_channels", 0),
			k, k, s, s, pad, pad, layer.BoolParam("use_bias", true))
	case layers.Dense:
		return fmt.Sprintf("(%s): Linear(in_features=%d, out_features=%d, bias=%t)",
			layer.Name, layer.IntParam("input_size", 0), layer.IntParam("output_size", 0), layer.BoolParam("use_bias", true))
	case layers.ReLU:
		return fmt.Sprintf("(%s): ReLU()", layer.Name)
	case layers.AvgPool2D:
		size := layer.IntParam("size", 2)
		return fmt.Sprintf("(%s): AvgPool2d(kernel_size=%d, stride=%d)", layer.Name, size, size)
	case layers.GlobalAvgPool:
		return fmt.Sprintf("(%s): AdaptiveAvgPool2d(output_size=1)", layer.Name)
	default:
		return fmt.Sprintf("(%s): %s()", layer.Name, layer.Type.String())
	}
}

// formatParameterCount formats parameter count with K/M suffixes
func formatParameterCount(count int64) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}

// calculateInputSize estimates input tensor size in MB
func calculateInputSize(inputShape []int) float64 {
	size := 1
	for _, dim := range inputShape {
		size *= dim
	}
	return float64(size*4) / 1024 / 1024 // 4 bytes per float32
}
