package results

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// DefaultPrefix names artifacts {mode}{method}{epochs}, e.g. "segmentationadv50".
const DefaultPrefix = "{{.Mode}}{{.Method}}{{.Epochs}}"

// Artifact suffixes, one per History curve.
const (
	SuffixTrainLoss = "Trainloss.pkl"
	SuffixTrainAcc  = "Trainacc.pkl"
	SuffixValLoss   = "Validation.pkl"
	SuffixValAcc    = "Validation_acc.pkl"
)

// RunInfo holds the fields available to the prefix template.
type RunInfo struct {
	Mode   string
	Method string
	Epochs int
	Exp    string
}

// WriteError reports an artifact that could not be written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Writer serializes histories with encoding/gob, one file per curve.
type Writer struct {
	dir    string
	prefix *template.Template
}

// NewWriter writes into dir using the prefix template pattern. An empty
// pattern uses DefaultPrefix and an empty dir the working directory.
func NewWriter(dir, pattern string) (*Writer, error) {
	if pattern == "" {
		pattern = DefaultPrefix
	}
	tmpl, err := template.New("artifact").Option("missingkey=error").Parse(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid artifact prefix %q: %w", pattern, err)
	}
	if dir == "" {
		dir = "."
	}
	return &Writer{dir: dir, prefix: tmpl}, nil
}

// Paths returns the artifact files for info in History field order.
func (w *Writer) Paths(info RunInfo) ([]string, error) {
	var buf bytes.Buffer
	if err := w.prefix.Execute(&buf, info); err != nil {
		return nil, fmt.Errorf("failed to render artifact prefix: %w", err)
	}
	prefix := buf.String()
	suffixes := []string{SuffixTrainLoss, SuffixTrainAcc, SuffixValLoss, SuffixValAcc}
	paths := make([]string, len(suffixes))
	for i, s := range suffixes {
		paths[i] = filepath.Join(w.dir, prefix+s)
	}
	return paths, nil
}

// Write stores every curve of h, replacing existing files. It returns the
// paths written; a failed file yields a *WriteError.
func (w *Writer) Write(info RunInfo, h *History) ([]string, error) {
	paths, err := w.Paths(info)
	if err != nil {
		return nil, err
	}
	curves := [][]float64{h.TrainLoss, h.TrainAcc, h.ValLoss, h.ValAcc}
	for i, path := range paths {
		if err := writeCurve(path, curves[i]); err != nil {
			return nil, &WriteError{Path: path, Err: err}
		}
	}
	return paths, nil
}

func writeCurve(path string, values []float64) error {
	if values == nil {
		values = []float64{}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(values); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Read loads one artifact written by Writer.
func Read(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var values []float64
	if err := gob.NewDecoder(f).Decode(&values); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return values, nil
}
