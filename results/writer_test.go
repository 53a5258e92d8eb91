package results

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pascalrobust/advtrain/training"
)

func TestPathsFollowNamingScheme(t *testing.T) {
	w, err := NewWriter("", "")
	require.NoError(t, err)

	paths, err := w.Paths(RunInfo{Mode: "classification", Method: "adv", Epochs: 200})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"classificationadv200Trainloss.pkl",
		"classificationadv200Trainacc.pkl",
		"classificationadv200Validation.pkl",
		"classificationadv200Validation_acc.pkl",
	}, paths)
}

func TestCustomPrefix(t *testing.T) {
	w, err := NewWriter("out", "{{.Exp}}-{{.Mode}}-")
	require.NoError(t, err)
	paths, err := w.Paths(RunInfo{Mode: "segmentation", Exp: "run1"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("out", "run1-segmentation-Trainloss.pkl"), paths[0])

	_, err = NewWriter("", "{{.Mode")
	assert.Error(t, err)
}

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "")
	require.NoError(t, err)

	var h History
	h.Append(training.EpochResult{Loss: 0.7, Metric: 0.4}, training.EpochResult{Loss: 0.9, Metric: 0.3})
	h.Append(training.EpochResult{Loss: 0.5, Metric: 0.6}, training.EpochResult{Loss: 0.8, Metric: 0.35})
	require.Equal(t, 2, h.Len())

	info := RunInfo{Mode: "segmentation", Method: "plain", Epochs: 2}
	paths, err := w.Write(info, &h)
	require.NoError(t, err)

	want := [][]float64{{0.7, 0.5}, {0.4, 0.6}, {0.9, 0.8}, {0.3, 0.35}}
	for i, path := range paths {
		got, err := Read(path)
		require.NoError(t, err)
		assert.Equal(t, want[i], got, path)
	}

	// A second run with the same name overwrites.
	var short History
	short.Append(training.EpochResult{Loss: 1}, training.EpochResult{Loss: 2})
	_, err = w.Write(info, &short)
	require.NoError(t, err)
	got, err := Read(paths[0])
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, got)
}

func TestWriteError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	w, err := NewWriter(filepath.Join(blocker, "sub"), "")
	require.NoError(t, err)
	_, err = w.Write(RunInfo{Mode: "m", Method: "x", Epochs: 1}, &History{})

	var we *WriteError
	require.True(t, errors.As(err, &we), "expected *WriteError, got %v", err)
	assert.Contains(t, we.Path, "mx1Trainloss.pkl")
	assert.Error(t, we.Unwrap())
}

func TestReadMissing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.pkl"))
	assert.Error(t, err)
}
