package training

import (
	"errors"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/pascalrobust/advtrain/tensor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// indexDataset returns sample i as data [2] = {i, -i} and label [1] = {i}.
type indexDataset struct {
	n       int
	failAt  int
	failErr error
}

func (d *indexDataset) Len() int { return d.n }

func (d *indexDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	if d.failErr != nil && idx == d.failAt {
		return nil, nil, d.failErr
	}
	data, _ := tensor.NewTensor([]int{2}, tensor.Float32, []float32{float32(idx), -float32(idx)})
	label, _ := tensor.NewTensor([]int{1}, tensor.Int32, []int32{int32(idx)})
	return data, label, nil
}

func drain(t *testing.T, dl *DataLoader) (seen []int, shapes [][]int) {
	t.Helper()
	for {
		batch, err := dl.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if batch == nil {
			return seen, shapes
		}
		shapes = append(shapes, batch.Data.Shape)
		data := batch.Data.Data.([]float32)
		for i, l := range batch.Labels.Data.([]int32) {
			if data[2*i] != float32(l) || data[2*i+1] != -float32(l) {
				t.Errorf("sample %d data %v does not match its label", l, data[2*i:2*i+2])
			}
			seen = append(seen, int(l))
		}
	}
}

func TestDataLoaderCoversSubsetOncePerEpoch(t *testing.T) {
	subset := []int{3, 4, 5, 6, 7, 8, 9}
	dl, err := NewDataLoader(&indexDataset{n: 10}, 3, NewSubsetRandomSampler(subset, 1), 4)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}
	if dl.Len() != 3 {
		t.Errorf("Len = %d, want 3", dl.Len())
	}

	for epoch := 0; epoch < 3; epoch++ {
		dl.Reset()
		seen, shapes := drain(t, dl)
		sort.Ints(seen)
		if diff := cmp.Diff(subset, seen); diff != "" {
			t.Errorf("epoch %d indices mismatch (-want +got):\n%s", epoch, diff)
		}
		wantShapes := [][]int{{3, 2}, {3, 2}, {1, 2}}
		if diff := cmp.Diff(wantShapes, shapes); diff != "" {
			t.Errorf("epoch %d batch shapes (-want +got):\n%s", epoch, diff)
		}
		if dl.HasNext() {
			t.Error("HasNext should be false after the last batch")
		}
	}
}

func TestDataLoaderSequentialDefault(t *testing.T) {
	dl, err := NewDataLoader(&indexDataset{n: 5}, 2, nil, 1)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}
	seen, _ := drain(t, dl)
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4}, seen); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestDataLoaderErrors(t *testing.T) {
	if _, err := NewDataLoader(&indexDataset{n: 5}, 0, nil, 1); err == nil {
		t.Error("expected error for zero batch size")
	}
	if _, err := NewDataLoader(&indexDataset{n: 5}, 2, NewSubsetRandomSampler([]int{9}, 1), 1); err == nil {
		t.Error("expected error for out-of-range sampler index")
	}

	boom := errors.New("boom")
	dl, err := NewDataLoader(&indexDataset{n: 6, failAt: 4, failErr: boom}, 3, nil, 3)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}
	if _, err := dl.Next(); err != nil {
		t.Fatalf("first batch failed: %v", err)
	}
	if _, err := dl.Next(); !errors.Is(err, boom) {
		t.Errorf("expected wrapped sample error, got %v", err)
	}
}

func TestSubsetRandomSamplerDeterministic(t *testing.T) {
	indices := []int{10, 11, 12, 13, 14, 15}
	a := NewSubsetRandomSampler(indices, 42)
	b := NewSubsetRandomSampler(indices, 42)
	for i := 0; i < 3; i++ {
		if diff := cmp.Diff(a.Indices(), b.Indices()); diff != "" {
			t.Fatalf("same seed produced different orders (-a +b):\n%s", diff)
		}
	}
	indices[0] = 99
	for _, idx := range a.Indices() {
		if idx == 99 {
			t.Error("sampler should copy its index subset")
		}
	}
}

func TestSplitIndices(t *testing.T) {
	for n := 2; n <= 50; n++ {
		train, val, err := SplitIndices(n, 0.7)
		if err != nil {
			t.Fatalf("SplitIndices(%d) failed: %v", n, err)
		}
		split := int(float64(n) * 0.7)
		if len(train) != split || len(val) != n-split {
			t.Fatalf("n=%d: got %d/%d, want %d/%d", n, len(train), len(val), split, n-split)
		}
		for i, idx := range train {
			if idx != i {
				t.Fatalf("n=%d: train[%d] = %d", n, i, idx)
			}
		}
		for i, idx := range val {
			if idx != split+i {
				t.Fatalf("n=%d: val[%d] = %d", n, i, idx)
			}
		}
	}

	if _, _, err := SplitIndices(10, 1.5); err == nil {
		t.Error("expected error for ratio above 1")
	}
}

func TestSubsetDataset(t *testing.T) {
	sd, err := NewSubsetDataset(&indexDataset{n: 5}, 3)
	if err != nil {
		t.Fatalf("NewSubsetDataset failed: %v", err)
	}
	if sd.Len() != 3 {
		t.Errorf("Len = %d, want 3", sd.Len())
	}
	if _, _, err := sd.Get(3); err == nil {
		t.Error("expected out of bounds error")
	}

	big, _ := NewSubsetDataset(&indexDataset{n: 5}, 100)
	if big.Len() != 5 {
		t.Errorf("limit should clamp to dataset length, got %d", big.Len())
	}
	if _, err := NewSubsetDataset(&indexDataset{n: 5}, -1); err == nil {
		t.Error("expected error for negative limit")
	}
}
