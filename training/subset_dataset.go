package training

import (
	"fmt"

	"github.com/pascalrobust/advtrain/tensor"
)

// SplitIndices divides 0..n-1 into a contiguous prefix of floor(ratio·n)
// training indices and the remaining validation indices.
func SplitIndices(n int, ratio float64) (train, val []int, err error) {
	if n < 0 {
		return nil, nil, fmt.Errorf("dataset length cannot be negative: %d", n)
	}
	if ratio < 0 || ratio > 1 {
		return nil, nil, fmt.Errorf("split ratio must be in [0, 1], got %v", ratio)
	}
	split := int(float64(n) * ratio)
	train = make([]int, 0, split)
	val = make([]int, 0, n-split)
	for i := 0; i < n; i++ {
		if i < split {
			train = append(train, i)
		} else {
			val = append(val, i)
		}
	}
	return train, val, nil
}

// SubsetDataset allows training on a limited number of samples from an underlying dataset.
type SubsetDataset struct {
	originalDataset Dataset
	limit           int
}

// NewSubsetDataset creates a new SubsetDataset that wraps an existing dataset
// and limits the number of samples it exposes.
func NewSubsetDataset(original Dataset, limit int) (*SubsetDataset, error) {
	if limit < 0 {
		return nil, fmt.Errorf("limit cannot be negative")
	}
	if limit > original.Len() {
		limit = original.Len()
	}
	return &SubsetDataset{
		originalDataset: original,
		limit:           limit,
	}, nil
}

// Len returns the number of samples in the subset, which is the minimum
// of the original dataset's length and the specified limit.
func (sd *SubsetDataset) Len() int {
	return sd.limit
}

// Get returns a sample at the given index from the original dataset.
func (sd *SubsetDataset) Get(idx int) (data *tensor.Tensor, label *tensor.Tensor, err error) {
	if idx < 0 || idx >= sd.limit {
		return nil, nil, fmt.Errorf("index out of bounds for subset: %d (limit: %d)", idx, sd.limit)
	}
	return sd.originalDataset.Get(idx)
}
