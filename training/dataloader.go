package training

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pascalrobust/advtrain/tensor"
)

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	Len() int                                                           // Total number of samples
	Get(idx int) (data *tensor.Tensor, label *tensor.Tensor, err error) // Returns a single sample
}

// DataLoader groups dataset samples into batches in the order given by its
// sampler. Samples of one batch are loaded by up to numWorkers goroutines,
// all of which finish before Next returns.
type DataLoader struct {
	dataset    Dataset
	batchSize  int
	sampler    Sampler
	numWorkers int
	indices    []int
	position   int
	mutex      sync.Mutex
}

// NewDataLoader creates a new DataLoader. A nil sampler visits every index in
// order.
func NewDataLoader(dataset Dataset, batchSize int, sampler Sampler, numWorkers int) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if sampler == nil {
		sampler = NewSequentialSampler(dataset.Len())
	}
	for _, idx := range sampler.Indices() {
		if idx < 0 || idx >= dataset.Len() {
			return nil, fmt.Errorf("sampler index %d out of range for dataset of length %d", idx, dataset.Len())
		}
	}

	dl := &DataLoader{
		dataset:    dataset,
		batchSize:  batchSize,
		sampler:    sampler,
		numWorkers: numWorkers,
	}
	dl.Reset()
	return dl, nil
}

// Batch represents a batch of data and labels
type Batch struct {
	Data   *tensor.Tensor
	Labels *tensor.Tensor
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (dl.sampler.Len() + dl.batchSize - 1) / dl.batchSize
}

// Reset starts a new epoch with a fresh ordering from the sampler.
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0
	dl.indices = dl.sampler.Indices()
}

// Next returns the next batch or nil if epoch is complete
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil // End of epoch
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}
	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}
	return batch, nil
}

// HasNext returns true if there are more batches in the current epoch
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.position < len(dl.indices)
}

type sample struct {
	data, label *tensor.Tensor
}

// loadBatch loads a batch of samples and combines them into batched tensors
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("empty batch indices")
	}

	samples := make([]sample, len(indices))
	var g errgroup.Group
	g.SetLimit(dl.numWorkers)
	for i, idx := range indices {
		g.Go(func() error {
			data, label, err := dl.dataset.Get(idx)
			if err != nil {
				return fmt.Errorf("failed to load sample %d: %w", idx, err)
			}
			samples[i] = sample{data: data, label: label}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	first := samples[0]
	dataShape := append([]int{len(indices)}, first.data.Shape...)
	labelShape := append([]int{len(indices)}, first.label.Shape...)

	batchData, err := tensor.Zeros(dataShape, first.data.DType)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch data tensor: %w", err)
	}
	batchLabels, err := tensor.Zeros(labelShape, first.label.DType)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch labels tensor: %w", err)
	}

	for i, s := range samples {
		if err := copyInto(batchData, s.data, i); err != nil {
			return nil, fmt.Errorf("failed to copy data for sample %d: %w", indices[i], err)
		}
		if err := copyInto(batchLabels, s.label, i); err != nil {
			return nil, fmt.Errorf("failed to copy label for sample %d: %w", indices[i], err)
		}
	}

	return &Batch{
		Data:   batchData,
		Labels: batchLabels,
	}, nil
}

// copyInto copies a sample tensor into a specific position in the batch tensor
func copyInto(batchTensor, sampleTensor *tensor.Tensor, batchIndex int) error {
	if batchTensor.DType != sampleTensor.DType {
		return fmt.Errorf("dtype mismatch: batch %s, sample %s", batchTensor.DType, sampleTensor.DType)
	}
	if !tensor.SameShape(batchTensor.Shape[1:], sampleTensor.Shape) {
		return fmt.Errorf("shape mismatch: batch item %v, sample %v", batchTensor.Shape[1:], sampleTensor.Shape)
	}

	sampleSize := sampleTensor.NumElems
	offset := batchIndex * sampleSize

	switch batchTensor.DType {
	case tensor.Float32:
		copy(batchTensor.Data.([]float32)[offset:offset+sampleSize], sampleTensor.Data.([]float32))
	case tensor.Int32:
		copy(batchTensor.Data.([]int32)[offset:offset+sampleSize], sampleTensor.Data.([]int32))
	default:
		return fmt.Errorf("unsupported dtype for batch copying: %s", batchTensor.DType)
	}
	return nil
}

// SimpleDataset serves in-memory samples.
type SimpleDataset struct {
	data   []*tensor.Tensor
	labels []*tensor.Tensor
}

// NewSimpleDataset pairs data[i] with labels[i].
func NewSimpleDataset(data, labels []*tensor.Tensor) (*SimpleDataset, error) {
	if len(data) != len(labels) {
		return nil, fmt.Errorf("data and labels length mismatch: %d vs %d", len(data), len(labels))
	}
	return &SimpleDataset{data: data, labels: labels}, nil
}

func (ds *SimpleDataset) Len() int {
	return len(ds.data)
}

func (ds *SimpleDataset) Get(idx int) (data *tensor.Tensor, label *tensor.Tensor, err error) {
	if idx < 0 || idx >= len(ds.data) {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(ds.data))
	}
	return ds.data[idx], ds.labels[idx], nil
}
