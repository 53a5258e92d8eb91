package dataset

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/pascalrobust/advtrain/tensor"
	"github.com/pascalrobust/advtrain/training"
)

// SmoothingAlpha is the label smoothing strength of the smoothing trick.
const SmoothingAlpha = 0.1

// MultiHot returns a ClassificationClasses vector with entry c-1 set for
// every foreground class c present in mask.
func MultiHot(mask []int32) []float32 {
	labels := make([]float32, ClassificationClasses)
	for _, c := range mask {
		if c > 0 && int(c) <= ClassificationClasses {
			labels[c-1] = 1
		}
	}
	return labels
}

// SmoothLabels maps every target y to y(1-alpha)+alpha/2 in place.
func SmoothLabels(labels []float32, alpha float32) {
	for i, y := range labels {
		labels[i] = y*(1-alpha) + alpha/2
	}
}

// cutOut zeroes a side×side square of every channel of a CHW image. The
// square lies fully inside the image.
func cutOut(data []float32, size, side int, rng *rand.Rand) {
	if side <= 0 || side > size {
		return
	}
	top := rng.Intn(size - side + 1)
	left := rng.Intn(size - side + 1)
	plane := size * size
	for c := 0; c < len(data)/plane; c++ {
		for y := top; y < top+side; y++ {
			row := data[c*plane+y*size+left:]
			for x := 0; x < side; x++ {
				row[x] = 0
			}
		}
	}
}

// augmenter turns decoded pixels and masks into sample tensors for one mode,
// applying the configured tricks.
type augmenter struct {
	mode      string
	size      int
	cutOut    bool
	smoothing bool

	mu  sync.Mutex
	rng *rand.Rand
}

func newAugmenter(mode string, opts Options) (*augmenter, error) {
	switch mode {
	case training.ModeSegmentation, training.ModeClassification:
	default:
		return nil, fmt.Errorf("unknown dataset mode %q", mode)
	}
	if opts.ImageSize <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %d", opts.ImageSize)
	}
	return &augmenter{
		mode:      mode,
		size:      opts.ImageSize,
		cutOut:    opts.CutOut,
		smoothing: opts.Smoothing && mode == training.ModeClassification,
		rng:       rand.New(rand.NewSource(opts.Seed)),
	}, nil
}

// sample builds the (image, label) pair. image and mask are not modified.
func (a *augmenter) sample(image []float32, mask []int32) (*tensor.Tensor, *tensor.Tensor, error) {
	pixels := append([]float32(nil), image...)
	if a.cutOut {
		a.mu.Lock()
		cutOut(pixels, a.size, a.size/4, a.rng)
		a.mu.Unlock()
	}
	data, err := tensor.NewTensor([]int{3, a.size, a.size}, tensor.Float32, pixels)
	if err != nil {
		return nil, nil, err
	}

	var label *tensor.Tensor
	if a.mode == training.ModeSegmentation {
		label, err = tensor.NewTensor([]int{a.size, a.size}, tensor.Int32, append([]int32(nil), mask...))
	} else {
		labels := MultiHot(mask)
		if a.smoothing {
			SmoothLabels(labels, SmoothingAlpha)
		}
		label, err = tensor.NewTensor([]int{ClassificationClasses}, tensor.Float32, labels)
	}
	if err != nil {
		return nil, nil, err
	}
	return data, label, nil
}
