package dataset

import (
	"fmt"
	"math/rand"

	"github.com/pascalrobust/advtrain/tensor"
	"github.com/pascalrobust/advtrain/training"
)

// Synthetic generates VOC-shaped samples without touching the filesystem.
// Each sample holds one or two coloured rectangles on a noisy background;
// the mask marks each rectangle with its class. Sample i depends only on
// the seed and i.
type Synthetic struct {
	n         int
	seed      int64
	size      int
	augmenter *augmenter
}

var _ training.Dataset = (*Synthetic)(nil)

// NewSynthetic creates n samples for mode, shaped by opts.
func NewSynthetic(n int, mode string, opts Options) (*Synthetic, error) {
	if n <= 0 {
		return nil, fmt.Errorf("synthetic dataset size must be positive, got %d", n)
	}
	aug, err := newAugmenter(mode, opts)
	if err != nil {
		return nil, err
	}
	return &Synthetic{n: n, seed: opts.Seed, size: opts.ImageSize, augmenter: aug}, nil
}

func (s *Synthetic) Len() int { return s.n }

func (s *Synthetic) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	if idx < 0 || idx >= s.n {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, s.n)
	}
	image, mask := s.generate(idx)
	return s.augmenter.sample(image, mask)
}

func (s *Synthetic) generate(idx int) ([]float32, []int32) {
	rng := rand.New(rand.NewSource(s.seed*7919 + int64(idx)))
	plane := s.size * s.size
	image := make([]float32, 3*plane)
	mask := make([]int32, plane)
	for i := range image {
		image[i] = float32(rng.Float64() * 0.2)
	}

	objects := 1 + rng.Intn(2)
	for o := 0; o < objects; o++ {
		class := 1 + rng.Intn(ClassificationClasses)
		w := 1 + rng.Intn((s.size+1)/2)
		h := 1 + rng.Intn((s.size+1)/2)
		top := rng.Intn(s.size - h + 1)
		left := rng.Intn(s.size - w + 1)
		shade := float32(class) / ClassificationClasses
		for y := top; y < top+h; y++ {
			for x := left; x < left+w; x++ {
				p := y*s.size + x
				mask[p] = int32(class)
				image[p] = shade
				image[plane+p] = 1 - shade
				image[2*plane+p] = float32(class%3) / 2
			}
		}
	}
	return image, mask
}
