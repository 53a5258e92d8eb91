package training

import (
	"math/rand"
	"sync"
)

// Sampler yields the dataset indices a DataLoader visits in one epoch.
type Sampler interface {
	// Indices returns the visiting order for a new epoch.
	Indices() []int
	Len() int
}

// SequentialSampler visits 0..n-1 in order.
type SequentialSampler struct {
	n int
}

func NewSequentialSampler(n int) *SequentialSampler {
	return &SequentialSampler{n: n}
}

func (s *SequentialSampler) Indices() []int {
	indices := make([]int, s.n)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

func (s *SequentialSampler) Len() int { return s.n }

// SubsetRandomSampler visits a fixed subset of indices in a new random order
// every epoch. The order is reproducible for a given seed.
type SubsetRandomSampler struct {
	indices []int
	rng     *rand.Rand
	mutex   sync.Mutex
}

func NewSubsetRandomSampler(indices []int, seed int64) *SubsetRandomSampler {
	return &SubsetRandomSampler{
		indices: append([]int(nil), indices...),
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (s *SubsetRandomSampler) Indices() []int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := make([]int, len(s.indices))
	for i, j := range s.rng.Perm(len(s.indices)) {
		out[i] = s.indices[j]
	}
	return out
}

func (s *SubsetRandomSampler) Len() int { return len(s.indices) }
