package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Split partitions samples into disjoint train and test subsets using a
// seeded permutation. The test subset receives ceil(testRatio*n) samples and
// both subsets must be non-empty. The same seed and sample order always yield
// the same partition. The input slice is not modified.
func Split(samples []Sample, testRatio float64, seed uint64) (train, test []Sample, err error) {
	n := len(samples)
	if testRatio <= 0 || testRatio >= 1 {
		return nil, nil, fmt.Errorf("split: test ratio %v must be between 0 and 1", testRatio)
	}
	nTest := int(math.Ceil(testRatio * float64(n)))
	nTrain := n - nTest
	if nTest < 1 || nTrain < 1 {
		return nil, nil, fmt.Errorf("split: %d samples cannot form non-empty train and test sets at ratio %v", n, testRatio)
	}

	perm := NewRand(seed).Perm(n)
	test = make([]Sample, 0, nTest)
	for _, idx := range perm[:nTest] {
		test = append(test, samples[idx])
	}
	train = make([]Sample, 0, nTrain)
	for _, idx := range perm[nTest:] {
		train = append(train, samples[idx])
	}
	return train, test, nil
}

// NewRand returns the deterministic generator used for every seeded choice in
// the pipeline.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Choose picks up to n samples without replacement using seed. Results keep
// the order in which they were drawn.
func Choose(samples []Sample, n int, seed uint64) []Sample {
	idx := ChooseIndices(len(samples), n, seed)
	if idx == nil {
		return nil
	}
	out := make([]Sample, len(idx))
	for i, j := range idx {
		out[i] = samples[j]
	}
	return out
}

// ChooseIndices returns up to n distinct indices in [0, size), in the order
// Choose draws them for the same seed.
func ChooseIndices(size, n int, seed uint64) []int {
	if n <= 0 || size == 0 {
		return nil
	}
	n = min(n, size)
	return NewRand(seed).Perm(size)[:n]
}
