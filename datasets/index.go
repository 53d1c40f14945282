package datasets

import (
	"fmt"
	"sort"
)

// SampleIndex maps a flat sample index onto a collection of variable-length
// simulation runs. A run of length L contributes max(0, L-skip) samples - a
// sample pairs the field at one step with the field skip steps later, so the
// last skip steps of a run start no pair.
//
// The index is pure arithmetic over run lengths and never touches the
// backing store.
type SampleIndex struct {
	skip       int
	boundaries []int
}

// NewSampleIndex builds cumulative boundaries for the given run lengths.
// skip must be at least 1.
func NewSampleIndex(lengths []int, skip int) (*SampleIndex, error) {
	if skip < 1 {
		return nil, fmt.Errorf("%w: skip must be at least 1, got %d", ErrInvalidArgument, skip)
	}
	boundaries := make([]int, len(lengths)+1)
	for i, l := range lengths {
		count := l - skip
		if count < 0 {
			count = 0
		}
		boundaries[i+1] = boundaries[i] + count
	}
	return &SampleIndex{skip: skip, boundaries: boundaries}, nil
}

// Len returns the total number of samples across all runs.
func (idx *SampleIndex) Len() int {
	return idx.boundaries[len(idx.boundaries)-1]
}

// NumRuns returns the number of runs the index was built over.
func (idx *SampleIndex) NumRuns() int {
	return len(idx.boundaries) - 1
}

// Skip returns the time offset between a sample's input and its target.
func (idx *SampleIndex) Skip() int {
	return idx.skip
}

// Boundaries returns a copy of the cumulative boundary sequence. Entry r is
// the first global index of run r; the final entry equals Len().
func (idx *SampleIndex) Boundaries() []int {
	out := make([]int, len(idx.boundaries))
	copy(out, idx.boundaries)
	return out
}

// Locate resolves a global sample index to (run, local step offset). The
// result satisfies boundaries[run] <= i < boundaries[run+1] and
// offset = i - boundaries[run]; runs contributing zero samples are never
// selected.
func (idx *SampleIndex) Locate(i int) (run, offset int, err error) {
	if i < 0 || i >= idx.Len() {
		return 0, 0, fmt.Errorf("%w: index %d not in [0, %d)", ErrOutOfRange, i, idx.Len())
	}
	// Smallest run whose upper boundary exceeds i. Empty runs have equal
	// consecutive boundaries and are stepped over.
	run = sort.Search(idx.NumRuns(), func(r int) bool {
		return idx.boundaries[r+1] > i
	})
	return run, i - idx.boundaries[run], nil
}
