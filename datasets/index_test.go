package datasets

import (
	"errors"
	"testing"
)

// TestSampleIndex_TwoRuns checks the cumulative boundaries and the global
// index mapping for a representative two-run layout.
func TestSampleIndex_TwoRuns(t *testing.T) {
	idx, err := NewSampleIndex([]int{10, 20}, 1)
	if err != nil {
		t.Fatalf("NewSampleIndex failed: %v", err)
	}
	if got := idx.Len(); got != 28 {
		t.Fatalf("expected 28 samples, got %d", got)
	}
	if got := idx.NumRuns(); got != 2 {
		t.Fatalf("expected 2 runs, got %d", got)
	}
	bounds := idx.Boundaries()
	want := []int{0, 9, 28}
	if len(bounds) != len(want) {
		t.Fatalf("boundaries length %d, want %d", len(bounds), len(want))
	}
	for i := range want {
		if bounds[i] != want[i] {
			t.Fatalf("boundaries %v, want %v", bounds, want)
		}
	}

	cases := []struct {
		i, run, offset int
	}{
		{0, 0, 0},
		{8, 0, 8},
		{9, 1, 0},
		{27, 1, 18},
	}
	for _, c := range cases {
		run, offset, err := idx.Locate(c.i)
		if err != nil {
			t.Fatalf("Locate(%d) error: %v", c.i, err)
		}
		if run != c.run || offset != c.offset {
			t.Fatalf("Locate(%d) = (%d, %d), want (%d, %d)", c.i, run, offset, c.run, c.offset)
		}
	}
}

// TestSampleIndex_LocateReconstructs walks every index and verifies the
// run/offset pair is consistent with the boundaries.
func TestSampleIndex_LocateReconstructs(t *testing.T) {
	lengths := []int{7, 3, 12, 5}
	skip := 2
	idx, err := NewSampleIndex(lengths, skip)
	if err != nil {
		t.Fatalf("NewSampleIndex failed: %v", err)
	}
	bounds := idx.Boundaries()
	for i := 0; i < idx.Len(); i++ {
		run, offset, err := idx.Locate(i)
		if err != nil {
			t.Fatalf("Locate(%d) error: %v", i, err)
		}
		if bounds[run]+offset != i {
			t.Fatalf("Locate(%d) = (%d, %d): boundary %d + offset does not reconstruct the index",
				i, run, offset, bounds[run])
		}
		if count := lengths[run] - skip; offset < 0 || offset >= count {
			t.Fatalf("Locate(%d) offset %d outside run %d's %d samples", i, offset, run, count)
		}
	}
}

// TestSampleIndex_SkipsEmptyRuns verifies runs too short to produce a sample
// are stepped over rather than matched.
func TestSampleIndex_SkipsEmptyRuns(t *testing.T) {
	idx, err := NewSampleIndex([]int{3, 5, 2, 8}, 5)
	if err != nil {
		t.Fatalf("NewSampleIndex failed: %v", err)
	}
	if got := idx.Len(); got != 3 {
		t.Fatalf("expected 3 samples, got %d", got)
	}
	for i := 0; i < 3; i++ {
		run, offset, err := idx.Locate(i)
		if err != nil {
			t.Fatalf("Locate(%d) error: %v", i, err)
		}
		if run != 3 || offset != i {
			t.Fatalf("Locate(%d) = (%d, %d), want (3, %d)", i, run, offset, i)
		}
	}
}

// TestSampleIndex_OutOfRange checks both ends of the valid index range.
func TestSampleIndex_OutOfRange(t *testing.T) {
	idx, err := NewSampleIndex([]int{10}, 1)
	if err != nil {
		t.Fatalf("NewSampleIndex failed: %v", err)
	}
	for _, i := range []int{-1, idx.Len(), idx.Len() + 100} {
		if _, _, err := idx.Locate(i); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("Locate(%d) = %v, want ErrOutOfRange", i, err)
		}
	}
}

// TestSampleIndex_NoRuns covers the empty dataset: valid but with no indices.
func TestSampleIndex_NoRuns(t *testing.T) {
	idx, err := NewSampleIndex(nil, 25)
	if err != nil {
		t.Fatalf("NewSampleIndex failed: %v", err)
	}
	if got := idx.Len(); got != 0 {
		t.Fatalf("expected 0 samples, got %d", got)
	}
	if _, _, err := idx.Locate(0); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Locate(0) = %v, want ErrOutOfRange", err)
	}
}

// TestSampleIndex_BadSkip rejects non-positive skips.
func TestSampleIndex_BadSkip(t *testing.T) {
	for _, skip := range []int{0, -3} {
		if _, err := NewSampleIndex([]int{10}, skip); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("NewSampleIndex(skip=%d) = %v, want ErrInvalidArgument", skip, err)
		}
	}
}
