package datasets

import (
	"fmt"
	"io"
	"math/rand"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// ForecastDataset serves (current field, future field) training pairs drawn
// from every run of one partition. The target sits Skip time steps ahead of
// its input, so a run of length L contributes L-Skip pairs; a global sample
// index is resolved across runs through a SampleIndex.
//
// Snapshots are read from the backing store per example or batch and narrowed
// to float32. Each side of a pair carries a leading singleton channel axis:
// examples are [1, H, W], batches [B, 1, H, W].
//
// ForecastDataset implements gomlx's train.Dataset: Yield produces one batch
// per call and io.EOF once the epoch is exhausted.
type ForecastDataset struct {
	// BatchSize used by Yield. Defaults to 32.
	BatchSize int

	name  string
	store Store
	skip  int

	runs   []RunInfo
	index  *SampleIndex
	height int
	width  int

	// Iteration state for the current epoch. rand stays nil unless Shuffle
	// enables permuted visit order.
	rand  *rand.Rand
	order []int
	next  int
}

// OpenForecast opens the partition's store under dir and builds a dataset
// over it. The store handle is owned by the returned dataset and released by
// Close.
func OpenForecast(dir string, partition Partition, skip int) (*ForecastDataset, error) {
	p, err := ParsePartition(string(partition))
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(dir, p)
	if err != nil {
		return nil, err
	}
	d, err := NewForecastDataset(string(p), store, skip)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return d, nil
}

// NewForecastDataset builds a dataset over an already-open store. The name
// shows up in logs; OpenForecast passes the partition name.
func NewForecastDataset(name string, store Store, skip int) (*ForecastDataset, error) {
	runs, err := store.Runs()
	if err != nil {
		return nil, err
	}
	lengths := make([]int, len(runs))
	for i, info := range runs {
		lengths[i] = info.Steps
	}
	index, err := NewSampleIndex(lengths, skip)
	if err != nil {
		return nil, err
	}

	d := &ForecastDataset{
		BatchSize: 32,
		name:      name,
		store:     store,
		skip:      skip,
		runs:      runs,
		index:     index,
	}
	if err := d.checkGrids(); err != nil {
		return nil, err
	}
	d.order = make([]int, d.Len())
	for i := range d.order {
		d.order[i] = i
	}
	return d, nil
}

// checkGrids enforces the shared-grid contract: every run must carry the
// same spatial dimensions and coordinate grids as the first run. Meshgrid
// depends on this.
func (d *ForecastDataset) checkGrids() error {
	if len(d.runs) == 0 {
		return nil
	}
	first := d.runs[0]
	if first.Height <= 0 || first.Width <= 0 {
		return fmt.Errorf("%w: run %q has dimensions %dx%d", ErrStorageFormat, first.Name, first.Height, first.Width)
	}
	d.height, d.width = first.Height, first.Width
	cells := d.height * d.width

	refX, refY, err := d.store.ReadGrid(first.Name)
	if err != nil {
		return err
	}
	if len(refX) != cells || len(refY) != cells {
		return fmt.Errorf("%w: run %q grid has %d and %d values, want %d",
			ErrStorageFormat, first.Name, len(refX), len(refY), cells)
	}
	for _, info := range d.runs[1:] {
		if info.Height != d.height || info.Width != d.width {
			return fmt.Errorf("%w: run %q is %dx%d but run %q is %dx%d",
				ErrStorageFormat, info.Name, info.Height, info.Width, first.Name, d.height, d.width)
		}
		x, y, err := d.store.ReadGrid(info.Name)
		if err != nil {
			return err
		}
		if !slices.Equal(x, refX) || !slices.Equal(y, refY) {
			return fmt.Errorf("%w: run %q does not share run %q's coordinate grid",
				ErrStorageFormat, info.Name, first.Name)
		}
	}
	return nil
}

// Len returns the total number of samples in the partition.
func (d *ForecastDataset) Len() int {
	return d.index.Len()
}

// NumRuns returns the number of runs in the partition.
func (d *ForecastDataset) NumRuns() int {
	return d.index.NumRuns()
}

// Boundaries returns the cumulative sample boundaries across runs.
func (d *ForecastDataset) Boundaries() []int {
	return d.index.Boundaries()
}

// Skip returns the time offset between a sample's input and its target.
func (d *ForecastDataset) Skip() int {
	return d.skip
}

// Dims returns the spatial dimensions shared by every run of the partition.
func (d *ForecastDataset) Dims() (height, width int) {
	return d.height, d.width
}

// Example returns sample i as two [1, H, W] float32 tensors: the field at
// the sample's time step and the field Skip steps later.
func (d *ForecastDataset) Example(i int) (input, label *tensors.Tensor, err error) {
	in, out, err := d.readPair(i)
	if err != nil {
		return nil, nil, err
	}
	input = tensors.FromFlatDataAndDimensions(in, 1, d.height, d.width)
	label = tensors.FromFlatDataAndDimensions(out, 1, d.height, d.width)
	return input, label, nil
}

// readPair reads the two snapshots of sample i as float32 buffers.
func (d *ForecastDataset) readPair(i int) (in, out []float32, err error) {
	run, offset, err := d.index.Locate(i)
	if err != nil {
		return nil, nil, err
	}
	in, err = d.readSnapshot(run, offset)
	if err != nil {
		return nil, nil, err
	}
	// offset+skip < run length by construction of the per-run counts.
	out, err = d.readSnapshot(run, offset+d.skip)
	if err != nil {
		return nil, nil, err
	}
	return in, out, nil
}

func (d *ForecastDataset) readSnapshot(run, step int) ([]float32, error) {
	info := d.runs[run]
	vals, err := d.store.ReadSnapshot(info.Name, step)
	if err != nil {
		return nil, err
	}
	if len(vals) != d.height*d.width {
		return nil, fmt.Errorf("%w: snapshot %s/%d has %d values, want %d",
			ErrStorageFormat, info.Name, step, len(vals), d.height*d.width)
	}
	return narrow(vals), nil
}

// Meshgrid returns the coordinate grids of one run as [H, W] float32
// tensors. All runs share the same grid (checked at open), so callers
// conventionally pass run 0.
func (d *ForecastDataset) Meshgrid(run int) (x, y *tensors.Tensor, err error) {
	if run < 0 || run >= d.NumRuns() {
		return nil, nil, fmt.Errorf("%w: run %d not in [0, %d)", ErrOutOfRange, run, d.NumRuns())
	}
	gx, gy, err := d.store.ReadGrid(d.runs[run].Name)
	if err != nil {
		return nil, nil, err
	}
	x = tensors.FromFlatDataAndDimensions(narrow(gx), d.height, d.width)
	y = tensors.FromFlatDataAndDimensions(narrow(gy), d.height, d.width)
	return x, y, nil
}

// Simulation returns one run's entire trajectory for evaluation outside the
// training loop: the time values as a [T] tensor and the fields as a
// [T, 1, H, W] tensor.
func (d *ForecastDataset) Simulation(run int) (times, fields *tensors.Tensor, err error) {
	if run < 0 || run >= d.NumRuns() {
		return nil, nil, fmt.Errorf("%w: run %d not in [0, %d)", ErrOutOfRange, run, d.NumRuns())
	}
	info := d.runs[run]
	ts, err := d.store.ReadTimes(info.Name)
	if err != nil {
		return nil, nil, err
	}
	if len(ts) != info.Steps {
		return nil, nil, fmt.Errorf("%w: run %q has %d time values, want %d",
			ErrStorageFormat, info.Name, len(ts), info.Steps)
	}
	cells := d.height * d.width
	flat := make([]float32, info.Steps*cells)
	for step := range info.Steps {
		snap, err := d.readSnapshot(run, step)
		if err != nil {
			return nil, nil, err
		}
		copy(flat[step*cells:], snap)
	}
	times = tensors.FromFlatDataAndDimensions(narrow(ts), len(ts))
	fields = tensors.FromFlatDataAndDimensions(flat, info.Steps, 1, d.height, d.width)
	return times, fields, nil
}

// RunName returns the stored name of run r.
func (d *ForecastDataset) RunName(r int) (string, error) {
	if r < 0 || r >= d.NumRuns() {
		return "", fmt.Errorf("%w: run %d not in [0, %d)", ErrOutOfRange, r, d.NumRuns())
	}
	return d.runs[r].Name, nil
}

// Close releases the backing store handle. Safe to call more than once;
// using the dataset after Close is undefined.
func (d *ForecastDataset) Close() error {
	return d.store.Close()
}

// Shuffle enables shuffled iteration with a deterministic seed. Each Reset
// then draws a fresh permutation; without Shuffle the dataset iterates in
// index order, which is what validation wants.
func (d *ForecastDataset) Shuffle(seed int64) {
	d.rand = rand.New(rand.NewSource(seed))
}

// Batches returns the number of batches one epoch yields, counting a final
// short batch.
func (d *ForecastDataset) Batches() int {
	if d.BatchSize <= 0 {
		return 0
	}
	return (d.Len() + d.BatchSize - 1) / d.BatchSize
}

// Name implements gomlx's train.Dataset.
func (d *ForecastDataset) Name() string {
	return d.name
}

// Yield returns the next batch as single-element input/label tensor slices,
// each tensor [B, 1, H, W], and io.EOF once the epoch is exhausted. The
// final batch of an epoch may be short.
func (d *ForecastDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if d.BatchSize <= 0 {
		return nil, nil, nil, fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidArgument, d.BatchSize)
	}
	if d.next >= len(d.order) {
		return nil, nil, nil, io.EOF
	}
	end := d.next + d.BatchSize
	if end > len(d.order) {
		end = len(d.order)
	}
	indices := d.order[d.next:end]
	d.next = end

	cells := d.height * d.width
	flatIn := make([]float32, len(indices)*cells)
	flatOut := make([]float32, len(indices)*cells)
	for pos, i := range indices {
		in, out, err := d.readPair(i)
		if err != nil {
			return nil, nil, nil, err
		}
		copy(flatIn[pos*cells:], in)
		copy(flatOut[pos*cells:], out)
	}
	input := tensors.FromFlatDataAndDimensions(flatIn, len(indices), 1, d.height, d.width)
	label := tensors.FromFlatDataAndDimensions(flatOut, len(indices), 1, d.height, d.width)
	return nil, []*tensors.Tensor{input}, []*tensors.Tensor{label}, nil
}

// Reset rewinds the dataset for a new epoch, drawing a fresh permutation
// when shuffling is enabled.
func (d *ForecastDataset) Reset() {
	d.next = 0
	if d.rand != nil {
		d.rand.Shuffle(len(d.order), func(i, j int) {
			d.order[i], d.order[j] = d.order[j], d.order[i]
		})
	}
}
