package datasets

import "fmt"

// RunInfo describes one simulation run as recorded by a store: its name and
// the dimensions of its field data.
type RunInfo struct {
	Name   string
	Steps  int // number of recorded time steps
	Height int
	Width  int
}

// Store is the read side of a partition's backing store: an ordered
// collection of named simulation runs. A dataset owns exactly one handle and
// releases it with Close; independent handles may read concurrently, but a
// handle itself is not shared.
//
// Implementations are lazy. Opening a store reads no field data, and
// malformed run contents only surface when the affected run is read.
type Store interface {
	// Runs lists the stored runs ordered by name.
	Runs() ([]RunInfo, error)

	// ReadTimes returns the simulation time value of every recorded step of
	// the run.
	ReadTimes(run string) ([]float64, error)

	// ReadSnapshot returns the field of one time step as a flat row-major
	// Height*Width buffer.
	ReadSnapshot(run string, step int) ([]float64, error)

	// ReadGrid returns the spatial coordinate grids of the run, each a flat
	// row-major Height*Width buffer.
	ReadGrid(run string) (x, y []float64, err error)

	// Close releases the handle. Safe to call more than once.
	Close() error
}

// RunData is a complete simulation run in memory, the write-side counterpart
// of the store records. Values are kept in the simulator's native float64
// precision; the dataset layer narrows to float32 when it builds examples.
type RunData struct {
	Name   string
	Height int
	Width  int

	// Times holds one entry per recorded step.
	Times []float64

	// Fields holds the concatenated row-major snapshots, one Height*Width
	// block per step, indexed [step*Height*Width + row*Width + col].
	Fields []float64

	// X, Y are the spatial coordinate grids, each Height*Width.
	X, Y []float64
}

// Validate checks the dimensional consistency of the run.
func (r *RunData) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: run has no name", ErrInvalidArgument)
	}
	if r.Height <= 0 || r.Width <= 0 {
		return fmt.Errorf("%w: run %q has dimensions %dx%d", ErrInvalidArgument, r.Name, r.Height, r.Width)
	}
	if len(r.Times) == 0 {
		return fmt.Errorf("%w: run %q has no time steps", ErrInvalidArgument, r.Name)
	}
	cells := r.Height * r.Width
	if len(r.Fields) != len(r.Times)*cells {
		return fmt.Errorf("%w: run %q has %d field values, want %d steps * %d cells",
			ErrInvalidArgument, r.Name, len(r.Fields), len(r.Times), cells)
	}
	if len(r.X) != cells || len(r.Y) != cells {
		return fmt.Errorf("%w: run %q has grid sizes %d and %d, want %d cells",
			ErrInvalidArgument, r.Name, len(r.X), len(r.Y), cells)
	}
	return nil
}

// Snapshot returns the flat field buffer of one step. The slice aliases the
// run's backing array.
func (r *RunData) Snapshot(step int) []float64 {
	cells := r.Height * r.Width
	return r.Fields[step*cells : (step+1)*cells]
}

// Info returns the run's store record.
func (r *RunData) Info() RunInfo {
	return RunInfo{Name: r.Name, Steps: len(r.Times), Height: r.Height, Width: r.Width}
}
