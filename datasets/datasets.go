package datasets

import (
	"errors"
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// This file defines the shared vocabulary of the dataset layer: the partition
// names that select a backing store, the error kinds surfaced by store and
// dataset operations, and the interface the datasets implement so they can be
// fed to GoMLX training loops.
//
// The datasets use lazy loading - they keep a handle to the partition's
// backing store and only read field snapshots when an example or batch is
// actually requested, so a partition holding many long simulation runs costs
// little memory until it is iterated.
//
// Layout and intended usage:
//
// ForecastDataset
//   - Opens the partition store "{partition}_data.db" under a data directory
//   - Maps a flat sample index onto (run, time step) pairs across all runs
//     via cumulative boundaries (see SampleIndex)
//   - Inputs per example: the phase field at one time step, shape [1, H, W]
//   - Labels per example: the phase field Skip steps later, shape [1, H, W]
//
// The datasets implement this interface in order to interact with GoMLX
// training loops and batching utilities.

// Error kinds of the dataset layer, matched with errors.Is. Concrete failures
// wrap these sentinels with call-site context.
var (
	// ErrInvalidArgument covers unknown partition names, non-positive skip
	// values and malformed run data handed to a store writer.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStorageUnavailable means the backing store file is missing or could
	// not be opened.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrStorageFormat means the store opened but its contents are malformed:
	// missing snapshots, wrong payload sizes, disagreeing coordinate grids.
	ErrStorageFormat = errors.New("malformed storage")

	// ErrOutOfRange is returned for lookups outside the valid index range.
	ErrOutOfRange = errors.New("index out of range")
)

// Partition selects one of the dataset splits. Each partition is backed by
// its own store file.
type Partition string

const (
	Train Partition = "train"
	Valid Partition = "valid"
	Test  Partition = "test"
)

// ParsePartition validates a partition name.
func ParsePartition(s string) (Partition, error) {
	switch p := Partition(s); p {
	case Train, Valid, Test:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown partition %q (want train, valid or test)", ErrInvalidArgument, s)
}

// StoreFile returns the partition's store file name, e.g. "train_data.db".
func (p Partition) StoreFile() string {
	return string(p) + "_data.db"
}

// Dataset is what the training and evaluation code consumes: indexed access
// to individual examples plus batched iteration.
type Dataset interface {
	Len() int
	Example(i int) (input, label *tensors.Tensor, err error)
	Shuffle(seed int64)
	Batches() int

	// To implement gomlx's train.Dataset interface
	Name() string
	Yield() (any, []*tensors.Tensor, []*tensors.Tensor, error)
	Reset()
}
