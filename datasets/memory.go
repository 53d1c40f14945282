package datasets

import (
	"fmt"
	"sort"
)

// MemoryStore keeps a partition's runs in memory. Tests and ephemeral
// pipelines use it in place of SQLiteStore; both satisfy Store.
type MemoryStore struct {
	runs map[string]*RunData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*RunData)}
}

// AddRun stores the run as given; its buffers are retained, not copied.
func (s *MemoryStore) AddRun(run RunData) error {
	if err := run.Validate(); err != nil {
		return err
	}
	if _, ok := s.runs[run.Name]; ok {
		return fmt.Errorf("%w: run %q already exists", ErrInvalidArgument, run.Name)
	}
	s.runs[run.Name] = &run
	return nil
}

// Runs lists the stored runs ordered by name.
func (s *MemoryStore) Runs() ([]RunInfo, error) {
	names := make([]string, 0, len(s.runs))
	for name := range s.runs {
		names = append(names, name)
	}
	sort.Strings(names)

	infos := make([]RunInfo, len(names))
	for i, name := range names {
		infos[i] = s.runs[name].Info()
	}
	return infos, nil
}

func (s *MemoryStore) get(run string) (*RunData, error) {
	r, ok := s.runs[run]
	if !ok {
		return nil, fmt.Errorf("%w: unknown run %q", ErrStorageFormat, run)
	}
	return r, nil
}

func (s *MemoryStore) ReadTimes(run string) ([]float64, error) {
	r, err := s.get(run)
	if err != nil {
		return nil, err
	}
	return r.Times, nil
}

func (s *MemoryStore) ReadSnapshot(run string, step int) ([]float64, error) {
	r, err := s.get(run)
	if err != nil {
		return nil, err
	}
	if step < 0 || step >= len(r.Times) {
		return nil, fmt.Errorf("%w: run %q has no snapshot for step %d", ErrStorageFormat, run, step)
	}
	return r.Snapshot(step), nil
}

func (s *MemoryStore) ReadGrid(run string) (x, y []float64, err error) {
	r, err := s.get(run)
	if err != nil {
		return nil, nil, err
	}
	return r.X, r.Y, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
