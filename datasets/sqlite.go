package datasets

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore backs one dataset partition with a single SQLite file, the
// "{partition}_data.db" layout consumed by the training pipeline. Each run is
// a row in the runs table, each snapshot a row in snapshots keyed by
// (run, step) with the field as a float64 blob, and the coordinate grids live
// in their own table. The pure-Go driver keeps the store free of cgo.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// OpenStore opens the partition's store file under dir for reading. A missing
// or unopenable file is reported as ErrStorageUnavailable.
func OpenStore(dir string, partition Partition) (*SQLiteStore, error) {
	if _, err := ParsePartition(string(partition)); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, partition.StoreFile())
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return openStoreFile(path, false)
}

// CreateStore creates or opens a store file for writing and ensures the
// schema exists. The ingest tooling and tests produce stores; the training
// path only ever reads them.
func CreateStore(path string) (*SQLiteStore, error) {
	return openStoreFile(path, true)
}

func openStoreFile(path string, create bool) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if create {
		if err := createTables(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create schema in %s: %w", path, err)
		}
	}
	return &SQLiteStore{path: path, db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			name TEXT PRIMARY KEY,
			steps INTEGER NOT NULL,
			height INTEGER NOT NULL,
			width INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS snapshots (
			run TEXT NOT NULL,
			step INTEGER NOT NULL,
			time REAL NOT NULL,
			field BLOB NOT NULL,
			PRIMARY KEY (run, step)
		);
		CREATE TABLE IF NOT EXISTS grids (
			run TEXT PRIMARY KEY,
			x BLOB NOT NULL,
			y BLOB NOT NULL
		);
	`)
	return err
}

// Path returns the store file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Runs lists the stored runs ordered by name.
func (s *SQLiteStore) Runs() ([]RunInfo, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`SELECT name, steps, height, width FROM runs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFormat, err)
	}
	defer rows.Close()

	var infos []RunInfo
	for rows.Next() {
		var info RunInfo
		if err := rows.Scan(&info.Name, &info.Steps, &info.Height, &info.Width); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFormat, err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFormat, err)
	}
	return infos, nil
}

// ReadTimes returns the time value of every recorded step of the run.
func (s *SQLiteStore) ReadTimes(run string) ([]float64, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`SELECT time FROM snapshots WHERE run = ? ORDER BY step`, run)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFormat, err)
	}
	defer rows.Close()

	var times []float64
	for rows.Next() {
		var t float64
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFormat, err)
		}
		times = append(times, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFormat, err)
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("%w: run %q has no snapshots", ErrStorageFormat, run)
	}
	return times, nil
}

// ReadSnapshot returns the field of one time step as a flat buffer.
func (s *SQLiteStore) ReadSnapshot(run string, step int) ([]float64, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var blob []byte
	err = db.QueryRow(`SELECT field FROM snapshots WHERE run = ? AND step = ?`, run, step).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: run %q has no snapshot for step %d", ErrStorageFormat, run, step)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageFormat, err)
	}
	vals, err := decodeFloat64s(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot %s/%d: %v", ErrStorageFormat, run, step, err)
	}
	return vals, nil
}

// ReadGrid returns the spatial coordinate grids of the run.
func (s *SQLiteStore) ReadGrid(run string) (x, y []float64, err error) {
	db, err := s.getDB()
	if err != nil {
		return nil, nil, err
	}
	var xBlob, yBlob []byte
	err = db.QueryRow(`SELECT x, y FROM grids WHERE run = ?`, run).Scan(&xBlob, &yBlob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: run %q has no coordinate grid", ErrStorageFormat, run)
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrStorageFormat, err)
	}
	if x, err = decodeFloat64s(xBlob); err != nil {
		return nil, nil, fmt.Errorf("%w: grid x of run %q: %v", ErrStorageFormat, run, err)
	}
	if y, err = decodeFloat64s(yBlob); err != nil {
		return nil, nil, fmt.Errorf("%w: grid y of run %q: %v", ErrStorageFormat, run, err)
	}
	return x, y, nil
}

// WriteRun stores a complete run. Fails if a run with the same name already
// exists in the store.
func (s *SQLiteStore) WriteRun(run RunData) error {
	if err := run.Validate(); err != nil {
		return err
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO runs (name, steps, height, width) VALUES (?, ?, ?, ?)`,
		run.Name, len(run.Times), run.Height, run.Width); err != nil {
		return fmt.Errorf("failed to insert run %q: %w", run.Name, err)
	}
	ins, err := tx.Prepare(`INSERT INTO snapshots (run, step, time, field) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer ins.Close()
	for step, t := range run.Times {
		if _, err := ins.Exec(run.Name, step, t, encodeFloat64s(run.Snapshot(step))); err != nil {
			return fmt.Errorf("failed to insert snapshot %s/%d: %w", run.Name, step, err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO grids (run, x, y) VALUES (?, ?, ?)`,
		run.Name, encodeFloat64s(run.X), encodeFloat64s(run.Y)); err != nil {
		return fmt.Errorf("failed to insert grid for run %q: %w", run.Name, err)
	}
	return tx.Commit()
}

// Close releases the database handle. Safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, fmt.Errorf("%w: store is closed", ErrStorageUnavailable)
	}
	return s.db, nil
}
