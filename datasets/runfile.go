package datasets

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Run files are how the simulation pipeline hands trajectories to this
// repository: one gob-encoded run per file, written atomically so a crashed
// export never leaves a torn file behind. cmd/ingest packs them into
// partition stores.

// runFileVersion is incremented when the on-disk run file format changes.
const runFileVersion = 1

type runFileFormat struct {
	Version   int
	CreatedAt int64 // unix timestamp when the file was written
	Run       RunData
}

// WriteRunFile writes the run to path using encoding/gob. It performs an
// atomic write (create temp file then rename) and creates parent directories
// as needed.
func WriteRunFile(path string, run RunData) error {
	if path == "" {
		return fmt.Errorf("%w: empty run file path", ErrInvalidArgument)
	}
	if err := run.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	// temp file in the same directory for atomicity
	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp run file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		_ = os.Remove(tmpName)
	}()

	rf := runFileFormat{
		Version:   runFileVersion,
		CreatedAt: time.Now().Unix(),
		Run:       run,
	}
	if err := gob.NewEncoder(tmpFile).Encode(&rf); err != nil {
		return fmt.Errorf("encode run to temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp run file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp run file to target: %w", err)
	}
	return nil
}

// ReadRunFile loads and validates a run file written by WriteRunFile.
func ReadRunFile(path string) (RunData, error) {
	fh, err := os.Open(path)
	if err != nil {
		return RunData{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer fh.Close()

	var rf runFileFormat
	if err := gob.NewDecoder(fh).Decode(&rf); err != nil {
		return RunData{}, fmt.Errorf("%w: decode %s: %v", ErrStorageFormat, path, err)
	}
	if rf.Version != runFileVersion {
		return RunData{}, fmt.Errorf("%w: run file version mismatch in %s: file=%d expected=%d",
			ErrStorageFormat, path, rf.Version, runFileVersion)
	}
	if err := rf.Run.Validate(); err != nil {
		return RunData{}, fmt.Errorf("%w: %s: %v", ErrStorageFormat, path, err)
	}
	return rf.Run, nil
}
