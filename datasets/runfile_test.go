package datasets

import (
	"encoding/gob"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRunFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run0.gob")
	run := makeRun("run0", 0, 4, 2, 3)
	if err := WriteRunFile(path, run); err != nil {
		t.Fatalf("WriteRunFile failed: %v", err)
	}

	got, err := ReadRunFile(path)
	if err != nil {
		t.Fatalf("ReadRunFile failed: %v", err)
	}
	if got.Name != run.Name || got.Height != run.Height || got.Width != run.Width {
		t.Fatalf("read run %+v, want %+v", got.Info(), run.Info())
	}
	if len(got.Fields) != len(run.Fields) {
		t.Fatalf("read %d field values, want %d", len(got.Fields), len(run.Fields))
	}
	for i := range run.Fields {
		if got.Fields[i] != run.Fields[i] {
			t.Fatalf("field value [%d] = %v, want %v", i, got.Fields[i], run.Fields[i])
		}
	}
	for i := range run.Times {
		if got.Times[i] != run.Times[i] {
			t.Fatalf("time value [%d] = %v, want %v", i, got.Times[i], run.Times[i])
		}
	}
}

func TestWriteRunFile_InvalidRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.gob")
	run := makeRun("bad", 0, 4, 2, 3)
	run.X = run.X[:2]
	if err := WriteRunFile(path, run); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("WriteRunFile with bad grid = %v, want ErrInvalidArgument", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("invalid run must not leave a file behind, stat: %v", err)
	}
}

func TestReadRunFile_Missing(t *testing.T) {
	if _, err := ReadRunFile(filepath.Join(t.TempDir(), "absent.gob")); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("ReadRunFile on missing file = %v, want ErrStorageUnavailable", err)
	}
}

func TestReadRunFile_Malformed(t *testing.T) {
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage.gob")
	if err := os.WriteFile(garbage, []byte("not a gob stream"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := ReadRunFile(garbage); !errors.Is(err, ErrStorageFormat) {
		t.Fatalf("ReadRunFile on garbage = %v, want ErrStorageFormat", err)
	}

	// valid gob stream, wrong version
	stale := filepath.Join(dir, "stale.gob")
	f, err := os.Create(stale)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	enc := gob.NewEncoder(f)
	if err := enc.Encode(runFileFormat{Version: runFileVersion + 1, Run: makeRun("run0", 0, 4, 2, 3)}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := ReadRunFile(stale); !errors.Is(err, ErrStorageFormat) {
		t.Fatalf("ReadRunFile on stale version = %v, want ErrStorageFormat", err)
	}
}
