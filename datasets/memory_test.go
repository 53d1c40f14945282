package datasets

import (
	"errors"
	"testing"
)

func TestMemoryStore_RunsSorted(t *testing.T) {
	store := NewMemoryStore()
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		if err := store.AddRun(makeRun(name, 0, 4, 2, 3)); err != nil {
			t.Fatalf("AddRun(%s) failed: %v", name, err)
		}
	}
	runs, err := store.Runs()
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	want := []string{"alpha", "bravo", "charlie"}
	for i := range want {
		if runs[i].Name != want[i] {
			t.Fatalf("run order %v, want %v", runs, want)
		}
	}
}

func TestMemoryStore_AddRunErrors(t *testing.T) {
	store := NewMemoryStore()
	if err := store.AddRun(makeRun("alpha", 0, 4, 2, 3)); err != nil {
		t.Fatalf("AddRun failed: %v", err)
	}
	if err := store.AddRun(makeRun("alpha", 0, 4, 2, 3)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("duplicate AddRun = %v, want ErrInvalidArgument", err)
	}

	bad := makeRun("broken", 0, 4, 2, 3)
	bad.Times = nil
	if err := store.AddRun(bad); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("AddRun with no times = %v, want ErrInvalidArgument", err)
	}
}

func TestMemoryStore_ReadErrors(t *testing.T) {
	store := NewMemoryStore()
	if err := store.AddRun(makeRun("alpha", 0, 4, 2, 3)); err != nil {
		t.Fatalf("AddRun failed: %v", err)
	}
	if _, err := store.ReadTimes("ghost"); !errors.Is(err, ErrStorageFormat) {
		t.Fatalf("ReadTimes(ghost) = %v, want ErrStorageFormat", err)
	}
	if _, err := store.ReadSnapshot("alpha", 4); !errors.Is(err, ErrStorageFormat) {
		t.Fatalf("ReadSnapshot past the end = %v, want ErrStorageFormat", err)
	}
	if _, err := store.ReadSnapshot("alpha", -1); !errors.Is(err, ErrStorageFormat) {
		t.Fatalf("ReadSnapshot(-1) = %v, want ErrStorageFormat", err)
	}
}
