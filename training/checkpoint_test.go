package training

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

func TestCheckpointNames(t *testing.T) {
	if got := BestCheckpointName(25); got != "checkpoint_model_tskip_25.gob" {
		t.Fatalf("BestCheckpointName(25) = %q", got)
	}
	ts := time.Date(2024, 3, 1, 13, 5, 9, 0, time.UTC)
	want := "model_savetime_2024-03-01_13-05-09_batchsize_64_timeskip_25.gob"
	if got := FinalCheckpointName(ts, 64, 25); got != want {
		t.Fatalf("FinalCheckpointName = %q, want %q", got, want)
	}
}

// TestSaveLoadParams_RoundTrip saves model-scope variables from one context
// and restores them into a fresh one, with shapes and values intact and
// optimizer state left behind.
func TestSaveLoadParams_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.gob")

	src := context.New()
	src.In(ModelScope).In("enc1").VariableWithValue("weights",
		tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3))
	src.In(ModelScope).VariableWithValue("bias",
		tensors.FromFlatDataAndDimensions([]float32{0.5}, 1))
	src.In("optimizer").VariableWithValue("step",
		tensors.FromFlatDataAndDimensions([]float32{9}, 1))

	if err := SaveParams(src, path); err != nil {
		t.Fatalf("SaveParams failed: %v", err)
	}

	dst := context.New()
	if err := LoadParams(dst, path); err != nil {
		t.Fatalf("LoadParams failed: %v", err)
	}

	vars := map[string]*context.Variable{}
	dst.EnumerateVariables(func(v *context.Variable) {
		vars[v.Scope()+"/"+v.Name()] = v
	})
	if len(vars) != 2 {
		t.Fatalf("expected 2 restored variables, got %d", len(vars))
	}

	w, ok := vars["/model/enc1/weights"]
	if !ok {
		t.Fatalf("weights variable missing after load")
	}
	dims := w.Shape().Dimensions
	if len(dims) != 2 || dims[0] != 2 || dims[1] != 3 {
		t.Fatalf("weights dimensions %v, want [2 3]", dims)
	}
	got := tensors.CopyFlatData[float32](w.Value())
	for i, want := range []float32{1, 2, 3, 4, 5, 6} {
		if got[i] != want {
			t.Fatalf("weights value [%d] = %v, want %v", i, got[i], want)
		}
	}

	b, ok := vars["/model/bias"]
	if !ok {
		t.Fatalf("bias variable missing after load")
	}
	if got := tensors.CopyFlatData[float32](b.Value()); got[0] != 0.5 {
		t.Fatalf("bias value %v, want 0.5", got[0])
	}

	for key := range vars {
		if strings.HasPrefix(key, "/optimizer") {
			t.Fatalf("optimizer state leaked into the checkpoint: %s", key)
		}
	}
}

func TestSaveParams_NoModelVariables(t *testing.T) {
	ctx := context.New()
	ctx.In("optimizer").VariableWithValue("step",
		tensors.FromFlatDataAndDimensions([]float32{9}, 1))
	if err := SaveParams(ctx, filepath.Join(t.TempDir(), "params.gob")); err == nil {
		t.Fatalf("expected error when no model variables exist")
	}
}

func TestLoadParams_Errors(t *testing.T) {
	dir := t.TempDir()
	ctx := context.New()

	if err := LoadParams(ctx, filepath.Join(dir, "absent.gob")); err == nil {
		t.Fatalf("expected error for missing checkpoint")
	}

	writeCheckpoint := func(name string, cf checkpointFormat) string {
		t.Helper()
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := gob.NewEncoder(f).Encode(&cf); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if err := f.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		return path
	}

	stale := writeCheckpoint("stale.gob", checkpointFormat{Version: checkpointVersion + 1})
	if err := LoadParams(ctx, stale); err == nil {
		t.Fatalf("expected error for version mismatch")
	}

	torn := writeCheckpoint("torn.gob", checkpointFormat{
		Version: checkpointVersion,
		Params: []savedParam{
			{Scope: "/model", Name: "weights", Dims: []int{2, 2}, Data: []float32{1}},
		},
	})
	if err := LoadParams(ctx, torn); err == nil {
		t.Fatalf("expected error for mismatched parameter size")
	}
}
