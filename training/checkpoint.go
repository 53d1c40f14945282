package training

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
)

// Checkpoints hold model parameters only - no optimizer or scheduler state -
// as a serialized mapping from parameter name to tensor data, gob-encoded
// and written atomically (temp file then rename).

// checkpointVersion is incremented when the checkpoint format changes.
const checkpointVersion = 1

// ModelScope is the context scope all model variables live under. Checkpoints
// capture exactly this scope, so anything rebuilding the model graph for a
// saved checkpoint must place it here too.
const ModelScope = "model"

type checkpointFormat struct {
	Version   int
	CreatedAt int64
	Params    []savedParam
}

type savedParam struct {
	Scope string
	Name  string
	Dims  []int
	Data  []float32
}

// BestCheckpointName is the fixed file name the best model is overwritten at
// whenever validation improves.
func BestCheckpointName(skip int) string {
	return fmt.Sprintf("checkpoint_model_tskip_%d.gob", skip)
}

// FinalCheckpointName is the file name of the end-of-training checkpoint.
func FinalCheckpointName(t time.Time, batchSize, skip int) string {
	return fmt.Sprintf("model_savetime_%s_batchsize_%d_timeskip_%d.gob",
		t.Format("2006-01-02_15-04-05"), batchSize, skip)
}

func inModelScope(scope string) bool {
	root := "/" + ModelScope
	return scope == root || strings.HasPrefix(scope, root+"/")
}

// SaveParams writes every variable under the model scope of ctx to path,
// creating parent directories as needed.
func SaveParams(ctx *context.Context, path string) error {
	var params []savedParam
	var badParam error
	ctx.EnumerateVariables(func(v *context.Variable) {
		if !inModelScope(v.Scope()) || badParam != nil {
			return
		}
		t := v.Value()
		if t == nil {
			return
		}
		shape := t.Shape()
		if shape.DType != dtypes.Float32 {
			badParam = fmt.Errorf("parameter %s/%s has dtype %s, want float32", v.Scope(), v.Name(), shape.DType)
			return
		}
		params = append(params, savedParam{
			Scope: v.Scope(),
			Name:  v.Name(),
			Dims:  slices.Clone(shape.Dimensions),
			Data:  tensors.CopyFlatData[float32](t),
		})
	})
	if badParam != nil {
		return badParam
	}
	if len(params) == 0 {
		return fmt.Errorf("no model parameters to save under scope /%s", ModelScope)
	}
	sort.Slice(params, func(i, j int) bool {
		if params[i].Scope != params[j].Scope {
			return params[i].Scope < params[j].Scope
		}
		return params[i].Name < params[j].Name
	})

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		_ = os.Remove(tmpName)
	}()

	cf := checkpointFormat{
		Version:   checkpointVersion,
		CreatedAt: time.Now().Unix(),
		Params:    params,
	}
	if err := gob.NewEncoder(tmpFile).Encode(&cf); err != nil {
		return fmt.Errorf("encode checkpoint to temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp checkpoint to target: %w", err)
	}
	return nil
}

// LoadParams restores a checkpoint into a fresh context, creating the
// variables under their saved scopes. Call it before building inference
// graphs so the layers reuse the loaded values.
func LoadParams(ctx *context.Context, path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	defer fh.Close()

	var cf checkpointFormat
	if err := gob.NewDecoder(fh).Decode(&cf); err != nil {
		return fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	if cf.Version != checkpointVersion {
		return fmt.Errorf("checkpoint version mismatch in %s: file=%d expected=%d",
			path, cf.Version, checkpointVersion)
	}
	for _, p := range cf.Params {
		size := 1
		for _, d := range p.Dims {
			size *= d
		}
		if size != len(p.Data) {
			return fmt.Errorf("parameter %s/%s has %d values, want %d", p.Scope, p.Name, len(p.Data), size)
		}
		t := tensors.FromFlatDataAndDimensions(p.Data, p.Dims...)
		ctx.InAbsPath(p.Scope).VariableWithValue(p.Name, t)
	}
	return nil
}
