package training

import (
	"fmt"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/ashegde/phase-field-prediction-with-unets/unet"
)

// StepEngine is the per-batch strategy the driver is wired with: compute the
// loss and apply one optimization step, or evaluate without touching
// parameters. The driver never talks to the numerical framework directly, so
// the loop logic stays testable with a stand-in engine.
type StepEngine interface {
	// TrainStep runs forward, loss, backward and parameter update on one
	// batch and returns the batch loss.
	TrainStep(spec any, inputs, labels []*tensors.Tensor) (float32, error)

	// EvalStep computes the batch loss without updating parameters.
	EvalStep(spec any, inputs, labels []*tensors.Tensor) (float32, error)

	// SetLearningRate changes the learning rate for subsequent steps.
	SetLearningRate(lr float64)

	// SaveParams persists the current model parameters to path.
	SaveParams(path string) error
}

// EngineConfig carries the optimizer settings for the gomlx engine.
type EngineConfig struct {
	// LearningRate is the initial learning rate. Defaults to 1e-3.
	LearningRate float64

	// WeightDecay is the AdamW regularization strength.
	WeightDecay float64

	// Seed fixes the RNG state used for parameter initialization.
	Seed int64
}

// GomlxEngine drives the UNet with gomlx's Trainer: AdamW updates against a
// mean squared error loss. The step graph for each batch shape is
// JIT-compiled by the framework on its first use.
type GomlxEngine struct {
	backend backends.Backend
	ctx     *context.Context
	model   *unet.Model
	trainer *train.Trainer
	lr      float64
}

// NewGomlxEngine builds the trainer wiring around a model.
func NewGomlxEngine(backend backends.Backend, model *unet.Model, cfg EngineConfig) *GomlxEngine {
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 1e-3
	}
	ctx := context.New()
	ctx.RngStateWithSeed(cfg.Seed)

	modelFn := func(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node {
		return model.Graph(ctx.In(ModelScope), spec, inputs)
	}
	optimizer := optimizers.Adam().
		LearningRate(cfg.LearningRate).
		WeightDecay(cfg.WeightDecay).
		Done()
	trainer := train.NewTrainer(backend, ctx, modelFn,
		losses.MeanSquaredError, optimizer, nil, nil)

	return &GomlxEngine{
		backend: backend,
		ctx:     ctx,
		model:   model,
		trainer: trainer,
		lr:      cfg.LearningRate,
	}
}

// TrainStep implements StepEngine.
func (e *GomlxEngine) TrainStep(spec any, inputs, labels []*tensors.Tensor) (float32, error) {
	metrics, err := e.trainer.TrainStep(spec, inputs, labels)
	if err != nil {
		return 0, err
	}
	return batchLoss(metrics)
}

// EvalStep implements StepEngine.
func (e *GomlxEngine) EvalStep(spec any, inputs, labels []*tensors.Tensor) (float32, error) {
	metrics, err := e.trainer.EvalStep(spec, inputs, labels)
	if err != nil {
		return 0, err
	}
	return batchLoss(metrics)
}

// batchLoss extracts the batch loss scalar, the trainer's first metric.
func batchLoss(metrics []*tensors.Tensor) (float32, error) {
	if len(metrics) == 0 {
		return 0, fmt.Errorf("trainer returned no metrics")
	}
	return tensors.ToScalar[float32](metrics[0]), nil
}

// SetLearningRate updates the learning rate variable the optimizer reads, so
// the new value applies to subsequent steps without recompiling the step
// graphs.
func (e *GomlxEngine) SetLearningRate(lr float64) {
	e.lr = lr
	v := optimizers.LearningRateVar(e.ctx, dtypes.Float32, lr)
	v.SetValue(tensors.FromAnyValue(float32(lr)))
}

// LearningRate returns the engine's current learning rate.
func (e *GomlxEngine) LearningRate() float64 {
	return e.lr
}

// SaveParams implements StepEngine, writing the model-scope variables.
func (e *GomlxEngine) SaveParams(path string) error {
	return SaveParams(e.ctx, path)
}

// NumParams returns the number of values across the model parameters. It is
// 0 until the first step has built the model graph and created them.
func (e *GomlxEngine) NumParams() int {
	n := 0
	e.ctx.EnumerateVariables(func(v *context.Variable) {
		if inModelScope(v.Scope()) {
			n += v.Shape().Size()
		}
	})
	return n
}

// Context exposes the engine's variable context, mainly for checkpoint
// inspection.
func (e *GomlxEngine) Context() *context.Context {
	return e.ctx
}
