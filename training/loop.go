package training

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// BatchSource yields batches for one pass over a dataset. Reset rewinds it
// for the next pass; training sources may reshuffle on Reset while
// validation sources keep a fixed order.
type BatchSource interface {
	Name() string
	Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error)
	Reset()
	Batches() int
}

// Config holds the driver settings. Zero values fall back to the defaults
// used throughout the project.
type Config struct {
	Epochs       int
	LearningRate float64
	LRDecay      float64
	MinLR        float64
	Patience     int
	ValidFreq    int
	LogFreq      int

	// BestPath receives a checkpoint each time validation improves;
	// FinalPath receives the parameters once after the last epoch.
	BestPath  string
	FinalPath string
}

func (cfg Config) withDefaults() Config {
	if cfg.Epochs == 0 {
		cfg.Epochs = 10
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 1e-3
	}
	if cfg.LRDecay == 0 {
		cfg.LRDecay = 0.4
	}
	if cfg.MinLR == 0 {
		cfg.MinLR = 1e-5
	}
	if cfg.Patience == 0 {
		cfg.Patience = 5
	}
	if cfg.ValidFreq == 0 {
		cfg.ValidFreq = 1
	}
	if cfg.LogFreq == 0 {
		cfg.LogFreq = 1
	}
	return cfg
}

// Driver runs the train/validate/checkpoint cycle over a StepEngine. It owns
// no model state itself; everything learned lives behind the engine.
type Driver struct {
	cfg    Config
	engine StepEngine
	train  BatchSource
	valid  BatchSource
	sched  *PlateauScheduler
	logger *log.Logger

	loggedSize bool
}

// Summary reports what a completed run did.
type Summary struct {
	Epochs          int
	BestValidLoss   float64
	BestCheckpoints []int // epoch indices that produced a new best
	BestPath        string
	FinalPath       string
}

func NewDriver(cfg Config, engine StepEngine, train, valid BatchSource, logger *log.Logger) (*Driver, error) {
	if engine == nil {
		return nil, errors.New("train driver: nil engine")
	}
	if train == nil || valid == nil {
		return nil, errors.New("train driver: nil batch source")
	}
	cfg = cfg.withDefaults()
	if cfg.BestPath == "" || cfg.FinalPath == "" {
		return nil, errors.New("train driver: checkpoint paths not set")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Driver{
		cfg:    cfg,
		engine: engine,
		train:  train,
		valid:  valid,
		sched:  NewPlateauScheduler(cfg.LearningRate, cfg.LRDecay, cfg.MinLR, cfg.Patience),
		logger: logger,
	}, nil
}

// Run trains for the configured number of epochs, validating every
// ValidFreq epochs and checkpointing whenever the validation loss improves
// on the best seen so far. The final parameters are always written to
// FinalPath afterwards, regardless of whether they were ever the best.
func (d *Driver) Run() (*Summary, error) {
	summary := &Summary{
		Epochs:        d.cfg.Epochs,
		BestValidLoss: math.Inf(1),
		BestPath:      d.cfg.BestPath,
		FinalPath:     d.cfg.FinalPath,
	}
	best := math.Inf(1)

	for epoch := range d.cfg.Epochs {
		d.logger.Printf("Epoch %d/%d (lr=%.3g)", epoch+1, d.cfg.Epochs, d.sched.LR())
		if err := d.trainEpoch(); err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch+1, err)
		}
		d.logModelSize()

		if epoch%d.cfg.ValidFreq != 0 {
			continue
		}
		valLoss, err := d.validate()
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch+1, err)
		}
		d.logger.Printf("Epoch %d validation loss: %.6f", epoch+1, valLoss)

		if valLoss < best {
			d.logger.Printf("Checkpointing a new best model to %s", d.cfg.BestPath)
			if err := d.engine.SaveParams(d.cfg.BestPath); err != nil {
				return nil, fmt.Errorf("checkpoint best model: %w", err)
			}
			best = valLoss
			summary.BestValidLoss = valLoss
			summary.BestCheckpoints = append(summary.BestCheckpoints, epoch)
		}

		if lr, reduced := d.sched.Step(valLoss); reduced {
			d.engine.SetLearningRate(lr)
			d.logger.Printf("Validation loss plateaued, decaying learning rate to %.3g", lr)
		}
	}

	if err := d.engine.SaveParams(d.cfg.FinalPath); err != nil {
		return nil, fmt.Errorf("save final model: %w", err)
	}
	d.logger.Printf("Saved final model to %s", d.cfg.FinalPath)
	return summary, nil
}

func (d *Driver) trainEpoch() error {
	d.train.Reset()
	total := d.train.Batches()
	for step := 0; ; step++ {
		spec, inputs, labels, err := d.train.Yield()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("yield train batch: %w", err)
		}
		loss, err := d.engine.TrainStep(spec, inputs, labels)
		if err != nil {
			return fmt.Errorf("train step %d: %w", step+1, err)
		}
		if step%d.cfg.LogFreq == 0 {
			d.logger.Printf("Train step %d/%d, loss: %.6f", step+1, total, loss)
		}
	}
}

// validate runs one pass over the validation source with gradients off and
// returns the mean of the per-batch losses.
func (d *Driver) validate() (float64, error) {
	d.valid.Reset()
	var sum float64
	var batches int
	for {
		spec, inputs, labels, err := d.valid.Yield()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("yield validation batch: %w", err)
		}
		loss, err := d.engine.EvalStep(spec, inputs, labels)
		if err != nil {
			return 0, fmt.Errorf("validation step %d: %w", batches+1, err)
		}
		sum += float64(loss)
		batches++
	}
	if batches == 0 {
		return 0, errors.New("validation dataset yielded no batches")
	}
	return sum / float64(batches), nil
}

// logModelSize reports the parameter count once, after the first epoch has
// built the graph and materialized the variables.
func (d *Driver) logModelSize() {
	if d.loggedSize {
		return
	}
	sizer, ok := d.engine.(interface{ NumParams() int })
	if !ok {
		d.loggedSize = true
		return
	}
	if n := sizer.NumParams(); n > 0 {
		d.logger.Printf("Model size: %s trainable parameters", humanize.Comma(int64(n)))
		d.loggedSize = true
	}
}
