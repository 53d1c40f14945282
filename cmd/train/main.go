package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ashegde/phase-field-prediction-with-unets/datasets"
	"github.com/ashegde/phase-field-prediction-with-unets/training"
	"github.com/ashegde/phase-field-prediction-with-unets/unet"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
)

// effectiveConfig is the merged JSON+CLI configuration, printable with
// -print-config. The JSON keys match the config files used alongside the
// simulation runs.
type effectiveConfig struct {
	DataDir      string  `json:"data_dir"`
	OutDir       string  `json:"model_dir"`
	BatchSize    int     `json:"batch_size"`
	TimeSkip     int     `json:"time_skip"`
	Epochs       int     `json:"num_epochs"`
	LearningRate float64 `json:"learning_rate"`
	LRDecay      float64 `json:"lr_decay"`
	WeightDecay  float64 `json:"weight_decay"`
	ValidFreq    int     `json:"valid_freq"`
	LogFreq      int     `json:"log_freq"`
	Seed         int64   `json:"seed"`
	Features     int     `json:"features"`
}

func main() {
	dataDir := flag.String("data", "data", "directory holding the train/valid/test store files")
	outDir := flag.String("out", "results", "directory that receives the model_{timestamp} run directory")
	batchSize := flag.Int("batch-size", 64, "training batch size")
	timeSkip := flag.Int("time-skip", 25, "number of snapshots between a sample's input and its target")
	epochs := flag.Int("epochs", 10, "number of training epochs")
	lr := flag.Float64("lr", 1e-3, "initial learning rate")
	lrDecay := flag.Float64("lr-decay", 0.4, "learning rate decay factor applied on validation plateau")
	weightDecay := flag.Float64("weight-decay", 1e-6, "AdamW weight decay")
	validFreq := flag.Int("valid-freq", 1, "validate every N epochs")
	logFreq := flag.Int("log-freq", 1, "log every N training steps")
	seed := flag.Int64("seed", 2023, "seed for shuffling and parameter initialization")
	features := flag.Int("features", 16, "feature channels at the first UNet level")
	configPath := flag.String("config", "", "path to a JSON config file (optional). Explicit CLI flags override its values")
	printConfig := flag.Bool("print-config", false, "print the effective (JSON+CLI merged) configuration and exit")
	flag.Parse()

	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			log.Fatalf("failed to read config %s: %v", *configPath, err)
		}
		var raw struct {
			DataDir      *string  `json:"data_dir"`
			OutDir       *string  `json:"model_dir"`
			BatchSize    *int     `json:"batch_size"`
			TimeSkip     *int     `json:"time_skip"`
			Epochs       *int     `json:"num_epochs"`
			LearningRate *float64 `json:"learning_rate"`
			LRDecay      *float64 `json:"lr_decay"`
			WeightDecay  *float64 `json:"weight_decay"`
			ValidFreq    *int     `json:"valid_freq"`
			LogFreq      *int     `json:"log_freq"`
			Seed         *int64   `json:"seed"`
			Features     *int     `json:"features"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			log.Fatalf("failed to parse config %s: %v", *configPath, err)
		}
		// JSON fills in whatever the command line left unset.
		if raw.DataDir != nil && !setFlags["data"] {
			*dataDir = *raw.DataDir
		}
		if raw.OutDir != nil && !setFlags["out"] {
			*outDir = *raw.OutDir
		}
		if raw.BatchSize != nil && !setFlags["batch-size"] {
			*batchSize = *raw.BatchSize
		}
		if raw.TimeSkip != nil && !setFlags["time-skip"] {
			*timeSkip = *raw.TimeSkip
		}
		if raw.Epochs != nil && !setFlags["epochs"] {
			*epochs = *raw.Epochs
		}
		if raw.LearningRate != nil && !setFlags["lr"] {
			*lr = *raw.LearningRate
		}
		if raw.LRDecay != nil && !setFlags["lr-decay"] {
			*lrDecay = *raw.LRDecay
		}
		if raw.WeightDecay != nil && !setFlags["weight-decay"] {
			*weightDecay = *raw.WeightDecay
		}
		if raw.ValidFreq != nil && !setFlags["valid-freq"] {
			*validFreq = *raw.ValidFreq
		}
		if raw.LogFreq != nil && !setFlags["log-freq"] {
			*logFreq = *raw.LogFreq
		}
		if raw.Seed != nil && !setFlags["seed"] {
			*seed = *raw.Seed
		}
		if raw.Features != nil && !setFlags["features"] {
			*features = *raw.Features
		}
	}

	cfg := effectiveConfig{
		DataDir:      *dataDir,
		OutDir:       *outDir,
		BatchSize:    *batchSize,
		TimeSkip:     *timeSkip,
		Epochs:       *epochs,
		LearningRate: *lr,
		LRDecay:      *lrDecay,
		WeightDecay:  *weightDecay,
		ValidFreq:    *validFreq,
		LogFreq:      *logFreq,
		Seed:         *seed,
		Features:     *features,
	}
	if *printConfig {
		out, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			log.Fatalf("failed to render config: %v", err)
		}
		fmt.Println(string(out))
		return
	}

	// Every run gets its own timestamped directory with checkpoints and a
	// log/train.log copy of everything printed below.
	start := time.Now()
	runDir := filepath.Join(*outDir, "model_"+start.Format("2006-01-02_15-04-05"))
	logDir := filepath.Join(runDir, "log")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Fatalf("failed to create run directory %s: %v", runDir, err)
	}
	logFile, err := os.Create(filepath.Join(logDir, "train.log"))
	if err != nil {
		log.Fatalf("failed to create train.log: %v", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stderr, logFile))
	log.Printf("Writing run artifacts to %s", runDir)

	backend := backends.MustNew()
	log.Printf("Using backend %s", backend.Name())

	trainDS, err := datasets.OpenForecast(*dataDir, datasets.Train, *timeSkip)
	if err != nil {
		log.Fatalf("failed to open training dataset: %v", err)
	}
	defer trainDS.Close()
	validDS, err := datasets.OpenForecast(*dataDir, datasets.Valid, *timeSkip)
	if err != nil {
		log.Fatalf("failed to open validation dataset: %v", err)
	}
	defer validDS.Close()

	trainDS.BatchSize = *batchSize
	validDS.BatchSize = *batchSize
	trainDS.Shuffle(*seed)

	height, width := trainDS.Dims()
	if err := unet.CheckSpatial(height, width); err != nil {
		log.Fatalf("training grid unusable: %v", err)
	}
	if vh, vw := validDS.Dims(); vh != height || vw != width {
		log.Fatalf("validation grid %dx%d does not match training grid %dx%d", vh, vw, height, width)
	}
	log.Printf("Training dataset: runs=%d samples=%d grid=%dx%d (time skip %d)",
		trainDS.NumRuns(), trainDS.Len(), height, width, *timeSkip)
	log.Printf("Validation dataset: runs=%d samples=%d", validDS.NumRuns(), validDS.Len())

	model, err := unet.New(unet.Config{Features: *features})
	if err != nil {
		log.Fatalf("failed to build model: %v", err)
	}
	engine := training.NewGomlxEngine(backend, model, training.EngineConfig{
		LearningRate: *lr,
		WeightDecay:  *weightDecay,
		Seed:         *seed,
	})

	driver, err := training.NewDriver(training.Config{
		Epochs:       *epochs,
		LearningRate: *lr,
		LRDecay:      *lrDecay,
		ValidFreq:    *validFreq,
		LogFreq:      *logFreq,
		BestPath:     filepath.Join(runDir, training.BestCheckpointName(*timeSkip)),
		FinalPath:    filepath.Join(runDir, training.FinalCheckpointName(start, *batchSize, *timeSkip)),
	}, engine, trainDS, validDS, log.Default())
	if err != nil {
		log.Fatalf("failed to set up training driver: %v", err)
	}

	summary, err := driver.Run()
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}
	log.Printf("Training complete: best validation loss %.6f over %d epochs", summary.BestValidLoss, summary.Epochs)
	log.Printf("Best checkpoint: %s", summary.BestPath)
	log.Printf("Final checkpoint: %s", summary.FinalPath)
}
