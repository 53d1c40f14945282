package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/ashegde/phase-field-prediction-with-unets/datasets"

	"github.com/dustin/go-humanize"
)

func main() {
	pattern := flag.String("pattern", "runs/*.gob", "glob pattern for simulation run files")
	outDir := flag.String("out", "data", "directory that receives the train/valid/test store files")
	trainFrac := flag.Float64("train", 0.8, "fraction of runs assigned to the training partition")
	validFrac := flag.Float64("valid", 0.1, "fraction of runs assigned to the validation partition (the rest is test)")
	seed := flag.Int64("seed", 2023, "seed for the random split")
	force := flag.Bool("force", false, "overwrite existing store files")
	flag.Parse()

	if *trainFrac < 0 || *validFrac < 0 || *trainFrac+*validFrac > 1 {
		log.Fatalf("bad split fractions train=%v valid=%v", *trainFrac, *validFrac)
	}

	paths, err := filepath.Glob(*pattern)
	if err != nil {
		log.Fatalf("bad pattern %q: %v", *pattern, err)
	}
	if len(paths) == 0 {
		log.Fatalf("no run files match %s", *pattern)
	}
	log.Printf("Found %d run files matching %s", len(paths), *pattern)

	// Deterministic split: glob order is sorted, the shuffle is seeded.
	rng := rand.New(rand.NewSource(*seed))
	rng.Shuffle(len(paths), func(i, j int) {
		paths[i], paths[j] = paths[j], paths[i]
	})
	nTrain := int(*trainFrac * float64(len(paths)))
	nValid := int(*validFrac * float64(len(paths)))
	split := map[datasets.Partition][]string{
		datasets.Train: paths[:nTrain],
		datasets.Valid: paths[nTrain : nTrain+nValid],
		datasets.Test:  paths[nTrain+nValid:],
	}

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatalf("failed to create %s: %v", *outDir, err)
	}
	partitions := []datasets.Partition{datasets.Train, datasets.Valid, datasets.Test}
	for _, partition := range partitions {
		path := filepath.Join(*outDir, partition.StoreFile())
		runs, snapshots, err := writePartition(path, split[partition], *force)
		if err != nil {
			log.Fatalf("failed to write %s store: %v", partition, err)
		}
		log.Printf("Wrote %d runs (%s snapshots) to %s", runs, humanize.Comma(int64(snapshots)), path)
	}

	// Reopen each store the way training will, so malformed grids surface
	// here instead of at the first epoch.
	for _, partition := range partitions {
		ds, err := datasets.OpenForecast(*outDir, partition, 1)
		if err != nil {
			log.Fatalf("validation of %s store failed: %v", partition, err)
		}
		log.Printf("Validated %s store: runs=%d", partition, ds.NumRuns())
		ds.Close()
	}
}

// writePartition streams the given run files into a fresh store at path,
// reading one run at a time.
func writePartition(path string, files []string, force bool) (runs, snapshots int, err error) {
	if _, err := os.Stat(path); err == nil {
		if !force {
			return 0, 0, fmt.Errorf("%s already exists, pass -force to overwrite", path)
		}
		if err := os.Remove(path); err != nil {
			return 0, 0, err
		}
	} else if !os.IsNotExist(err) {
		return 0, 0, err
	}

	store, err := datasets.CreateStore(path)
	if err != nil {
		return 0, 0, err
	}
	defer store.Close()

	for _, file := range files {
		run, err := datasets.ReadRunFile(file)
		if err != nil {
			return runs, snapshots, fmt.Errorf("failed to read %s: %w", file, err)
		}
		if err := store.WriteRun(run); err != nil {
			return runs, snapshots, fmt.Errorf("failed to store run %q from %s: %w", run.Name, file, err)
		}
		runs++
		snapshots += len(run.Times)
	}
	return runs, snapshots, store.Close()
}
