package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"image/color"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/ashegde/phase-field-prediction-with-unets/datasets"
	"github.com/ashegde/phase-field-prediction-with-unets/training"
	"github.com/ashegde/phase-field-prediction-with-unets/unet"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

func main() {
	dataDir := flag.String("data", "data", "directory holding the train/valid/test store files")
	partitionFlag := flag.String("partition", "test", "partition to evaluate: train, valid or test")
	checkpointPath := flag.String("checkpoint", "", "path to a model checkpoint (required)")
	timeSkip := flag.Int("time-skip", 25, "number of snapshots between a sample's input and its target")
	batchSize := flag.Int("batch-size", 64, "evaluation batch size")
	outDir := flag.String("out", "evaluation", "output directory for metrics and plots")
	runIdx := flag.Int("run", 0, "run index within the partition used for the rollout")
	rolloutSteps := flag.Int("rollout", 0, "number of autoregressive rollout steps (0 = as many as the run allows)")
	heatmaps := flag.Int("heatmaps", 0, "write field heatmaps for the first N rollout steps")
	features := flag.Int("features", 16, "feature channels at the first UNet level, must match the checkpoint")
	flag.Parse()

	if *checkpointPath == "" {
		log.Fatalf("no checkpoint given, pass -checkpoint")
	}
	partition, err := datasets.ParsePartition(*partitionFlag)
	if err != nil {
		log.Fatalf("bad partition %q: %v", *partitionFlag, err)
	}

	ds, err := datasets.OpenForecast(*dataDir, partition, *timeSkip)
	if err != nil {
		log.Fatalf("failed to open %s dataset: %v", partition, err)
	}
	defer ds.Close()
	ds.BatchSize = *batchSize

	height, width := ds.Dims()
	if err := unet.CheckSpatial(height, width); err != nil {
		log.Fatalf("dataset grid unusable: %v", err)
	}
	log.Printf("Evaluating %s partition: runs=%d samples=%d grid=%dx%d (time skip %d)",
		partition, ds.NumRuns(), ds.Len(), height, width, *timeSkip)

	backend := backends.MustNew()
	log.Printf("Using backend %s", backend.Name())

	model, err := unet.New(unet.Config{Features: *features})
	if err != nil {
		log.Fatalf("failed to build model: %v", err)
	}
	ctx := context.New()
	if err := training.LoadParams(ctx, *checkpointPath); err != nil {
		log.Fatalf("failed to load checkpoint %s: %v", *checkpointPath, err)
	}
	log.Printf("Loaded checkpoint %s", *checkpointPath)

	// One forward pass per call. The parameters come from the checkpoint, so
	// variable creation checks are off.
	exec := context.NewExec(backend, ctx.Checked(false),
		func(ctx *context.Context, x *graph.Node) *graph.Node {
			return model.Forward(ctx.In(training.ModelScope), x)
		})
	predict := func(in *tensors.Tensor) *tensors.Tensor {
		return exec.Call(in)[0]
	}

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatalf("failed to create output directory %s: %v", *outDir, err)
	}

	modelMSE, persistMSE, batches, err := evalOneStep(ds, predict, filepath.Join(*outDir, "metrics.csv"))
	if err != nil {
		log.Fatalf("one-step evaluation failed: %v", err)
	}
	log.Printf("One-step MSE over %d batches: model=%.6f, persistence=%.6f", batches, modelMSE, persistMSE)

	var visit rolloutVisitor
	if *heatmaps > 0 {
		hw, err := newHeatmapWriter(ds, *runIdx, *outDir, *heatmaps)
		if err != nil {
			log.Fatalf("failed to prepare heatmaps: %v", err)
		}
		visit = hw.visit
	}
	times, rolloutModel, rolloutPersist, err := rolloutRun(ds, predict, *runIdx, *rolloutSteps, visit)
	if err != nil {
		log.Fatalf("rollout failed: %v", err)
	}
	runName, err := ds.RunName(*runIdx)
	if err != nil {
		log.Fatalf("rollout run: %v", err)
	}
	log.Printf("Rolled out run %s for %d steps", runName, len(times))

	if err := writeRolloutCSV(filepath.Join(*outDir, "rollout.csv"), times, rolloutModel, rolloutPersist); err != nil {
		log.Fatalf("failed to write rollout CSV: %v", err)
	}
	if err := plotRollout(filepath.Join(*outDir, "rollout.png"), runName, times, rolloutModel, rolloutPersist); err != nil {
		log.Fatalf("failed to plot rollout: %v", err)
	}
	log.Printf("Evaluation artifacts written to %s", *outDir)
}

// evalOneStep measures the single-step prediction error over the whole
// partition, next to the persistence baseline that predicts the input field
// unchanged. Per-batch values go to csvPath; the returned MSEs are the means
// over batches.
func evalOneStep(ds *datasets.ForecastDataset, predict func(*tensors.Tensor) *tensors.Tensor, csvPath string) (modelMSE, persistMSE float64, batches int, err error) {
	f, err := os.Create(csvPath)
	if err != nil {
		return 0, 0, 0, err
	}
	w := csv.NewWriter(f)
	_ = w.Write([]string{"batch", "examples", "model_mse", "persistence_mse"})

	ds.Reset()
	var sumModel, sumPersist float64
	for {
		_, inputs, labels, err := ds.Yield()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			f.Close()
			return 0, 0, 0, err
		}
		pred := predict(inputs[0])
		in := tensors.CopyFlatData[float32](inputs[0])
		lab := tensors.CopyFlatData[float32](labels[0])
		pr := tensors.CopyFlatData[float32](pred)
		m := mse(pr, lab)
		p := mse(in, lab)
		examples := inputs[0].Shape().Dimensions[0]
		_ = w.Write([]string{
			strconv.Itoa(batches),
			strconv.Itoa(examples),
			strconv.FormatFloat(m, 'f', 6, 64),
			strconv.FormatFloat(p, 'f', 6, 64),
		})
		sumModel += m
		sumPersist += p
		batches++
	}
	w.Flush()
	if werr := w.Error(); werr != nil {
		f.Close()
		return 0, 0, 0, werr
	}
	if err := f.Close(); err != nil {
		return 0, 0, 0, err
	}
	if batches == 0 {
		return 0, 0, 0, errors.New("dataset yielded no batches")
	}
	return sumModel / float64(batches), sumPersist / float64(batches), batches, nil
}

// rolloutVisitor observes one rollout step: the field fed to the model, the
// field it predicted and the simulation's actual field at that time.
type rolloutVisitor func(step int, t float64, input, pred, truth []float32) error

// rolloutRun feeds the model its own predictions, starting from the run's
// initial snapshot, and compares every prediction against the simulation
// snapshot one time skip further on. The persistence baseline predicts the
// initial snapshot forever.
func rolloutRun(ds *datasets.ForecastDataset, predict func(*tensors.Tensor) *tensors.Tensor, run, steps int, visit rolloutVisitor) (times, modelMSE, persistMSE []float64, err error) {
	simTimes, fields, err := ds.Simulation(run)
	if err != nil {
		return nil, nil, nil, err
	}
	height, width := ds.Dims()
	cells := height * width
	flat := tensors.CopyFlatData[float32](fields)
	tvals := tensors.CopyFlatData[float32](simTimes)
	skip := ds.Skip()

	limit := (len(tvals) - 1) / skip
	if steps <= 0 || steps > limit {
		steps = limit
	}
	if steps == 0 {
		return nil, nil, nil, fmt.Errorf("run %d has %d snapshots, too few for one step at time skip %d",
			run, len(tvals), skip)
	}

	initial := flat[:cells]
	cur := tensors.FromFlatDataAndDimensions(slices.Clone(initial), 1, 1, height, width)
	for i := range steps {
		pred := predict(cur)
		predFlat := tensors.CopyFlatData[float32](pred)
		at := (i + 1) * skip
		truth := flat[at*cells : (at+1)*cells]

		times = append(times, float64(tvals[at]))
		modelMSE = append(modelMSE, mse(predFlat, truth))
		persistMSE = append(persistMSE, mse(initial, truth))

		if visit != nil {
			inputFlat := tensors.CopyFlatData[float32](cur)
			if err := visit(i, float64(tvals[at]), inputFlat, predFlat, truth); err != nil {
				return nil, nil, nil, err
			}
		}
		cur = pred
	}
	return times, modelMSE, persistMSE, nil
}

func mse(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum / float64(len(a))
}

func writeRolloutCSV(path string, times, model, persist []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	_ = w.Write([]string{"step", "time", "model_mse", "persistence_mse"})
	for i := range times {
		_ = w.Write([]string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(times[i], 'f', 6, 64),
			strconv.FormatFloat(model[i], 'f', 6, 64),
			strconv.FormatFloat(persist[i], 'f', 6, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// plotRollout writes a PNG of model vs persistence MSE over simulation time.
func plotRollout(path, runName string, times, model, persist []float64) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Rollout error, run %s: model (blue), persistence (red)", runName)
	p.X.Label.Text = "simulation time"
	p.Y.Label.Text = "MSE"

	mline, err := plotter.NewLine(xys(times, model))
	if err != nil {
		return err
	}
	mline.Color = color.RGBA{R: 20, G: 80, B: 200, A: 255}
	mline.Width = vg.Points(1.5)
	p.Add(mline)
	p.Legend.Add("model", mline)

	pline, err := plotter.NewLine(xys(times, persist))
	if err != nil {
		return err
	}
	pline.Color = color.RGBA{R: 200, G: 30, B: 30, A: 255}
	pline.Width = vg.Points(1.5)
	pline.Dashes = []vg.Length{vg.Points(3), vg.Points(2)}
	p.Add(pline)
	p.Legend.Add("persistence", pline)

	p.Add(plotter.NewGrid())
	p.Legend.Top = true
	return p.Save(8*vg.Inch, 6*vg.Inch, path)
}

func xys(xs, ys []float64) plotter.XYs {
	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i].X = xs[i]
		pts[i].Y = ys[i]
	}
	return pts
}

// heatmapWriter renders input/predicted/actual field triptychs for the first
// few rollout steps.
type heatmapWriter struct {
	dir   string
	limit int
	cols  []float64 // x coordinate per grid column
	rows  []float64 // y coordinate per grid row
	width int
}

func newHeatmapWriter(ds *datasets.ForecastDataset, run int, dir string, limit int) (*heatmapWriter, error) {
	x, y, err := ds.Meshgrid(run)
	if err != nil {
		return nil, err
	}
	height, width := ds.Dims()
	xflat := tensors.CopyFlatData[float32](x)
	yflat := tensors.CopyFlatData[float32](y)
	cols := make([]float64, width)
	for c := range width {
		cols[c] = float64(xflat[c])
	}
	rows := make([]float64, height)
	for r := range height {
		rows[r] = float64(yflat[r*width])
	}
	return &heatmapWriter{dir: dir, limit: limit, cols: cols, rows: rows, width: width}, nil
}

func (hw *heatmapWriter) visit(step int, t float64, input, pred, truth []float32) error {
	if step >= hw.limit {
		return nil
	}
	path := filepath.Join(hw.dir, fmt.Sprintf("rollout_step_%03d.png", step+1))
	return hw.writeTriptych(path, t, input, pred, truth)
}

func (hw *heatmapWriter) writeTriptych(path string, t float64, input, pred, truth []float32) error {
	lo, hi := rangeOf(input, pred, truth)
	pal := moreland.SmoothBlueRed().Palette(255)

	titles := []string{"input", "predicted", fmt.Sprintf("actual (t=%.4g)", t)}
	fields := [][]float32{input, pred, truth}
	plots := [][]*plot.Plot{make([]*plot.Plot, len(fields))}
	for i, field := range fields {
		p := plot.New()
		p.Title.Text = titles[i]
		p.X.Label.Text = "x"
		p.Y.Label.Text = "y"
		hm := plotter.NewHeatMap(fieldGrid{cols: hw.cols, rows: hw.rows, vals: field, width: hw.width}, pal)
		hm.Min = lo
		hm.Max = hi
		p.Add(hm)
		plots[0][i] = p
	}

	img := vgimg.New(12*vg.Inch, 4*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 1, Cols: len(fields), PadX: 2 * vg.Millimeter, PadY: 2 * vg.Millimeter}
	canvases := plot.Align(plots, tiles, dc)
	for i := range plots[0] {
		plots[0][i].Draw(canvases[0][i])
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// rangeOf finds the shared value range so the triptych panels use one color
// scale.
func rangeOf(fields ...[]float32) (lo, hi float64) {
	lo = math.Inf(1)
	hi = math.Inf(-1)
	for _, field := range fields {
		for _, v := range field {
			fv := float64(v)
			if fv < lo {
				lo = fv
			}
			if fv > hi {
				hi = fv
			}
		}
	}
	if lo >= hi { // constant fields still need a nonempty range
		lo--
		hi++
	}
	return lo, hi
}

// fieldGrid adapts one flat row-major field to plotter's GridXYZ.
type fieldGrid struct {
	cols, rows []float64
	vals       []float32
	width      int
}

func (g fieldGrid) Dims() (c, r int)   { return len(g.cols), len(g.rows) }
func (g fieldGrid) Z(c, r int) float64 { return float64(g.vals[r*g.width+c]) }
func (g fieldGrid) X(c int) float64    { return g.cols[c] }
func (g fieldGrid) Y(r int) float64    { return g.rows[r] }
