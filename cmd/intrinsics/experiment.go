package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"runtime"
	"sort"
	"sync"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/l1points"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/storage/sqlite"
	"github.com/banshee-data/lidar-intrinsics/internal/timeutil"
)

func runExperiment(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("experiment", stderr)
	dbPath := fs.String("db", "", "Experiment database")
	label := fs.String("label", "", "Experiment label")
	format := fs.String("format", "", "Point cloud format: kitti or asc (default: by extension)")
	configPath := fs.String("config", "", "Tuning config file (.json, .yaml)")
	workers := fs.Int("workers", runtime.NumCPU(), "Frames estimated in parallel")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	frames := fs.Args()
	if *dbPath == "" || *label == "" || len(frames) == 0 {
		fmt.Fprintln(stderr, "experiment: -db, -label and at least one frame are required")
		fs.Usage()
		return errUsage
	}

	f, err := l1points.ParseFormat(*format)
	if err != nil {
		return err
	}
	tuning, err := loadTuning(*configPath)
	if err != nil {
		return err
	}
	cfgJSON, err := json.Marshal(tuning)
	if err != nil {
		return err
	}

	db, err := sqlite.Open(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	store := sqlite.NewExperimentStore(db.DB)

	exp := &sqlite.Experiment{Label: *label, ConfigJSON: cfgJSON}
	if err := store.InsertExperiment(exp); err != nil {
		return fmt.Errorf("insert experiment: %w", err)
	}

	r := &experimentRunner{
		store:   store,
		cfg:     lidar.EstimatorConfigFromTuning(tuning),
		format:  f,
		workers: *workers,
		clock:   timeutil.RealClock{},
	}
	if err := r.run(ctx, exp.ExperimentID, frames); err != nil {
		return err
	}

	sum, err := store.Summarise(exp.ExperimentID)
	if err != nil {
		return err
	}
	printSummary(stdout, exp, sum)
	return nil
}

// experimentRunner estimates frames on a bounded pool of workers and stores
// one result per frame. A frame that fails is stored with its error code;
// only storage failures abort the run.
type experimentRunner struct {
	store   *sqlite.ExperimentStore
	cfg     lidar.EstimatorConfig
	format  l1points.Format
	workers int
	clock   timeutil.Clock
}

func (r *experimentRunner) run(ctx context.Context, experimentID string, frames []string) error {
	workers := r.workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(frames) {
		workers = len(frames)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan string)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				if err := r.processFrame(ctx, experimentID, path); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
						cancel()
					}
					mu.Unlock()
				}
			}
		}()
	}

feed:
	for _, path := range frames {
		select {
		case jobs <- path:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func (r *experimentRunner) processFrame(ctx context.Context, experimentID, path string) error {
	res := &sqlite.FrameResult{ExperimentID: experimentID, Source: path}
	start := r.clock.Now()

	var intr *lidar.Intrinsics
	code := lidar.InvalidInput
	points, err := l1points.ReadFile(path, r.format)
	if err == nil {
		intr, err = lidar.EstimateIntrinsics(ctx, points, r.cfg)
		code = lidar.CodeOf(err)
	}
	res.DurationNs = r.clock.Since(start).Nanoseconds()

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res.ErrorCode = code.String()
		res.ErrorMessage = err.Error()
		log.Printf("%s: %v", path, err)
	}
	if err := r.store.SaveFrameResult(res, intr); err != nil {
		return fmt.Errorf("save result for %s: %w", path, err)
	}
	return nil
}

func printSummary(w io.Writer, exp *sqlite.Experiment, sum *sqlite.ExperimentSummary) {
	fmt.Fprintf(w, "=== Experiment %s (%s) ===\n", exp.Label, exp.ExperimentID)
	fmt.Fprintf(w, "Frames: %d (failed: %d)\n", sum.Frames, sum.Failed)
	fmt.Fprintf(w, "Mean scanlines: %.2f (accepted: %.2f)\n", sum.MeanScanlines, sum.MeanAccepted)
	fmt.Fprintf(w, "Mean unassigned points: %.2f\n", sum.MeanUnassigned)
	fmt.Fprintf(w, "Mean duration: %.1f ms\n", sum.MeanDurationMs)

	reasons := make([]string, 0, len(sum.EndReasonCounts))
	for k := range sum.EndReasonCounts {
		reasons = append(reasons, k)
	}
	sort.Strings(reasons)
	for _, k := range reasons {
		fmt.Fprintf(w, "  %s: %d\n", k, sum.EndReasonCounts[k])
	}
}
