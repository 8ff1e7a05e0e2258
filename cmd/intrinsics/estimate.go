package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path/filepath"

	"github.com/banshee-data/lidar-intrinsics/internal/config"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/debug"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/l1points"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/monitor"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/storage/sqlite"
	"github.com/banshee-data/lidar-intrinsics/internal/monitoring"
)

type estimateOptions struct {
	in, format, configPath, out string
	traceDir, plotsDir, report  string
	dbPath, label               string
	verbose                     bool
}

func (o *estimateOptions) detailed() bool {
	return o.traceDir != "" || o.plotsDir != "" || o.report != ""
}

func runEstimate(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var o estimateOptions
	fs := newFlagSet("estimate", stderr)
	fs.StringVar(&o.in, "in", "", "Point cloud file (.bin KITTI or ASC text)")
	fs.StringVar(&o.format, "format", "", "Point cloud format: kitti or asc (default: by extension)")
	fs.StringVar(&o.configPath, "config", "", "Tuning config file (.json, .yaml)")
	fs.StringVar(&o.out, "out", "", "Write intrinsics JSON here instead of stdout")
	fs.StringVar(&o.traceDir, "trace", "", "Write per-iteration debug arrays under this directory")
	fs.StringVar(&o.plotsDir, "plots", "", "Write per-iteration PNG plots under this directory")
	fs.StringVar(&o.report, "report", "", "Write an HTML report to this file")
	fs.StringVar(&o.dbPath, "db", "", "Store the result in this experiment database")
	fs.StringVar(&o.label, "label", "estimate", "Experiment label used with -db")
	fs.BoolVar(&o.verbose, "v", false, "Log every iteration")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if o.in == "" {
		fmt.Fprintln(stderr, "estimate: -in is required")
		fs.Usage()
		return errUsage
	}
	monitoring.SetVerbose(o.verbose)
	defer monitoring.SetVerbose(false)

	format, err := l1points.ParseFormat(o.format)
	if err != nil {
		return err
	}
	tuning, err := loadTuning(o.configPath)
	if err != nil {
		return err
	}
	points, err := l1points.ReadFile(o.in, format)
	if err != nil {
		return fmt.Errorf("read %s: %w", o.in, err)
	}
	cfg := lidar.EstimatorConfigFromTuning(tuning)

	var (
		intr     *lidar.Intrinsics
		detailed *lidar.IntrinsicsDetailed
	)
	if o.detailed() {
		detailed, err = lidar.EstimateIntrinsicsDetailed(ctx, points, cfg)
		if detailed != nil {
			intr = detailed.Intrinsics
		}
	} else {
		intr, err = lidar.EstimateIntrinsics(ctx, points, cfg)
	}
	if err != nil {
		return err
	}
	log.Printf("%s: %d scanlines (%d accepted), %d/%d points unassigned, %d iterations, %s",
		filepath.Base(o.in), intr.ScanlinesCount, intr.AcceptedCount(), intr.UnassignedPoints,
		intr.PointsCount, intr.VerticalIterations, intr.EndReason)

	if o.out != "" {
		if err := lidar.IntrinsicsToJSONFile(intr, o.out); err != nil {
			return err
		}
	} else {
		s, err := lidar.IntrinsicsToJSONString(intr)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, s)
	}

	if detailed != nil {
		if err := writeDiagnostics(&o, detailed); err != nil {
			return err
		}
	}
	if o.dbPath != "" {
		return storeSingle(o.dbPath, o.label, o.in, tuning, intr)
	}
	return nil
}

func writeDiagnostics(o *estimateOptions, d *lidar.IntrinsicsDetailed) error {
	if o.traceDir != "" {
		if err := debug.WriteAll(o.traceDir, d.Iterations); err != nil {
			return fmt.Errorf("write traces: %w", err)
		}
		log.Printf("wrote %d iteration traces to %s", len(d.Iterations), o.traceDir)
	}
	if o.plotsDir != "" {
		n, err := monitor.WriteIterationPlots(o.plotsDir, d.Iterations)
		if err != nil {
			return fmt.Errorf("write plots: %w", err)
		}
		if len(d.Iterations) > 0 {
			first := &d.Iterations[0]
			path := filepath.Join(o.plotsDir, "assignment.png")
			if err := monitor.PlotAssignment(first.Ranges, first.Phis, d.PointScanlines, len(d.Intrinsics.Scanlines), path); err != nil {
				return fmt.Errorf("write plots: %w", err)
			}
			n++
		}
		log.Printf("wrote %d plots to %s", n, o.plotsDir)
	}
	if o.report != "" {
		title := filepath.Base(o.in)
		if err := monitor.WriteReport(o.report, d.Intrinsics, d.Iterations, title); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	return nil
}

func storeSingle(dbPath, label, source string, tuning *config.TuningConfig, intr *lidar.Intrinsics) error {
	db, err := sqlite.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	cfgJSON, err := json.Marshal(tuning)
	if err != nil {
		return err
	}
	store := sqlite.NewExperimentStore(db.DB)
	exp := &sqlite.Experiment{Label: label, ConfigJSON: cfgJSON}
	if err := store.InsertExperiment(exp); err != nil {
		return fmt.Errorf("insert experiment: %w", err)
	}
	res := &sqlite.FrameResult{ExperimentID: exp.ExperimentID, Source: source}
	if err := store.SaveFrameResult(res, intr); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	log.Printf("stored result %s in experiment %s", res.ResultID, exp.ExperimentID)
	return nil
}
