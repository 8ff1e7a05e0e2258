package main

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/debug"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/l1points"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/storage/sqlite"
	"github.com/banshee-data/lidar-intrinsics/internal/testutil"
	"github.com/banshee-data/lidar-intrinsics/internal/timeutil"
)

func writeCloud(t *testing.T, dir, name string) string {
	t.Helper()
	spec := testutil.ThreeBeamSpec()
	spec.Resolution = 2 * math.Pi / 1024
	path := filepath.Join(dir, name)
	require.NoError(t, l1points.WriteFile(path, "", testutil.SyntheticCloud(spec)))
	return path
}

func runCmd(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRun_Dispatch(t *testing.T) {
	_, stderr, err := runCmd(t)
	assert.True(t, errors.Is(err, errUsage))
	assert.Contains(t, stderr, "Commands:")

	_, stderr, err = runCmd(t, "bogus")
	assert.True(t, errors.Is(err, errUsage))
	assert.Contains(t, stderr, "Unknown command: bogus")

	stdout, _, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "lidar-intrinsics "))

	stdout, _, err = runCmd(t, "help")
	require.NoError(t, err)
	assert.Contains(t, stdout, "experiment")

	_, _, err = runCmd(t, "estimate")
	assert.True(t, errors.Is(err, errUsage), "-in is required")
	_, _, err = runCmd(t, "estimate", "-nope")
	assert.True(t, errors.Is(err, errUsage))
}

func TestEstimateCommand(t *testing.T) {
	dir := t.TempDir()
	in := writeCloud(t, dir, "frame.asc")
	out := filepath.Join(dir, "intrinsics.json")
	traces := filepath.Join(dir, "trace")
	plots := filepath.Join(dir, "plots")
	report := filepath.Join(dir, "report.html")
	dbPath := filepath.Join(dir, "exp.db")

	_, _, err := runCmd(t, "estimate", "-in", in, "-out", out, "-trace", traces,
		"-plots", plots, "-report", report, "-db", dbPath, "-label", "single")
	require.NoError(t, err)

	intr, err := lidar.IntrinsicsFromJSONFile(out)
	require.NoError(t, err)
	assert.Equal(t, 3, intr.ScanlinesCount)
	assert.Equal(t, lidar.Converged, intr.EndReason)

	for i := 0; i < intr.VerticalIterations; i++ {
		_, err := os.Stat(filepath.Join(debug.IterationDir(traces, i), debug.MetaFile))
		assert.NoError(t, err, "iteration %d", i)
	}
	_, err = os.Stat(filepath.Join(plots, "assignment.png"))
	assert.NoError(t, err)
	_, err = os.Stat(report)
	assert.NoError(t, err)

	db, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	store := sqlite.NewExperimentStore(db.DB)
	exps, err := store.ListExperiments()
	require.NoError(t, err)
	require.Len(t, exps, 1)
	assert.Equal(t, "single", exps[0].Label)

	// JSON goes to stdout without -out.
	stdout, _, err := runCmd(t, "estimate", "-in", in)
	require.NoError(t, err)
	fromStdout, err := lidar.IntrinsicsFromJSONString(stdout)
	require.NoError(t, err)
	assert.Equal(t, intr.ScanlinesCount, fromStdout.ScanlinesCount)
}

func TestEstimateCommand_InvalidInput(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.asc")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0o644))
	_, _, err := runCmd(t, "estimate", "-in", empty)
	require.Error(t, err)
	assert.Equal(t, lidar.InvalidInput, lidar.CodeOf(err))

	_, _, err = runCmd(t, "estimate", "-in", empty, "-format", "pcd")
	assert.Error(t, err)
}

func TestProjectUnprojectCommands(t *testing.T) {
	dir := t.TempDir()
	in := writeCloud(t, dir, "frame.asc")
	intrPath := filepath.Join(dir, "intrinsics.json")
	imgPath := filepath.Join(dir, "image.bin")
	pngPath := filepath.Join(dir, "image.png")
	back := filepath.Join(dir, "back.asc")

	_, _, err := runCmd(t, "estimate", "-in", in, "-out", intrPath)
	require.NoError(t, err)

	stdout, _, err := runCmd(t, "project", "-in", in, "-intrinsics", intrPath, "-out", imgPath, "-png", pngPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "1024x3 image")
	_, err = os.Stat(pngPath)
	assert.NoError(t, err)

	stdout, _, err = runCmd(t, "unproject", "-image", imgPath, "-intrinsics", intrPath, "-out", back)
	require.NoError(t, err)
	assert.Contains(t, stdout, "3000 points")

	pts, err := l1points.ReadFile(back, "")
	require.NoError(t, err)
	assert.Len(t, pts, 3000)

	_, _, err = runCmd(t, "project", "-in", in)
	assert.True(t, errors.Is(err, errUsage))
}

func TestExperimentCommand(t *testing.T) {
	dir := t.TempDir()
	a := writeCloud(t, dir, "a.asc")
	b := writeCloud(t, dir, "b.asc")
	empty := filepath.Join(dir, "empty.asc")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	missing := filepath.Join(dir, "missing.asc")
	dbPath := filepath.Join(dir, "exp.db")

	stdout, _, err := runCmd(t, "experiment", "-db", dbPath, "-label", "batch", "-workers", "3", a, b, empty, missing)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Frames: 4 (failed: 2)")
	assert.Contains(t, stdout, "CONVERGED: 2")

	db, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	store := sqlite.NewExperimentStore(db.DB)
	exps, err := store.ListExperiments()
	require.NoError(t, err)
	require.Len(t, exps, 1)

	results, err := store.ListFrameResults(exps[0].ExperimentID)
	require.NoError(t, err)
	require.Len(t, results, 4)
	codes := map[string]string{}
	for _, r := range results {
		codes[filepath.Base(r.Source)] = r.ErrorCode
	}
	assert.Equal(t, map[string]string{
		"a.asc": "NONE", "b.asc": "NONE", "empty.asc": "INVALID_INPUT", "missing.asc": "INVALID_INPUT",
	}, codes)

	_, _, err = runCmd(t, "experiment", "-db", dbPath)
	assert.True(t, errors.Is(err, errUsage))
}

func TestExperimentRunner_Durations(t *testing.T) {
	dir := t.TempDir()
	frame := writeCloud(t, dir, "a.asc")
	db, err := sqlite.Open(filepath.Join(dir, "exp.db"))
	require.NoError(t, err)
	defer db.Close()
	store := sqlite.NewExperimentStore(db.DB)
	exp := &sqlite.Experiment{Label: "clock"}
	require.NoError(t, store.InsertExperiment(exp))

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	clock.SetStep(5 * time.Millisecond)
	r := &experimentRunner{store: store, cfg: lidar.DefaultEstimatorConfig(), workers: 0, clock: clock}
	require.NoError(t, r.run(context.Background(), exp.ExperimentID, []string{frame}))

	results, err := store.ListFrameResults(exp.ExperimentID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, (5 * time.Millisecond).Nanoseconds(), results[0].DurationNs)
}

func TestExperimentRunner_Cancelled(t *testing.T) {
	dir := t.TempDir()
	frame := writeCloud(t, dir, "a.asc")
	db, err := sqlite.Open(filepath.Join(dir, "exp.db"))
	require.NoError(t, err)
	defer db.Close()
	store := sqlite.NewExperimentStore(db.DB)
	exp := &sqlite.Experiment{Label: "cancel"}
	require.NoError(t, store.InsertExperiment(exp))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &experimentRunner{store: store, cfg: lidar.DefaultEstimatorConfig(), workers: 2, clock: timeutil.RealClock{}}
	err = r.run(ctx, exp.ExperimentID, []string{frame, frame})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "m.db")

	stdout, _, err := runCmd(t, "migrate", "status", "-db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Current version: 0")
	assert.Contains(t, stdout, "Pending migrations")

	stdout, _, err = runCmd(t, "migrate", "up", "-db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Current version: 2")

	stdout, _, err = runCmd(t, "migrate", "down", "-db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Current version: 1")

	_, _, err = runCmd(t, "migrate", "sideways", "-db", dbPath)
	assert.True(t, errors.Is(err, errUsage))
	_, _, err = runCmd(t, "migrate", "up")
	assert.True(t, errors.Is(err, errUsage))
	_, _, err = runCmd(t, "migrate")
	assert.True(t, errors.Is(err, errUsage))
}
