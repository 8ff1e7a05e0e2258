// Command intrinsics estimates LiDAR scanline intrinsics from point clouds,
// projects clouds to range images and manages the experiment database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/lidar-intrinsics/internal/config"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar"
	"github.com/banshee-data/lidar-intrinsics/internal/version"
)

const program = "lidar-intrinsics"

// errUsage marks a command line error; the usage text has been printed.
var errUsage = errors.New("invalid usage")

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[intrinsics] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			log.Printf("error: %v", err)
		}
		var e *lidar.Error
		if errors.As(err, &e) {
			log.Printf("%s: %s", e.Code, lidar.ErrorMessage(e.Code))
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		printUsage(stderr)
		return errUsage
	}

	command, rest := args[0], args[1:]
	switch command {
	case "estimate":
		return runEstimate(ctx, rest, stdout, stderr)
	case "project":
		return runProject(rest, stdout, stderr)
	case "unproject":
		return runUnproject(rest, stdout, stderr)
	case "experiment":
		return runExperiment(ctx, rest, stdout, stderr)
	case "migrate":
		return runMigrate(rest, stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version.String(program))
		return nil
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		printUsage(stderr)
		return errUsage
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `%s - LiDAR intrinsics estimator

Usage: %s <command> [options]

Commands:
  estimate    Estimate intrinsics from one point cloud
  project     Project a point cloud into a range image
  unproject   Convert a range image back into a point cloud
  experiment  Estimate many frames and store the results
  migrate     Manage the experiment database schema (up, down, status)
  version     Show version
  help        Show this help message

Run '%s <command> -h' for the options of a command.
`, program, program, program)
}

// newFlagSet returns a flag set that reports errors instead of exiting.
func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(program+" "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errUsage
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

// loadTuning reads path, or returns the built-in defaults when path is empty.
func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	cfg, err := config.LoadTuningConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
