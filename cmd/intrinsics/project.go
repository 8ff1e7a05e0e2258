package main

import (
	"fmt"
	"io"
	"log"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/l1points"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/monitor"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/rangeimage"
)

func runProject(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("project", stderr)
	in := fs.String("in", "", "Point cloud file")
	format := fs.String("format", "", "Point cloud format: kitti or asc (default: by extension)")
	intrPath := fs.String("intrinsics", "", "Intrinsics JSON file")
	configPath := fs.String("config", "", "Tuning config file (projection_angle_tolerance)")
	out := fs.String("out", "", "Range image output file")
	png := fs.String("png", "", "Also render the image as PNG")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *in == "" || *intrPath == "" || *out == "" {
		fmt.Fprintln(stderr, "project: -in, -intrinsics and -out are required")
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
	intr, err := lidar.IntrinsicsFromJSONFile(*intrPath)
	if err != nil {
		return err
	}
	points, err := l1points.ReadFile(*in, f)
	if err != nil {
		return fmt.Errorf("read %s: %w", *in, err)
	}

	img := rangeimage.ProjectWithTolerance(intr, points, tuning.GetProjectionAngleTolerance())
	if err := rangeimage.WriteBinaryFile(*out, img); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%dx%d image, coverage %.1f%%, %d points dropped\n",
		img.Width, img.Height, 100*img.Coverage(), img.Dropped)

	if *png != "" {
		if err := monitor.PlotRangeImage(img, *png); err != nil {
			return err
		}
		log.Printf("wrote %s", *png)
	}
	return nil
}

func runUnproject(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("unproject", stderr)
	imagePath := fs.String("image", "", "Range image file written by project")
	intrPath := fs.String("intrinsics", "", "Intrinsics JSON file")
	out := fs.String("out", "", "Point cloud output file (.asc or .bin)")
	format := fs.String("format", "", "Output format: kitti or asc (default: by extension)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *imagePath == "" || *intrPath == "" || *out == "" {
		fmt.Fprintln(stderr, "unproject: -image, -intrinsics and -out are required")
		fs.Usage()
		return errUsage
	}

	f, err := l1points.ParseFormat(*format)
	if err != nil {
		return err
	}
	intr, err := lidar.IntrinsicsFromJSONFile(*intrPath)
	if err != nil {
		return err
	}
	img, err := rangeimage.ReadBinaryFile(*imagePath)
	if err != nil {
		return err
	}
	if img.Height != len(intr.Scanlines) {
		return fmt.Errorf("image has %d rows but intrinsics has %d scanlines", img.Height, len(intr.Scanlines))
	}

	points := lidar.UnprojectToPointCloud(img, intr)
	if err := l1points.WriteFile(*out, f, points); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d points written to %s\n", len(points), *out)
	return nil
}
