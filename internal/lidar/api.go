package lidar

import (
	"context"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar/intrinsics"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/pipeline"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/rangeimage"
)

// EstimateIntrinsics recovers the scanline model of the sensor that
// produced points. Failures are *Error values; use CodeOf to classify them.
func EstimateIntrinsics(ctx context.Context, points []Point, cfg EstimatorConfig) (*Intrinsics, error) {
	return pipeline.Estimate(ctx, points, cfg)
}

// EstimateIntrinsicsDetailed also returns the iteration traces and the
// scanline of every valid point.
func EstimateIntrinsicsDetailed(ctx context.Context, points []Point, cfg EstimatorConfig) (*IntrinsicsDetailed, error) {
	return pipeline.EstimateDetailed(ctx, points, cfg)
}

// ProjectToRangeImage bins points into a Height x Width image with one row
// per scanline of intr.
func ProjectToRangeImage(points []Point, intr *Intrinsics) *RangeImage {
	return rangeimage.Project(intr, points)
}

// UnprojectToPointCloud converts the populated cells of img back to points.
func UnprojectToPointCloud(img *RangeImage, intr *Intrinsics) []Point {
	return rangeimage.Unproject(intr, img)
}

// IntrinsicsToJSONString encodes intr as indented JSON.
func IntrinsicsToJSONString(intr *Intrinsics) (string, error) {
	data, err := intrinsics.ToJSON(intr, true)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// IntrinsicsFromJSONString decodes a document written by IntrinsicsToJSONString.
func IntrinsicsFromJSONString(s string) (*Intrinsics, error) {
	return intrinsics.FromJSON([]byte(s))
}

// IntrinsicsToJSONFile writes intr to path.
func IntrinsicsToJSONFile(intr *Intrinsics, path string) error {
	return intrinsics.ToJSONFile(intr, path, true)
}

// IntrinsicsFromJSONFile reads intrinsics from path.
func IntrinsicsFromJSONFile(path string) (*Intrinsics, error) {
	return intrinsics.FromJSONFile(path)
}

// ErrorMessage describes an error code.
func ErrorMessage(code ErrorCode) string {
	return intrinsics.ErrorMessage(code)
}
