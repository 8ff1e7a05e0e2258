package rangeimage

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// formatVersion is bumped whenever wireImage changes incompatibly.
const formatVersion = 1

type wireImage struct {
	Version     int
	Width       int
	Height      int
	Ranges      []float64
	Intensities []float32
	Dropped     int
}

// WriteBinary writes img as a gzip-compressed gob stream.
func WriteBinary(w io.Writer, img *RangeImage) error {
	if err := img.Validate(); err != nil {
		return err
	}
	gz := gzip.NewWriter(w)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(wireImage{
		Version:     formatVersion,
		Width:       img.Width,
		Height:      img.Height,
		Ranges:      img.Ranges,
		Intensities: img.Intensities,
		Dropped:     img.Dropped,
	}); err != nil {
		gz.Close()
		return fmt.Errorf("failed to encode range image: %w", err)
	}
	return gz.Close()
}

// ReadBinary decodes an image written by WriteBinary.
func ReadBinary(r io.Reader) (*RangeImage, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var w wireImage
	if err := gob.NewDecoder(gz).Decode(&w); err != nil {
		return nil, fmt.Errorf("failed to decode range image: %w", err)
	}
	if w.Version != formatVersion {
		return nil, fmt.Errorf("unsupported range image version %d", w.Version)
	}
	img := &RangeImage{
		Width:       w.Width,
		Height:      w.Height,
		Ranges:      w.Ranges,
		Intensities: w.Intensities,
		Dropped:     w.Dropped,
	}
	if img.Ranges == nil {
		img.Ranges = []float64{}
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// WriteBinaryFile writes img to path, creating parent directories.
func WriteBinaryFile(path string, img *RangeImage) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteBinary(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadBinaryFile reads an image written by WriteBinaryFile.
func ReadBinaryFile(path string) (*RangeImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadBinary(f)
}
