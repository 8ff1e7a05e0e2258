package l1points

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Format names a point cloud file layout.
type Format string

const (
	FormatKITTI Format = "kitti"
	FormatASC   Format = "asc"
)

// ParseFormat accepts a format name; the empty string selects by extension
// later.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatKITTI, FormatASC:
		return f, nil
	}
	return "", fmt.Errorf("unknown point cloud format %q", s)
}

// DetectFormat picks the format from the file extension: ".bin" is KITTI,
// anything else is ASC text.
func DetectFormat(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".bin") {
		return FormatKITTI
	}
	return FormatASC
}

// ReadFile reads a point cloud. An empty format is detected from path.
func ReadFile(path string, format Format) ([]Point, error) {
	if format == "" {
		format = DetectFormat(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch format {
	case FormatKITTI:
		return ReadKITTI(f)
	case FormatASC:
		return ReadASC(f)
	}
	return nil, fmt.Errorf("unknown point cloud format %q", format)
}

// WriteFile writes a point cloud. An empty format is detected from path.
func WriteFile(path string, format Format, points []Point) error {
	if format == "" {
		format = DetectFormat(path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	switch format {
	case FormatKITTI:
		err = WriteKITTI(f, points)
	case FormatASC:
		err = WriteASC(f, points)
	default:
		err = fmt.Errorf("unknown point cloud format %q", format)
	}
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// kittiRecordSize is four little-endian float32 values: x, y, z, reflectance.
const kittiRecordSize = 16

// ReadKITTI reads a KITTI Velodyne .bin scan.
func ReadKITTI(r io.Reader) ([]Point, error) {
	br := bufio.NewReader(r)
	var (
		points []Point
		rec    [kittiRecordSize]byte
	)
	for {
		_, err := io.ReadFull(br, rec[:])
		if errors.Is(err, io.EOF) {
			return points, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("kitti: truncated record after %d points", len(points))
		}
		if err != nil {
			return nil, fmt.Errorf("kitti: %w", err)
		}
		points = append(points, Point{
			X:         float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[0:4]))),
			Y:         float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[4:8]))),
			Z:         float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[8:12]))),
			Intensity: math.Float32frombits(binary.LittleEndian.Uint32(rec[12:16])),
		})
	}
}

// WriteKITTI writes points in the KITTI .bin layout. Coordinates are
// narrowed to float32.
func WriteKITTI(w io.Writer, points []Point) error {
	bw := bufio.NewWriter(w)
	var rec [kittiRecordSize]byte
	for _, p := range points {
		binary.LittleEndian.PutUint32(rec[0:4], math.Float32bits(float32(p.X)))
		binary.LittleEndian.PutUint32(rec[4:8], math.Float32bits(float32(p.Y)))
		binary.LittleEndian.PutUint32(rec[8:12], math.Float32bits(float32(p.Z)))
		binary.LittleEndian.PutUint32(rec[12:16], math.Float32bits(p.Intensity))
		if _, err := bw.Write(rec[:]); err != nil {
			return fmt.Errorf("kitti: %w", err)
		}
	}
	return bw.Flush()
}

// ReadASC reads whitespace separated "x y z [intensity ...]" lines. Blank
// lines and lines starting with '#' are skipped; extra columns are ignored.
func ReadASC(r io.Reader) ([]Point, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var points []Point
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 3 {
			return nil, fmt.Errorf("asc line %d: expected at least 3 columns, got %d", line, len(fields))
		}
		var xyz [3]float64
		for k := 0; k < 3; k++ {
			v, err := strconv.ParseFloat(fields[k], 64)
			if err != nil {
				return nil, fmt.Errorf("asc line %d: %w", line, err)
			}
			xyz[k] = v
		}
		p := Point{X: xyz[0], Y: xyz[1], Z: xyz[2]}
		if len(fields) > 3 {
			v, err := strconv.ParseFloat(fields[3], 32)
			if err != nil {
				return nil, fmt.Errorf("asc line %d: intensity: %w", line, err)
			}
			p.Intensity = float32(v)
		}
		points = append(points, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("asc: %w", err)
	}
	return points, nil
}

// WriteASC writes points as CloudCompare-compatible ASC text.
func WriteASC(w io.Writer, points []Point) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# Format: X Y Z Intensity\n")
	for _, p := range points {
		fmt.Fprintf(bw, "%s %s %s %s\n",
			strconv.FormatFloat(p.X, 'g', -1, 64),
			strconv.FormatFloat(p.Y, 'g', -1, 64),
			strconv.FormatFloat(p.Z, 'g', -1, 64),
			strconv.FormatFloat(float64(p.Intensity), 'g', -1, 32))
	}
	return bw.Flush()
}
