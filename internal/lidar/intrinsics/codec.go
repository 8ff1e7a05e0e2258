package intrinsics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Wire types use pointer fields so that a missing key can be told apart
// from a zero value. Decoding never substitutes defaults.

type wireInterval struct {
	Lower *float64 `json:"lower"`
	Upper *float64 `json:"upper"`
}

type wireValueCI struct {
	Value *float64      `json:"value"`
	CI    *wireInterval `json:"ci"`
}

type wireBounds struct {
	Bottom *wireValueCI `json:"bottom"`
	Top    *wireValueCI `json:"top"`
}

type wireScanline struct {
	ID                   *int            `json:"id"`
	DiscoveryIndex       *int            `json:"discovery_index"`
	VerticalOffset       *wireValueCI    `json:"vertical_offset"`
	VerticalAngle        *wireValueCI    `json:"vertical_angle"`
	AngleBounds          *wireBounds     `json:"angle_bounds"`
	HorizontalResolution *float64        `json:"horizontal_resolution"`
	HorizontalOffset     *float64        `json:"horizontal_offset"`
	ColumnsPerTurn       *int            `json:"columns_per_turn"`
	VerticalHeuristic    *bool           `json:"vertical_heuristic"`
	HorizontalHeuristic  *bool           `json:"horizontal_heuristic"`
	Uncertainty          json.RawMessage `json:"uncertainty"`
	HoughVotes           *int64          `json:"hough_votes"`
	HoughHash            *uint64         `json:"hough_hash"`
	LastScanline         *bool           `json:"last_scanline"`
	PointsCount          *int            `json:"points_count"`
}

type wireIntrinsics struct {
	PointsCount        *int           `json:"points_count"`
	DroppedPoints      *int           `json:"dropped_points"`
	ScanlinesCount     *int           `json:"scanlines_count"`
	VerticalIterations *int           `json:"vertical_iterations"`
	UnassignedPoints   *int           `json:"unassigned_points"`
	EndReason          *string        `json:"end_reason"`
	Scanlines          []wireScanline `json:"scanlines"`
}

// ToJSON encodes the model. Rejected uncertainties are written as null.
func ToJSON(in *Intrinsics, indent bool) ([]byte, error) {
	if in == nil {
		return nil, Errorf(SerializationError, "nil intrinsics")
	}
	w := wireIntrinsics{
		PointsCount:        &in.PointsCount,
		DroppedPoints:      &in.DroppedPoints,
		ScanlinesCount:     &in.ScanlinesCount,
		VerticalIterations: &in.VerticalIterations,
		UnassignedPoints:   &in.UnassignedPoints,
		Scanlines:          make([]wireScanline, len(in.Scanlines)),
	}
	reason := in.EndReason.String()
	w.EndReason = &reason

	for i := range in.Scanlines {
		ws, err := encodeScanline(&in.Scanlines[i])
		if err != nil {
			return nil, Errorf(SerializationError, "scanline %d: %w", i, err)
		}
		w.Scanlines[i] = ws
	}

	var (
		data []byte
		err  error
	)
	if indent {
		data, err = json.MarshalIndent(w, "", "  ")
	} else {
		data, err = json.Marshal(w)
	}
	if err != nil {
		return nil, Errorf(SerializationError, "encode intrinsics: %w", err)
	}
	return data, nil
}

func encodeScanline(s *Scanline) (wireScanline, error) {
	unc := json.RawMessage("null")
	if v, ok := s.Uncertainty.Value(); ok {
		b, err := json.Marshal(v)
		if err != nil {
			return wireScanline{}, fmt.Errorf("uncertainty: %w", err)
		}
		unc = b
	}
	return wireScanline{
		ID:             &s.ID,
		DiscoveryIndex: &s.DiscoveryIndex,
		VerticalOffset: encodeValueCI(s.VerticalOffset),
		VerticalAngle:  encodeValueCI(s.VerticalAngle),
		AngleBounds: &wireBounds{
			Bottom: encodeValueCI(s.AngleBounds.Bottom),
			Top:    encodeValueCI(s.AngleBounds.Top),
		},
		HorizontalResolution: &s.HorizontalResolution,
		HorizontalOffset:     &s.HorizontalOffset,
		ColumnsPerTurn:       &s.ColumnsPerTurn,
		VerticalHeuristic:    &s.VerticalHeuristic,
		HorizontalHeuristic:  &s.HorizontalHeuristic,
		Uncertainty:          unc,
		HoughVotes:           &s.HoughVotes,
		HoughHash:            &s.HoughHash,
		LastScanline:         &s.LastScanline,
		PointsCount:          &s.PointsCount,
	}, nil
}

func encodeValueCI(v ValueConfInterval) *wireValueCI {
	return &wireValueCI{
		Value: &v.Value,
		CI:    &wireInterval{Lower: &v.CI.Lower, Upper: &v.CI.Upper},
	}
}

// FromJSON decodes a model written by ToJSON. Any missing field, wrong type,
// unknown end reason or inconsistent count yields a SerializationError.
func FromJSON(data []byte) (*Intrinsics, error) {
	var w wireIntrinsics
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		return nil, Errorf(SerializationError, "decode intrinsics: %w", err)
	}
	if dec.More() {
		return nil, Errorf(SerializationError, "trailing data after intrinsics object")
	}

	d := &fieldDecoder{}
	in := &Intrinsics{
		PointsCount:        need(d, "points_count", w.PointsCount),
		DroppedPoints:      need(d, "dropped_points", w.DroppedPoints),
		ScanlinesCount:     need(d, "scanlines_count", w.ScanlinesCount),
		VerticalIterations: need(d, "vertical_iterations", w.VerticalIterations),
		UnassignedPoints:   need(d, "unassigned_points", w.UnassignedPoints),
	}
	if name := need(d, "end_reason", w.EndReason); d.err == nil {
		r, err := ParseEndReason(name)
		if err != nil {
			return nil, Errorf(SerializationError, "%w", err)
		}
		in.EndReason = r
	}
	if w.Scanlines == nil {
		d.fail("scanlines")
	}
	if d.err != nil {
		return nil, d.err
	}

	in.Scanlines = make([]Scanline, len(w.Scanlines))
	for i := range w.Scanlines {
		d.prefix = fmt.Sprintf("scanlines[%d].", i)
		in.Scanlines[i] = decodeScanline(d, &w.Scanlines[i])
		if d.err != nil {
			return nil, d.err
		}
	}

	if err := in.Validate(); err != nil {
		return nil, Errorf(SerializationError, "%w", err)
	}
	return in, nil
}

func decodeScanline(d *fieldDecoder, w *wireScanline) Scanline {
	s := Scanline{
		ID:                   need(d, "id", w.ID),
		DiscoveryIndex:       need(d, "discovery_index", w.DiscoveryIndex),
		VerticalOffset:       decodeValueCI(d, "vertical_offset", w.VerticalOffset),
		VerticalAngle:        decodeValueCI(d, "vertical_angle", w.VerticalAngle),
		HorizontalResolution: need(d, "horizontal_resolution", w.HorizontalResolution),
		HorizontalOffset:     need(d, "horizontal_offset", w.HorizontalOffset),
		ColumnsPerTurn:       need(d, "columns_per_turn", w.ColumnsPerTurn),
		VerticalHeuristic:    need(d, "vertical_heuristic", w.VerticalHeuristic),
		HorizontalHeuristic:  need(d, "horizontal_heuristic", w.HorizontalHeuristic),
		HoughVotes:           need(d, "hough_votes", w.HoughVotes),
		HoughHash:            need(d, "hough_hash", w.HoughHash),
		LastScanline:         need(d, "last_scanline", w.LastScanline),
		PointsCount:          need(d, "points_count", w.PointsCount),
	}
	if w.AngleBounds == nil {
		d.fail("angle_bounds")
	} else {
		s.AngleBounds.Bottom = decodeValueCI(d, "angle_bounds.bottom", w.AngleBounds.Bottom)
		s.AngleBounds.Top = decodeValueCI(d, "angle_bounds.top", w.AngleBounds.Top)
	}

	switch raw := bytes.TrimSpace(w.Uncertainty); {
	case len(raw) == 0:
		d.fail("uncertainty")
	case bytes.Equal(raw, []byte("null")):
		s.Uncertainty = Rejected()
	default:
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			d.setErr(Errorf(SerializationError, "field %suncertainty: %w", d.prefix, err))
		} else {
			s.Uncertainty = Accepted(v)
		}
	}
	return s
}

func decodeValueCI(d *fieldDecoder, name string, w *wireValueCI) ValueConfInterval {
	if w == nil {
		d.fail(name)
		return ValueConfInterval{}
	}
	v := ValueConfInterval{Value: need(d, name+".value", w.Value)}
	if w.CI == nil {
		d.fail(name + ".ci")
		return v
	}
	v.CI.Lower = need(d, name+".ci.lower", w.CI.Lower)
	v.CI.Upper = need(d, name+".ci.upper", w.CI.Upper)
	return v
}

// fieldDecoder remembers the first missing field.
type fieldDecoder struct {
	prefix string
	err    error
}

func (d *fieldDecoder) fail(name string) {
	d.setErr(Errorf(SerializationError, "missing required field %s%s", d.prefix, name))
}

func (d *fieldDecoder) setErr(err error) {
	if d.err == nil {
		d.err = err
	}
}

func need[T any](d *fieldDecoder, name string, p *T) T {
	var zero T
	if p == nil {
		d.fail(name)
		return zero
	}
	return *p
}

// ToJSONFile writes the model to path, creating parent directories.
func ToJSONFile(in *Intrinsics, path string, indent bool) error {
	data, err := ToJSON(in, indent)
	if err != nil {
		return err
	}
	clean := filepath.Clean(path)
	if dir := filepath.Dir(clean); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return Errorf(SerializationError, "create directory: %w", err)
		}
	}
	if err := os.WriteFile(clean, data, 0644); err != nil {
		return Errorf(SerializationError, "write %s: %w", clean, err)
	}
	return nil
}

// FromJSONFile reads a model written by ToJSONFile.
func FromJSONFile(path string) (*Intrinsics, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, Errorf(SerializationError, "read %s: %w", path, err)
	}
	return FromJSON(data)
}
