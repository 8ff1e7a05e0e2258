package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar/intrinsics"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Experiment groups the frames estimated with one configuration.
type Experiment struct {
	ExperimentID string          `json:"experiment_id"`
	Label        string          `json:"label"`
	ConfigJSON   json.RawMessage `json:"config_json,omitempty"`
	CreatedAt    int64           `json:"created_at"`
}

// FrameResult is the outcome of estimating one frame.
type FrameResult struct {
	ResultID           string `json:"result_id"`
	ExperimentID       string `json:"experiment_id"`
	Source             string `json:"source"`
	PointsCount        int    `json:"points_count"`
	DroppedPoints      int    `json:"dropped_points"`
	ScanlinesCount     int    `json:"scanlines_count"`
	AcceptedCount      int    `json:"accepted_count"`
	UnassignedPoints   int    `json:"unassigned_points"`
	VerticalIterations int    `json:"vertical_iterations"`
	EndReason          string `json:"end_reason,omitempty"`
	ErrorCode          string `json:"error_code"`
	ErrorMessage       string `json:"error_message,omitempty"`
	DurationNs         int64  `json:"duration_ns"`
	CreatedAt          int64  `json:"created_at"`
}

// Failed reports whether the frame ended with an error code.
func (r *FrameResult) Failed() bool { return r.ErrorCode != intrinsics.None.String() }

// ExperimentSummary aggregates the frame results of an experiment.
type ExperimentSummary struct {
	Frames          int
	Failed          int
	MeanScanlines   float64
	MeanAccepted    float64
	MeanUnassigned  float64
	MeanDurationMs  float64
	EndReasonCounts map[string]int
}

// ExperimentStore provides persistence for experiments and their results.
type ExperimentStore struct {
	db *sql.DB
}

// NewExperimentStore creates a new ExperimentStore.
func NewExperimentStore(db *sql.DB) *ExperimentStore {
	return &ExperimentStore{db: db}
}

// InsertExperiment persists exp. If ExperimentID is empty, a UUID is generated.
func (s *ExperimentStore) InsertExperiment(exp *Experiment) error {
	if exp.ExperimentID == "" {
		exp.ExperimentID = uuid.New().String()
	}
	if exp.CreatedAt == 0 {
		exp.CreatedAt = time.Now().UnixNano()
	}
	var cfg interface{}
	if len(exp.ConfigJSON) > 0 {
		cfg = string(exp.ConfigJSON)
	}
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO experiment (experiment_id, label, config_json, created_at)
			VALUES (?, ?, ?, ?)`,
			exp.ExperimentID, exp.Label, cfg, exp.CreatedAt,
		)
		return err
	})
}

// GetExperiment returns the experiment with the given ID.
func (s *ExperimentStore) GetExperiment(id string) (*Experiment, error) {
	var exp Experiment
	var cfg sql.NullString
	err := s.db.QueryRow(`
		SELECT experiment_id, label, config_json, created_at
		FROM experiment WHERE experiment_id = ?`, id,
	).Scan(&exp.ExperimentID, &exp.Label, &cfg, &exp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("experiment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Valid {
		exp.ConfigJSON = json.RawMessage(cfg.String)
	}
	return &exp, nil
}

// ListExperiments returns every experiment, newest first.
func (s *ExperimentStore) ListExperiments() ([]*Experiment, error) {
	rows, err := s.db.Query(`
		SELECT experiment_id, label, config_json, created_at
		FROM experiment ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Experiment
	for rows.Next() {
		var exp Experiment
		var cfg sql.NullString
		if err := rows.Scan(&exp.ExperimentID, &exp.Label, &cfg, &exp.CreatedAt); err != nil {
			return nil, err
		}
		if cfg.Valid {
			exp.ConfigJSON = json.RawMessage(cfg.String)
		}
		out = append(out, &exp)
	}
	return out, rows.Err()
}

// SaveFrameResult stores res and, when intr is non-nil, the intrinsics
// document and one row per scanline, in a single transaction. The summary
// counters of res are filled from intr.
func (s *ExperimentStore) SaveFrameResult(res *FrameResult, intr *intrinsics.Intrinsics) error {
	if res.ExperimentID == "" {
		return fmt.Errorf("save frame result: missing experiment id")
	}
	if res.ResultID == "" {
		res.ResultID = uuid.New().String()
	}
	if res.CreatedAt == 0 {
		res.CreatedAt = time.Now().UnixNano()
	}
	if res.ErrorCode == "" {
		res.ErrorCode = intrinsics.None.String()
	}

	var doc interface{}
	if intr != nil {
		data, err := intrinsics.ToJSON(intr, false)
		if err != nil {
			return fmt.Errorf("save frame result: %w", err)
		}
		doc = string(data)
		res.PointsCount = intr.PointsCount
		res.DroppedPoints = intr.DroppedPoints
		res.ScanlinesCount = intr.ScanlinesCount
		res.AcceptedCount = intr.AcceptedCount()
		res.UnassignedPoints = intr.UnassignedPoints
		res.VerticalIterations = intr.VerticalIterations
		res.EndReason = intr.EndReason.String()
	}

	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			INSERT INTO frame_result (
				result_id, experiment_id, source, points_count, dropped_points,
				scanlines_count, accepted_count, unassigned_points, vertical_iterations,
				end_reason, error_code, error_message, duration_ns, intrinsics_json, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			res.ResultID, res.ExperimentID, res.Source, res.PointsCount, res.DroppedPoints,
			res.ScanlinesCount, res.AcceptedCount, res.UnassignedPoints, res.VerticalIterations,
			nullString(res.EndReason), res.ErrorCode, nullString(res.ErrorMessage), res.DurationNs, doc, res.CreatedAt,
		)
		if err != nil {
			return err
		}

		if intr != nil {
			stmt, err := tx.Prepare(`
				INSERT INTO scanline (
					result_id, row_id, discovery_index, vertical_offset, vertical_angle,
					offset_ci_width, angle_ci_width, horizontal_resolution, horizontal_offset,
					columns_per_turn, uncertainty, vertical_heuristic, horizontal_heuristic,
					hough_votes, points_count
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for i := range intr.Scanlines {
				sl := &intr.Scanlines[i]
				var unc interface{}
				if v, ok := sl.Uncertainty.Value(); ok {
					unc = v
				}
				if _, err := stmt.Exec(
					res.ResultID, sl.ID, sl.DiscoveryIndex, sl.VerticalOffset.Value, sl.VerticalAngle.Value,
					sl.VerticalOffset.CI.Diff(), sl.VerticalAngle.CI.Diff(), sl.HorizontalResolution, sl.HorizontalOffset,
					sl.ColumnsPerTurn, unc, sl.VerticalHeuristic, sl.HorizontalHeuristic,
					sl.HoughVotes, sl.PointsCount,
				); err != nil {
					return err
				}
			}
		}
		return tx.Commit()
	})
}

const frameResultColumns = `
	result_id, experiment_id, source, points_count, dropped_points,
	scanlines_count, accepted_count, unassigned_points, vertical_iterations,
	end_reason, error_code, error_message, duration_ns, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFrameResult(sc rowScanner) (*FrameResult, error) {
	var r FrameResult
	var endReason, msg sql.NullString
	err := sc.Scan(&r.ResultID, &r.ExperimentID, &r.Source, &r.PointsCount, &r.DroppedPoints,
		&r.ScanlinesCount, &r.AcceptedCount, &r.UnassignedPoints, &r.VerticalIterations,
		&endReason, &r.ErrorCode, &msg, &r.DurationNs, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.EndReason = endReason.String
	r.ErrorMessage = msg.String
	return &r, nil
}

// GetFrameResult returns a single frame result.
func (s *ExperimentStore) GetFrameResult(resultID string) (*FrameResult, error) {
	r, err := scanFrameResult(s.db.QueryRow(`SELECT `+frameResultColumns+` FROM frame_result WHERE result_id = ?`, resultID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("frame result %s: %w", resultID, ErrNotFound)
	}
	return r, err
}

// ListFrameResults returns the results of an experiment in insertion order.
func (s *ExperimentStore) ListFrameResults(experimentID string) ([]*FrameResult, error) {
	rows, err := s.db.Query(`SELECT `+frameResultColumns+`
		FROM frame_result WHERE experiment_id = ? ORDER BY created_at, source`, experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*FrameResult
	for rows.Next() {
		r, err := scanFrameResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadIntrinsics decodes the intrinsics stored with a frame result.
func (s *ExperimentStore) LoadIntrinsics(resultID string) (*intrinsics.Intrinsics, error) {
	var doc sql.NullString
	err := s.db.QueryRow(`SELECT intrinsics_json FROM frame_result WHERE result_id = ?`, resultID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("frame result %s: %w", resultID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !doc.Valid {
		return nil, fmt.Errorf("frame result %s has no intrinsics: %w", resultID, ErrNotFound)
	}
	return intrinsics.FromJSON([]byte(doc.String))
}

// ScanlineRow is the queryable projection of one stored scanline.
type ScanlineRow struct {
	RowID                int
	DiscoveryIndex       int
	VerticalOffset       float64
	VerticalAngle        float64
	OffsetCIWidth        float64
	AngleCIWidth         float64
	HorizontalResolution float64
	HorizontalOffset     float64
	ColumnsPerTurn       int
	Uncertainty          sql.NullFloat64
	VerticalHeuristic    bool
	HorizontalHeuristic  bool
	HoughVotes           int64
	PointsCount          int
}

// ListScanlines returns the scanline rows of a frame result ordered by row.
func (s *ExperimentStore) ListScanlines(resultID string) ([]ScanlineRow, error) {
	rows, err := s.db.Query(`
		SELECT row_id, discovery_index, vertical_offset, vertical_angle,
			offset_ci_width, angle_ci_width, horizontal_resolution, horizontal_offset,
			columns_per_turn, uncertainty, vertical_heuristic, horizontal_heuristic,
			hough_votes, points_count
		FROM scanline WHERE result_id = ? ORDER BY row_id`, resultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScanlineRow
	for rows.Next() {
		var r ScanlineRow
		if err := rows.Scan(&r.RowID, &r.DiscoveryIndex, &r.VerticalOffset, &r.VerticalAngle,
			&r.OffsetCIWidth, &r.AngleCIWidth, &r.HorizontalResolution, &r.HorizontalOffset,
			&r.ColumnsPerTurn, &r.Uncertainty, &r.VerticalHeuristic, &r.HorizontalHeuristic,
			&r.HoughVotes, &r.PointsCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summarise aggregates the results of an experiment. Means are taken over
// frames that did not fail.
func (s *ExperimentStore) Summarise(experimentID string) (*ExperimentSummary, error) {
	results, err := s.ListFrameResults(experimentID)
	if err != nil {
		return nil, err
	}
	sum := &ExperimentSummary{Frames: len(results), EndReasonCounts: make(map[string]int)}
	ok := 0
	for _, r := range results {
		if r.Failed() {
			sum.Failed++
			continue
		}
		ok++
		sum.MeanScanlines += float64(r.ScanlinesCount)
		sum.MeanAccepted += float64(r.AcceptedCount)
		sum.MeanUnassigned += float64(r.UnassignedPoints)
		sum.MeanDurationMs += float64(r.DurationNs) / 1e6
		sum.EndReasonCounts[r.EndReason]++
	}
	if ok > 0 {
		n := float64(ok)
		sum.MeanScanlines /= n
		sum.MeanAccepted /= n
		sum.MeanUnassigned /= n
		sum.MeanDurationMs /= n
	}
	return sum, nil
}

// DeleteExperiment removes an experiment with its results and scanlines.
func (s *ExperimentStore) DeleteExperiment(id string) error {
	return retryOnBusy(func() error {
		res, err := s.db.Exec(`DELETE FROM experiment WHERE experiment_id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("experiment %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
