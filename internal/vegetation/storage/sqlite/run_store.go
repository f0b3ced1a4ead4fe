package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcserep/PointCloudTools/internal/timeutil"
	"github.com/mcserep/PointCloudTools/internal/vegetation/pipeline"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("sqlite: run not found")

// Run is a persisted comparison run header.
type Run struct {
	RunID      string           `json:"run_id"`
	EpochA     string           `json:"epoch_a"`
	EpochB     string           `json:"epoch_b"`
	Strategy   string           `json:"strategy"`
	Summary    pipeline.Summary `json:"summary"`
	ParamsJSON json.RawMessage  `json:"params_json,omitempty"`
	CreatedAt  int64            `json:"created_at"`
}

// RunStore persists pipeline reports.
type RunStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewRunStore creates a RunStore over a migrated database.
func NewRunStore(db *sql.DB) *RunStore {
	return NewRunStoreWithClock(db, timeutil.RealClock{})
}

// NewRunStoreWithClock creates a RunStore that timestamps runs and paces
// busy retries with clock.
func NewRunStoreWithClock(db *sql.DB, clock timeutil.Clock) *RunStore {
	return &RunStore{db: db, clock: clock}
}

// Insert stores a report with its matches and unmatched crowns in one
// transaction and returns the generated run ID.
func (s *RunStore) Insert(report *pipeline.Report, params json.RawMessage) (string, error) {
	runID := uuid.New().String()
	createdAt := s.clock.Now().UnixNano()

	var paramsStr interface{}
	if len(params) > 0 {
		paramsStr = string(params)
	}

	err := retryOnBusy(s.clock, func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		sum := report.Summary
		if _, err := tx.Exec(`
			INSERT INTO vegetation_runs (
				run_id, epoch_a, epoch_b, strategy,
				crowns_a, crowns_b, matched, lost, new,
				mean_distance, mean_shift, stddev_shift,
				mean_height_change, stddev_height_change, total_area_change,
				params_json, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, report.EpochA, report.EpochB, report.Strategy,
			sum.CrownsA, sum.CrownsB, sum.Matched, sum.Lost, sum.New,
			sum.MeanDistance, sum.MeanShift, sum.StdDevShift,
			sum.MeanHeightChange, sum.StdDevHeightChange, sum.TotalAreaChange,
			paramsStr, createdAt,
		); err != nil {
			return err
		}

		for _, c := range report.Changes {
			if _, err := tx.Exec(`
				INSERT INTO vegetation_matches (
					run_id, a_index, b_index, distance,
					center_a_x, center_a_y, center_b_x, center_b_y,
					shift, height_a, height_b, height_change, area_a, area_b
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, c.A, c.B, c.Distance,
				c.CenterA.X, c.CenterA.Y, c.CenterB.X, c.CenterB.Y,
				c.Shift, c.HeightA, c.HeightB, c.HeightChange, c.AreaA, c.AreaB,
			); err != nil {
				return err
			}
		}

		for _, side := range []struct {
			epoch  string
			crowns []pipeline.Crown
		}{{"a", report.Lost}, {"b", report.New}} {
			for _, c := range side.crowns {
				if _, err := tx.Exec(`
					INSERT INTO vegetation_unmatched (
						run_id, epoch, cluster_index, center_x, center_y, height, area
					) VALUES (?, ?, ?, ?, ?, ?, ?)`,
					runID, side.epoch, c.Index, c.Center.X, c.Center.Y, c.Height, c.Area,
				); err != nil {
					return err
				}
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return runID, nil
}

const runColumns = `
	run_id, epoch_a, epoch_b, strategy,
	crowns_a, crowns_b, matched, lost, new,
	mean_distance, mean_shift, stddev_shift,
	mean_height_change, stddev_height_change, total_area_change,
	params_json, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r      Run
		params sql.NullString
	)
	sum := &r.Summary
	if err := row.Scan(
		&r.RunID, &r.EpochA, &r.EpochB, &r.Strategy,
		&sum.CrownsA, &sum.CrownsB, &sum.Matched, &sum.Lost, &sum.New,
		&sum.MeanDistance, &sum.MeanShift, &sum.StdDevShift,
		&sum.MeanHeightChange, &sum.StdDevHeightChange, &sum.TotalAreaChange,
		&params, &r.CreatedAt,
	); err != nil {
		return nil, err
	}
	if params.Valid {
		r.ParamsJSON = json.RawMessage(params.String)
	}
	return &r, nil
}

// Get returns the run with the given ID.
func (s *RunStore) Get(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM vegetation_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

// List returns up to limit runs, newest first. A non-positive limit
// returns every run.
func (s *RunStore) List(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM vegetation_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Matches returns the matched crown pairs of a run ordered by A-index.
func (s *RunStore) Matches(runID string) ([]pipeline.Change, error) {
	rows, err := s.db.Query(`
		SELECT a_index, b_index, distance,
			center_a_x, center_a_y, center_b_x, center_b_y,
			shift, height_a, height_b, height_change, area_a, area_b
		FROM vegetation_matches
		WHERE run_id = ?
		ORDER BY a_index, b_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Change
	for rows.Next() {
		var c pipeline.Change
		if err := rows.Scan(&c.A, &c.B, &c.Distance,
			&c.CenterA.X, &c.CenterA.Y, &c.CenterB.X, &c.CenterB.Y,
			&c.Shift, &c.HeightA, &c.HeightB, &c.HeightChange, &c.AreaA, &c.AreaB,
		); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Unmatched returns the lost (epoch A) and new (epoch B) crowns of a run.
func (s *RunStore) Unmatched(runID string) (lost, added []pipeline.Crown, err error) {
	rows, err := s.db.Query(`
		SELECT epoch, cluster_index, center_x, center_y, height, area
		FROM vegetation_unmatched
		WHERE run_id = ?
		ORDER BY epoch, cluster_index`, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query unmatched crowns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			epoch string
			c     pipeline.Crown
		)
		if err := rows.Scan(&epoch, &c.Index, &c.Center.X, &c.Center.Y, &c.Height, &c.Area); err != nil {
			return nil, nil, fmt.Errorf("failed to scan unmatched crown: %w", err)
		}
		if epoch == "a" {
			lost = append(lost, c)
		} else {
			added = append(added, c)
		}
	}
	return lost, added, rows.Err()
}

// Delete removes a run and, through the foreign keys, its rows.
func (s *RunStore) Delete(runID string) error {
	return retryOnBusy(s.clock, func() error {
		res, err := s.db.Exec(`DELETE FROM vegetation_runs WHERE run_id = ?`, runID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil
	})
}
