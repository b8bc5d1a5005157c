package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hiroaki404/trip-ai/internal/plan"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Status of an archived run.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one archived planning run.
type Run struct {
	ID                   string        `json:"id"`
	CreatedAt            time.Time     `json:"created_at"`
	Input                string        `json:"input"`
	Requirements         string        `json:"requirements,omitempty"`
	Summary              string        `json:"summary,omitempty"`
	PlanJSON             string        `json:"plan_json,omitempty"`
	Booking              string        `json:"booking,omitempty"`
	Revisions            int           `json:"revisions"`
	RevisionLimitReached bool          `json:"revision_limit_reached,omitempty"`
	Status               string        `json:"status"`
	Error                string        `json:"error,omitempty"`
	Duration             time.Duration `json:"duration"`
}

// Plan decodes the archived plan.
func (r Run) Plan() (plan.TripPlan, error) {
	if r.PlanJSON == "" {
		return plan.TripPlan{}, fmt.Errorf("run %s has no plan", r.ID)
	}
	return plan.Parse([]byte(r.PlanJSON))
}

// Save inserts or replaces r.
func (s *Store) Save(ctx context.Context, r Run) error {
	if r.ID == "" {
		return errors.New("run id is required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = StatusCompleted
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, created_at, input, requirements, summary, plan_json, booking,
		                             revisions, revision_limit_reached, status, error_msg, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.CreatedAt.UTC(), r.Input, r.Requirements, r.Summary, r.PlanJSON, r.Booking,
		r.Revisions, r.RevisionLimitReached, r.Status, r.Error, r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

const runColumns = `id, created_at, input, requirements, summary, plan_json, booking,
	revisions, revision_limit_reached, status, error_msg, duration_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var ms int64
	err := row.Scan(&r.ID, &r.CreatedAt, &r.Input, &r.Requirements, &r.Summary, &r.PlanJSON,
		&r.Booking, &r.Revisions, &r.RevisionLimitReached, &r.Status, &r.Error, &ms)
	r.Duration = time.Duration(ms) * time.Millisecond
	return r, err
}

// Get returns the run with id.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// List returns the most recent runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
