package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

var ErrRunNotFound = errors.New("research run not found")

// ResearchRun is the persisted summary of one pipeline run. Result holds the
// full report as JSON.
type ResearchRun struct {
	ID               uuid.UUID           `db:"id"`
	Description      string              `db:"description"`
	ReferencePrice   decimal.NullDecimal `db:"reference_price"`
	Status           string              `db:"status"`
	Strategy         string              `db:"strategy"`
	OffersFound      int                 `db:"offers_found"`
	ComparableCount  int                 `db:"comparable_count"`
	MedianPrice      decimal.NullDecimal `db:"median_price"`
	RecommendedPrice decimal.NullDecimal `db:"recommended_price"`
	Errors           []string            `db:"errors"`
	Result           json.RawMessage     `db:"result"`
	StartedAt        time.Time           `db:"started_at"`
	CompletedAt      time.Time           `db:"completed_at"`
}

func (r *ResearchRun) Validate() error {
	if r.ID == uuid.Nil {
		return errors.New("research run id is required")
	}
	if r.Description == "" {
		return errors.New("research run description is required")
	}
	if len(r.Result) == 0 || !json.Valid(r.Result) {
		return errors.New("research run result must be valid JSON")
	}
	return nil
}

type RunRepository struct {
	db *DB
}

// NewRunRepository creates a repository for research runs.
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// InsertWithTx stores run inside tx so it commits together with its outbox event.
func (r *RunRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, run *ResearchRun) error {
	if err := run.Validate(); err != nil {
		return err
	}
	if run.Status == "" {
		run.Status = RunStatusCompleted
	}

	errs, err := json.Marshal(nonNil(run.Errors))
	if err != nil {
		return fmt.Errorf("failed to marshal run errors: %w", err)
	}

	query := `
		INSERT INTO research_run (
			id, description, reference_price, status, strategy,
			offers_found, comparable_count, median_price, recommended_price,
			errors, result, started_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)`

	_, err = tx.Exec(ctx, query,
		run.ID, run.Description, run.ReferencePrice, run.Status, run.Strategy,
		run.OffersFound, run.ComparableCount, run.MedianPrice, run.RecommendedPrice,
		errs, run.Result, run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert research run: %w", err)
	}
	return nil
}

const runColumns = `
	id, description, reference_price, status, strategy,
	offers_found, comparable_count, median_price, recommended_price,
	errors, result, started_at, completed_at`

// Get returns the run with id or ErrRunNotFound.
func (r *RunRepository) Get(ctx context.Context, id uuid.UUID) (*ResearchRun, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM research_run WHERE id = $1`, id)

	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get research run: %w", err)
	}
	return run, nil
}

// ListRecent returns the latest runs first.
func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]*ResearchRun, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM research_run ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list research runs: %w", err)
	}
	defer rows.Close()

	var runs []*ResearchRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan research run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (*ResearchRun, error) {
	run := &ResearchRun{}
	var errs []byte
	err := row.Scan(
		&run.ID, &run.Description, &run.ReferencePrice, &run.Status, &run.Strategy,
		&run.OffersFound, &run.ComparableCount, &run.MedianPrice, &run.RecommendedPrice,
		&errs, &run.Result, &run.StartedAt, &run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &run.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run errors: %w", err)
		}
	}
	return run, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
