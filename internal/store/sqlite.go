package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nvandessel/carbon-oracle/internal/models"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements ExperimentStore on a SQLite database at
// .carbon/experiments.db.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (or creates) the experiment database under projectRoot.
func NewSQLiteStore(projectRoot string) (*SQLiteStore, error) {
	dir, err := EnsureCarbonDir(projectRoot)
	if err != nil {
		return nil, err
	}
	return OpenSQLiteStore(filepath.Join(dir, DBFile))
}

// OpenSQLiteStore opens the database at an explicit path.
func OpenSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.dbPath }

// SaveExperiment inserts or replaces an experiment row.
func (s *SQLiteStore) SaveExperiment(ctx context.Context, exp models.Experiment) (string, error) {
	if exp.BatchID == "" {
		return "", fmt.Errorf("batch ID is required")
	}
	if exp.ID == "" {
		exp.ID = uuid.NewString()
	}
	if exp.Timestamp.IsZero() {
		exp.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f := exp.Features
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO experiments (
			id, batch_id, batch_type, timestamp,
			ph_final, ph_slope, temp_mean, temp_std, color_peak, weight_loss,
			ground_truth, pred_capacity, outcome, stop_reason, duration_min
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exp.ID, exp.BatchID, string(exp.BatchType), exp.Timestamp.UTC().Format(timestampLayout),
		f.PHFinal, f.PHSlope, f.TempMean, f.TempStd, f.ColorPeak, f.WeightLoss,
		exp.GroundTruth, exp.PredictedCapacity, string(exp.Outcome), exp.StopReason, exp.DurationMin,
	)
	if err != nil {
		return "", fmt.Errorf("failed to save experiment %s: %w", exp.BatchID, err)
	}
	return exp.ID, nil
}

// timestampLayout is fixed-width so text ordering matches time ordering.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

const experimentColumns = `
	id, batch_id, batch_type, timestamp,
	ph_final, ph_slope, temp_mean, temp_std, color_peak, weight_loss,
	ground_truth, pred_capacity, outcome, stop_reason, duration_min`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (models.Experiment, error) {
	var (
		exp                 models.Experiment
		batchType, ts       string
		outcome, stopReason sql.NullString
	)
	f := &exp.Features
	err := row.Scan(
		&exp.ID, &exp.BatchID, &batchType, &ts,
		&f.PHFinal, &f.PHSlope, &f.TempMean, &f.TempStd, &f.ColorPeak, &f.WeightLoss,
		&exp.GroundTruth, &exp.PredictedCapacity, &outcome, &stopReason, &exp.DurationMin,
	)
	if err != nil {
		return exp, err
	}

	exp.BatchType = models.BatchType(batchType)
	exp.Outcome = models.Outcome(outcome.String)
	exp.StopReason = stopReason.String
	if t, perr := time.Parse(timestampLayout, ts); perr == nil {
		exp.Timestamp = t
	}
	return exp, nil
}

// GetExperiment returns one experiment by id.
func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id)
	exp, err := scanExperiment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment %s: %w", id, err)
	}
	return &exp, nil
}

// ListExperiments returns experiments newest first.
func (s *SQLiteStore) ListExperiments(ctx context.Context, limit int) ([]models.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + experimentColumns + ` FROM experiments ORDER BY timestamp DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var out []models.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		out = append(out, exp)
	}
	return out, rows.Err()
}

// CountExperiments returns the number of stored experiments.
func (s *SQLiteStore) CountExperiments(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count experiments: %w", err)
	}
	return n, nil
}

// LoadTrainingRows returns rows with a positive ground truth, oldest first.
func (s *SQLiteStore) LoadTrainingRows(ctx context.Context) ([]models.TrainingRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT ph_final, ph_slope, temp_mean, temp_std, color_peak, weight_loss, ground_truth
		FROM experiments
		WHERE ground_truth > 0
		ORDER BY timestamp ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load training rows: %w", err)
	}
	defer rows.Close()

	var out []models.TrainingRow
	for rows.Next() {
		var r models.TrainingRow
		f := &r.Features
		if err := rows.Scan(&f.PHFinal, &f.PHSlope, &f.TempMean, &f.TempStd, &f.ColorPeak, &f.WeightLoss, &r.GroundTruth); err != nil {
			return nil, fmt.Errorf("failed to scan training row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
