package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"shelflife/internal/config"
)

// Store manages ledger persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// ErrRunNotFound is returned when no run matches an identifier.
var ErrRunNotFound = errors.New("run not found")

// Open connects to the ledger at cfg.LedgerPath().
func Open(cfg *config.Config) (*Store, error) {
	return OpenPath(cfg.LedgerPath())
}

// OpenPath opens or creates a ledger database at path.
func OpenPath(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, now: func() time.Time { return time.Now().UTC() }}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// BeginRun inserts a running run with a fresh UUID.
func (s *Store) BeginRun(ctx context.Context, datasetRoot string, seed uint64) (*Run, error) {
	run := &Run{
		ID:          uuid.NewString(),
		StartedAt:   s.now(),
		DatasetRoot: datasetRoot,
		Seed:        seed,
		Status:      StatusRunning,
	}
	_, err := s.exec(ctx,
		`INSERT INTO runs (id, started_at, dataset_root, seed, status) VALUES (?, ?, ?, ?, ?)`,
		run.ID, formatTime(run.StartedAt), run.DatasetRoot, int64(seed), string(run.Status),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// UpdateCounts stores the dataset and embedding sizes of a run.
func (s *Store) UpdateCounts(ctx context.Context, runID string, c Counts) error {
	res, err := s.exec(ctx,
		`UPDATE runs SET sample_count = ?, train_count = ?, validation_count = ?, test_count = ?,
             skipped_count = ?, dimensions = ? WHERE id = ?`,
		c.Samples, c.Train, c.Validation, c.Test, c.Skipped, c.Dimensions, runID,
	)
	if err != nil {
		return fmt.Errorf("update run counts: %w", err)
	}
	return requireRow(res, runID)
}

// RecordModel stores one model's metrics for a run.
func (s *Store) RecordModel(ctx context.Context, m ModelResult) error {
	var best any
	if m.BestIteration >= 0 {
		best = m.BestIteration
	}
	_, err := s.exec(ctx,
		`INSERT INTO run_models (run_id, name, model_kind, mae, rmse, r2, best_iteration, duration_ms, artifact_path)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(run_id, name) DO UPDATE SET
             model_kind = excluded.model_kind, mae = excluded.mae, rmse = excluded.rmse, r2 = excluded.r2,
             best_iteration = excluded.best_iteration, duration_ms = excluded.duration_ms,
             artifact_path = excluded.artifact_path`,
		m.RunID, m.Name, m.Kind, m.MAE, m.RMSE, m.R2, best, m.Duration.Milliseconds(), nullableString(m.ArtifactPath),
	)
	if err != nil {
		return fmt.Errorf("record model %s: %w", m.Name, err)
	}
	return nil
}

// FinishRun marks a run completed, or failed when runErr is non-nil.
func (s *Store) FinishRun(ctx context.Context, runID string, runErr error) error {
	status := StatusCompleted
	var message any
	if runErr != nil {
		status = StatusFailed
		message = runErr.Error()
	}
	res, err := s.exec(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, error_message = ? WHERE id = ?`,
		string(status), formatTime(s.now()), message, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return requireRow(res, runID)
}

// RecordPrediction appends an inference result and returns its row id.
func (s *Store) RecordPrediction(ctx context.Context, p Prediction) (int64, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	res, err := s.exec(ctx,
		`INSERT INTO predictions (created_at, model, image_path, prediction, source, run_id) VALUES (?, ?, ?, ?, ?, ?)`,
		formatTime(p.CreatedAt), p.Model, p.ImagePath, p.Value, p.Source, nullableString(p.RunID),
	)
	if err != nil {
		return 0, fmt.Errorf("record prediction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

const runColumns = "id, started_at, finished_at, dataset_root, seed, status, sample_count, train_count, validation_count, test_count, skipped_count, dimensions, error_message"

// ListRuns returns up to limit runs, newest first. A limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun resolves a run by full id or unique id prefix.
func (s *Store) GetRun(ctx context.Context, idOrPrefix string) (*Run, error) {
	idOrPrefix = strings.TrimSpace(idOrPrefix)
	if idOrPrefix == "" {
		return nil, ErrRunNotFound
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? ESCAPE '\' ORDER BY id LIMIT 2`,
		idOrPrefix, escapeLike(idOrPrefix)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()

	var found []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		if run.ID == idOrPrefix {
			return run, nil
		}
		found = append(found, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, idOrPrefix)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", idOrPrefix)
	}
}

// ModelsForRun returns the model rows of a run ordered by name.
func (s *Store) ModelsForRun(ctx context.Context, runID string) ([]ModelResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, name, model_kind, mae, rmse, r2, best_iteration, duration_ms, artifact_path
         FROM run_models WHERE run_id = ? ORDER BY name`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run models: %w", err)
	}
	defer rows.Close()

	var out []ModelResult
	for rows.Next() {
		var (
			m          ModelResult
			best       sql.NullInt64
			durationMS int64
			artifact   sql.NullString
		)
		if err := rows.Scan(&m.RunID, &m.Name, &m.Kind, &m.MAE, &m.RMSE, &m.R2, &best, &durationMS, &artifact); err != nil {
			return nil, err
		}
		m.BestIteration = -1
		if best.Valid {
			m.BestIteration = int(best.Int64)
		}
		m.Duration = time.Duration(durationMS) * time.Millisecond
		m.ArtifactPath = artifact.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecentPredictions returns up to limit predictions, newest first.
func (s *Store) RecentPredictions(ctx context.Context, limit int) ([]Prediction, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, model, image_path, prediction, source, run_id
         FROM predictions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	defer rows.Close()

	var out []Prediction
	for rows.Next() {
		var (
			p       Prediction
			created string
			runID   sql.NullString
		)
		if err := rows.Scan(&p.ID, &created, &p.Model, &p.ImagePath, &p.Value, &p.Source, &runID); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(created)
		p.RunID = runID.String
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run      Run
		started  string
		finished sql.NullString
		seed     int64
		status   string
		errMsg   sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&started,
		&finished,
		&run.DatasetRoot,
		&seed,
		&status,
		&run.Counts.Samples,
		&run.Counts.Train,
		&run.Counts.Validation,
		&run.Counts.Test,
		&run.Counts.Skipped,
		&run.Counts.Dimensions,
		&errMsg,
	); err != nil {
		return nil, err
	}
	run.StartedAt = parseTime(started)
	if finished.Valid {
		run.FinishedAt = parseTime(finished.String)
	}
	run.Seed = uint64(seed)
	run.Status = Status(status)
	run.Error = errMsg.String
	return &run, nil
}

func requireRow(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// timeLayout keeps fractional seconds fixed-width so stored timestamps sort
// lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
