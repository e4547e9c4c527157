package runstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/storyframe/storyframe/internal/narrative"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLiteStore persists run state in a single SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite initializes or connects to the checkpoint database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("runstate store requires a path")
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

	store := &SQLiteStore{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			book_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			state TEXT NOT NULL,
			last_completed_page INTEGER NOT NULL DEFAULT -1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS page_results (
			book_id TEXT NOT NULL,
			page_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			prompt_text TEXT,
			prompt_hash TEXT,
			context_version INTEGER NOT NULL DEFAULT 0,
			warnings_json TEXT,
			last_error TEXT,
			image BLOB,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (book_id, page_id)
		)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			book_id TEXT NOT NULL,
			through_page_id INTEGER NOT NULL,
			summary_text TEXT NOT NULL,
			token_estimate INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 0,
			degraded INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (book_id, through_page_id)
		)`,
	}
	for _, stmt := range schema {
		if err := s.execWithoutResultRetry(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
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

func (s *SQLiteStore) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// OpenRun loads or creates the run record for bookID.
func (s *SQLiteStore) OpenRun(ctx context.Context, bookID string) (*Run, error) {
	run, err := s.getRun(ctx, bookID)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	newRun := &Run{
		ID:                uuid.NewString(),
		BookID:            bookID,
		State:             "init",
		LastCompletedPage: -1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO runs (book_id, run_id, state, last_completed_page, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		bookID, newRun.ID, newRun.State, newRun.LastCompletedPage, timestamp, timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return newRun, nil
}

func (s *SQLiteStore) getRun(ctx context.Context, bookID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, state, last_completed_page, created_at, updated_at
		 FROM runs WHERE book_id = ?`, bookID)

	var run Run
	var created, updated string
	if err := row.Scan(&run.ID, &run.State, &run.LastCompletedPage, &created, &updated); err != nil {
		return nil, err
	}
	run.BookID = bookID
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	run.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &run, nil
}

// SetRunState updates the run's state machine position.
func (s *SQLiteStore) SetRunState(ctx context.Context, bookID, state string, lastCompletedPage int) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(ctx,
		`UPDATE runs SET state = ?, last_completed_page = ?, updated_at = ? WHERE book_id = ?`,
		state, lastCompletedPage, timestamp, bookID,
	); err != nil {
		return fmt.Errorf("update run state: %w", err)
	}
	return nil
}

// SaveResult upserts a page result row.
func (s *SQLiteStore) SaveResult(ctx context.Context, bookID string, res Result) error {
	warnings, err := json.Marshal(res.Warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO page_results (
			book_id, page_id, status, attempt_count, prompt_text, prompt_hash,
			context_version, warnings_json, last_error, image, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (book_id, page_id) DO UPDATE SET
			status = excluded.status,
			attempt_count = excluded.attempt_count,
			prompt_text = excluded.prompt_text,
			prompt_hash = excluded.prompt_hash,
			context_version = excluded.context_version,
			warnings_json = excluded.warnings_json,
			last_error = excluded.last_error,
			image = excluded.image,
			updated_at = excluded.updated_at`,
		bookID, res.PageID, string(res.Status), res.AttemptCount, res.PromptText,
		res.PromptHash, res.ContextVersion, string(warnings), res.LastError,
		res.ImageBytes, timestamp,
	); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// Result returns the page's result row, if present.
func (s *SQLiteStore) Result(ctx context.Context, bookID string, pageID int) (*Result, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT status, attempt_count, prompt_text, prompt_hash, context_version,
		        warnings_json, last_error, image
		 FROM page_results WHERE book_id = ? AND page_id = ?`, bookID, pageID)

	res, err := scanResult(row, pageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// Results returns all result rows for the book keyed by page id.
func (s *SQLiteStore) Results(ctx context.Context, bookID string) (map[int]Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT page_id, status, attempt_count, prompt_text, prompt_hash,
		        context_version, warnings_json, last_error, image
		 FROM page_results WHERE book_id = ? ORDER BY page_id`, bookID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	out := make(map[int]Result)
	for rows.Next() {
		var res Result
		var status, warningsJSON string
		var promptText, promptHash, lastError sql.NullString
		if err := rows.Scan(&res.PageID, &status, &res.AttemptCount, &promptText,
			&promptHash, &res.ContextVersion, &warningsJSON, &lastError, &res.ImageBytes); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.Status = Status(status)
		res.PromptText = promptText.String
		res.PromptHash = promptHash.String
		res.LastError = lastError.String
		if warningsJSON != "" {
			_ = json.Unmarshal([]byte(warningsJSON), &res.Warnings)
		}
		out[res.PageID] = res
	}
	return out, rows.Err()
}

// CachedImage returns the stored image for a SUCCESS result under the same
// prompt hash.
func (s *SQLiteStore) CachedImage(ctx context.Context, bookID string, pageID int, promptHash string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT image FROM page_results
		 WHERE book_id = ? AND page_id = ? AND prompt_hash = ? AND status = ?`,
		bookID, pageID, promptHash, string(StatusSuccess))

	var img []byte
	if err := row.Scan(&img); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("query cached image: %w", err)
	}
	if len(img) == 0 {
		return nil, false, nil
	}
	return img, true, nil
}

// SaveSummary upserts a page's context summary.
func (s *SQLiteStore) SaveSummary(ctx context.Context, bookID string, sum narrative.Summary) error {
	degraded := 0
	if sum.Degraded {
		degraded = 1
	}
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO summaries (book_id, through_page_id, summary_text, token_estimate, version, degraded)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (book_id, through_page_id) DO UPDATE SET
			summary_text = excluded.summary_text,
			token_estimate = excluded.token_estimate,
			version = excluded.version,
			degraded = excluded.degraded`,
		bookID, sum.ThroughPageID, sum.Text, sum.TokenEstimate, sum.Version, degraded,
	); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

// Summary returns the summary through pageID, if present.
func (s *SQLiteStore) Summary(ctx context.Context, bookID string, pageID int) (*narrative.Summary, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT summary_text, token_estimate, version, degraded
		 FROM summaries WHERE book_id = ? AND through_page_id = ?`, bookID, pageID)

	var sum narrative.Summary
	var degraded int
	if err := row.Scan(&sum.Text, &sum.TokenEstimate, &sum.Version, &degraded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("query summary: %w", err)
	}
	sum.ThroughPageID = pageID
	sum.Degraded = degraded != 0
	return &sum, true, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

func scanResult(row *sql.Row, pageID int) (*Result, error) {
	var res Result
	var status, warningsJSON string
	var promptText, promptHash, lastError sql.NullString
	if err := row.Scan(&status, &res.AttemptCount, &promptText, &promptHash,
		&res.ContextVersion, &warningsJSON, &lastError, &res.ImageBytes); err != nil {
		return nil, err
	}
	res.PageID = pageID
	res.Status = Status(status)
	res.PromptText = promptText.String
	res.PromptHash = promptHash.String
	res.LastError = lastError.String
	if warningsJSON != "" {
		_ = json.Unmarshal([]byte(warningsJSON), &res.Warnings)
	}
	return &res, nil
}
