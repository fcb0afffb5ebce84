// Package store is the local sqlite ledger of submitted bulk jobs and of
// records that failed a retrying batch insert.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/open-cli-collective/salesforce-sync/api/bulk"
	"github.com/open-cli-collective/salesforce-sync/api/record"
	"github.com/open-cli-collective/salesforce-sync/api/records"
)

// ErrNotFound is returned when a job is not in the ledger.
var ErrNotFound = errors.New("not found")

// DefaultListLimit caps ListJobs when no limit is given.
const DefaultListLimit = 25

// Kind distinguishes ingest jobs from query jobs.
type Kind string

const (
	KindIngest Kind = "ingest"
	KindQuery  Kind = "query"
)

// KindOf returns the ledger kind for a bulk operation.
func KindOf(op bulk.Operation) Kind {
	if op.IsQuery() {
		return KindQuery
	}
	return KindIngest
}

// Job is a ledger row.
type Job struct {
	ID               string    `json:"id"`
	Object           string    `json:"object"`
	Operation        string    `json:"operation"`
	Kind             Kind      `json:"kind"`
	State            string    `json:"state"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	RecordsProcessed int       `json:"records_processed"`
	RecordsFailed    int       `json:"records_failed"`
	ErrorMessage     string    `json:"error_message,omitempty"`
}

// JobFromStatus builds a ledger row from a Salesforce job status.
func JobFromStatus(st *bulk.JobStatus) Job {
	return Job{
		ID:               st.ID,
		Object:           st.Object,
		Operation:        string(st.Operation),
		Kind:             KindOf(st.Operation),
		State:            string(st.State),
		RecordsProcessed: st.NumberRecordsProcessed,
		RecordsFailed:    st.NumberRecordsFailed,
		ErrorMessage:     st.ErrorMessage,
	}
}

// JobPatch updates selected columns; nil fields are left as they are.
type JobPatch struct {
	State            *string
	RecordsProcessed *int
	RecordsFailed    *int
	ErrorMessage     *string
}

// PatchFromStatus returns the patch that brings a row up to date with st.
func PatchFromStatus(st *bulk.JobStatus) JobPatch {
	state := string(st.State)
	p := JobPatch{
		State:            &state,
		RecordsProcessed: &st.NumberRecordsProcessed,
		RecordsFailed:    &st.NumberRecordsFailed,
	}
	if st.ErrorMessage != "" {
		p.ErrorMessage = &st.ErrorMessage
	}
	return p
}

// Failure is a persisted failed record.
type Failure struct {
	ID           string        `json:"id"`
	BatchID      string        `json:"batch_id"`
	Object       string        `json:"object"`
	Record       record.Record `json:"original_record"`
	ErrorMessage string        `json:"error_message"`
	ErrorCode    string        `json:"error_code,omitempty"`
	RetryCount   int           `json:"retry_count"`
	FailedAt     time.Time     `json:"failed_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  object TEXT NOT NULL,
  operation TEXT NOT NULL,
  kind TEXT NOT NULL,
  state TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  records_processed INTEGER NOT NULL DEFAULT 0,
  records_failed INTEGER NOT NULL DEFAULT 0,
  error_message TEXT
);
CREATE TABLE IF NOT EXISTS failed_records (
  id TEXT PRIMARY KEY,
  batch_id TEXT NOT NULL,
  object TEXT NOT NULL,
  record_json TEXT NOT NULL,
  error_message TEXT NOT NULL,
  error_code TEXT,
  retry_count INTEGER NOT NULL DEFAULT 0,
  failed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS failed_records_batch ON failed_records (batch_id);
`

// SQLite is the ledger.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the ledger at path.
func Open(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// One writer; sqlite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// RecordJob inserts job, or refreshes it if the id is already known.
func (s *SQLite) RecordJob(ctx context.Context, job Job) error {
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, object, operation, kind, state, created_at, updated_at, records_processed, records_failed, error_message)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             state = excluded.state,
             updated_at = excluded.updated_at,
             records_processed = excluded.records_processed,
             records_failed = excluded.records_failed,
             error_message = excluded.error_message`,
		job.ID,
		job.Object,
		job.Operation,
		string(job.Kind),
		job.State,
		job.CreatedAt.UnixMilli(),
		job.UpdatedAt.UnixMilli(),
		job.RecordsProcessed,
		job.RecordsFailed,
		nullable(job.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("failed to record job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJob applies patch to the job with the given id.
func (s *SQLite) UpdateJob(ctx context.Context, id string, patch JobPatch) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
         SET updated_at = ?,
             state = COALESCE(?, state),
             records_processed = COALESCE(?, records_processed),
             records_failed = COALESCE(?, records_failed),
             error_message = COALESCE(?, error_message)
         WHERE id = ?`,
		s.now().UnixMilli(),
		nullableString(patch.State),
		nullableInt(patch.RecordsProcessed),
		nullableInt(patch.RecordsFailed),
		nullableString(patch.ErrorMessage),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteJob removes the job with the given id. A missing job is ErrNotFound.
func (s *SQLite) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const jobColumns = `id, object, operation, kind, state, created_at, updated_at, records_processed, records_failed, error_message`

// GetJob returns the job with the given id or ErrNotFound.
func (s *SQLite) GetJob(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns the most recently updated jobs first.
func (s *SQLite) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY updated_at DESC, created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (Job, error) {
	var (
		job                  Job
		kind                 string
		createdMs, updatedMs int64
		errorMsg             sql.NullString
	)
	if err := sc.Scan(&job.ID, &job.Object, &job.Operation, &kind, &job.State,
		&createdMs, &updatedMs, &job.RecordsProcessed, &job.RecordsFailed, &errorMsg); err != nil {
		return Job{}, err
	}
	job.Kind = Kind(kind)
	job.CreatedAt = time.UnixMilli(createdMs)
	job.UpdatedAt = time.UnixMilli(updatedMs)
	job.ErrorMessage = errorMsg.String
	return job, nil
}

// SaveFailures stores failures under batchID in one transaction.
func (s *SQLite) SaveFailures(ctx context.Context, batchID, object string, failures []records.FailedRecord) error {
	if len(failures) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to save failures: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO failed_records (id, batch_id, object, record_json, error_message, error_code, retry_count, failed_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to save failures: %w", err)
	}
	defer stmt.Close()

	for _, f := range failures {
		data, err := json.Marshal(f.Record)
		if err != nil {
			return fmt.Errorf("failed to encode record %d: %w", f.Index, err)
		}
		failedAt := f.Timestamp
		if failedAt.IsZero() {
			failedAt = s.now()
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.NewString(),
			batchID,
			object,
			string(data),
			f.ErrorMessage,
			nullable(f.ErrorCode),
			f.RetryCount,
			failedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("failed to save record %d: %w", f.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to save failures: %w", err)
	}
	return nil
}

// ListFailures returns the failures saved under batchID in insertion order.
func (s *SQLite) ListFailures(ctx context.Context, batchID string) ([]Failure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, object, record_json, error_message, error_code, retry_count, failed_at
       FROM failed_records WHERE batch_id = ? ORDER BY rowid ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var (
			f        Failure
			recJSON  string
			code     sql.NullString
			failedMs int64
		)
		if err := rows.Scan(&f.ID, &f.BatchID, &f.Object, &recJSON, &f.ErrorMessage, &code, &f.RetryCount, &failedMs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(recJSON), &f.Record); err != nil {
			return nil, fmt.Errorf("failed to decode failure %s: %w", f.ID, err)
		}
		f.ErrorCode = code.String
		f.FailedAt = time.UnixMilli(failedMs)
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
