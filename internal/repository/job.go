package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"termbatch/constants"
	"termbatch/internal/common"
	"termbatch/internal/normalize"
)

// Job is one orchestration run as recorded in the ledger.
type Job struct {
	ID            string
	InputPath     string
	Status        constants.JobStatus
	RemoteBatchID string
	InputFileRef  string
	OutputFileRef string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	FinishedAt    *time.Time
}

// JobRepository persists job lifecycle and extracted records. Every run
// writes through it so partial results survive a cancelled or failed job.
type JobRepository interface {
	StartJob(ctx context.Context, jobID, inputPath string) (*Job, error)
	UpdateStatus(ctx context.Context, jobID string, status constants.JobStatus, message string) error
	SetRemoteRefs(ctx context.Context, jobID, remoteBatchID, inputFileRef, outputFileRef string) error
	SaveRecords(ctx context.Context, jobID string, records []normalize.TermRecord) error
	ListRecords(ctx context.Context, jobID string) ([]normalize.TermRecord, error)
	GetJob(ctx context.Context, jobID string) (*Job, error)
}

type jobRepo struct {
	db  *sql.DB
	log *slog.Logger
}

func NewJobRepository(db *sql.DB, log *slog.Logger) JobRepository {
	return &jobRepo{db: db, log: log}
}

func (r *jobRepo) StartJob(ctx context.Context, jobID, inputPath string) (*Job, error) {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs (id, input_path, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		jobID, inputPath, string(constants.JobStatusCreated), now, now)
	if err != nil {
		r.log.Error("ledger.job.start.failed", "job_id", jobID, "error", err)
		return nil, ledgerErr("start job", err)
	}
	r.log.Info("ledger.job.started", "job_id", jobID, "input_path", inputPath)
	return &Job{
		ID:        jobID,
		InputPath: inputPath,
		Status:    constants.JobStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (r *jobRepo) UpdateStatus(ctx context.Context, jobID string, status constants.JobStatus, message string) error {
	now := time.Now().UTC()
	var finished any
	if status.IsTerminal() {
		finished = now
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = ?, finished_at = COALESCE(?, finished_at) WHERE id = ?`,
		string(status), message, now, finished, jobID)
	if err != nil {
		r.log.Error("ledger.job.status.failed", "job_id", jobID, "status", status, "error", err)
		return ledgerErr("update job status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NewAppError("NOT_FOUND", "job not found: "+jobID, common.ErrNotFound)
	}
	r.log.Info("ledger.job.status", "job_id", jobID, "status", status)
	return nil
}

func (r *jobRepo) SetRemoteRefs(ctx context.Context, jobID, remoteBatchID, inputFileRef, outputFileRef string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET
			remote_batch_id = CASE WHEN ? != '' THEN ? ELSE remote_batch_id END,
			input_file_ref  = CASE WHEN ? != '' THEN ? ELSE input_file_ref END,
			output_file_ref = CASE WHEN ? != '' THEN ? ELSE output_file_ref END,
			updated_at = ?
		WHERE id = ?`,
		remoteBatchID, remoteBatchID, inputFileRef, inputFileRef, outputFileRef, outputFileRef,
		time.Now().UTC(), jobID)
	if err != nil {
		r.log.Error("ledger.job.refs.failed", "job_id", jobID, "error", err)
		return ledgerErr("set remote refs", err)
	}
	return nil
}

func (r *jobRepo) SaveRecords(ctx context.Context, jobID string, records []normalize.TermRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return ledgerErr("begin save records", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO term_records (job_id, row_id, term, type, context) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return ledgerErr("prepare save records", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, jobID, rec.RowID, rec.Term, rec.Type, rec.Context); err != nil {
			r.log.Error("ledger.records.save.failed", "job_id", jobID, "row_id", rec.RowID, "error", err)
			return ledgerErr("save record", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ledgerErr("commit records", err)
	}
	r.log.Info("ledger.records.saved", "job_id", jobID, "count", len(records))
	return nil
}

func (r *jobRepo) ListRecords(ctx context.Context, jobID string) ([]normalize.TermRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT row_id, term, type, context FROM term_records WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, ledgerErr("list records", err)
	}
	defer func() { _ = rows.Close() }()

	var out []normalize.TermRecord
	for rows.Next() {
		var rec normalize.TermRecord
		if err := rows.Scan(&rec.RowID, &rec.Term, &rec.Type, &rec.Context); err != nil {
			return nil, ledgerErr("scan record", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, ledgerErr("iterate records", err)
	}
	return out, nil
}

func (r *jobRepo) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var (
		job      Job
		status   string
		finished sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, input_path, status, remote_batch_id, input_file_ref, output_file_ref,
			error_message, created_at, updated_at, finished_at
		FROM jobs WHERE id = ?`, jobID).
		Scan(&job.ID, &job.InputPath, &status, &job.RemoteBatchID, &job.InputFileRef,
			&job.OutputFileRef, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("NOT_FOUND", "job not found: "+jobID, common.ErrNotFound)
	}
	if err != nil {
		return nil, ledgerErr("get job", err)
	}
	job.Status = constants.JobStatus(status)
	if finished.Valid {
		t := finished.Time
		job.FinishedAt = &t
	}
	return &job, nil
}
