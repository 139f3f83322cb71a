package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"termbatch/internal/common"
)

// ledgerErr keeps ErrLedger on the chain so callers can distinguish
// persistence failures from remote ones.
func ledgerErr(message string, cause error) error {
	return common.NewAppError("LEDGER_ERROR", message, fmt.Errorf("%w: %v", common.ErrLedger, cause))
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	input_path      TEXT NOT NULL,
	status          TEXT NOT NULL,
	remote_batch_id TEXT NOT NULL DEFAULT '',
	input_file_ref  TEXT NOT NULL DEFAULT '',
	output_file_ref TEXT NOT NULL DEFAULT '',
	error_message   TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL,
	finished_at     TIMESTAMP
);

CREATE TABLE IF NOT EXISTS term_records (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id   TEXT NOT NULL REFERENCES jobs(id),
	row_id   TEXT NOT NULL,
	term     TEXT NOT NULL,
	type     TEXT NOT NULL DEFAULT '',
	context  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_term_records_job ON term_records(job_id);
`

// Open opens (or creates) the sqlite ledger at path and applies the schema.
// Pass ":memory:" for an ephemeral ledger.
func Open(ctx context.Context, path string, logger *slog.Logger) (*sql.DB, error) {
	logger.Info("ledger.open", "path", path)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		logger.Error("ledger.open.failed", "path", path, "error", err)
		return nil, ledgerErr("open ledger", err)
	}
	// modernc sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY on concurrent statements.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		logger.Error("ledger.migrate.failed", "error", err)
		return nil, ledgerErr("apply ledger schema", err)
	}
	return db, nil
}

// Close closes the ledger handle, logging rather than returning the error.
func Close(db *sql.DB, logger *slog.Logger) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		logger.Error("ledger.close.failed", "error", err)
		return
	}
	logger.Debug("ledger.closed")
}
