package batch

import "errors"

// Failure taxonomy surfaced to the caller. None of these are retried
// internally; retry policy above the client is the caller's responsibility.
var (
	// ErrEmptyBatch means no rows survived filtering; nothing to submit.
	ErrEmptyBatch = errors.New("empty batch: no rows with non-empty text")

	// ErrUploadFailed covers payload transfer failures. Terminal for the invocation.
	ErrUploadFailed = errors.New("batch upload failed")

	// ErrSubmitFailed covers job creation failures.
	ErrSubmitFailed = errors.New("batch submit failed")

	// ErrRemoteJobFailed means the remote service reported a terminal failure.
	// The wrapped message carries the remote-reported reason.
	ErrRemoteJobFailed = errors.New("remote batch job failed")

	// ErrCompletedWithoutOutput means the job reached Completed without an
	// output payload reference. Kept distinct from ErrRemoteJobFailed so
	// operators can tell "remote bug" from "work genuinely failed".
	ErrCompletedWithoutOutput = errors.New("batch completed without output reference")

	// ErrDownloadFailed covers result payload fetch failures.
	ErrDownloadFailed = errors.New("batch download failed")

	// ErrCancelled means the user requested cancellation. Distinct from
	// failure; partial results already downloaded must still be exported.
	ErrCancelled = errors.New("batch cancelled by user")

	// ErrPollTimeout means the configured maximum poll duration elapsed
	// before the job reached a terminal status.
	ErrPollTimeout = errors.New("batch polling timed out")
)
