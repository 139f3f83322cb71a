package constants

// JobStatus is the canonical lifecycle status for a remote batch job.
type JobStatus string

// Stable values (store these exact strings in the ledger).
const (
	JobStatusCreated   JobStatus = "CREATED"   // job accepted by the remote service
	JobStatusRunning   JobStatus = "RUNNING"   // in progress
	JobStatusCompleted JobStatus = "COMPLETED" // terminal success
	JobStatusFailed    JobStatus = "FAILED"    // terminal failure
	JobStatusCancelled JobStatus = "CANCELLED" // terminal, user requested
)

// IsTerminal reports whether no further transition can occur.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransition enforces the monotone status machine:
// Created→Running→{Completed|Failed}; Cancelled only from Created or Running.
func (s JobStatus) CanTransition(to JobStatus) bool {
	if s == to {
		return true
	}
	switch s {
	case JobStatusCreated:
		return to == JobStatusRunning || to == JobStatusCompleted ||
			to == JobStatusFailed || to == JobStatusCancelled
	case JobStatusRunning:
		return to == JobStatusCompleted || to == JobStatusFailed || to == JobStatusCancelled
	}
	return false
}

// ParseRemoteStatus maps the remote service's status strings onto the
// canonical set. Unknown strings are treated as still running so the poll
// loop keeps going until the service settles.
func ParseRemoteStatus(remote string) JobStatus {
	switch remote {
	case "validating", "created", "queued":
		return JobStatusCreated
	case "in_progress", "running", "finalizing":
		return JobStatusRunning
	case "completed":
		return JobStatusCompleted
	case "failed", "expired":
		return JobStatusFailed
	case "cancelling", "cancelled", "canceled":
		return JobStatusCancelled
	default:
		return JobStatusRunning
	}
}
