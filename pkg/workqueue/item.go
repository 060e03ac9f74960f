// Package workqueue implements the shared work-item table that cooperating
// runner processes poll, claim, and update.
//
// Every row describes one dated snapshot of one dataset kind for one subject.
// Rows move along two independent axes: generation progress (reported by the
// upstream dump producer) and archival state (owned by this module).
package workqueue

import "time"

// Kind identifies a dataset type such as "dumps" or "mediacounts".
type Kind string

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// Progress is the upstream generation status of a snapshot.
//
// NOTE: These values are persisted in the progress column.
type Progress string

const (
	// ProgressInProgress means upstream jobs are still running or waiting.
	ProgressInProgress Progress = "in_progress"
	// ProgressDone means every upstream job finished (or was skipped).
	ProgressDone Progress = "done"
	// ProgressError means at least one upstream job failed.
	ProgressError Progress = "error"
	// ProgressUnknown means the status could not be determined.
	ProgressUnknown Progress = "unknown"
)

// Valid reports whether p is one of the known progress values.
func (p Progress) Valid() bool {
	switch p {
	case ProgressInProgress, ProgressDone, ProgressError, ProgressUnknown:
		return true
	}
	return false
}

// ArchiveState is the tri-state used by both is_archived and is_checked.
type ArchiveState int

const (
	// StateNone means the step has not happened yet.
	StateNone ArchiveState = 0
	// StateDone means the step completed successfully.
	StateDone ArchiveState = 1
	// StateFailed means the step was attempted and failed.
	StateFailed ArchiveState = 2
)

func (s ArchiveState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Key identifies a single row: (kind, subject, snapshot date).
//
// Subject is empty for kinds that only have one subject.
type Key struct {
	Kind    Kind
	Subject string
	Date    time.Time
}

// String renders the key for logs, e.g. "dumps/enwiki/20150703".
func (k Key) String() string {
	if k.Subject == "" {
		return string(k.Kind) + "/" + CompactDate(k.Date)
	}
	return string(k.Kind) + "/" + k.Subject + "/" + CompactDate(k.Date)
}

// WorkItem is one row of the work queue.
type WorkItem struct {
	Key

	Progress   Progress
	CanArchive bool
	IsArchived ArchiveState
	IsChecked  ArchiveState

	// ClaimedBy is the host currently working the item; empty means available.
	ClaimedBy string
	// ClaimedAt is informational only. Nothing expires claims.
	ClaimedAt *time.Time
	Comments  string
}

// Claimed reports whether any host holds a claim on the item.
func (w *WorkItem) Claimed() bool {
	return w.ClaimedBy != ""
}

// NewItem returns a freshly discovered row with all archival flags zeroed.
func NewItem(key Key, progress Progress) WorkItem {
	return WorkItem{
		Key:        key,
		Progress:   progress,
		CanArchive: false,
		IsArchived: StateNone,
		IsChecked:  StateNone,
	}
}
