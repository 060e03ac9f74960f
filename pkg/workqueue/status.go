package workqueue

import (
	"context"
	"fmt"
)

// Every status update below is a single UPDATE that also releases the claim,
// so a finished job never leaves its row owned.

// MarkCanArchive sets whether the snapshot is ready for upload.
func (s *Store) MarkCanArchive(ctx context.Context, key Key, can bool) (bool, error) {
	return s.Update(ctx, key, releaseFields(Fields{ColCanArchive: can}))
}

// MarkArchived records a successful upload.
func (s *Store) MarkArchived(ctx context.Context, key Key) (bool, error) {
	return s.Update(ctx, key, releaseFields(Fields{ColIsArchived: StateDone}))
}

// MarkFailedArchive records an upload that failed after all retries.
func (s *Store) MarkFailedArchive(ctx context.Context, key Key) (bool, error) {
	return s.Update(ctx, key, releaseFields(Fields{ColIsArchived: StateFailed}))
}

// MarkChecked records a successful verification.
func (s *Store) MarkChecked(ctx context.Context, key Key) (bool, error) {
	return s.Update(ctx, key, releaseFields(Fields{ColIsChecked: StateDone}))
}

// MarkFailedCheck records a verification that found missing files or could
// not reach the archive.
func (s *Store) MarkFailedCheck(ctx context.Context, key Key) (bool, error) {
	return s.Update(ctx, key, releaseFields(Fields{ColIsChecked: StateFailed}))
}

// UpdateProgress records a new upstream generation status.
func (s *Store) UpdateProgress(ctx context.Context, key Key, progress Progress) (bool, error) {
	if !progress.Valid() {
		return false, fmt.Errorf("update %s: invalid progress %q", key, progress)
	}
	return s.Update(ctx, key, releaseFields(Fields{ColProgress: progress}))
}

// ValidProgressTransition reports whether the catalog updater may move a row
// from one progress value to another. Done is terminal and an error is never
// downgraded to unknown.
func ValidProgressTransition(from, to Progress) bool {
	if from == to || !to.Valid() {
		return false
	}
	switch from {
	case ProgressDone:
		return false
	case ProgressError:
		return to == ProgressDone || to == ProgressInProgress
	case ProgressInProgress, ProgressUnknown:
		return true
	default:
		return false
	}
}
