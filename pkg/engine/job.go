// Package engine drives the work queue: it selects eligible items, claims
// them, runs the archive or check job for their dataset kind, and records the
// outcome. It also hosts the catalog updater that keeps the queue in step
// with upstream.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/dumpkeeper/pkg/dataset"
	"github.com/3leaps/dumpkeeper/pkg/upstream"
	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

// Job names what the runner does with an item.
type Job string

const (
	JobArchive Job = "archive"
	JobCheck   Job = "check"
	// JobUpdate is not item-scoped: it runs the catalog updater.
	JobUpdate Job = "update"
)

var (
	// ErrUnknownJob is returned by ParseJob.
	ErrUnknownJob = errors.New("unknown job")
	// ErrIncompleteDir marks a local directory missing snapshot files.
	ErrIncompleteDir = upstream.ErrIncompleteDir
	// ErrInvalidTarget is returned for an inconsistent targeted dispatch.
	ErrInvalidTarget = errors.New("invalid target")
	// ErrClaimed is returned when a targeted item is held by another host.
	ErrClaimed = errors.New("item is claimed by another host")
)

// Jobs lists every job name.
var Jobs = []Job{JobArchive, JobCheck, JobUpdate}

// ParseJob validates a job name. Empty means archive.
func ParseJob(s string) (Job, error) {
	switch j := Job(strings.ToLower(strings.TrimSpace(s))); j {
	case "":
		return JobArchive, nil
	case JobArchive, JobCheck, JobUpdate:
		return j, nil
	default:
		return "", fmt.Errorf("%w: %q (want archive, check, or update)", ErrUnknownJob, s)
	}
}

// Eligible returns the selection conditions for job on kind. The update job
// has none.
func Eligible(job Job, kind workqueue.Kind) (workqueue.Conditions, bool) {
	switch job {
	case JobArchive:
		return workqueue.ArchiveCandidates(kind), true
	case JobCheck:
		return workqueue.CheckCandidates(kind), true
	default:
		return nil, false
	}
}

// Target is one explicitly requested dispatch.
type Target struct {
	Kind    string
	Subject string
	Date    time.Time
	Job     Job
	// Path overrides the local directory the files are read from.
	Path string
	// Resume uploads only the files the archive item does not have yet.
	Resume bool
}

// Key resolves the target against its kind.
func (t Target) Key(k dataset.Kind) (workqueue.Key, error) {
	if t.Date.IsZero() {
		return workqueue.Key{}, fmt.Errorf("%w: a date is required", ErrInvalidTarget)
	}
	subject := strings.TrimSpace(t.Subject)
	switch {
	case k.MultiSubject() && subject == "":
		return workqueue.Key{}, fmt.Errorf("%w: date was given but not the subject", ErrInvalidTarget)
	case !k.MultiSubject() && subject != "":
		return workqueue.Key{}, fmt.Errorf("%w: %s has no subjects", ErrInvalidTarget, k.Name())
	}
	return workqueue.Key{Kind: k.Name(), Subject: subject, Date: workqueue.Day(t.Date)}, nil
}
