package engine

import (
	"context"

	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

// Queue is the part of the work-item store the engine uses.
type Queue interface {
	Count(ctx context.Context, conds workqueue.Conditions) (int, error)
	SelectRandom(ctx context.Context, conds workqueue.Conditions) (*workqueue.WorkItem, error)
	Get(ctx context.Context, key workqueue.Key) (*workqueue.WorkItem, error)
	List(ctx context.Context, conds workqueue.Conditions) ([]workqueue.WorkItem, error)
	Insert(ctx context.Context, item workqueue.WorkItem) (bool, error)
	Claim(ctx context.Context, key workqueue.Key, host string) (bool, error)

	MarkCanArchive(ctx context.Context, key workqueue.Key, can bool) (bool, error)
	MarkArchived(ctx context.Context, key workqueue.Key) (bool, error)
	MarkFailedArchive(ctx context.Context, key workqueue.Key) (bool, error)
	MarkChecked(ctx context.Context, key workqueue.Key) (bool, error)
	MarkFailedCheck(ctx context.Context, key workqueue.Key) (bool, error)
	UpdateProgress(ctx context.Context, key workqueue.Key, progress workqueue.Progress) (bool, error)
}

var _ Queue = (*workqueue.Store)(nil)

// Tracker is told which item the runner is working. Working is reported
// before the claim is taken, and Finished after the outcome is recorded, so
// a live runner's claim is never seen without its item. Released undoes
// Working when the claim is not obtained. It must not block.
type Tracker interface {
	Working(key workqueue.Key)
	Released(key workqueue.Key)
	Finished(key workqueue.Key, ok bool)
	Idle()
}

type nopTracker struct{}

func (nopTracker) Working(workqueue.Key)        {}
func (nopTracker) Released(workqueue.Key)       {}
func (nopTracker) Finished(workqueue.Key, bool) {}
func (nopTracker) Idle()                        {}

// Fetcher downloads one upstream file.
type Fetcher interface {
	Download(ctx context.Context, url, dest string) (int64, error)
}
