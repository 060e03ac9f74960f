package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/dumpkeeper/pkg/archive"
	"github.com/3leaps/dumpkeeper/pkg/dataset"
	"github.com/3leaps/dumpkeeper/pkg/retry"
	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

// DefaultIdleSleep is how long the continuous loop waits once every kind's
// queue is empty.
const DefaultIdleSleep = 6 * time.Hour

// Options tune a Runner.
type Options struct {
	// Host is written into claimed_by.
	Host string
	// Debug reads and decides everything but writes nothing: no claims, no
	// status updates, no downloads, no archive calls.
	Debug bool
	// Crontab makes Run return once the queue is empty instead of sleeping.
	Crontab   bool
	IdleSleep time.Duration

	// SizeHint is sent as x-archive-size-hint on uploads.
	SizeHint string
	// Scanner fills the scanner metadata field.
	Scanner     string
	QueueDerive bool
	Verify      bool

	// Sleep replaces the idle sleep in tests.
	Sleep retry.SleepFunc
	Now   func() time.Time
}

// Runner executes jobs against the queue.
type Runner struct {
	queue   Queue
	kinds   *dataset.Registry
	archive *archive.Retrying
	fetch   Fetcher
	updater *Updater
	tracker Tracker
	opts    Options
	log     *zap.Logger
}

// NewRunner wires a runner. fetch may be nil when no registered kind
// downloads its files.
func NewRunner(queue Queue, kinds *dataset.Registry, svc *archive.Retrying, fetch Fetcher, opts Options, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.IdleSleep <= 0 {
		opts.IdleSleep = DefaultIdleSleep
	}
	if opts.SizeHint == "" {
		opts.SizeHint = archive.SizeHint
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.SleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{
		queue:   queue,
		kinds:   kinds,
		archive: svc,
		fetch:   fetch,
		updater: NewUpdater(queue, UpdaterOptions{Debug: opts.Debug, Now: opts.Now}, log),
		tracker: nopTracker{},
		opts:    opts,
		log:     log,
	}
}

// SetTracker installs t; nil restores the no-op tracker.
func (r *Runner) SetTracker(t Tracker) {
	if t == nil {
		t = nopTracker{}
	}
	r.tracker = t
}

// Updater returns the catalog updater the runner uses for the update job.
func (r *Runner) Updater() *Updater {
	return r.updater
}

// Result is the outcome of one dispatched item.
type Result struct {
	Key workqueue.Key
	Job Job
	OK  bool
	// Recorded is false in debug mode, where no status is written.
	Recorded bool
}

// Dispatch runs exactly one job on an explicit target, without polling.
// For the update job only the kind is used.
func (r *Runner) Dispatch(ctx context.Context, t Target) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	k, err := r.kinds.Get(t.Kind)
	if err != nil {
		return nil, err
	}
	if t.Job == "" {
		t.Job = JobArchive
	}
	if t.Job == JobUpdate {
		if _, err := r.updater.Update(ctx, k); err != nil {
			return nil, err
		}
		return &Result{Job: JobUpdate, OK: true, Recorded: !r.opts.Debug}, nil
	}

	if _, ok := Eligible(t.Job, k.Name()); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, t.Job)
	}

	key, err := t.Key(k)
	if err != nil {
		return nil, err
	}
	if t.Job == JobCheck {
		if err := r.checkable(ctx, key); err != nil {
			return nil, err
		}
	}

	r.tracker.Working(key)
	if !r.opts.Debug {
		if err := r.claimTarget(ctx, key); err != nil {
			r.tracker.Released(key)
			return nil, err
		}
	}

	return r.process(ctx, k, key, t.Job, t.Path, t.Resume)
}

// checkable rejects a check on an item that is untracked or not archived.
func (r *Runner) checkable(ctx context.Context, key workqueue.Key) error {
	item, err := r.queue.Get(ctx, key)
	switch {
	case errors.Is(err, workqueue.ErrNotFound):
		return fmt.Errorf("%w: %s is not in the queue and cannot be checked", ErrInvalidTarget, key)
	case err != nil:
		return err
	case item.IsArchived != workqueue.StateDone:
		return fmt.Errorf("%w: %s is not archived (is_archived=%s)", ErrInvalidTarget, key, item.IsArchived)
	}
	return nil
}

func (r *Runner) claimTarget(ctx context.Context, key workqueue.Key) error {
	claimed, err := r.queue.Claim(ctx, key, r.opts.Host)
	if err != nil || claimed {
		return err
	}
	item, err := r.queue.Get(ctx, key)
	switch {
	case errors.Is(err, workqueue.ErrNotFound):
		r.log.Warn("target is not in the queue; its status will not be recorded", zap.Stringer("item", key))
	case err != nil:
		return err
	case item.ClaimedBy != r.opts.Host:
		return fmt.Errorf("%w: %s held by %s", ErrClaimed, key, item.ClaimedBy)
	}
	return nil
}

// RunOnce drains the eligible queue of every registered kind once and
// returns how many items were processed.
func (r *Runner) RunOnce(ctx context.Context, job Job) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if job == JobUpdate {
		for _, k := range r.kinds.Kinds() {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			if _, err := r.updater.Update(ctx, k); err != nil {
				return 0, err
			}
		}
		return 0, nil
	}

	processed := 0
	for _, k := range r.kinds.Kinds() {
		n, err := r.drain(ctx, k, job)
		processed += n
		if err != nil {
			return processed, err
		}
	}
	return processed, nil
}

func (r *Runner) drain(ctx context.Context, k dataset.Kind, job Job) (int, error) {
	conds, ok := Eligible(job, k.Name())
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
	log := r.log.With(zap.String("kind", string(k.Name())), zap.String("job", string(job)))

	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		left, err := r.queue.Count(ctx, conds)
		if err != nil {
			return processed, err
		}
		if left == 0 {
			log.Debug("no eligible items")
			return processed, nil
		}
		item, err := r.queue.SelectRandom(ctx, conds)
		if err != nil {
			return processed, err
		}
		if item == nil {
			return processed, nil
		}
		log.Info("selected item", zap.Stringer("item", item.Key), zap.Int("eligible", left))

		r.tracker.Working(item.Key)
		if !r.opts.Debug {
			claimed, err := r.queue.Claim(ctx, item.Key, r.opts.Host)
			if err != nil {
				r.tracker.Released(item.Key)
				return processed, err
			}
			if !claimed {
				r.tracker.Released(item.Key)
				log.Debug("item claimed by another host", zap.Stringer("item", item.Key))
				continue
			}
		}

		if _, err := r.process(ctx, k, item.Key, job, "", false); err != nil {
			return processed, err
		}
		processed++

		// Nothing was claimed or marked, so the same row would be selected
		// again forever.
		if r.opts.Debug {
			return processed, nil
		}
	}
}

// Run repeats RunOnce until ctx is cancelled. In crontab or debug mode it
// returns after the first pass.
func (r *Runner) Run(ctx context.Context, job Job) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		n, err := r.RunOnce(ctx, job)
		if err != nil {
			return err
		}
		if r.opts.Crontab || r.opts.Debug {
			r.log.Info("queue drained", zap.String("job", string(job)), zap.Int("processed", n))
			return nil
		}
		r.tracker.Idle()
		r.log.Info("queue empty, sleeping",
			zap.String("job", string(job)),
			zap.Int("processed", n),
			zap.Duration("sleep", r.opts.IdleSleep))
		if err := r.opts.Sleep(ctx, r.opts.IdleSleep); err != nil {
			return err
		}
	}
}

// process runs job on a claimed item and records the outcome, which also
// releases the claim. The tracker already reports key as working; it is
// finished only once the outcome is stored. Only store errors are returned.
func (r *Runner) process(ctx context.Context, k dataset.Kind, key workqueue.Key, job Job, path string, resume bool) (*Result, error) {
	log := r.log.With(zap.Stringer("item", key), zap.String("job", string(job)))
	log.Info("running job")

	var ok bool
	switch job {
	case JobArchive:
		ok = r.archiveItem(ctx, k, key, path, resume, log)
	case JobCheck:
		ok = r.checkItem(ctx, k, key, log)
	default:
		r.tracker.Released(key)
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
	defer r.tracker.Finished(key, ok)

	res := &Result{Key: key, Job: job, OK: ok}
	if r.opts.Debug {
		log.Info("debug mode: status not recorded", zap.Bool("ok", ok))
		return res, nil
	}

	var err error
	switch {
	case job == JobArchive && ok:
		log.Info("marking item as archived")
		_, err = r.queue.MarkArchived(ctx, key)
	case job == JobArchive:
		log.Warn("marking item as failed archive")
		_, err = r.queue.MarkFailedArchive(ctx, key)
	case ok:
		log.Info("marking item as checked")
		_, err = r.queue.MarkChecked(ctx, key)
	default:
		log.Warn("marking item as failed check")
		_, err = r.queue.MarkFailedCheck(ctx, key)
	}
	if err != nil {
		return nil, fmt.Errorf("record %s outcome for %s: %w", job, key, err)
	}
	res.Recorded = true
	return res, nil
}
