package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/dumpkeeper/pkg/dataset"
	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

// UpdaterOptions tune an Updater.
type UpdaterOptions struct {
	// Debug logs every change instead of writing it.
	Debug bool
	Now   func() time.Time
}

// Updater keeps the queue in step with upstream: it registers new
// snapshots, follows their generation progress, and decides when a
// snapshot may be archived.
type Updater struct {
	queue Queue
	opts  UpdaterOptions
	log   *zap.Logger
}

// NewUpdater builds an updater. A nil logger discards output.
func NewUpdater(queue Queue, opts UpdaterOptions, log *zap.Logger) *Updater {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Updater{queue: queue, opts: opts, log: log}
}

// UpdateStats counts the changes one pass made (or would make in debug mode).
type UpdateStats struct {
	Subjects        int
	Inserted        int
	ProgressChanged int
	Enabled         int
	Disabled        int
	// Skipped counts subjects whose upstream listing failed.
	Skipped int
}

func (s *UpdateStats) add(o UpdateStats) {
	s.Subjects += o.Subjects
	s.Inserted += o.Inserted
	s.ProgressChanged += o.ProgressChanged
	s.Enabled += o.Enabled
	s.Disabled += o.Disabled
	s.Skipped += o.Skipped
}

// Update runs one catalog pass for k. Upstream failures are logged and the
// subject skipped; store failures abort the pass. Running it twice with no
// upstream change makes no changes the second time.
func (u *Updater) Update(ctx context.Context, k dataset.Kind) (UpdateStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := u.log.With(zap.String("kind", string(k.Name())), zap.String("job", string(JobUpdate)))

	var stats UpdateStats
	subjects, err := k.Subjects(ctx)
	if err != nil {
		log.Error("failed to list subjects", zap.Error(err))
		return stats, nil
	}

	for _, subject := range subjects {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		s, err := u.updateSubject(ctx, k, subject, log)
		stats.add(s)
		if err != nil {
			return stats, err
		}
	}

	log.Info("catalog updated",
		zap.Int("subjects", stats.Subjects),
		zap.Int("inserted", stats.Inserted),
		zap.Int("progress_changed", stats.ProgressChanged),
		zap.Int("enabled", stats.Enabled),
		zap.Int("disabled", stats.Disabled),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}

func (u *Updater) updateSubject(ctx context.Context, k dataset.Kind, subject string, log *zap.Logger) (UpdateStats, error) {
	var stats UpdateStats
	if subject != "" {
		log = log.With(zap.String("subject", subject))
	}

	dates, err := k.Snapshots(ctx, subject)
	if err != nil {
		log.Warn("failed to list snapshots", zap.Error(err))
		stats.Skipped++
		return stats, nil
	}
	stats.Subjects++

	existing, err := u.queue.List(ctx, workqueue.Conditions{
		workqueue.ColKind:    k.Name(),
		workqueue.ColSubject: subject,
	})
	if err != nil {
		return stats, err
	}
	known := make(map[string]bool, len(existing))
	for _, item := range existing {
		known[workqueue.CompactDate(item.Date)] = true
	}
	upstreamDates := make(map[string]bool, len(dates))
	fresh := make(map[string]bool)

	// Register new snapshots.
	for _, date := range dates {
		day := workqueue.CompactDate(date)
		upstreamDates[day] = true
		if known[day] {
			continue
		}
		key := workqueue.Key{Kind: k.Name(), Subject: subject, Date: date}
		progress, err := k.Probe(ctx, key)
		if err != nil {
			log.Warn("failed to probe snapshot status", zap.Stringer("item", key), zap.Error(err))
			progress = workqueue.ProgressUnknown
		}
		if !progress.Valid() {
			progress = workqueue.ProgressUnknown
		}
		item := workqueue.NewItem(key, progress)
		stats.Inserted++
		log.Info("registering new snapshot", zap.Stringer("item", key), zap.String("progress", string(progress)))
		if !u.opts.Debug {
			if _, err := u.queue.Insert(ctx, item); err != nil {
				return stats, err
			}
		}
		known[day] = true
		fresh[day] = true
		existing = append(existing, item)
	}

	for i := range existing {
		item := &existing[i]
		day := workqueue.CompactDate(item.Date)
		if err := u.refresh(ctx, k, item, upstreamDates[day], !fresh[day], &stats, log); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// refresh re-probes unfinished rows, enables finished rows that were never
// archived, and re-validates every row that has can_archive set. Claimed
// rows are being worked and are left alone.
func (u *Updater) refresh(ctx context.Context, k dataset.Kind, item *workqueue.WorkItem, listed, reprobe bool, stats *UpdateStats, log *zap.Logger) error {
	if item.Claimed() {
		return nil
	}
	log = log.With(zap.Stringer("item", item.Key))

	if listed && reprobe && item.Progress != workqueue.ProgressDone {
		progress, err := k.Probe(ctx, item.Key)
		if err != nil {
			log.Warn("failed to probe snapshot status", zap.Error(err))
		} else if workqueue.ValidProgressTransition(item.Progress, progress) {
			log.Info("progress changed", zap.String("from", string(item.Progress)), zap.String("to", string(progress)))
			stats.ProgressChanged++
			if !u.opts.Debug {
				if _, err := u.queue.UpdateProgress(ctx, item.Key, progress); err != nil {
					return err
				}
			}
			item.Progress = progress
		}
	}

	switch {
	case !item.CanArchive:
		if item.Progress != workqueue.ProgressDone || item.IsArchived != workqueue.StateNone {
			return nil
		}
		if !listed || u.opts.Now().Sub(item.Date) < k.Cooldown() {
			return nil
		}
		if ok, err := k.Ready(ctx, item.Key); err != nil || !ok {
			if err != nil {
				log.Warn("failed to check snapshot files", zap.Error(err))
			}
			return nil
		}
		log.Info("snapshot can be archived")
		stats.Enabled++
		if !u.opts.Debug {
			if _, err := u.queue.MarkCanArchive(ctx, item.Key, true); err != nil {
				return err
			}
		}
		item.CanArchive = true

	default:
		// Every can_archive row is re-validated, archived or not.
		if listed {
			ok, err := k.Ready(ctx, item.Key)
			if err != nil {
				log.Warn("failed to check snapshot files", zap.Error(err))
				return nil
			}
			if ok {
				return nil
			}
		}
		log.Warn("snapshot files are gone, withdrawing it from archiving", zap.Bool("listed", listed))
		stats.Disabled++
		if !u.opts.Debug {
			if _, err := u.queue.MarkCanArchive(ctx, item.Key, false); err != nil {
				return err
			}
		}
		item.CanArchive = false
	}
	return nil
}
