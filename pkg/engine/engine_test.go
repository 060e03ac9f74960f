package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/clock/testclock"

	"github.com/3leaps/dumpkeeper/pkg/archive"
	"github.com/3leaps/dumpkeeper/pkg/archive/archivetest"
	"github.com/3leaps/dumpkeeper/pkg/dataset"
	"github.com/3leaps/dumpkeeper/pkg/retry"
	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

// fakeKind is a multi-subject kind whose files live in root/<subject>/<date>.
type fakeKind struct {
	name     workqueue.Kind
	multi    bool
	root     string
	baseURL  string
	download bool
	cooldown time.Duration

	files     []string
	checksums []string
	snapshots map[string][]time.Time
	progress  map[string]workqueue.Progress
	probeErr  error
	notReady  map[string]bool
}

var (
	_ dataset.Kind       = (*fakeKind)(nil)
	_ dataset.LocalFiler = (*fakeKind)(nil)
)

func newFakeKind(root string) *fakeKind {
	return &fakeKind{
		name:      "dumps",
		multi:     true,
		root:      root,
		cooldown:  7 * 24 * time.Hour,
		files:     []string{"a.xml.bz2", "b.xml.bz2", "dumpruninfo.txt"},
		snapshots: map[string][]time.Time{},
		progress:  map[string]workqueue.Progress{},
		notReady:  map[string]bool{},
	}
}

func (k *fakeKind) Name() workqueue.Kind    { return k.name }
func (k *fakeKind) MultiSubject() bool      { return k.multi }
func (k *fakeKind) Cooldown() time.Duration { return k.cooldown }

func (k *fakeKind) Subjects(context.Context) ([]string, error) {
	if !k.multi {
		return []string{""}, nil
	}
	return []string{"testwiki"}, nil
}

func (k *fakeKind) Snapshots(_ context.Context, subject string) ([]time.Time, error) {
	return k.snapshots[subject], nil
}

func (k *fakeKind) Probe(_ context.Context, key workqueue.Key) (workqueue.Progress, error) {
	if k.probeErr != nil {
		return workqueue.ProgressUnknown, k.probeErr
	}
	if p, ok := k.progress[key.String()]; ok {
		return p, nil
	}
	return workqueue.ProgressUnknown, nil
}

func (k *fakeKind) Ready(_ context.Context, key workqueue.Key) (bool, error) {
	return !k.notReady[key.String()], nil
}

func (k *fakeKind) Files(context.Context, workqueue.Key) ([]string, error) {
	return k.files, nil
}

func (k *fakeKind) Source(key workqueue.Key) dataset.Source {
	return dataset.Source{
		Dir:      filepath.Join(k.root, key.Subject, workqueue.CompactDate(key.Date)),
		BaseURL:  k.baseURL,
		Download: k.download,
	}
}

func (k *fakeKind) LocalFiles(_ workqueue.Key, dir string) []string {
	var out []string
	for _, name := range k.checksums {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			out = append(out, name)
		}
	}
	return out
}

func (k *fakeKind) Identifier(key workqueue.Key) string {
	return archive.Identifier(string(k.name), key.Subject, key.Date)
}

func (k *fakeKind) Metadata(key workqueue.Key) archive.Metadata {
	return archive.Metadata{
		"collection":  "wikimediadownloads",
		"creator":     "Wikimedia Foundation",
		"contributor": "Wikimedia Foundation",
		"mediatype":   "web",
		"rights":      "https://dumps.wikimedia.org/legal.html",
		"licenseurl":  "https://creativecommons.org/licenses/by-sa/3.0/",
		"date":        workqueue.ArchiveDate(key.Date),
		"subject":     "wiki;dumps",
		"title":       "dump of " + key.Subject,
		"description": "test dump",
	}
}

type harness struct {
	// ctx skips retry pauses.
	ctx    context.Context
	store  *workqueue.Store
	kind   *fakeKind
	stub   *archivetest.Stub
	delays []time.Duration
	runner *Runner
	key    workqueue.Key
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	store, err := workqueue.OpenStore(context.Background(), workqueue.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		store: store,
		kind:  newFakeKind(t.TempDir()),
		stub:  archivetest.NewStub(),
		key: workqueue.Key{
			Kind:    "dumps",
			Subject: "testwiki",
			Date:    time.Date(2015, 7, 3, 0, 0, 0, 0, time.UTC),
		},
	}
	policy := retry.DefaultPolicy()
	policy.Debug = opts.Debug
	policy.OnRetry = func(_ int, d time.Duration, _ error) {
		h.delays = append(h.delays, d)
	}
	ctx, tc := testclock.UseTime(context.Background(), time.Date(2015, 9, 1, 0, 0, 0, 0, time.UTC))
	tc.SetTimerCallback(func(d time.Duration, _ clock.Timer) { tc.Add(d) })
	h.ctx = ctx

	kinds, err := dataset.NewRegistry(h.kind)
	require.NoError(t, err)
	if opts.Host == "" {
		opts.Host = "worker-1"
	}
	h.runner = NewRunner(store, kinds, archive.NewRetrying(h.stub, policy, nil), nil, opts, nil)
	return h
}

func (h *harness) insert(t *testing.T, item workqueue.WorkItem) {
	t.Helper()
	ok, err := h.store.Insert(context.Background(), item)
	require.NoError(t, err)
	require.True(t, ok)
}

func (h *harness) eligibleRow() workqueue.WorkItem {
	item := workqueue.NewItem(h.key, workqueue.ProgressDone)
	item.CanArchive = true
	return item
}

func (h *harness) writeFiles(t *testing.T, names ...string) string {
	t.Helper()
	dir := h.kind.Source(h.key).Dir
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
	return dir
}

func (h *harness) get(t *testing.T) *workqueue.WorkItem {
	t.Helper()
	item, err := h.store.Get(context.Background(), h.key)
	require.NoError(t, err)
	return item
}

func TestParseJob(t *testing.T) {
	tests := []struct {
		in      string
		want    Job
		wantErr bool
	}{
		{in: "", want: JobArchive},
		{in: "archive", want: JobArchive},
		{in: "CHECK", want: JobCheck},
		{in: " update ", want: JobUpdate},
		{in: "delete", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseJob(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownJob)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunOnceArchivesEligibleItem(t *testing.T) {
	h := newHarness(t, Options{Scanner: "dumpkeeper test"})
	h.insert(t, h.eligibleRow())
	h.writeFiles(t, h.kind.files...)

	n, err := h.runner.RunOnce(h.ctx, JobArchive)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item := h.get(t)
	assert.Equal(t, workqueue.StateDone, item.IsArchived)
	assert.Empty(t, item.ClaimedBy)
	assert.Nil(t, item.ClaimedAt)

	id := "dumps-testwiki-20150703"
	assert.Equal(t, []string{"a.xml.bz2", "b.xml.bz2", "dumpruninfo.txt"}, h.stub.Files(id))
	assert.Equal(t, "dumpkeeper test", h.stub.Metadata(id).Get("scanner"))
	assert.Empty(t, h.delays)
}

func TestRunOnceIneligibleRowIsNotDispatched(t *testing.T) {
	h := newHarness(t, Options{Crontab: true, Sleep: func(context.Context, time.Duration) error {
		t.Fatal("crontab mode must not sleep")
		return nil
	}})
	row := h.eligibleRow()
	row.CanArchive = false
	h.insert(t, row)

	require.NoError(t, h.runner.Run(context.Background(), JobArchive))
	assert.Zero(t, h.stub.Calls())
	item := h.get(t)
	assert.Equal(t, workqueue.StateNone, item.IsArchived)
	assert.Empty(t, item.ClaimedBy)
}

func TestRunOnceFailingArchiveMarksFailed(t *testing.T) {
	h := newHarness(t, Options{})
	h.stub.Err = errors.New("archive unavailable")
	h.insert(t, h.eligibleRow())
	h.writeFiles(t, h.kind.files...)

	n, err := h.runner.RunOnce(h.ctx, JobArchive)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item := h.get(t)
	assert.Equal(t, workqueue.StateFailed, item.IsArchived)
	assert.Empty(t, item.ClaimedBy)
	assert.Equal(t, 3, h.stub.UploadCalls)
	assert.Equal(t, []time.Duration{60 * time.Second, 120 * time.Second}, h.delays)

	// Failed rows are not selected again.
	n, err = h.runner.RunOnce(h.ctx, JobArchive)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunOnceIncompleteDirFailsWithoutArchiveCalls(t *testing.T) {
	h := newHarness(t, Options{})
	h.insert(t, h.eligibleRow())
	h.writeFiles(t, "a.xml.bz2")

	_, err := h.runner.RunOnce(h.ctx, JobArchive)
	require.NoError(t, err)

	assert.Equal(t, workqueue.StateFailed, h.get(t).IsArchived)
	assert.Zero(t, h.stub.Calls())
	assert.Empty(t, h.delays)
}

func TestRunOnceSkipsClaimedRows(t *testing.T) {
	h := newHarness(t, Options{})
	h.insert(t, h.eligibleRow())
	h.writeFiles(t, h.kind.files...)

	ok, err := h.store.Claim(context.Background(), h.key, "worker-2")
	require.NoError(t, err)
	require.True(t, ok)

	n, err := h.runner.RunOnce(h.ctx, JobArchive)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "worker-2", h.get(t).ClaimedBy)
}

func TestRunOnceUploadsChecksums(t *testing.T) {
	h := newHarness(t, Options{})
	h.kind.checksums = []string{"testwiki-20150703-md5sums.txt", "testwiki-20150703-sha1sums.txt"}
	h.insert(t, h.eligibleRow())
	h.writeFiles(t, append(h.kind.files, "testwiki-20150703-md5sums.txt")...)

	_, err := h.runner.RunOnce(h.ctx, JobArchive)
	require.NoError(t, err)
	assert.Contains(t, h.stub.Files("dumps-testwiki-20150703"), "testwiki-20150703-md5sums.txt")
	assert.NotContains(t, h.stub.Files("dumps-testwiki-20150703"), "testwiki-20150703-sha1sums.txt")
}

func TestRunOnceDebugWritesNothing(t *testing.T) {
	h := newHarness(t, Options{Debug: true})
	h.insert(t, h.eligibleRow())
	h.writeFiles(t, h.kind.files...)

	n, err := h.runner.RunOnce(h.ctx, JobArchive)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item := h.get(t)
	assert.Equal(t, workqueue.StateNone, item.IsArchived)
	assert.Empty(t, item.ClaimedBy)
	assert.Zero(t, h.stub.Calls())
	assert.Empty(t, h.delays)
}

func TestRunOnceCheck(t *testing.T) {
	tests := []struct {
		name   string
		seeded []string
		want   workqueue.ArchiveState
	}{
		{name: "complete", seeded: []string{"a.xml.bz2", "b.xml.bz2", "dumpruninfo.txt", "dumps-testwiki-20150703_files.xml"}, want: workqueue.StateDone},
		{name: "incomplete", seeded: []string{"a.xml.bz2"}, want: workqueue.StateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			row := h.eligibleRow()
			row.IsArchived = workqueue.StateDone
			h.insert(t, row)
			h.stub.Seed("dumps-testwiki-20150703", tt.seeded...)

			n, err := h.runner.RunOnce(h.ctx, JobCheck)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			item := h.get(t)
			assert.Equal(t, tt.want, item.IsChecked)
			assert.Empty(t, item.ClaimedBy)
		})
	}
}

func TestRunOnceCheckNeedsArchivedRow(t *testing.T) {
	h := newHarness(t, Options{})
	h.insert(t, h.eligibleRow())

	n, err := h.runner.RunOnce(h.ctx, JobCheck)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, workqueue.StateNone, h.get(t).IsChecked)
}

func TestDispatchCheckNeedsArchivedRow(t *testing.T) {
	date := time.Date(2015, 7, 3, 0, 0, 0, 0, time.UTC)
	target := Target{Kind: "dumps", Subject: "testwiki", Date: date, Job: JobCheck}

	for _, state := range []workqueue.ArchiveState{workqueue.StateNone, workqueue.StateFailed} {
		t.Run(state.String(), func(t *testing.T) {
			h := newHarness(t, Options{})
			row := h.eligibleRow()
			row.IsArchived = state
			h.insert(t, row)
			h.stub.Seed("dumps-testwiki-20150703", "a.xml.bz2", "b.xml.bz2", "dumpruninfo.txt", "dumps-testwiki-20150703_files.xml")

			_, err := h.runner.Dispatch(h.ctx, target)
			assert.ErrorIs(t, err, ErrInvalidTarget)

			item := h.get(t)
			assert.Equal(t, workqueue.StateNone, item.IsChecked)
			assert.Equal(t, state, item.IsArchived)
			assert.Empty(t, item.ClaimedBy)
			assert.Zero(t, h.stub.Calls())
		})
	}

	t.Run("untracked", func(t *testing.T) {
		h := newHarness(t, Options{})
		_, err := h.runner.Dispatch(h.ctx, target)
		assert.ErrorIs(t, err, ErrInvalidTarget)
		assert.Zero(t, h.stub.Calls())
	})

	t.Run("archived", func(t *testing.T) {
		h := newHarness(t, Options{})
		row := h.eligibleRow()
		row.IsArchived = workqueue.StateDone
		h.insert(t, row)
		h.stub.Seed("dumps-testwiki-20150703", "a.xml.bz2", "b.xml.bz2", "dumpruninfo.txt", "dumps-testwiki-20150703_files.xml")

		res, err := h.runner.Dispatch(h.ctx, target)
		require.NoError(t, err)
		assert.True(t, res.OK)
		assert.Equal(t, workqueue.StateDone, h.get(t).IsChecked)
	})
}

// orderTracker records the row as stored at each tracker event.
type orderTracker struct {
	t      *testing.T
	store  *workqueue.Store
	events []string
	rows   []workqueue.WorkItem
}

func (o *orderTracker) record(event string, key workqueue.Key) {
	item, err := o.store.Get(context.Background(), key)
	require.NoError(o.t, err)
	o.events = append(o.events, event)
	o.rows = append(o.rows, *item)
}

func (o *orderTracker) Working(key workqueue.Key)          { o.record("working", key) }
func (o *orderTracker) Released(key workqueue.Key)         { o.record("released", key) }
func (o *orderTracker) Finished(key workqueue.Key, _ bool) { o.record("finished", key) }
func (o *orderTracker) Idle()                              {}

func TestTrackerCoversTheWholeClaim(t *testing.T) {
	h := newHarness(t, Options{})
	h.insert(t, h.eligibleRow())
	h.writeFiles(t, h.kind.files...)
	tracker := &orderTracker{t: t, store: h.store}
	h.runner.SetTracker(tracker)

	_, err := h.runner.RunOnce(h.ctx, JobArchive)
	require.NoError(t, err)

	require.Equal(t, []string{"working", "finished"}, tracker.events)
	// Working is reported before the row is claimed.
	assert.Empty(t, tracker.rows[0].ClaimedBy)
	// Finished is reported once the outcome is stored and the claim released.
	assert.Equal(t, workqueue.StateDone, tracker.rows[1].IsArchived)
	assert.Empty(t, tracker.rows[1].ClaimedBy)
}

func TestTrackerReleasedWhenClaimIsLost(t *testing.T) {
	h := newHarness(t, Options{})
	h.insert(t, h.eligibleRow())
	_, err := h.store.Claim(context.Background(), h.key, "worker-2")
	require.NoError(t, err)
	tracker := &orderTracker{t: t, store: h.store}
	h.runner.SetTracker(tracker)

	date := time.Date(2015, 7, 3, 0, 0, 0, 0, time.UTC)
	_, err = h.runner.Dispatch(h.ctx, Target{Kind: "dumps", Subject: "testwiki", Date: date})
	assert.ErrorIs(t, err, ErrClaimed)
	assert.Equal(t, []string{"working", "released"}, tracker.events)
}

func TestRunSleepsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var slept []time.Duration
	h := newHarness(t, Options{Sleep: func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		cancel()
		return ctx.Err()
	}})

	err := h.runner.Run(ctx, JobArchive)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []time.Duration{DefaultIdleSleep}, slept)
}

func TestDispatchTargets(t *testing.T) {
	date := time.Date(2015, 7, 3, 0, 0, 0, 0, time.UTC)

	t.Run("unknown kind", func(t *testing.T) {
		h := newHarness(t, Options{})
		_, err := h.runner.Dispatch(h.ctx, Target{Kind: "pageviews", Date: date})
		assert.ErrorIs(t, err, dataset.ErrUnknownKind)
	})

	t.Run("missing subject", func(t *testing.T) {
		h := newHarness(t, Options{})
		_, err := h.runner.Dispatch(h.ctx, Target{Kind: "dumps", Date: date})
		assert.ErrorIs(t, err, ErrInvalidTarget)
	})

	t.Run("missing date", func(t *testing.T) {
		h := newHarness(t, Options{})
		_, err := h.runner.Dispatch(h.ctx, Target{Kind: "dumps", Subject: "testwiki"})
		assert.ErrorIs(t, err, ErrInvalidTarget)
	})

	t.Run("unknown job leaves the row unclaimed", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.insert(t, h.eligibleRow())
		_, err := h.runner.Dispatch(h.ctx, Target{Kind: "dumps", Subject: "testwiki", Date: date, Job: "delete"})
		assert.ErrorIs(t, err, ErrUnknownJob)
		assert.Empty(t, h.get(t).ClaimedBy)
	})

	t.Run("claimed elsewhere", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.insert(t, h.eligibleRow())
		_, err := h.store.Claim(context.Background(), h.key, "worker-2")
		require.NoError(t, err)

		_, err = h.runner.Dispatch(h.ctx, Target{Kind: "dumps", Subject: "testwiki", Date: date})
		assert.ErrorIs(t, err, ErrClaimed)
		assert.Zero(t, h.stub.Calls())
	})

	t.Run("archive with path override", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.insert(t, h.eligibleRow())
		dir := t.TempDir()
		for _, name := range h.kind.files {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
		}

		res, err := h.runner.Dispatch(h.ctx, Target{Kind: "dumps", Subject: "testwiki", Date: date, Path: dir})
		require.NoError(t, err)
		assert.True(t, res.OK)
		assert.True(t, res.Recorded)
		assert.Equal(t, workqueue.StateDone, h.get(t).IsArchived)
	})

	t.Run("resume uploads missing files only", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.insert(t, h.eligibleRow())
		h.writeFiles(t, h.kind.files...)
		h.stub.Seed("dumps-testwiki-20150703", "a.xml.bz2")

		res, err := h.runner.Dispatch(h.ctx, Target{Kind: "dumps", Subject: "testwiki", Date: date, Resume: true})
		require.NoError(t, err)
		assert.True(t, res.OK)
		assert.Equal(t, 1, h.stub.ListCalls)
		assert.Equal(t, 2, h.stub.UploadCalls)
		assert.Equal(t, 1, h.stub.MetadataCalls)
		assert.Equal(t, []string{"a.xml.bz2", "b.xml.bz2", "dumpruninfo.txt"}, h.stub.Files("dumps-testwiki-20150703"))
	})

	t.Run("untracked target", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.writeFiles(t, h.kind.files...)

		res, err := h.runner.Dispatch(h.ctx, Target{Kind: "dumps", Subject: "testwiki", Date: date})
		require.NoError(t, err)
		assert.True(t, res.OK)
		_, err = h.store.Get(context.Background(), h.key)
		assert.ErrorIs(t, err, workqueue.ErrNotFound)
	})
}

type fakeFetcher struct {
	calls []string
}

func (f *fakeFetcher) Download(_ context.Context, url, dest string) (int64, error) {
	f.calls = append(f.calls, url)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	return 1, os.WriteFile(dest, []byte("x"), 0o644)
}

func TestArchiveDownloadsAndCleansUp(t *testing.T) {
	h := newHarness(t, Options{})
	h.kind.download = true
	h.kind.baseURL = "https://dumps.example.org/other/testwiki/"
	fetch := &fakeFetcher{}
	h.runner.fetch = fetch
	h.insert(t, h.eligibleRow())

	_, err := h.runner.RunOnce(h.ctx, JobArchive)
	require.NoError(t, err)

	assert.Equal(t, workqueue.StateDone, h.get(t).IsArchived)
	assert.Equal(t, []string{
		"https://dumps.example.org/other/testwiki/a.xml.bz2",
		"https://dumps.example.org/other/testwiki/b.xml.bz2",
		"https://dumps.example.org/other/testwiki/dumpruninfo.txt",
	}, fetch.calls)

	entries, err := os.ReadDir(h.kind.Source(h.key).Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
