package dataset

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/3leaps/dumpkeeper/pkg/archive"
	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

// KindCirrusSearch is the weekly search index dump kind.
const KindCirrusSearch workqueue.Kind = "cirrussearch"

// CirrusSearch archives the weekly search index dumps. There is no local
// mirror; files are downloaded to a temporary directory before upload.
type CirrusSearch struct {
	base
}

var _ Kind = (*CirrusSearch)(nil)

// NewCirrusSearch builds the cirrussearch kind.
func NewCirrusSearch(s Settings, d Deps) *CirrusSearch {
	return &CirrusSearch{base: newBase(KindCirrusSearch, 7*24*time.Hour, s, d)}
}

func (k *CirrusSearch) MultiSubject() bool { return false }

func (k *CirrusSearch) Subjects(context.Context) ([]string, error) {
	return []string{""}, nil
}

// Snapshots lists the dated directories; the "current" alias is not a date
// and is skipped.
func (k *CirrusSearch) Snapshots(ctx context.Context, _ string) ([]time.Time, error) {
	links, err := k.client.Links(ctx, k.url()+"/")
	if err != nil {
		return nil, fmt.Errorf("list cirrussearch dumps: %w", err)
	}
	return snapshotDates(links), nil
}

// Probe always reports done: a directory only appears once it is complete.
func (k *CirrusSearch) Probe(context.Context, workqueue.Key) (workqueue.Progress, error) {
	return workqueue.ProgressDone, nil
}

func (k *CirrusSearch) Ready(context.Context, workqueue.Key) (bool, error) {
	return true, nil
}

func (k *CirrusSearch) Files(ctx context.Context, key workqueue.Key) ([]string, error) {
	links, err := k.client.Links(ctx, k.url(workqueue.CompactDate(key.Date))+"/")
	if err != nil {
		return nil, fmt.Errorf("list files of %s: %w", key, err)
	}
	return k.filter(links)
}

func (k *CirrusSearch) Source(key workqueue.Key) Source {
	date := workqueue.CompactDate(key.Date)
	return Source{
		Dir:      filepath.Join(k.settings.TempDir, string(KindCirrusSearch), date),
		BaseURL:  k.url(date),
		Download: true,
	}
}

func (k *CirrusSearch) Metadata(key workqueue.Key) archive.Metadata {
	human := workqueue.HumanDate(key.Date)
	return k.metadata(key,
		fmt.Sprintf("Wikimedia CirrusSearch dump files of Wikimedia wikis on %s", human),
		fmt.Sprintf("This is the CirrusSearch dump files of Wikimedia wikis which contains the search indexes dumped in elasticsearch bulk insert format and is generated by the Wikimedia Foundation on %s.", human),
		"",
	)
}
