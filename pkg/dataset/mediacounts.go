package dataset

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/3leaps/dumpkeeper/pkg/archive"
	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

// KindMediaCounts is the daily media file request count kind.
const KindMediaCounts workqueue.Kind = "mediacounts"

const (
	mediaCountsMain = "mediacounts.%s.v00.tsv.bz2"
	mediaCountsTop  = "mediacounts.top1000.%s.v00.csv.zip"
)

var (
	mediaCountsFile = regexp.MustCompile(`^mediacounts\.(\d{4}-\d{2}-\d{2})\.v00\.tsv\.bz2$`)
	yearDir         = regexp.MustCompile(`^\d{4}$`)
)

// MediaCounts archives the daily media request counts, one item per day.
// Files live in per-year directories upstream and are downloaded before
// upload.
type MediaCounts struct {
	base
}

var _ Kind = (*MediaCounts)(nil)

// NewMediaCounts builds the mediacounts kind.
func NewMediaCounts(s Settings, d Deps) *MediaCounts {
	return &MediaCounts{base: newBase(KindMediaCounts, 2*24*time.Hour, s, d)}
}

func (k *MediaCounts) MultiSubject() bool { return false }

func (k *MediaCounts) Subjects(context.Context) ([]string, error) {
	return []string{""}, nil
}

// Snapshots lists every day with a main counts file, across all years.
func (k *MediaCounts) Snapshots(ctx context.Context, _ string) ([]time.Time, error) {
	years, err := k.client.Links(ctx, k.url()+"/")
	if err != nil {
		return nil, fmt.Errorf("list mediacounts years: %w", err)
	}

	var days []string
	for _, y := range years {
		if !yearDir.MatchString(y) {
			continue
		}
		files, err := k.client.Links(ctx, k.url(y)+"/")
		if err != nil {
			return nil, fmt.Errorf("list mediacounts %s: %w", y, err)
		}
		for _, f := range files {
			if m := mediaCountsFile.FindStringSubmatch(f); m != nil {
				days = append(days, m[1])
			}
		}
	}

	dates := make([]time.Time, 0, len(days))
	for _, d := range days {
		t, err := workqueue.ParseArchiveDate(d)
		if err != nil {
			continue
		}
		dates = append(dates, t)
	}
	return sortDates(dates), nil
}

// Probe always reports done: a day's file is published once complete.
func (k *MediaCounts) Probe(context.Context, workqueue.Key) (workqueue.Progress, error) {
	return workqueue.ProgressDone, nil
}

func (k *MediaCounts) Ready(context.Context, workqueue.Key) (bool, error) {
	return true, nil
}

// Files is the day's main counts file plus the top-1000 file when published.
func (k *MediaCounts) Files(ctx context.Context, key workqueue.Key) ([]string, error) {
	day := workqueue.ArchiveDate(key.Date)
	files := []string{fmt.Sprintf(mediaCountsMain, day)}

	top := fmt.Sprintf(mediaCountsTop, day)
	ok, err := k.client.Exists(ctx, k.url(key.Date.Format("2006"), top))
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", top, err)
	}
	if ok {
		files = append(files, top)
	}
	return k.filter(files)
}

func (k *MediaCounts) Source(key workqueue.Key) Source {
	return Source{
		Dir:      filepath.Join(k.settings.TempDir, string(KindMediaCounts), workqueue.CompactDate(key.Date)),
		BaseURL:  k.url(key.Date.Format("2006")),
		Download: true,
	}
}

func (k *MediaCounts) Metadata(key workqueue.Key) archive.Metadata {
	human := workqueue.HumanDate(key.Date)
	return k.metadata(key,
		fmt.Sprintf("Wikimedia statistics files for media files visits on %s", human),
		fmt.Sprintf("This is the Wikimedia statistics files for visits to media files on upload.wikimedia.org on %s.", human),
		"",
	)
}
