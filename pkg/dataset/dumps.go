package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/dumpkeeper/pkg/archive"
	"github.com/3leaps/dumpkeeper/pkg/upstream"
	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

// KindDumps is the per-wiki database dump kind.
const KindDumps workqueue.Kind = "dumps"

// Files present in every dump directory besides the listed dump files.
var dumpsAdditional = []string{upstream.StatusFile, "status.html"}

var dumpsChecksums = []string{"md5sums.txt", "sha1sums.txt"}

// Dumps archives the per-wiki database dumps. Files are uploaded in place
// from a local mirror of the dump tree.
type Dumps struct {
	base
	dblists *upstream.DBListCache
}

var (
	_ Kind       = (*Dumps)(nil)
	_ LocalFiler = (*Dumps)(nil)
)

// NewDumps builds the dumps kind.
func NewDumps(s Settings, d Deps) *Dumps {
	return &Dumps{
		base:    newBase(KindDumps, 7*24*time.Hour, s, d),
		dblists: d.DBLists,
	}
}

func (k *Dumps) MultiSubject() bool { return true }

// Subjects is every public wiki: the full database list minus the private one.
func (k *Dumps) Subjects(ctx context.Context) ([]string, error) {
	if k.dblists == nil || k.settings.AllDBList == "" {
		return nil, errors.New("dumps: all_dblist url is not configured")
	}
	all, err := k.dblists.Get(ctx, "all.dblist", k.settings.AllDBList)
	if err != nil {
		return nil, err
	}
	if k.settings.PrivateDBList == "" {
		return all, nil
	}
	private, err := k.dblists.Get(ctx, "private.dblist", k.settings.PrivateDBList)
	if err != nil {
		return nil, err
	}
	return upstream.Subtract(all, private), nil
}

func (k *Dumps) Snapshots(ctx context.Context, subject string) ([]time.Time, error) {
	links, err := k.client.Links(ctx, k.url(subject)+"/")
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list dumps of %s: %w", subject, err)
	}
	return snapshotDates(links), nil
}

func (k *Dumps) Probe(ctx context.Context, key workqueue.Key) (workqueue.Progress, error) {
	return k.client.Status(ctx, k.url(key.Subject, workqueue.CompactDate(key.Date), upstream.StatusFile))
}

// Files lists the dump files linked from the snapshot's index page plus the
// status files every dump directory carries.
func (k *Dumps) Files(ctx context.Context, key workqueue.Key) ([]string, error) {
	links, err := k.client.Links(ctx, k.url(key.Subject, workqueue.CompactDate(key.Date))+"/")
	if err != nil {
		return nil, fmt.Errorf("list files of %s: %w", key, err)
	}
	return k.filter(append(links, dumpsAdditional...))
}

// Ready reports whether the local mirror holds every file of the snapshot.
func (k *Dumps) Ready(ctx context.Context, key workqueue.Key) (bool, error) {
	files, err := k.Files(ctx, key)
	if err != nil {
		return false, err
	}
	dir := k.Source(key).Dir
	if err := upstream.CheckDir(dir, files); err != nil {
		if errors.Is(err, upstream.ErrIncompleteDir) {
			k.log.Debug("local dump directory incomplete", zap.String("subject", key.Subject), zap.Error(err))
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (k *Dumps) Source(key workqueue.Key) Source {
	date := workqueue.CompactDate(key.Date)
	return Source{
		Dir:     filepath.Join(k.settings.DumpDir, key.Subject, date),
		BaseURL: k.url(key.Subject, date),
	}
}

// LocalFiles returns the checksum files present in dir.
func (k *Dumps) LocalFiles(key workqueue.Key, dir string) []string {
	var out []string
	for _, suffix := range dumpsChecksums {
		name := fmt.Sprintf("%s-%s-%s", key.Subject, workqueue.CompactDate(key.Date), suffix)
		if fi, err := os.Stat(filepath.Join(dir, name)); err == nil && fi.Mode().IsRegular() {
			out = append(out, name)
		}
	}
	return out
}

func (k *Dumps) Metadata(key workqueue.Key) archive.Metadata {
	wiki := DescribeWiki(key.Subject, k.settings.Languages)
	human := workqueue.HumanDate(key.Date)
	return k.metadata(key,
		fmt.Sprintf("Wikimedia database dump of %s on %s", wiki.Site, human),
		fmt.Sprintf("This is the full database dump of %s that is generated by the Wikimedia Foundation on %s.", wiki.Site, human),
		fmt.Sprintf("wiki;dumps;data dumps;%s;%s;%s", key.Subject, wiki.Language, wiki.Project),
	)
}
