// Package dataset describes the dataset kinds the runner archives. Each kind
// knows where its snapshots live upstream, how to tell whether one is
// complete, which files belong to it, and how its archive item is described.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/3leaps/dumpkeeper/pkg/archive"
	"github.com/3leaps/dumpkeeper/pkg/upstream"
	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

// ErrUnknownKind is returned for a kind name nobody registered.
var ErrUnknownKind = errors.New("unknown dataset kind")

// Source says where the files of a snapshot are read from.
type Source struct {
	// Dir is the local directory holding (or receiving) the files.
	Dir string
	// BaseURL is the upstream directory the files are fetched from.
	BaseURL string
	// Download is true when files must be fetched into Dir before upload and
	// removed afterwards.
	Download bool
}

// Kind is the strategy the generic engine drives for one dataset type.
type Kind interface {
	Name() workqueue.Kind
	// MultiSubject reports whether snapshots are per subject (per wiki).
	MultiSubject() bool
	// Cooldown is how old a finished snapshot must be before upload.
	Cooldown() time.Duration

	// Subjects lists the subjects to track. Single-subject kinds return [""].
	Subjects(ctx context.Context) ([]string, error)
	// Snapshots lists the snapshot dates currently available upstream.
	Snapshots(ctx context.Context, subject string) ([]time.Time, error)
	// Probe reports the upstream generation status of a snapshot.
	Probe(ctx context.Context, key workqueue.Key) (workqueue.Progress, error)
	// Ready reports whether every file of a finished snapshot can be read.
	Ready(ctx context.Context, key workqueue.Key) (bool, error)

	// Files lists the file names that make up the snapshot.
	Files(ctx context.Context, key workqueue.Key) ([]string, error)
	// Source says where those files are read from.
	Source(key workqueue.Key) Source

	Identifier(key workqueue.Key) string
	Metadata(key workqueue.Key) archive.Metadata
}

// LocalFiler is implemented by kinds that upload extra files found only in
// the local directory (checksums, for instance).
type LocalFiler interface {
	LocalFiles(key workqueue.Key, dir string) []string
}

// Settings is the per-kind configuration.
type Settings struct {
	Collection  string
	Creator     string
	Contributor string
	MediaType   string
	Rights      string
	LicenseURL  string
	// Subject is the archive subject field (keywords separated by ";").
	Subject string

	// BaseURL is the upstream root for this kind.
	BaseURL string
	// DumpDir is the local mirror of BaseURL, for kinds uploaded in place.
	DumpDir string
	// TempDir receives downloads for kinds without a local mirror.
	TempDir string

	// AllDBList and PrivateDBList are database list URLs (dumps only).
	AllDBList     string
	PrivateDBList string
	// Languages maps language codes to English names for item titles.
	Languages map[string]string

	// Include and Exclude are doublestar globs applied to file names.
	Include []string
	Exclude []string

	// Cooldown overrides the kind's default when positive.
	Cooldown time.Duration
	// IdentifierPrefix starts every item identifier. Empty yields
	// "<subject>-<date>" identifiers.
	IdentifierPrefix string
}

// Deps are the shared collaborators every kind is built with.
type Deps struct {
	Client  *upstream.Client
	DBLists *upstream.DBListCache
	Now     func() time.Time
	Log     *zap.Logger
}

type base struct {
	name     workqueue.Kind
	settings Settings
	cooldown time.Duration
	client   *upstream.Client
	now      func() time.Time
	log      *zap.Logger
}

func newBase(name workqueue.Kind, defaultCooldown time.Duration, s Settings, d Deps) base {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	cooldown := defaultCooldown
	if s.Cooldown > 0 {
		cooldown = s.Cooldown
	}
	return base{
		name:     name,
		settings: s,
		cooldown: cooldown,
		client:   d.Client,
		now:      d.Now,
		log:      d.Log.With(zap.String("kind", string(name))),
	}
}

func (b *base) Name() workqueue.Kind {
	return b.name
}

func (b *base) Cooldown() time.Duration {
	return b.cooldown
}

func (b *base) Identifier(key workqueue.Key) string {
	return archive.Identifier(b.settings.IdentifierPrefix, key.Subject, key.Date)
}

// metadata fills the configured fields common to every kind.
func (b *base) metadata(key workqueue.Key, title, description, subject string) archive.Metadata {
	if subject == "" {
		subject = b.settings.Subject
	}
	return archive.Metadata{
		"collection":  b.settings.Collection,
		"creator":     b.settings.Creator,
		"contributor": b.settings.Contributor,
		"mediatype":   b.settings.MediaType,
		"rights":      b.settings.Rights,
		"licenseurl":  b.settings.LicenseURL,
		"date":        workqueue.ArchiveDate(key.Date),
		"subject":     subject,
		"title":       title,
		"description": description,
	}
}

// url joins path segments onto the kind's base URL.
func (b *base) url(parts ...string) string {
	u := strings.TrimRight(b.settings.BaseURL, "/")
	for _, p := range parts {
		u += "/" + strings.Trim(p, "/")
	}
	return u
}

// filter applies include/exclude globs and returns sorted unique names.
func (b *base) filter(names []string) ([]string, error) {
	return FilterNames(names, b.settings.Include, b.settings.Exclude)
}

// FilterNames keeps names matching any include glob (all when include is
// empty) and no exclude glob. The result is sorted and deduplicated.
func FilterNames(names, include, exclude []string) ([]string, error) {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		ok, err := matchAny(include, name, true)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		skip, err := matchAny(exclude, name, false)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func matchAny(patterns []string, name string, empty bool) (bool, error) {
	if len(patterns) == 0 {
		return empty, nil
	}
	for _, p := range patterns {
		ok, err := doublestar.Match(p, name)
		if err != nil {
			return false, fmt.Errorf("bad glob %q: %w", p, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// snapshotDates keeps the YYYYMMDD entries of a listing, sorted.
func snapshotDates(entries []string) []time.Time {
	dates := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		d, err := workqueue.ParseSnapshotDate(e)
		if err != nil {
			continue
		}
		dates = append(dates, d)
	}
	return sortDates(dates)
}

func sortDates(dates []time.Time) []time.Time {
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}
