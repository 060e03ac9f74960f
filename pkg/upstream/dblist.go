package upstream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultDBListMaxAge is how long a cached database list is trusted.
const DefaultDBListMaxAge = 24 * time.Hour

// DBListCache keeps local copies of database list files and refreshes them
// once they are older than MaxAge.
type DBListCache struct {
	client *Client
	dir    string
	log    *zap.Logger

	MaxAge time.Duration
	now    func() time.Time
}

// NewDBListCache stores cached lists under dir.
func NewDBListCache(client *Client, dir string, log *zap.Logger) *DBListCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &DBListCache{
		client: client,
		dir:    dir,
		log:    log,
		MaxAge: DefaultDBListMaxAge,
		now:    time.Now,
	}
}

// Get returns the sorted entries of the list called name, refreshing the
// cached copy from rawURL when it is missing or stale. A failed refresh falls
// back to the stale copy when one exists.
func (c *DBListCache) Get(ctx context.Context, name, rawURL string) ([]string, error) {
	path := filepath.Join(c.dir, filepath.Base(name))

	info, statErr := os.Stat(path)
	fresh := statErr == nil && c.now().Sub(info.ModTime()) < c.MaxAge
	if !fresh {
		lines, err := c.client.Lines(ctx, rawURL)
		switch {
		case err == nil:
			if werr := writeLinesAtomic(path, lines); werr != nil {
				c.log.Warn("failed to cache database list", zap.String("list", name), zap.Error(werr))
			}
			sort.Strings(lines)
			return lines, nil
		case statErr != nil:
			return nil, fmt.Errorf("fetch database list %s: %w", name, err)
		default:
			c.log.Warn("using stale database list", zap.String("list", name), zap.Error(err))
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read database list %s: %w", name, err)
	}
	lines, err := readLines(strings.NewReader(string(raw)))
	if err != nil {
		return nil, err
	}
	sort.Strings(lines)
	return lines, nil
}

func writeLinesAtomic(path string, lines []string) error {
	dir := filepath.Dir(path)
	// #nosec G301 -- cache directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Subtract returns the entries of all that are not in excluded.
func Subtract(all, excluded []string) []string {
	skip := make(map[string]bool, len(excluded))
	for _, e := range excluded {
		skip[e] = true
	}
	out := make([]string, 0, len(all))
	for _, a := range all {
		if !skip[a] {
			out = append(out, a)
		}
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
