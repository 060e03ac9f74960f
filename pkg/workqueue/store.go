package workqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config selects the database backing the work queue.
type Config struct {
	// Path is a local filesystem path to the queue database.
	// If set, it is converted into a libsql-compatible DSN (file:<path>).
	Path string

	// URL is a libsql/Turso URL shared by runners on several hosts,
	// e.g. libsql://archive-queue.turso.io.
	URL string

	// AuthToken is appended to URL-based DSNs as authToken=... when not already present.
	AuthToken string
}

// Store wraps the queue database. All methods are safe to call from several
// processes at once; atomicity comes from single-statement conditional updates.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an already opened and migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// OpenStore opens the database, applies migrations, and wraps it.
func OpenStore(ctx context.Context, cfg Config) (*Store, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

// memoryPath opens a private in-process database, used by tests.
const memoryPath = ":memory:"

// ErrNoStore is returned when neither a path nor a URL is configured.
var ErrNoStore = errors.New("queue store path or url is required")

// remote reports whether cfg points at a shared libsql server.
func (c Config) remote() bool {
	return strings.TrimSpace(c.URL) != ""
}

// dsn resolves cfg to a driver DSN. A URL wins over a path. For a local
// file the parent directory is created.
func (c Config) dsn() (string, error) {
	if c.remote() {
		u, err := url.Parse(strings.TrimSpace(c.URL))
		if err != nil {
			return "", fmt.Errorf("invalid store url: %w", err)
		}
		if token := strings.TrimSpace(c.AuthToken); token != "" {
			q := u.Query()
			if q.Get("authToken") == "" {
				q.Set("authToken", token)
				u.RawQuery = q.Encode()
			}
		}
		return u.String(), nil
	}

	path := strings.TrimSpace(c.Path)
	switch path {
	case "":
		return "", ErrNoStore
	case memoryPath:
		return path, nil
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create queue directory: %w", err)
	}
	return "file:" + path, nil
}

// tune sets up a freshly opened handle. A local file gets WAL and a busy
// timeout so several runners on one host can share it. Local handles use a
// single connection: an in-memory database is private to its connection.
func tune(ctx context.Context, db *sql.DB, cfg Config) error {
	if cfg.remote() {
		return nil
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if strings.TrimSpace(cfg.Path) == memoryPath {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		var out string
		if err := db.QueryRowContext(ctx, pragma).Scan(&out); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}
