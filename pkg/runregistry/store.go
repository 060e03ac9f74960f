package runregistry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// Store persists and loads Records from an on-disk directory.
//
// Directory layout:
//
//	<root>/<run_id>/run.json
//
// Root is expected to be under the app data dir.
type Store struct {
	root  string
	alive func(pid int) bool
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root), alive: isProcessAlive}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.root, runID)
}

func (s *Store) RunPath(runID string) string {
	return filepath.Join(s.RunDir(runID), "run.json")
}

func (s *Store) ensureRoot() error {
	if s.root == "" {
		return errors.New("run registry root dir is empty")
	}
	// #nosec G301 -- registry directories use 0755 for multi-user access compatibility
	return os.MkdirAll(s.root, 0755)
}

// Write stores record atomically: readers never see a partial run.json.
func (s *Store) Write(record *Record) error {
	if record == nil {
		return errors.New("run record is nil")
	}
	runID := strings.TrimSpace(record.RunID)
	if runID == "" {
		return errors.New("run_id is required")
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	dir := s.RunDir(runID)
	// #nosec G301 -- registry directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, "run.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp run file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp run file: %w", err)
	}
	if err := os.Rename(tmpName, s.RunPath(runID)); err != nil {
		return fmt.Errorf("rename run file: %w", err)
	}
	return nil
}

// Get loads one record. A live-state record whose process is gone is
// rewritten as unknown.
func (s *Store) Get(runID string) (*Record, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, errors.New("run_id is required")
	}
	b, err := os.ReadFile(s.RunPath(runID))
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, errors.New("run.json is empty")
	}

	var record Record
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse run.json: %w", err)
	}

	if record.State.Live() && record.PID > 0 && !s.alive(record.PID) {
		record.State = StateUnknown
		now := time.Now().UTC()
		record.EndedAt = &now
		_ = s.Write(&record)
	}

	return &record, nil
}

// List returns every readable record, newest first.
func (s *Store) List() ([]Record, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read runs root: %w", err)
	}

	out := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// LiveItems returns the keys that live runners on host are working.
func (s *Store) LiveItems(host string) (map[string]bool, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, r := range records {
		if r.Host == host && r.State.Live() && r.Current != "" {
			out[r.Current] = true
		}
	}
	return out, nil
}

// Prune removes records that are no longer live and ended before cutoff.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	records, err := s.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, r := range records {
		if r.State.Live() {
			continue
		}
		ended := r.StartedAt
		if r.EndedAt != nil {
			ended = *r.EndedAt
		}
		if ended.After(cutoff) {
			continue
		}
		if err := os.RemoveAll(s.RunDir(r.RunID)); err != nil {
			return removed, fmt.Errorf("remove run %s: %w", r.RunID, err)
		}
		removed++
	}
	return removed, nil
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 checks for existence without sending a signal.
	if err := p.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	return true
}
