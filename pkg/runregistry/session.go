package runregistry

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

// Session is the record of the current process. It satisfies the engine's
// tracker so that every claimed item is visible on disk while it is worked.
// Write failures are logged and otherwise ignored.
type Session struct {
	mu     sync.Mutex
	store  *Store
	record Record
	log    *zap.Logger
	now    func() time.Time
}

// Start writes a running record for this process and returns its session.
func Start(store *Store, host, job string, kinds []string, debug bool, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
	now := s.now()
	s.record = Record{
		RunID:         uuid.New().String(),
		Host:          host,
		PID:           os.Getpid(),
		Job:           job,
		Kinds:         kinds,
		Debug:         debug,
		State:         StateRunning,
		StartedAt:     now,
		LastHeartbeat: &now,
	}
	s.writeLocked()
	return s
}

// RunID identifies this session in logs and on disk.
func (s *Session) RunID() string {
	return s.record.RunID
}

// Snapshot returns a copy of the current record.
func (s *Session) Snapshot() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// Working records that key is about to be claimed and processed.
func (s *Session) Working(key workqueue.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.record.State = StateRunning
	s.record.Current = key.String()
	s.record.CurrentSince = &now
	s.record.LastHeartbeat = &now
	s.writeLocked()
}

// Released clears the current item without counting it, for a claim that
// was not obtained.
func (s *Session) Released(_ workqueue.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.record.Current = ""
	s.record.CurrentSince = nil
	s.record.LastHeartbeat = &now
	s.writeLocked()
}

// Finished records the outcome of the current item.
func (s *Session) Finished(_ workqueue.Key, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.record.Current = ""
	s.record.CurrentSince = nil
	s.record.LastHeartbeat = &now
	s.record.Processed++
	if !ok {
		s.record.Failed++
	}
	s.writeLocked()
}

// Idle records that the queue is empty and the process is sleeping.
func (s *Session) Idle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.record.State = StateIdle
	s.record.LastHeartbeat = &now
	s.writeLocked()
}

// End closes the record. A non-nil err marks the session failed.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.record.State = StateStopped
	if err != nil {
		s.record.State = StateFailed
		s.record.LastError = err.Error()
	}
	s.record.EndedAt = &now
	s.record.LastHeartbeat = &now
	s.writeLocked()
}

func (s *Session) writeLocked() {
	if s.store == nil {
		return
	}
	if err := s.store.Write(&s.record); err != nil {
		s.log.Warn("failed to write run record", zap.String("run_id", s.record.RunID), zap.Error(err))
	}
}
