// Package archivetest provides an in-memory archive.Service for tests.
package archivetest

import (
	"context"
	"sort"
	"sync"

	"github.com/3leaps/dumpkeeper/pkg/archive"
)

// Stub records calls and stores uploaded file names in memory.
type Stub struct {
	mu sync.Mutex

	// Err, when set, is returned by every call.
	Err error
	// FailUploads makes the next n Upload calls fail with UploadErr.
	FailUploads int
	UploadErr   error

	items    map[string]map[string]bool
	metadata map[string]archive.Metadata

	ListCalls     int
	UploadCalls   int
	MetadataCalls int
}

var _ archive.Service = (*Stub)(nil)

// NewStub returns an empty stub.
func NewStub() *Stub {
	return &Stub{
		items:    make(map[string]map[string]bool),
		metadata: make(map[string]archive.Metadata),
	}
}

// Seed marks files as already present in an item.
func (s *Stub) Seed(identifier string, names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.itemLocked(identifier)
	for _, n := range names {
		s.items[identifier][n] = true
	}
}

// Files returns the stored file names of an item, sorted.
func (s *Stub) Files(identifier string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filesLocked(identifier)
}

// Metadata returns the last metadata stored for an item.
func (s *Stub) Metadata(identifier string) archive.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata[identifier]
}

// Calls returns the total number of calls made.
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ListCalls + s.UploadCalls + s.MetadataCalls
}

func (s *Stub) ListFiles(_ context.Context, identifier string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListCalls++
	if s.Err != nil {
		return nil, s.Err
	}
	return s.filesLocked(identifier), nil
}

func (s *Stub) Upload(_ context.Context, identifier string, files []archive.File, md archive.Metadata, _ archive.UploadOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UploadCalls++
	if s.Err != nil {
		return s.Err
	}
	if s.FailUploads > 0 {
		s.FailUploads--
		return s.UploadErr
	}
	if err := md.Validate(); err != nil {
		return err
	}
	s.itemLocked(identifier)
	for _, f := range files {
		s.items[identifier][f.Name] = true
	}
	if _, ok := s.metadata[identifier]; !ok {
		s.metadata[identifier] = md
	}
	return nil
}

func (s *Stub) ModifyMetadata(_ context.Context, identifier string, md archive.Metadata, opts archive.MetadataOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MetadataCalls++
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.items[identifier]; !ok {
		return &archive.ServiceError{Op: "ModifyMetadata", Identifier: identifier, Kind: archive.ErrNotFound}
	}
	current := s.metadata[identifier]
	if current == nil {
		current = archive.Metadata{}
	}
	for k, v := range md {
		if opts.Append && current[k] != "" {
			current[k] = current[k] + " " + v
			continue
		}
		current[k] = v
	}
	s.metadata[identifier] = current
	return nil
}

func (s *Stub) itemLocked(identifier string) {
	if s.items[identifier] == nil {
		s.items[identifier] = make(map[string]bool)
	}
}

func (s *Stub) filesLocked(identifier string) []string {
	names := make([]string, 0, len(s.items[identifier]))
	for n := range s.items[identifier] {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
