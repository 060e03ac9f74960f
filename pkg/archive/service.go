// Package archive talks to the long-term archive that snapshots are uploaded
// to. Each snapshot becomes one archive item addressed by an identifier.
package archive

import (
	"context"
	"path/filepath"
)

// File is one local file to upload.
type File struct {
	// Name is the remote file name inside the item.
	Name string
	// Path is the local path to read from.
	Path string
}

// FilesIn pairs each name with its path under dir.
func FilesIn(dir string, names []string) []File {
	files := make([]File, 0, len(names))
	for _, name := range names {
		files = append(files, File{Name: name, Path: filepath.Join(dir, name)})
	}
	return files
}

// UploadOptions tune a single upload call.
type UploadOptions struct {
	// Headers are extra request headers, e.g. x-archive-size-hint.
	Headers map[string]string
	// QueueDerive asks the archive to run its derivation tasks afterwards.
	QueueDerive bool
	// Verify sends Content-MD5 and compares the returned ETag.
	Verify bool
}

// MetadataOptions tune a metadata modification.
type MetadataOptions struct {
	// Target is the metadata section; empty means "metadata".
	Target string
	// Append concatenates to existing values instead of replacing them.
	Append bool
	// Priority is passed through to the archive task queue when non-zero.
	Priority int
}

// Service is the archive API used by the runner.
type Service interface {
	// ListFiles returns the item's file names sorted, without the files the
	// archive generates for every item. A missing item yields an empty list.
	ListFiles(ctx context.Context, identifier string) ([]string, error)

	// Upload stores files in the item, creating it if needed.
	Upload(ctx context.Context, identifier string, files []File, md Metadata, opts UploadOptions) error

	// ModifyMetadata changes metadata on an existing item.
	ModifyMetadata(ctx context.Context, identifier string, md Metadata, opts MetadataOptions) error
}
