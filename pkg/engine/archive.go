package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/dumpkeeper/pkg/archive"
	"github.com/3leaps/dumpkeeper/pkg/dataset"
	"github.com/3leaps/dumpkeeper/pkg/upstream"
	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

// archiveItem uploads one snapshot and reports success. A local directory
// missing files fails the job before any archive call is made.
func (r *Runner) archiveItem(ctx context.Context, k dataset.Kind, key workqueue.Key, path string, resume bool, log *zap.Logger) bool {
	files, err := k.Files(ctx, key)
	if err != nil {
		log.Error("failed to list snapshot files", zap.Error(err))
		return false
	}
	if len(files) == 0 {
		log.Warn("snapshot has no files to archive")
		return false
	}

	src := k.Source(key)
	dir := src.Dir
	download := src.Download
	if path != "" {
		dir, download = path, false
	}

	if download {
		if r.opts.Debug {
			log.Info("debug mode: skipping download", zap.Int("files", len(files)), zap.String("dir", dir))
			return false
		}
		if err := r.download(ctx, src.BaseURL, dir, files, log); err != nil {
			log.Error("failed to download snapshot files", zap.Error(err))
			return false
		}
	}

	if err := upstream.CheckDir(dir, files); err != nil {
		if errors.Is(err, ErrIncompleteDir) {
			log.Error("local directory is not usable", zap.Error(err))
		} else {
			log.Error("failed to check local directory", zap.Error(err))
		}
		return false
	}

	identifier := k.Identifier(key)
	log = log.With(zap.String("identifier", identifier))

	upload := files
	var have []string
	if resume {
		var ok bool
		have, ok = r.archive.ListFiles(ctx, identifier)
		if !ok {
			return false
		}
		upload = archive.Missing(files, have)
		if len(upload) == 0 {
			log.Info("all files have already been uploaded")
			return true
		}
	}
	if lf, ok := k.(dataset.LocalFiler); ok {
		upload = mergeNames(upload, archive.Missing(lf.LocalFiles(key, dir), have))
	}

	md := k.Metadata(key).WithScanner(r.opts.Scanner)
	log.Info("uploading files", zap.Int("files", len(upload)), zap.Bool("resume", resume))
	ok := r.archive.Upload(ctx, identifier, archive.FilesIn(dir, upload), md, archive.UploadOptions{
		Headers:     map[string]string{"x-archive-size-hint": r.opts.SizeHint},
		QueueDerive: r.opts.QueueDerive,
		Verify:      r.opts.Verify,
	})
	if !ok {
		return false
	}

	// A resumed item may have been created with older metadata.
	if resume && !r.archive.ModifyMetadata(ctx, identifier, md, archive.MetadataOptions{}) {
		log.Warn("uploaded files but could not refresh item metadata")
	}

	if download {
		removeFiles(dir, files, log)
	}
	return true
}

func (r *Runner) download(ctx context.Context, baseURL, dir string, files []string, log *zap.Logger) error {
	if r.fetch == nil {
		return errors.New("no downloader configured")
	}
	base := strings.TrimRight(baseURL, "/")
	for _, name := range files {
		dest := filepath.Join(dir, name)
		if fi, err := os.Stat(dest); err == nil && fi.Mode().IsRegular() {
			continue
		}
		n, err := r.fetch.Download(ctx, base+"/"+name, dest)
		if err != nil {
			return err
		}
		log.Debug("downloaded file", zap.String("file", name), zap.Int64("bytes", n))
	}
	return nil
}

func removeFiles(dir string, files []string, log *zap.Logger) {
	for _, name := range files {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove downloaded file", zap.String("file", name), zap.Error(err))
		}
	}
}

func mergeNames(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, n := range list {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	sort.Strings(out)
	return out
}

// checkItem verifies that the archive item holds every snapshot file.
func (r *Runner) checkItem(ctx context.Context, k dataset.Kind, key workqueue.Key, log *zap.Logger) bool {
	files, err := k.Files(ctx, key)
	if err != nil {
		log.Error("failed to list snapshot files", zap.Error(err))
		return false
	}
	identifier := k.Identifier(key)
	have, ok := r.archive.ListFiles(ctx, identifier)
	if !ok {
		return false
	}
	if missing := archive.Missing(files, have); len(missing) > 0 {
		log.Warn("archive item is incomplete",
			zap.String("identifier", identifier),
			zap.Strings("missing", missing))
		return false
	}
	log.Info("archive item is complete", zap.String("identifier", identifier), zap.Int("files", len(files)))
	return true
}
