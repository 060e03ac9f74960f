package archive

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/dumpkeeper/pkg/retry"
)

// Retrying runs archive calls under a retry policy and reduces every outcome
// to success or failure. Callers never see transport errors; they are logged.
type Retrying struct {
	svc    Service
	policy retry.Policy
	log    *zap.Logger
}

// NewRetrying wraps svc. A nil logger discards output.
func NewRetrying(svc Service, policy retry.Policy, log *zap.Logger) *Retrying {
	if log == nil {
		log = zap.NewNop()
	}
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, delay time.Duration, err error) {
			log.Warn("archive call failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		}
	}
	return &Retrying{svc: svc, policy: policy, log: log}
}

// Debug reports whether calls are short-circuited.
func (r *Retrying) Debug() bool {
	return r.policy.Debug
}

// ListFiles returns the item's files and whether the listing succeeded.
func (r *Retrying) ListFiles(ctx context.Context, identifier string) ([]string, bool) {
	files, err := retry.DoValue(ctx, r.policy, func(ctx context.Context) ([]string, error) {
		return r.svc.ListFiles(ctx, identifier)
	})
	if err != nil {
		r.report("list files", identifier, err)
		return nil, false
	}
	return files, true
}

// Upload uploads files and reports success. Files stored by an earlier
// attempt are not sent again on retry.
func (r *Retrying) Upload(ctx context.Context, identifier string, files []File, md Metadata, opts UploadOptions) bool {
	done := make(map[string]bool, len(files))
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		for _, f := range files {
			if done[f.Name] {
				continue
			}
			if err := r.svc.Upload(ctx, identifier, []File{f}, md, opts); err != nil {
				return err
			}
			done[f.Name] = true
			r.log.Debug("uploaded file", zap.String("identifier", identifier), zap.String("file", f.Name))
		}
		return nil
	})
	if err != nil {
		r.report("upload", identifier, err)
		return false
	}
	return true
}

// ModifyMetadata patches item metadata and reports success.
func (r *Retrying) ModifyMetadata(ctx context.Context, identifier string, md Metadata, opts MetadataOptions) bool {
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		return r.svc.ModifyMetadata(ctx, identifier, md, opts)
	})
	if err != nil {
		r.report("modify metadata", identifier, err)
		return false
	}
	return true
}

func (r *Retrying) report(op, identifier string, err error) {
	if errors.Is(err, retry.ErrDebugMode) {
		r.log.Info("debug mode: skipped archive call", zap.String("op", op), zap.String("identifier", identifier))
		return
	}
	r.log.Error("archive call failed", zap.String("op", op), zap.String("identifier", identifier), zap.Error(err))
}
