package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/dumpkeeper/internal/config"
	"github.com/3leaps/dumpkeeper/pkg/archive"
	"github.com/3leaps/dumpkeeper/pkg/dataset"
	"github.com/3leaps/dumpkeeper/pkg/runregistry"
	"github.com/3leaps/dumpkeeper/pkg/upstream"
	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

// openStore opens the shared queue and creates its table if needed.
func openStore(ctx context.Context, cfg *config.Config) (*workqueue.Store, error) {
	store, err := workqueue.OpenStore(ctx, cfg.StoreSettings())
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open work queue", err)
	}
	return store, nil
}

// runStore returns the on-disk runner registry.
func runStore(cfg *config.Config) *runregistry.Store {
	return runregistry.NewStore(filepath.Join(cfg.DataDir, "runs"))
}

// buildKinds constructs the registry for names. An empty list means every
// enabled kind.
func buildKinds(cfg *config.Config, names []string, log *zap.Logger) (*dataset.Registry, *upstream.Client, error) {
	if len(names) == 0 {
		names = cfg.EnabledKinds()
	}
	client := upstream.NewClient(cfg.UpstreamSettings())
	dblists := upstream.NewDBListCache(client, filepath.Join(cfg.DataDir, "dblists"), log)
	if cfg.Upstream.DBListMaxAge > 0 {
		dblists.MaxAge = cfg.Upstream.DBListMaxAge
	}
	deps := dataset.Deps{
		Client:  client,
		DBLists: dblists,
		Now:     time.Now,
		Log:     log,
	}
	reg, err := dataset.NewRegistry()
	if err != nil {
		return nil, nil, err
	}
	for _, name := range names {
		kc, ok := cfg.Kinds[name]
		if !ok {
			return nil, nil, exitError(foundry.ExitInvalidArgument, "Unknown dataset type",
				fmt.Errorf("%w: %q", dataset.ErrUnknownKind, name))
		}
		k, err := dataset.Build(name, kc.Settings(cfg.Languages), deps)
		if err != nil {
			return nil, nil, exitError(foundry.ExitInvalidArgument, "Unknown dataset type", err)
		}
		if err := reg.Register(k); err != nil {
			return nil, nil, err
		}
	}
	return reg, client, nil
}

// buildArchive returns the archive client. Debug runs never reach the
// service, so missing credentials are tolerated there.
func buildArchive(ctx context.Context, cfg *config.Config, debug bool, log *zap.Logger) (*archive.Retrying, error) {
	policy := cfg.RetryPolicy(debug)
	svc, err := archive.NewS3Service(ctx, cfg.ArchiveSettings(scanner()))
	if err != nil {
		if debug {
			log.Warn("Archive client unavailable; continuing in debug mode", zap.Error(err))
			return archive.NewRetrying(nil, policy, log), nil
		}
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid archive configuration", err)
	}
	return archive.NewRetrying(svc, policy, log), nil
}
