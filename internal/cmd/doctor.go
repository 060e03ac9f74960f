package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/dumpkeeper/internal/config"
	"github.com/3leaps/dumpkeeper/internal/observability"
	"github.com/3leaps/dumpkeeper/pkg/upstream"
	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

var doctorSkipNetwork bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Check configuration, the work queue, archive credentials and the dump
mirror, and suggest fixes for common problems.

Examples:
  dumpkeeper doctor
  dumpkeeper doctor --offline   # skip mirror requests`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorSkipNetwork, "offline", false, "skip requests to the dump mirror")
}

// doctorCheck is one numbered diagnostic.
type doctorCheck struct {
	name string
	run  func(ctx context.Context) (string, error)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	log := observability.CLILogger
	ctx := cmd.Context()
	log.Info("=== dumpkeeper doctor ===")

	cfg, err := config.LoadFrom(ctx, cfgFile)
	if err != nil {
		log.Error("Checking config... ❌ cannot load", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Cannot load config", err)
	}

	checks := []doctorCheck{
		{"Go version", func(context.Context) (string, error) { return runtime.Version(), nil }},
		{"config", func(context.Context) (string, error) {
			if err := cfg.Validate(); err != nil {
				return "", err
			}
			return "host " + cfg.Host + ", kinds " + strings.Join(cfg.EnabledKinds(), ","), nil
		}},
		{"data directory", func(context.Context) (string, error) { return checkWritableDir(cfg.DataDir) }},
		{"work queue", func(ctx context.Context) (string, error) { return checkStore(ctx, cfg) }},
		{"archive credentials", func(context.Context) (string, error) { return checkCredentials(cfg) }},
	}
	if !doctorSkipNetwork {
		checks = append(checks, doctorCheck{"dump mirror", func(ctx context.Context) (string, error) {
			return checkMirror(ctx, cfg)
		}})
	}

	failed := 0
	for i, c := range checks {
		label := fmt.Sprintf("[%d/%d] Checking %s...", i+1, len(checks), c.name)
		detail, err := c.run(ctx)
		if err != nil {
			failed++
			log.Error(label+" ❌", zap.Error(err))
			continue
		}
		log.Info(label+" ✅ "+detail, zap.String("check", c.name))
	}

	if failed > 0 {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
		return exitError(foundry.ExitExternalServiceUnavailable, "Diagnostics failed", fmt.Errorf("%d of %d checks failed", failed, len(checks)))
	}
	log.Info("✅ All checks passed")
	return nil
}

func checkWritableDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return "", err
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return dir, nil
}

func checkStore(ctx context.Context, cfg *config.Config) (string, error) {
	store, err := workqueue.OpenStore(ctx, cfg.StoreSettings())
	if err != nil {
		return "", err
	}
	defer func() { _ = store.Close() }()
	n, err := store.Count(ctx, workqueue.Conditions{})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d unclaimed item(s)", n), nil
}

func checkCredentials(cfg *config.Config) (string, error) {
	if err := cfg.ArchiveSettings(scanner()).Validate(); err != nil {
		return "", fmt.Errorf("%w (set archive.access_key and archive.secret_key, or DUMPKEEPER_ACCESS_KEY and DUMPKEEPER_SECRET_KEY)", err)
	}
	return "access key " + maskAccessKey(cfg.Archive.AccessKey), nil
}

func checkMirror(ctx context.Context, cfg *config.Config) (string, error) {
	client := upstream.NewClient(cfg.UpstreamSettings())
	var reached []string
	var errs []error
	for _, name := range cfg.EnabledKinds() {
		base := cfg.Kinds[name].BaseURL
		ok, err := client.Exists(ctx, strings.TrimRight(base, "/")+"/")
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		case !ok:
			errs = append(errs, fmt.Errorf("%s: %s not found", name, base))
		default:
			reached = append(reached, name)
		}
	}
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return "reached " + strings.Join(reached, ","), nil
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
