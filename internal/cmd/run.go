package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/dumpkeeper/internal/observability"
	"github.com/3leaps/dumpkeeper/pkg/archive"
	"github.com/3leaps/dumpkeeper/pkg/engine"
	"github.com/3leaps/dumpkeeper/pkg/runregistry"
	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

var (
	runJob     string
	runKind    string
	runSubject string
	runDate    string
	runPath    string
	runResume  bool
	runCrontab bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process the work queue",
	Long: `Run polls the work queue and archives, checks or refreshes items.

Without a target it loops over every enabled dataset type until the queue is
empty, then sleeps and starts over (or exits with --crontab). With --type,
--date and, for per-wiki types, --subject it processes exactly that item.

Examples:
  dumpkeeper run
  dumpkeeper run --job update --crontab
  dumpkeeper run --type dumps --wiki enwiki --date 20150703
  dumpkeeper run --type dumps --wiki enwiki --date 20150703 --resume
  dumpkeeper run -D --job check --type mediacounts`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runJob, "job", "archive", "job to run: archive, check, update")
	runCmd.Flags().StringVar(&runKind, "type", "", "dataset type to work on (default: every enabled type)")
	runCmd.Flags().StringVar(&runSubject, "subject", "", "subject (wiki database name) of the target item")
	runCmd.Flags().StringVar(&runSubject, "wiki", "", "alias for --subject")
	runCmd.Flags().StringVar(&runDate, "date", "", "snapshot date of the target item (YYYYMMDD)")
	runCmd.Flags().StringVar(&runPath, "path", "", "read the target item's files from this directory")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "upload only files the archive item is missing")
	runCmd.Flags().BoolVar(&runCrontab, "crontab", false, "exit once the queue is empty instead of sleeping")
}

// runRequest is the validated form of the run flags.
type runRequest struct {
	job    engine.Job
	kind   string
	target *engine.Target
}

func parseRunRequest() (*runRequest, error) {
	job, err := engine.ParseJob(runJob)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid --job value", err)
	}
	req := &runRequest{job: job, kind: strings.TrimSpace(runKind)}

	subject := strings.TrimSpace(runSubject)
	date := strings.TrimSpace(runDate)
	if subject == "" && date == "" {
		if runPath != "" || runResume {
			return nil, exitError(foundry.ExitInvalidArgument, "--path and --resume need a target",
				errors.New("give --type and --date (and --subject for per-wiki types)"))
		}
		return req, nil
	}
	if job == engine.JobUpdate {
		return nil, exitError(foundry.ExitInvalidArgument, "The update job takes no target",
			errors.New("use --type alone to limit the update"))
	}
	if req.kind == "" {
		return nil, exitError(foundry.ExitInvalidArgument, "A target needs --type", errors.New("--type is required with --date or --subject"))
	}
	if date == "" {
		return nil, exitError(foundry.ExitInvalidArgument, "Subject given without a date", errors.New("--date is required with --subject"))
	}
	t, err := workqueue.ParseSnapshotDate(date)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid --date value", err)
	}
	req.target = &engine.Target{
		Kind:    req.kind,
		Subject: subject,
		Date:    t,
		Job:     job,
		Path:    runPath,
		Resume:  runResume,
	}
	return req, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	log := observability.CLILogger
	req, err := parseRunRequest()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	var names []string
	if req.kind != "" {
		names = []string{req.kind}
	}
	kinds, client, err := buildKinds(cfg, names, log)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var svc *archive.Retrying
	if req.job != engine.JobUpdate {
		if svc, err = buildArchive(ctx, cfg, debugMode, log); err != nil {
			return err
		}
	}

	runner := engine.NewRunner(store, kinds, svc, client, engine.Options{
		Host:        cfg.Host,
		Debug:       debugMode,
		Crontab:     runCrontab,
		IdleSleep:   cfg.Scheduler.IdleSleep,
		SizeHint:    cfg.Archive.SizeHint,
		Scanner:     scanner(),
		QueueDerive: cfg.Archive.QueueDerive,
		Verify:      cfg.Archive.Verify,
	}, log)

	session := runregistry.Start(runStore(cfg), cfg.Host, string(req.job), kinds.Names(), debugMode, log)
	runner.SetTracker(session)
	log = log.With(zap.String("run_id", session.RunID()))
	log.Info("Runner started",
		zap.String("host", cfg.Host),
		zap.String("job", string(req.job)),
		zap.Strings("kinds", kinds.Names()),
		zap.Bool("debug", debugMode))

	if req.target != nil {
		err = dispatchTarget(ctx, runner, *req.target, log)
	} else {
		err = runner.Run(ctx, req.job)
		if err != nil && ctx.Err() != nil {
			err = exitError(foundry.ExitSignalInt, "Interrupted", ctx.Err())
		} else if err != nil {
			err = exitError(foundry.ExitExternalServiceUnavailable, "Runner stopped", err)
		}
	}
	session.End(err)
	return err
}

func dispatchTarget(ctx context.Context, runner *engine.Runner, t engine.Target, log *zap.Logger) error {
	start := time.Now()
	res, err := runner.Dispatch(ctx, t)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrInvalidTarget), errors.Is(err, workqueue.ErrInvalidDate):
		return exitError(foundry.ExitInvalidArgument, "Invalid target", err)
	case errors.Is(err, engine.ErrClaimed):
		return exitError(foundry.ExitInvalidArgument, "Item is claimed by another host", err)
	case ctx.Err() != nil:
		return exitError(foundry.ExitSignalInt, "Interrupted", ctx.Err())
	default:
		return exitError(foundry.ExitExternalServiceUnavailable, "Dispatch failed", err)
	}
	log.Info("Dispatch finished",
		zap.String("item", res.Key.String()),
		zap.String("job", string(res.Job)),
		zap.Bool("ok", res.OK),
		zap.Bool("recorded", res.Recorded),
		zap.Duration("elapsed", time.Since(start)))
	if !res.OK {
		return exitError(1, "Job failed", fmt.Errorf("%s %s did not succeed", res.Job, res.Key))
	}
	return nil
}
