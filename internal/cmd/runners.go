package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/dumpkeeper/internal/observability"
)

var (
	runnersFormat   string
	runnersPruneAge time.Duration
)

var runnersCmd = &cobra.Command{
	Use:   "runners",
	Short: "Inspect runner processes recorded on this host",
}

var runnersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runner records, newest first",
	RunE:  runRunnersList,
}

var runnersPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete records of finished runners",
	RunE:  runRunnersPrune,
}

func init() {
	rootCmd.AddCommand(runnersCmd)
	runnersCmd.AddCommand(runnersListCmd, runnersPruneCmd)

	runnersListCmd.Flags().StringVar(&runnersFormat, "format", "table", "output format: table, json, yaml")
	runnersPruneCmd.Flags().DurationVar(&runnersPruneAge, "older-than", 7*24*time.Hour, "delete records that ended at least this long ago")
}

func runRunnersList(cmd *cobra.Command, args []string) error {
	if err := checkFormat(runnersFormat); err != nil {
		return err
	}
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	records, err := runStore(cfg).List()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read runner registry", err)
	}

	out := cmd.OutOrStdout()
	switch runnersFormat {
	case "json":
		return writeJSON(out, records)
	case "yaml":
		return writeYAML(out, records)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RUN_ID\tHOST\tPID\tJOB\tSTATE\tCURRENT\tPROCESSED\tFAILED\tSTARTED")
	for _, r := range records {
		current := r.Current
		if current == "" {
			current = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.RunID, r.Host, r.PID, r.Job, r.State, current, r.Processed, r.Failed,
			r.StartedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runRunnersPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	n, err := runStore(cfg).Prune(time.Now().Add(-runnersPruneAge))
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to prune runner registry", err)
	}
	observability.CLILogger.Info("Pruned runner records", zap.Int("count", n))
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d record(s)\n", n)
	return nil
}
