package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show work queue counts per dataset type and state",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusFormat, "format", "table", "output format: table, json, yaml")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := checkFormat(statusFormat); err != nil {
		return err
	}
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rows, err := store.Summarize(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to read work queue", err)
	}
	return writeSummary(cmd.OutOrStdout(), statusFormat, rows)
}

func checkFormat(format string) error {
	switch format {
	case "table", "json", "yaml":
		return nil
	}
	return exitError(foundry.ExitInvalidArgument, "Invalid --format value", fmt.Errorf("expected table, json or yaml, got %q", format))
}

func writeSummary(w io.Writer, format string, rows []workqueue.Summary) error {
	if rows == nil {
		rows = []workqueue.Summary{}
	}
	switch format {
	case "json":
		return writeJSON(w, rows)
	case "yaml":
		return writeYAML(w, rows)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KIND\tPROGRESS\tCAN_ARCHIVE\tARCHIVED\tCHECKED\tCLAIMED\tTOTAL")
	for _, r := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%d\t%d\n",
			r.Kind, r.Progress, r.CanArchive, r.IsArchived, r.IsChecked, r.Claimed, r.Total)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
