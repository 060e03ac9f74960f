package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/dumpkeeper/internal/observability"
	"github.com/3leaps/dumpkeeper/pkg/workqueue"
)

var (
	claimsHost      string
	claimsKind      string
	claimsOlderThan time.Duration
	claimsDeadOnly  bool
	claimsFormat    string
)

var claimsCmd = &cobra.Command{
	Use:   "claims",
	Short: "Inspect and release work item claims",
	Long: `Claims never expire on their own. A runner that dies mid-item leaves
its claim behind; use "claims clear" to hand such items back to the queue.`,
}

var claimsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List claimed work items",
	RunE:  runClaimsList,
}

var claimsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Release claims so other runners can take the items",
	Long: `Release claims matching the filters.

With --dead-only, claims held by live runners on --host (according to the
local runner registry) are kept. --dead-only only makes sense on the host
that owns the claims.`,
	RunE: runClaimsClear,
}

func init() {
	rootCmd.AddCommand(claimsCmd)
	claimsCmd.AddCommand(claimsListCmd, claimsClearCmd)

	for _, c := range []*cobra.Command{claimsListCmd, claimsClearCmd} {
		c.Flags().StringVar(&claimsHost, "host", "", "only claims held by this host")
		c.Flags().StringVar(&claimsKind, "type", "", "only claims on this dataset type")
		c.Flags().DurationVar(&claimsOlderThan, "older-than", 0, "only claims taken at least this long ago")
	}
	claimsListCmd.Flags().StringVar(&claimsFormat, "format", "table", "output format: table, json, yaml")
	claimsClearCmd.Flags().BoolVar(&claimsDeadOnly, "dead-only", false, "keep claims of runners still alive on --host")
}

func claimFilter() workqueue.ClaimFilter {
	return workqueue.ClaimFilter{
		Host:      claimsHost,
		Kind:      workqueue.Kind(claimsKind),
		OlderThan: claimsOlderThan,
	}
}

func runClaimsList(cmd *cobra.Command, args []string) error {
	if err := checkFormat(claimsFormat); err != nil {
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

	items, err := store.Claims(cmd.Context(), claimFilter())
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list claims", err)
	}

	type claimRow struct {
		Item      string     `json:"item" yaml:"item"`
		ClaimedBy string     `json:"claimed_by" yaml:"claimed_by"`
		ClaimedAt *time.Time `json:"claimed_at,omitempty" yaml:"claimed_at,omitempty"`
	}
	rows := make([]claimRow, 0, len(items))
	for _, it := range items {
		rows = append(rows, claimRow{Item: it.Key.String(), ClaimedBy: it.ClaimedBy, ClaimedAt: it.ClaimedAt})
	}

	out := cmd.OutOrStdout()
	switch claimsFormat {
	case "json":
		return writeJSON(out, rows)
	case "yaml":
		return writeYAML(out, rows)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ITEM\tCLAIMED_BY\tCLAIMED_AT")
	for _, r := range rows {
		at := "-"
		if r.ClaimedAt != nil {
			at = r.ClaimedAt.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Item, r.ClaimedBy, at)
	}
	return tw.Flush()
}

func runClaimsClear(cmd *cobra.Command, args []string) error {
	log := observability.CLILogger
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	if claimsDeadOnly && claimsHost == "" {
		claimsHost = cfg.Host
	}
	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	filter := claimFilter()
	if !claimsDeadOnly {
		if debugMode {
			items, err := store.Claims(cmd.Context(), filter)
			if err != nil {
				return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list claims", err)
			}
			log.Info("Would release claims", zap.Int("count", len(items)))
			return nil
		}
		n, err := store.ReleaseClaims(cmd.Context(), filter)
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to release claims", err)
		}
		log.Info("Released claims", zap.Int64("count", n))
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "released %d claim(s)\n", n)
		return nil
	}

	live, err := runStore(cfg).LiveItems(claimsHost)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read runner registry", err)
	}
	items, err := store.Claims(cmd.Context(), filter)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list claims", err)
	}
	released := 0
	for _, it := range items {
		if live[it.Key.String()] {
			log.Debug("Keeping claim of live runner", zap.Stringer("item", it.Key))
			continue
		}
		if debugMode {
			log.Info("Would release claim", zap.Stringer("item", it.Key), zap.String("host", it.ClaimedBy))
			continue
		}
		ok, err := store.Release(cmd.Context(), it.Key)
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to release claim", err)
		}
		if ok {
			released++
		}
	}
	log.Info("Released claims", zap.Int("count", released), zap.Int("kept", len(items)-released))
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "released %d claim(s)\n", released)
	return nil
}
