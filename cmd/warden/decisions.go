package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vantage-hq/warden/pkg/cli"
	"vantage-hq/warden/pkg/config"
	"vantage-hq/warden/pkg/decision"
	"vantage-hq/warden/pkg/rcp"
)

var decisionsFlags struct {
	source      string
	policyID    string
	disposition string
	start       string
	end         string
	limit       int
	offset      int
}

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Query recorded decisions",
	Long: `Query the decision database directly, without a running daemon.

Examples:
  warden decisions --policy risk-ceiling --limit 10
  warden decisions --disposition blocked --start 2026-08-01T00:00:00Z`,
	RunE: runDecisions,
}

var decisionsGetCmd = &cobra.Command{
	Use:   "get <record-id>",
	Short: "Fetch a single decision record",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecisionsGet,
}

func init() {
	rootCmd.AddCommand(decisionsCmd)
	decisionsCmd.AddCommand(decisionsGetCmd)

	decisionsCmd.Flags().StringVar(&decisionsFlags.source, "source", "", "filter by producing algorithm")
	decisionsCmd.Flags().StringVar(&decisionsFlags.policyID, "policy", "", "filter by policy id in the version set")
	decisionsCmd.Flags().StringVar(&decisionsFlags.disposition, "disposition", "", "filter by batch disposition")
	decisionsCmd.Flags().StringVar(&decisionsFlags.start, "start", "", "start of the time range (RFC 3339)")
	decisionsCmd.Flags().StringVar(&decisionsFlags.end, "end", "", "end of the time range (RFC 3339)")
	decisionsCmd.Flags().IntVar(&decisionsFlags.limit, "limit", 100, "maximum records to return")
	decisionsCmd.Flags().IntVar(&decisionsFlags.offset, "offset", 0, "records to skip")
}

func runDecisions(cmd *cobra.Command, args []string) error {
	query, err := buildDecisionQuery()
	if err != nil {
		return &cli.CommandError{Command: "decisions", Err: err}
	}

	storage, err := openDecisions()
	if err != nil {
		return &cli.CommandError{Command: "decisions", Err: err}
	}
	defer storage.Close()

	records, err := storage.Query(cmd.Context(), query)
	if err != nil {
		return &cli.CommandError{Command: "decisions", Err: err}
	}
	return cli.PrintJSON(cmd.OutOrStdout(), records)
}

func runDecisionsGet(cmd *cobra.Command, args []string) error {
	storage, err := openDecisions()
	if err != nil {
		return &cli.CommandError{Command: "decisions", Err: err}
	}
	defer storage.Close()

	record, err := storage.Get(cmd.Context(), args[0])
	if err != nil {
		return &cli.CommandError{Command: "decisions", Err: err}
	}
	return cli.PrintJSON(cmd.OutOrStdout(), record)
}

func openDecisions() (decision.Storage, error) {
	cfg, err := config.LoadWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, err
	}
	if !cfg.Decisions.DecisionsEnabled() || cfg.Decisions.Backend != "sqlite" {
		return nil, fmt.Errorf("decision queries require the sqlite decision backend")
	}
	return decision.NewSQLiteStorage(&decision.SQLiteConfig{Path: cfg.Decisions.SQLitePath})
}

func buildDecisionQuery() (*decision.Query, error) {
	query := &decision.Query{
		Source:      decisionsFlags.source,
		PolicyID:    decisionsFlags.policyID,
		Disposition: rcp.BatchDisposition(decisionsFlags.disposition),
		Limit:       decisionsFlags.limit,
		Offset:      decisionsFlags.offset,
	}
	if decisionsFlags.start != "" {
		t, err := time.Parse(time.RFC3339, decisionsFlags.start)
		if err != nil {
			return nil, fmt.Errorf("malformed --start: %w", err)
		}
		query.StartTime = &t
	}
	if decisionsFlags.end != "" {
		t, err := time.Parse(time.RFC3339, decisionsFlags.end)
		if err != nil {
			return nil, fmt.Errorf("malformed --end: %w", err)
		}
		query.EndTime = &t
	}
	return query, nil
}
