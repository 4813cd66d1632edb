package cli

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/evmon/internal/query"
)

func newStatsCmd(e *env) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print event counts by severity, source and day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := url.Values{}
			if from != "" {
				v.Set("time_from", from)
			}
			if to != "" {
				v.Set("time_to", to)
			}
			sf, err := query.ParseStatsFilter(v)
			if err != nil {
				return err
			}

			st, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := st.Stats(cmd.Context(), sf)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "occurred_at lower bound (RFC 3339)")
	cmd.Flags().StringVar(&to, "to", "", "occurred_at upper bound (RFC 3339)")
	return cmd
}

func newPruneCmd(e *env) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete events received longer ago than --older-than",
		Long: `Delete events whose received_at is older than the given age, together with
their attribute index rows. Ids of deleted events are never handed out again.`,
		Example: `  evmon prune --older-than 720h`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be a positive duration")
			}
			st, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			before := time.Now().Add(-olderThan)
			deleted, err := st.Prune(cmd.Context(), before)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d events received before %s\n", deleted, before.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "minimum age of deleted events, e.g. 720h")
	_ = cmd.MarkFlagRequired("older-than")
	return cmd
}

func newReindexCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the attribute index and SQLite indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.Reindex(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reindexed %d events\n", n)
			return nil
		},
	}
}
