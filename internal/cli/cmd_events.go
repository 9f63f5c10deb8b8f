package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/autoflow/internal/config"
	"github.com/randalmurphal/autoflow/internal/db"
	flowerrors "github.com/randalmurphal/autoflow/internal/errors"
)

// newEventsCmd creates the events command
func newEventsCmd() *cobra.Command {
	var (
		workflowID string
		types      []string
		since      time.Duration
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recorded workflow events",
		Long: `List events from the event store configured under observability.db_dsn:
stage transitions, step results, audit records, confirmation decisions and
completions.

Examples:
  autoflow events --workflow 5f0c...        # one workflow
  autoflow events --type audit --since 24h  # audit trail of the last day`,
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := resolveProject("")
			if err != nil {
				return err
			}
			loaded, err := config.Load(config.LoadOptions{ProjectPath: project, File: cfgFile})
			if err != nil {
				return err
			}
			conn, err := openEventDB(loaded.Observability, project)
			if err != nil {
				return err
			}
			if conn == nil {
				return flowerrors.ErrConfigInvalid("observability.db_dsn", "no event store is configured")
			}
			defer func() { _ = conn.Close() }()

			opts := db.QueryEventsOptions{WorkflowID: workflowID, EventTypes: types, Limit: limit}
			if since > 0 {
				from := time.Now().Add(-since)
				opts.Since = &from
			}
			logs, err := db.NewEventStore(conn).QueryEvents(cmd.Context(), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, logs)
			}
			if len(logs) == 0 {
				fmt.Fprintln(out, "No events.")
				return nil
			}
			for _, l := range logs {
				fmt.Fprintf(out, "%s  %-18s %s  %s\n",
					render(out, labelStyle, l.CreatedAt.Local().Format(time.DateTime)),
					l.EventType, l.WorkflowID, l.Data)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&workflowID, "workflow", "w", "", "only events of this workflow")
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "only events of these types")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of events")
	return cmd
}
