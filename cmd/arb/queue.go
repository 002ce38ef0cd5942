package main

import (
	"context"
	"fmt"
	"time"

	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/ui"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	Short:   "Inspect and repair the event queue",
	GroupID: "ingest",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue counts per status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := arbClient.QueueStats(context.Background())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(st)
		}
		fmt.Printf("%-11s %d\n", ui.RenderStatus("pending"), st.Pending)
		fmt.Printf("%-11s %d\n", ui.RenderStatus("processing"), st.Processing)
		fmt.Printf("%-11s %d\n", ui.RenderStatus("completed"), st.Completed)
		fmt.Printf("%-11s %d\n", ui.RenderStatus("failed"), st.Failed)
		fmt.Printf("total       %d\n", st.Total)
		if st.OldestPendingSecs > 0 {
			age := (time.Duration(st.OldestPendingSecs) * time.Second).String()
			fmt.Println(ui.RenderMuted("oldest pending item waited " + age))
		}
		return nil
	},
}

var queueFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List items that exhausted their retries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		items, err := arbClient.FailedEvents(context.Background(), limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			if items == nil {
				items = []*model.EventQueueItem{}
			}
			return printJSON(items)
		}
		w := newTable("ID", "CONTRACT", "EVENT", "RETRIES", "UPDATED", "ERROR")
		for _, it := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
				it.ID, it.ContractAddress, it.EventName, it.RetryCount, it.MaxRetries,
				formatTime(it.UpdatedAt), truncate(it.ErrorMessage, 60))
		}
		w.Flush()
		fmt.Printf("\n%d failed items\n", len(items))
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <item-id>...",
	Short: "Return failed items to the queue with a fresh retry budget",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, id := range args {
			if err := arbClient.RetryEvent(context.Background(), id); err != nil {
				return fmt.Errorf("retry %s: %w", id, err)
			}
			fmt.Printf("Requeued %s\n", id)
		}
		return nil
	},
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete completed items older than --days",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		n, err := arbClient.PurgeCompleted(context.Background(), days)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]int64{"purged": n})
		}
		fmt.Printf("Purged %d completed items\n", n)
		return nil
	},
}

func init() {
	queueFailedCmd.Flags().Int("limit", 50, "maximum items to list")
	queuePurgeCmd.Flags().Int("days", 7, "purge items completed more than this many days ago")

	queueCmd.AddCommand(queueStatsCmd, queueFailedCmd, queueRetryCmd, queuePurgeCmd)
}
