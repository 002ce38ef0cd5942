package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/ui"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:     "events",
	Short:   "Inspect the applied-event log and processing errors",
	GroupID: "ingest",
}

func eventFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("contract", "", "filter by contract address")
	cmd.Flags().String("event", "", "filter by event name")
	cmd.Flags().Int("limit", 0, "maximum rows (server default when 0)")
	cmd.Flags().Int("offset", 0, "rows to skip")
}

func eventFilter(cmd *cobra.Command) model.EventLogFilter {
	var f model.EventLogFilter
	f.ContractAddress, _ = cmd.Flags().GetString("contract")
	f.EventName, _ = cmd.Flags().GetString("event")
	f.Limit, _ = cmd.Flags().GetInt("limit")
	f.Offset, _ = cmd.Flags().GetInt("offset")
	return f
}

var eventsLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "List applied chain events, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logs, err := arbClient.EventLogs(context.Background(), eventFilter(cmd))
		if err != nil {
			return err
		}
		if jsonOutput {
			if logs == nil {
				logs = []*model.EventLogEntry{}
			}
			return printJSON(logs)
		}
		w := newTable("BLOCK", "TX", "IDX", "CONTRACT", "EVENT", "PROCESSED")
		for _, l := range logs {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n",
				l.BlockNumber, truncate(l.TransactionHash, 18), l.LogIndex, l.ContractAddress, l.EventName, formatTime(l.ProcessedAt))
		}
		w.Flush()
		return nil
	},
}

var eventsErrorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "List event processing errors, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := eventFilter(cmd)
		f.Unresolved, _ = cmd.Flags().GetBool("unresolved")
		errs, err := arbClient.EventErrors(context.Background(), f)
		if err != nil {
			return err
		}
		if jsonOutput {
			if errs == nil {
				errs = []*model.EventError{}
			}
			return printJSON(errs)
		}
		w := newTable("ID", "EVENT", "BLOCK", "TX", "CREATED", "STATE", "ERROR")
		for _, e := range errs {
			state := ui.RenderFail("open")
			if e.ResolvedAt != nil {
				state = ui.RenderMuted("resolved")
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\t%s\n",
				e.ID, e.EventName, e.BlockNumber, truncate(e.TransactionHash, 18),
				formatTime(e.CreatedAt), state, truncate(e.ErrorMessage, 60))
		}
		w.Flush()
		return nil
	},
}

var eventsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Count unresolved errors per event name",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		hours, _ := cmd.Flags().GetInt("hours")
		sum, err := arbClient.ErrorSummary(context.Background(), hours)
		if err != nil {
			return err
		}
		if jsonOutput {
			if sum == nil {
				sum = []*model.ErrorSummary{}
			}
			return printJSON(sum)
		}
		if len(sum) == 0 {
			fmt.Println(ui.RenderPass("No unresolved errors"))
			return nil
		}
		w := newTable("EVENT", "COUNT", "LAST SEEN")
		for _, s := range sum {
			fmt.Fprintf(w, "%s\t%d\t%s\n", s.EventName, s.Count, formatTime(s.LastSeen))
		}
		w.Flush()
		return nil
	},
}

var eventsResolveCmd = &cobra.Command{
	Use:   "resolve <error-id>...",
	Short: "Mark processing errors resolved",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, a := range args {
			id, err := strconv.ParseInt(a, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid error id %q", a)
			}
			if err := arbClient.ResolveError(context.Background(), id); err != nil {
				return fmt.Errorf("resolve %d: %w", id, err)
			}
			fmt.Printf("Resolved %d\n", id)
		}
		return nil
	},
}

var eventsHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check queue backlog and error rate thresholds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := arbClient.EventsHealth(context.Background())
		if err != nil {
			return err
		}
		if jsonOutput {
			if err := printJSON(h); err != nil {
				return err
			}
		} else {
			fmt.Printf("Pipeline: %s\n", ui.RenderHealth(h.Healthy))
			if h.Queue != nil {
				fmt.Printf("Queue:    %d pending, %d failed\n", h.Queue.Pending, h.Queue.Failed)
			}
			fmt.Printf("Errors:   %d in the last hour\n", h.ErrorsLastHour)
			for _, p := range h.Problems {
				fmt.Println(ui.RenderWarn("  ! " + p))
			}
		}
		if !h.Healthy {
			return fmt.Errorf("ingestion pipeline unhealthy")
		}
		return nil
	},
}

func init() {
	eventFilterFlags(eventsLogsCmd)
	eventFilterFlags(eventsErrorsCmd)
	eventsErrorsCmd.Flags().Bool("unresolved", false, "only unresolved errors")
	eventsSummaryCmd.Flags().Int("hours", 24, "window in hours")

	eventsCmd.AddCommand(eventsLogsCmd, eventsErrorsCmd, eventsSummaryCmd, eventsResolveCmd, eventsHealthCmd)
}
