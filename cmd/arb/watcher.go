package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/ui"
	"github.com/spf13/cobra"
)

var watcherCmd = &cobra.Command{
	Use:     "watcher",
	Short:   "Control the chain watchers",
	GroupID: "ingest",
}

var watcherStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every watcher and its last tick",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		sts, err := arbClient.WatcherStatus(ctx)
		if err != nil {
			return err
		}
		h, err := arbClient.WatcherHealth(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]any{"watchers": sts, "health": h})
		}

		stale := make(map[string]bool, len(h.Stale))
		for _, c := range h.Stale {
			stale[c] = true
		}
		w := newTable("CONTRACT", "STATE", "BLOCK", "TICKS", "ENQUEUED", "LAST TICK", "EVENTS", "ERROR")
		for _, s := range sts {
			state := ui.RenderPass("ok")
			if stale[s.Contract] {
				state = ui.RenderFail("stale")
			}
			var last string
			if s.LastTick != nil {
				last = formatTime(*s.LastTick)
			} else {
				last = "-"
			}
			events := "all"
			if len(s.Events) > 0 {
				events = strings.Join(s.Events, ",")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
				s.Contract, state, s.LastBlock, s.Ticks, s.Enqueued, last, events, truncate(s.LastError, 40))
		}
		w.Flush()
		fmt.Printf("\n%d watchers, %s\n", h.Watchers, ui.RenderHealth(h.Healthy))
		return nil
	},
}

var watcherWatchCmd = &cobra.Command{
	Use:   "watch <contract>",
	Short: "Start polling a contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		events, _ := cmd.Flags().GetStringSlice("events")
		for _, e := range events {
			if !model.EventName(e).IsKnown() {
				return fmt.Errorf("unknown event %q", e)
			}
		}
		if err := arbClient.Watch(context.Background(), args[0], events); err != nil {
			return err
		}
		fmt.Printf("Watching %s\n", args[0])
		return nil
	},
}

var watcherUnwatchCmd = &cobra.Command{
	Use:   "unwatch [contract]",
	Short: "Stop polling a contract, or every contract with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		var contract string
		switch {
		case len(args) == 1 && !all:
			contract = args[0]
		case len(args) == 0 && all:
		default:
			return fmt.Errorf("pass a contract or --all")
		}
		n, err := arbClient.Unwatch(context.Background(), contract)
		if err != nil {
			return err
		}
		fmt.Printf("Stopped %d watchers\n", n)
		return nil
	},
}

var watcherReplayCmd = &cobra.Command{
	Use:   "replay <contract>",
	Short: "Rescan a contract up to the chain head",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var from *uint64
		if cmd.Flags().Changed("from") {
			v, _ := cmd.Flags().GetUint64("from")
			from = &v
		}
		n, err := arbClient.Replay(context.Background(), args[0], from)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]any{"contract": args[0], "enqueued": n})
		}
		fmt.Printf("Enqueued %d events from %s\n", n, args[0])
		return nil
	},
}

var watcherCheckpointsCmd = &cobra.Command{
	Use:   "checkpoints [contract]",
	Short: "Show the last processed block per contract",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		var cps []*model.EventCheckpoint
		if len(args) == 1 {
			cp, err := arbClient.Checkpoint(ctx, args[0])
			if err != nil {
				return err
			}
			cps = append(cps, cp)
		} else {
			var err error
			if cps, err = arbClient.Checkpoints(ctx); err != nil {
				return err
			}
		}
		if jsonOutput {
			if cps == nil {
				cps = []*model.EventCheckpoint{}
			}
			return printJSON(cps)
		}
		w := newTable("CONTRACT", "BLOCK", "UPDATED")
		for _, cp := range cps {
			fmt.Fprintf(w, "%s\t%d\t%s\n", cp.ContractAddress, cp.LastProcessedBlock, formatTime(cp.LastUpdated))
		}
		w.Flush()
		return nil
	},
}

func init() {
	watcherWatchCmd.Flags().StringSlice("events", nil, "event names to keep (default all)")
	watcherUnwatchCmd.Flags().Bool("all", false, "stop every watcher")
	watcherReplayCmd.Flags().Uint64("from", 0, "first block to scan (default checkpoint + 1)")

	watcherCmd.AddCommand(watcherStatusCmd, watcherWatchCmd, watcherUnwatchCmd, watcherReplayCmd, watcherCheckpointsCmd)
}
