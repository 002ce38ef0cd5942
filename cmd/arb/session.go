package main

import (
	"context"
	"fmt"

	"github.com/groblegark/arbiter/internal/period"
	"github.com/groblegark/arbiter/internal/ui"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Short:   "Inspect and settle debate sessions",
	GroupID: "sessions",
}

var sessionAssessmentCmd = &cobra.Command{
	Use:   "assessment <session-id>",
	Short: "Show the weighted assessment of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := arbClient.Assessment(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(a)
		}
		fmt.Printf("Session:     %s\n", a.SessionID)
		fmt.Printf("Evaluations: %d (%d initiator / %d challenger)\n", a.TotalEvaluations, a.InitiatorVotes, a.ChallengerVotes)
		fmt.Printf("Weight:      %d / %d of %d (%.1f%% / %.1f%%)\n",
			a.InitiatorWeight, a.ChallengerWeight, a.TotalWeight, a.InitiatorPercentage, a.ChallengerPercentage)
		fmt.Printf("Confidence:  %.1f avg\n", a.AverageConfidence)
		fmt.Printf("Consensus:   %s (%d)\n", ui.RenderAccent(string(a.ConsensusLevel)), a.ConsensusStrength)
		fmt.Printf("Leader:      %s\n", a.Leader)
		return nil
	},
}

var sessionOutcomeCmd = &cobra.Command{
	Use:   "outcome <session-id>",
	Short: "Show the outcome a session would settle with now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sum, err := arbClient.Outcome(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(sum)
		}
		printOutcome(sum.Outcome)
		fmt.Printf("Odds:     %d%% initiator / %d%% challenger / %d%% tie\n",
			sum.WinProbability.Initiator, sum.WinProbability.Challenger, sum.WinProbability.Tie)
		if sum.Outcome.IsValid {
			printRewards(sum.Rewards)
		}
		return nil
	},
}

var sessionFinalizeCmd = &cobra.Command{
	Use:   "finalize <session-id>",
	Short: "Settle a session in voting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := arbClient.Finalize(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}
		fmt.Printf("Session %s is now %s\n", res.Session.ID, ui.RenderStatus(string(res.Session.Status)))
		printOutcome(res.Outcome)
		return nil
	},
}

var sessionVotingCmd = &cobra.Command{
	Use:   "voting <session-id>",
	Short: "Show, open or extend a session's voting window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		start, _ := cmd.Flags().GetBool("start")
		extend, _ := cmd.Flags().GetBool("extend")
		d, _ := cmd.Flags().GetDuration("duration")

		if start && extend {
			return fmt.Errorf("--start and --extend are mutually exclusive")
		}

		var p *period.Period
		var err error
		switch {
		case start:
			p, err = arbClient.StartVoting(ctx, args[0], d)
		case extend:
			p, err = arbClient.ExtendVoting(ctx, args[0], d)
		default:
			p, err = arbClient.VotingStatus(ctx, args[0])
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(p)
		}
		printPeriod(p)
		return nil
	},
}

func init() {
	sessionVotingCmd.Flags().Bool("start", false, "open voting on an active session")
	sessionVotingCmd.Flags().Bool("extend", false, "extend an open voting window")
	sessionVotingCmd.Flags().Duration("duration", 0, "window length or extension (server default when 0)")

	sessionCmd.AddCommand(sessionAssessmentCmd, sessionOutcomeCmd, sessionFinalizeCmd, sessionVotingCmd)
}
