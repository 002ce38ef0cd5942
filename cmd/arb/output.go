package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/period"
	"github.com/groblegark/arbiter/internal/ui"
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func newTable(header ...string) *tabwriter.Writer {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	return w
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func printEvaluationTable(evals []*model.Evaluation) {
	w := newTable("ID", "EVALUATOR", "SIDE", "WEIGHT", "CONF", "QUALITY", "CREATED", "REASONING")
	for _, e := range evals {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			e.ID, e.EvaluatorAddress, e.Side(), e.Weight, e.Confidence, e.QualityScore,
			formatTime(e.CreatedAt), truncate(e.Reasoning, 40))
	}
	w.Flush()
	fmt.Printf("\n%d evaluations\n", len(evals))
}

func printEvaluation(e *model.Evaluation) {
	fmt.Printf("ID:         %s\n", e.ID)
	fmt.Printf("Session:    %s\n", e.SessionID)
	fmt.Printf("Evaluator:  %s\n", e.EvaluatorAddress)
	fmt.Printf("Side:       %s\n", e.Side())
	fmt.Printf("Weight:     %d\n", e.Weight)
	fmt.Printf("Confidence: %d\n", e.Confidence)
	fmt.Printf("Quality:    %d\n", e.QualityScore)
	fmt.Printf("Created:    %s\n", formatTime(e.CreatedAt))
	fmt.Printf("Reasoning:  %s\n", e.Reasoning)
}

func printPeriod(p *period.Period) {
	state := ui.RenderStatus("closed")
	if p.IsActive {
		state = ui.RenderStatus("voting")
	}
	fmt.Printf("Session:     %s (%s)\n", p.SessionID, state)
	fmt.Printf("Window:      %s to %s\n", formatTime(p.VotingStartTime), formatTime(p.VotingEndTime))
	fmt.Printf("Remaining:   %s\n", (time.Duration(p.RemainingSecs) * time.Second).String())
	fmt.Printf("Extensions:  %d/%d\n", p.ExtensionCount, period.MaxExtensions)
	if p.NearingDeadline {
		fmt.Println(ui.RenderWarn("Voting closes within the hour"))
	}
	if p.IsExpired {
		fmt.Println(ui.RenderMuted("Voting window has closed"))
	}
}

func printOutcome(o *model.Outcome) {
	if !o.IsValid {
		fmt.Printf("Outcome:  %s (%s)\n", ui.RenderFail("invalid"), o.InvalidReason)
		return
	}
	fmt.Printf("Winner:   %s %s\n", ui.RenderPass(string(o.Winner)), ui.RenderMuted(o.WinnerAddress))
	fmt.Printf("Votes:    %d initiator / %d challenger\n", o.InitiatorVotes, o.ChallengerVotes)
	fmt.Printf("Weight:   %d initiator / %d challenger\n", o.InitiatorWeight, o.ChallengerWeight)
	fmt.Printf("Margin:   %d (%.1f%%)\n", o.Margin, o.MarginPercentage)
	if o.TieBreakMethod != "" {
		fmt.Printf("Tiebreak: %s\n", o.TieBreakMethod)
	}
}

func printRewards(r *model.RewardDistribution) {
	if r == nil {
		return
	}
	fmt.Printf("Pool:     %d (fee %d, evaluators %d)\n", r.TotalPool, r.PlatformFee, r.EvaluatorPool)
	if r.WinnerAddress != "" {
		fmt.Printf("Winner:   %d to %s\n", r.WinnerAmount, r.WinnerAddress)
	} else {
		fmt.Printf("Split:    %d initiator / %d challenger\n", r.InitiatorAmount, r.ChallengerAmount)
	}
	if len(r.EvaluatorRewards) == 0 {
		return
	}
	w := newTable("EVALUATOR", "WEIGHT", "AMOUNT")
	for _, er := range r.EvaluatorRewards {
		fmt.Fprintf(w, "%s\t%d\t%d\n", er.EvaluatorAddress, er.Weight, er.Amount)
	}
	w.Flush()
}
