package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/groblegark/arbiter/internal/client"
	"github.com/groblegark/arbiter/internal/evaluation"
	"github.com/groblegark/arbiter/internal/model"
	"github.com/groblegark/arbiter/internal/ui"
	"github.com/spf13/cobra"
)

var evaluationCmd = &cobra.Command{
	Use:     "evaluation",
	Aliases: []string{"eval"},
	Short:   "Submit and inspect evaluations",
	GroupID: "sessions",
}

// parseSide maps a vote argument to the evaluation's vote flag.
func parseSide(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "initiator", "i", "true":
		return true, nil
	case "challenger", "c", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid vote %q (must be initiator or challenger)", s)
}

var evaluationSubmitCmd = &cobra.Command{
	Use:   "submit <session-id> <initiator|challenger>",
	Short: "Submit an evaluation for a session in voting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		vote, err := parseSide(args[1])
		if err != nil {
			return err
		}
		evaluator, _ := cmd.Flags().GetString("evaluator")
		confidence, _ := cmd.Flags().GetInt("confidence")
		reasoning, _ := cmd.Flags().GetString("reasoning")

		res, err := arbClient.SubmitEvaluation(context.Background(), evaluation.Submission{
			SessionID:        args[0],
			EvaluatorAddress: evaluator,
			Vote:             vote,
			Confidence:       confidence,
			Reasoning:        reasoning,
		})
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && len(apiErr.Errors) > 0 {
				for _, e := range apiErr.Errors {
					fmt.Println(ui.RenderFail("  x " + e))
				}
				for _, w := range apiErr.Warnings {
					fmt.Println(ui.RenderWarn("  ! " + w))
				}
				return errors.New("evaluation rejected")
			}
			return err
		}

		if jsonOutput {
			return printJSON(res)
		}
		fmt.Printf("%s %s (weight %d)\n", ui.RenderPass("Submitted"), res.Evaluation.ID, res.Weight.FinalWeight)
		fmt.Printf("  credibility x%.2f  confidence x%.2f  timing x%.2f  reasoning x%.2f\n",
			res.Weight.CredibilityMultiplier, res.Weight.ConfidenceMultiplier,
			res.Weight.TimingMultiplier, res.Weight.ReasoningQualityMultiplier)
		for _, w := range res.Warnings {
			fmt.Println(ui.RenderWarn("  ! " + w))
		}
		return nil
	},
}

var evaluationShowCmd = &cobra.Command{
	Use:   "show <evaluation-id>",
	Short: "Show one evaluation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := arbClient.GetEvaluation(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(e)
		}
		printEvaluation(e)
		return nil
	},
}

var evaluationListCmd = &cobra.Command{
	Use:   "list <session-id>",
	Short: "List a session's evaluations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		evals, err := arbClient.ListSessionEvaluations(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			if evals == nil {
				evals = []*model.Evaluation{}
			}
			return printJSON(evals)
		}
		printEvaluationTable(evals)
		return nil
	},
}

var evaluationHistoryCmd = &cobra.Command{
	Use:   "history <evaluator-address>",
	Short: "Show an evaluator's profile and recent evaluations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		h, err := arbClient.ListEvaluatorEvaluations(context.Background(), args[0], limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(h)
		}
		if h.Profile != nil {
			fmt.Printf("Evaluator:   %s\n", h.Profile.Address)
			fmt.Printf("Credibility: %.0f (%s)\n", h.Profile.CredibilityScore, ui.RenderAccent(string(h.Tier)))
			fmt.Printf("Accuracy:    %.0f%%\n", h.Profile.Accuracy)
			fmt.Printf("Evaluations: %d\n\n", h.Profile.TotalEvaluations)
		}
		printEvaluationTable(h.Evaluations)
		return nil
	},
}

func init() {
	evaluationSubmitCmd.Flags().String("evaluator", "", "evaluator address (required)")
	evaluationSubmitCmd.Flags().Int("confidence", 50, "confidence 0-100")
	evaluationSubmitCmd.Flags().String("reasoning", "", "reasoning for the vote (required)")
	_ = evaluationSubmitCmd.MarkFlagRequired("evaluator")
	_ = evaluationSubmitCmd.MarkFlagRequired("reasoning")

	evaluationHistoryCmd.Flags().Int("limit", 0, "maximum evaluations to show")

	evaluationCmd.AddCommand(evaluationSubmitCmd, evaluationShowCmd, evaluationListCmd, evaluationHistoryCmd)
}
