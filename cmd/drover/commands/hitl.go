package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evrane/drover"
)

var hitlCmd = &cobra.Command{
	Use:   "hitl <agent-id>",
	Short: "Answer a human-in-the-loop pause",
	Long: `Answer an agent paused in hitl_threshold, hitl_feedback, or
hitl_tool.

--approve resumes the loop; for a parked tool call it re-dispatches the
call. --reject forces completion (threshold/feedback pauses) or records
the parked call as rejected and lets the loop continue without it.
--raise-budget adds USD headroom on approval; --feedback is queued for
the agent either way.

Example:
  drover hitl 0192be0a-... --approve --raise-budget 1.00
  drover hitl 0192be0a-... --reject --feedback "wrong direction, stop"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approve, _ := cmd.Flags().GetBool("approve")
		reject, _ := cmd.Flags().GetBool("reject")
		if approve == reject {
			return fmt.Errorf("exactly one of --approve or --reject is required")
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		feedback, _ := cmd.Flags().GetString("feedback")
		raise, _ := cmd.Flags().GetFloat64("raise-budget")

		ac, err := a.runtime.SubmitDecision(ctx, args[0], drover.HITLDecision{
			Approve:     approve,
			Feedback:    feedback,
			RaiseBudget: raise,
		})
		if err != nil {
			return err
		}

		if wait, _ := cmd.Flags().GetBool("wait"); wait {
			if err := a.runtime.Wait(ctx, ac.AgentID); err != nil {
				return err
			}
			if ac, err = a.runtime.Get(ctx, ac.AgentID); err != nil {
				return err
			}
		}
		printOutcome(ac)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <agent-id>",
	Short: "Force-stop an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		reason, _ := cmd.Flags().GetString("reason")
		if err := a.runtime.Cancel(ctx, args[0], reason); err != nil {
			return err
		}
		fmt.Printf("cancelled %s\n", args[0])
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <agent-id>...",
	Short: "Remove agents and their iteration history",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.runtime.Delete(ctx, args...); err != nil {
			return err
		}
		fmt.Printf("deleted %d agent(s)\n", len(args))
		return nil
	},
}

func init() {
	hitlCmd.Flags().Bool("approve", false, "approve and resume")
	hitlCmd.Flags().Bool("reject", false, "reject the pause")
	hitlCmd.Flags().String("feedback", "", "message queued for the agent")
	hitlCmd.Flags().Float64("raise-budget", 0, "USD added to the budget on approval")
	hitlCmd.Flags().Bool("wait", true, "wait for the agent to yield")

	cancelCmd.Flags().String("reason", "", "recorded as the agent's error")
}
