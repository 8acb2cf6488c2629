package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <agent-id>",
	Short: "Restart a paused, errored, or shut-down agent",
	Long: `Restart an agent from where it stopped. The agent gets a fresh
execution id; its history, memory, and spend carry over. Optional
--feedback is queued for the agent as a user message.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		feedback, _ := cmd.Flags().GetString("feedback")
		ac, err := a.runtime.Resume(ctx, args[0], feedback)
		if err != nil {
			return err
		}
		fmt.Printf("resumed %s (execution %s)\n", ac.AgentID, shortID(ac.ExecutionID))

		if wait, _ := cmd.Flags().GetBool("wait"); !wait {
			return nil
		}
		if err := a.runtime.Wait(ctx, ac.AgentID); err != nil {
			return err
		}
		final, err := a.runtime.Get(ctx, ac.AgentID)
		if err != nil {
			return err
		}
		printOutcome(final)
		return nil
	},
}

func init() {
	resumeCmd.Flags().String("feedback", "", "message queued for the agent")
	resumeCmd.Flags().Bool("wait", true, "wait for the agent to yield")
}
