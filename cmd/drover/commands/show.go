package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <agent-id>",
	Short: "Show one agent in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		ac, err := a.runtime.Get(ctx, args[0])
		if err != nil {
			return err
		}

		field := func(k, v string) {
			fmt.Printf("%s %s\n", styleHeader.Render(k+":"), v)
		}
		field("agent", ac.AgentID)
		field("execution", ac.ExecutionID)
		field("state", stateStyle(ac.State).Render(string(ac.State)))
		field("type", string(ac.Type))
		if ac.Subtype != "" {
			field("subtype", ac.Subtype)
		}
		if ac.User.ID != "" {
			field("user", ac.User.ID)
		}
		field("iterations", fmt.Sprintf("%d", ac.Iterations))
		field("cost", money(ac.Cost))
		if ac.HILBudget > 0 {
			field("budget", fmt.Sprintf("%s (remaining %s)", money(ac.HILBudget), money(ac.BudgetRemaining())))
		}
		if ac.HILCount > 0 {
			field("hil count", fmt.Sprintf("%d", ac.HILCount))
		}
		if names := ac.Functions.ClassNames(); len(names) > 0 {
			field("functions", strings.Join(names, ", "))
		}
		if len(ac.ChildAgents) > 0 {
			field("children", strings.Join(ac.ChildAgents, ", "))
		}
		if ac.ParentAgentID != "" {
			field("parent", ac.ParentAgentID)
		}
		if !ac.LastUpdate.IsZero() {
			field("updated", ac.LastUpdate.UTC().Format(time.RFC3339))
		}
		if ac.Error != "" {
			field("error", styleErr.Render(ac.Error))
		}

		fmt.Printf("\n%s\n%s\n", styleHeader.Render("task:"), ac.UserPrompt)
		if len(ac.Notes) > 0 {
			fmt.Printf("\n%s\n", styleHeader.Render("notes:"))
			for _, n := range ac.Notes {
				fmt.Printf("  - %s\n", n)
			}
		}
		if ac.Output != "" {
			fmt.Printf("\n%s\n%s\n", styleHeader.Render("output:"), ac.Output)
		}
		return nil
	},
}
