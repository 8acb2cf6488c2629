package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var iterationsCmd = &cobra.Command{
	Use:   "iterations <agent-id>",
	Short: "Print an agent's iteration history",
	Long: `Print the agent's append-only iteration log, oldest first. With
--full each iteration's plan, function calls, and outputs are included.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		iterations, err := a.runtime.Iterations(ctx, args[0])
		if err != nil {
			return err
		}
		if len(iterations) == 0 {
			fmt.Println(styleDim.Render("no iterations"))
			return nil
		}

		full, _ := cmd.Flags().GetBool("full")
		if !full {
			rows := make([][]string, 0, len(iterations))
			for _, it := range iterations {
				summary := it.Summary
				if it.Error != "" {
					summary = styleErr.Render(truncate(it.Error, 60))
				}
				rows = append(rows, []string{
					fmt.Sprintf("%d", it.Iteration),
					money(it.Cost),
					fmt.Sprintf("%d", len(it.FunctionCalls)),
					truncate(summary, 64),
				})
			}
			fmt.Print(renderTable([]string{"#", "COST", "CALLS", "SUMMARY"}, rows))
			return nil
		}

		for _, it := range iterations {
			fmt.Printf("%s %s\n", styleHeader.Render(fmt.Sprintf("iteration %d", it.Iteration)),
				styleDim.Render(fmt.Sprintf("(%s, %d in / %d out)", money(it.Cost), it.Stats.InputTokens, it.Stats.OutputTokens)))
			if it.AgentPlan != "" {
				fmt.Printf("  plan: %s\n", truncate(it.AgentPlan, 200))
			}
			for _, fc := range it.FunctionCalls {
				fmt.Printf("  call %s(%s)\n", fc.Name, truncate(string(fc.Args), 80))
				if fc.Stdout != "" {
					fmt.Printf("    -> %s\n", truncate(fc.Stdout, 160))
				}
				if fc.Stderr != "" {
					fmt.Printf("    !! %s\n", styleErr.Render(truncate(fc.Stderr, 160)))
				}
			}
			if it.Error != "" {
				fmt.Printf("  %s\n", styleErr.Render(it.Error))
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	iterationsCmd.Flags().Bool("full", false, "include plans, calls, and outputs")
}
