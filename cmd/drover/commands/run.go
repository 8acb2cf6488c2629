package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evrane/drover"
	"github.com/evrane/drover/internal/profile"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <prompt>",
	Short: "Start a new agent on a task",
	Long: `Start a new agent on a task and print its id.

With --wait the command blocks until the agent yields (completes, pauses
for a human, or errors) and prints the outcome. Without it the agent keeps
running only as long as the process lives, so --wait is the default.

A --profile selects a YAML profile from the profiles directory; its
subtype, functions, budgets, and models seed the request, and explicit
flags override it.

Example:
  drover run --functions web,file --budget 2.50 "summarize today's HN front page"
  drover run --profile coder "add retry logic to the fetcher"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		prompt := strings.Join(args, " ")

		req := drover.StartRequest{Prompt: prompt}
		profileName, _ := cmd.Flags().GetString("profile")
		if profileName != "" {
			profiles, err := profile.LoadDir(profileDir)
			if err != nil {
				return err
			}
			p, ok := profiles[profileName]
			if !ok {
				return fmt.Errorf("no profile named %q in %s", profileName, profileDir)
			}
			req = p.StartRequest(prompt)
			if p.HasModels() {
				req.LLMs, err = a.resolveRefs(p.Models)
				if err != nil {
					return fmt.Errorf("profile %q: %w", profileName, err)
				}
			}
		}

		if v, _ := cmd.Flags().GetString("subtype"); v != "" {
			req.Subtype = v
		}
		if v, _ := cmd.Flags().GetStringSlice("functions"); len(v) > 0 {
			req.Functions = v
		}
		if cmd.Flags().Changed("budget") {
			req.HILBudget, _ = cmd.Flags().GetFloat64("budget")
		} else if req.HILBudget == 0 {
			req.HILBudget = a.cfg.Budget.MaxCost
		}
		if cmd.Flags().Changed("iterations") {
			req.HILCount, _ = cmd.Flags().GetInt("iterations")
		} else if req.HILCount == 0 {
			req.HILCount = a.cfg.Budget.MaxIterations
		}
		if v, _ := cmd.Flags().GetString("user"); v != "" {
			req.User = drover.User{ID: v}
		}

		ac, err := a.runtime.Start(ctx, req)
		if err != nil {
			return err
		}
		fmt.Println(ac.AgentID)

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

func printOutcome(ac *drover.AgentContext) {
	fmt.Fprintf(os.Stderr, "\n%s %s\n",
		styleHeader.Render("state:"), stateStyle(ac.State).Render(string(ac.State)))
	fmt.Fprintf(os.Stderr, "%s %d iterations, %s spent\n",
		styleHeader.Render("usage:"), ac.Iterations, money(ac.Cost))
	switch {
	case ac.State == drover.StateCompleted && ac.Output != "":
		fmt.Printf("\n%s\n", ac.Output)
	case ac.State == drover.StateError:
		fmt.Fprintf(os.Stderr, "%s %s\n", styleErr.Render("error:"), ac.Error)
	case ac.State.IsPaused():
		fmt.Fprintf(os.Stderr, "%s answer with: drover hitl %s --approve\n",
			stylePause.Render("paused:"), ac.AgentID)
	}
}

func init() {
	runCmd.Flags().String("profile", "", "agent profile name")
	runCmd.Flags().String("subtype", "", "agent subtype (e.g. xml, codegen)")
	runCmd.Flags().StringSlice("functions", nil, "tool classes (shell, file, web, document, jsondata)")
	runCmd.Flags().Float64("budget", 0, "USD budget before a human check")
	runCmd.Flags().Int("iterations", 0, "iteration count before a human check")
	runCmd.Flags().String("user", "", "owning user id")
	runCmd.Flags().Bool("wait", true, "wait for the agent to yield")
}
