package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/evrane/drover"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		var agents []*drover.AgentContext
		if running, _ := cmd.Flags().GetBool("running"); running {
			agents, err = a.runtime.ListRunning(ctx)
		} else {
			agents, err = a.runtime.List(ctx)
		}
		if err != nil {
			return err
		}
		if len(agents) == 0 {
			fmt.Println(styleDim.Render("no agents"))
			return nil
		}

		sort.Slice(agents, func(i, j int) bool {
			return agents[i].LastUpdate.After(agents[j].LastUpdate)
		})

		rows := make([][]string, 0, len(agents))
		for _, ac := range agents {
			rows = append(rows, []string{
				shortID(ac.AgentID),
				stateStyle(ac.State).Render(string(ac.State)),
				fmt.Sprintf("%d", ac.Iterations),
				money(ac.Cost),
				truncate(ac.UserPrompt, 48),
			})
		}
		fmt.Print(renderTable([]string{"ID", "STATE", "ITER", "COST", "TASK"}, rows))
		return nil
	},
}

func init() {
	listCmd.Flags().Bool("running", false, "only agents not yet completed")
}
