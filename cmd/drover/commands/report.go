package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/evrane/drover/report"
)

var reportCmd = &cobra.Command{
	Use:   "report <agent-id>",
	Short: "Write an HTML run report",
	Long:  "Render the agent's final output and iteration audit trail to a standalone HTML file.",
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
		iterations, err := a.runtime.Iterations(ctx, args[0])
		if err != nil {
			return err
		}

		dir, _ := cmd.Flags().GetString("out")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		path := filepath.Join(dir, ac.AgentID+".html")
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()

		if err := report.New().Render(f, report.Run{Context: ac, Iterations: iterations}); err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

func init() {
	reportCmd.Flags().String("out", "reports", "output directory")
}
