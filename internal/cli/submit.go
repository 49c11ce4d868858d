package cli

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/krill-network/krill/internal/api"
	"github.com/krill-network/krill/internal/domain"
)

func init() {
	submitCmd.Flags().StringVarP(&submitSrc, "src", "s", "", "Path to the compute script sent to providers")
	rootCmd.AddCommand(submitCmd)
}

var submitSrc string

var submitCmd = &cobra.Command{
	Use:   "submit TASKFILE",
	Short: "Submit a task defined in a TOML file",
	Long: `Submit a new task to the local node. The task file is TOML:

  name = "benchmark render"
  kind = "compute"
  timeout = "2h"
  subtask_timeout = "15m"
  subtasks_count = 8
  bid = "36"
  resources = ["scene.blend"]`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var def domain.TaskDefinition
	if _, err := toml.DecodeFile(args[0], &def); err != nil {
		return fmt.Errorf("read task file: %w", err)
	}

	var src string
	if submitSrc != "" {
		data, err := os.ReadFile(submitSrc)
		if err != nil {
			return fmt.Errorf("read src: %w", err)
		}
		src = string(data)
	}

	var summary domain.TaskSummary
	req := api.SubmitTaskRequest{Definition: def, SrcCode: src}
	if err := postJSON("/api/tasks", req, &summary); err != nil {
		return err
	}

	fmt.Printf("Submitted task %s (%d subtasks, deadline %s)\n",
		summary.TaskID, summary.SubtasksCount, summary.Deadline.Format("2006-01-02 15:04"))
	return nil
}
