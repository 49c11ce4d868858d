package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(abortCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(restartSubtaskCmd)
}

var abortCmd = &cobra.Command{
	Use:   "abort TASK_ID",
	Short: "Abort a task and stop dispatching its subtasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := postJSON("/api/tasks/"+args[0]+"/abort", nil, nil); err != nil {
			return err
		}
		fmt.Printf("Aborted task %s\n", args[0])
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart TASK_ID",
	Short: "Restart a task from scratch with fresh subtask identifiers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := postJSON("/api/tasks/"+args[0]+"/restart", nil, nil); err != nil {
			return err
		}
		fmt.Printf("Restarted task %s\n", args[0])
		return nil
	},
}

var restartSubtaskCmd = &cobra.Command{
	Use:   "restart-subtask SUBTASK_ID",
	Short: "Put a single subtask's work unit back in the pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := postJSON("/api/subtasks/"+args[0]+"/restart", nil, nil); err != nil {
			return err
		}
		fmt.Printf("Restarted subtask %s\n", args[0])
		return nil
	},
}
