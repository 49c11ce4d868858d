package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/krill-network/krill/internal/domain"
)

func init() {
	rootCmd.AddCommand(tasksCmd)
}

var tasksCmd = &cobra.Command{
	Use:     "tasks [TASK_ID]",
	Aliases: []string{"ls"},
	Short:   "List tasks on the local node",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runTasks,
}

func runTasks(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		var summary domain.TaskSummary
		if err := getJSON("/api/tasks/"+args[0], &summary); err != nil {
			return err
		}
		fmt.Printf("Task:        %s\n", summary.TaskID)
		fmt.Printf("Name:        %s\n", summary.Name)
		fmt.Printf("Kind:        %s\n", summary.Kind)
		fmt.Printf("State:       %s\n", stateLabel(summary))
		fmt.Printf("Subtasks:    %d total, %d completed, %d outstanding\n",
			summary.SubtasksCount, summary.Completed, summary.Outstanding)
		fmt.Printf("Progress:    %.1f%%\n", summary.Progress*100)
		fmt.Printf("Deadline:    %s\n", summary.Deadline.Format("2006-01-02 15:04:05"))
		return nil
	}

	var tasks []domain.TaskSummary
	if err := getJSON("/api/tasks", &tasks); err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks. Run 'krill submit <taskfile>' to create one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATE\tPROGRESS\tDEADLINE")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f%%\t%s\n",
			t.TaskID,
			t.Name,
			stateLabel(t),
			t.Progress*100,
			t.Deadline.Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func stateLabel(t domain.TaskSummary) string {
	if t.Aborted {
		return string(t.State) + " (aborted)"
	}
	return string(t.State)
}
