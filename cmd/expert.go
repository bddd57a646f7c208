package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/strix/internal/flow"
	"firestige.xyz/strix/internal/runner"
)

var (
	expertFlowDir        string
	expertFilterStatus   string
	expertTaskID         int
	expertFromStatus     string
	expertToStatus       string
	expertNewStatus      string
	expertForce          bool
	expertDeleteWorkarea bool
)

// expertCmd groups operator interventions on a running flow.
var expertCmd = &cobra.Command{
	Use:   "expert",
	Short: "Operator interventions: inspect and rewrite persisted statuses",
}

var expertListJobsCmd = &cobra.Command{
	Use:   "list-jobs",
	Short: "List every job with its persisted status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := runner.LoadFlowDir(expertFlowDir)
		if err != nil {
			return err
		}
		runner.ListJobs(os.Stdout, ctx, expertFilterStatus)
		return nil
	},
}

var expertChangeJobsCmd = &cobra.Command{
	Use:   "change-jobs-status",
	Short: "Rewrite the status of every matching job of a task",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := runner.LoadFlowDir(expertFlowDir)
		if err != nil {
			return err
		}
		from, err := flow.ParseState(expertFromStatus)
		if err != nil {
			return err
		}
		to, err := flow.ParseState(expertToStatus)
		if err != nil {
			return err
		}
		changed, err := runner.ChangeJobsStatus(ctx, expertTaskID, from, to)
		if err != nil {
			return err
		}
		fmt.Printf("changed %d jobs\n", changed)
		return nil
	},
}

var expertChangeTaskCmd = &cobra.Command{
	Use:   "change-task-status",
	Short: "Rewrite the status of a task",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := runner.LoadFlowDir(expertFlowDir)
		if err != nil {
			return err
		}
		newState, err := flow.ParseState(expertNewStatus)
		if err != nil {
			return err
		}
		return runner.ChangeTaskStatus(ctx, expertTaskID, newState)
	},
}

var expertResetTaskCmd = &cobra.Command{
	Use:   "reset-task",
	Short: "Return a task and all its jobs to ASSIGNED",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := runner.LoadFlowDir(expertFlowDir)
		if err != nil {
			return err
		}
		return runner.ResetTask(ctx, expertTaskID, expertForce, expertDeleteWorkarea)
	},
}

var expertWatchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Mark PENDING/RUNNING jobs with stale pings as KILLED",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := runner.LoadFlowDir(expertFlowDir)
		if err != nil {
			return err
		}
		killed, err := runner.Watchdog(ctx, cfg.LivenessWindow)
		if err != nil {
			return err
		}
		fmt.Printf("killed %d jobs\n", killed)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{
		expertListJobsCmd, expertChangeJobsCmd, expertChangeTaskCmd,
		expertResetTaskCmd, expertWatchdogCmd,
	} {
		c.Flags().StringVarP(&expertFlowDir, "input", "i", "", "the flow directory")
		c.MarkFlagRequired("input")
	}

	expertListJobsCmd.Flags().StringVar(&expertFilterStatus, "filter-status", "",
		"comma-separated list of states to show (e.g. FAILED,COMPLETED)")

	expertChangeJobsCmd.Flags().IntVar(&expertTaskID, "task-id", 0, "the task id")
	expertChangeJobsCmd.Flags().StringVarP(&expertFromStatus, "from-status", "f", "", "the current job status")
	expertChangeJobsCmd.Flags().StringVarP(&expertToStatus, "to-status", "t", "", "the new job status")
	expertChangeJobsCmd.MarkFlagRequired("task-id")
	expertChangeJobsCmd.MarkFlagRequired("from-status")
	expertChangeJobsCmd.MarkFlagRequired("to-status")

	expertChangeTaskCmd.Flags().IntVar(&expertTaskID, "task-id", 0, "the task id")
	expertChangeTaskCmd.Flags().StringVar(&expertNewStatus, "new-status", "", "the new task status")
	expertChangeTaskCmd.MarkFlagRequired("task-id")
	expertChangeTaskCmd.MarkFlagRequired("new-status")

	expertResetTaskCmd.Flags().IntVar(&expertTaskID, "task-id", 0, "the task id")
	expertResetTaskCmd.Flags().BoolVar(&expertForce, "force", false,
		"reset even completed or finalized tasks")
	expertResetTaskCmd.Flags().BoolVar(&expertDeleteWorkarea, "delete-workarea", false,
		"purge the per-job scratch directories")
	expertResetTaskCmd.MarkFlagRequired("task-id")

	expertCmd.AddCommand(expertListJobsCmd)
	expertCmd.AddCommand(expertChangeJobsCmd)
	expertCmd.AddCommand(expertChangeTaskCmd)
	expertCmd.AddCommand(expertResetTaskCmd)
	expertCmd.AddCommand(expertWatchdogCmd)
}
