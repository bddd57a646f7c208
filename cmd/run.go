package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/strix/internal/runner"
)

var (
	runJobInput    string
	runJobWorkarea string

	runTaskFile  string
	runTaskIndex int
	runDryRun    bool
)

// runCmd groups the scheduler-launched phases.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scheduler-launched phase (job, task init, task next)",
}

var runJobCmd = &cobra.Command{
	Use:   "job",
	Short: "Execute a single job from its descriptor",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runner.RunJob(runJobInput, runJobWorkarea, runner.JobOptions{
			SingularityBin: cfg.SingularityBin,
			PollInterval:   cfg.PollInterval,
		})
	},
}

var runTaskCmd = &cobra.Command{
	Use:   "task",
	Short: "Run the task-init phase: submit the job array and the next phase",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runner.RunInit(runTaskFile, runTaskIndex, runDryRun)
	},
}

var runNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Run the task-next phase: classify the task and cascade the DAG",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runner.RunNext(runTaskFile, runTaskIndex, runDryRun)
	},
}

func init() {
	runJobCmd.Flags().StringVarP(&runJobInput, "input", "i", "", "the job descriptor file")
	runJobCmd.Flags().StringVarP(&runJobWorkarea, "output", "o", "", "the job workarea directory")
	runJobCmd.MarkFlagRequired("input")
	runJobCmd.MarkFlagRequired("output")

	for _, c := range []*cobra.Command{runTaskCmd, runNextCmd} {
		c.Flags().StringVarP(&runTaskFile, "task-file", "t", "", "the flow.json file")
		c.Flags().IntVarP(&runTaskIndex, "index", "i", 0, "the task index")
		c.Flags().BoolVar(&runDryRun, "dry-run", false, "print submissions instead of executing them")
		c.MarkFlagRequired("task-file")
		c.MarkFlagRequired("index")
	}

	runCmd.AddCommand(runJobCmd)
	runCmd.AddCommand(runTaskCmd)
	runCmd.AddCommand(runNextCmd)
}
