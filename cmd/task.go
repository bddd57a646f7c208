package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/strix/internal/flow"
	"firestige.xyz/strix/internal/runner"
)

var (
	taskCreateName      string
	taskCreateCommand   string
	taskCreateOutputs   map[string]string
	taskCreatePartition string
	taskCreateImage     string
	taskCreateBinds     map[string]string
	taskCreateInput     string
	taskCreateDir       string
	taskCreateDryRun    bool

	taskFlowDir     string
	taskRetryDryRun bool
)

// taskCmd groups the user-facing task operations.
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create and inspect tasks of a flow",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a single-task flow from the command line",
	Long: `Create a flow containing one task over one input dataset.

The command template must contain %IN plus a %KEY placeholder for every
declared output, e.g.:

  strix task create -n T1 -d /scratch/myflow -i /data/raw -p gpu \
      -c "run.py --job %IN --output %OUT" -o OUT=output.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := flow.NewFlowContext(taskCreateDir, map[string]string{
			flow.ParamVirtualenv:       cfg.Virtualenv,
			flow.ParamTriggerPartition: cfg.TriggerPartition,
		})
		input, err := flow.NewDataset(ctx, "input_dataset", taskCreateInput)
		if err != nil {
			return err
		}
		spec := flow.TaskSpec{
			Name:      taskCreateName,
			Command:   taskCreateCommand,
			Input:     flow.DatasetHandle(input),
			Outputs:   taskCreateOutputs,
			Partition: taskCreatePartition,
			Binds:     taskCreateBinds,
		}
		if taskCreateImage != "" {
			img, err := flow.NewImage(ctx, "image", taskCreateImage)
			if err != nil {
				return err
			}
			spec.Image = flow.ImageHandle(img)
		}
		if _, err := flow.NewTask(ctx, spec); err != nil {
			return err
		}
		return flow.NewSession(ctx).Run(taskCreateDryRun)
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tasks of a flow",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := runner.LoadFlowDir(taskFlowDir)
		if err != nil {
			return err
		}
		flow.PrintTasks(os.Stdout, ctx)
		return nil
	},
}

var taskRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Make failed work eligible again and re-trigger the flow",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := runner.LoadFlowDir(taskFlowDir)
		if err != nil {
			return err
		}
		return runner.Retry(ctx, taskRetryDryRun)
	},
}

func init() {
	taskCreateCmd.Flags().StringVarP(&taskCreateName, "name", "n", "", "the task name")
	taskCreateCmd.Flags().StringVarP(&taskCreateCommand, "command", "c", "", "the command template")
	taskCreateCmd.Flags().StringToStringVarP(&taskCreateOutputs, "outputs", "o", nil,
		"output mapping KEY=filename (repeatable)")
	taskCreateCmd.Flags().StringVarP(&taskCreatePartition, "partition", "p", "", "the scheduler partition")
	taskCreateCmd.Flags().StringVarP(&taskCreateImage, "image", "m", "", "the container image path")
	taskCreateCmd.Flags().StringToStringVarP(&taskCreateBinds, "binds", "b", nil,
		"bind mounts src=dst (repeatable)")
	taskCreateCmd.Flags().StringVarP(&taskCreateInput, "input", "i", "", "the input dataset path")
	taskCreateCmd.Flags().StringVarP(&taskCreateDir, "output-dir", "d", "", "the flow directory")
	taskCreateCmd.Flags().BoolVar(&taskCreateDryRun, "dry-run", false, "print submissions instead of executing them")
	taskCreateCmd.MarkFlagRequired("name")
	taskCreateCmd.MarkFlagRequired("command")
	taskCreateCmd.MarkFlagRequired("outputs")
	taskCreateCmd.MarkFlagRequired("input")
	taskCreateCmd.MarkFlagRequired("output-dir")

	for _, c := range []*cobra.Command{taskListCmd, taskRetryCmd} {
		c.Flags().StringVarP(&taskFlowDir, "input", "i", "", "the flow directory")
		c.MarkFlagRequired("input")
	}
	taskRetryCmd.Flags().BoolVar(&taskRetryDryRun, "dry-run", false, "print submissions instead of executing them")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskRetryCmd)
}
