package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/strix/internal/config"
	"firestige.xyz/strix/internal/flow"
)

var (
	flowCreateFile   string
	flowCreateDryRun bool
)

// flowCmd groups whole-flow operations.
var flowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Create and run a multi-task flow",
}

var flowCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a flow from a declarative pipeline file",
	Long: `Create a flow from a YAML pipeline file declaring datasets, images and
tasks. Tasks must be declared in dependency order: a task consuming
another task's output appears after its producer. Example:

  path: /scratch/myflow
  datasets:
    - {name: raw, path: /data/raw}
  tasks:
    - name: T1
      command: "run.py --job %IN --output %OUT"
      input: raw
      outputs: {OUT: output.json}
      partition: gpu`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pf, err := config.LoadPipeline(flowCreateFile)
		if err != nil {
			return err
		}
		session, err := flow.BuildPipeline(pf, cfg)
		if err != nil {
			return err
		}
		return session.Run(flowCreateDryRun)
	},
}

func init() {
	flowCreateCmd.Flags().StringVarP(&flowCreateFile, "file", "f", "", "the pipeline file")
	flowCreateCmd.Flags().BoolVar(&flowCreateDryRun, "dry-run", false, "print submissions instead of executing them")
	flowCreateCmd.MarkFlagRequired("file")

	flowCmd.AddCommand(flowCreateCmd)
}
