// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/strix/internal/config"
	"firestige.xyz/strix/internal/log"
	"firestige.xyz/strix/internal/slurm"
)

var (
	// Global flags
	configFile   string
	messageLevel string

	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "strix",
	Short: "Strix - dependency-aware workflow orchestrator for batch schedulers",
	Long: `Strix compiles a declared pipeline of tasks into a DAG, fans each task
out into an array of per-input jobs, submits the arrays to a Slurm-class
batch scheduler, and advances the graph through persisted status as jobs
finish. The filesystem is the coordination substrate: every task and job
carries a lock-protected status record under the flow directory.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return err
		}
		level := cfg.Log.Level
		if messageLevel != "" {
			level = messageLevel
		}
		opts := log.Options{Level: level}
		if cfg.Log.File.Enabled {
			opts.File = &log.FileOptions{
				Path:       cfg.Log.File.Path,
				MaxSizeMB:  cfg.Log.File.MaxSizeMB,
				MaxBackups: cfg.Log.File.MaxBackups,
				MaxAgeDays: cfg.Log.File.MaxAgeDays,
				Compress:   cfg.Log.File.Compress,
			}
		}
		if err := log.Init(opts); err != nil {
			return err
		}
		slurm.SetSbatchBin(cfg.SbatchBin)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file path (optional)")
	rootCmd.PersistentFlags().StringVar(&messageLevel, "message-level", "",
		"log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(flowCmd)
	rootCmd.AddCommand(expertCmd)
}
