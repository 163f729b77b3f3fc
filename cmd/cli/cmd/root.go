package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sfs-coordinator/pkg/config"
	"github.com/sfs-coordinator/pkg/utils"
)

var (
	// Global flags
	verbose    bool
	configPath string

	logger utils.Logger
	cfg    *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sfs-coordinator",
	Short: "Deadlock-free shared-file coordination service",
	Long: `sfs-coordinator manages a shared coordination region in which
cooperating processes pre-declare the files they may open and then acquire
them one at a time, with the classical resource-allocation-graph avoidance
algorithm guaranteeing that no global deadlock can arise.

The CLI initialises and destroys regions, inspects their state, and runs a
monitor service exposing status, journal and Prometheus metrics.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		logLevel := utils.ParseLogLevel(cfg.Log.Level)
		if verbose {
			logLevel = utils.LevelDebug
		}
		if cfg.Log.OutputPath != "" {
			logger, err = utils.NewFileLogger(logLevel, cfg.Log.OutputPath)
			if err != nil {
				return err
			}
		} else {
			logger = utils.NewDefaultLogger(logLevel, os.Stdout)
		}

		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	binName := BinName()
	rootCmd.Example = `  # Initialise the coordination region from config defaults
  ` + binName + ` init

  # Inspect the region
  ` + binName + ` status --json

  # Run the monitor service
  ` + binName + ` serve

  # Tear the region down after all participants left
  ` + binName + ` destroy`
}

// GetLogger returns the logger configured by the persistent pre-run.
func GetLogger() utils.Logger {
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, os.Stdout)
	}
	return logger
}

// GetConfig returns the configuration loaded by the persistent pre-run.
func GetConfig() *config.Config {
	return cfg
}

// BinName returns the base name of the current executable
func BinName() string {
	exe, err := os.Executable()
	if err != nil {
		return "sfs-coordinator"
	}
	return filepath.Base(exe)
}
