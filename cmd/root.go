package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logLevel string // Log verbosity level

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "hydrofed",
	Short: "Co-simulation federation of a water plant and its control logic",
	Long: "hydrofed couples a water-distribution plant model and a PLC-style controller\n" +
		"through a conservative time-synchronization and publish/subscribe substrate,\n" +
		"advancing both through simulated time in lockstep.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// Execute runs the CLI entry point.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}
