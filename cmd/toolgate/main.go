package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "1.0.0"

	configFile string
	dataDir    string
	profile    string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "toolgate",
		Short:   "Aggregating proxy for tool servers",
		Long:    "toolgate connects to the tool servers of a profile, indexes their catalogs and re-exports everything as two tools: find and run.",
		Version: version,
		RunE:    runServe,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.toolgate)")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "Profile name (default: default)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		serveCmd(),
		findCmd(),
		runCmd(),
		jobsCmd(),
		serversCmd(),
		logsCmd(),
		statsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
