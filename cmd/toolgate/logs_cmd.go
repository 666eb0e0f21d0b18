package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/logs"
)

func logsCmd() *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "logs <server>",
		Short: "Show the tail of a server's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Logging.LogDir == "" {
				cfg.Logging.LogDir = filepath.Join(cfg.DataDir, "logs")
			}
			tail, err := logs.TailServerLog(cfg.Logging, args[0], lines)
			if err != nil {
				return err
			}
			if len(tail) == 0 {
				fmt.Printf("No log output for server %q.\n", args[0])
				return nil
			}
			for _, line := range tail {
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&lines, "lines", 50, "Number of lines to show (max 500)")
	return cmd
}
