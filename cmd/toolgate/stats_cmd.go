package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/runtime"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show tool usage counters",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp(false, func(_ context.Context, app *runtime.App) error {
				records, err := app.DB.ListToolStats()
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Println("No tool calls recorded.")
					return nil
				}
				for _, rec := range records {
					fmt.Printf("%-40s %6d  last used %s\n",
						rec.ToolID, rec.Count, rec.LastUsed.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
}
