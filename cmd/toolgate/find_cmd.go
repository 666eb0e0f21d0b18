package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/runtime"
)

func findCmd() *cobra.Command {
	var (
		limit     int
		threshold float64
		noModel   bool
	)

	cmd := &cobra.Command{
		Use:   "find <description>",
		Short: "Find tools matching a description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			app, err := buildApp(runtime.Options{DisableEmbeddings: noModel})
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, cancel := signalContext()
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return err
			}
			app.WaitForCatalog(ctx, 15*time.Second)

			return runFind(ctx, app, query, limit, threshold)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum confidence in [0,1]")
	cmd.Flags().BoolVar(&noModel, "no-model", false, "Disable embeddings, use keyword matching only")
	return cmd
}

func runFind(_ context.Context, app *runtime.App, query string, limit int, threshold float64) error {
	results, err := app.Engine.Search(query, limit, threshold)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Printf("No tools found for %q (catalog has %d tools)\n", query, app.Catalog.Count())
		return nil
	}
	for i, res := range results {
		fmt.Printf("%d. %s (%.2f)\n   %s\n", i+1, res.Tool.ID(), res.Confidence, res.Tool.Description)
	}
	return nil
}
