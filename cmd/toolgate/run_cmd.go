package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/runtime"
)

func runCmd() *cobra.Command {
	var params string

	cmd := &cobra.Command{
		Use:   "run <server:tool>",
		Short: "Run a tool through the router",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			toolArgs, err := parseJSONArgs(params)
			if err != nil {
				return err
			}
			return withApp(true, func(ctx context.Context, app *runtime.App) error {
				result, err := app.Router.Run(ctx, args[0], toolArgs)
				if err != nil {
					return err
				}
				fmt.Println(result)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&params, "params", "", "Tool parameters as a JSON object")
	return cmd
}
