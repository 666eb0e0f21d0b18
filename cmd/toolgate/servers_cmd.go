package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/runtime"
)

func serversCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Inspect and manage downstream servers",
	}
	cmd.AddCommand(serversListCmd(), serversRetryCmd(), serversHintsCmd(), serversRefreshCmd())
	return cmd
}

func serversListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List servers with health and tool counts",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp(false, func(_ context.Context, app *runtime.App) error {
				for name, srv := range app.Profile.Servers {
					snap := app.Health.SnapshotOf(name)
					state := string(snap.State)
					if !srv.Enabled {
						state = "disabled in profile"
					}
					fmt.Printf("%-20s %-10s %-20s errors=%d/%d tools=%d\n",
						name, srv.Kind(), state, snap.ConsecutiveErrors,
						snap.TotalErrors, len(app.Catalog.ToolsOf(name)))
					if snap.DisabledReason != "" {
						fmt.Printf("  %s\n", snap.DisabledReason)
					}
				}
				return nil
			})
		},
	}
}

func serversRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <server>",
		Short: "Clear a server's quarantine and backoff, then re-probe it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withApp(false, func(ctx context.Context, app *runtime.App) error {
				if err := app.Manager.ForceRetry(args[0]); err != nil {
					return err
				}
				if err := app.Catalog.RefreshServer(ctx, args[0]); err != nil {
					return err
				}
				return app.Catalog.Persist()
			})
		},
	}
}

func serversHintsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hints <server>",
		Short: "Show configuration hints inferred from a server's stderr",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withApp(true, func(_ context.Context, app *runtime.App) error {
				hints := app.Catalog.HintsFor(args[0])
				if len(hints) == 0 {
					fmt.Println("No configuration hints.")
					return nil
				}
				return printJSON(hints)
			})
		},
	}
}

func serversRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Re-probe every enabled server",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp(false, func(ctx context.Context, app *runtime.App) error {
				return app.RefreshAll(ctx)
			})
		},
	}
}
