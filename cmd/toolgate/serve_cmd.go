package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/runtime"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the two-tool surface on stdio",
		RunE:  runServe,
	}
}

// runServe starts the app and serves the upstream session. The router
// accepts requests immediately; indexing catches up in the background.
func runServe(_ *cobra.Command, _ []string) error {
	app, err := buildApp(runtime.Options{})
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return err
	}

	app.Logger.Info("Serving upstream session on stdio",
		zap.String("profile", app.Profile.Name),
		zap.Int("servers", len(app.Profile.Servers)))

	errCh := make(chan error, 1)
	go func() { errCh <- app.Router.ServeStdio() }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}
