package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/runtime"
)

// loadConfig applies the persistent flags on top of the config file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if profile != "" {
		cfg.Profile = profile
	}
	if logLevel != "" && cfg.Logging != nil {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// buildApp constructs the app for one-shot commands. Console logging is
// kept, file logging follows the config.
func buildApp(opts runtime.Options) (*runtime.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return runtime.New(cfg, opts)
}

// withApp runs fn against a started app and tears it down afterwards.
// One-shot commands wait briefly for the catalog before fn runs.
func withApp(waitCatalog bool, fn func(ctx context.Context, app *runtime.App) error) error {
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
	if waitCatalog {
		app.WaitForCatalog(ctx, 15*time.Second)
	}
	return fn(ctx, app)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// parseJSONArgs decodes a --params style JSON object.
func parseJSONArgs(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid JSON parameters: %w", err)
	}
	return args, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
