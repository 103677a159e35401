// locshared is the device-side location-sharing daemon.
//
// It hosts the sharing controller, talks to the device OS through the MQTT
// platform bridge, supervises the background reporting child and serves the
// sharing screen to the UI shell over a local HTTP + WebSocket API.
//
// Usage:
//
//	locshared [serve]            run the daemon (default)
//	locshared report --user ID   run the background reporting service
//	locshared version            print build information
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/locshare-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// errUsage is returned for an unknown subcommand.
var errUsage = errors.New("usage: locshared [serve | report --user ID | version]")

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := dispatch(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// dispatch runs the subcommand named by args[0].
func dispatch(ctx context.Context, args []string) error {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return run(ctx)
	case "report":
		return runReport(ctx, args)
	case "version":
		fmt.Printf("locshared %s (commit %s, built %s)\n", version, commit, date)
		return nil
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

// getConfigPath returns the configuration file path.
// Uses LOCSHARE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LOCSHARE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
