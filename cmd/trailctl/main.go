// Command trailctl runs trail engine maintenance against the configured
// database: migrations, reconciliation, manual closure and the metrics
// backfill. Every command prints its result as JSON on stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkordes/trail-engine/internal/app"
	"github.com/pkordes/trail-engine/internal/config"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(2)
	}
	if flag.Arg(0) == "help" {
		printUsage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	// Logs go to stderr so stdout stays parseable JSON.
	logger := app.NewLogger(os.Stderr, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trailctl: %v\n", err)
		os.Exit(1)
	}

	c := &commands{
		trails:     a.Trails,
		reconciler: a.Reconciler,
		metrics:    a.Metrics,
		backfill:   a.Backfill,
		migrate:    func(ctx context.Context) error { return app.Migrate(ctx, a.Pool, logger) },
		out:        os.Stdout,
		errOut:     os.Stderr,
	}
	err = c.run(ctx, flag.Arg(0), flag.Args()[1:])
	a.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "trailctl: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `trailctl - trail engine maintenance

Usage: trailctl <command> [options]

Commands:
  migrate     Apply pending database migrations
  reconcile   Reconcile open trails
                -all                  every scope with open trails
                -vehicle <id>         one vehicle (all of its operations)
                -operation <id>       every vehicle in an operation
                -exclude <vehicle>    with -operation, skip this vehicle
                -timeout <duration>   staleness timeout (default from config)
  close       Close a trail: -id <uuid> [-mode detailed|simplified] [-end <RFC3339>]
  delete      Delete a trail and its buffered points: -id <uuid>
  metrics     Recompute deferred metrics for one closed trail: -id <uuid>
  backfill    Compute metrics for closed trails that lack them
                -status               report progress instead of running
                -limit <n>            process at most n trails (0 = all)
  help        Show this help message

Configuration is read from the same environment variables as the API server.`)
}
