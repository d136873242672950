package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"horse.fit/conch/internal/cli"
	"horse.fit/conch/internal/ingest"
)

func runSync(args []string) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 0, "Overall run timeout (0 uses FETCH_TIMEOUT plus parse time)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, logger, code := loadConfig(envLoader)
	if code != 0 {
		return code
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runTimeout := *timeout
	if runTimeout <= 0 {
		runTimeout = cfg.FetchTimeout + cfg.RunLockTTL
	}
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	rt, err := connect(connectCtx, cfg, logger)
	connectCancel()
	if err != nil {
		logger.Error().Err(err).Msg("sync failed to connect")
		fmt.Fprintf(os.Stderr, "Sync failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	summary, err := rt.ingestService().Sync(ctx)
	if err != nil {
		if errors.Is(err, ingest.ErrRunInProgress) {
			fmt.Fprintln(os.Stderr, "Sync skipped: another run holds the lock")
			return 1
		}
		logger.Error().Err(err).Int64("run_id", summary.RunID).Msg("sync failed")
		fmt.Fprintf(os.Stderr, "Sync failed: %v\n", err)
		return 1
	}

	if summary.Skipped {
		fmt.Printf("ok: dump unchanged run_id=%d etag=%s\n", summary.RunID, summary.DumpToken)
		return 0
	}
	printCounters(summary)
	return 0
}

func printCounters(summary ingest.Summary) {
	c := summary.Counters
	fmt.Printf(
		"ok: run_id=%d parsed=%d dropped=%d unchanged=%d inserted=%d updated=%d dispatched=%d dispatch_failed=%d\n",
		summary.RunID,
		c.Parsed,
		c.Dropped,
		c.Unchanged,
		c.Inserted,
		c.Updated,
		c.Dispatched,
		c.DispatchFailed,
	)
}
