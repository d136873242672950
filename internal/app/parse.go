package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"horse.fit/conch/internal/cli"
	"horse.fit/conch/internal/ingest"
)

func runParse(args []string) int {
	fs := flag.NewFlagSet("parse", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	grammarPath := fs.String("grammar", "data/dblp.dtd", "Path to the dblp grammar (DTD)")
	dumpPath := fs.String("dump", "data/dblp.xml.gz", "Path to the dblp dump (.xml or .xml.gz)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if strings.TrimSpace(*grammarPath) == "" || strings.TrimSpace(*dumpPath) == "" {
		fmt.Fprintln(os.Stderr, "--grammar and --dump are required")
		return 2
	}

	cfg, logger, code := loadConfig(envLoader)
	if code != 0 {
		return code
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	rt, err := connect(connectCtx, cfg, logger)
	connectCancel()
	if err != nil {
		logger.Error().Err(err).Msg("parse failed to connect")
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	summary, err := rt.ingestService().ParseLocal(ctx, *grammarPath, *dumpPath)
	if err != nil {
		if errors.Is(err, ingest.ErrRunInProgress) {
			fmt.Fprintln(os.Stderr, "Parse skipped: another run holds the lock")
			return 1
		}
		logger.Error().Err(err).Str("dump", *dumpPath).Msg("parse failed")
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		return 1
	}
	printCounters(summary)
	return 0
}
