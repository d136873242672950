package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"horse.fit/conch/internal/cli"
	"horse.fit/conch/internal/entity"
	"horse.fit/conch/internal/logging"
	"horse.fit/conch/internal/orcid"
	"horse.fit/conch/internal/worker"
)

func runWork(args []string) int {
	fs := flag.NewFlagSet("work", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	concurrency := fs.Int("concurrency", 0, "Fetch loops per task family (0 uses WORKER_CONCURRENCY)")
	families := fs.String("families", "records,authors,enrich", "Comma-separated task families to run")
	httpAddr := fs.String("http", "", "Also serve the ops API on this address (empty disables)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	selected, err := selectFamilies(*families)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, logger, code := loadConfig(envLoader)
	if code != 0 {
		return code
	}
	if *concurrency > 0 {
		cfg.WorkerConcurrency = *concurrency
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	rt, err := connect(connectCtx, cfg, logger)
	connectCancel()
	if err != nil {
		logger.Error().Err(err).Msg("work failed to connect")
		fmt.Fprintf(os.Stderr, "Work failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	store := entity.NewPostgresStore(rt.pool)
	profiles := orcid.NewClient(&http.Client{Timeout: 30 * time.Second}, cfg.ORCIDAPIURL, cfg.ORCIDRateLimit, logging.Component(logger, "orcid"))
	pool := worker.NewPool(
		rt.transport,
		entity.NewRecords(store, logging.Component(logger, "records")),
		entity.NewAuthors(store, profiles, logging.Component(logger, "authors")),
		rt.detector(),
		rt.metrics,
		logging.Component(logger, "worker"),
		worker.Options{
			Concurrency: cfg.WorkerConcurrency,
			AckWait:     cfg.WorkerAckWait,
			MaxDeliver:  cfg.WorkerMaxDeliver,
			Families:    selected,
		},
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(gctx)
	})
	if addr := strings.TrimSpace(*httpAddr); addr != "" {
		srv := rt.server(addr)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("workers stopped")
		fmt.Fprintf(os.Stderr, "Work failed: %v\n", err)
		return 1
	}
	logger.Info().Msg("workers stopped")
	return 0
}

func selectFamilies(raw string) ([]worker.Family, error) {
	byName := make(map[string]worker.Family, len(worker.Families))
	for _, f := range worker.Families {
		byName[f.Name] = f
	}

	var out []worker.Family
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		f, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown task family %q (want records, authors or enrich)", name)
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("--families selects no task family")
	}
	return out, nil
}
