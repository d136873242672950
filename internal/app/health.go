package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/conch/internal/cli"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Connectivity check timeout")

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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := connect(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("health check failed")
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	for _, check := range rt.checks() {
		if err := check.Ping(ctx); err != nil {
			logger.Error().Err(err).Str("dependency", check.Name).Msg("health check failed")
			fmt.Fprintf(os.Stderr, "Health check failed: %s: %v\n", check.Name, err)
			return 1
		}
	}

	logger.Info().
		Dur("timeout", *timeout).
		Msg("health check passed")
	fmt.Println("ok: postgres, redis and nats reachable")
	return 0
}
