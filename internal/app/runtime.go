package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"horse.fit/conch/internal/cli"
	"horse.fit/conch/internal/config"
	"horse.fit/conch/internal/db"
	"horse.fit/conch/internal/dispatch"
	"horse.fit/conch/internal/fetch"
	"horse.fit/conch/internal/httpapi"
	"horse.fit/conch/internal/ingest"
	"horse.fit/conch/internal/logging"
	"horse.fit/conch/internal/metrics"
	"horse.fit/conch/internal/queue"
	"horse.fit/conch/internal/revision"
)

const (
	runLockKey      = "conch:ingest:lock"
	duplicateWindow = 24 * time.Hour
)

// loadConfig loads the .env file, the environment and the logger. A non-zero
// code means the command must exit with it.
func loadConfig(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, int) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Nop(), 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Nop(), 1
	}
	return cfg, logger, 0
}

// runtime holds the long-lived handles shared by the commands.
type runtime struct {
	cfg       *config.Config
	logger    zerolog.Logger
	pool      *db.Pool
	redis     *redis.Client
	transport *queue.Transport
	metrics   *metrics.Metrics
}

func connect(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger, metrics: metrics.New()}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	rt.pool = pool

	rdb, err := revision.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.redis = rdb

	transport, err := queue.Connect(ctx, cfg.NATSURL, queue.StreamSpec{
		Name:            cfg.StreamName,
		Subjects:        []string{dispatch.SubjectWildcard},
		DuplicateWindow: duplicateWindow,
	}, logging.Component(logger, "queue"))
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.transport = transport
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.transport != nil {
		rt.transport.Close()
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	if rt.pool != nil {
		_ = rt.pool.Close()
	}
}

func (rt *runtime) detector() *revision.Detector {
	return revision.NewDetector(revision.NewRedisCache(rt.redis), rt.pool, logging.Component(rt.logger, "revision"))
}

func (rt *runtime) ingestService() *ingest.Service {
	dispatcher := dispatch.NewDispatcher(rt.transport, rt.cfg.DBLPBaseURL, rt.metrics, logging.Component(rt.logger, "dispatch"))
	pipeline := ingest.NewPipeline(rt.detector(), dispatcher, rt.metrics, logging.Component(rt.logger, "pipeline"))
	fetcher := fetch.NewFetcher(
		&http.Client{Timeout: rt.cfg.FetchTimeout},
		rt.pool,
		rt.cfg.FetchChunkSize,
		logging.Component(rt.logger, "fetch"),
	)
	lock := revision.NewRunLock(rt.redis, runLockKey, rt.cfg.RunLockTTL)
	return ingest.NewService(rt.pool, fetcher, lock, pipeline, rt.metrics, logging.Component(rt.logger, "ingest"), ingest.Options{
		GrammarURL: rt.cfg.DBLPDTDURL,
		DumpURL:    rt.cfg.DBLPXMLGzURL,
		DataDir:    rt.cfg.DataDir,
	})
}

func (rt *runtime) checks() []httpapi.Check {
	return []httpapi.Check{
		{Name: "postgres", Ping: rt.pool.Ping},
		{Name: "redis", Ping: func(ctx context.Context) error { return rt.redis.Ping(ctx).Err() }},
		{Name: "nats", Ping: rt.transport.Ping},
	}
}

func (rt *runtime) server(addr string) *httpapi.Server {
	return httpapi.NewServer(rt.pool, rt.checks(), rt.metrics, logging.Component(rt.logger, "http"), httpapi.Options{
		Addr:         addr,
		AllowOrigins: rt.cfg.CORSAllowedOriginsList(),
	})
}
