package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"horse.fit/conch/internal/db"
	"horse.fit/conch/internal/dblpxml"
	"horse.fit/conch/internal/fetch"
	"horse.fit/conch/internal/globaltime"
	"horse.fit/conch/internal/metrics"
)

const (
	maxIngestErrorLength = 4000

	grammarFile = "dblp.dtd"
	dumpFile    = "dblp.xml.gz"

	readBufferSize = 1 << 20
)

// ErrRunInProgress reports that another run holds the run lock.
var ErrRunInProgress = errors.New("another ingest run is in progress")

// Locker serialises ingest runs across processes.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type Options struct {
	GrammarURL string
	DumpURL    string
	DataDir    string
}

type Service struct {
	pool     *db.Pool
	fetcher  *fetch.Fetcher
	lock     Locker
	pipeline *Pipeline
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	opts     Options
}

// Summary describes one finished run.
type Summary struct {
	RunID     int64    `json:"run_id"`
	RunUUID   string   `json:"run_uuid"`
	Skipped   bool     `json:"skipped"`
	DumpToken string   `json:"dump_token,omitempty"`
	Counters  Counters `json:"counters"`
}

func NewService(pool *db.Pool, fetcher *fetch.Fetcher, lock Locker, pipeline *Pipeline, m *metrics.Metrics, logger zerolog.Logger, opts Options) *Service {
	return &Service{
		pool:     pool,
		fetcher:  fetcher,
		lock:     lock,
		pipeline: pipeline,
		metrics:  m,
		logger:   logger,
		opts:     opts,
	}
}

// Sync fetches the grammar and the dump when they changed and runs the
// pipeline over the dump. An unchanged dump records a skipped run.
func (s *Service) Sync(ctx context.Context) (Summary, error) {
	if s == nil || s.pool == nil || s.fetcher == nil || s.pipeline == nil {
		return Summary{}, fmt.Errorf("ingest service is not initialized")
	}
	if err := os.MkdirAll(s.opts.DataDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("create data dir: %w", err)
	}

	return s.withRun(ctx, s.opts.DumpURL, func(ctx context.Context, summary *Summary) (*fetch.Result, error) {
		grammar, err := s.refreshGrammar(ctx)
		if err != nil {
			return nil, err
		}

		res, err := s.downloadDump(ctx)
		if err != nil {
			return nil, err
		}
		if !res.Changed {
			summary.Skipped = true
			summary.DumpToken = res.Token
			return nil, nil
		}
		summary.DumpToken = res.Token

		counters, err := s.parseFile(ctx, grammar, filepath.Join(s.opts.DataDir, dumpFile))
		summary.Counters = counters
		if err != nil {
			return nil, err
		}
		return &res, nil
	})
}

// ParseLocal runs the pipeline over local files. Dumps ending in .gz are
// decompressed on the fly.
func (s *Service) ParseLocal(ctx context.Context, grammarPath, dumpPath string) (Summary, error) {
	if s == nil || s.pool == nil || s.pipeline == nil {
		return Summary{}, fmt.Errorf("ingest service is not initialized")
	}
	source := "file:" + dumpPath
	if abs, err := filepath.Abs(dumpPath); err == nil {
		source = "file:" + abs
	}

	return s.withRun(ctx, source, func(ctx context.Context, summary *Summary) (*fetch.Result, error) {
		grammar, err := loadGrammarFile(grammarPath)
		if err != nil {
			return nil, err
		}
		counters, err := s.parseFile(ctx, grammar, dumpPath)
		summary.Counters = counters
		return nil, err
	})
}

// withRun holds the run lock and an ingest_runs row around fn. The token
// fn returns is committed only when fn succeeds.
func (s *Service) withRun(ctx context.Context, source string, fn func(context.Context, *Summary) (*fetch.Result, error)) (Summary, error) {
	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx)
		if err != nil {
			return Summary{}, fmt.Errorf("acquire run lock: %w", err)
		}
		if !acquired {
			return Summary{}, ErrRunInProgress
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := s.lock.Release(releaseCtx); err != nil {
				s.logger.Warn().Err(err).Msg("release run lock")
			}
		}()
	}

	runStart := globaltime.UTC()
	runID, runUUID, err := s.insertRun(ctx, source, runStart)
	if err != nil {
		return Summary{}, fmt.Errorf("insert ingest run: %w", err)
	}
	summary := Summary{RunID: runID, RunUUID: runUUID}

	s.logger.Info().
		Int64("run_id", runID).
		Str("run_uuid", runUUID).
		Str("source", source).
		Msg("ingest run started")

	token, runErr := fn(ctx, &summary)
	if runErr == nil && token != nil {
		runErr = token.Commit(ctx)
	}

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	finishedAt := globaltime.UTC()
	elapsed := finishedAt.Sub(runStart)

	if runErr != nil {
		s.metrics.RunFinished(elapsed, false, finishedAt)
		if markErr := s.markRunFailed(finishCtx, runID, summary.Counters, runErr, finishedAt); markErr != nil {
			return summary, fmt.Errorf("ingest run failed (%v); failed to mark run failed: %w", runErr, markErr)
		}
		return summary, runErr
	}

	status := "completed"
	if summary.Skipped {
		status = "skipped"
	}
	if err := s.markRunFinished(finishCtx, runID, status, summary, finishedAt); err != nil {
		return summary, fmt.Errorf("mark ingest run %s: %w", status, err)
	}
	s.metrics.RunFinished(elapsed, true, finishedAt)

	s.logger.Info().
		Int64("run_id", runID).
		Str("status", status).
		Dur("elapsed", elapsed).
		Int64("dispatched", summary.Counters.Dispatched).
		Int64("dispatch_failed", summary.Counters.DispatchFailed).
		Msg("ingest run finished")
	return summary, nil
}

// refreshGrammar keeps a local copy of the grammar under its own token and
// loads it.
func (s *Service) refreshGrammar(ctx context.Context) (*dblpxml.Grammar, error) {
	path := filepath.Join(s.opts.DataDir, grammarFile)

	tmp, err := os.CreateTemp(s.opts.DataDir, "grammar-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create grammar temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	var res fetch.Result
	if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
		res, err = s.fetcher.Refresh(ctx, s.opts.GrammarURL, tmp)
	} else {
		res, err = s.fetcher.FetchDeferred(ctx, s.opts.GrammarURL, tmp)
	}
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close grammar temp file: %w", closeErr)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch grammar: %w", err)
	}

	if res.Changed {
		s.metrics.Fetched("grammar", res.Bytes)
		if err := os.Rename(tmp.Name(), path); err != nil {
			return nil, fmt.Errorf("install grammar: %w", err)
		}
		if err := res.Commit(ctx); err != nil {
			return nil, err
		}
	}
	return loadGrammarFile(path)
}

func (s *Service) downloadDump(ctx context.Context) (fetch.Result, error) {
	tmp, err := os.CreateTemp(s.opts.DataDir, "dump-*.tmp")
	if err != nil {
		return fetch.Result{}, fmt.Errorf("create dump temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriterSize(tmp, readBufferSize)
	res, err := s.fetcher.FetchDeferred(ctx, s.opts.DumpURL, w)
	if err == nil {
		err = w.Flush()
	}
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return fetch.Result{}, fmt.Errorf("fetch dump: %w", err)
	}

	if res.Changed {
		s.metrics.Fetched("dump", res.Bytes)
		if err := os.Rename(tmp.Name(), filepath.Join(s.opts.DataDir, dumpFile)); err != nil {
			return fetch.Result{}, fmt.Errorf("install dump: %w", err)
		}
	}
	return res, nil
}

func (s *Service) parseFile(ctx context.Context, grammar *dblpxml.Grammar, path string) (Counters, error) {
	f, err := os.Open(path)
	if err != nil {
		return Counters{}, fmt.Errorf("open dump: %w", err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReaderSize(f, readBufferSize)
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return Counters{}, fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	return s.pipeline.Run(ctx, grammar, r)
}

func loadGrammarFile(path string) (*dblpxml.Grammar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open grammar: %w", err)
	}
	defer f.Close()
	return dblpxml.LoadGrammar(f)
}

func (s *Service) insertRun(ctx context.Context, source string, runStart time.Time) (int64, string, error) {
	const q = `
INSERT INTO conch.ingest_runs (
	source,
	started_at,
	status,
	created_at,
	updated_at
)
VALUES ($1, $2, 'running', $2, $2)
RETURNING run_id, ingest_run_uuid
`
	var runID int64
	var runUUID string
	if err := s.pool.QueryRow(ctx, q, source, runStart).Scan(&runID, &runUUID); err != nil {
		return 0, "", err
	}
	return runID, runUUID, nil
}

func (s *Service) markRunFinished(ctx context.Context, runID int64, status string, summary Summary, finishedAt time.Time) error {
	const q = `
UPDATE conch.ingest_runs
SET
	status = $2::conch.ingest_run_status,
	dump_etag = $3,
	parsed = $4,
	dropped = $5,
	unchanged = $6,
	inserted = $7,
	updated = $8,
	dispatched = $9,
	dispatch_failed = $10,
	finished_at = $11,
	updated_at = $11,
	error_message = NULL
WHERE run_id = $1
`
	c := summary.Counters
	_, err := s.pool.Exec(ctx, q,
		runID, status, normalizeNullableString(summary.DumpToken),
		c.Parsed, c.Dropped, c.Unchanged, c.Inserted, c.Updated, c.Dispatched, c.DispatchFailed,
		finishedAt,
	)
	return err
}

func (s *Service) markRunFailed(ctx context.Context, runID int64, c Counters, cause error, finishedAt time.Time) error {
	const q = `
UPDATE conch.ingest_runs
SET
	status = 'failed',
	parsed = $2,
	dropped = $3,
	unchanged = $4,
	inserted = $5,
	updated = $6,
	dispatched = $7,
	dispatch_failed = $8,
	error_message = $9,
	finished_at = $10,
	updated_at = $10
WHERE run_id = $1
`
	_, err := s.pool.Exec(ctx, q,
		runID,
		c.Parsed, c.Dropped, c.Unchanged, c.Inserted, c.Updated, c.Dispatched, c.DispatchFailed,
		truncateError(cause), finishedAt,
	)
	return err
}

func truncateError(cause error) string {
	msg := strings.TrimSpace(cause.Error())
	if len(msg) <= maxIngestErrorLength {
		return msg
	}
	cut := maxIngestErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func normalizeNullableString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
