// Package fetch downloads remote files only when their entity tag changed
// since the last complete download.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// ErrTransient wraps network failures and non-2xx responses. Callers may
// retry; the stored token is never touched on this path.
var ErrTransient = errors.New("transient fetch failure")

const defaultChunkSize = 1 << 20

// TokenStore persists the last downloaded entity tag per URL.
type TokenStore interface {
	FetchToken(ctx context.Context, url string) (string, bool, error)
	SetFetchToken(ctx context.Context, url, etag string) error
}

type Fetcher struct {
	client    *http.Client
	tokens    TokenStore
	chunkSize int
	logger    zerolog.Logger
}

func NewFetcher(client *http.Client, tokens TokenStore, chunkSize int, logger zerolog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Fetcher{
		client:    client,
		tokens:    tokens,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Result describes one conditional fetch.
type Result struct {
	URL       string
	Token     string
	Previous  string
	Changed   bool
	Bytes     int64
	committed bool
	commit    func(ctx context.Context) error
}

// Commit stores the downloaded token. It is a no-op for unchanged results
// and for results whose token was already stored by Fetch.
func (r *Result) Commit(ctx context.Context) error {
	if r == nil || r.commit == nil || r.committed {
		return nil
	}
	if err := r.commit(ctx); err != nil {
		return err
	}
	r.committed = true
	return nil
}

// Probe issues a HEAD request and returns the ETag header.
func (f *Fetcher) Probe(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return "", fmt.Errorf("build HEAD %s: %w", url, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: HEAD %s: %v", ErrTransient, url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: HEAD %s: status %d", ErrTransient, url, resp.StatusCode)
	}
	return strings.TrimSpace(resp.Header.Get("ETag")), nil
}

// Fetch downloads url into sink when its token differs from the stored one
// and stores the new token once the whole body has been written.
func (f *Fetcher) Fetch(ctx context.Context, url string, sink io.Writer) (Result, error) {
	res, err := f.FetchDeferred(ctx, url, sink)
	if err != nil {
		return Result{}, err
	}
	if err := res.Commit(ctx); err != nil {
		return Result{}, err
	}
	return res, nil
}

// FetchDeferred is Fetch without the token write; the caller stores it with
// Result.Commit once downstream processing succeeded.
func (f *Fetcher) FetchDeferred(ctx context.Context, url string, sink io.Writer) (Result, error) {
	return f.fetch(ctx, url, sink, false)
}

// Refresh downloads url even when its token is unchanged, for callers that
// lost their local copy. The token is stored like Fetch does.
func (f *Fetcher) Refresh(ctx context.Context, url string, sink io.Writer) (Result, error) {
	res, err := f.fetch(ctx, url, sink, true)
	if err != nil {
		return Result{}, err
	}
	if err := res.Commit(ctx); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (f *Fetcher) fetch(ctx context.Context, url string, sink io.Writer, force bool) (Result, error) {
	if f == nil || f.tokens == nil {
		return Result{}, fmt.Errorf("fetcher is not initialized")
	}
	if sink == nil {
		return Result{}, fmt.Errorf("sink is required")
	}

	previous, _, err := f.tokens.FetchToken(ctx, url)
	if err != nil {
		return Result{}, fmt.Errorf("load fetch token for %s: %w", url, err)
	}

	probed, err := f.Probe(ctx, url)
	if err != nil {
		return Result{}, err
	}

	if !force && probed != "" && probed == previous {
		f.logger.Info().
			Str("url", url).
			Str("etag", probed).
			Msg("remote unchanged; skipping download")
		return Result{URL: url, Token: probed, Previous: previous}, nil
	}

	token, written, err := f.download(ctx, url, sink)
	if err != nil {
		return Result{}, err
	}
	if token == "" {
		token = probed
	}

	res := Result{
		URL:      url,
		Token:    token,
		Previous: previous,
		Changed:  true,
		Bytes:    written,
	}
	if token == "" {
		f.logger.Warn().Str("url", url).Msg("remote sent no ETag; every run will download it")
	} else {
		res.commit = func(ctx context.Context) error {
			if err := f.tokens.SetFetchToken(ctx, url, token); err != nil {
				return fmt.Errorf("store fetch token for %s: %w", url, err)
			}
			return nil
		}
	}

	f.logger.Info().
		Str("url", url).
		Str("previous_etag", previous).
		Str("etag", token).
		Int64("bytes", written).
		Msg("remote downloaded")
	return res, nil
}

func (f *Fetcher) download(ctx context.Context, url string, sink io.Writer) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("build GET %s: %w", url, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: GET %s: %v", ErrTransient, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, fmt.Errorf("%w: GET %s: status %d", ErrTransient, url, resp.StatusCode)
	}

	written, err := io.CopyBuffer(sink, resp.Body, make([]byte, f.chunkSize))
	if err != nil {
		return "", written, fmt.Errorf("%w: GET %s: copy after %d bytes: %v", ErrTransient, url, written, err)
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		return "", written, fmt.Errorf("%w: GET %s: short body %d of %d bytes", ErrTransient, url, written, resp.ContentLength)
	}

	// The body may be newer than what HEAD reported; its own tag wins.
	return strings.TrimSpace(resp.Header.Get("ETag")), written, nil
}
