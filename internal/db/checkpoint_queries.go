package db

import (
	"context"
	"fmt"

	"horse.fit/conch/internal/globaltime"
)

// FetchToken returns the last stored entity tag for url.
func (p *Pool) FetchToken(ctx context.Context, url string) (string, bool, error) {
	const q = `SELECT etag FROM conch.fetch_checkpoints WHERE url = $1`

	var etag string
	if err := p.QueryRow(ctx, q, url).Scan(&etag); err != nil {
		if IsNoRows(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query fetch checkpoint: %w", err)
	}
	return etag, true, nil
}

// SetFetchToken records etag as the last fully downloaded revision of url.
func (p *Pool) SetFetchToken(ctx context.Context, url, etag string) error {
	const q = `
INSERT INTO conch.fetch_checkpoints (url, etag, fetched_at, updated_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (url) DO UPDATE
SET
	etag = EXCLUDED.etag,
	fetched_at = EXCLUDED.fetched_at,
	updated_at = EXCLUDED.updated_at
`
	if _, err := p.Exec(ctx, q, url, etag, globaltime.UTC()); err != nil {
		return fmt.Errorf("upsert fetch checkpoint: %w", err)
	}
	return nil
}
