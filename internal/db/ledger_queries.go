package db

import (
	"context"
	"fmt"

	"horse.fit/conch/internal/globaltime"
)

// LedgerStamp returns the last committed stamp for (kind, key).
func (p *Pool) LedgerStamp(ctx context.Context, kind, key string) (string, bool, error) {
	const q = `
SELECT stamp
FROM conch.revision_ledger
WHERE kind = $1 AND source_key = $2
`
	var stamp string
	if err := p.QueryRow(ctx, q, kind, key).Scan(&stamp); err != nil {
		if IsNoRows(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query revision ledger: %w", err)
	}
	return stamp, true, nil
}

// advanceLedgerSQL only replaces a stamp that sorts at or before the new
// one bytewise, the same order Go uses for strings. A newer stored stamp
// makes the upsert return no row.
const advanceLedgerSQL = `
INSERT INTO conch.revision_ledger (kind, source_key, stamp, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (kind, source_key) DO UPDATE
SET
	stamp = EXCLUDED.stamp,
	updated_at = EXCLUDED.updated_at
WHERE conch.revision_ledger.stamp COLLATE "C" <= EXCLUDED.stamp COLLATE "C"
RETURNING stamp
`

// AdvanceLedger upserts stamp for (kind, key) unless the stored stamp sorts
// after it, and returns the stamp held afterwards.
func (p *Pool) AdvanceLedger(ctx context.Context, kind, key, stamp string) (string, error) {
	var held string
	err := p.QueryRow(ctx, advanceLedgerSQL, kind, key, stamp, globaltime.UTC()).Scan(&held)
	if err == nil {
		return held, nil
	}
	if !IsNoRows(err) {
		return "", fmt.Errorf("upsert revision ledger: %w", err)
	}

	held, found, err := p.LedgerStamp(ctx, kind, key)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("revision ledger row for %s/%s vanished", kind, key)
	}
	return held, nil
}
