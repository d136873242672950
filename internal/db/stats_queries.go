package db

import (
	"context"
	"fmt"
	"time"
)

// LedgerKindCount is the number of ledger entries per kind.
type LedgerKindCount struct {
	Kind    string `json:"kind"`
	Entries int64  `json:"entries"`
}

// RunSummary is one row of conch.ingest_runs.
type RunSummary struct {
	RunID          int64      `json:"run_id"`
	RunUUID        string     `json:"run_uuid"`
	Source         string     `json:"source"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Parsed         int64      `json:"parsed"`
	Dropped        int64      `json:"dropped"`
	Unchanged      int64      `json:"unchanged"`
	Inserted       int64      `json:"inserted"`
	Updated        int64      `json:"updated"`
	Dispatched     int64      `json:"dispatched"`
	DispatchFailed int64      `json:"dispatch_failed"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
}

// IngestStats is the read model served by the ops API.
type IngestStats struct {
	Records    int64             `json:"records"`
	Authors    int64             `json:"authors"`
	Aliases    int64             `json:"aliases"`
	Ledger     []LedgerKindCount `json:"ledger"`
	RecentRuns []RunSummary      `json:"recent_runs"`
}

// QueryIngestStats returns store totals, ledger counts and the latest runs.
func (p *Pool) QueryIngestStats(ctx context.Context, runLimit int) (*IngestStats, error) {
	if runLimit <= 0 {
		runLimit = 10
	}

	stats := &IngestStats{
		Ledger:     make([]LedgerKindCount, 0, 3),
		RecentRuns: make([]RunSummary, 0, runLimit),
	}

	const totalsQuery = `
SELECT
	(SELECT COUNT(*) FROM conch.records) AS records,
	(SELECT COUNT(*) FROM conch.authors) AS authors,
	(SELECT COUNT(*) FROM conch.author_aliases) AS aliases
`
	if err := p.QueryRow(ctx, totalsQuery).Scan(&stats.Records, &stats.Authors, &stats.Aliases); err != nil {
		return nil, fmt.Errorf("query store totals: %w", err)
	}

	const ledgerQuery = `
SELECT kind, COUNT(*)::BIGINT
FROM conch.revision_ledger
GROUP BY kind
ORDER BY kind
`
	rows, err := p.Query(ctx, ledgerQuery)
	if err != nil {
		return nil, fmt.Errorf("query ledger counts: %w", err)
	}
	for rows.Next() {
		var row LedgerKindCount
		if err := rows.Scan(&row.Kind, &row.Entries); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan ledger count row: %w", err)
		}
		stats.Ledger = append(stats.Ledger, row)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate ledger count rows: %w", err)
	}
	rows.Close()

	runs, err := p.RecentIngestRuns(ctx, runLimit)
	if err != nil {
		return nil, err
	}
	stats.RecentRuns = runs
	return stats, nil
}

// RecentIngestRuns lists runs newest first.
func (p *Pool) RecentIngestRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	const q = `
SELECT
	run_id,
	ingest_run_uuid::text,
	source,
	status::text,
	started_at,
	finished_at,
	parsed,
	dropped,
	unchanged,
	inserted,
	updated,
	dispatched,
	dispatch_failed,
	error_message
FROM conch.ingest_runs
ORDER BY started_at DESC
LIMIT $1
`
	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query ingest runs: %w", err)
	}
	defer rows.Close()

	out := make([]RunSummary, 0, limit)
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(
			&r.RunID,
			&r.RunUUID,
			&r.Source,
			&r.Status,
			&r.StartedAt,
			&r.FinishedAt,
			&r.Parsed,
			&r.Dropped,
			&r.Unchanged,
			&r.Inserted,
			&r.Updated,
			&r.Dispatched,
			&r.DispatchFailed,
			&r.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan ingest run row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ingest run rows: %w", err)
	}
	return out, nil
}
