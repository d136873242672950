// Package revision decides per source key whether a parsed entry is new,
// changed or unchanged. A Redis cache sits in front of the Postgres ledger;
// the ledger is the source of truth and only moves forward.
package revision

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"horse.fit/conch/internal/extract"
)

// SourceKey addresses one entry of the dump.
type SourceKey struct {
	Kind extract.Kind `json:"kind"`
	Key  string       `json:"key"`
}

// String is the cache key, dblp_{kind}_{key}.
func (k SourceKey) String() string {
	return "dblp_" + string(k.Kind) + "_" + k.Key
}

func KeyOf(r extract.Record) SourceKey {
	return SourceKey{Kind: r.RecordKind(), Key: r.SourceKey()}
}

type Action int

const (
	None Action = iota
	Insert
	Update
)

func (a Action) String() string {
	switch a {
	case Insert:
		return "insert"
	case Update:
		return "update"
	default:
		return "none"
	}
}

type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, stamp string) error
	Delete(ctx context.Context, key string) error
}

type Ledger interface {
	LedgerStamp(ctx context.Context, kind, key string) (string, bool, error)
	// AdvanceLedger stores stamp unless a lexically greater one is already
	// recorded, and returns the stamp the ledger holds afterwards.
	AdvanceLedger(ctx context.Context, kind, key, stamp string) (string, error)
}

type Detector struct {
	cache  Cache
	ledger Ledger
	logger zerolog.Logger
}

func NewDetector(cache Cache, ledger Ledger, logger zerolog.Logger) *Detector {
	return &Detector{
		cache:  cache,
		ledger: ledger,
		logger: logger,
	}
}

// Decide compares stamp with the last seen stamp for key. Insert and Update
// refresh the cache right away so repeated arrivals of the same key in one
// run collapse to a single decision.
func (d *Detector) Decide(ctx context.Context, key SourceKey, stamp string) (Action, error) {
	if d == nil || d.ledger == nil {
		return None, fmt.Errorf("revision detector is not initialized")
	}

	cacheKey := key.String()
	last, found, err := d.cachedStamp(ctx, cacheKey)
	if err != nil {
		d.logger.Warn().Err(err).Str("key", cacheKey).Msg("revision cache read failed; falling back to ledger")
		found = false
	}

	if !found {
		last, found, err = d.ledger.LedgerStamp(ctx, string(key.Kind), key.Key)
		if err != nil {
			return None, fmt.Errorf("read revision ledger for %s: %w", cacheKey, err)
		}
		if found {
			d.writeCache(ctx, cacheKey, last)
		}
	}

	action := Insert
	if found {
		action = Update
		if last == stamp {
			action = None
		}
	}

	if action != None {
		d.writeCache(ctx, cacheKey, stamp)
	}

	d.logger.Debug().
		Str("key", cacheKey).
		Str("stamp", stamp).
		Str("last_stamp", last).
		Str("action", action.String()).
		Msg("revision decided")
	return action, nil
}

// Commit records stamp after the downstream write succeeded.
func (d *Detector) Commit(ctx context.Context, key SourceKey, stamp string) error {
	if d == nil || d.ledger == nil {
		return fmt.Errorf("revision detector is not initialized")
	}
	held, err := d.ledger.AdvanceLedger(ctx, string(key.Kind), key.Key, stamp)
	if err != nil {
		return fmt.Errorf("advance revision ledger for %s: %w", key, err)
	}
	if held != stamp {
		d.logger.Info().
			Str("key", key.String()).
			Str("stamp", stamp).
			Str("held_stamp", held).
			Msg("ledger already holds a newer stamp")
	}
	d.writeCache(ctx, key.String(), held)
	return nil
}

// Abandon forgets the stamp cached by Decide when the decision could not be
// handed off, so the next run consults the ledger again.
func (d *Detector) Abandon(ctx context.Context, key SourceKey) {
	if d == nil || d.cache == nil {
		return
	}
	if err := d.cache.Delete(ctx, key.String()); err != nil {
		d.logger.Warn().Err(err).Str("key", key.String()).Msg("revision cache delete failed")
	}
}

func (d *Detector) cachedStamp(ctx context.Context, key string) (string, bool, error) {
	if d.cache == nil {
		return "", false, nil
	}
	return d.cache.Get(ctx, key)
}

func (d *Detector) writeCache(ctx context.Context, key, stamp string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Set(ctx, key, stamp); err != nil {
		d.logger.Warn().Err(err).Str("key", key).Msg("revision cache write failed")
	}
}
