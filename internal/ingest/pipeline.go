// Package ingest runs one ingestion pass over the dblp dump: parse, extract,
// detect changes and dispatch work messages.
package ingest

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"horse.fit/conch/internal/dblpxml"
	"horse.fit/conch/internal/extract"
	"horse.fit/conch/internal/metrics"
	"horse.fit/conch/internal/revision"
)

type Decider interface {
	Decide(ctx context.Context, key revision.SourceKey, stamp string) (revision.Action, error)
	Abandon(ctx context.Context, key revision.SourceKey)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, action revision.Action, rec extract.Record) error
}

// Counters tally one pass. Parsed counts every extracted entry, including
// dropped ones.
type Counters struct {
	Parsed         int64 `json:"parsed"`
	Dropped        int64 `json:"dropped"`
	Unchanged      int64 `json:"unchanged"`
	Inserted       int64 `json:"inserted"`
	Updated        int64 `json:"updated"`
	Dispatched     int64 `json:"dispatched"`
	DispatchFailed int64 `json:"dispatch_failed"`
}

type Pipeline struct {
	decider    Decider
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func NewPipeline(decider Decider, dispatcher Dispatcher, m *metrics.Metrics, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		decider:    decider,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger,
	}
}

// Run parses dump under grammar on the calling goroutine. Dispatch failures
// are counted and skipped; change-detection and parse failures abort.
func (p *Pipeline) Run(ctx context.Context, grammar *dblpxml.Grammar, dump io.Reader) (Counters, error) {
	var counters Counters
	parser := dblpxml.NewParser(grammar, p.logger)

	stats, err := parser.Parse(ctx, dump, func(ev dblpxml.Event) error {
		if ev.Type != dblpxml.Close || ev.Element == nil || !dblpxml.IsLeafKind(ev.Element.Name) {
			return nil
		}
		return p.handle(ctx, ev.Element, &counters)
	})
	if err != nil {
		return counters, err
	}

	p.logger.Info().
		Int64("elements", stats.Elements).
		Int64("parsed", counters.Parsed).
		Int64("dropped", counters.Dropped).
		Int64("unchanged", counters.Unchanged).
		Int64("inserted", counters.Inserted).
		Int64("updated", counters.Updated).
		Int64("dispatched", counters.Dispatched).
		Int64("dispatch_failed", counters.DispatchFailed).
		Msg("dump processed")
	return counters, nil
}

func (p *Pipeline) handle(ctx context.Context, el *dblpxml.Element, counters *Counters) error {
	rec, err := extract.FromElement(el)
	if err != nil {
		return err
	}
	kind := string(rec.RecordKind())
	counters.Parsed++
	p.metrics.Parsed(kind)

	if !extract.IsValuable(rec) {
		counters.Dropped++
		p.metrics.Dropped(kind)
		return nil
	}

	key := revision.KeyOf(rec)
	action, err := p.decider.Decide(ctx, key, rec.RevisionStamp())
	if err != nil {
		return fmt.Errorf("decide %s: %w", key, err)
	}
	p.metrics.Decision(kind, action.String())

	switch action {
	case revision.None:
		counters.Unchanged++
		return nil
	case revision.Insert:
		counters.Inserted++
	case revision.Update:
		counters.Updated++
	}

	if err := p.dispatcher.Dispatch(ctx, action, rec); err != nil {
		counters.DispatchFailed++
		p.decider.Abandon(ctx, key)
		p.logger.Warn().
			Err(err).
			Str("kind", kind).
			Str("key", rec.SourceKey()).
			Str("stamp", rec.RevisionStamp()).
			Str("action", action.String()).
			Msg("dispatch failed; entry will be rediscovered next run")
		return nil
	}
	counters.Dispatched++
	return nil
}
