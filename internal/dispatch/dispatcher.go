// Package dispatch turns change decisions into versioned work messages and
// hands them to the task transport.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/conch/internal/extract"
	"horse.fit/conch/internal/globaltime"
	"horse.fit/conch/internal/metrics"
	"horse.fit/conch/internal/revision"
)

// ErrPublish wraps transport refusals.
var ErrPublish = errors.New("publish work message")

// Publisher hands one payload to the transport and returns once the
// transport has accepted it. dedupID lets the transport drop repeats.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, dedupID string) error
}

type Dispatcher struct {
	publisher Publisher
	baseURL   string
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

func NewDispatcher(publisher Publisher, baseURL string, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		baseURL:   baseURL,
		metrics:   m,
		logger:    logger,
	}
}

// Dispatch publishes the work message for rec. For publications it also
// publishes one enrichment message per author carrying an ORCID; those are
// best effort and never fail the call.
func (d *Dispatcher) Dispatch(ctx context.Context, action revision.Action, rec extract.Record) error {
	if d == nil || d.publisher == nil {
		return fmt.Errorf("dispatcher is not initialized")
	}
	if action == revision.None {
		return nil
	}

	header := Header{
		Version:      Version,
		MessageID:    uuid.NewString(),
		Action:       action.String(),
		Source:       revision.KeyOf(rec),
		Stamp:        rec.RevisionStamp(),
		DispatchedAt: globaltime.UTC(),
	}

	switch r := rec.(type) {
	case *extract.Publication:
		msg := TranslatePublication(r, d.baseURL)
		msg.Header = header
		subject := SubjectRecordInsert
		if action == revision.Update {
			subject = SubjectRecordUpdate
		}
		if err := d.publish(ctx, subject, header, msg); err != nil {
			return err
		}
		d.dispatchEnrichments(ctx, msg.Authors)
		return nil

	case *extract.Homepage:
		msg := TranslateHomepage(r, d.baseURL)
		msg.Header = header
		subject := SubjectAuthorInsert
		if action == revision.Update {
			subject = SubjectAuthorUpdate
		}
		return d.publish(ctx, subject, header, msg)

	default:
		return fmt.Errorf("unsupported record type %T", rec)
	}
}

func (d *Dispatcher) dispatchEnrichments(ctx context.Context, authors []AuthorRef) {
	for _, a := range authors {
		if a.ORCID == "" {
			continue
		}
		msg := AuthorEnrichment{
			Version:   Version,
			MessageID: uuid.NewString(),
			AliasKeys: []string{a.Alias},
			ORCID:     a.ORCID,
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			d.logger.Error().Err(err).Str("orcid", a.ORCID).Msg("encode enrichment message")
			continue
		}
		dedupID := SubjectAuthorEnrich + "|" + a.ORCID + "|" + a.Alias
		if err := d.publisher.Publish(ctx, SubjectAuthorEnrich, payload, dedupID); err != nil {
			d.metrics.DispatchFailed(SubjectAuthorEnrich)
			d.logger.Warn().
				Err(err).
				Str("subject", SubjectAuthorEnrich).
				Str("orcid", a.ORCID).
				Msg("enrichment dispatch failed")
			continue
		}
		d.metrics.Dispatched(SubjectAuthorEnrich)
	}
}

func (d *Dispatcher) publish(ctx context.Context, subject string, header Header, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message for %s: %w", subject, header.Source, err)
	}

	dedupID := subject + "|" + header.Source.String() + "|" + header.Stamp
	if err := d.publisher.Publish(ctx, subject, payload, dedupID); err != nil {
		d.metrics.DispatchFailed(subject)
		return fmt.Errorf("%w %s for %s: %v", ErrPublish, subject, header.Source, err)
	}

	d.metrics.Dispatched(subject)
	d.logger.Debug().
		Str("subject", subject).
		Str("key", header.Source.String()).
		Str("stamp", header.Stamp).
		Str("message_id", header.MessageID).
		Msg("work message dispatched")
	return nil
}
