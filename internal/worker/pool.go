// Package worker runs the writer side of the pipeline: it consumes work
// messages, applies them to the entity stores and commits the revision
// ledger once a write is durable.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/conch/internal/dispatch"
	"horse.fit/conch/internal/entity"
	"horse.fit/conch/internal/metrics"
	"horse.fit/conch/internal/queue"
	"horse.fit/conch/internal/revision"
	msgschema "horse.fit/conch/schema"
)

const (
	outcomeOK     = "ok"
	outcomeNoop   = "noop"
	outcomeTerm   = "term"
	outcomeRetry  = "retry"
	outcomeMissed = "not_found"
)

// errUnknownSubject reports a message that no writer handles.
var errUnknownSubject = errors.New("unknown subject")

type RecordWriter interface {
	Insert(ctx context.Context, msg dispatch.RecordUpsert) (int64, error)
	Update(ctx context.Context, msg dispatch.RecordUpsert) (entity.Result, error)
}

type AuthorWriter interface {
	Insert(ctx context.Context, msg dispatch.HomepageUpsert) (int64, error)
	Update(ctx context.Context, msg dispatch.HomepageUpsert) (entity.Result, error)
	AppendORCID(ctx context.Context, aliases []string, orcid string) (entity.Enrichment, error)
}

// Committer advances the revision ledger after a write. Abandon drops the
// cached stamp of a message that will never be written, so the next run
// decides that entry against the ledger again.
type Committer interface {
	Commit(ctx context.Context, key revision.SourceKey, stamp string) error
	Abandon(ctx context.Context, key revision.SourceKey)
}

type Consumer interface {
	Consume(ctx context.Context, spec queue.ConsumerSpec, handler queue.MessageHandler) error
}

// Family is one durable consumer and the subjects it drains.
type Family struct {
	Name     string
	Subjects []string
}

// Families are the default task families: records, authors and enrichment
// drain independently so a slow ORCID API never stalls record writes.
var Families = []Family{
	{Name: "records", Subjects: []string{dispatch.SubjectRecordInsert, dispatch.SubjectRecordUpdate}},
	{Name: "authors", Subjects: []string{dispatch.SubjectAuthorInsert, dispatch.SubjectAuthorUpdate}},
	{Name: "enrich", Subjects: []string{dispatch.SubjectAuthorEnrich}},
}

type Options struct {
	Concurrency int
	AckWait     time.Duration
	MaxDeliver  int
	Families    []Family
}

type Pool struct {
	consumer  Consumer
	records   RecordWriter
	authors   AuthorWriter
	committer Committer
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	opts      Options
}

func NewPool(consumer Consumer, records RecordWriter, authors AuthorWriter, committer Committer, m *metrics.Metrics, logger zerolog.Logger, opts Options) *Pool {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if len(opts.Families) == 0 {
		opts.Families = Families
	}
	return &Pool{
		consumer:  consumer,
		records:   records,
		authors:   authors,
		committer: committer,
		metrics:   m,
		logger:    logger,
		opts:      opts,
	}
}

// Run starts Concurrency fetch loops per family and blocks until ctx is done
// or a loop fails.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, family := range p.opts.Families {
		spec := queue.ConsumerSpec{
			Durable:        "conch-" + family.Name,
			FilterSubjects: family.Subjects,
			AckWait:        p.opts.AckWait,
			MaxDeliver:     p.opts.MaxDeliver,
		}
		for i := 0; i < p.opts.Concurrency; i++ {
			g.Go(func() error {
				return p.consumer.Consume(gctx, spec, p.Handle)
			})
		}
		p.logger.Info().
			Str("family", family.Name).
			Int("concurrency", p.opts.Concurrency).
			Strs("subjects", family.Subjects).
			Msg("worker family started")
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	return nil
}

// Handle processes msg and settles it. Malformed messages, identity
// failures and the last allowed delivery are terminated; everything else is
// redelivered.
func (p *Pool) Handle(ctx context.Context, msg queue.Message) {
	start := time.Now()
	subject := msg.Subject()

	outcome, err := p.process(ctx, subject, msg.Data())
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			p.logger.Warn().Err(ackErr).Str("subject", subject).Msg("ack failed")
		}
	case isPermanent(err) || p.lastDelivery(msg):
		outcome = outcomeTerm
		p.logger.Error().Err(err).Str("subject", subject).Msg("work message rejected")
		p.abandon(ctx, msg.Data())
		if termErr := msg.Term(); termErr != nil {
			p.logger.Warn().Err(termErr).Str("subject", subject).Msg("term failed")
		}
	default:
		outcome = outcomeRetry
		p.logger.Warn().Err(err).Str("subject", subject).Msg("work message failed, redelivering")
		if nakErr := msg.Nak(); nakErr != nil {
			p.logger.Warn().Err(nakErr).Str("subject", subject).Msg("nak failed")
		}
	}
	p.metrics.WorkerMessage(subject, outcome, time.Since(start))
}

func (p *Pool) lastDelivery(msg queue.Message) bool {
	return p.opts.MaxDeliver > 0 && queue.Deliveries(msg) >= uint64(p.opts.MaxDeliver)
}

// abandon forgets the cached stamp of a message that is being terminated.
// Enrichment messages and payloads without a source carry nothing to forget.
func (p *Pool) abandon(ctx context.Context, data []byte) {
	var envelope struct {
		Source revision.SourceKey `json:"source"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Source.Key == "" || envelope.Source.Kind == "" {
		return
	}
	p.committer.Abandon(ctx, envelope.Source)
	p.logger.Info().
		Str("key", envelope.Source.String()).
		Msg("revision cache entry dropped for rejected message")
}

func isPermanent(err error) bool {
	return errors.Is(err, msgschema.ErrInvalidMessage) ||
		errors.Is(err, entity.ErrInvalidInput) ||
		errors.Is(err, entity.ErrIdentityConflict) ||
		errors.Is(err, entity.ErrDuplicateInsert) ||
		errors.Is(err, errUnknownSubject)
}

func (p *Pool) process(ctx context.Context, subject string, data []byte) (string, error) {
	kind, ok := msgschema.KindForSubject(subject)
	if !ok {
		return "", fmt.Errorf("%w: %s", errUnknownSubject, subject)
	}

	switch kind {
	case msgschema.RecordUpsert:
		var msg dispatch.RecordUpsert
		if err := msgschema.Decode(kind, data, &msg); err != nil {
			return "", err
		}
		return p.writeRecord(ctx, subject, msg)
	case msgschema.HomepageUpsert:
		var msg dispatch.HomepageUpsert
		if err := msgschema.Decode(kind, data, &msg); err != nil {
			return "", err
		}
		return p.writeAuthor(ctx, subject, msg)
	default:
		var msg dispatch.AuthorEnrichment
		if err := msgschema.Decode(kind, data, &msg); err != nil {
			return "", err
		}
		return p.enrich(ctx, msg)
	}
}

func (p *Pool) writeRecord(ctx context.Context, subject string, msg dispatch.RecordUpsert) (string, error) {
	outcome := outcomeOK
	switch subject {
	case dispatch.SubjectRecordInsert:
		if _, err := p.records.Insert(ctx, msg); err != nil {
			return "", err
		}
	case dispatch.SubjectRecordUpdate:
		res, err := p.records.Update(ctx, msg)
		if err != nil {
			return "", err
		}
		if res.Operation.IsEmpty() {
			outcome = outcomeNoop
		}
	default:
		return "", fmt.Errorf("%w: %s", errUnknownSubject, subject)
	}
	return outcome, p.commit(ctx, msg.Header)
}

func (p *Pool) writeAuthor(ctx context.Context, subject string, msg dispatch.HomepageUpsert) (string, error) {
	outcome := outcomeOK
	switch subject {
	case dispatch.SubjectAuthorInsert:
		if _, err := p.authors.Insert(ctx, msg); err != nil {
			return "", err
		}
	case dispatch.SubjectAuthorUpdate:
		res, err := p.authors.Update(ctx, msg)
		if err != nil {
			return "", err
		}
		if res.Operation.IsEmpty() {
			outcome = outcomeNoop
		}
	default:
		return "", fmt.Errorf("%w: %s", errUnknownSubject, subject)
	}
	return outcome, p.commit(ctx, msg.Header)
}

func (p *Pool) enrich(ctx context.Context, msg dispatch.AuthorEnrichment) (string, error) {
	result, err := p.authors.AppendORCID(ctx, msg.AliasKeys, msg.ORCID)
	if err != nil {
		return "", err
	}
	switch result {
	case entity.EnrichmentNotFound:
		return outcomeMissed, nil
	case entity.EnrichmentAlreadyPresent:
		return outcomeNoop, nil
	default:
		return outcomeOK, nil
	}
}

func (p *Pool) commit(ctx context.Context, header dispatch.Header) error {
	if err := p.committer.Commit(ctx, header.Source, header.Stamp); err != nil {
		return fmt.Errorf("commit %s@%s: %w", header.Source, header.Stamp, err)
	}
	p.logger.Debug().
		Str("key", header.Source.String()).
		Str("stamp", header.Stamp).
		Str("action", header.Action).
		Msg("revision committed")
	return nil
}
