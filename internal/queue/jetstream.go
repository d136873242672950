// Package queue is the NATS JetStream task transport between the ingestion
// run and the writer workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const fetchWait = 5 * time.Second

// StreamSpec describes the work-queue stream.
type StreamSpec struct {
	Name     string
	Subjects []string
	// DuplicateWindow bounds how long publish dedup ids are remembered.
	DuplicateWindow time.Duration
}

// ConsumerSpec describes one durable pull consumer.
type ConsumerSpec struct {
	Durable        string
	FilterSubjects []string
	AckWait        time.Duration
	MaxDeliver     int
}

// Message is the part of a delivered message the writers use.
type Message interface {
	Subject() string
	Data() []byte
	Ack() error
	Nak() error
	Term() error
}

// Deliveries reports how many times msg has been delivered, or 0 when the
// message carries no JetStream metadata.
func Deliveries(msg Message) uint64 {
	withMeta, ok := msg.(interface {
		Metadata() (*jetstream.MsgMetadata, error)
	})
	if !ok {
		return 0
	}
	meta, err := withMeta.Metadata()
	if err != nil || meta == nil {
		return 0
	}
	return meta.NumDelivered
}

// MessageHandler settles msg itself with Ack, Nak or Term.
type MessageHandler func(ctx context.Context, msg Message)

type Transport struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
	logger zerolog.Logger
}

// Connect dials NATS and makes sure the stream exists with spec.
func Connect(ctx context.Context, url string, spec StreamSpec, logger zerolog.Logger) (*Transport, error) {
	if spec.Name == "" || len(spec.Subjects) == 0 {
		return nil, fmt.Errorf("stream name and subjects are required")
	}
	nc, err := nats.Connect(url,
		nats.Name("conch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open jetstream: %w", err)
	}

	window := spec.DuplicateWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       spec.Name,
		Subjects:   spec.Subjects,
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: window,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", spec.Name, err)
	}

	return &Transport{
		nc:     nc,
		js:     js,
		stream: spec.Name,
		logger: logger,
	}, nil
}

// Publish waits for the stream to persist the message.
func (t *Transport) Publish(ctx context.Context, subject string, payload []byte, dedupID string) error {
	opts := []jetstream.PublishOpt{jetstream.WithExpectStream(t.stream)}
	if dedupID != "" {
		opts = append(opts, jetstream.WithMsgID(dedupID))
	}
	ack, err := t.js.Publish(ctx, subject, payload, opts...)
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if ack.Duplicate {
		t.logger.Debug().Str("subject", subject).Str("dedup_id", dedupID).Msg("publish deduplicated by stream")
	}
	return nil
}

// Consume pulls one message at a time from the durable consumer until ctx
// is done. In-flight batches are nak'ed on shutdown.
func (t *Transport) Consume(ctx context.Context, spec ConsumerSpec, handler MessageHandler) error {
	cfg := jetstream.ConsumerConfig{
		Durable:    spec.Durable,
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    spec.AckWait,
		MaxDeliver: spec.MaxDeliver,
	}
	switch len(spec.FilterSubjects) {
	case 0:
	case 1:
		cfg.FilterSubject = spec.FilterSubjects[0]
	default:
		cfg.FilterSubjects = spec.FilterSubjects
	}

	consumer, err := t.js.CreateOrUpdateConsumer(ctx, t.stream, cfg)
	if err != nil {
		return fmt.Errorf("ensure consumer %s: %w", spec.Durable, err)
	}

	t.logger.Info().
		Str("stream", t.stream).
		Str("consumer", spec.Durable).
		Strs("subjects", spec.FilterSubjects).
		Msg("consumer connected")

	for {
		if ctx.Err() != nil {
			return nil
		}

		batch, err := consumer.Fetch(1, jetstream.FetchMaxWait(fetchWait))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, nats.ErrConnectionClosed) {
				return fmt.Errorf("consumer %s: %w", spec.Durable, err)
			}
			t.logger.Debug().Err(err).Str("consumer", spec.Durable).Msg("fetch returned no messages")
			continue
		}

		for msg := range batch.Messages() {
			if ctx.Err() != nil {
				_ = msg.Nak()
				continue
			}
			handler(ctx, msg)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && ctx.Err() == nil {
			t.logger.Debug().Err(err).Str("consumer", spec.Durable).Msg("fetch batch ended with error")
		}
	}
}

// Ping reports whether the connection is up and the stream reachable.
func (t *Transport) Ping(ctx context.Context) error {
	if t == nil || t.nc == nil {
		return fmt.Errorf("transport is not connected")
	}
	if !t.nc.IsConnected() {
		return fmt.Errorf("nats connection status %s", t.nc.Status())
	}
	if _, err := t.js.Stream(ctx, t.stream); err != nil {
		return fmt.Errorf("lookup stream %s: %w", t.stream, err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (t *Transport) Close() {
	if t == nil || t.nc == nil {
		return
	}
	if err := t.nc.Drain(); err != nil {
		t.nc.Close()
	}
}
