package entity

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/conch/internal/dispatch"
	"horse.fit/conch/internal/fingerprint"
	"horse.fit/conch/internal/merge"
)

// resolutionFields are tried in order when an update carries no dblp key.
var resolutionFields = []string{"abstract", "title"}

type Records struct {
	store  RecordStore
	logger zerolog.Logger
}

func NewRecords(store RecordStore, logger zerolog.Logger) *Records {
	return &Records{store: store, logger: logger}
}

// Insert stores a new record. The dblp key is required.
func (r *Records) Insert(ctx context.Context, msg dispatch.RecordUpsert) (int64, error) {
	key := strings.TrimSpace(msg.DBLPKey)
	if key == "" {
		return 0, fmt.Errorf("insert record: dblp_key is required: %w", ErrInvalidInput)
	}

	if _, found, err := r.store.RecordIDByKey(ctx, key); err != nil {
		return 0, err
	} else if found {
		return 0, fmt.Errorf("insert record %s: %w", key, ErrDuplicateInsert)
	}

	doc := normalized(merge.RecordSchema, RecordDocument(msg))
	id, err := r.store.InsertRecord(ctx, msg.Kind, key, doc)
	if err != nil {
		return 0, err
	}
	r.logger.Debug().Int64("record_id", id).Str("key", key).Msg("record inserted")
	return id, nil
}

// Update merges msg into the record it resolves to: exact dblp key when
// present, otherwise fingerprint similarity on abstract then title.
func (r *Records) Update(ctx context.Context, msg dispatch.RecordUpsert) (Result, error) {
	incoming := RecordDocument(msg)

	id, matchedBy, err := r.resolve(ctx, msg, incoming)
	if err != nil {
		return Result{}, err
	}

	op, err := r.store.MutateRecord(ctx, id, func(stored merge.Document) merge.Operation {
		return merge.Compile(merge.RecordSchema, stored, incoming)
	})
	if err != nil {
		return Result{}, err
	}

	r.logger.Debug().
		Int64("record_id", id).
		Str("matched_by", matchedBy).
		Int("sets", len(op.Sets)).
		Int("pushes", len(op.Pushes)).
		Msg("record merged")
	return Result{ID: id, MatchedBy: matchedBy, Operation: op}, nil
}

func (r *Records) resolve(ctx context.Context, msg dispatch.RecordUpsert, incoming merge.Document) (int64, string, error) {
	if key := strings.TrimSpace(msg.DBLPKey); key != "" {
		id, found, err := r.store.RecordIDByKey(ctx, key)
		if err != nil {
			return 0, "", err
		}
		if !found {
			return 0, "", fmt.Errorf("update record %s: no stored record: %w", key, ErrIdentityConflict)
		}
		return id, "dblp_key", nil
	}

	for _, field := range resolutionFields {
		text := fingerprint.NewText(incoming.Scalars[field])
		if text.IsZero() {
			continue
		}
		candidates, err := r.store.RecordCandidates(ctx, field, text.Parts())
		if err != nil {
			return 0, "", err
		}
		for _, c := range candidates {
			if fingerprint.Near(c.Fingerprint, text.Fingerprint) {
				return c.ID, field, nil
			}
		}
	}
	return 0, "", fmt.Errorf("update record %q: no similar abstract or title: %w", preview(msg.Title), ErrIdentityConflict)
}

func preview(s string) string {
	const max = 40
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
