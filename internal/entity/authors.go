package entity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/conch/internal/dispatch"
	"horse.fit/conch/internal/merge"
	"horse.fit/conch/internal/orcid"
)

// ProfileSource resolves ORCID iDs to person records.
type ProfileSource interface {
	Person(ctx context.Context, id string) (orcid.Person, error)
}

// Enrichment is the outcome of AppendORCID.
type Enrichment int

const (
	EnrichmentAttached Enrichment = iota + 1
	EnrichmentAlreadyPresent
	EnrichmentNotFound
)

func (e Enrichment) String() string {
	switch e {
	case EnrichmentAttached:
		return "attached"
	case EnrichmentAlreadyPresent:
		return "already_present"
	case EnrichmentNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

type Authors struct {
	store    AuthorStore
	profiles ProfileSource
	logger   zerolog.Logger
}

func NewAuthors(store AuthorStore, profiles ProfileSource, logger zerolog.Logger) *Authors {
	return &Authors{store: store, profiles: profiles, logger: logger}
}

// Insert stores a new author. It fails when any alias key is already known.
func (a *Authors) Insert(ctx context.Context, msg dispatch.HomepageUpsert) (int64, error) {
	aliases, ok := cleanAliases(msg.AliasKeys)
	if !ok {
		return 0, fmt.Errorf("insert author: alias_keys must be non-empty and non-blank: %w", ErrInvalidInput)
	}

	if _, found, err := a.store.AuthorIDByAliases(ctx, aliases); err != nil {
		return 0, err
	} else if found {
		return 0, fmt.Errorf("insert author %v: %w", aliases, ErrDuplicateInsert)
	}

	msg.AliasKeys = aliases
	doc := normalized(merge.AuthorSchema, AuthorDocument(msg))
	id, err := a.store.InsertAuthor(ctx, doc)
	if err != nil {
		return 0, err
	}
	a.logger.Debug().Int64("author_id", id).Strs("aliases", aliases).Msg("author inserted")
	return id, nil
}

// Update merges msg into the author owning any of its alias keys.
func (a *Authors) Update(ctx context.Context, msg dispatch.HomepageUpsert) (Result, error) {
	aliases, ok := cleanAliases(msg.AliasKeys)
	if !ok {
		return Result{}, fmt.Errorf("update author: alias_keys must be non-empty and non-blank: %w", ErrInvalidInput)
	}

	id, err := a.resolve(ctx, aliases)
	if err != nil {
		return Result{}, err
	}

	msg.AliasKeys = aliases
	incoming := AuthorDocument(msg)
	op, err := a.store.MutateAuthor(ctx, id, func(stored merge.Document) merge.Operation {
		return merge.Compile(merge.AuthorSchema, stored, incoming)
	})
	if err != nil {
		return Result{}, err
	}

	a.logger.Debug().
		Int64("author_id", id).
		Int("sets", len(op.Sets)).
		Int("pushes", len(op.Pushes)).
		Msg("author merged")
	return Result{ID: id, MatchedBy: "alias_keys", Operation: op}, nil
}

// AppendORCID attaches the ORCID profile to the author owning any of
// aliases. Unknown ORCID iDs are logged and skipped.
func (a *Authors) AppendORCID(ctx context.Context, aliases []string, id string) (Enrichment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, fmt.Errorf("append orcid: orcid is required: %w", ErrInvalidInput)
	}
	aliases, ok := cleanAliases(aliases)
	if !ok {
		return 0, fmt.Errorf("append orcid: alias_keys must be non-empty and non-blank: %w", ErrInvalidInput)
	}

	authorID, err := a.resolve(ctx, aliases)
	if err != nil {
		return 0, err
	}

	stored, err := a.store.AuthorDocument(ctx, authorID)
	if err != nil {
		return 0, err
	}
	if hasORCID(stored, id) {
		a.logger.Warn().Int64("author_id", authorID).Str("orcid", id).Msg("author already carries orcid")
		return EnrichmentAlreadyPresent, nil
	}

	person, err := a.profiles.Person(ctx, id)
	if err != nil {
		if errors.Is(err, orcid.ErrNotFound) {
			a.logger.Error().Err(err).Int64("author_id", authorID).Str("orcid", id).Msg("orcid person not found")
			return EnrichmentNotFound, nil
		}
		return 0, fmt.Errorf("fetch orcid %s: %w", id, err)
	}

	incoming := merge.NewDocument()
	incoming.Entries["orcids"] = []merge.Entry{{
		"value":       id,
		"given_names": person.GivenNames,
		"family_name": person.FamilyName,
		"biography":   person.Biography,
	}}
	op, err := a.store.MutateAuthor(ctx, authorID, func(stored merge.Document) merge.Operation {
		return merge.Compile(merge.AuthorSchema, stored, incoming)
	})
	if err != nil {
		return 0, err
	}
	if op.IsEmpty() {
		return EnrichmentAlreadyPresent, nil
	}
	a.logger.Debug().Int64("author_id", authorID).Str("orcid", id).Msg("orcid attached")
	return EnrichmentAttached, nil
}

func (a *Authors) resolve(ctx context.Context, aliases []string) (int64, error) {
	id, found, err := a.store.AuthorIDByAliases(ctx, aliases)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("author %v: no stored author: %w", aliases, ErrIdentityConflict)
	}
	return id, nil
}

func hasORCID(doc merge.Document, id string) bool {
	for _, e := range doc.Entries["orcids"] {
		if e["value"] == id {
			return true
		}
	}
	return false
}
