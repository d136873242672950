// Package entity owns the record and author collections: identity
// resolution, validation and merge application on top of a store.
package entity

import (
	"context"
	"errors"

	"horse.fit/conch/internal/fingerprint"
	"horse.fit/conch/internal/merge"
)

var (
	// ErrIdentityConflict reports an update that cannot be tied to exactly one
	// stored entity.
	ErrIdentityConflict = errors.New("identity conflict")
	// ErrDuplicateInsert reports an insert whose stable identity already exists.
	ErrDuplicateInsert = errors.New("duplicate insert")
	// ErrInvalidInput reports a message that fails boundary validation.
	ErrInvalidInput = errors.New("invalid input")
)

// Candidate is a stored record sharing at least one fingerprint part.
type Candidate struct {
	ID          int64
	Fingerprint fingerprint.Fingerprint
}

// Mutation compiles the operation for a locked stored document.
type Mutation func(stored merge.Document) merge.Operation

type RecordStore interface {
	RecordIDByKey(ctx context.Context, dblpKey string) (int64, bool, error)
	// RecordCandidates lists records whose field fingerprint shares any of
	// parts, in storage order.
	RecordCandidates(ctx context.Context, field string, parts [4]int32) ([]Candidate, error)
	InsertRecord(ctx context.Context, kind, dblpKey string, doc merge.Document) (int64, error)
	// MutateRecord locks the record, runs mutate on it and applies the
	// returned operation in the same transaction.
	MutateRecord(ctx context.Context, id int64, mutate Mutation) (merge.Operation, error)
}

type AuthorStore interface {
	AuthorIDByAliases(ctx context.Context, aliases []string) (int64, bool, error)
	AuthorDocument(ctx context.Context, id int64) (merge.Document, error)
	// InsertAuthor stores doc and registers its alias keys.
	InsertAuthor(ctx context.Context, doc merge.Document) (int64, error)
	// MutateAuthor works like MutateRecord and registers pushed alias keys.
	MutateAuthor(ctx context.Context, id int64, mutate Mutation) (merge.Operation, error)
}

// Result describes an applied update.
type Result struct {
	ID        int64
	MatchedBy string
	Operation merge.Operation
}
