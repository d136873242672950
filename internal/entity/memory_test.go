package entity

import (
	"context"
	"fmt"
	"sync"

	"horse.fit/conch/internal/fingerprint"
	"horse.fit/conch/internal/merge"
	"horse.fit/conch/internal/orcid"
)

type memoryRecord struct {
	key string
	doc merge.Document
}

type memoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*memoryRecord
	order   []int64
	authors map[int64]merge.Document
	aliases map[string]int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		records: make(map[int64]*memoryRecord),
		authors: make(map[int64]merge.Document),
		aliases: make(map[string]int64),
	}
}

func (s *memoryStore) RecordIDByKey(_ context.Context, dblpKey string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		if s.records[id].key == dblpKey {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (s *memoryStore) RecordCandidates(_ context.Context, field string, parts [4]int32) ([]Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Candidate
	for _, id := range s.order {
		text := fingerprint.NewText(s.records[id].doc.Scalars[field])
		if text.IsZero() {
			continue
		}
		stored := text.Parts()
		for i := range parts {
			if stored[i] == parts[i] {
				out = append(out, Candidate{ID: id, Fingerprint: text.Fingerprint})
				break
			}
		}
	}
	return out, nil
}

func (s *memoryStore) InsertRecord(_ context.Context, _ string, dblpKey string, doc merge.Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.key != "" && r.key == dblpKey {
			return 0, fmt.Errorf("insert %s: %w", dblpKey, ErrDuplicateInsert)
		}
	}
	s.nextID++
	s.records[s.nextID] = &memoryRecord{key: dblpKey, doc: doc}
	s.order = append(s.order, s.nextID)
	return s.nextID, nil
}

func (s *memoryStore) MutateRecord(_ context.Context, id int64, mutate Mutation) (merge.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return merge.Operation{}, ErrIdentityConflict
	}
	op := mutate(r.doc)
	r.doc = merge.Apply(r.doc, op)
	return op, nil
}

func (s *memoryStore) AuthorIDByAliases(_ context.Context, aliases []string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, alias := range aliases {
		if id, ok := s.aliases[alias]; ok {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (s *memoryStore) AuthorDocument(_ context.Context, id int64) (merge.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.authors[id]
	if !ok {
		return merge.Document{}, ErrIdentityConflict
	}
	return doc, nil
}

func (s *memoryStore) InsertAuthor(_ context.Context, doc merge.Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, alias := range doc.Lists["alias_keys"] {
		if _, ok := s.aliases[alias]; ok {
			return 0, fmt.Errorf("alias %s: %w", alias, ErrDuplicateInsert)
		}
	}
	s.nextID++
	s.authors[s.nextID] = doc
	for _, alias := range doc.Lists["alias_keys"] {
		s.aliases[alias] = s.nextID
	}
	return s.nextID, nil
}

func (s *memoryStore) MutateAuthor(_ context.Context, id int64, mutate Mutation) (merge.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.authors[id]
	if !ok {
		return merge.Operation{}, ErrIdentityConflict
	}
	op := mutate(doc)
	for _, p := range op.Pushes {
		if p.Field != "alias_keys" {
			continue
		}
		for _, alias := range p.Values {
			if owner, ok := s.aliases[alias]; ok && owner != id {
				return merge.Operation{}, ErrIdentityConflict
			}
		}
	}
	s.authors[id] = merge.Apply(doc, op)
	for _, p := range op.Pushes {
		if p.Field == "alias_keys" {
			for _, alias := range p.Values {
				s.aliases[alias] = id
			}
		}
	}
	return op, nil
}

type fakeProfiles struct {
	mu     sync.Mutex
	people map[string]orcid.Person
	calls  int
}

func (f *fakeProfiles) Person(_ context.Context, id string) (orcid.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	p, ok := f.people[id]
	if !ok {
		return orcid.Person{}, fmt.Errorf("%s: %w", id, orcid.ErrNotFound)
	}
	return p, nil
}
