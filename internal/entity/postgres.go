package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"horse.fit/conch/internal/db"
	"horse.fit/conch/internal/fingerprint"
	"horse.fit/conch/internal/globaltime"
	"horse.fit/conch/internal/merge"
)

// maxCandidates bounds one fingerprint-part lookup.
const maxCandidates = 256

// PostgresStore keeps records and authors in the conch schema.
type PostgresStore struct {
	pool *db.Pool
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) RecordIDByKey(ctx context.Context, dblpKey string) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT record_id FROM conch.records WHERE dblp_key = $1`, dblpKey).Scan(&id)
	if err != nil {
		if db.IsNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("lookup record %s: %w", dblpKey, err)
	}
	return id, true, nil
}

func (s *PostgresStore) RecordCandidates(ctx context.Context, field string, parts [4]int32) ([]Candidate, error) {
	q, err := candidatesQuery(field)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, q, parts[0], parts[1], parts[2], parts[3])
	if err != nil {
		return nil, fmt.Errorf("query %s candidates: %w", field, err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var (
			id      int64
			simhash int64
		)
		if err := rows.Scan(&id, &simhash); err != nil {
			return nil, fmt.Errorf("scan %s candidate: %w", field, err)
		}
		out = append(out, Candidate{ID: id, Fingerprint: fingerprint.FromInt64(simhash)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s candidates: %w", field, err)
	}
	return out, nil
}

// candidatesQuery selects records sharing any fingerprint part with the
// four bound parts.
func candidatesQuery(field string) (string, error) {
	if field != "title" && field != "abstract" {
		return "", fmt.Errorf("field %q is not fingerprinted", field)
	}
	return fmt.Sprintf(`
SELECT record_id, %[1]s_simhash
FROM conch.records
WHERE %[1]s_simhash IS NOT NULL
  AND (%[1]s_part0 = $1 OR %[1]s_part1 = $2 OR %[1]s_part2 = $3 OR %[1]s_part3 = $4)
ORDER BY record_id
LIMIT %[2]d
`, field, maxCandidates), nil
}

func (s *PostgresStore) InsertRecord(ctx context.Context, kind, dblpKey string, doc merge.Document) (int64, error) {
	ees, err := marshalList(doc.Lists["ees"])
	if err != nil {
		return 0, err
	}
	authors, err := marshalEntries(doc.Entries["authors"])
	if err != nil {
		return 0, err
	}
	notes, err := marshalEntries(doc.Entries["notes"])
	if err != nil {
		return 0, err
	}

	title := fingerprint.NewText(doc.Scalars["title"])
	abstract := fingerprint.NewText(doc.Scalars["abstract"])

	const q = `
INSERT INTO conch.records (
	dblp_key, kind,
	title, title_simhash, title_part0, title_part1, title_part2, title_part3,
	abstract, abstract_simhash, abstract_part0, abstract_part1, abstract_part2, abstract_part3,
	booktitle, journal, volume, doi, year, pages,
	ees, authors, notes,
	created_at, updated_at
)
VALUES (
	$1, $2,
	$3, $4, $5, $6, $7, $8,
	$9, $10, $11, $12, $13, $14,
	$15, $16, $17, $18, $19, $20,
	$21::jsonb, $22::jsonb, $23::jsonb,
	$24, $24
)
RETURNING record_id
`
	args := []any{dblpKey, kind}
	args = append(args, textArgs(doc.Scalars["title"], title)...)
	args = append(args, textArgs(doc.Scalars["abstract"], abstract)...)
	args = append(args,
		doc.Scalars["booktitle"], doc.Scalars["journal"], doc.Scalars["volume"],
		doc.Scalars["doi"], doc.Scalars["year"], doc.Scalars["pages"],
		ees, authors, notes,
		globaltime.UTC(),
	)

	var id int64
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&id); err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("insert record %s: %w", dblpKey, ErrDuplicateInsert)
		}
		return 0, fmt.Errorf("insert record %s: %w", dblpKey, err)
	}
	return id, nil
}

func (s *PostgresStore) MutateRecord(ctx context.Context, id int64, mutate Mutation) (merge.Operation, error) {
	var op merge.Operation
	err := s.pool.InTx(ctx, func(tx db.Tx) error {
		stored, err := loadRecord(ctx, tx, id, true)
		if err != nil {
			return err
		}
		op = mutate(stored)
		if op.IsEmpty() {
			return nil
		}
		return applyOperation(ctx, tx, "conch.records", "record_id", id, op)
	})
	if err != nil {
		return merge.Operation{}, err
	}
	return op, nil
}

func loadRecord(ctx context.Context, tx db.Tx, id int64, lock bool) (merge.Document, error) {
	q := `
SELECT title, abstract, booktitle, journal, volume, doi, year, pages, ees, authors, notes
FROM conch.records
WHERE record_id = $1
`
	if lock {
		q += "FOR UPDATE\n"
	}

	var (
		scalars             [8]string
		ees, authors, notes []byte
	)
	err := tx.QueryRow(ctx, q, id).Scan(
		&scalars[0], &scalars[1], &scalars[2], &scalars[3],
		&scalars[4], &scalars[5], &scalars[6], &scalars[7],
		&ees, &authors, &notes,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return merge.Document{}, fmt.Errorf("record %d vanished: %w", id, ErrIdentityConflict)
		}
		return merge.Document{}, fmt.Errorf("load record %d: %w", id, err)
	}

	doc := merge.NewDocument()
	for i, name := range []string{"title", "abstract", "booktitle", "journal", "volume", "doi", "year", "pages"} {
		doc.Scalars[name] = scalars[i]
	}
	if doc.Lists["ees"], err = unmarshalList(ees); err != nil {
		return merge.Document{}, err
	}
	if doc.Entries["authors"], err = unmarshalEntries(authors); err != nil {
		return merge.Document{}, err
	}
	if doc.Entries["notes"], err = unmarshalEntries(notes); err != nil {
		return merge.Document{}, err
	}
	return doc, nil
}

func (s *PostgresStore) AuthorIDByAliases(ctx context.Context, aliases []string) (int64, bool, error) {
	const q = `
SELECT author_id
FROM conch.author_aliases
WHERE alias_key = ANY($1)
ORDER BY author_id
LIMIT 1
`
	var id int64
	if err := s.pool.QueryRow(ctx, q, aliases).Scan(&id); err != nil {
		if db.IsNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("lookup author by aliases: %w", err)
	}
	return id, true, nil
}

func (s *PostgresStore) AuthorDocument(ctx context.Context, id int64) (merge.Document, error) {
	var doc merge.Document
	err := s.pool.InTx(ctx, func(tx db.Tx) error {
		var err error
		doc, err = loadAuthor(ctx, tx, id, false)
		return err
	})
	return doc, err
}

func (s *PostgresStore) InsertAuthor(ctx context.Context, doc merge.Document) (int64, error) {
	encoded := make(map[string]string, 7)
	for _, name := range []string{"names", "alias_keys"} {
		raw, err := marshalList(doc.Lists[name])
		if err != nil {
			return 0, err
		}
		encoded[name] = raw
	}
	for _, name := range []string{"affiliations", "awards", "urls", "orcids"} {
		raw, err := marshalEntries(doc.Entries[name])
		if err != nil {
			return 0, err
		}
		encoded[name] = raw
	}

	const q = `
INSERT INTO conch.authors (
	uname, homepage_url, is_disambiguation,
	names, alias_keys, affiliations, awards, urls, orcids,
	created_at, updated_at
)
VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6::jsonb, $7::jsonb, $8::jsonb, $9::jsonb, $10, $10)
RETURNING author_id
`
	var id int64
	err := s.pool.InTx(ctx, func(tx db.Tx) error {
		err := tx.QueryRow(ctx, q,
			doc.Scalars["uname"], doc.Scalars["homepage_url"], doc.Flags["is_disambiguation"],
			encoded["names"], encoded["alias_keys"], encoded["affiliations"],
			encoded["awards"], encoded["urls"], encoded["orcids"],
			globaltime.UTC(),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert author: %w", err)
		}
		if err := registerAliases(ctx, tx, id, doc.Lists["alias_keys"]); err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("insert author %v: %w", doc.Lists["alias_keys"], ErrDuplicateInsert)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *PostgresStore) MutateAuthor(ctx context.Context, id int64, mutate Mutation) (merge.Operation, error) {
	var op merge.Operation
	err := s.pool.InTx(ctx, func(tx db.Tx) error {
		stored, err := loadAuthor(ctx, tx, id, true)
		if err != nil {
			return err
		}
		op = mutate(stored)
		if op.IsEmpty() {
			return nil
		}
		if err := applyOperation(ctx, tx, "conch.authors", "author_id", id, op); err != nil {
			return err
		}
		for _, p := range op.Pushes {
			if p.Field != "alias_keys" {
				continue
			}
			if err := registerAliases(ctx, tx, id, p.Values); err != nil {
				if db.IsUniqueViolation(err) {
					return fmt.Errorf("author %d: alias owned by another author: %w", id, ErrIdentityConflict)
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return merge.Operation{}, err
	}
	return op, nil
}

func loadAuthor(ctx context.Context, tx db.Tx, id int64, lock bool) (merge.Document, error) {
	q := `
SELECT uname, homepage_url, is_disambiguation, names, alias_keys, affiliations, awards, urls, orcids
FROM conch.authors
WHERE author_id = $1
`
	if lock {
		q += "FOR UPDATE\n"
	}

	var (
		uname, homepage string
		disambiguation  bool
		raw             [6][]byte
	)
	err := tx.QueryRow(ctx, q, id).Scan(
		&uname, &homepage, &disambiguation,
		&raw[0], &raw[1], &raw[2], &raw[3], &raw[4], &raw[5],
	)
	if err != nil {
		if db.IsNoRows(err) {
			return merge.Document{}, fmt.Errorf("author %d vanished: %w", id, ErrIdentityConflict)
		}
		return merge.Document{}, fmt.Errorf("load author %d: %w", id, err)
	}

	doc := merge.NewDocument()
	doc.Scalars["uname"] = uname
	doc.Scalars["homepage_url"] = homepage
	doc.Flags["is_disambiguation"] = disambiguation
	for i, name := range []string{"names", "alias_keys"} {
		if doc.Lists[name], err = unmarshalList(raw[i]); err != nil {
			return merge.Document{}, err
		}
	}
	for i, name := range []string{"affiliations", "awards", "urls", "orcids"} {
		if doc.Entries[name], err = unmarshalEntries(raw[i+2]); err != nil {
			return merge.Document{}, err
		}
	}
	return doc, nil
}

func registerAliases(ctx context.Context, tx db.Tx, authorID int64, aliases []string) error {
	const q = `
INSERT INTO conch.author_aliases (alias_key, author_id, created_at)
VALUES ($1, $2, $3)
`
	now := globaltime.UTC()
	for _, alias := range aliases {
		if _, err := tx.Exec(ctx, q, alias, authorID, now); err != nil {
			return fmt.Errorf("register alias %q: %w", alias, err)
		}
	}
	return nil
}

func applyOperation(ctx context.Context, tx db.Tx, table, idColumn string, id int64, op merge.Operation) error {
	q, args, err := buildUpdate(table, idColumn, id, op, globaltime.UTC())
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update %s %d: %w", table, id, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("update %s %d: affected %d rows", table, id, tag.RowsAffected())
	}
	return nil
}

// buildUpdate renders op as one UPDATE. Column names come from the merge
// schemas, never from message content.
func buildUpdate(table, idColumn string, id int64, op merge.Operation, now time.Time) (string, []any, error) {
	var (
		assignments []string
		args        []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for _, set := range op.Sets {
		switch set.Kind {
		case merge.Flag:
			assignments = append(assignments, fmt.Sprintf("%s = %s", set.Field, bind(set.Flag)))
		case merge.Fingerprinted:
			values := textArgs(set.Value, set.Text)
			assignments = append(assignments,
				fmt.Sprintf("%s = %s", set.Field, bind(values[0])),
				fmt.Sprintf("%s_simhash = %s", set.Field, bind(values[1])),
			)
			for i := 0; i < 4; i++ {
				assignments = append(assignments, fmt.Sprintf("%s_part%d = %s", set.Field, i, bind(values[2+i])))
			}
		default:
			assignments = append(assignments, fmt.Sprintf("%s = %s", set.Field, bind(set.Value)))
		}
	}

	for _, push := range op.Pushes {
		var (
			raw string
			err error
		)
		switch push.Kind {
		case merge.ScalarList:
			raw, err = marshalList(push.Values)
		default:
			raw, err = marshalEntries(push.Entries)
		}
		if err != nil {
			return "", nil, err
		}
		assignments = append(assignments, fmt.Sprintf("%[1]s = %[1]s || %[2]s::jsonb", push.Field, bind(raw)))
	}

	assignments = append(assignments, fmt.Sprintf("updated_at = %s", bind(now)))
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s", table, strings.Join(assignments, ", "), idColumn, bind(id))
	return q, args, nil
}

// textArgs returns value, simhash and the four parts. Blank text stores
// NULL fingerprints so it never matches a candidate lookup.
func textArgs(value string, text fingerprint.Text) []any {
	if text.IsZero() {
		return []any{value, nil, nil, nil, nil, nil}
	}
	parts := text.Parts()
	return []any{value, text.Fingerprint.Int64(), parts[0], parts[1], parts[2], parts[3]}
}

func marshalList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(raw), nil
}

func marshalEntries(entries []merge.Entry) (string, error) {
	if entries == nil {
		entries = []merge.Entry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encode entries: %w", err)
	}
	return string(raw), nil
}

func unmarshalList(raw []byte) ([]string, error) {
	var out []string
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return out, nil
}

func unmarshalEntries(raw []byte) ([]merge.Entry, error) {
	var out []merge.Entry
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	return out, nil
}
