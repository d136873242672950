package merge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"horse.fit/conch/internal/fingerprint"
)

func TestCompileNotesByNaturalKey(t *testing.T) {
	t.Parallel()

	stored := NewDocument()
	stored.Entries["notes"] = []Entry{{"type": "uname", "text": "A"}}

	incoming := NewDocument()
	incoming.Entries["notes"] = []Entry{
		{"type": "uname", "text": "A"},
		{"type": "award", "text": "Best Paper", "label": "2020"},
	}

	op := Compile(RecordSchema, stored, incoming)
	require.Empty(t, op.Sets)
	require.Len(t, op.Pushes, 1)
	require.Equal(t, "notes", op.Pushes[0].Field)
	require.Equal(t, []Entry{{"type": "award", "text": "Best Paper", "label": "2020"}}, op.Pushes[0].Entries)
}

func TestCompileSameKeyDifferentDecorationIsDropped(t *testing.T) {
	t.Parallel()

	stored := NewDocument()
	stored.Entries["affiliations"] = []Entry{{"text": "Example University"}}

	incoming := NewDocument()
	incoming.Entries["affiliations"] = []Entry{{"text": "Example University", "label": "2019"}}

	require.True(t, Compile(AuthorSchema, stored, incoming).IsEmpty())
}

func TestCompileScalars(t *testing.T) {
	t.Parallel()

	stored := NewDocument()
	stored.Scalars["journal"] = "Commun. ACM"
	stored.Scalars["year"] = "1974"

	incoming := NewDocument()
	incoming.Scalars["journal"] = "Commun. ACM"
	incoming.Scalars["year"] = "1975"
	incoming.Scalars["pages"] = "   "
	incoming.Scalars["doi"] = ""
	incoming.Scalars["title"] = "The Art"

	op := Compile(RecordSchema, stored, incoming)
	require.Empty(t, op.Pushes)
	require.Len(t, op.Sets, 2)

	require.Equal(t, "title", op.Sets[0].Field)
	require.Equal(t, fingerprint.NewText("The Art"), op.Sets[0].Text)
	require.Equal(t, Set{Field: "year", Kind: Scalar, Value: "1975"}, op.Sets[1])
}

func TestCompileFlags(t *testing.T) {
	t.Parallel()

	stored := NewDocument()
	incoming := NewDocument()

	require.True(t, Compile(AuthorSchema, stored, incoming).IsEmpty(), "absent flag is not a change")

	incoming.Flags["is_disambiguation"] = false
	require.True(t, Compile(AuthorSchema, stored, incoming).IsEmpty(), "false equals the zero value")

	incoming.Flags["is_disambiguation"] = true
	op := Compile(AuthorSchema, stored, incoming)
	require.Equal(t, []Set{{Field: "is_disambiguation", Kind: Flag, Flag: true}}, op.Sets)
}

func TestCompileScalarListDeduplicatesBatch(t *testing.T) {
	t.Parallel()

	stored := NewDocument()
	stored.Lists["alias_keys"] = []string{"Jane Smith 0001"}

	incoming := NewDocument()
	incoming.Lists["alias_keys"] = []string{"J. Smith", "Jane Smith 0001", "J. Smith", ""}

	op := Compile(AuthorSchema, stored, incoming)
	require.Equal(t, []Push{{Field: "alias_keys", Kind: ScalarList, Values: []string{"J. Smith"}}}, op.Pushes)
}

func TestCompileEntryListStripsBlankSubfields(t *testing.T) {
	t.Parallel()

	incoming := NewDocument()
	incoming.Entries["authors"] = []Entry{
		{"alias": "Donald E. Knuth", "name": "Donald E. Knuth", "orcid": ""},
		{"alias": "", "name": "Nobody"},
	}

	op := Compile(RecordSchema, NewDocument(), incoming)
	require.Len(t, op.Pushes, 1)
	require.Equal(t, []Entry{{"alias": "Donald E. Knuth", "name": "Donald E. Knuth"}}, op.Pushes[0].Entries)
}

func TestCompileIsIdempotent(t *testing.T) {
	t.Parallel()

	stored := NewDocument()
	stored.Scalars["title"] = "Old Title"
	stored.Lists["ees"] = []string{"https://dblp.org/rec/x"}
	stored.Entries["notes"] = []Entry{{"type": "isbn", "text": "123"}}

	updates := []Document{
		NewDocument(),
		func() Document {
			d := NewDocument()
			d.Scalars["title"] = "New Title"
			d.Scalars["doi"] = "https://doi.org/10.1/x"
			d.Lists["ees"] = []string{"https://dblp.org/rec/x", "https://example.org/pdf"}
			d.Entries["authors"] = []Entry{{"alias": "A 0001", "name": "A"}, {"alias": "B", "name": "B"}}
			d.Entries["notes"] = []Entry{{"type": "isbn", "text": "123"}, {"type": "", "text": "Erratum"}}
			return d
		}(),
		func() Document {
			d := NewDocument()
			d.Entries["authors"] = []Entry{{"alias": "A 0001"}, {"alias": "A 0001", "name": "dup"}}
			return d
		}(),
	}

	for i, incoming := range updates {
		op := Compile(RecordSchema, stored, incoming)
		applied := Apply(stored, op)
		again := Compile(RecordSchema, applied, incoming)
		require.Truef(t, again.IsEmpty(), "update %d: second compile produced %+v", i, again)
	}
}

func TestApplyDoesNotMutateStored(t *testing.T) {
	t.Parallel()

	stored := NewDocument()
	stored.Lists["names"] = []string{"Jane Smith"}

	incoming := NewDocument()
	incoming.Lists["names"] = []string{"J. Smith"}

	_ = Apply(stored, Compile(AuthorSchema, stored, incoming))
	require.Equal(t, []string{"Jane Smith"}, stored.Lists["names"])
}

func TestSchemaField(t *testing.T) {
	t.Parallel()

	f, ok := AuthorSchema.Field("awards")
	require.True(t, ok)
	require.Equal(t, EntryList, f.Kind)
	require.Equal(t, "text", f.NaturalKey)

	_, ok = RecordSchema.Field("names")
	require.False(t, ok)
}
