// Package merge compiles the minimal set of field replacements and list
// appends that bring a stored document up to date with incoming facts.
package merge

type FieldKind int

const (
	// Scalar is replaced when the incoming value is non-blank and differs.
	Scalar FieldKind = iota + 1
	// Flag is replaced when present in the incoming document and different.
	Flag
	// Fingerprinted is a Scalar whose replacement also carries a fingerprint.
	Fingerprinted
	// ScalarList appends incoming values not already present.
	ScalarList
	// EntryList appends entries whose natural key is not already present.
	EntryList
)

func (k FieldKind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Flag:
		return "flag"
	case Fingerprinted:
		return "fingerprinted"
	case ScalarList:
		return "scalar_list"
	case EntryList:
		return "entry_list"
	default:
		return "unknown"
	}
}

type Field struct {
	Name string
	Kind FieldKind
	// NaturalKey names the entry sub-field that decides "already present".
	// Only used by EntryList.
	NaturalKey string
}

type Schema struct {
	Name   string
	Fields []Field
}

// Field returns the rule for name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// RecordSchema governs conch.records.
var RecordSchema = Schema{
	Name: "record",
	Fields: []Field{
		{Name: "title", Kind: Fingerprinted},
		{Name: "abstract", Kind: Fingerprinted},
		{Name: "booktitle", Kind: Scalar},
		{Name: "journal", Kind: Scalar},
		{Name: "volume", Kind: Scalar},
		{Name: "doi", Kind: Scalar},
		{Name: "year", Kind: Scalar},
		{Name: "pages", Kind: Scalar},
		{Name: "ees", Kind: ScalarList},
		{Name: "authors", Kind: EntryList, NaturalKey: "alias"},
		{Name: "notes", Kind: EntryList, NaturalKey: "text"},
	},
}

// AuthorSchema governs conch.authors.
var AuthorSchema = Schema{
	Name: "author",
	Fields: []Field{
		{Name: "uname", Kind: Scalar},
		{Name: "homepage_url", Kind: Scalar},
		{Name: "is_disambiguation", Kind: Flag},
		{Name: "names", Kind: ScalarList},
		{Name: "alias_keys", Kind: ScalarList},
		{Name: "affiliations", Kind: EntryList, NaturalKey: "text"},
		{Name: "awards", Kind: EntryList, NaturalKey: "text"},
		{Name: "urls", Kind: EntryList, NaturalKey: "text"},
		{Name: "orcids", Kind: EntryList, NaturalKey: "value"},
	},
}
