package merge

import (
	"strings"

	"horse.fit/conch/internal/fingerprint"
)

// Entry is one element of a structured list.
type Entry map[string]string

// Document is the merge view of a stored or incoming entity.
type Document struct {
	Scalars map[string]string
	Flags   map[string]bool
	Lists   map[string][]string
	Entries map[string][]Entry
}

func NewDocument() Document {
	return Document{
		Scalars: make(map[string]string),
		Flags:   make(map[string]bool),
		Lists:   make(map[string][]string),
		Entries: make(map[string][]Entry),
	}
}

type Set struct {
	Field string
	Kind  FieldKind
	Value string
	Flag  bool
	// Text is filled for Fingerprinted fields.
	Text fingerprint.Text
}

type Push struct {
	Field   string
	Kind    FieldKind
	Values  []string
	Entries []Entry
}

// Operation is applied as: every Set replaces its field, every Push appends
// to its list. The empty Operation is a valid no-op.
type Operation struct {
	Sets   []Set
	Pushes []Push
}

func (o Operation) IsEmpty() bool {
	return len(o.Sets) == 0 && len(o.Pushes) == 0
}

// Compile diffs incoming against stored under schema. Blank incoming values
// never produce an operation.
func Compile(schema Schema, stored, incoming Document) Operation {
	var op Operation
	for _, f := range schema.Fields {
		switch f.Kind {
		case Scalar, Fingerprinted:
			value := incoming.Scalars[f.Name]
			if strings.TrimSpace(value) == "" || value == stored.Scalars[f.Name] {
				continue
			}
			set := Set{Field: f.Name, Kind: f.Kind, Value: value}
			if f.Kind == Fingerprinted {
				set.Text = fingerprint.NewText(value)
			}
			op.Sets = append(op.Sets, set)

		case Flag:
			value, present := incoming.Flags[f.Name]
			if !present || value == stored.Flags[f.Name] {
				continue
			}
			op.Sets = append(op.Sets, Set{Field: f.Name, Kind: f.Kind, Flag: value})

		case ScalarList:
			seen := make(map[string]struct{}, len(stored.Lists[f.Name]))
			for _, v := range stored.Lists[f.Name] {
				seen[v] = struct{}{}
			}
			var values []string
			for _, v := range incoming.Lists[f.Name] {
				if strings.TrimSpace(v) == "" {
					continue
				}
				if _, ok := seen[v]; ok {
					continue
				}
				seen[v] = struct{}{}
				values = append(values, v)
			}
			if len(values) > 0 {
				op.Pushes = append(op.Pushes, Push{Field: f.Name, Kind: f.Kind, Values: values})
			}

		case EntryList:
			seen := make(map[string]struct{}, len(stored.Entries[f.Name]))
			for _, e := range stored.Entries[f.Name] {
				seen[e[f.NaturalKey]] = struct{}{}
			}
			var entries []Entry
			for _, e := range incoming.Entries[f.Name] {
				cleaned := stripBlank(e)
				key := cleaned[f.NaturalKey]
				if key == "" {
					continue
				}
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				entries = append(entries, cleaned)
			}
			if len(entries) > 0 {
				op.Pushes = append(op.Pushes, Push{Field: f.Name, Kind: f.Kind, Entries: entries})
			}
		}
	}
	return op
}

// Apply returns stored with op applied. Stores that cannot express the
// operation natively use it directly.
func Apply(stored Document, op Operation) Document {
	out := stored.clone()
	for _, s := range op.Sets {
		switch s.Kind {
		case Flag:
			out.Flags[s.Field] = s.Flag
		default:
			out.Scalars[s.Field] = s.Value
		}
	}
	for _, p := range op.Pushes {
		switch p.Kind {
		case ScalarList:
			out.Lists[p.Field] = append(out.Lists[p.Field], p.Values...)
		case EntryList:
			out.Entries[p.Field] = append(out.Entries[p.Field], p.Entries...)
		}
	}
	return out
}

func (d Document) clone() Document {
	out := NewDocument()
	for k, v := range d.Scalars {
		out.Scalars[k] = v
	}
	for k, v := range d.Flags {
		out.Flags[k] = v
	}
	for k, v := range d.Lists {
		out.Lists[k] = append([]string(nil), v...)
	}
	for k, v := range d.Entries {
		entries := make([]Entry, 0, len(v))
		for _, e := range v {
			entries = append(entries, e.clone())
		}
		out.Entries[k] = entries
	}
	return out
}

func (e Entry) clone() Entry {
	out := make(Entry, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

func stripBlank(e Entry) Entry {
	out := make(Entry, len(e))
	for k, v := range e {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out[k] = v
	}
	return out
}
