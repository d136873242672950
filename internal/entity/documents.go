package entity

import (
	"strings"

	"horse.fit/conch/internal/dispatch"
	"horse.fit/conch/internal/merge"
)

// RecordDocument converts a record message into its merge view.
func RecordDocument(msg dispatch.RecordUpsert) merge.Document {
	doc := merge.NewDocument()
	doc.Scalars["title"] = msg.Title
	doc.Scalars["abstract"] = msg.Abstract
	doc.Scalars["booktitle"] = msg.BookTitle
	doc.Scalars["journal"] = msg.Journal
	doc.Scalars["volume"] = msg.Volume
	doc.Scalars["doi"] = msg.DOI
	doc.Scalars["year"] = msg.Year
	doc.Scalars["pages"] = msg.Pages
	doc.Lists["ees"] = append([]string(nil), msg.EEs...)

	authors := make([]merge.Entry, 0, len(msg.Authors))
	for _, a := range msg.Authors {
		authors = append(authors, merge.Entry{"alias": a.Alias, "name": a.Name, "orcid": a.ORCID})
	}
	doc.Entries["authors"] = authors

	notes := make([]merge.Entry, 0, len(msg.Notes))
	for _, n := range msg.Notes {
		notes = append(notes, merge.Entry{"type": n.Type, "text": n.Text})
	}
	doc.Entries["notes"] = notes
	return doc
}

// AuthorDocument converts a homepage message into its merge view.
func AuthorDocument(msg dispatch.HomepageUpsert) merge.Document {
	doc := merge.NewDocument()
	doc.Scalars["uname"] = msg.Uname
	doc.Scalars["homepage_url"] = msg.HomepageURL
	doc.Flags["is_disambiguation"] = msg.IsDisambiguation
	doc.Lists["names"] = append([]string(nil), msg.Names...)
	doc.Lists["alias_keys"] = append([]string(nil), msg.AliasKeys...)
	doc.Entries["affiliations"] = labeledEntries(msg.Affiliations)
	doc.Entries["awards"] = labeledEntries(msg.Awards)

	urls := make([]merge.Entry, 0, len(msg.URLs))
	for _, u := range msg.URLs {
		urls = append(urls, merge.Entry{"type": u.Type, "text": u.Text})
	}
	doc.Entries["urls"] = urls
	return doc
}

func labeledEntries(items []dispatch.LabeledText) []merge.Entry {
	out := make([]merge.Entry, 0, len(items))
	for _, item := range items {
		out = append(out, merge.Entry{"label": item.Label, "text": item.Text})
	}
	return out
}

// normalized runs doc through the schema against an empty document so that
// inserts obey the same blank and duplicate rules as updates.
func normalized(schema merge.Schema, doc merge.Document) merge.Document {
	empty := merge.NewDocument()
	return merge.Apply(empty, merge.Compile(schema, empty, doc))
}

func cleanAliases(aliases []string) ([]string, bool) {
	out := make([]string, 0, len(aliases))
	seen := make(map[string]struct{}, len(aliases))
	for _, alias := range aliases {
		if strings.TrimSpace(alias) == "" {
			return nil, false
		}
		if _, ok := seen[alias]; ok {
			continue
		}
		seen[alias] = struct{}{}
		out = append(out, alias)
	}
	return out, len(out) > 0
}
