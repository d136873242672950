package dispatch

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"horse.fit/conch/internal/extract"
)

const doiHostMarker = "://doi.org/"

// TranslatePublication builds the record message body. The DOI is taken from
// the first doi.org link or, with priority, from a note typed "doi", and is
// removed from wherever it was found.
func TranslatePublication(p *extract.Publication, baseURL string) RecordUpsert {
	msg := RecordUpsert{
		Kind:      string(p.Kind),
		DBLPKey:   p.Key,
		Title:     p.Title,
		BookTitle: p.BookTitle,
		Journal:   p.Journal,
		Volume:    p.Volume,
		Year:      p.Year,
		Pages:     p.Pages,
		Authors:   make([]AuthorRef, 0, len(p.Authors)),
		EEs:       make([]string, 0, len(p.EEs)+1),
		Notes:     make([]NoteRef, 0, len(p.Notes)),
	}

	doiTaken := false
	for _, ee := range p.EEs {
		if !doiTaken && strings.Contains(ee, doiHostMarker) {
			msg.DOI = ee
			doiTaken = true
			continue
		}
		msg.EEs = append(msg.EEs, ee)
	}

	noteTaken := false
	for _, n := range p.Notes {
		if !noteTaken && n.Type == "doi" {
			msg.DOI = n.Text
			noteTaken = true
			continue
		}
		msg.Notes = append(msg.Notes, NoteRef{Type: n.Type, Text: n.Text})
	}

	if p.URL != "" {
		msg.EEs = append([]string{joinURL(baseURL, p.URL)}, msg.EEs...)
	}

	for _, a := range p.Authors {
		msg.Authors = append(msg.Authors, AuthorRef{
			Alias: a.Name,
			Name:  StripDisambiguation(a.Name),
			ORCID: a.ORCID,
		})
	}
	return msg
}

// TranslateHomepage builds the author message body.
func TranslateHomepage(h *extract.Homepage, baseURL string) HomepageUpsert {
	msg := HomepageUpsert{
		AliasKeys:        append([]string(nil), h.Names...),
		IsDisambiguation: h.PublType == "disambiguation",
		HomepageURL:      joinURL(baseURL, strings.ReplaceAll(h.Key, "homepages", "pid")),
		Awards:           []LabeledText{},
		Affiliations:     []LabeledText{},
		URLs:             make([]TypedURL, 0, len(h.URLs)),
	}

	for _, n := range h.Notes {
		switch n.Type {
		case "uname":
			msg.Uname = n.Text
		case "award":
			msg.Awards = append(msg.Awards, LabeledText{Label: n.Label, Text: n.Text})
		case "affiliation":
			msg.Affiliations = append(msg.Affiliations, LabeledText{Label: n.Label, Text: n.Text})
		}
	}
	for _, u := range h.URLs {
		msg.URLs = append(msg.URLs, TypedURL{Type: u.Type, Text: u.Text})
	}

	names := make([]string, 0, len(h.Names))
	for _, n := range h.Names {
		names = append(names, StripDisambiguation(n))
	}
	msg.Names = fullestFirst(names)
	return msg
}

// StripDisambiguation drops space-separated all-digit tokens, turning
// "Jane Smith 0001" into "Jane Smith".
func StripDisambiguation(name string) string {
	tokens := strings.Split(name, " ")
	kept := tokens[:0:0]
	for _, tok := range tokens {
		if isDigits(tok) {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// fullestFirst moves the first dot-free name longer than the current head to
// the front. Abbreviated variants like "J. Smith" never win.
func fullestFirst(names []string) []string {
	if len(names) < 2 {
		return names
	}
	head := utf8.RuneCountInString(names[0])
	for i, name := range names {
		if i == 0 || strings.Contains(name, ".") || utf8.RuneCountInString(name) <= head {
			continue
		}
		out := make([]string, 0, len(names))
		out = append(out, name)
		out = append(out, names[:i]...)
		out = append(out, names[i+1:]...)
		return out
	}
	return names
}

func joinURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
