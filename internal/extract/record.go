// Package extract turns parsed dblp elements into typed records and decides
// which of them are worth ingesting. Nothing in here performs I/O.
package extract

import (
	"fmt"
	"strings"

	"horse.fit/conch/internal/dblpxml"
)

type Kind string

const (
	KindArticle       Kind = "article"
	KindInproceedings Kind = "inproceedings"
	KindHomepage      Kind = "homepage"
)

// Record is implemented by *Publication and *Homepage.
type Record interface {
	RecordKind() Kind
	SourceKey() string
	RevisionStamp() string
}

type Author struct {
	Name  string `json:"name"`
	ORCID string `json:"orcid,omitempty"`
}

type Note struct {
	Type  string `json:"type,omitempty"`
	Label string `json:"label,omitempty"`
	Text  string `json:"text"`
}

type URL struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

type Publication struct {
	Kind      Kind
	Key       string
	Stamp     string
	PublType  string
	Title     string
	Authors   []Author
	Journal   string
	Volume    string
	BookTitle string
	URL       string
	EEs       []string
	Pages     string
	Year      string
	Notes     []Note
}

func (p *Publication) RecordKind() Kind      { return p.Kind }
func (p *Publication) SourceKey() string     { return p.Key }
func (p *Publication) RevisionStamp() string { return p.Stamp }

type Homepage struct {
	Key      string
	Stamp    string
	PublType string
	Names    []string
	URLs     []URL
	Notes    []Note
}

func (h *Homepage) RecordKind() Kind      { return KindHomepage }
func (h *Homepage) SourceKey() string     { return h.Key }
func (h *Homepage) RevisionStamp() string { return h.Stamp }

// FromElement extracts a record from a closed article, inproceedings or www
// element.
func FromElement(el *dblpxml.Element) (Record, error) {
	if el == nil {
		return nil, fmt.Errorf("element is nil")
	}
	switch el.Name {
	case "article", "inproceedings":
		return publication(el), nil
	case "www":
		return homepage(el), nil
	default:
		return nil, fmt.Errorf("unsupported element <%s>", el.Name)
	}
}

func publication(el *dblpxml.Element) *Publication {
	p := &Publication{
		Kind:     Kind(el.Name),
		Key:      el.Attr("key"),
		Stamp:    el.Attr("mdate"),
		PublType: el.Attr("publtype"),
		Title:    el.First("title").InnerMarkup(),
		URL:      firstText(el, "url"),
		Pages:    firstText(el, "pages"),
		Year:     firstText(el, "year"),
	}

	for _, a := range el.ChildElements("author") {
		name := a.JoinedText()
		if isBlank(name) {
			continue
		}
		p.Authors = append(p.Authors, Author{
			Name:  name,
			ORCID: a.Attr("orcid"),
		})
	}
	for _, ee := range el.ChildElements("ee") {
		if text := ee.Text(); !isBlank(text) {
			p.EEs = append(p.EEs, text)
		}
	}
	for _, n := range el.ChildElements("note") {
		text := n.Text()
		if isBlank(text) {
			continue
		}
		switch typ := n.Attr("type"); typ {
		case "reviewid", "rating":
			continue
		default:
			p.Notes = append(p.Notes, Note{Type: typ, Text: text})
		}
	}

	if p.Kind == KindArticle {
		p.Journal = firstText(el, "journal")
		p.Volume = firstText(el, "volume")
	} else {
		p.BookTitle = el.First("booktitle").JoinedText()
	}
	return p
}

func homepage(el *dblpxml.Element) *Homepage {
	h := &Homepage{
		Key:      el.Attr("key"),
		Stamp:    el.Attr("mdate"),
		PublType: el.Attr("publtype"),
	}
	for _, a := range el.ChildElements("author") {
		if name := a.JoinedText(); !isBlank(name) {
			h.Names = append(h.Names, name)
		}
	}
	for _, n := range el.ChildElements("note") {
		text := n.JoinedText()
		if isBlank(text) {
			continue
		}
		h.Notes = append(h.Notes, Note{
			Type:  n.Attr("type"),
			Label: n.Attr("label"),
			Text:  text,
		})
	}
	for _, u := range el.ChildElements("url") {
		typ := u.Attr("type")
		text := u.JoinedText()
		if typ == "deprecated" || isBlank(text) {
			continue
		}
		h.URLs = append(h.URLs, URL{Type: typ, Text: text})
	}
	return h
}

// isBlank reports leaves that carry no text. Empty leaves are dropped on
// extraction so a partially formed entry still yields a valid message.
func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func firstText(el *dblpxml.Element, name string) string {
	return el.First(name).Text()
}

// IsValuable reports whether a record should enter change detection.
func IsValuable(r Record) bool {
	switch rec := r.(type) {
	case *Publication:
		if strings.Contains(rec.PublType, "withdrawn") || rec.PublType == "data" || rec.PublType == "software" {
			return false
		}
		return strings.TrimSpace(rec.URL) != ""
	case *Homepage:
		if rec.PublType == "disambiguation" || rec.PublType == "noshow" {
			return false
		}
		return strings.HasPrefix(rec.Key, "homepages/")
	default:
		return false
	}
}
