package dblpxml

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"testing"
	"weak"

	"github.com/rs/zerolog"
)

const testGrammar = `<?xml version="1.0" encoding="ISO-8859-1"?>
<!-- trimmed dblp grammar -->
<!ENTITY % field "author|title|year|url|ee|note|pages|journal|volume|booktitle">
<!ELEMENT dblp (article|inproceedings|www|book|proceedings)*>
<!ELEMENT article (%field;)*>
<!ATTLIST article key CDATA #REQUIRED mdate CDATA #IMPLIED publtype CDATA #IMPLIED>
<!ELEMENT inproceedings (%field;)*>
<!ELEMENT www (%field;)*>
<!ELEMENT book (%field;)*>
<!ELEMENT proceedings (%field;)*>
<!ELEMENT author (#PCDATA)>
<!ELEMENT title (#PCDATA|i|sub|sup)*>
<!ELEMENT i (#PCDATA)>
<!ELEMENT sub (#PCDATA)>
<!ELEMENT sup (#PCDATA)>
<!ELEMENT year (#PCDATA)>
<!ELEMENT url (#PCDATA)>
<!ELEMENT ee (#PCDATA)>
<!ELEMENT note (#PCDATA)>
<!ELEMENT pages (#PCDATA)>
<!ELEMENT journal (#PCDATA)>
<!ELEMENT volume (#PCDATA)>
<!ELEMENT booktitle (#PCDATA)>
<!ENTITY uuml "&#252;" ><!-- small u, dieresis or umlaut mark -->
<!ENTITY eacute "&#xE9;">
`

const testDump = `<?xml version="1.0" encoding="ISO-8859-1"?>
<!DOCTYPE dblp SYSTEM "dblp.dtd">
<dblp>
<article mdate="2001-01-01" key="journals/acta/Knuth74">
<author orcid="0000-0001-2345-6789">Donald E. Knuth</author>
<title>Fast <i>k</i>-Paths in M&uuml;nchen</title>
<year>1974</year>
<url>db/journals/acta/acta4.html#Knuth74</url>
</article>
<book mdate="2002-01-03" key="books/aw/Knuth68">
<author>Donald E. Knuth</author>
<title>The Art of Computer Programming</title>
</book>
<www mdate="2021-01-01" key="homepages/99/Smith">
<author>Jane Smith 0001</author>
<title>Home Page</title>
</www>
</dblp>
`

func loadTestGrammar(t *testing.T) *Grammar {
	t.Helper()
	g, err := LoadGrammar(strings.NewReader(testGrammar))
	if err != nil {
		t.Fatalf("LoadGrammar() error = %v", err)
	}
	return g
}

func TestLoadGrammar(t *testing.T) {
	t.Parallel()

	g := loadTestGrammar(t)
	for _, name := range []string{"dblp", "article", "www", "i", "booktitle"} {
		if !g.Declares(name) {
			t.Fatalf("expected %q to be declared", name)
		}
	}
	if g.Declares("field") {
		t.Fatalf("parameter entity must not be treated as an element")
	}
	if got := g.Entities["uuml"]; got != "ü" {
		t.Fatalf("uuml = %q, want ü", got)
	}
	if got := g.Entities["eacute"]; got != "é" {
		t.Fatalf("eacute = %q, want é", got)
	}
}

func TestLoadGrammarRejectsEmpty(t *testing.T) {
	t.Parallel()

	if _, err := LoadGrammar(strings.NewReader("<!-- nothing -->")); !errors.Is(err, ErrParseFatal) {
		t.Fatalf("expected ErrParseFatal, got %v", err)
	}
}

func TestParseEmitsAllowListedEvents(t *testing.T) {
	t.Parallel()

	parser := NewParser(loadTestGrammar(t), zerolog.Nop())

	var got []string
	var article *Element
	stats, err := parser.Parse(context.Background(), strings.NewReader(testDump), func(ev Event) error {
		got = append(got, ev.Type.String()+":"+ev.Element.Name)
		if ev.Type == Close && ev.Element.Name == "article" {
			article = ev.Element
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []string{
		"open:dblp",
		"open:article", "close:article",
		"open:book", "close:book",
		"open:www", "close:www",
		"close:dblp",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if stats.Leaves != 2 {
		t.Fatalf("Leaves = %d, want 2", stats.Leaves)
	}

	if article == nil {
		t.Fatalf("article element not delivered")
	}
	if article.Attr("key") != "journals/acta/Knuth74" {
		t.Fatalf("key = %q", article.Attr("key"))
	}
	if got := article.First("title").InnerMarkup(); got != "Fast <i>k</i>-Paths in München" {
		t.Fatalf("title = %q", got)
	}
	if got := article.First("author").Attr("orcid"); got != "0000-0001-2345-6789" {
		t.Fatalf("orcid = %q", got)
	}
}

func TestParseContainerEventsCarryNoChildren(t *testing.T) {
	t.Parallel()

	parser := NewParser(loadTestGrammar(t), zerolog.Nop())
	_, err := parser.Parse(context.Background(), strings.NewReader(testDump), func(ev Event) error {
		if ev.Element.Name == "book" && len(ev.Element.Children) != 0 {
			t.Errorf("book should not be materialised, got %d children", len(ev.Element.Children))
		}
		if ev.Element.Name == "dblp" && len(ev.Element.Children) != 0 {
			t.Errorf("root must not accumulate children")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
}

func TestParseReleasesClosedLeaves(t *testing.T) {
	var doc strings.Builder
	doc.WriteString("<dblp>")
	for i := 0; i < 32; i++ {
		fmt.Fprintf(&doc, `<article key="journals/x/A%d"><author>Author %d</author><title>%s</title></article>`, i, i, strings.Repeat("t", 4096))
		if i%4 == 0 {
			fmt.Fprintf(&doc, `<book key="books/x/B%d"><title>Container</title></book>`, i)
		}
	}
	doc.WriteString("</dblp>")

	var (
		closed   []weak.Pointer[Element]
		retained int
	)
	parser := NewParser(loadTestGrammar(t), zerolog.Nop())
	_, err := parser.Parse(context.Background(), strings.NewReader(doc.String()), func(ev Event) error {
		if ev.Type != Close || !IsLeafKind(ev.Element.Name) {
			return nil
		}
		closed = append(closed, weak.Make(ev.Element))
		runtime.GC()
		// the subtree being handled and its predecessor may still be live
		for i := 0; i < len(closed)-2; i++ {
			if closed[i].Value() != nil {
				retained++
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(closed) != 32 {
		t.Fatalf("closed leaves = %d, want 32", len(closed))
	}
	if retained != 0 {
		t.Fatalf("%d closed subtrees were still reachable while parsing", retained)
	}
}

func TestParseFatalCases(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		doc  string
	}{
		{
			name: "undeclared element",
			doc:  `<dblp><article key="a" mdate="x"><abstract>no</abstract></article></dblp>`,
		},
		{
			name: "unknown entity",
			doc:  `<dblp><article key="a" mdate="x"><title>&nope;</title></article></dblp>`,
		},
		{
			name: "mismatched tag",
			doc:  `<dblp><article key="a" mdate="x"><title>x</year></article></dblp>`,
		},
		{
			name: "truncated",
			doc:  `<dblp><article key="a" mdate="x"><title>x</title>`,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			parser := NewParser(loadTestGrammar(t), zerolog.Nop())
			_, err := parser.Parse(context.Background(), strings.NewReader(tc.doc), func(Event) error { return nil })
			if !errors.Is(err, ErrParseFatal) {
				t.Fatalf("expected ErrParseFatal, got %v", err)
			}
		})
	}
}

func TestParseHandlerErrorStops(t *testing.T) {
	t.Parallel()

	stop := errors.New("stop")
	parser := NewParser(loadTestGrammar(t), zerolog.Nop())
	calls := 0
	_, err := parser.Parse(context.Background(), strings.NewReader(testDump), func(ev Event) error {
		calls++
		if ev.Type == Close && ev.Element.Name == "article" {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if errors.Is(err, ErrParseFatal) {
		t.Fatalf("handler error must not be reported as parse-fatal")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestParseHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	parser := NewParser(loadTestGrammar(t), zerolog.Nop())
	var closes int
	_, err := parser.Parse(ctx, strings.NewReader(testDump), func(ev Event) error {
		if ev.Type == Close {
			closes++
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if closes != 1 {
		t.Fatalf("closes = %d, want 1", closes)
	}
}

func TestJoinedText(t *testing.T) {
	t.Parallel()

	el := &Element{Name: "author", Children: []Node{
		{Text: "Jane"},
		{Element: &Element{Name: "i", Children: []Node{{Text: "Q."}}}},
		{Text: "Smith"},
	}}
	if got := el.JoinedText(); got != "Jane Q. Smith" {
		t.Fatalf("JoinedText() = %q", got)
	}
	if got := el.Text(); got != "JaneSmith" {
		t.Fatalf("Text() = %q", got)
	}
}
