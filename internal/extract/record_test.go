package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/conch/internal/dblpxml"
)

const grammar = `
<!ELEMENT dblp (article|inproceedings|www)*>
<!ELEMENT article ANY>
<!ELEMENT inproceedings ANY>
<!ELEMENT www ANY>
<!ELEMENT author (#PCDATA)>
<!ELEMENT title (#PCDATA|i|sup)*>
<!ELEMENT i (#PCDATA)>
<!ELEMENT sup (#PCDATA)>
<!ELEMENT year (#PCDATA)>
<!ELEMENT url (#PCDATA)>
<!ELEMENT ee (#PCDATA)>
<!ELEMENT note (#PCDATA)>
<!ELEMENT pages (#PCDATA)>
<!ELEMENT journal (#PCDATA)>
<!ELEMENT volume (#PCDATA)>
<!ELEMENT booktitle (#PCDATA)>
<!ENTITY ouml "&#246;">
`

func parseOne(t *testing.T, doc string) Record {
	t.Helper()

	g, err := dblpxml.LoadGrammar(strings.NewReader(grammar))
	if err != nil {
		t.Fatalf("LoadGrammar() error = %v", err)
	}
	var rec Record
	_, err = dblpxml.NewParser(g, zerolog.Nop()).Parse(context.Background(), strings.NewReader("<dblp>"+doc+"</dblp>"), func(ev dblpxml.Event) error {
		if ev.Type != dblpxml.Close || !dblpxml.IsLeafKind(ev.Element.Name) {
			return nil
		}
		r, err := FromElement(ev.Element)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if rec == nil {
		t.Fatalf("no record extracted")
	}
	return rec
}

func TestExtractArticle(t *testing.T) {
	t.Parallel()

	rec := parseOne(t, `<article mdate="2020-06-02" key="journals/cacm/Knuth74">
<author orcid="0000-0002-1825-0097">Donald E. Knuth</author>
<author>J. Sch&ouml;n 0002</author>
<title>Computer Programming as an <i>Art</i></title>
<pages>667-673</pages>
<year>1974</year>
<volume>17</volume>
<journal>Commun. ACM</journal>
<ee>https://doi.org/10.1145/361604.361612</ee>
<ee type="oa">https://example.org/art.pdf</ee>
<url>db/journals/cacm/cacm17.html#Knuth74</url>
<note type="reviewid">12345</note>
<note type="rating">5</note>
<note type="doi">10.1145/361604.361612</note>
<booktitle>ignored for articles</booktitle>
</article>`)

	pub, ok := rec.(*Publication)
	if !ok {
		t.Fatalf("record type = %T", rec)
	}
	if pub.Kind != KindArticle || pub.Key != "journals/cacm/Knuth74" || pub.Stamp != "2020-06-02" {
		t.Fatalf("identity = %+v", pub)
	}
	if pub.Title != "Computer Programming as an <i>Art</i>" {
		t.Fatalf("title = %q", pub.Title)
	}
	if len(pub.Authors) != 2 || pub.Authors[0].ORCID != "0000-0002-1825-0097" || pub.Authors[1].Name != "J. Schön 0002" {
		t.Fatalf("authors = %+v", pub.Authors)
	}
	if pub.Journal != "Commun. ACM" || pub.Volume != "17" || pub.BookTitle != "" {
		t.Fatalf("venue = %q %q %q", pub.Journal, pub.Volume, pub.BookTitle)
	}
	if len(pub.EEs) != 2 || pub.Pages != "667-673" || pub.Year != "1974" {
		t.Fatalf("links/pages/year = %v %q %q", pub.EEs, pub.Pages, pub.Year)
	}
	if len(pub.Notes) != 1 || pub.Notes[0].Type != "doi" {
		t.Fatalf("notes = %+v", pub.Notes)
	}
	if !IsValuable(pub) {
		t.Fatalf("article should be valuable")
	}
}

func TestExtractInproceedings(t *testing.T) {
	t.Parallel()

	rec := parseOne(t, `<inproceedings mdate="2019-05-01" key="conf/vldb/Codd70">
<author>E. F. Codd</author>
<title>Relational Completeness</title>
<booktitle>VLDB <sup>2</sup></booktitle>
<journal>ignored</journal>
<url>db/conf/vldb/vldb70.html#Codd70</url>
</inproceedings>`)

	pub := rec.(*Publication)
	if pub.Kind != KindInproceedings {
		t.Fatalf("kind = %q", pub.Kind)
	}
	if pub.BookTitle != "VLDB  2" {
		t.Fatalf("booktitle = %q", pub.BookTitle)
	}
	if pub.Journal != "" {
		t.Fatalf("journal should be empty for inproceedings, got %q", pub.Journal)
	}
}

func TestExtractHomepage(t *testing.T) {
	t.Parallel()

	rec := parseOne(t, `<www mdate="2021-01-01" key="homepages/99/Smith">
<author>Jane Smith 0001</author>
<author>J. Smith</author>
<title>Home Page</title>
<url>https://jane.example.org</url>
<url type="deprecated">http://old.example.org</url>
<note type="uname">jsmith</note>
<note type="affiliation" label="2019">Example University</note>
</www>`)

	hp, ok := rec.(*Homepage)
	if !ok {
		t.Fatalf("record type = %T", rec)
	}
	if hp.RecordKind() != KindHomepage || hp.SourceKey() != "homepages/99/Smith" || hp.RevisionStamp() != "2021-01-01" {
		t.Fatalf("identity = %+v", hp)
	}
	if strings.Join(hp.Names, "|") != "Jane Smith 0001|J. Smith" {
		t.Fatalf("names = %v", hp.Names)
	}
	if len(hp.URLs) != 1 || hp.URLs[0].Text != "https://jane.example.org" {
		t.Fatalf("urls = %+v", hp.URLs)
	}
	if len(hp.Notes) != 2 || hp.Notes[1].Label != "2019" {
		t.Fatalf("notes = %+v", hp.Notes)
	}
	if !IsValuable(hp) {
		t.Fatalf("homepage should be valuable")
	}
}

func TestInproceedingsWithoutURLIsDropped(t *testing.T) {
	t.Parallel()

	rec := parseOne(t, `<inproceedings mdate="2019-05-01" key="conf/x/Y19">
<author>A. Author</author>
<title>Everything But a URL</title>
<booktitle>X</booktitle>
<year>2019</year>
<pages>1-10</pages>
<ee>https://doi.org/10.1/xyz</ee>
</inproceedings>`)

	if IsValuable(rec) {
		t.Fatalf("inproceedings without <url> must be dropped")
	}
}

func TestIsValuablePolicies(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		rec  Record
		want bool
	}{
		{name: "plain article", rec: &Publication{Kind: KindArticle, URL: "db/x"}, want: true},
		{name: "withdrawn", rec: &Publication{Kind: KindArticle, URL: "db/x", PublType: "withdrawn"}, want: false},
		{name: "informal withdrawn", rec: &Publication{Kind: KindArticle, URL: "db/x", PublType: "informal withdrawn"}, want: false},
		{name: "data", rec: &Publication{Kind: KindArticle, URL: "db/x", PublType: "data"}, want: false},
		{name: "software", rec: &Publication{Kind: KindInproceedings, URL: "db/x", PublType: "software"}, want: false},
		{name: "informal", rec: &Publication{Kind: KindArticle, URL: "db/x", PublType: "informal"}, want: true},
		{name: "blank url", rec: &Publication{Kind: KindArticle, URL: "  "}, want: false},
		{name: "homepage", rec: &Homepage{Key: "homepages/1/A"}, want: true},
		{name: "disambiguation", rec: &Homepage{Key: "homepages/1/A", PublType: "disambiguation"}, want: false},
		{name: "noshow", rec: &Homepage{Key: "homepages/1/A", PublType: "noshow"}, want: false},
		{name: "outside namespace", rec: &Homepage{Key: "persons/Knuth"}, want: false},
	}
	for _, tc := range cases {
		if got := IsValuable(tc.rec); got != tc.want {
			t.Fatalf("%s: IsValuable() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestExtractSkipsBlankLeaves(t *testing.T) {
	t.Parallel()

	rec := parseOne(t, `<article mdate="2022-03-04" key="journals/x/Blank22">
<author></author>
<author>Ada Lovelace</author>
<title>Notes on the Engine</title>
<url>db/journals/x/x1.html</url>
<ee></ee>
<ee>https://doi.org/10.1/x</ee>
<ee>   </ee>
<note> </note>
<note type="doi">10.1/x</note>
</article>`)

	pub := rec.(*Publication)
	if len(pub.Authors) != 1 || pub.Authors[0].Name != "Ada Lovelace" {
		t.Fatalf("authors = %+v", pub.Authors)
	}
	if len(pub.EEs) != 1 || pub.EEs[0] != "https://doi.org/10.1/x" {
		t.Fatalf("ees = %q", pub.EEs)
	}
	if len(pub.Notes) != 1 || pub.Notes[0].Type != "doi" {
		t.Fatalf("notes = %+v", pub.Notes)
	}
	if !IsValuable(pub) {
		t.Fatalf("a partially formed article with a url stays valuable")
	}

	rec = parseOne(t, `<www mdate="2022-03-04" key="homepages/12/Lovelace">
<author>Ada Lovelace</author>
<author> </author>
<url></url>
<note type="affiliation"></note>
</www>`)
	hp := rec.(*Homepage)
	if len(hp.Names) != 1 || len(hp.URLs) != 0 || len(hp.Notes) != 0 {
		t.Fatalf("homepage = %+v", hp)
	}
}
