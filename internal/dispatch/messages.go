package dispatch

import (
	"time"

	"horse.fit/conch/internal/revision"
)

// Version tags every work message. Writers reject other versions.
const Version = "v1"

const (
	SubjectRecordInsert = "conch.records.insert"
	SubjectRecordUpdate = "conch.records.update"
	SubjectAuthorInsert = "conch.authors.insert"
	SubjectAuthorUpdate = "conch.authors.update"
	SubjectAuthorEnrich = "conch.authors.enrich"

	// SubjectWildcard covers every subject above.
	SubjectWildcard = "conch.>"
)

// Subjects lists every work subject.
var Subjects = []string{
	SubjectRecordInsert,
	SubjectRecordUpdate,
	SubjectAuthorInsert,
	SubjectAuthorUpdate,
	SubjectAuthorEnrich,
}

type Header struct {
	Version      string             `json:"version"`
	MessageID    string             `json:"message_id"`
	Action       string             `json:"action"`
	Source       revision.SourceKey `json:"source"`
	Stamp        string             `json:"stamp"`
	DispatchedAt time.Time          `json:"dispatched_at"`
}

type AuthorRef struct {
	Alias string `json:"alias"`
	Name  string `json:"name"`
	ORCID string `json:"orcid,omitempty"`
}

type NoteRef struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

type LabeledText struct {
	Label string `json:"label,omitempty"`
	Text  string `json:"text"`
}

type TypedURL struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// RecordUpsert carries one article or inproceedings.
type RecordUpsert struct {
	Header
	Kind      string      `json:"kind"`
	DBLPKey   string      `json:"dblp_key"`
	Title     string      `json:"title"`
	Abstract  string      `json:"abstract,omitempty"`
	Authors   []AuthorRef `json:"authors"`
	BookTitle string      `json:"booktitle,omitempty"`
	Journal   string      `json:"journal,omitempty"`
	Volume    string      `json:"volume,omitempty"`
	EEs       []string    `json:"ees"`
	Year      string      `json:"year,omitempty"`
	Pages     string      `json:"pages,omitempty"`
	Notes     []NoteRef   `json:"notes"`
	DOI       string      `json:"doi,omitempty"`
}

// HomepageUpsert carries one dblp person page.
type HomepageUpsert struct {
	Header
	AliasKeys        []string      `json:"alias_keys"`
	Names            []string      `json:"names"`
	Uname            string        `json:"uname,omitempty"`
	HomepageURL      string        `json:"homepage_url"`
	IsDisambiguation bool          `json:"is_disambiguation"`
	Awards           []LabeledText `json:"awards"`
	Affiliations     []LabeledText `json:"affiliations"`
	URLs             []TypedURL    `json:"urls"`
}

// AuthorEnrichment asks the author writer to attach an ORCID profile.
type AuthorEnrichment struct {
	Version   string   `json:"version"`
	MessageID string   `json:"message_id"`
	AliasKeys []string `json:"alias_keys"`
	ORCID     string   `json:"orcid"`
}
