package db

import (
	"encoding/json"
	"time"
)

// RevisionLedgerEntry maps conch.revision_ledger.
type RevisionLedgerEntry struct {
	Kind      string    `gorm:"column:kind;type:text;primaryKey"`
	SourceKey string    `gorm:"column:source_key;type:text;primaryKey"`
	Stamp     string    `gorm:"column:stamp;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (RevisionLedgerEntry) TableName() string { return "conch.revision_ledger" }

// FetchCheckpoint maps conch.fetch_checkpoints.
type FetchCheckpoint struct {
	URL       string    `gorm:"column:url;type:text;primaryKey"`
	ETag      string    `gorm:"column:etag;type:text;not null"`
	FetchedAt time.Time `gorm:"column:fetched_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (FetchCheckpoint) TableName() string { return "conch.fetch_checkpoints" }

// IngestRun maps conch.ingest_runs.
type IngestRun struct {
	RunID          int64      `gorm:"column:run_id;primaryKey;autoIncrement"`
	IngestRunUUID  string     `gorm:"column:ingest_run_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Source         string     `gorm:"column:source;type:text;not null"`
	StartedAt      time.Time  `gorm:"column:started_at;type:timestamptz;not null;default:now()"`
	FinishedAt     *time.Time `gorm:"column:finished_at;type:timestamptz"`
	Status         string     `gorm:"column:status;type:conch.ingest_run_status;not null;default:running"`
	DumpETag       *string    `gorm:"column:dump_etag;type:text"`
	Parsed         int64      `gorm:"column:parsed;type:bigint;not null;default:0"`
	Dropped        int64      `gorm:"column:dropped;type:bigint;not null;default:0"`
	Unchanged      int64      `gorm:"column:unchanged;type:bigint;not null;default:0"`
	Inserted       int64      `gorm:"column:inserted;type:bigint;not null;default:0"`
	Updated        int64      `gorm:"column:updated;type:bigint;not null;default:0"`
	Dispatched     int64      `gorm:"column:dispatched;type:bigint;not null;default:0"`
	DispatchFailed int64      `gorm:"column:dispatch_failed;type:bigint;not null;default:0"`
	ErrorMessage   *string    `gorm:"column:error_message;type:text"`
	CreatedAt      time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (IngestRun) TableName() string { return "conch.ingest_runs" }

// Record maps conch.records. Fingerprinted text fields carry the full
// fingerprint plus four indexed 16-bit parts.
type Record struct {
	RecordID        int64           `gorm:"column:record_id;primaryKey;autoIncrement"`
	RecordUUID      string          `gorm:"column:record_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	DBLPKey         *string         `gorm:"column:dblp_key;type:text;unique"`
	Kind            string          `gorm:"column:kind;type:text;not null"`
	Title           string          `gorm:"column:title;type:text;not null;default:''"`
	TitleSimhash    *int64          `gorm:"column:title_simhash;type:bigint"`
	TitlePart0      *int32          `gorm:"column:title_part0;type:integer"`
	TitlePart1      *int32          `gorm:"column:title_part1;type:integer"`
	TitlePart2      *int32          `gorm:"column:title_part2;type:integer"`
	TitlePart3      *int32          `gorm:"column:title_part3;type:integer"`
	Abstract        string          `gorm:"column:abstract;type:text;not null;default:''"`
	AbstractSimhash *int64          `gorm:"column:abstract_simhash;type:bigint"`
	AbstractPart0   *int32          `gorm:"column:abstract_part0;type:integer"`
	AbstractPart1   *int32          `gorm:"column:abstract_part1;type:integer"`
	AbstractPart2   *int32          `gorm:"column:abstract_part2;type:integer"`
	AbstractPart3   *int32          `gorm:"column:abstract_part3;type:integer"`
	BookTitle       string          `gorm:"column:booktitle;type:text;not null;default:''"`
	Journal         string          `gorm:"column:journal;type:text;not null;default:''"`
	Volume          string          `gorm:"column:volume;type:text;not null;default:''"`
	DOI             string          `gorm:"column:doi;type:text;not null;default:''"`
	Year            string          `gorm:"column:year;type:text;not null;default:''"`
	Pages           string          `gorm:"column:pages;type:text;not null;default:''"`
	EEs             json.RawMessage `gorm:"column:ees;type:jsonb;not null;default:'[]'"`
	Authors         json.RawMessage `gorm:"column:authors;type:jsonb;not null;default:'[]'"`
	Notes           json.RawMessage `gorm:"column:notes;type:jsonb;not null;default:'[]'"`
	CreatedAt       time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Record) TableName() string { return "conch.records" }

// Author maps conch.authors.
type Author struct {
	AuthorID         int64           `gorm:"column:author_id;primaryKey;autoIncrement"`
	AuthorUUID       string          `gorm:"column:author_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Uname            string          `gorm:"column:uname;type:text;not null;default:''"`
	HomepageURL      string          `gorm:"column:homepage_url;type:text;not null;default:''"`
	IsDisambiguation bool            `gorm:"column:is_disambiguation;type:boolean;not null;default:false"`
	Names            json.RawMessage `gorm:"column:names;type:jsonb;not null;default:'[]'"`
	AliasKeys        json.RawMessage `gorm:"column:alias_keys;type:jsonb;not null;default:'[]'"`
	Affiliations     json.RawMessage `gorm:"column:affiliations;type:jsonb;not null;default:'[]'"`
	Awards           json.RawMessage `gorm:"column:awards;type:jsonb;not null;default:'[]'"`
	URLs             json.RawMessage `gorm:"column:urls;type:jsonb;not null;default:'[]'"`
	ORCIDs           json.RawMessage `gorm:"column:orcids;type:jsonb;not null;default:'[]'"`
	CreatedAt        time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Author) TableName() string { return "conch.authors" }

// AuthorAlias maps conch.author_aliases. Every alias key resolves to exactly
// one author.
type AuthorAlias struct {
	AliasKey  string    `gorm:"column:alias_key;type:text;primaryKey"`
	AuthorID  int64     `gorm:"column:author_id;type:bigint;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (AuthorAlias) TableName() string { return "conch.author_aliases" }

func autoMigrateModels() []any {
	return []any{
		&RevisionLedgerEntry{},
		&FetchCheckpoint{},
		&IngestRun{},
		&Record{},
		&Author{},
		&AuthorAlias{},
	}
}
