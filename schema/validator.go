// Package msgschema validates work messages against the embedded v1 JSON
// schemas before any writer acts on them.
package msgschema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed *.json
var schemaFiles embed.FS

const baseURL = "https://schemas.horse.fit/conch/"

// ErrInvalidMessage wraps every decode, schema and semantic failure.
var ErrInvalidMessage = errors.New("invalid work message")

type Kind string

const (
	RecordUpsert     Kind = "record_upsert"
	HomepageUpsert   Kind = "homepage_upsert"
	AuthorEnrichment Kind = "author_enrichment"
)

var kinds = []Kind{RecordUpsert, HomepageUpsert, AuthorEnrichment}

// KindForSubject maps a transport subject to the schema governing it.
func KindForSubject(subject string) (Kind, bool) {
	switch {
	case strings.HasPrefix(subject, "conch.records."):
		return RecordUpsert, true
	case subject == "conch.authors.enrich":
		return AuthorEnrichment, true
	case strings.HasPrefix(subject, "conch.authors."):
		return HomepageUpsert, true
	default:
		return "", false
	}
}

// ParseKind accepts the schema names used on the command line.
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown message kind %q", raw)
}

var (
	compileOnce       sync.Once
	compiledSchemas   map[Kind]*jsonschema.Schema
	compiledSchemaErr error
)

// Decode validates payload against the schema for kind and unmarshals the
// normalized document into dst.
func Decode(kind Kind, payload []byte, dst any) error {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return fmt.Errorf("%w: decode payload JSON: %v", ErrInvalidMessage, err)
	}

	schema, err := loadSchema(kind)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("%w: schema validation failed: %v", ErrInvalidMessage, err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: normalize payload JSON: %v", ErrInvalidMessage, err)
	}
	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(normalized, dst); err != nil {
		return fmt.Errorf("%w: unmarshal payload: %v", ErrInvalidMessage, err)
	}
	return nil
}

// Validate checks payload without decoding it into a type.
func Validate(kind Kind, payload []byte) error {
	return Decode(kind, payload, nil)
}

func loadSchema(kind Kind) (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		entries, err := schemaFiles.ReadDir(".")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("list embedded schemas: %w", err)
			return
		}
		for _, entry := range entries {
			raw, err := schemaFiles.ReadFile(entry.Name())
			if err != nil {
				compiledSchemaErr = fmt.Errorf("read schema %s: %w", entry.Name(), err)
				return
			}
			if err := compiler.AddResource(baseURL+entry.Name(), bytes.NewReader(raw)); err != nil {
				compiledSchemaErr = fmt.Errorf("add schema resource %s: %w", entry.Name(), err)
				return
			}
		}

		out := make(map[Kind]*jsonschema.Schema, len(kinds))
		for _, k := range kinds {
			schema, err := compiler.Compile(baseURL + string(k) + ".schema.json")
			if err != nil {
				compiledSchemaErr = fmt.Errorf("compile schema %s: %w", k, err)
				return
			}
			out[k] = schema
		}
		compiledSchemas = out
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	schema, ok := compiledSchemas[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no schema for kind %q", ErrInvalidMessage, kind)
	}
	return schema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}
