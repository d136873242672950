package app

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	msgschema "horse.fit/conch/schema"
)

type validateResult struct {
	Scanned int
	Valid   int
	Invalid int
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	dir := fs.String("dir", "testdata/messages", "Directory containing .json work message files")
	recursive := fs.Bool("recursive", true, "Recursively scan subdirectories")
	kindFlag := fs.String("kind", "auto", "Message kind: auto, record_upsert, homepage_upsert or author_enrichment")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	var fixed msgschema.Kind
	if k := strings.TrimSpace(*kindFlag); k != "" && !strings.EqualFold(k, "auto") {
		parsed, err := msgschema.ParseKind(k)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		fixed = parsed
	}

	files, err := collectJSONFiles(strings.TrimSpace(*dir), *recursive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation setup failed: %v\n", err)
		return 1
	}

	result := validateResult{}
	for _, path := range files {
		result.Scanned++

		raw, err := os.ReadFile(path)
		if err != nil {
			result.Invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s: read failed: %v\n", path, err)
			continue
		}

		kind := fixed
		if kind == "" {
			kind, err = inferKind(raw)
			if err != nil {
				result.Invalid++
				fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", path, err)
				continue
			}
		}

		if err := msgschema.Validate(kind, raw); err != nil {
			result.Invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s (%s): %v\n", path, kind, err)
			continue
		}

		result.Valid++
	}

	fmt.Printf(
		"validate scanned=%d valid=%d invalid=%d dir=%s recursive=%t\n",
		result.Scanned,
		result.Valid,
		result.Invalid,
		strings.TrimSpace(*dir),
		*recursive,
	)

	if result.Scanned == 0 {
		fmt.Fprintf(os.Stderr, "Validation failed: no .json files found under %s\n", strings.TrimSpace(*dir))
		return 1
	}
	if result.Invalid > 0 {
		return 1
	}
	return 0
}

// inferKind picks the schema from the top-level fields of a message.
func inferKind(raw []byte) (msgschema.Kind, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", fmt.Errorf("malformed JSON: %w", err)
	}
	if _, ok := fields["dblp_key"]; ok {
		return msgschema.RecordUpsert, nil
	}
	_, hasORCID := fields["orcid"]
	_, hasAction := fields["action"]
	if hasORCID && !hasAction {
		return msgschema.AuthorEnrichment, nil
	}
	if _, ok := fields["alias_keys"]; ok {
		return msgschema.HomepageUpsert, nil
	}
	return "", fmt.Errorf("cannot infer message kind, pass --kind")
}

func collectJSONFiles(root string, recursive bool) ([]string, error) {
	cleanRoot := strings.TrimSpace(root)
	if cleanRoot == "" {
		return nil, fmt.Errorf("directory path is empty")
	}

	info, err := os.Stat(cleanRoot)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", cleanRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", cleanRoot)
	}

	var files []string
	if !recursive {
		entries, err := os.ReadDir(cleanRoot)
		if err != nil {
			return nil, fmt.Errorf("read directory %s: %w", cleanRoot, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !isJSONFile(entry.Name()) {
				continue
			}
			files = append(files, filepath.Join(cleanRoot, entry.Name()))
		}
		sort.Strings(files)
		return files, nil
	}

	err = filepath.WalkDir(cleanRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != cleanRoot {
				return filepath.SkipDir
			}
			return nil
		}
		if isJSONFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory %s: %w", cleanRoot, err)
	}

	sort.Strings(files)
	return files, nil
}

func isJSONFile(name string) bool {
	return !strings.HasPrefix(name, ".") && strings.EqualFold(filepath.Ext(name), ".json")
}
