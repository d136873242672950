package app

import (
	"os"
	"path/filepath"
	"testing"

	msgschema "horse.fit/conch/schema"
)

func TestCollectJSONFilesRecursive(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.json"), `{"k":"v"}`)
	mustWriteFile(t, filepath.Join(root, "b.txt"), `x`)
	mustWriteFile(t, filepath.Join(root, ".hidden.json"), `{}`)
	mustWriteFile(t, filepath.Join(root, "nested", "c.json"), `{"k":"v2"}`)
	mustWriteFile(t, filepath.Join(root, ".git", "d.json"), `{}`)

	files, err := collectJSONFiles(root, true)
	if err != nil {
		t.Fatalf("collectJSONFiles failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 json files, got %d (%v)", len(files), files)
	}
}

func TestCollectJSONFilesNonRecursive(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.json"), `{"k":"v"}`)
	mustWriteFile(t, filepath.Join(root, "nested", "c.json"), `{"k":"v2"}`)

	files, err := collectJSONFiles(root, false)
	if err != nil {
		t.Fatalf("collectJSONFiles failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 json file, got %d (%v)", len(files), files)
	}
}

func TestCollectJSONFilesRejectsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.json")
	mustWriteFile(t, path, `{}`)
	if _, err := collectJSONFiles(path, true); err == nil {
		t.Fatalf("expected error for non-directory root")
	}
}

func TestInferKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want msgschema.Kind
	}{
		{name: "record", raw: `{"action":"insert","dblp_key":"journals/x/A1"}`, want: msgschema.RecordUpsert},
		{name: "homepage", raw: `{"action":"update","alias_keys":["Jane Smith"],"orcid":"0000-0002-1825-0097"}`, want: msgschema.HomepageUpsert},
		{name: "enrichment", raw: `{"alias_keys":["Jane Smith"],"orcid":"0000-0002-1825-0097"}`, want: msgschema.AuthorEnrichment},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := inferKind([]byte(tc.raw))
			if err != nil {
				t.Fatalf("inferKind failed: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}

	if _, err := inferKind([]byte(`{"unrelated":true}`)); err == nil {
		t.Fatalf("expected error for unknown shape")
	}
	if _, err := inferKind([]byte(`{`)); err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
}

func TestSelectFamilies(t *testing.T) {
	t.Parallel()

	got, err := selectFamilies(" records, enrich ,records")
	if err != nil {
		t.Fatalf("selectFamilies failed: %v", err)
	}
	if len(got) != 2 || got[0].Name != "records" || got[1].Name != "enrich" {
		t.Fatalf("unexpected families: %+v", got)
	}

	if _, err := selectFamilies("records,bogus"); err == nil {
		t.Fatalf("expected error for unknown family")
	}
	if _, err := selectFamilies(" , "); err == nil {
		t.Fatalf("expected error for empty selection")
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	t.Parallel()

	if code := Run([]string{"bogus"}); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	if code := Run(nil); code != 2 {
		t.Fatalf("expected exit code 2 without args, got %d", code)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}
