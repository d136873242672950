package db

import (
	"strings"
	"testing"
)

func TestAdvanceLedgerSQLIsMonotonic(t *testing.T) {
	t.Parallel()

	if !strings.Contains(advanceLedgerSQL, `ON CONFLICT (kind, source_key) DO UPDATE`) {
		t.Fatalf("ledger upsert must be keyed on (kind, source_key):\n%s", advanceLedgerSQL)
	}
	guard := `WHERE conch.revision_ledger.stamp COLLATE "C" <= EXCLUDED.stamp COLLATE "C"`
	if !strings.Contains(advanceLedgerSQL, guard) {
		t.Fatalf("ledger upsert must only move forward under bytewise order:\n%s", advanceLedgerSQL)
	}
	if !strings.Contains(advanceLedgerSQL, "RETURNING stamp") {
		t.Fatalf("ledger upsert must return the held stamp")
	}
}
