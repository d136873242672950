package revision

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/conch/internal/extract"
)

type memoryCache struct {
	mu      sync.Mutex
	values  map[string]string
	failGet bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: make(map[string]string)}
}

func (c *memoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return "", false, errors.New("cache down")
	}
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key, stamp string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = stamp
	return nil
}

func (c *memoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

type memoryLedger struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{entries: make(map[string]string)}
}

func (l *memoryLedger) LedgerStamp(_ context.Context, kind, key string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.entries[kind+"/"+key]
	return v, ok, nil
}

func (l *memoryLedger) AdvanceLedger(_ context.Context, kind, key, stamp string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := kind + "/" + key
	if current, ok := l.entries[id]; ok && current > stamp {
		return current, nil
	}
	l.entries[id] = stamp
	return stamp, nil
}

func TestDecideInsertNoneUpdate(t *testing.T) {
	t.Parallel()

	d := NewDetector(newMemoryCache(), newMemoryLedger(), zerolog.Nop())
	key := SourceKey{Kind: extract.KindArticle, Key: "w/Knuth:Art"}
	ctx := context.Background()

	steps := []struct {
		stamp string
		want  Action
	}{
		{stamp: "2001-01-01", want: Insert},
		{stamp: "2001-01-01", want: None},
		{stamp: "2020-06-02", want: Update},
	}
	for i, step := range steps {
		got, err := d.Decide(ctx, key, step.stamp)
		if err != nil {
			t.Fatalf("step %d: Decide() error = %v", i, err)
		}
		if got != step.want {
			t.Fatalf("step %d: Decide(%q) = %s, want %s", i, step.stamp, got, step.want)
		}
		if got != None {
			if err := d.Commit(ctx, key, step.stamp); err != nil {
				t.Fatalf("step %d: Commit() error = %v", i, err)
			}
		}
	}
}

func TestDecideFallsBackToLedgerOnCacheMiss(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := newMemoryLedger()
	key := SourceKey{Kind: extract.KindHomepage, Key: "homepages/99/Smith"}
	if _, err := ledger.AdvanceLedger(ctx, string(key.Kind), key.Key, "2021-01-01"); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	cache := newMemoryCache()
	d := NewDetector(cache, ledger, zerolog.Nop())

	got, err := d.Decide(ctx, key, "2021-01-01")
	if err != nil || got != None {
		t.Fatalf("Decide() = %s, %v; want none", got, err)
	}
	if cache.values[key.String()] != "2021-01-01" {
		t.Fatalf("ledger hit should warm the cache, got %v", cache.values)
	}

	cache.failGet = true
	got, err = d.Decide(ctx, key, "2022-02-02")
	if err != nil || got != Update {
		t.Fatalf("Decide() with cache down = %s, %v; want update", got, err)
	}
}

func TestDecideCollapsesDuplicatesWithinRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := NewDetector(newMemoryCache(), newMemoryLedger(), zerolog.Nop())
	key := SourceKey{Kind: extract.KindInproceedings, Key: "conf/x/Y"}

	first, _ := d.Decide(ctx, key, "2020-01-01")
	second, _ := d.Decide(ctx, key, "2020-01-01")
	if first != Insert || second != None {
		t.Fatalf("got %s then %s, want insert then none", first, second)
	}
}

func TestAbandonRestoresLedgerView(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := NewDetector(newMemoryCache(), newMemoryLedger(), zerolog.Nop())
	key := SourceKey{Kind: extract.KindArticle, Key: "journals/x/Y"}

	if got, _ := d.Decide(ctx, key, "2020-01-01"); got != Insert {
		t.Fatalf("first decision = %s", got)
	}
	d.Abandon(ctx, key)
	if got, _ := d.Decide(ctx, key, "2020-01-01"); got != Insert {
		t.Fatalf("after abandon decision = %s, want insert", got)
	}
}

func TestCommitIsMonotonic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := newMemoryCache()
	ledger := newMemoryLedger()
	d := NewDetector(cache, ledger, zerolog.Nop())
	key := SourceKey{Kind: extract.KindArticle, Key: "w/Knuth:Art"}

	if err := d.Commit(ctx, key, "2020-06-02"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := d.Commit(ctx, key, "2001-01-01"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	stamp, _, _ := ledger.LedgerStamp(ctx, "article", "w/Knuth:Art")
	if stamp != "2020-06-02" {
		t.Fatalf("ledger stamp = %q, want 2020-06-02", stamp)
	}
	if cache.values[key.String()] != "2020-06-02" {
		t.Fatalf("cache must mirror the ledger, got %q", cache.values[key.String()])
	}
}

func TestSourceKeyString(t *testing.T) {
	t.Parallel()

	key := SourceKey{Kind: extract.KindHomepage, Key: "homepages/99/Smith"}
	if got := key.String(); got != "dblp_homepage_homepages/99/Smith" {
		t.Fatalf("String() = %q", got)
	}
	if got := KeyOf(&extract.Publication{Kind: extract.KindArticle, Key: "a"}); got != (SourceKey{Kind: extract.KindArticle, Key: "a"}) {
		t.Fatalf("KeyOf() = %+v", got)
	}
}
