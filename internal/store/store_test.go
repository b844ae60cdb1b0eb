package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpen_Close(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if st.Path() != path {
		t.Errorf("Path: got %q, want %q", st.Path(), path)
	}
	if st.Writer() == nil {
		t.Error("Writer is nil")
	}
	if st.Reader() == nil {
		t.Error("Reader is nil")
	}

	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close again should be a no-op.
	if err := st.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "test.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open with nested dir: %v", err)
	}
	st.Close()
}

func TestPing(t *testing.T) {
	st := openTestStore(t)
	if err := st.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	st := openTestStore(t)
	// Open already ran migrations; running again must be a no-op.
	if err := st.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	version, err := st.currentVersion()
	if err != nil {
		t.Fatalf("currentVersion: %v", err)
	}
	if want := migrations[len(migrations)-1].Version; version != want {
		t.Errorf("version: got %d, want %d", version, want)
	}
}

func sampleDispatch(id string) *Dispatch {
	return &Dispatch{
		ID:           id,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Category:     "drivers",
		Provider:     "gemini",
		Attempts:     1,
		PromptTokens: 100,
		OutputTokens: 250,
		LatencyMs:    840,
	}
}

func TestInsertDispatch_GetDispatch(t *testing.T) {
	st := openTestStore(t)

	d := sampleDispatch("disp-001")
	d.ErrorMessage = ""
	if err := st.InsertDispatch(d); err != nil {
		t.Fatalf("InsertDispatch: %v", err)
	}

	got, err := st.GetDispatch("disp-001")
	if err != nil {
		t.Fatalf("GetDispatch: %v", err)
	}

	if got.ID != d.ID {
		t.Errorf("ID: got %q, want %q", got.ID, d.ID)
	}
	if got.Category != "drivers" {
		t.Errorf("Category: got %q", got.Category)
	}
	if got.Provider != "gemini" {
		t.Errorf("Provider: got %q", got.Provider)
	}
	if got.PromptTokens != 100 || got.OutputTokens != 250 {
		t.Errorf("tokens: got %d/%d", got.PromptTokens, got.OutputTokens)
	}
	if got.Degraded || got.Cancelled || got.CacheHit {
		t.Errorf("flags should all be false: %+v", got)
	}
}

func TestInsertDispatch_DegradedFlags(t *testing.T) {
	st := openTestStore(t)

	d := sampleDispatch("disp-degraded")
	d.Provider = ""
	d.Degraded = true
	d.Attempts = 3
	d.ErrorMessage = "all providers exhausted"
	if err := st.InsertDispatch(d); err != nil {
		t.Fatalf("InsertDispatch: %v", err)
	}

	got, err := st.GetDispatch("disp-degraded")
	if err != nil {
		t.Fatalf("GetDispatch: %v", err)
	}
	if !got.Degraded {
		t.Error("expected Degraded to round-trip")
	}
	if got.ErrorMessage != "all providers exhausted" {
		t.Errorf("ErrorMessage: got %q", got.ErrorMessage)
	}
}

func TestGetDispatch_NotFound(t *testing.T) {
	st := openTestStore(t)

	if _, err := st.GetDispatch("nonexistent"); err == nil {
		t.Fatal("expected error for nonexistent dispatch")
	}
}

func TestListDispatches_OrderAndPaging(t *testing.T) {
	st := openTestStore(t)

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		d := sampleDispatch(fmt.Sprintf("disp-%03d", i))
		d.Timestamp = base.Add(time.Duration(i) * time.Second).Format(time.RFC3339)
		if err := st.InsertDispatch(d); err != nil {
			t.Fatalf("InsertDispatch %d: %v", i, err)
		}
	}

	page, err := st.ListDispatches(2, 0)
	if err != nil {
		t.Fatalf("ListDispatches: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 results, got %d", len(page))
	}
	// Newest first.
	if page[0].ID != "disp-004" {
		t.Errorf("first result: got %q, want disp-004", page[0].ID)
	}

	page2, err := st.ListDispatches(2, 2)
	if err != nil {
		t.Fatalf("ListDispatches offset: %v", err)
	}
	if len(page2) != 2 || page2[0].ID != "disp-002" {
		t.Errorf("second page: got %+v", page2)
	}
}

func TestGetDispatchStats(t *testing.T) {
	st := openTestStore(t)

	ok := sampleDispatch("s-ok")
	degraded := sampleDispatch("s-degraded")
	degraded.Degraded = true
	degraded.Provider = ""
	cached := sampleDispatch("s-cached")
	cached.CacheHit = true

	for _, d := range []*Dispatch{ok, degraded, cached} {
		if err := st.InsertDispatch(d); err != nil {
			t.Fatalf("InsertDispatch: %v", err)
		}
	}

	stats, err := st.GetDispatchStats(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("GetDispatchStats: %v", err)
	}
	if stats.TotalDispatches != 3 {
		t.Errorf("TotalDispatches: got %d, want 3", stats.TotalDispatches)
	}
	if stats.DegradedCount != 1 {
		t.Errorf("DegradedCount: got %d, want 1", stats.DegradedCount)
	}
	if stats.CacheHits != 1 {
		t.Errorf("CacheHits: got %d, want 1", stats.CacheHits)
	}
	if stats.TotalPromptTokens != 300 {
		t.Errorf("TotalPromptTokens: got %d, want 300", stats.TotalPromptTokens)
	}
}

func TestGetProviderCounts(t *testing.T) {
	st := openTestStore(t)

	for i := 0; i < 3; i++ {
		d := sampleDispatch(fmt.Sprintf("pc-gemini-%d", i))
		if err := st.InsertDispatch(d); err != nil {
			t.Fatalf("InsertDispatch: %v", err)
		}
	}
	groq := sampleDispatch("pc-groq")
	groq.Provider = "groq"
	if err := st.InsertDispatch(groq); err != nil {
		t.Fatalf("InsertDispatch: %v", err)
	}
	degraded := sampleDispatch("pc-degraded")
	degraded.Degraded = true
	if err := st.InsertDispatch(degraded); err != nil {
		t.Fatalf("InsertDispatch: %v", err)
	}

	counts, err := st.GetProviderCounts(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("GetProviderCounts: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(counts))
	}
	if counts[0].Provider != "gemini" || counts[0].Count != 3 {
		t.Errorf("top provider: got %+v", counts[0])
	}
}

func TestProviderHealth_Upsert(t *testing.T) {
	st := openTestStore(t)

	h := &ProviderHealth{
		Name:                "gemini",
		Available:           true,
		ConsecutiveFailures: 0,
	}
	if err := st.UpsertProviderHealth(h); err != nil {
		t.Fatalf("UpsertProviderHealth: %v", err)
	}

	// Second upsert replaces the row.
	h.Available = false
	h.ConsecutiveFailures = 2
	h.LastError = "429 too many requests"
	if err := st.UpsertProviderHealth(h); err != nil {
		t.Fatalf("second UpsertProviderHealth: %v", err)
	}

	records, err := st.ListProviderHealth()
	if err != nil {
		t.Fatalf("ListProviderHealth: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records[0]
	if got.Available {
		t.Error("expected provider to be marked unavailable")
	}
	if got.ConsecutiveFailures != 2 {
		t.Errorf("ConsecutiveFailures: got %d, want 2", got.ConsecutiveFailures)
	}
	if got.LastError != "429 too many requests" {
		t.Errorf("LastError: got %q", got.LastError)
	}
}

func TestCache_SetGetExpire(t *testing.T) {
	st := openTestStore(t)

	now := time.Now().UTC()
	entry := &CacheEntry{
		Key:       "cache-key-1",
		Category:  "generic",
		Provider:  "gemini",
		Output:    "a cached answer",
		CreatedAt: now.Format(time.RFC3339),
		ExpiresAt: now.Add(time.Hour).Format(time.RFC3339),
	}
	if err := st.SetCache(entry); err != nil {
		t.Fatalf("SetCache: %v", err)
	}

	got, err := st.GetCache("cache-key-1")
	if err != nil {
		t.Fatalf("GetCache: %v", err)
	}
	if got.Output != "a cached answer" {
		t.Errorf("Output: got %q", got.Output)
	}

	if err := st.IncrementHitCount("cache-key-1"); err != nil {
		t.Fatalf("IncrementHitCount: %v", err)
	}
	got, _ = st.GetCache("cache-key-1")
	if got.HitCount != 1 {
		t.Errorf("HitCount: got %d, want 1", got.HitCount)
	}

	// Expired entry is removed by DeleteExpired.
	expired := &CacheEntry{
		Key:       "cache-key-expired",
		Category:  "generic",
		Output:    "stale",
		CreatedAt: now.Add(-2 * time.Hour).Format(time.RFC3339),
		ExpiresAt: now.Add(-time.Hour).Format(time.RFC3339),
	}
	if err := st.SetCache(expired); err != nil {
		t.Fatalf("SetCache expired: %v", err)
	}
	n, err := st.DeleteExpired()
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpired: got %d rows, want 1", n)
	}
	if _, err := st.GetCache("cache-key-expired"); err == nil {
		t.Error("expected expired entry to be gone")
	}
}

func TestPrune(t *testing.T) {
	st := openTestStore(t)

	old := sampleDispatch("prune-old")
	old.Timestamp = time.Now().UTC().AddDate(0, 0, -60).Format(time.RFC3339)
	recent := sampleDispatch("prune-recent")
	for _, d := range []*Dispatch{old, recent} {
		if err := st.InsertDispatch(d); err != nil {
			t.Fatalf("InsertDispatch: %v", err)
		}
	}

	n, err := st.Prune(30)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("Prune: got %d rows, want 1", n)
	}

	if _, err := st.GetDispatch("prune-old"); err == nil {
		t.Error("expected old dispatch to be pruned")
	}
	if _, err := st.GetDispatch("prune-recent"); err != nil {
		t.Errorf("recent dispatch should survive: %v", err)
	}
}

func TestConcurrentWrites(t *testing.T) {
	st := openTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := st.InsertDispatch(sampleDispatch(fmt.Sprintf("conc-%03d", n))); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent insert: %v", err)
	}

	stats, err := st.GetDispatchStats(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("GetDispatchStats: %v", err)
	}
	if stats.TotalDispatches != 20 {
		t.Errorf("TotalDispatches: got %d, want 20", stats.TotalDispatches)
	}
}
