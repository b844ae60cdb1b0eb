package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/arqlabs/cascade/internal/dispatch"
)

// ---------------------------------------------------------------------------
// Mock Store
// ---------------------------------------------------------------------------

type mockStore struct {
	entries map[string]*Entry
}

func newMockStore() *mockStore {
	return &mockStore{entries: make(map[string]*Entry)}
}

func (m *mockStore) GetCache(key string) (*Entry, error) {
	if e, ok := m.entries[key]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("not found")
}

func (m *mockStore) SetCache(key string, entry *Entry) error {
	m.entries[key] = entry
	return nil
}

func (m *mockStore) DeleteExpiredCache() error {
	now := time.Now()
	for k, e := range m.entries {
		if now.After(e.ExpiresAt) {
			delete(m.entries, k)
		}
	}
	return nil
}

func genTask(prompt string) *dispatch.Task {
	return &dispatch.Task{Category: dispatch.CategoryGeneric, Prompt: prompt}
}

// ---------------------------------------------------------------------------
// Key tests
// ---------------------------------------------------------------------------

func TestKey_SameInputsSameKey(t *testing.T) {
	key1 := Key(genTask("hello"))
	key2 := Key(genTask("hello"))
	if key1 != key2 {
		t.Errorf("expected identical keys, got %q and %q", key1, key2)
	}
}

func TestKey_DifferentPromptDifferentKey(t *testing.T) {
	key1 := Key(genTask("hello"))
	key2 := Key(genTask("goodbye"))
	if key1 == key2 {
		t.Errorf("expected different keys for different prompts, both got %q", key1)
	}
}

func TestKey_DifferentCategoryDifferentKey(t *testing.T) {
	a := &dispatch.Task{Category: dispatch.CategoryGeneric, Prompt: "hello"}
	b := &dispatch.Task{Category: dispatch.CategoryAvatar, Prompt: "hello"}
	if Key(a) == Key(b) {
		t.Error("expected different keys for different categories")
	}
}

func TestKey_DifferentParamsDifferentKey(t *testing.T) {
	a := &dispatch.Task{Category: dispatch.CategoryGeneric, Prompt: "hello", MaxTokens: 100}
	b := &dispatch.Task{Category: dispatch.CategoryGeneric, Prompt: "hello", MaxTokens: 200}
	if Key(a) == Key(b) {
		t.Error("expected different keys for different max_tokens")
	}

	c := &dispatch.Task{Category: dispatch.CategorySearch, Prompt: "q", ResultCount: 5}
	d := &dispatch.Task{Category: dispatch.CategorySearch, Prompt: "q", ResultCount: 10}
	if Key(c) == Key(d) {
		t.Error("expected different keys for different result counts")
	}
}

// ---------------------------------------------------------------------------
// Cacheable tests
// ---------------------------------------------------------------------------

func TestCacheable(t *testing.T) {
	tests := []struct {
		name string
		task *dispatch.Task
		want bool
	}{
		{"nil task", nil, false},
		{"zero temperature generation", &dispatch.Task{Category: dispatch.CategoryGeneric}, true},
		{"nonzero temperature generation", &dispatch.Task{Category: dispatch.CategoryGeneric, Temperature: 0.7}, false},
		{"search always cacheable", &dispatch.Task{Category: dispatch.CategorySearch, Temperature: 0.9}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cacheable(tt.task); got != tt.want {
				t.Errorf("Cacheable: got %v, want %v", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Cache Get/Put tests
// ---------------------------------------------------------------------------

func newTestCache(t *testing.T, store Store, maxEntries int) *Cache {
	t.Helper()
	c, err := New(store, 3600, maxEntries, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func okResult(output, provider string) *dispatch.Result {
	return &dispatch.Result{Output: output, Provider: provider}
}

func TestCache_Miss(t *testing.T) {
	c := newTestCache(t, newMockStore(), 100)

	if entry := c.Get(genTask("hello")); entry != nil {
		t.Errorf("expected miss, got %+v", entry)
	}
}

func TestCache_PutThenGet(t *testing.T) {
	store := newMockStore()
	c := newTestCache(t, store, 100)

	task := genTask("hello")
	c.Put(task, okResult("a real answer", "gemini"))

	entry := c.Get(task)
	if entry == nil {
		t.Fatal("expected hit after Put")
	}
	if entry.Output != "a real answer" {
		t.Errorf("Output: got %q", entry.Output)
	}
	if entry.Provider != "gemini" {
		t.Errorf("Provider: got %q", entry.Provider)
	}

	// The entry should also reach the persistent store.
	if len(store.entries) != 1 {
		t.Errorf("expected 1 entry in store, got %d", len(store.entries))
	}
}

func TestCache_HitFromPersistentStore(t *testing.T) {
	store := newMockStore()
	c := newTestCache(t, store, 100)

	task := genTask("hello")
	key := Key(task)
	store.entries[key] = &Entry{
		Output:    "from store",
		Provider:  "groq",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}

	entry := c.Get(task)
	if entry == nil {
		t.Fatal("expected hit from persistent store")
	}
	if entry.Output != "from store" {
		t.Errorf("Output: got %q", entry.Output)
	}

	// After a persistent hit, the entry should be promoted to memory.
	if _, ok := c.memory.Get(key); !ok {
		t.Error("expected entry to be promoted to in-memory cache")
	}
}

func TestCache_DoesNotStoreDegradedResults(t *testing.T) {
	store := newMockStore()
	c := newTestCache(t, store, 100)

	task := genTask("hello")
	c.Put(task, &dispatch.Result{Output: "canned", Degraded: true})
	c.Put(task, &dispatch.Result{Output: "partial", Cancelled: true})

	if entry := c.Get(task); entry != nil {
		t.Errorf("degraded result must not be cached, got %+v", entry)
	}
	if len(store.entries) != 0 {
		t.Errorf("expected empty store, got %d entries", len(store.entries))
	}
}

func TestCache_DoesNotStoreNonDeterministic(t *testing.T) {
	store := newMockStore()
	c := newTestCache(t, store, 100)

	task := &dispatch.Task{Category: dispatch.CategoryGeneric, Prompt: "hi", Temperature: 0.8}
	c.Put(task, okResult("creative output", "gemini"))

	if entry := c.Get(task); entry != nil {
		t.Error("non-deterministic generation must not be cached")
	}
}

func TestCache_Disabled(t *testing.T) {
	c, err := New(newMockStore(), 3600, 100, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	task := genTask("hello")
	c.Put(task, okResult("answer", "gemini"))
	if entry := c.Get(task); entry != nil {
		t.Error("disabled cache must never hit")
	}
}

func TestCache_LRUEviction(t *testing.T) {
	store := newMockStore()
	c := newTestCache(t, store, 2)

	for _, prompt := range []string{"first", "second", "third"} {
		c.Put(genTask(prompt), okResult("out-"+prompt, "gemini"))
	}

	if c.memory.Len() != 2 {
		t.Errorf("expected 2 entries in LRU, got %d", c.memory.Len())
	}
	if _, ok := c.memory.Get(Key(genTask("first"))); ok {
		t.Error("expected 'first' to be evicted from LRU")
	}

	// Evicted entries still hit via the persistent store.
	if entry := c.Get(genTask("first")); entry == nil {
		t.Error("expected 'first' to survive in persistent store")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	store := newMockStore()
	c, err := New(store, 1, 100, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	task := genTask("ttl-test")
	c.Put(task, okResult("answer", "gemini"))

	if entry := c.Get(task); entry == nil {
		t.Fatal("expected hit before TTL expiry")
	}

	time.Sleep(1100 * time.Millisecond)

	if entry := c.Get(task); entry != nil {
		t.Error("expected miss after TTL expiry")
	}
}
