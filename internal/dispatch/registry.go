package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// DefaultMaxFailures is the consecutive-failure threshold after which a
// provider is disabled, used when a registration does not set its own.
const DefaultMaxFailures = 2

// ErrDuplicateProvider is returned by Register when a provider with the
// same name already exists.
var ErrDuplicateProvider = errors.New("dispatch: provider already registered")

// Invoker is the capability every concrete backend implements. Invoke may
// take arbitrarily long; implementations are expected to honour the context
// and apply their own per-call timeout.
type Invoker interface {
	Name() string
	Invoke(ctx context.Context, task *Task) (string, error)
}

// ProviderState is a point-in-time snapshot of one provider's health.
type ProviderState struct {
	Name                string `json:"name"`
	Priority            int    `json:"priority"`
	Available           bool   `json:"available"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	MaxFailures         int    `json:"max_failures"`
	LastError           string `json:"last_error,omitempty"`
}

// providerEntry is the registry's mutable record for one provider.
type providerEntry struct {
	invoker     Invoker
	priority    int
	maxFailures int
	available   bool
	failures    int
	lastError   string
	seq         int // registration order, breaks priority ties
}

// Registry owns the set of named providers and their health counters.
// Providers are created once at startup and never removed; crossing the
// failure threshold disables a provider until an explicit Reset.
//
// All mutation happens under a single mutex because failure counters are
// shared across concurrent dispatch calls.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*providerEntry
	nextSeq int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*providerEntry)}
}

// Register adds a provider with the given priority (lower = tried first)
// and failure threshold. A maxFailures of zero or less uses
// DefaultMaxFailures. Registering a name twice returns ErrDuplicateProvider.
func (r *Registry) Register(inv Invoker, priority, maxFailures int) error {
	if inv == nil {
		return errors.New("dispatch: nil invoker")
	}
	name := inv.Name()
	if name == "" {
		return errors.New("dispatch: provider name must not be empty")
	}
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateProvider, name)
	}
	r.entries[name] = &providerEntry{
		invoker:     inv,
		priority:    priority,
		maxFailures: maxFailures,
		available:   true,
		seq:         r.nextSeq,
	}
	r.nextSeq++
	return nil
}

// Ordered returns the registered invokers sorted ascending by priority.
// Ties are broken by registration order, which keeps dispatch order
// deterministic.
func (r *Registry) Ordered() []Invoker {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]*providerEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})

	out := make([]Invoker, len(entries))
	for i, e := range entries {
		out[i] = e.invoker
	}
	return out
}

// Available reports whether the named provider is currently eligible for
// dispatch. Unknown names are not available.
func (r *Registry) Available(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	return ok && e.available
}

// MarkSuccess resets the consecutive-failure counter for the named
// provider. Unknown names are a no-op, not an error.
func (r *Registry) MarkSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[name]; ok {
		e.failures = 0
	}
}

// MarkFailure increments the consecutive-failure counter for the named
// provider, disabling it when the threshold is reached, and returns the
// updated count. Unknown names return 0.
func (r *Registry) MarkFailure(name string, cause error) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return 0
	}
	e.failures++
	if cause != nil {
		e.lastError = cause.Error()
	}
	if e.failures >= e.maxFailures {
		e.available = false
	}
	return e.failures
}

// Reset re-enables a disabled provider and clears its failure counter.
// Disablement is otherwise permanent for the process lifetime; there is no
// automatic time-based recovery. Returns false for unknown names.
func (r *Registry) Reset(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return false
	}
	e.available = true
	e.failures = 0
	e.lastError = ""
	return true
}

// State returns the snapshot for a single provider.
func (r *Registry) State(name string) (ProviderState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return ProviderState{}, false
	}
	return snapshotEntry(name, e), true
}

// Snapshot returns the state of every provider in dispatch order.
func (r *Registry) Snapshot() []ProviderState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ProviderState, 0, len(r.entries))
	seqs := make(map[string]int, len(r.entries))
	for name, e := range r.entries {
		out = append(out, snapshotEntry(name, e))
		seqs[name] = e.seq
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return seqs[out[i].Name] < seqs[out[j].Name]
	})
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func snapshotEntry(name string, e *providerEntry) ProviderState {
	return ProviderState{
		Name:                name,
		Priority:            e.priority,
		Available:           e.available,
		ConsecutiveFailures: e.failures,
		MaxFailures:         e.maxFailures,
		LastError:           e.lastError,
	}
}
