package dispatch

// Category identifies the kind of content a Task asks for. Callers attach
// it explicitly instead of the dispatcher sniffing keywords out of the
// prompt, so the degraded-response path operates on a closed set.
type Category string

const (
	// CategoryGeneric is free-form text generation.
	CategoryGeneric Category = "generic"
	// CategoryDrivers asks for a set of mental-driver definitions.
	CategoryDrivers Category = "drivers"
	// CategoryVisualProofs asks for visual-proof concepts.
	CategoryVisualProofs Category = "visual_proofs"
	// CategoryObjections asks for objection-handling scripts.
	CategoryObjections Category = "objections"
	// CategoryAvatar asks for an audience avatar profile.
	CategoryAvatar Category = "avatar"
	// CategorySearch is a web-search lookup rather than generation.
	CategorySearch Category = "search"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryGeneric, CategoryDrivers, CategoryVisualProofs,
		CategoryObjections, CategoryAvatar, CategorySearch:
		return true
	}
	return false
}

// Structured reports whether results for this category are expected to be
// JSON. The validator rejects non-JSON output for structured categories.
func (c Category) Structured() bool {
	switch c {
	case CategoryDrivers, CategoryVisualProofs, CategoryObjections,
		CategoryAvatar, CategorySearch:
		return true
	}
	return false
}

// Task is the request payload handed uniformly to whichever provider is
// invoked. It is immutable once created; the dispatcher never modifies it.
type Task struct {
	Category    Category
	Prompt      string
	MaxTokens   int
	Temperature float64
	// ResultCount is the number of results requested for search tasks.
	ResultCount int
}
