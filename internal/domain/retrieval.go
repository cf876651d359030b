package domain

import "context"

// Fragment is one indexed documentation chunk returned by similarity search.
// Fragments are ephemeral: produced per query, never persisted past the turn.
type Fragment struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float32 `json:"score,omitempty"`
}

// RetrievalResult pairs a generated answer with the fragments it drew on.
type RetrievalResult struct {
	Answer  string      `json:"answer"`
	Sources []SourceRef `json:"sources"`
}

// FragmentIndex is the query-time port to the pre-built similarity index.
type FragmentIndex interface {
	// Search returns up to limit fragments ranked by similarity to the query.
	Search(ctx context.Context, query string, limit int) ([]Fragment, error)
	// Ready reports whether the index loaded and contains at least one fragment.
	Ready() bool
}
