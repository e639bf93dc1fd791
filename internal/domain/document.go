package domain

// Document is a stored text fragment with its metadata. Documents are
// immutable once created; the vector store holding one owns it.
type Document struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Source     string         `json:"source,omitempty"`
	PageNumber int            `json:"page_number,omitempty"`
	ChunkIndex int            `json:"chunk_index,omitempty"`
}

// SearchResult is a document matched by a vector search, with its
// store-defined similarity score. RelevanceScore is an optional secondary
// score set by retrieval strategies that re-rank.
type SearchResult struct {
	Document       Document `json:"document"`
	Score          float64  `json:"score"`
	RelevanceScore float64  `json:"relevance_score,omitempty"`
}

// MatchesFilter reports whether every key in filter is present in meta with
// an equal value. A nil or empty filter matches everything.
func MatchesFilter(meta, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}
