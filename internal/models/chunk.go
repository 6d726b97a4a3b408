package models

// Unit is one ordered piece of extracted text. Page is nil for sources
// without pagination.
type Unit struct {
	Text string
	Page *int
}

// Chunk represents a span of a source document with its metadata
type Chunk struct {
	Content  string
	SourceID string
	FileType string
	PageMin  *int
	PageMax  *int
	// ChunkID is the position of the chunk inside its source.
	ChunkID int
	// Overlap is the number of leading runes copied from the previous chunk.
	Overlap int
}

// Record is a persisted chunk with its embedding. Seq orders records by
// insertion.
type Record struct {
	ID        string
	Seq       int64
	Embedding []float32
	Chunk     Chunk
}

type SearchResult struct {
	ID    string
	Seq   int64
	Chunk Chunk
	Score float64
}

// SourceRef is a (filename, page) pair backing an answer.
type SourceRef struct {
	Filename string
	Page     *int
}

type PromptResponse struct {
	Query     string
	Content   string
	Sources   []SourceRef
	Citations []string
	// Fallback is set when the answer was produced without the chat model.
	Fallback bool
	// Degraded is set when retrieval ran on the offline embedder.
	Degraded bool
	Reason   error `json:"-"`
}

// Page returns a pointer to n.
func Page(n int) *int {
	return &n
}
