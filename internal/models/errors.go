package models

import "errors"

var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidTopK       = errors.New("top_k out of range")
	ErrParseFailure      = errors.New("failed to extract document text")
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrEmptyDocument     = errors.New("document contains no text")
	ErrEmbeddingError    = errors.New("embedding capability failed")
	ErrStoreUnavailable  = errors.New("vector store unavailable")
	ErrModelUnavailable  = errors.New("chat model unavailable")
	ErrTimeout           = errors.New("operation timed out")
	// ErrNoRelevantContext marks a fallback answer. It is attached to the
	// answer, never returned.
	ErrNoRelevantContext = errors.New("no relevant context in the provided documents")
)
