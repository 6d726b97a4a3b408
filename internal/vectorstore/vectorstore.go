package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"documind/internal/embedding"
	"documind/internal/helper"
	"documind/internal/models"
)

// Backend persists embedding records. Insert assigns Seq to every record.
type Backend interface {
	Insert(ctx context.Context, records []models.Record) error
	Search(ctx context.Context, query []float32, topK int) ([]models.SearchResult, error)
	Count(ctx context.Context) (int, error)
	Sources(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
	Close() error
}

// Store embeds chunks and keeps them in an append-only backend.
type Store struct {
	embedder  embedding.Provider
	backend   Backend
	batchSize int

	// serialises writers; searches never see a partially applied Add
	mu sync.RWMutex
}

func New(embedder embedding.Provider, backend Backend, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Store{embedder: embedder, backend: backend, batchSize: batchSize}
}

// Degraded reports whether the store embeds with the offline fallback.
func (s *Store) Degraded() bool {
	return embedding.IsDegraded(s.embedder)
}

// Add embeds chunks in batches and appends one record per chunk. Nothing is
// written when any batch fails to embed.
func (s *Store) Add(ctx context.Context, chunks []models.Chunk) ([]models.Record, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	records := make([]models.Record, 0, len(chunks))
	for start := 0; start < len(chunks); start += s.batchSize {
		batch := chunks[start:min(start+s.batchSize, len(chunks))]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vectors, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("%w: received %d embeddings for %d chunks", models.ErrEmbeddingError, len(vectors), len(batch))
		}
		for i, c := range batch {
			id, err := helper.GenerateUUID()
			if err != nil {
				return nil, err
			}
			records = append(records, models.Record{ID: id, Embedding: vectors[i], Chunk: c})
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Insert(ctx, records); err != nil {
		return nil, err
	}
	log.Debug().Int("records", len(records)).Str("embedder", s.embedder.Name()).Msg("Added records to vector store")
	return records, nil
}

// Search embeds query and returns the topK most similar records, highest
// score first.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]models.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.Search(ctx, vector, topK)
}

func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.Count(ctx)
}

// Sources lists the IDs of the stored documents, sorted.
func (s *Store) Sources(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.Sources(ctx)
}

// Clear removes every record.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Clear(ctx); err != nil {
		return err
	}
	log.Info().Msg("Cleared vector store")
	return nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}
