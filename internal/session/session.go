package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"documind/internal/chromemdb"
	"documind/internal/config"
	"documind/internal/db"
	"documind/internal/embedding"
	"documind/internal/ingest"
	"documind/internal/llmservice"
	"documind/internal/models"
	"documind/internal/parser"
	"documind/internal/rag"
	"documind/internal/vectorstore"
)

// Turn is one answered question.
type Turn struct {
	Question string
	Response *models.PromptResponse
	At       time.Time
}

// DocumentResult is the outcome of ingesting one document of a batch.
type DocumentResult struct {
	SourceID string
	Result   *ingest.Result
	Records  int
	Err      error
}

// Session owns the live store, orchestrator and conversation history.
type Session struct {
	cfg     *config.Config
	backend vectorstore.Backend
	store   *vectorstore.Store
	rag     *rag.RAG

	mu      sync.Mutex
	history []Turn
}

// Open builds the providers and backend selected by cfg. A chat provider that
// cannot be built does not prevent ingestion; queries that need it fail with
// models.ErrModelUnavailable.
func Open(ctx context.Context, cfg *config.Config) (*Session, error) {
	embedder, err := embedding.New(ctx, &cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}

	backend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}

	var chat llmservice.ChatProvider
	client, err := llmservice.New(&cfg.ChatLLM)
	if err != nil {
		log.Warn().Err(err).Str("provider", cfg.ChatLLM.Provider).Msg("Chat provider unavailable")
		chat = unavailableChat{err: err}
	} else {
		chat = client
	}

	store := vectorstore.New(embedder, backend, cfg.EmbedLLM.BatchSize)
	return New(cfg, backend, store, chat), nil
}

func openBackend(cfg *config.Config) (vectorstore.Backend, error) {
	switch cfg.VectorDB.Backend {
	case config.BackendPostgres:
		bunDB := db.NewDB(db.ConnectDB(&cfg.Database), cfg.Database.Debug)
		return db.NewStore(bunDB, cfg.EmbedLLM.Dimension), nil
	case config.BackendChromem:
		return chromemdb.NewVectorDBManager(cfg.VectorDB.Path, cfg.VectorDB.Collection, cfg.VectorDB.Compress), nil
	default:
		return nil, fmt.Errorf("%w: unknown vector backend %q", models.ErrInvalidConfig, cfg.VectorDB.Backend)
	}
}

// New assembles a session from already built parts.
func New(cfg *config.Config, backend vectorstore.Backend, store *vectorstore.Store, chat llmservice.ChatProvider) *Session {
	return &Session{
		cfg:     cfg,
		backend: backend,
		store:   store,
		rag:     rag.NewRAG(store, chat, &cfg.RAG),
	}
}

func (s *Session) ingestConfig() ingest.Config {
	return ingest.Config{
		ChunkSize:    s.cfg.RAG.ChunkSize,
		ChunkOverlap: s.cfg.RAG.ChunkOverlap,
		MaxTableRows: s.cfg.RAG.MaxTableRows,
	}
}

// Ingest chunks doc and adds the chunks to the store.
func (s *Session) Ingest(ctx context.Context, doc parser.Document) (*ingest.Result, error) {
	res, err := ingest.Ingest(ingest.Source{ID: doc.SourceID, FileType: doc.FileType, Units: doc.Units}, s.ingestConfig())
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Add(ctx, res.Chunks); err != nil {
		return nil, fmt.Errorf("ingest %s: %w", doc.SourceID, err)
	}
	log.Info().
		Str("source_id", res.SourceID).
		Int("chunks", len(res.Chunks)).
		Bool("truncated", res.Truncated).
		Msg("Ingested document")
	return res, nil
}

// IngestBatch ingests every document independently; a failing document does
// not stop the others.
func (s *Session) IngestBatch(ctx context.Context, docs []parser.Document) []DocumentResult {
	out := make([]DocumentResult, 0, len(docs))
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			out = append(out, DocumentResult{SourceID: doc.SourceID, Err: err})
			continue
		}
		res, err := s.Ingest(ctx, doc)
		dr := DocumentResult{SourceID: doc.SourceID, Result: res, Err: err}
		if res != nil {
			dr.Records = len(res.Chunks)
		}
		if err != nil {
			log.Error().Err(err).Str("source_id", doc.SourceID).Msg("Error ingesting document")
		}
		out = append(out, dr)
	}
	return out
}

// IngestFiles extracts and ingests each path, reporting one result per path.
func (s *Session) IngestFiles(ctx context.Context, paths []string) []DocumentResult {
	out := make([]DocumentResult, 0, len(paths))
	for _, path := range paths {
		doc, err := parser.Extract(path)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Error parsing document")
			out = append(out, DocumentResult{SourceID: path, Err: err})
			continue
		}
		out = append(out, s.IngestBatch(ctx, []parser.Document{*doc})...)
	}
	return out
}

// Query answers question and records the turn in the history.
func (s *Session) Query(ctx context.Context, question string, topK int) (*models.PromptResponse, error) {
	res, err := s.rag.Query(ctx, question, topK)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.history = append(s.history, Turn{Question: question, Response: res, At: time.Now()})
	s.mu.Unlock()
	return res, nil
}

// History returns a copy of the answered turns, oldest first.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.history...)
}

// Clear empties the store and the history.
func (s *Session) Clear(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
	return nil
}

func (s *Session) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// Sources lists the documents currently in the store.
func (s *Session) Sources(ctx context.Context) ([]string, error) {
	return s.store.Sources(ctx)
}

// Export snapshots the collection to filePath. Only the chromem backend
// supports it.
func (s *Session) Export(filePath, encryptionKey string) error {
	m, ok := s.backend.(*chromemdb.VectorDBManager)
	if !ok {
		return errors.New("export is only supported by the chromem backend")
	}
	return m.Export(filePath, encryptionKey)
}

// Import replaces the collection with a snapshot written by Export.
func (s *Session) Import(filePath, encryptionKey string) error {
	m, ok := s.backend.(*chromemdb.VectorDBManager)
	if !ok {
		return errors.New("import is only supported by the chromem backend")
	}
	return m.Import(filePath, encryptionKey)
}

func (s *Session) Close() error {
	return s.store.Close()
}

type unavailableChat struct {
	err error
}

func (u unavailableChat) Complete(context.Context, string, string) (string, error) {
	return "", u.err
}

func (u unavailableChat) Name() string { return "unavailable" }
