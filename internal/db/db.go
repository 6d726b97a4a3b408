package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"documind/internal/config"
	"documind/internal/models"
)

// Document is one stored chunk. Seq is assigned by the database and orders
// rows by insertion.
type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	Seq           int64   `bun:"seq,pk,autoincrement"`
	ID            string  `bun:"id,notnull,unique"`
	Content       string  `bun:"content,notnull"`
	SourceID      string  `bun:"source_id,notnull"`
	FileType      string  `bun:"file_type,notnull"`
	PageMin       *int    `bun:"page_min"`
	PageMax       *int    `bun:"page_max"`
	ChunkID       int     `bun:"chunk_id,notnull"`
	Overlap       int     `bun:"overlap,notnull"`
	Embedding     Vector  `bun:"embedding,notnull,type:vector"`
	Score         float64 `bun:"score,scanonly"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(cfg *config.DatabaseConfig) *sql.DB {
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...))
}

// Store keeps records in a pgvector table. The extension and table are
// created on first use.
type Store struct {
	db        *bun.DB
	dimension int

	mu    sync.Mutex
	ready bool
}

func NewStore(db *bun.DB, dimension int) *Store {
	return &Store{db: db, dimension: dimension}
}

func (s *Store) ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if err := InitDB(ctx, s.db); err != nil {
		return fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err)
	}
	s.ready = true
	return nil
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]Document, len(records))
	for i, r := range records {
		if s.dimension > 0 && len(r.Embedding) != s.dimension {
			return fmt.Errorf("%w: embedding has %d dimensions, store expects %d", models.ErrEmbeddingError, len(r.Embedding), s.dimension)
		}
		docs[i] = fromRecord(r)
	}
	if err := s.ensure(ctx); err != nil {
		return err
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(&docs).Returning("seq").Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: failed to store documents: %w", models.ErrStoreUnavailable, err)
	}
	for i := range records {
		records[i].Seq = docs[i].Seq
	}
	log.Debug().Int("documents", len(docs)).Msg("Stored documents")
	return nil
}

// Search ranks rows by cosine distance, breaking ties by insertion order.
func (s *Store) Search(ctx context.Context, query []float32, topK int) ([]models.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	vec := Vector(query)
	var docs []Document
	err := s.db.NewSelect().
		Model(&docs).
		ColumnExpr("d.*").
		ColumnExpr("1 - (d.embedding <=> ?::vector) AS score", vec).
		OrderExpr("d.embedding <=> ?::vector ASC", vec).
		OrderExpr("d.seq ASC").
		Limit(topK).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to search documents: %w", models.ErrStoreUnavailable, err)
	}
	results := make([]models.SearchResult, len(docs))
	for i, d := range docs {
		results[i] = d.toSearchResult()
	}
	return results, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.ensure(ctx); err != nil {
		return 0, err
	}
	n, err := s.db.NewSelect().Model((*Document)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count documents: %w", models.ErrStoreUnavailable, err)
	}
	return n, nil
}

// Sources lists the distinct source IDs of the stored rows, sorted.
func (s *Store) Sources(ctx context.Context) ([]string, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	var sources []string
	if err := s.sourcesQuery().Scan(ctx, &sources); err != nil {
		return nil, fmt.Errorf("%w: failed to list sources: %w", models.ErrStoreUnavailable, err)
	}
	return sources, nil
}

func (s *Store) sourcesQuery() *bun.SelectQuery {
	return s.db.NewSelect().
		Model((*Document)(nil)).
		Distinct().
		Column("source_id").
		OrderExpr("d.source_id ASC")
}

// Clear removes every row. The sequence keeps counting so insertion order
// stays monotonic.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.ensure(ctx); err != nil {
		return err
	}
	if _, err := s.db.NewTruncateTable().Model((*Document)(nil)).Exec(ctx); err != nil {
		return fmt.Errorf("%w: failed to clear documents: %w", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func fromRecord(r models.Record) Document {
	return Document{
		ID:        r.ID,
		Content:   r.Chunk.Content,
		SourceID:  r.Chunk.SourceID,
		FileType:  r.Chunk.FileType,
		PageMin:   r.Chunk.PageMin,
		PageMax:   r.Chunk.PageMax,
		ChunkID:   r.Chunk.ChunkID,
		Overlap:   r.Chunk.Overlap,
		Embedding: Vector(r.Embedding),
	}
}

func (d Document) toSearchResult() models.SearchResult {
	return models.SearchResult{
		ID:  d.ID,
		Seq: d.Seq,
		Chunk: models.Chunk{
			Content:  d.Content,
			SourceID: d.SourceID,
			FileType: d.FileType,
			PageMin:  d.PageMin,
			PageMax:  d.PageMax,
			ChunkID:  d.ChunkID,
			Overlap:  d.Overlap,
		},
		Score: d.Score,
	}
}
