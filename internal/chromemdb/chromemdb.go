package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"documind/internal/models"
)

// metadata keys of a stored chunk
const (
	metaSourceID = "source_id"
	metaFileType = "file_type"
	metaPageMin  = "page_min"
	metaPageMax  = "page_max"
	metaChunkID  = "chunk_id"
	metaOverlap  = "overlap"
	metaSeq      = "seq"
)

// sourcesSuffix names the companion collection holding one entry per stored
// source. chromem has no way to list documents.
const sourcesSuffix = "_sources"

// VectorDBManager encapsulates the chromem-go database operations. The
// database is opened on first use.
type VectorDBManager struct {
	mu             sync.RWMutex
	db             *chromem.DB
	collection     *chromem.Collection
	sources        *chromem.Collection
	dbPath         string
	collectionName string
	compress       bool
	inMemory       bool
}

// NewVectorDBManager returns a manager for collectionName persisted under
// dbPath. An empty dbPath keeps the collection in memory.
func NewVectorDBManager(dbPath, collectionName string, compress bool) *VectorDBManager {
	return &VectorDBManager{
		dbPath:         dbPath,
		collectionName: collectionName,
		compress:       compress,
		inMemory:       dbPath == "",
	}
}

// open lazily loads the database. Callers must hold mu for writing.
func (m *VectorDBManager) open() error {
	if m.collection != nil && m.sources != nil {
		return nil
	}
	if m.db == nil {
		if m.inMemory {
			m.db = chromem.NewDB()
		} else {
			db, err := chromem.NewPersistentDB(m.dbPath, m.compress)
			if err != nil {
				return fmt.Errorf("%w: failed to open database %s: %w", models.ErrStoreUnavailable, m.dbPath, err)
			}
			m.db = db
		}
	}
	c, err := m.db.GetOrCreateCollection(m.collectionName, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create/get collection: %w", models.ErrStoreUnavailable, err)
	}
	m.collection = c
	sources, err := m.db.GetOrCreateCollection(m.sourcesName(), nil, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create/get sources collection: %w", models.ErrStoreUnavailable, err)
	}
	m.sources = sources
	log.Debug().
		Str("path", m.dbPath).
		Str("collection", m.collectionName).
		Int("documents", c.Count()).
		Msg("Opened vector database")
	return nil
}

// collectionForRead opens the collection if needed and returns it with the
// read lock held. The caller must release it with mu.RUnlock.
func (m *VectorDBManager) collectionForRead() (*chromem.Collection, error) {
	m.mu.RLock()
	if m.collection != nil && m.sources != nil {
		return m.collection, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	err := m.open()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	if m.collection == nil || m.sources == nil {
		m.mu.RUnlock()
		return nil, fmt.Errorf("%w: collection %s is not open", models.ErrStoreUnavailable, m.collectionName)
	}
	return m.collection, nil
}

// Insert appends records, assigning each the next insertion sequence number.
func (m *VectorDBManager) Insert(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.open(); err != nil {
		return err
	}

	base := int64(m.collection.Count())
	docs := make([]chromem.Document, len(records))
	for i := range records {
		records[i].Seq = base + int64(i)
		docs[i] = chromem.Document{
			ID:        records[i].ID,
			Content:   records[i].Chunk.Content,
			Metadata:  createMetadata(records[i]),
			Embedding: records[i].Embedding,
		}
	}

	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("failed to add documents: %w", ctxErr)
		}
		return fmt.Errorf("%w: failed to add documents: %w", models.ErrStoreUnavailable, err)
	}
	return m.addSources(ctx, records)
}

// addSources records the source of every record. Re-adding a known source
// overwrites its entry.
func (m *VectorDBManager) addSources(ctx context.Context, records []models.Record) error {
	seen := make(map[string]struct{})
	var docs []chromem.Document
	for _, r := range records {
		if _, ok := seen[r.Chunk.SourceID]; ok {
			continue
		}
		seen[r.Chunk.SourceID] = struct{}{}
		docs = append(docs, chromem.Document{
			ID:        r.Chunk.SourceID,
			Content:   r.Chunk.SourceID,
			Metadata:  map[string]string{metaFileType: r.Chunk.FileType},
			Embedding: []float32{1},
		})
	}
	if err := m.sources.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("%w: failed to record sources: %w", models.ErrStoreUnavailable, err)
	}
	return nil
}

// Search returns the topK records most similar to query. Equal scores are
// ordered by insertion.
func (m *VectorDBManager) Search(ctx context.Context, query []float32, topK int) ([]models.SearchResult, error) {
	if len(query) == 0 {
		return nil, errors.New("query embedding must be provided")
	}
	c, err := m.collectionForRead()
	if err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	count := c.Count()
	if count == 0 || topK <= 0 {
		return nil, nil
	}
	// every document is scored so ties at the cut-off resolve by insertion
	res, err := c.QueryEmbedding(ctx, query, count, nil, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("failed to query by similarity: %w", ctxErr)
		}
		return nil, fmt.Errorf("%w: failed to query by similarity: %w", models.ErrStoreUnavailable, err)
	}

	results := make([]models.SearchResult, len(res))
	for i, r := range res {
		results[i] = toSearchResult(r)
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Seq < results[j].Seq
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *VectorDBManager) Count(ctx context.Context) (int, error) {
	c, err := m.collectionForRead()
	if err != nil {
		return 0, err
	}
	defer m.mu.RUnlock()
	return c.Count(), nil
}

// Sources lists the distinct source IDs of the stored records, sorted.
func (m *VectorDBManager) Sources(ctx context.Context) ([]string, error) {
	if _, err := m.collectionForRead(); err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()

	n := m.sources.Count()
	if n == 0 {
		return nil, nil
	}
	res, err := m.sources.QueryEmbedding(ctx, []float32{1}, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list sources: %w", models.ErrStoreUnavailable, err)
	}
	out := make([]string, len(res))
	for i, r := range res {
		out[i] = r.Content
	}
	sort.Strings(out)
	return out, nil
}

// Clear drops the collection and recreates it empty.
func (m *VectorDBManager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.open(); err != nil {
		return err
	}
	for _, name := range []string{m.collectionName, m.sourcesName()} {
		if err := m.db.DeleteCollection(name); err != nil {
			return fmt.Errorf("%w: failed to drop collection %s: %w", models.ErrStoreUnavailable, name, err)
		}
	}
	m.collection = nil
	m.sources = nil
	return m.open()
}

// Export writes the collection to filePath, encrypted when encryptionKey is
// set. chromem requires keys of 32 bytes.
func (m *VectorDBManager) Export(filePath, encryptionKey string) error {
	if filePath == "" {
		return errors.New("export path is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.open(); err != nil {
		return err
	}

	log.Debug().
		Str("collection", m.collectionName).
		Str("file", filePath).
		Bool("compress", m.compress).
		Bool("encrypted", encryptionKey != "").
		Msg("Exporting collection")
	if err := m.db.ExportToFile(filePath, m.compress, encryptionKey, m.collectionName, m.sourcesName()); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads the collection from a file written by Export.
func (m *VectorDBManager) Import(filePath, encryptionKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.open(); err != nil {
		return err
	}
	if err := m.db.ImportFromFile(filePath, encryptionKey, m.collectionName, m.sourcesName()); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	m.collection = m.db.GetCollection(m.collectionName, nil)
	m.sources = m.db.GetCollection(m.sourcesName(), nil)
	return m.open()
}

func (m *VectorDBManager) sourcesName() string { return m.collectionName + sourcesSuffix }

func (m *VectorDBManager) Close() error { return nil }

func createMetadata(r models.Record) map[string]string {
	meta := map[string]string{
		metaSourceID: r.Chunk.SourceID,
		metaFileType: r.Chunk.FileType,
		metaChunkID:  strconv.Itoa(r.Chunk.ChunkID),
		metaOverlap:  strconv.Itoa(r.Chunk.Overlap),
		metaSeq:      strconv.FormatInt(r.Seq, 10),
	}
	if r.Chunk.PageMin != nil {
		meta[metaPageMin] = strconv.Itoa(*r.Chunk.PageMin)
	}
	if r.Chunk.PageMax != nil {
		meta[metaPageMax] = strconv.Itoa(*r.Chunk.PageMax)
	}
	return meta
}

func toSearchResult(r chromem.Result) models.SearchResult {
	seq, _ := strconv.ParseInt(r.Metadata[metaSeq], 10, 64)
	chunkID, _ := strconv.Atoi(r.Metadata[metaChunkID])
	overlap, _ := strconv.Atoi(r.Metadata[metaOverlap])
	return models.SearchResult{
		ID:  r.ID,
		Seq: seq,
		Chunk: models.Chunk{
			Content:  r.Content,
			SourceID: r.Metadata[metaSourceID],
			FileType: r.Metadata[metaFileType],
			PageMin:  parsePage(r.Metadata[metaPageMin]),
			PageMax:  parsePage(r.Metadata[metaPageMax]),
			ChunkID:  chunkID,
			Overlap:  overlap,
		},
		Score: float64(r.Similarity),
	}
}

func parsePage(s string) *int {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}
