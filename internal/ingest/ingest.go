package ingest

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"documind/internal/models"
)

const (
	paragraphJoiner = "\n\n"
	rowJoiner       = "\n"
)

// Config controls chunking. ChunkSize and ChunkOverlap are counted in
// characters.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	MaxTableRows int
}

func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", models.ErrInvalidConfig, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", models.ErrInvalidConfig, c.ChunkSize, c.ChunkOverlap)
	}
	return nil
}

// Source is a document handed over by the extraction step.
type Source struct {
	ID string
	// FileType overrides the type derived from the extension of ID.
	FileType string
	Units    []models.Unit
}

type Result struct {
	SourceID string
	FileType string
	Chunks   []models.Chunk
	// Truncated is set when a tabular source had more than MaxTableRows rows.
	Truncated bool
	TotalRows int
	KeptRows  int
}

// DetectFileType resolves the file type of a source, preferring an explicit
// type over the extension.
func DetectFileType(sourceID, explicit string) (string, error) {
	ft := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(explicit), "."))
	if ft == "" {
		ft = strings.ToLower(strings.TrimPrefix(filepath.Ext(sourceID), "."))
	}
	if ft == "markdown" {
		ft = models.FileTypeMD
	}
	if !models.IsSupported(ft) {
		return "", fmt.Errorf("%w: %q (source %s)", models.ErrUnsupportedFormat, ft, sourceID)
	}
	return ft, nil
}

// Ingest normalises the units of src and splits them into chunks.
func Ingest(src Source, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fileType, err := DetectFileType(src.ID, src.FileType)
	if err != nil {
		return nil, err
	}

	res := &Result{SourceID: src.ID, FileType: fileType}
	units := normalizeUnits(src.Units)
	joiner := paragraphJoiner
	if models.IsTabular(fileType) {
		joiner = rowJoiner
		res.TotalRows = len(units)
		maxRows := cfg.MaxTableRows
		if maxRows <= 0 {
			maxRows = models.MaxTableRows
		}
		if len(units) > maxRows {
			units = units[:maxRows]
			res.Truncated = true
			log.Warn().
				Str("source_id", src.ID).
				Int("rows", res.TotalRows).
				Int("kept", maxRows).
				Msg("Tabular source truncated")
		}
		res.KeptRows = len(units)
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrEmptyDocument, src.ID)
	}

	text, unitSpans := joinUnits(units, joiner)
	for i, cs := range chunkSpans(text, cfg.ChunkSize, cfg.ChunkOverlap) {
		pageMin, pageMax := pageRange(units, unitSpans, cs.span)
		res.Chunks = append(res.Chunks, models.Chunk{
			Content:  string(text[cs.start:cs.end]),
			SourceID: src.ID,
			FileType: fileType,
			PageMin:  pageMin,
			PageMax:  pageMax,
			ChunkID:  i,
			Overlap:  cs.overlap,
		})
	}

	log.Debug().
		Str("source_id", src.ID).
		Str("file_type", fileType).
		Int("chars", len(text)).
		Int("chunks", len(res.Chunks)).
		Msg("Document chunked")
	return res, nil
}

// Normalize returns the text a source is chunked from.
func Normalize(units []models.Unit, fileType string) string {
	joiner := paragraphJoiner
	if models.IsTabular(fileType) {
		joiner = rowJoiner
	}
	text, _ := joinUnits(normalizeUnits(units), joiner)
	return string(text)
}

// Stitch rebuilds the normalised text of one source from its chunks by
// dropping each chunk's overlap prefix.
func Stitch(chunks []models.Chunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		runes := []rune(c.Content)
		sb.WriteString(string(runes[min(c.Overlap, len(runes)):]))
	}
	return sb.String()
}

func normalizeUnits(units []models.Unit) []models.Unit {
	out := make([]models.Unit, 0, len(units))
	for _, u := range units {
		text := strings.ReplaceAll(u.Text, "\r\n", "\n")
		text = strings.ReplaceAll(text, "\r", "\n")
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		out = append(out, models.Unit{Text: text, Page: u.Page})
	}
	return out
}

func joinUnits(units []models.Unit, joiner string) ([]rune, []span) {
	var text []rune
	spans := make([]span, len(units))
	for i, u := range units {
		if i > 0 {
			text = append(text, []rune(joiner)...)
		}
		start := len(text)
		text = append(text, []rune(u.Text)...)
		spans[i] = span{start, len(text)}
	}
	return text, spans
}

func pageRange(units []models.Unit, unitSpans []span, chunk span) (*int, *int) {
	var pageMin, pageMax *int
	for i, us := range unitSpans {
		if us.end <= chunk.start {
			continue
		}
		if us.start >= chunk.end {
			break
		}
		p := units[i].Page
		if p == nil {
			continue
		}
		if pageMin == nil || *p < *pageMin {
			pageMin = models.Page(*p)
		}
		if pageMax == nil || *p > *pageMax {
			pageMax = models.Page(*p)
		}
	}
	return pageMin, pageMax
}
