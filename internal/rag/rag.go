package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"documind/internal/citation"
	"documind/internal/config"
	"documind/internal/ingest"
	"documind/internal/llmservice"
	"documind/internal/models"
)

var ErrEmptyQuestion = errors.New("question must not be empty")

// Retriever finds the chunks most similar to a query.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]models.SearchResult, error)
}

type RAG struct {
	store           Retriever
	chat            llmservice.ChatProvider
	minScore        float64
	maxContextChars int
}

func NewRAG(store Retriever, chat llmservice.ChatProvider, cfg *config.RAGConfig) *RAG {
	return &RAG{
		store:           store,
		chat:            chat,
		minScore:        cfg.MinScore,
		maxContextChars: cfg.MaxContextChars,
	}
}

// Query answers question from the topK most similar chunks. When no chunk
// scores at least the configured minimum the fixed fallback answer is
// returned and the chat model is not called.
func (r *RAG) Query(ctx context.Context, question string, topK int) (*models.PromptResponse, error) {
	if topK < models.MinTopK || topK > models.MaxTopK {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", models.ErrInvalidTopK, topK, models.MinTopK, models.MaxTopK)
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	response := &models.PromptResponse{Query: question, Degraded: isDegraded(r.store)}

	results, err := r.store.Search(ctx, question, topK)
	if err != nil {
		return nil, err
	}
	var relevant []models.SearchResult
	for _, res := range results {
		if res.Score >= r.minScore {
			relevant = append(relevant, res)
		}
	}
	log.Debug().
		Int("retrieved", len(results)).
		Int("relevant", len(relevant)).
		Float64("min_score", r.minScore).
		Msg("Retrieved chunks")

	if len(relevant) == 0 {
		response.Content = models.FallbackAnswer
		response.Fallback = true
		response.Reason = models.ErrNoRelevantContext
		return response, nil
	}

	included, contextText := r.buildContext(relevant)
	prompt := fmt.Sprintf(models.QueryPromptTemplate, contextText, question)

	answer, err := r.chat.Complete(ctx, models.SystemPrompt, prompt)
	if err != nil {
		if !errors.Is(err, models.ErrModelUnavailable) {
			err = fmt.Errorf("%w: %w", models.ErrModelUnavailable, err)
		}
		return nil, err
	}

	response.Content = answer
	response.Sources = SourceRefs(included)
	response.Citations = citation.Format(response.Sources)
	return response, nil
}

// buildContext keeps chunks in rank order while they fit the character
// budget. The best chunk is always kept, truncated if it alone exceeds the
// budget.
func (r *RAG) buildContext(results []models.SearchResult) ([]models.Chunk, string) {
	var (
		included []models.Chunk
		blocks   []string
		used     int
	)
	for i, res := range results {
		block := formatBlock(res.Chunk)
		size := ingest.RuneLen(block)
		if i > 0 {
			size += ingest.RuneLen(models.ContextSeparator)
		}
		if r.maxContextChars > 0 && used+size > r.maxContextChars {
			if i > 0 {
				log.Debug().Int("dropped", len(results)-i).Int("budget", r.maxContextChars).Msg("Context budget reached")
				break
			}
			block = string([]rune(block)[:r.maxContextChars])
			size = r.maxContextChars
		}
		included = append(included, res.Chunk)
		blocks = append(blocks, block)
		used += size
	}
	return included, strings.Join(blocks, models.ContextSeparator)
}

func formatBlock(c models.Chunk) string {
	header := "[Source: " + c.SourceID
	if c.PageMin != nil {
		pageMax := *c.PageMin
		if c.PageMax != nil {
			pageMax = *c.PageMax
		}
		if pageMax == *c.PageMin {
			header += fmt.Sprintf(", Page %d", pageMax)
		} else {
			header += fmt.Sprintf(", Pages %d-%d", *c.PageMin, pageMax)
		}
	}
	return header + "]\n" + c.Content
}

// SourceRefs lists the (file, page) pairs covered by chunks, without
// duplicates, in order of first appearance.
func SourceRefs(chunks []models.Chunk) []models.SourceRef {
	type key struct {
		file string
		page int
	}
	seen := make(map[key]struct{})
	var out []models.SourceRef
	add := func(file string, page *int) {
		k := key{file: file, page: -1}
		if page != nil {
			k.page = *page
		}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, models.SourceRef{Filename: file, Page: page})
	}
	for _, c := range chunks {
		if c.PageMin == nil {
			add(c.SourceID, nil)
			continue
		}
		pageMax := *c.PageMin
		if c.PageMax != nil {
			pageMax = *c.PageMax
		}
		for p := *c.PageMin; p <= pageMax; p++ {
			add(c.SourceID, models.Page(p))
		}
	}
	return out
}

func isDegraded(store Retriever) bool {
	d, ok := store.(interface{ Degraded() bool })
	return ok && d.Degraded()
}
