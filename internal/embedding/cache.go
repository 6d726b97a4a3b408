package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached memoises embeddings by text content.
type Cached struct {
	Provider
	cache *lru.Cache[string, []float32]
}

func NewCached(p Provider, size int) (*Cached, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}
	return &Cached{Provider: p, cache: cache}, nil
}

func (c *Cached) Degraded() bool { return IsDegraded(c.Provider) }

func (c *Cached) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if v, ok := c.cache.Get(key); ok {
		return cloneVector(v), nil
	}
	v, err := c.Provider.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cloneVector(v))
	return v, nil
}

func (c *Cached) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	missing := make(map[string][]int)
	var order []string
	for i, text := range texts {
		if v, ok := c.cache.Get(cacheKey(text)); ok {
			results[i] = cloneVector(v)
			continue
		}
		if _, seen := missing[text]; !seen {
			order = append(order, text)
		}
		missing[text] = append(missing[text], i)
	}
	if len(order) == 0 {
		return results, nil
	}

	embedded, err := c.Provider.EmbedDocuments(ctx, order)
	if err != nil {
		return nil, err
	}
	for i, text := range order {
		for _, idx := range missing[text] {
			results[idx] = cloneVector(embedded[i])
		}
		c.cache.Add(cacheKey(text), cloneVector(embedded[i]))
	}
	return results, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(src []float32) []float32 {
	if len(src) == 0 {
		return nil
	}
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}
