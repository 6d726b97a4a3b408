package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

const defaultHashDimension = 1024

var tokenRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {},
	"that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "what": {}, "which": {},
	"with": {}, "how": {}, "who": {}, "does": {}, "do": {},
}

// HashEmbedder is a deterministic feature-hashing embedder that needs no
// network. Vectors are L2 normalised, so dot products are cosine
// similarities.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = defaultHashDimension
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Name() string   { return "offline" }
func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, WrapError(ctx, err)
		}
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, WrapError(ctx, err)
	}
	return h.embed(text), nil
}

func (h *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, h.dim)
	for _, tok := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		if _, skip := stopwords[tok]; skip {
			continue
		}
		hs := fnv.New64a()
		_, _ = hs.Write([]byte(tok))
		sum := hs.Sum64()
		idx := int(sum % uint64(h.dim))
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// keep the vector normalisable for texts without tokens
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
