// Package hash provides a deterministic fallback embedder.
//
// It derives vectors from a SHA-384 digest of the lowercased text, so
// identical input always yields an identical vector. This gives exact-match
// retrieval (similarity 1.0 for the same text) without any model dependency;
// it carries no semantic signal between different texts.
package hash

import (
	"context"
	"crypto/sha512"
	"strings"
)

// DefaultDimensions matches the all-MiniLM-L6-v2 output size so the fallback
// is interchangeable with the model-backed embedders.
const DefaultDimensions = 384

// Embedder is the deterministic hash-based embedding strategy.
type Embedder struct {
	dims int
}

// New creates a hash embedder producing vectors of the given dimension.
// A non-positive dimension falls back to DefaultDimensions.
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Embedder{dims: dims}
}

// Embed returns the deterministic vector for the text. The empty string is
// valid input.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

// EmbedBatch embeds each text independently; the strategy has no batching
// overhead to amortize.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dims
}

func (e *Embedder) vector(text string) []float32 {
	digest := sha512.Sum384([]byte(strings.ToLower(text)))
	n := len(digest)

	vec := make([]float32, e.dims)
	for i := range vec {
		if i < n {
			// Each digest byte maps to [-1, 1).
			vec[i] = (float32(digest[i]) - 128) / 128
			continue
		}
		// Beyond the digest, extend deterministically: reuse the digest
		// byte at i mod n, offset by the running index, same rescale.
		v := (float32(digest[i%n]) - 128 + float32(i)) / 128
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		vec[i] = v
	}
	return vec
}
