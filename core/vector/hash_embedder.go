package vector

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a local feature-hashing embedder: terms hash into a
// fixed-dimension bag-of-words vector, L2-normalized. It needs no model
// and never leaves the process, which makes it the offline fallback when no
// external embedding subsystem is wired in. Quality is well below a learned
// model; it exists so the engine runs end to end without one.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates an embedder producing dim-dimensional vectors.
// dim <= 0 selects 256.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{dim: dim}
}

// Embed hashes the text's terms into a normalized vector.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)

	terms := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, term := range terms {
		h := fnv.New32a()
		h.Write([]byte(term))
		vec[int(h.Sum32())%e.dim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}
