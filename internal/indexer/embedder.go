package indexer

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Embedder turns a document's index tokens into its feature vector.
type Embedder interface {
	Name() string
	// Dimension is the fixed vector length, or 0 when it varies per document.
	Dimension() int
	Embed(tokens []string) []float64
}

// RandomEmbedder emits one uniform [0,1) component per token. The vectors are
// placeholders: they carry no meaning and differ between builds unless the
// seed is fixed.
type RandomEmbedder struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomEmbedder seeds from the clock when seed is 0.
func NewRandomEmbedder(seed int64) *RandomEmbedder {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomEmbedder{rng: rand.New(rand.NewSource(seed))}
}

func (e *RandomEmbedder) Name() string   { return "random" }
func (e *RandomEmbedder) Dimension() int { return 0 }

func (e *RandomEmbedder) Embed(tokens []string) []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	vec := make([]float64, len(tokens))
	for i := range vec {
		vec[i] = e.rng.Float64()
	}
	return vec
}

// HashingEmbedder is a bag-of-words vector of fixed dimension: each token
// increments the bucket its xxhash falls into, and the result is
// L2-normalised. Every document gets the same dimensionality regardless of
// its length, so vectors compare component-wise.
type HashingEmbedder struct {
	dim int
}

func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashingEmbedder{dim: dim}
}

func (e *HashingEmbedder) Name() string   { return "hashed" }
func (e *HashingEmbedder) Dimension() int { return e.dim }

func (e *HashingEmbedder) Embed(tokens []string) []float64 {
	vec := make([]float64, e.dim)
	for _, tok := range tokens {
		vec[xxhash.Sum64String(tok)%uint64(e.dim)]++
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}
