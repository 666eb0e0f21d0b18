package discovery

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder turns text into a fixed-dimension vector. Implementations must be
// deterministic: identical input yields an identical vector, so re-indexing
// an unchanged catalog rewrites identical embedding files.
type Embedder interface {
	// Embed returns an L2-normalised vector, or nil if the model is
	// unavailable (callers then fall back to keyword ranking).
	Embed(text string) ([]float32, error)
	Dimensions() int
	// Version identifies the model; a change invalidates the embedding store.
	Version() string
}

const hashingDimensions = 384

// HashingEmbedder is the built-in embedding model: feature hashing of
// unigrams and bigrams into a 384-dimension vector, L2-normalised. It has no
// external weights, loads instantly, and is fully deterministic, which makes
// it the default; a real sentence-transformer can be swapped in behind the
// same interface.
type HashingEmbedder struct{}

// NewHashingEmbedder returns the default embedding model.
func NewHashingEmbedder() *HashingEmbedder {
	return &HashingEmbedder{}
}

func (e *HashingEmbedder) Dimensions() int { return hashingDimensions }

func (e *HashingEmbedder) Version() string { return "feature-hash-v1-384" }

// Embed hashes each token (and each adjacent bigram, at half weight) into a
// bucket with a signed contribution, then normalises.
func (e *HashingEmbedder) Embed(text string) ([]float32, error) {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return make([]float32, hashingDimensions), nil
	}

	vec := make([]float32, hashingDimensions)
	for _, tok := range tokens {
		addFeature(vec, tok, 1.0)
	}
	for i := 0; i+1 < len(tokens); i++ {
		addFeature(vec, tokens[i]+"_"+tokens[i+1], 0.5)
	}

	normalize(vec)
	return vec, nil
}

func addFeature(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(len(vec)))
	sign := float32(1)
	if (sum>>32)&1 == 1 {
		sign = -1
	}
	vec[idx] += sign * weight
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}

// Cosine computes cosine similarity of two normalised vectors. Mismatched
// or empty vectors score zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// Tokenize lowercases and splits on non-alphanumeric runes, splitting
// snake_case and keeping digits.
func Tokenize(text string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}
