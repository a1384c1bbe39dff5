package semcache

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// embedDim is the fingerprint dimensionality. Small on purpose: the
// vectors live inline in cache entries and are compared linearly.
const embedDim = 256

// Embed maps text to a unit-length feature-hashed vector. Tokens are
// lowercased words plus their bigrams; each token hashes to one dimension
// with a sign bit, which keeps unrelated prompts near-orthogonal without
// any model dependency.
func Embed(text string) []float32 {
	vec := make([]float32, embedDim)
	words := fields(text)

	addToken := func(tok string) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		idx := sum % embedDim
		if sum&0x80000000 != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	for i, w := range words {
		addToken(w)
		if i > 0 {
			addToken(words[i-1] + " " + w)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// Cosine returns the cosine similarity of two equal-length unit vectors.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// fields splits text into lowercased alphanumeric words.
func fields(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
