package embedding

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const trigramWeight = 0.5

// HashProvider embeds text locally with signed feature hashing over words and
// character trigrams. It needs no network and is deterministic, which makes it
// the default for offline use and tests.
type HashProvider struct {
	dimensions int
}

// NewHashProvider creates a feature-hashing provider with the given dimensionality
func NewHashProvider(dimensions int) *HashProvider {
	if dimensions <= 0 {
		dimensions = DefaultHashDimensions
	}

	return &HashProvider{dimensions: dimensions}
}

// GenerateEmbedding returns an L2-normalized hashed feature vector
func (p *HashProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, p.dimensions)

	for _, token := range Tokenize(text) {
		p.add(vec, "w:"+token, 1)

		padded := "^" + token + "$"
		for i := 0; i+3 <= len(padded); i++ {
			p.add(vec, "t:"+padded[i:i+3], trigramWeight)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}

	out := make([]float32, p.dimensions)
	if norm == 0 {
		return out, nil
	}

	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}

	return out, nil
}

func (p *HashProvider) add(vec []float64, feature string, weight float64) {
	h := xxhash.Sum64String(feature)
	idx := h % uint64(p.dimensions)

	if h&(1<<63) != 0 {
		weight = -weight
	}

	vec[idx] += weight
}

// GetDimensions returns the vector length
func (p *HashProvider) GetDimensions() int {
	return p.dimensions
}

// IsEnabled is always true for the local provider
func (p *HashProvider) IsEnabled() bool {
	return true
}

// GetName returns the provider name
func (p *HashProvider) GetName() string {
	return "hash:xxhash-features"
}

// Tokenize lowercases text and splits it into word tokens. Identifiers such as
// customer_id yield both the whole identifier and its parts, and a trailing
// plural "s" is dropped so "orders" and "order" share a feature.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	tokens := make([]string, 0, len(fields)*2)

	for _, f := range fields {
		f = strings.Trim(f, "_")
		if f == "" {
			continue
		}

		tokens = append(tokens, stem(f))

		if strings.Contains(f, "_") {
			for _, part := range strings.Split(f, "_") {
				if part != "" {
					tokens = append(tokens, stem(part))
				}
			}
		}
	}

	return tokens
}

func stem(token string) string {
	if len(token) > 3 && strings.HasSuffix(token, "s") && !strings.HasSuffix(token, "ss") {
		return token[:len(token)-1]
	}

	return token
}
