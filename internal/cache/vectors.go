package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	stderrors "errors"
	"math"
	"strings"
	"time"

	"github.com/kyleking/sqlrag/internal/logging"
)

// VectorCache keys embeddings by provider identity and normalized text
type VectorCache struct {
	cache Cache
	ttl   time.Duration
}

// NewVectorCache wraps a byte cache. A zero ttl uses the cache default.
func NewVectorCache(c Cache, ttl time.Duration) *VectorCache {
	return &VectorCache{cache: c, ttl: ttl}
}

// VectorKey derives the cache key for text embedded by provider. Whitespace
// and case differences map to the same key.
func VectorKey(provider, text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(provider + "\x00" + normalized))

	return "vec:" + hex.EncodeToString(sum[:])
}

// Get returns the cached vector, or false on a miss or unreadable entry
func (v *VectorCache) Get(ctx context.Context, provider, text string) ([]float32, bool) {
	data, err := v.cache.Get(ctx, VectorKey(provider, text))
	if err != nil {
		if !stderrors.Is(err, ErrMiss) {
			logging.WithError(err).Debug("Embedding cache read failed")
		}

		return nil, false
	}

	vec, ok := decodeVector(data)
	if !ok {
		return nil, false
	}

	return vec, true
}

// Put stores a vector. Failures are logged and otherwise ignored since the
// cache is only an optimisation.
func (v *VectorCache) Put(ctx context.Context, provider, text string, vec []float32) {
	if err := v.cache.Set(ctx, VectorKey(provider, text), encodeVector(vec), v.ttl); err != nil {
		logging.WithError(err).Debug("Embedding cache write failed")
	}
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}

	return buf
}

func decodeVector(data []byte) ([]float32, bool) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, false
	}

	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}

	return vec, true
}
