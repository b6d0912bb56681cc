package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, maxSizeMB int) *FileCache {
	t.Helper()

	c, err := NewFileCache(t.TempDir(), maxSizeMB, time.Hour, 0)
	require.NoError(t, err)

	t.Cleanup(func() { _ = c.Close() })

	return c
}

func TestFileCache_BasicOperations(t *testing.T) {
	c := newTestCache(t, 10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "test-key", []byte("test data"), time.Hour))

	retrieved, err := c.Get(ctx, "test-key")
	require.NoError(t, err)
	assert.Equal(t, "test data", string(retrieved))

	require.NoError(t, c.Delete(ctx, "test-key"))

	_, err = c.Get(ctx, "test-key")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestFileCache_TTL(t *testing.T) {
	c := newTestCache(t, 10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ttl-test", []byte("ttl test data"), 100*time.Millisecond))

	_, err := c.Get(ctx, "ttl-test")
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)

	_, err = c.Get(ctx, "ttl-test")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestFileCache_SizeLimit(t *testing.T) {
	c := newTestCache(t, 1)
	ctx := context.Background()

	largeData := make([]byte, 512*1024)
	for i := range largeData {
		largeData[i] = byte(i % 256)
	}

	for i := range 3 {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("large%d", i), largeData, time.Hour))
	}

	size, err := c.Size(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, size, int64(1024*1024))
}

func TestFileCache_Stats(t *testing.T) {
	c := newTestCache(t, 10)
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("data-%d", i)), time.Hour))
	}

	for i := range 3 {
		_, err := c.Get(ctx, fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
	}

	for i := 10; i < 12; i++ {
		_, err := c.Get(ctx, fmt.Sprintf("key-%d", i))
		require.ErrorIs(t, err, ErrMiss)
	}

	stats, err := c.GetStats(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(5), stats.TotalEntries)
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.InDelta(t, 0.6, stats.HitRate, 1e-9)

	require.NoError(t, c.Clear(ctx))

	stats, err = c.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalEntries)
	assert.Zero(t, stats.Hits)
}

func TestFileCache_Cleanup(t *testing.T) {
	c := newTestCache(t, 10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short1", []byte("data1"), 50*time.Millisecond))
	require.NoError(t, c.Set(ctx, "short2", []byte("data2"), 50*time.Millisecond))
	require.NoError(t, c.Set(ctx, "long1", []byte("data3"), time.Hour))

	time.Sleep(100 * time.Millisecond)

	removed, err := c.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = c.Get(ctx, "short1")
	assert.ErrorIs(t, err, ErrMiss)

	_, err = c.Get(ctx, "long1")
	assert.NoError(t, err)
}

func TestFileCache_HonoursCancellation(t *testing.T) {
	c := newTestCache(t, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, c.Set(ctx, "k", []byte("v"), 0), context.Canceled)
}

func TestVectorCache(t *testing.T) {
	ctx := context.Background()
	vc := NewVectorCache(newTestCache(t, 10), 0)

	_, ok := vc.Get(ctx, "hash/3", "Total sales by customer")
	assert.False(t, ok)

	vec := []float32{0.5, -1.25, 3}
	vc.Put(ctx, "hash/3", "Total sales by customer", vec)

	got, ok := vc.Get(ctx, "hash/3", "  total   SALES by customer ")
	require.True(t, ok)
	assert.Equal(t, vec, got)

	_, ok = vc.Get(ctx, "openai/3", "Total sales by customer")
	assert.False(t, ok, "different providers never share vectors")
}

func TestVectorKey(t *testing.T) {
	assert.Equal(t, VectorKey("p", "a b"), VectorKey("p", "A  B"))
	assert.NotEqual(t, VectorKey("p", "a b"), VectorKey("q", "a b"))
	assert.NotEqual(t, VectorKey("p", "ab"), VectorKey("p", "a b"))
}

func TestDecodeVectorRejectsGarbage(t *testing.T) {
	_, ok := decodeVector([]byte{1, 2, 3})
	assert.False(t, ok)

	_, ok = decodeVector(nil)
	assert.False(t, ok)
}

func BenchmarkFileCache_Get(b *testing.B) {
	c, err := NewFileCache(b.TempDir(), 100, time.Hour, 0)
	if err != nil {
		b.Fatalf("Failed to create cache: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	data := make([]byte, 1024)

	numEntries := 1000
	for i := range numEntries {
		if err := c.Set(ctx, fmt.Sprintf("bench-key-%d", i), data, time.Hour); err != nil {
			b.Fatalf("Failed to set cache entry: %v", err)
		}
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := c.Get(ctx, fmt.Sprintf("bench-key-%d", i%numEntries)); err != nil {
			b.Fatalf("Failed to get cache entry: %v", err)
		}
	}
}
