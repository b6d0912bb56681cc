// Package cache stores question embeddings on disk so repeated questions do
// not call the embedding service again.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kyleking/sqlrag/internal/config"
)

// ErrMiss is returned when a key is absent or expired
var ErrMiss = stderrors.New("cache miss")

const (
	dataSuffix = ".data"
	metaSuffix = ".meta"
)

// Cache defines the interface for local file caching operations
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Size(ctx context.Context) (int64, error)
	Cleanup(ctx context.Context) (int, error)
	GetStats(ctx context.Context) (*Stats, error)
}

// Entry is the metadata stored alongside each cached value
type Entry struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Size      int64     `json:"size"`
}

// Stats represents cache statistics
type Stats struct {
	TotalEntries int64   `json:"total_entries"`
	TotalSize    int64   `json:"total_size"`
	HitRate      float64 `json:"hit_rate"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
}

// FileCache implements the Cache interface using the filesystem
type FileCache struct {
	directory   string
	maxBytes    int64
	defaultTTL  time.Duration
	mu          sync.RWMutex
	hits        atomic.Int64
	misses      atomic.Int64
	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// NewFileCache creates a file cache in directory. A positive cleanupFreq
// starts a background sweep of expired entries until Close.
func NewFileCache(directory string, maxSizeMB int, defaultTTL, cleanupFreq time.Duration) (*FileCache, error) {
	if strings.HasPrefix(directory, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}

		directory = filepath.Join(home, directory[2:])
	}

	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &FileCache{
		directory:   directory,
		maxBytes:    int64(maxSizeMB) * 1024 * 1024,
		defaultTTL:  defaultTTL,
		stopCleanup: make(chan struct{}),
	}

	if cleanupFreq > 0 {
		go c.backgroundCleanup(cleanupFreq)
	}

	return c, nil
}

// NewFileCacheFromConfig creates a cache from the cache config section
func NewFileCacheFromConfig(cfg config.CacheConfig) (*FileCache, error) {
	return NewFileCache(cfg.Directory, cfg.MaxSizeMB,
		time.Duration(cfg.TTLHours)*time.Hour, config.Duration(cfg.CleanupFreq))
}

// Get retrieves data from cache
func (c *FileCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	entry, data, err := c.read(key)
	c.mu.RUnlock()

	if err != nil {
		c.misses.Add(1)
		return nil, err
	}

	if time.Now().After(entry.ExpiresAt) {
		c.misses.Add(1)
		_ = c.Delete(ctx, key)

		return nil, ErrMiss
	}

	c.hits.Add(1)

	return data, nil
}

func (c *FileCache) read(key string) (Entry, []byte, error) {
	var entry Entry

	metaData, err := os.ReadFile(c.metaPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return entry, nil, ErrMiss
		}

		return entry, nil, fmt.Errorf("failed to read cache metadata: %w", err)
	}

	if err := json.Unmarshal(metaData, &entry); err != nil {
		return entry, nil, fmt.Errorf("failed to parse cache metadata: %w", err)
	}

	data, err := os.ReadFile(c.dataPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return entry, nil, ErrMiss
		}

		return entry, nil, fmt.Errorf("failed to read cache data: %w", err)
	}

	return entry, data, nil
}

// Set stores data in cache. A zero ttl uses the cache default.
func (c *FileCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ttl == 0 {
		ttl = c.defaultTTL
	}

	now := time.Now()
	entry := Entry{
		Key:       key,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Size:      int64(len(data)),
	}

	metaData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache metadata: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enforceSize(entry.Size); err != nil {
		return fmt.Errorf("failed to enforce cache size: %w", err)
	}

	if err := os.WriteFile(c.dataPath(key), data, 0600); err != nil {
		return fmt.Errorf("failed to write cache data: %w", err)
	}

	if err := os.WriteFile(c.metaPath(key), metaData, 0600); err != nil {
		_ = os.Remove(c.dataPath(key))
		return fmt.Errorf("failed to write cache metadata: %w", err)
	}

	return nil
}

// Delete removes an entry from cache
func (c *FileCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeFiles(c.hashKey(key))

	return nil
}

// Clear removes all entries and resets statistics
func (c *FileCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.directory)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			_ = os.Remove(filepath.Join(c.directory, entry.Name()))
		}
	}

	c.hits.Store(0)
	c.misses.Store(0)

	return nil
}

// Size returns the total size of cached data
func (c *FileCache) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	size, _, err := c.usage()

	return size, err
}

// Cleanup removes expired entries and returns how many were removed
func (c *FileCache) Cleanup(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.directory)
	if err != nil {
		return 0, fmt.Errorf("failed to read cache directory: %w", err)
	}

	now := time.Now()
	removed := 0

	for _, dirEntry := range entries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), metaSuffix) {
			continue
		}

		metaData, err := os.ReadFile(filepath.Join(c.directory, dirEntry.Name()))
		if err != nil {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(metaData, &entry); err != nil {
			continue
		}

		if now.After(entry.ExpiresAt) {
			c.removeFiles(strings.TrimSuffix(dirEntry.Name(), metaSuffix))
			removed++
		}
	}

	return removed, nil
}

// GetStats returns cache statistics
func (c *FileCache) GetStats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	size, count, err := c.usage()
	c.mu.RUnlock()

	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalEntries: count,
		TotalSize:    size,
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
	}

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}

	return stats, nil
}

// Close stops the background cleanup goroutine
func (c *FileCache) Close() error {
	c.cleanupOnce.Do(func() {
		close(c.stopCleanup)
	})

	return nil
}

func (c *FileCache) dataPath(key string) string {
	return filepath.Join(c.directory, c.hashKey(key)+dataSuffix)
}

func (c *FileCache) metaPath(key string) string {
	return filepath.Join(c.directory, c.hashKey(key)+metaSuffix)
}

func (c *FileCache) removeFiles(hashed string) {
	_ = os.Remove(filepath.Join(c.directory, hashed+dataSuffix))
	_ = os.Remove(filepath.Join(c.directory, hashed+metaSuffix))
}

// hashKey creates a safe filename from a cache key
func (c *FileCache) hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:32]
}

// enforceSize evicts the oldest entries until newEntrySize fits. Callers hold
// the write lock.
func (c *FileCache) enforceSize(newEntrySize int64) error {
	if c.maxBytes <= 0 {
		return nil
	}

	currentSize, _, err := c.usage()
	if err != nil {
		return err
	}

	if currentSize+newEntrySize <= c.maxBytes {
		return nil
	}

	dirEntries, err := os.ReadDir(c.directory)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	type candidate struct {
		hashed  string
		modTime time.Time
		size    int64
	}

	var candidates []candidate

	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), dataSuffix) {
			continue
		}

		info, err := dirEntry.Info()
		if err != nil {
			continue
		}

		candidates = append(candidates, candidate{
			hashed:  strings.TrimSuffix(dirEntry.Name(), dataSuffix),
			modTime: info.ModTime(),
			size:    info.Size(),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.Before(candidates[j].modTime)
	})

	spaceNeeded := currentSize + newEntrySize - c.maxBytes

	var spaceFreed int64

	for _, cand := range candidates {
		if spaceFreed >= spaceNeeded {
			break
		}

		c.removeFiles(cand.hashed)
		spaceFreed += cand.size
	}

	return nil
}

// usage returns the total data size and entry count. Callers hold a lock.
func (c *FileCache) usage() (int64, int64, error) {
	dirEntries, err := os.ReadDir(c.directory)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read cache directory: %w", err)
	}

	var size, count int64

	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), dataSuffix) {
			continue
		}

		info, err := dirEntry.Info()
		if err != nil {
			continue
		}

		size += info.Size()
		count++
	}

	return size, count, nil
}

func (c *FileCache) backgroundCleanup(freq time.Duration) {
	ticker := time.NewTicker(freq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = c.Cleanup(context.Background())
		case <-c.stopCleanup:
			return
		}
	}
}

var _ Cache = (*FileCache)(nil)
