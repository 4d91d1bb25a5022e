package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	dataSuffix = ".data"
	metaSuffix = ".meta"
)

type fileEntry struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Size      int64     `json:"size"`
}

// FileCache keeps each entry as a data file plus a JSON metadata sidecar
type FileCache struct {
	directory   string
	maxBytes    int64
	defaultTTL  time.Duration
	mu          sync.RWMutex
	counters    counters
	stopCleanup chan struct{}
	cleanupOnce sync.Once
	now         func() time.Time
}

// NewFileCache creates a file-based cache and starts its background cleanup.
// A zero cleanupFreq disables background cleanup.
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
		now:         time.Now,
	}

	if cleanupFreq > 0 {
		go c.backgroundCleanup(cleanupFreq)
	}

	return c, nil
}

// Get retrieves data from cache
func (c *FileCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	entry, err := c.readMeta(c.metaPath(key))
	if err != nil {
		c.mu.RUnlock()
		c.counters.miss()

		return nil, ErrMiss
	}

	if c.now().After(entry.ExpiresAt) {
		c.mu.RUnlock()
		c.counters.miss()
		_ = c.Delete(ctx, key)

		return nil, ErrMiss
	}

	data, err := os.ReadFile(c.dataPath(key))
	c.mu.RUnlock()

	if err != nil {
		c.counters.miss()
		return nil, ErrMiss
	}

	c.counters.hit()

	return data, nil
}

// Set stores data in cache with TTL, falling back to the default TTL when ttl is zero
func (c *FileCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry := fileEntry{
		Key:       key,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Size:      int64(len(data)),
	}

	if err := c.enforceSize(entry.Size); err != nil {
		return fmt.Errorf("failed to enforce cache size: %w", err)
	}

	dataPath := c.dataPath(key)
	if err := os.WriteFile(dataPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write cache data: %w", err)
	}

	metaData, err := json.Marshal(entry)
	if err != nil {
		_ = os.Remove(dataPath)
		return fmt.Errorf("failed to marshal cache metadata: %w", err)
	}

	if err := os.WriteFile(c.metaPath(key), metaData, 0600); err != nil {
		_ = os.Remove(dataPath)
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

	_ = os.Remove(c.dataPath(key))
	_ = os.Remove(c.metaPath(key))

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
		name := entry.Name()
		if !entry.IsDir() && (strings.HasSuffix(name, dataSuffix) || strings.HasSuffix(name, metaSuffix)) {
			_ = os.Remove(filepath.Join(c.directory, name))
		}
	}

	c.counters.reset()

	return nil
}

// Cleanup removes expired entries
func (c *FileCache) Cleanup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.directory)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	now := c.now()

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), metaSuffix) {
			continue
		}

		metaPath := filepath.Join(c.directory, entry.Name())

		meta, err := c.readMeta(metaPath)
		if err != nil || now.After(meta.ExpiresAt) {
			base := strings.TrimSuffix(entry.Name(), metaSuffix)
			_ = os.Remove(filepath.Join(c.directory, base+dataSuffix))
			_ = os.Remove(metaPath)
		}
	}

	return nil
}

// GetStats returns cache statistics
func (c *FileCache) GetStats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	files, err := c.dataFiles()
	c.mu.RUnlock()

	if err != nil {
		return nil, err
	}

	stats := &Stats{Backend: "file", TotalEntries: int64(len(files))}
	for _, f := range files {
		stats.TotalSize += f.size
	}

	c.counters.fill(stats)

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
	return filepath.Join(c.directory, hashKey(key)+dataSuffix)
}

func (c *FileCache) metaPath(key string) string {
	return filepath.Join(c.directory, hashKey(key)+metaSuffix)
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:32]
}

func (c *FileCache) readMeta(path string) (*fileEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entry fileEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse cache metadata: %w", err)
	}

	return &entry, nil
}

type dataFile struct {
	base    string
	modTime time.Time
	size    int64
}

// dataFiles lists cached payloads; callers hold c.mu.
func (c *FileCache) dataFiles() ([]dataFile, error) {
	entries, err := os.ReadDir(c.directory)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	var files []dataFile

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), dataSuffix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, dataFile{
			base:    strings.TrimSuffix(entry.Name(), dataSuffix),
			modTime: info.ModTime(),
			size:    info.Size(),
		})
	}

	return files, nil
}

// enforceSize evicts oldest entries until newEntrySize fits; callers hold c.mu.
func (c *FileCache) enforceSize(newEntrySize int64) error {
	if c.maxBytes <= 0 {
		return nil
	}

	files, err := c.dataFiles()
	if err != nil {
		return err
	}

	var current int64
	for _, f := range files {
		current += f.size
	}

	if current+newEntrySize <= c.maxBytes {
		return nil
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	needed := current + newEntrySize - c.maxBytes

	var freed int64

	for _, f := range files {
		if freed >= needed {
			break
		}

		_ = os.Remove(filepath.Join(c.directory, f.base+dataSuffix))
		_ = os.Remove(filepath.Join(c.directory, f.base+metaSuffix))
		freed += f.size
	}

	return nil
}

func (c *FileCache) backgroundCleanup(freq time.Duration) {
	ticker := time.NewTicker(freq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.Cleanup(context.Background())
		case <-c.stopCleanup:
			return
		}
	}
}
