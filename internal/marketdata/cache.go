package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ledunk1/bot/pkg/types"
	"go.uber.org/zap"
)

// maxCacheAge is the staleness bound for disk entries: anything older
// is evicted before a fresh fetch.
const maxCacheAge = 24 * time.Hour

// ErrNoData is returned when the source produced an empty series.
var ErrNoData = errors.New("no market data available")

// CacheMetrics receives cache hit/miss counts. A nil implementation
// is allowed.
type CacheMetrics interface {
	CacheHit()
	CacheMiss()
}

// Cache is a disk-backed candle cache keyed by symbol, interval and
// date range. It sits in front of a Source and fetches on miss.
type Cache struct {
	logger  *zap.Logger
	source  Source
	dir     string
	metrics CacheMetrics
}

// NewCache creates a cache rooted at dir.
func NewCache(logger *zap.Logger, source Source, dir string, metrics CacheMetrics) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{logger: logger, source: source, dir: dir, metrics: metrics}, nil
}

// Get returns candles for the range, loading from disk when a fresh
// entry exists and fetching-then-persisting otherwise.
func (c *Cache) Get(ctx context.Context, symbol, interval string, start, end time.Time) ([]types.Candle, error) {
	path := c.entryPath(symbol, interval, start, end)

	if candles, ok := c.loadFresh(path); ok {
		c.logger.Debug("Market data cache hit", zap.String("symbol", symbol))
		if c.metrics != nil {
			c.metrics.CacheHit()
		}
		return candles, nil
	}
	if c.metrics != nil {
		c.metrics.CacheMiss()
	}

	candles, err := c.source.Fetch(ctx, symbol, interval, start, end)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoData, symbol)
	}

	if err := writeJSON(path, candles); err != nil {
		c.logger.Warn("Failed to persist market data cache entry",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
	}
	return candles, nil
}

// entryPath builds the per-range cache filename.
func (c *Cache) entryPath(symbol, interval string, start, end time.Time) string {
	name := fmt.Sprintf("%s_%s_%s_%s.json",
		symbol, interval, start.Format("2006-01-02"), end.Format("2006-01-02"))
	return filepath.Join(c.dir, name)
}

// loadFresh reads a cache entry if it exists and is under the
// staleness bound; stale entries are removed on sight.
func (c *Cache) loadFresh(path string) ([]types.Candle, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if time.Since(info.ModTime()) > maxCacheAge {
		c.logger.Debug("Evicting stale cache entry", zap.String("path", path))
		os.Remove(path)
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var candles []types.Candle
	if err := json.Unmarshal(data, &candles); err != nil {
		c.logger.Warn("Discarding corrupt cache entry", zap.String("path", path), zap.Error(err))
		os.Remove(path)
		return nil, false
	}
	if len(candles) == 0 {
		return nil, false
	}
	return candles, true
}

// Clear removes cache entries older than the given age and returns
// how many were deleted.
func (c *Cache) Clear(olderThan time.Duration) int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) > olderThan {
			if os.Remove(filepath.Join(c.dir, entry.Name())) == nil {
				removed++
			}
		}
	}
	return removed
}

// writeJSON persists v with a write-then-rename so concurrent readers
// never observe a partial file.
func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
