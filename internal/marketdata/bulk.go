package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ledunk1/bot/pkg/types"
	"go.uber.org/zap"
)

const (
	bulkFetchRetries = 3
	bulkCacheSubdir  = "bulk_symbol_data"
)

// BulkCache fetches many symbols concurrently and caches the whole
// batch under a single key derived from the sorted symbol set. Adding
// or removing one symbol therefore invalidates the entire bulk entry;
// that whole-set invalidation is intentional, preserved behavior.
type BulkCache struct {
	logger *zap.Logger
	cache  *Cache
	dir    string
}

// bulkEntry is the persisted shape of one bulk cache file.
type bulkEntry struct {
	Data      map[string][]types.Candle `json:"data"`
	Timestamp time.Time                 `json:"timestamp"`
	Symbols   int                       `json:"symbolsCount"`
}

// NewBulkCache creates a bulk cache sharing the single-symbol cache's
// source, with its own subdirectory for batch entries.
func NewBulkCache(logger *zap.Logger, cache *Cache, baseDir string) (*BulkCache, error) {
	dir := filepath.Join(baseDir, bulkCacheSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bulk cache directory: %w", err)
	}
	return &BulkCache{logger: logger, cache: cache, dir: dir}, nil
}

// BulkKey derives the cache key for a symbol set. It is a pure
// function over the sorted set plus interval and date range, so the
// whole-set invalidation property is explicit and testable.
func BulkKey(symbols []string, interval string, start, end time.Time) string {
	sorted := make([]string, len(symbols))
	copy(sorted, symbols)
	sort.Strings(sorted)

	h := fnv.New64a()
	h.Write([]byte(strings.Join(sorted, ",")))

	return fmt.Sprintf("bulk_%x_%s_%s_%s",
		h.Sum64(), interval, start.Format("2006-01-02"), end.Format("2006-01-02"))
}

// FetchMany returns candles per symbol, serving the whole batch from
// the bulk cache when fresh and otherwise fetching concurrently with
// retry. A symbol that exhausts its retries maps to nil; the batch
// itself never aborts.
func (b *BulkCache) FetchMany(ctx context.Context, symbols []string, interval string,
	start, end time.Time, maxWorkers int) map[string][]types.Candle {

	key := BulkKey(symbols, interval, start, end)
	if cached := b.load(key, len(symbols)); cached != nil {
		b.logger.Info("Using cached bulk market data",
			zap.Int("symbols", len(cached)),
			zap.String("key", key),
		)
		return cached
	}

	if maxWorkers < 1 {
		maxWorkers = 1
	}

	b.logger.Info("Fetching bulk market data",
		zap.Int("symbols", len(symbols)),
		zap.Int("workers", maxWorkers),
	)

	results := make(map[string][]types.Candle, len(symbols))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxWorkers)

	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			candles, err := b.fetchWithRetry(ctx, symbol, interval, start, end)
			if err != nil {
				b.logger.Warn("Symbol fetch failed after retries",
					zap.String("symbol", symbol),
					zap.Error(err),
				)
				candles = nil
			}

			mu.Lock()
			results[symbol] = candles
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()

	if err := b.save(key, results); err != nil {
		b.logger.Warn("Failed to persist bulk cache entry", zap.Error(err))
	}

	return results
}

// fetchWithRetry attempts up to bulkFetchRetries fetches with
// exponential backoff between attempts.
func (b *BulkCache) fetchWithRetry(ctx context.Context, symbol, interval string, start, end time.Time) ([]types.Candle, error) {
	var lastErr error
	for attempt := 0; attempt < bulkFetchRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		candles, err := b.cache.Get(ctx, symbol, interval, start, end)
		if err == nil && len(candles) > 0 {
			return candles, nil
		}
		if err == nil {
			err = fmt.Errorf("%w for %s", ErrNoData, symbol)
		}
		lastErr = err

		b.logger.Debug("Retrying symbol fetch",
			zap.String("symbol", symbol),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, lastErr
}

func (b *BulkCache) entryPath(key string) string {
	return filepath.Join(b.dir, key+".json")
}

func (b *BulkCache) load(key string, want int) map[string][]types.Candle {
	path := b.entryPath(key)
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if time.Since(info.ModTime()) > maxCacheAge {
		b.logger.Debug("Evicting stale bulk cache entry", zap.String("path", path))
		os.Remove(path)
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var entry bulkEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		b.logger.Warn("Discarding corrupt bulk cache entry", zap.String("path", path), zap.Error(err))
		os.Remove(path)
		return nil
	}
	// An entry saved with failed symbols dropped does not cover the
	// full set; treat it as a miss so the failures get retried.
	if len(entry.Data) == 0 || len(entry.Data) < want {
		return nil
	}
	return entry.Data
}

func (b *BulkCache) save(key string, data map[string][]types.Candle) error {
	// Failed symbols (nil values) are not persisted; a later run
	// should retry them rather than cache the failure.
	persisted := make(map[string][]types.Candle, len(data))
	for symbol, candles := range data {
		if len(candles) > 0 {
			persisted[symbol] = candles
		}
	}

	entry := bulkEntry{
		Data:      persisted,
		Timestamp: time.Now().UTC(),
		Symbols:   len(persisted),
	}
	return writeJSON(b.entryPath(key), entry)
}
