// Package cache provides caching for rendered plots and encoded view results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	PlotCacheSizeMB int
	PlotTTL         time.Duration
	ViewCacheSize   int
}

// DefaultConfig returns a 64MB plot cache with a 10 minute TTL.
func DefaultConfig() Config {
	return Config{
		PlotCacheSizeMB: 64,
		PlotTTL:         10 * time.Minute,
		ViewCacheSize:   256,
	}
}

// Manager manages plot and view caches.
type Manager struct {
	plotCache *bigcache.BigCache
	viewCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.PlotTTL <= 0 {
		return nil, fmt.Errorf("plot cache TTL must be positive, got %s", cfg.PlotTTL)
	}

	plotCacheConfig := bigcache.Config{
		Shards:             64,
		LifeWindow:         cfg.PlotTTL,
		CleanWindow:        cfg.PlotTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       256 * 1024, // 256KB per plot
		HardMaxCacheSize:   cfg.PlotCacheSizeMB,
		Verbose:            false,
	}

	plotCache, err := bigcache.New(context.Background(), plotCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create plot cache: %w", err)
	}

	viewCache, err := lru.New[string, []byte](cfg.ViewCacheSize)
	if err != nil {
		plotCache.Close()
		return nil, fmt.Errorf("failed to create view cache: %w", err)
	}

	return &Manager{
		plotCache: plotCache,
		viewCache: viewCache,
	}, nil
}

// GetPlot retrieves a rendered plot from cache.
func (m *Manager) GetPlot(key string) ([]byte, bool) {
	data, err := m.plotCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetPlot stores a rendered plot in cache.
func (m *Manager) SetPlot(key string, data []byte) error {
	return m.plotCache.Set(key, data)
}

// GetView retrieves an encoded view result from cache.
func (m *Manager) GetView(key string) ([]byte, bool) {
	return m.viewCache.Get(key)
}

// SetView stores an encoded view result in cache.
func (m *Manager) SetView(key string, data []byte) {
	m.viewCache.Add(key, data)
}

// PlotKey generates a cache key for a plot rendered under a selection.
// Selection fields are hashed in the given order.
func PlotKey(dataset, plot string, selection ...string) string {
	base := fmt.Sprintf("plot:%s/%s", dataset, plot)
	if len(selection) == 0 {
		return base
	}

	h := sha256.New()
	h.Write([]byte(base))
	h.Write([]byte(strings.Join(selection, "\x00")))
	return base + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// ViewKey generates a cache key for a view result.
func ViewKey(dataset, view string, selection ...string) string {
	return fmt.Sprintf("view:%s/%s:%s", dataset, view, strings.Join(selection, "|"))
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"plot_cache_len":  m.plotCache.Len(),
		"plot_cache_cap":  m.plotCache.Capacity(),
		"plot_cache_hits": m.plotCache.Stats().Hits,
		"view_cache_len":  m.viewCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.plotCache.Close()
}
