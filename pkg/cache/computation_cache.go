// Package cache provides a fingerprint-keyed, TTL-bound computation cache
// with at-most-once concurrent computation per fingerprint.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ComputationCache deduplicates expensive computations. Concurrent callers
// with the same fingerprint await the single in-flight computation instead
// of triggering duplicate work; completed results are kept until they expire
// by TTL or the owning connection's schema version advances.
type ComputationCache[V any] struct {
	lru    *expirable.LRU[string, V]
	group  singleflight.Group
	logger *zap.Logger
}

// New creates a cache bounded to maxEntries, expiring entries after ttl.
func New[V any](maxEntries int, ttl time.Duration, logger *zap.Logger) *ComputationCache[V] {
	return &ComputationCache[V]{
		lru:    expirable.NewLRU[string, V](maxEntries, nil, ttl),
		logger: logger.Named("cache"),
	}
}

// GetOrCompute returns the cached value for fingerprint, or runs compute
// exactly once across all concurrent callers and caches its result.
// fromCache is true only when the value was served from a completed entry.
// Errors are never cached.
func (c *ComputationCache[V]) GetOrCompute(ctx context.Context, fingerprint string, compute func(ctx context.Context) (V, error)) (value V, fromCache bool, err error) {
	if v, ok := c.lru.Get(fingerprint); ok {
		c.logger.Debug("cache hit", zap.String("fingerprint", fingerprint))
		return v, true, nil
	}

	res, err, _ := c.group.Do(fingerprint, func() (any, error) {
		// Recheck under the flight: another caller may have just
		// completed and populated the entry.
		if v, ok := c.lru.Get(fingerprint); ok {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.lru.Add(fingerprint, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return res.(V), false, nil
}

// InvalidateConnection removes every entry belonging to the given connection.
// Called when the connection's schema version advances; fingerprints embed
// the connection id as a key prefix so the sweep is a prefix scan.
func (c *ComputationCache[V]) InvalidateConnection(connectionID string) int {
	prefix := connectionID + ":"
	removed := 0
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Info("invalidated cache entries",
			zap.String("connection_id", connectionID),
			zap.Int("removed", removed))
	}
	return removed
}

// Len returns the number of live entries.
func (c *ComputationCache[V]) Len() int {
	return c.lru.Len()
}

// Fingerprint derives the deterministic cache key for one computation:
// hash of (connection, schema version, normalized key, optional context
// strings), prefixed with the connection id so invalidation can sweep by
// prefix. The key is whatever canonical text determines the computation,
// typically a resolved intent's canonical form.
func Fingerprint(connectionID string, schemaVersion int64, key string, contextWindow []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%s\x00", connectionID, schemaVersion, NormalizeQuestion(key))
	for _, q := range contextWindow {
		fmt.Fprintf(h, "%s\x00", NormalizeQuestion(q))
	}
	return fmt.Sprintf("%s:%x", connectionID, h.Sum(nil)[:16])
}

// NormalizeQuestion lowercases and collapses whitespace so trivially
// reworded submissions share a fingerprint.
func NormalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
