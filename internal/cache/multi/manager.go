// Package multi implements the tiered cache manager that composes a
// process-local tier (L1) with a shared tier (L2).
//
// Reads go L1, then L2, then the caller's loader. Values found in L2 are
// promoted into L1 for at most the promotion ceiling. A failing L2 is treated
// as a miss on reads, so callers always get a value from the loader.
//
// Concurrent misses for the same key in different processes may both run the
// loader and both write the result; the last write wins. Within one process
// only the L2 read is coalesced. L2 is assumed to be eventually consistent: a
// Set or Delete by one process becomes visible to others when the store
// makes it so, and an L1 copy in another process may survive for up to the
// promotion ceiling.
package multi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/wishcache/internal/cache"
	"goflare.io/wishcache/internal/config"
	"goflare.io/wishcache/internal/keys"
	"goflare.io/wishcache/internal/models"
	"goflare.io/wishcache/internal/policy"
	"goflare.io/wishcache/pkg/serialization"
)

// ErrMiss is returned by Get when the key is absent from both tiers and no
// loader was given.
var ErrMiss = errors.New("cache miss")

// Loader produces the value for a key on a full miss.
type Loader func(ctx context.Context) ([]byte, error)

// localIndex is implemented by local tiers that can find their own keys by
// tag or prefix.
type localIndex interface {
	DeleteByTags(ctx context.Context, tags []string) int
	DeleteByPrefix(ctx context.Context, prefixes ...string) int
}

// Manager is the entry point for cached reads and writes.
type Manager struct {
	l1     cache.Store // nil when the local tier is disabled
	l2     cache.Store
	tagger cache.TagInvalidator // nil when l2 has no tag index

	policy  policy.Policy
	ceiling time.Duration
	stats   *models.Stats

	encoder func(io.Writer) serialization.Encoder
	decoder func(io.Reader) serialization.Decoder

	sf     singleflight.Group
	tracer trace.Tracer
	logger *zap.Logger
}

// New composes l1 and l2. l1 may be nil.
func New(cfg *config.Config, l1, l2 cache.Store) *Manager {
	m := &Manager{
		l1:      l1,
		l2:      l2,
		policy:  cfg.Policy,
		ceiling: cfg.PromotionCeiling,
		stats:   cfg.Stats,
		encoder: cfg.Serialization.Encoder,
		decoder: cfg.Serialization.Decoder,
		tracer:  otel.Tracer("wishcache"),
		logger:  cfg.Logger,
	}
	if m.stats == nil {
		m.stats = models.NewStats()
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if t, ok := l2.(cache.TagInvalidator); ok {
		m.tagger = t
	} else {
		m.logger.Info("Shared tier has no tag index, tag invalidation uses the key convention")
	}
	return m
}

// Get returns the value cached under key, calling loader on a full miss and
// storing its result in both tiers with tags. Loader errors are returned
// as they are; store failures never are.
func (m *Manager) Get(ctx context.Context, key string, tags []string, loader Loader) ([]byte, error) {
	if key == "" {
		return nil, cache.ErrEmptyKey
	}

	ctx, span := m.tracer.Start(ctx, "Manager.Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	if v, ok := m.getLocal(ctx, key); ok {
		m.stats.Hit()
		span.SetAttributes(attribute.String("tier", "l1"))
		return v, nil
	}

	if v, ok := m.getRemote(ctx, span, key); ok {
		m.stats.Hit()
		span.SetAttributes(attribute.String("tier", "l2"))
		m.saveLocal(ctx, key, v, m.promotionTTL(key), tags)
		return v, nil
	}

	m.stats.Miss()
	span.SetAttributes(attribute.String("tier", "loader"))
	if loader == nil {
		return nil, ErrMiss
	}

	value, err := loader(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "loader failed")
		return nil, err
	}

	ttl, rule := m.policy.Resolve(key)
	m.logger.Debug("Populating cache", zap.String("key", key), zap.String("rule", rule), zap.Duration("ttl", ttl))

	if err := m.l2.Save(ctx, key, value, ttl, tags); err != nil {
		span.RecordError(err)
		m.logger.Warn("Failed to write shared cache tier", zap.String("key", key), zap.Error(err))
	}
	m.saveLocal(ctx, key, value, min(ttl, m.ceiling), tags)

	return value, nil
}

// Load is Get for typed values encoded with the configured serializer. A
// cached value that no longer decodes is dropped and reloaded.
func Load[T any](ctx context.Context, m *Manager, key string, tags []string, loader func(ctx context.Context) (T, error)) (T, error) {
	var out T

	raw := func(ctx context.Context) ([]byte, error) {
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		return serialization.Marshal(m.encoder, v)
	}

	data, err := m.Get(ctx, key, tags, raw)
	if err != nil {
		return out, err
	}
	decodeErr := serialization.Unmarshal(m.decoder, data, &out)
	if decodeErr == nil {
		return out, nil
	}
	m.logger.Warn("Failed to decode cached value, reloading", zap.String("key", key), zap.Error(decodeErr))

	out, err = loader(ctx)
	if err != nil {
		return out, err
	}
	if data, err = serialization.Marshal(m.encoder, out); err == nil {
		if err := m.Set(ctx, key, data, 0, tags...); err != nil {
			m.logger.Warn("Failed to replace undecodable value", zap.String("key", key), zap.Error(err))
		}
	}
	return out, nil
}

// Set writes value to both tiers. ttl <= 0 uses the policy TTL for key; the
// local copy never outlives the promotion ceiling. When L2 rejects the write
// the local copy is dropped and the error is returned.
func (m *Manager) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	if key == "" {
		return cache.ErrEmptyKey
	}

	ctx, span := m.tracer.Start(ctx, "Manager.Set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	if ttl <= 0 {
		ttl = m.policy.TTL(key)
	}

	if err := m.l2.Save(ctx, key, value, ttl, tags); err != nil {
		m.deleteLocal(ctx, key)
		span.RecordError(err)
		span.SetStatus(codes.Error, "shared tier write failed")
		return storeError("set", key, err)
	}
	m.saveLocal(ctx, key, value, min(ttl, m.ceiling), tags)
	return nil
}

// Delete removes key from both tiers. L1 is always cleared even when L2
// fails.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if key == "" {
		return cache.ErrEmptyKey
	}

	ctx, span := m.tracer.Start(ctx, "Manager.Delete", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	m.deleteLocal(ctx, key)
	if err := m.l2.DeleteItem(ctx, key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "shared tier delete failed")
		return storeError("delete", key, err)
	}
	return nil
}

// InvalidateTag is InvalidateTags for one tag.
func (m *Manager) InvalidateTag(ctx context.Context, tag string) error {
	return m.InvalidateTags(ctx, tag)
}

// InvalidateTags drops every entry written under any of tags.
//
// A shared tier with a tag index handles this in one call and reports the
// keys it removed; their local copies are dropped too, whatever tags they
// were promoted with. Otherwise only
// the keys the keys package conventionally writes under a tag are removed;
// anything else tagged the same way survives until it expires, and a warning
// is logged for such tags.
func (m *Manager) InvalidateTags(ctx context.Context, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}

	ctx, span := m.tracer.Start(ctx, "Manager.InvalidateTags", trace.WithAttributes(attribute.StringSlice("tags", tags)))
	defer span.End()

	m.invalidateLocal(ctx, tags)

	if m.tagger != nil {
		removed, err := m.tagger.InvalidateTags(ctx, tags)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "shared tier invalidation failed")
			return storeError("invalidate tags", "", err)
		}
		for _, k := range removed {
			m.deleteLocal(ctx, k)
		}
		span.SetAttributes(attribute.Int("removed", len(removed)))
		return nil
	}

	var errs []error
	for _, tag := range tags {
		fb := keys.Convention(tag)
		for _, k := range fb.Keys {
			if err := m.l2.DeleteItem(ctx, k); err != nil {
				errs = append(errs, storeError("delete", k, err))
			}
		}
		if !fb.Complete {
			m.logger.Warn("Tag invalidation is incomplete without a tag index",
				zap.String("tag", tag),
				zap.Int("convention_keys", len(fb.Keys)),
			)
		}
	}

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "shared tier invalidation failed")
		return err
	}
	return nil
}

// Clear empties L1, clears L2 and resets the statistics.
//
// Clearing L2 affects every process sharing the store. With Redis only the
// configured namespace is removed, but that still drops entries written by
// other instances of this service; do not call it on a hot path.
func (m *Manager) Clear(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Clear")
	defer span.End()

	if m.l1 != nil {
		if err := m.l1.Clear(ctx); err != nil {
			m.logger.Warn("Failed to clear local cache tier", zap.Error(err))
		}
	}
	m.stats.Reset()

	if err := m.l2.Clear(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "shared tier clear failed")
		return storeError("clear", "", err)
	}
	return nil
}

// Warm copies the given keys from L2 into L1 and returns how many were
// found. It does not touch the statistics and never calls a loader.
func (m *Manager) Warm(ctx context.Context, keyList []string, tags []string) int {
	if m.l1 == nil || len(keyList) == 0 {
		return 0
	}

	ctx, span := m.tracer.Start(ctx, "Manager.Warm", trace.WithAttributes(attribute.Int("keys", len(keyList))))
	defer span.End()

	warmed := 0
	for _, key := range keyList {
		if ctx.Err() != nil {
			break
		}
		v, ok := m.getRemote(ctx, span, key)
		if !ok {
			continue
		}
		m.saveLocal(ctx, key, v, m.promotionTTL(key), tags)
		warmed++
	}

	m.logger.Debug("Warmed local cache tier", zap.Int("requested", len(keyList)), zap.Int("warmed", warmed))
	return warmed
}

// Statistics returns the current hit and miss counters.
func (m *Manager) Statistics() models.StatsSnapshot {
	return m.stats.Snapshot()
}

// ResetStatistics zeroes the counters.
func (m *Manager) ResetStatistics() {
	m.stats.Reset()
}

// Stats exposes the counters, e.g. for a metrics collector.
func (m *Manager) Stats() *models.Stats {
	return m.stats
}

// Close releases the local tier. The shared tier is left to whoever created
// it, since other callers may still use it.
func (m *Manager) Close() error {
	m.logger.Info("Closing cache manager")

	if closer, ok := m.l1.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close local cache tier: %w", err)
		}
	}
	return nil
}

func (m *Manager) getLocal(ctx context.Context, key string) ([]byte, bool) {
	if m.l1 == nil {
		return nil, false
	}
	v, found, err := m.l1.GetItem(ctx, key)
	if err != nil {
		m.logger.Warn("Failed to read local cache tier", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return v, found
}

type remoteResult struct {
	data  []byte
	found bool
}

// getRemote reads key from L2, coalescing concurrent reads of the same key.
// The shared read is detached from any one caller's cancellation; a caller
// whose context ends stops waiting and sees a miss. Store failures are logged
// and reported as a miss.
func (m *Manager) getRemote(ctx context.Context, span trace.Span, key string) ([]byte, bool) {
	start := time.Now()
	readCtx := context.WithoutCancel(ctx)
	ch := m.sf.DoChan(key, func() (any, error) {
		data, found, err := m.l2.GetItem(readCtx, key)
		if err != nil {
			return nil, err
		}
		return remoteResult{data: data, found: found}, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		m.logger.Debug("Caller gave up waiting for shared cache tier", zap.String("key", key), zap.Error(ctx.Err()))
		return nil, false
	}

	if res.Err != nil {
		span.RecordError(res.Err)
		m.logger.Warn("Shared cache tier unavailable, treating as miss",
			zap.String("key", key),
			zap.Duration("duration", time.Since(start)),
			zap.Error(res.Err),
		)
		return nil, false
	}

	rr := res.Val.(remoteResult)
	if !rr.found {
		return nil, false
	}
	if res.Shared {
		return bytes.Clone(rr.data), true
	}
	return rr.data, true
}

func (m *Manager) promotionTTL(key string) time.Duration {
	return min(m.policy.TTL(key), m.ceiling)
}

func (m *Manager) saveLocal(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) {
	if m.l1 == nil {
		return
	}
	if err := m.l1.Save(ctx, key, value, ttl, tags); err != nil {
		m.logger.Warn("Failed to set local cache", zap.String("key", key), zap.Error(err))
	}
}

func (m *Manager) deleteLocal(ctx context.Context, key string) {
	if m.l1 == nil {
		return
	}
	if err := m.l1.DeleteItem(ctx, key); err != nil {
		m.logger.Warn("Failed to delete from local cache", zap.String("key", key), zap.Error(err))
	}
}

// invalidateLocal removes tagged entries from L1. Entries promoted without
// tags are still found through the key convention.
func (m *Manager) invalidateLocal(ctx context.Context, tags []string) {
	if m.l1 == nil {
		return
	}

	idx, indexed := m.l1.(localIndex)
	if indexed {
		idx.DeleteByTags(ctx, tags)
	}
	for _, tag := range tags {
		fb := keys.Convention(tag)
		for _, k := range fb.Keys {
			m.deleteLocal(ctx, k)
		}
		if indexed && len(fb.Prefixes) > 0 {
			idx.DeleteByPrefix(ctx, fb.Prefixes...)
		}
	}
}

// storeError wraps err so callers can match cache.ErrStoreUnavailable.
func storeError(op, key string, err error) error {
	if errors.Is(err, cache.ErrStoreUnavailable) {
		if key == "" {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s %q: %w", op, key, err)
	}
	if key == "" {
		return fmt.Errorf("%w: %s: %w", cache.ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s %q: %w", cache.ErrStoreUnavailable, op, key, err)
}
