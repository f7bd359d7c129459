package pricing

import (
	"context"
	"io"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"goflare.io/wishcache/internal/cache/multi"
	"goflare.io/wishcache/internal/config"
	"goflare.io/wishcache/internal/keys"
	"goflare.io/wishcache/pkg/serialization"
)

// Chunk resolution paths reported to a Recorder.
const (
	PathCache    = "cache"
	PathBatch    = "batch"
	PathFallback = "fallback"
)

// Cache is the part of the cache manager the resolver needs.
type Cache interface {
	Get(ctx context.Context, key string, tags []string, loader multi.Loader) ([]byte, error)
	InvalidateTags(ctx context.Context, tags ...string) error
}

// Recorder observes how chunks were resolved.
type Recorder interface {
	ChunkResolved(path string)
	FallbackItems(resolved, omitted int)
}

type nopRecorder struct{}

func (nopRecorder) ChunkResolved(string)   {}
func (nopRecorder) FallbackItems(int, int) {}

// Resolver resolves prices for sets of products.
type Resolver struct {
	cache    Cache
	batch    Strategy
	fallback Strategy

	chunkSize   int
	concurrency int

	encoder func(io.Writer) serialization.Encoder
	decoder func(io.Reader) serialization.Decoder

	recorder Recorder
	tracer   trace.Tracer
	logger   *zap.Logger
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithRecorder reports chunk paths to r.
func WithRecorder(r Recorder) ResolverOption {
	return func(res *Resolver) {
		if r != nil {
			res.recorder = r
		}
	}
}

// WithStrategies replaces the batch and fallback strategies.
func WithStrategies(batch, fallback Strategy) ResolverOption {
	return func(res *Resolver) {
		res.batch = batch
		res.fallback = fallback
	}
}

// NewResolver returns a resolver reading from source and caching through c.
func NewResolver(cfg *config.Config, c Cache, source Source, opts ...ResolverOption) *Resolver {
	now := time.Now
	r := &Resolver{
		cache:       c,
		batch:       NewBatchStrategy(source, now),
		fallback:    NewPerItemStrategy(source, now, cfg.Logger),
		chunkSize:   cfg.PricingConfig.ChunkSize,
		concurrency: max(cfg.PricingConfig.ChunkConcurrency, 1),
		encoder:     cfg.Serialization.Encoder,
		decoder:     cfg.Serialization.Decoder,
		recorder:    nopRecorder{},
		tracer:      otel.Tracer("wishcache"),
		logger:      cfg.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolvePrices returns a record for every id that could be priced under pc.
// It never fails; ids without a price, or whose lookup failed on every path,
// are absent from the result.
func (r *Resolver) ResolvePrices(ctx context.Context, productIDs []string, pc Context) map[string]Record {
	ids := normalize(productIDs)
	out := make(map[string]Record, len(ids))
	if len(ids) == 0 {
		return out
	}

	ctx, span := r.tracer.Start(ctx, "Resolver.ResolvePrices", trace.WithAttributes(
		attribute.Int("products", len(ids)),
		attribute.String("currency_id", pc.CurrencyID),
	))
	defer span.End()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.concurrency)

	for chunk := range slices.Chunk(ids, r.chunkSize) {
		g.Go(func() error {
			recs := r.resolveChunk(ctx, chunk, pc)
			mu.Lock()
			for id, rec := range recs {
				out[id] = rec
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(attribute.Int("resolved", len(out)))
	return out
}

func (r *Resolver) resolveChunk(ctx context.Context, chunk []string, pc Context) map[string]Record {
	ctx, span := r.tracer.Start(ctx, "Resolver.resolveChunk", trace.WithAttributes(attribute.Int("chunk_size", len(chunk))))
	defer span.End()

	key := keys.PriceBatchKey(chunk, pc.Fingerprint())
	path := PathCache

	data, err := r.cache.Get(ctx, key, chunkTags(chunk), func(ctx context.Context) ([]byte, error) {
		path = PathBatch
		recs, err := r.batch.Resolve(ctx, chunk, pc)
		if err != nil {
			return nil, err
		}
		return serialization.Marshal(r.encoder, recs)
	})
	if err == nil {
		var recs map[string]Record
		if err = serialization.Unmarshal(r.decoder, data, &recs); err == nil {
			r.recorder.ChunkResolved(path)
			return onlyIDs(recs, chunk)
		}
		r.logger.Warn("Failed to decode cached price batch", zap.String("key", key), zap.Error(err))
	} else {
		r.logger.Warn("Batch price query failed, resolving chunk per item",
			zap.Int("chunk_size", len(chunk)),
			zap.Error(err),
		)
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "batch path failed")
	r.recorder.ChunkResolved(PathFallback)

	recs, _ := r.fallback.Resolve(ctx, chunk, pc)
	r.recorder.FallbackItems(len(recs), len(chunk)-len(recs))
	return recs
}

// InvalidateProduct drops every cached price batch containing any of
// productIDs. Call it after a price-affecting write.
func (r *Resolver) InvalidateProduct(ctx context.Context, productIDs ...string) error {
	tags := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		tags = append(tags, keys.ProductTag(id))
	}
	return r.cache.InvalidateTags(ctx, tags...)
}

// InvalidateAll drops every cached price batch.
func (r *Resolver) InvalidateAll(ctx context.Context) error {
	return r.cache.InvalidateTags(ctx, keys.PricesTag)
}

// onlyIDs keeps the records of ids. A cached batch is never trusted to hold
// exactly the ids it was looked up for.
func onlyIDs(recs map[string]Record, ids []string) map[string]Record {
	out := make(map[string]Record, len(ids))
	for _, id := range ids {
		if rec, ok := recs[id]; ok {
			out[id] = rec
		}
	}
	return out
}

func chunkTags(chunk []string) []string {
	tags := make([]string, 0, len(chunk)+1)
	for _, id := range chunk {
		tags = append(tags, keys.ProductTag(id))
	}
	return append(tags, keys.PricesTag)
}

// normalize drops empty and duplicate ids and sorts the rest, so the same
// set always yields the same chunks.
func normalize(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
