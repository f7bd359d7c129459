package pricing_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"goflare.io/wishcache/internal/cache/limited"
	"goflare.io/wishcache/internal/cache/memory"
	"goflare.io/wishcache/internal/cache/multi"
	"goflare.io/wishcache/internal/config"
	"goflare.io/wishcache/internal/pricing"
	"goflare.io/wishcache/internal/pricing/mocks"
	"goflare.io/wishcache/pkg/serialization"
)

var ctxEUR = pricing.Context{CurrencyID: "EUR", RuleIDs: []string{"vip"}, VersionID: "live"}

type pathRecorder struct {
	mu       sync.Mutex
	paths    map[string]int
	resolved int
	omitted  int
}

func (r *pathRecorder) ChunkResolved(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paths == nil {
		r.paths = make(map[string]int)
	}
	r.paths[path]++
}

func (r *pathRecorder) FallbackItems(resolved, omitted int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved += resolved
	r.omitted += omitted
}

type fixture struct {
	source   *mocks.MockSource
	manager  *multi.Manager
	resolver *pricing.Resolver
	recorder *pathRecorder
	logs     *observer.ObservedLogs
}

func newFixture(t *testing.T, opts ...config.Option) *fixture {
	t.Helper()

	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	cfg, err := config.NewConfig(append([]config.Option{config.WithLogger(logger)}, opts...)...)
	require.NoError(t, err)

	l1, err := limited.New(1<<20, time.Minute, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l1.Close() })

	ctrl := gomock.NewController(t)
	source := mocks.NewMockSource(ctrl)
	manager := multi.New(cfg, l1, memory.New(1000))
	rec := &pathRecorder{}

	return &fixture{
		source:   source,
		manager:  manager,
		resolver: pricing.NewResolver(cfg, manager, source, pricing.WithRecorder(rec)),
		recorder: rec,
		logs:     logs,
	}
}

func priceRow(id string, gross float64) pricing.Row {
	return pricing.Row{
		ID:            "row-" + id,
		ProductID:     id,
		QuantityStart: 1,
		Net:           gross / 1.2,
		Gross:         gross,
		CurrencyID:    "EUR",
		Stock:         5,
		Available:     true,
	}
}

// catalog answers batch queries from a fixed set of rows.
func catalog(rows ...pricing.Row) func(context.Context, []string, pricing.Context) ([]pricing.Row, error) {
	return func(_ context.Context, ids []string, _ pricing.Context) ([]pricing.Row, error) {
		var out []pricing.Row
		for _, r := range rows {
			if slices.Contains(ids, r.ProductID) {
				out = append(out, r)
			}
		}
		return out, nil
	}
}

func TestResolvePrices_OmitsUnknownProducts(t *testing.T) {
	f := newFixture(t)

	f.source.EXPECT().
		QueryBatchPrices(gomock.Any(), []string{"A", "B", "C"}, ctxEUR).
		DoAndReturn(catalog(priceRow("A", 12), priceRow("C", 30)))

	got := f.resolver.ResolvePrices(t.Context(), []string{"C", "A", "B", "A"}, ctxEUR)

	require.Len(t, got, 2)
	assert.Equal(t, 12.0, got["A"].GrossPrice)
	assert.Equal(t, 30.0, got["C"].GrossPrice)
	assert.NotContains(t, got, "B")
}

func TestResolvePrices_EmptyInputDoesNoIO(t *testing.T) {
	f := newFixture(t)

	got := f.resolver.ResolvePrices(t.Context(), nil, ctxEUR)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	got = f.resolver.ResolvePrices(t.Context(), []string{"", ""}, ctxEUR)
	assert.Empty(t, got)
	assert.Zero(t, f.manager.Statistics().Misses)
}

func TestResolvePrices_SecondCallServedFromCache(t *testing.T) {
	f := newFixture(t)

	f.source.EXPECT().
		QueryBatchPrices(gomock.Any(), gomock.Any(), ctxEUR).
		DoAndReturn(catalog(priceRow("p1", 10), priceRow("p2", 20))).
		Times(1)

	first := f.resolver.ResolvePrices(t.Context(), []string{"p1", "p2"}, ctxEUR)
	second := f.resolver.ResolvePrices(t.Context(), []string{"p2", "p1"}, ctxEUR)

	assert.Equal(t, first, second)
	assert.Equal(t, map[string]int{pricing.PathBatch: 1, pricing.PathCache: 1}, f.recorder.paths)
}

func TestResolvePrices_ContextsDoNotShareCache(t *testing.T) {
	f := newFixture(t)
	ctxUSD := pricing.Context{CurrencyID: "USD", VersionID: "live"}

	f.source.EXPECT().
		QueryBatchPrices(gomock.Any(), []string{"p1"}, ctxEUR).
		DoAndReturn(catalog(priceRow("p1", 10)))
	f.source.EXPECT().
		QueryBatchPrices(gomock.Any(), []string{"p1"}, ctxUSD).
		Return([]pricing.Row{{ID: "u", ProductID: "p1", CurrencyID: "USD", QuantityStart: 1, Gross: 11}}, nil)

	assert.Equal(t, "EUR", f.resolver.ResolvePrices(t.Context(), []string{"p1"}, ctxEUR)["p1"].CurrencyID)
	assert.Equal(t, "USD", f.resolver.ResolvePrices(t.Context(), []string{"p1"}, ctxUSD)["p1"].CurrencyID)
}

func TestResolvePrices_IDsWithSeparatorsDoNotShareCache(t *testing.T) {
	f := newFixture(t)
	rows := catalog(priceRow("a,b", 1), priceRow("c", 2), priceRow("a", 3), priceRow("b,c", 4))

	f.source.EXPECT().
		QueryBatchPrices(gomock.Any(), []string{"a,b", "c"}, ctxEUR).
		DoAndReturn(rows)
	f.source.EXPECT().
		QueryBatchPrices(gomock.Any(), []string{"a", "b,c"}, ctxEUR).
		DoAndReturn(rows)

	first := f.resolver.ResolvePrices(t.Context(), []string{"a,b", "c"}, ctxEUR)
	assert.ElementsMatch(t, []string{"a,b", "c"}, mapKeys(first))

	second := f.resolver.ResolvePrices(t.Context(), []string{"a", "b,c"}, ctxEUR)
	assert.ElementsMatch(t, []string{"a", "b,c"}, mapKeys(second))
	assert.InDelta(t, 4, second["b,c"].GrossPrice, 1e-9)
}

// staticCache answers every Get with the same encoded batch.
type staticCache struct {
	data []byte
}

func (c staticCache) Get(context.Context, string, []string, multi.Loader) ([]byte, error) {
	return c.data, nil
}

func (staticCache) InvalidateTags(context.Context, ...string) error { return nil }

func TestResolvePrices_CachedBatchIsLimitedToRequestedIDs(t *testing.T) {
	cfg, err := config.NewConfig(config.WithLogger(zap.NewNop()))
	require.NoError(t, err)

	at := time.Now()
	data, err := serialization.Marshal(cfg.Serialization.Encoder, map[string]pricing.Record{
		"A": pricing.NewRecord(priceRow("A", 10), at),
		"Z": pricing.NewRecord(priceRow("Z", 99), at),
	})
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	r := pricing.NewResolver(cfg, staticCache{data: data}, mocks.NewMockSource(ctrl))

	got := r.ResolvePrices(t.Context(), []string{"A", "B"}, ctxEUR)
	assert.Equal(t, []string{"A"}, mapKeys(got))
}

func mapKeys(m map[string]pricing.Record) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func TestResolvePrices_Chunking(t *testing.T) {
	f := newFixture(t, config.WithChunkSize(2))

	ids := []string{"p1", "p2", "p3", "p4", "p5"}
	var rows []pricing.Row
	for i, id := range ids {
		rows = append(rows, priceRow(id, float64(i+1)))
	}
	lookup := catalog(rows...)

	var (
		mu     sync.Mutex
		chunks [][]string
	)
	f.source.EXPECT().
		QueryBatchPrices(gomock.Any(), gomock.Any(), ctxEUR).
		DoAndReturn(func(ctx context.Context, chunk []string, pc pricing.Context) ([]pricing.Row, error) {
			mu.Lock()
			chunks = append(chunks, slices.Clone(chunk))
			mu.Unlock()
			return lookup(ctx, chunk, pc)
		}).
		Times(3)

	got := f.resolver.ResolvePrices(t.Context(), ids, ctxEUR)

	assert.Equal(t, [][]string{{"p1", "p2"}, {"p3", "p4"}, {"p5"}}, chunks)

	unbounded, err := pricing.NewBatchStrategy(fakeSource{rows: rows}, time.Now).Resolve(t.Context(), ids, ctxEUR)
	require.NoError(t, err)
	require.Len(t, got, len(unbounded))
	for id, rec := range unbounded {
		assert.Equal(t, rec.GrossPrice, got[id].GrossPrice, id)
	}
}

func TestResolvePrices_ConcurrentChunks(t *testing.T) {
	f := newFixture(t, config.WithChunkSize(3), config.WithChunkConcurrency(4))

	var ids []string
	var rows []pricing.Row
	for i := range 30 {
		id := string(rune('a'+i%26)) + string(rune('0'+i/26))
		ids = append(ids, id)
		rows = append(rows, priceRow(id, float64(i)))
	}

	f.source.EXPECT().
		QueryBatchPrices(gomock.Any(), gomock.Any(), ctxEUR).
		DoAndReturn(catalog(rows...)).
		Times(10)

	got := f.resolver.ResolvePrices(t.Context(), ids, ctxEUR)
	assert.Len(t, got, 30)
}

func TestResolvePrices_FallsBackPerItem(t *testing.T) {
	f := newFixture(t, config.WithChunkSize(2))
	errTimeout := errors.New("statement timeout")

	f.source.EXPECT().
		QueryBatchPrices(gomock.Any(), gomock.Any(), ctxEUR).
		DoAndReturn(func(ctx context.Context, chunk []string, pc pricing.Context) ([]pricing.Row, error) {
			if slices.Contains(chunk, "p1") {
				return nil, errTimeout
			}
			return catalog(priceRow("p3", 3), priceRow("p4", 4))(ctx, chunk, pc)
		}).
		Times(3)

	f.source.EXPECT().
		QuerySinglePrice(gomock.Any(), "p1", ctxEUR).
		Return(priceRow("p1", 1), true, nil).
		Times(2)
	f.source.EXPECT().
		QuerySinglePrice(gomock.Any(), "p2", ctxEUR).
		Return(pricing.Row{}, false, errors.New("connection reset")).
		Times(2)

	got := f.resolver.ResolvePrices(t.Context(), []string{"p1", "p2", "p3", "p4"}, ctxEUR)

	require.Len(t, got, 3)
	assert.Equal(t, 1.0, got["p1"].GrossPrice)
	assert.NotContains(t, got, "p2")
	assert.Equal(t, 3.0, got["p3"].GrossPrice)

	warns := f.logs.FilterMessage("Batch price query failed, resolving chunk per item").All()
	require.Len(t, warns, 1)
	assert.Equal(t, zapcore.WarnLevel, warns[0].Level)
	assert.EqualValues(t, 2, warns[0].ContextMap()["chunk_size"])

	errs := f.logs.FilterMessage("Item price query failed, omitting product").All()
	require.Len(t, errs, 1)
	assert.Equal(t, zapcore.ErrorLevel, errs[0].Level)
	assert.Equal(t, "p2", errs[0].ContextMap()["product_id"])

	assert.Equal(t, 1, f.recorder.resolved)
	assert.Equal(t, 1, f.recorder.omitted)

	// fallback results are not cached; the healthy chunk is
	again := f.resolver.ResolvePrices(t.Context(), []string{"p1", "p2", "p3", "p4"}, ctxEUR)
	assert.Equal(t, got["p1"].GrossPrice, again["p1"].GrossPrice)
	assert.Equal(t, 2, f.recorder.paths[pricing.PathFallback])
	assert.Equal(t, 1, f.recorder.paths[pricing.PathCache])
}

func TestResolvePrices_InvalidateProduct(t *testing.T) {
	f := newFixture(t)

	f.source.EXPECT().
		QueryBatchPrices(gomock.Any(), []string{"p1", "p2"}, ctxEUR).
		Return([]pricing.Row{priceRow("p1", 10), priceRow("p2", 20)}, nil)
	f.source.EXPECT().
		QueryBatchPrices(gomock.Any(), []string{"p1", "p2"}, ctxEUR).
		Return([]pricing.Row{priceRow("p1", 15), priceRow("p2", 20)}, nil)
	f.source.EXPECT().
		QueryBatchPrices(gomock.Any(), []string{"p1", "p2"}, ctxEUR).
		Return([]pricing.Row{priceRow("p1", 15), priceRow("p2", 25)}, nil)

	ids := []string{"p1", "p2"}
	assert.Equal(t, 10.0, f.resolver.ResolvePrices(t.Context(), ids, ctxEUR)["p1"].GrossPrice)

	require.NoError(t, f.resolver.InvalidateProduct(t.Context(), "p1"))
	assert.Equal(t, 15.0, f.resolver.ResolvePrices(t.Context(), ids, ctxEUR)["p1"].GrossPrice)

	require.NoError(t, f.resolver.InvalidateAll(t.Context()))
	assert.Equal(t, 25.0, f.resolver.ResolvePrices(t.Context(), ids, ctxEUR)["p2"].GrossPrice)
}

func TestResolvePrices_StrategiesAreReplaceable(t *testing.T) {
	f := newFixture(t)
	cfg, err := config.NewConfig(config.WithLogger(zap.NewNop()))
	require.NoError(t, err)

	batch := failingStrategy{}
	fallback := pricing.NewPerItemStrategy(f.source, time.Now, zap.NewNop())
	r := pricing.NewResolver(cfg, f.manager, f.source, pricing.WithStrategies(batch, fallback))

	f.source.EXPECT().QuerySinglePrice(gomock.Any(), "p9", ctxEUR).Return(priceRow("p9", 9), true, nil)

	got := r.ResolvePrices(t.Context(), []string{"p9"}, ctxEUR)
	assert.Equal(t, 9.0, got["p9"].GrossPrice)
}

type failingStrategy struct{}

func (failingStrategy) Resolve(context.Context, []string, pricing.Context) (map[string]pricing.Record, error) {
	return nil, pricing.ErrBatchQuery
}

type fakeSource struct {
	rows []pricing.Row
}

func (s fakeSource) QueryBatchPrices(ctx context.Context, ids []string, pc pricing.Context) ([]pricing.Row, error) {
	return catalog(s.rows...)(ctx, ids, pc)
}

func (s fakeSource) QuerySinglePrice(_ context.Context, id string, pc pricing.Context) (pricing.Row, bool, error) {
	row, ok := pricing.SelectBest(s.rows, pc)[id]
	return row, ok, nil
}
