package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrBatchQuery marks a failed batched price query.
	ErrBatchQuery = errors.New("batch price query failed")
	// ErrItemQuery marks a failed single-product price query.
	ErrItemQuery = errors.New("item price query failed")
)

// Strategy resolves the prices of one chunk of product ids.
type Strategy interface {
	Resolve(ctx context.Context, productIDs []string, pc Context) (map[string]Record, error)
}

// BatchStrategy resolves a chunk with a single query.
type BatchStrategy struct {
	source Source
	now    func() time.Time
}

// NewBatchStrategy returns a strategy issuing one query per chunk.
func NewBatchStrategy(source Source, now func() time.Time) *BatchStrategy {
	return &BatchStrategy{source: source, now: now}
}

// Resolve fails as a whole when the query fails.
func (s *BatchStrategy) Resolve(ctx context.Context, productIDs []string, pc Context) (map[string]Record, error) {
	rows, err := s.source.QueryBatchPrices(ctx, productIDs, pc)
	if err != nil {
		return nil, fmt.Errorf("%w: %d ids: %w", ErrBatchQuery, len(productIDs), err)
	}

	best := SelectBest(rows, pc)
	at := s.now()
	out := make(map[string]Record, len(best))
	for _, id := range productIDs {
		if row, ok := best[id]; ok {
			out[id] = NewRecord(row, at)
		}
	}
	return out, nil
}

// PerItemStrategy resolves a chunk one product at a time. It never fails:
// a product whose query fails is logged and left out.
type PerItemStrategy struct {
	source Source
	now    func() time.Time
	logger *zap.Logger
}

// NewPerItemStrategy returns the degraded per-product strategy.
func NewPerItemStrategy(source Source, now func() time.Time, logger *zap.Logger) *PerItemStrategy {
	return &PerItemStrategy{source: source, now: now, logger: logger}
}

func (s *PerItemStrategy) Resolve(ctx context.Context, productIDs []string, pc Context) (map[string]Record, error) {
	out := make(map[string]Record, len(productIDs))
	for i, id := range productIDs {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("Per-item price resolution cancelled",
				zap.Int("remaining", len(productIDs)-i),
				zap.Error(err),
			)
			break
		}

		row, found, err := s.source.QuerySinglePrice(ctx, id, pc)
		if err != nil {
			s.logger.Error("Item price query failed, omitting product",
				zap.String("product_id", id),
				zap.Error(fmt.Errorf("%w: %w", ErrItemQuery, err)),
			)
			continue
		}
		if !found || !Applies(row, pc) {
			continue
		}
		row.ProductID = id
		out[id] = NewRecord(row, s.now())
	}
	return out, nil
}
