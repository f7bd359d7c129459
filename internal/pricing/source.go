package pricing

import "context"

// Source is the system of record for prices.
//
//go:generate mockgen -source=source.go -destination=mocks/mock_source.go -package=mocks
type Source interface {
	// QueryBatchPrices returns the candidate price rows of every product in
	// productIDs in one round trip. Products without rows are simply absent.
	QueryBatchPrices(ctx context.Context, productIDs []string, pc Context) ([]Row, error)

	// QuerySinglePrice returns the preferred row of one product, or false
	// when it has none under pc.
	QuerySinglePrice(ctx context.Context, productID string, pc Context) (Row, bool, error)
}
