// Package catalog reads candidate price rows from PostgreSQL.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"goflare.io/wishcache/internal/pricing"
)

var _ pricing.Source = (*PostgresSource)(nil)

// ErrNoDSN is returned by Open for an empty connection string.
var ErrNoDSN = errors.New("catalog: empty connection string")

// Candidate rows of the requested products. $1 product ids, $2 catalog
// version, $3 currency, $4 active rule ids. Ranking happens in Go.
const (
	batchQuery = `
SELECT pp.id, pp.product_id, COALESCE(pp.rule_id, ''), COALESCE(r.scope, 0), COALESCE(r.priority, 0),
       pp.quantity_start, COALESCE(pp.quantity_end, 0), pp.net, pp.gross, pp.currency_id,
       p.stock, p.available
FROM product_price pp
JOIN product p ON p.id = pp.product_id AND p.version_id = pp.version_id
LEFT JOIN rule r ON r.id = pp.rule_id
WHERE pp.product_id = ANY($1)
  AND pp.version_id = $2
  AND pp.currency_id = $3
  AND (pp.rule_id IS NULL OR pp.rule_id = ANY($4))
  AND pp.quantity_start <= 1`

	singleQuery = `
SELECT pp.id, pp.product_id, COALESCE(pp.rule_id, ''), COALESCE(r.scope, 0), COALESCE(r.priority, 0),
       pp.quantity_start, COALESCE(pp.quantity_end, 0), pp.net, pp.gross, pp.currency_id,
       p.stock, p.available
FROM product_price pp
JOIN product p ON p.id = pp.product_id AND p.version_id = pp.version_id
LEFT JOIN rule r ON r.id = pp.rule_id
WHERE pp.product_id = $1
  AND pp.version_id = $2
  AND pp.currency_id = $3
  AND (pp.rule_id IS NULL OR pp.rule_id = ANY($4))
  AND pp.quantity_start <= 1`
)

// PostgresSource implements pricing.Source on top of database/sql.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource wraps an open database handle.
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// Open connects to dsn and pings the server before returning.
func Open(ctx context.Context, dsn string) (*PostgresSource, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping catalog database: %w", err)
	}
	return NewPostgresSource(db), nil
}

// QueryBatchPrices returns every candidate row of productIDs in one query.
func (s *PostgresSource) QueryBatchPrices(ctx context.Context, productIDs []string, pc pricing.Context) ([]pricing.Row, error) {
	return s.query(ctx, batchQuery, pq.Array(productIDs), pc.VersionID, pc.CurrencyID, pq.Array(ruleIDs(pc)))
}

// QuerySinglePrice returns the preferred row of one product.
func (s *PostgresSource) QuerySinglePrice(ctx context.Context, productID string, pc pricing.Context) (pricing.Row, bool, error) {
	rows, err := s.query(ctx, singleQuery, productID, pc.VersionID, pc.CurrencyID, pq.Array(ruleIDs(pc)))
	if err != nil {
		return pricing.Row{}, false, err
	}
	row, ok := pricing.SelectBest(rows, pc)[productID]
	return row, ok, nil
}

// Close closes the database handle.
func (s *PostgresSource) Close() error {
	return s.db.Close()
}

func (s *PostgresSource) query(ctx context.Context, q string, args ...any) ([]pricing.Row, error) {
	rs, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rs.Close()

	var out []pricing.Row
	for rs.Next() {
		var r pricing.Row
		if err := rs.Scan(
			&r.ID, &r.ProductID, &r.RuleID, &r.Scope, &r.Priority,
			&r.QuantityStart, &r.QuantityEnd, &r.Net, &r.Gross, &r.CurrencyID,
			&r.Stock, &r.Available,
		); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		out = append(out, r)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("failed to read price rows: %w", err)
	}
	return out, nil
}

// ruleIDs never returns nil so ANY($4) binds an empty array, not NULL.
func ruleIDs(pc pricing.Context) []string {
	if pc.RuleIDs == nil {
		return []string{}
	}
	return pc.RuleIDs
}
