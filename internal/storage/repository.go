package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	pq "github.com/lib/pq"

	"github.com/guttosm/quoteflow/internal/domain/models"
)

const insertBatchSQL = `INSERT INTO quote_batches (batch_key, filename, country, row_count) VALUES ($1, $2, $3, $4) ON CONFLICT (batch_key) DO NOTHING`

const latestQuoteSQL = `SELECT symbol, name, price, country, created_at FROM yahoo_finance WHERE symbol = $1 ORDER BY created_at DESC, id DESC LIMIT 1`

// QuotesRepository defines contract for DB operations.
type QuotesRepository interface {
	InsertQuotesBatch(ctx context.Context, batch models.Batch) (bool, error)
	LatestQuote(ctx context.Context, symbol string) (*models.Quote, error)
}

type quotesRepository struct {
	db *sql.DB
}

func NewQuotesRepository(db *sql.DB) QuotesRepository {
	return &quotesRepository{db: db}
}

// InsertQuotesBatch writes every row of one envelope in a single transaction.
//
// Behavior:
//   - Empty batch: no-op, no round trip.
//   - Records batch.Key in quote_batches first; if the key already exists the
//     transaction is rolled back and (false, nil) is returned, so a redelivered
//     envelope is never stored twice.
//   - Streams all rows through one COPY statement.
//   - Any failure rolls the whole batch back and is returned to the caller.
//
// Returns true when rows were committed.
func (r *quotesRepository) InsertQuotesBatch(ctx context.Context, batch models.Batch) (bool, error) {
	if len(batch.Rows) == 0 {
		return false, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}

	res, err := tx.ExecContext(ctx, insertBatchSQL, batch.Key, batch.Filename, batch.Country, len(batch.Rows))
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("record batch: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("record batch: %w", err)
	} else if n == 0 {
		_ = tx.Rollback()
		return false, nil
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(
		"yahoo_finance",
		"symbol",
		"name",
		"price",
		"country",
		"batch_key",
		"created_at",
	))
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("prepare copy: %w", err)
	}

	toNullString := func(s *string) interface{} {
		if s == nil {
			return nil
		}
		return *s
	}

	for _, q := range batch.Rows {
		if _, err := stmt.ExecContext(ctx,
			q.Symbol,
			toNullString(q.Name),
			q.Price,
			q.Country,
			batch.Key,
			q.CreatedAt,
		); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return false, fmt.Errorf("copy row %s: %w", q.Symbol, err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		_ = tx.Rollback()
		return false, fmt.Errorf("flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("close copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// LatestQuote returns the most recently stored quote for symbol, or nil when none exists.
func (r *quotesRepository) LatestQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	var (
		q       models.Quote
		symbolN sql.NullString
		name    sql.NullString
		country sql.NullString
	)
	err := r.db.QueryRowContext(ctx, latestQuoteSQL, symbol).Scan(&symbolN, &name, &q.Price, &country, &q.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	q.Symbol = symbolN.String
	q.Country = country.String
	if name.Valid {
		q.Name = &name.String
	}
	return &q, nil
}
