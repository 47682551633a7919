package repository

import (
	"context"

	"coinfeed/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

const createOHLCVTable = `
CREATE TABLE IF NOT EXISTS ohlcv_data (
    id          BIGSERIAL PRIMARY KEY,
    symbol      TEXT             NOT NULL,
    timestamp   BIGINT           NOT NULL,
    date        TEXT             NOT NULL,
    open        DOUBLE PRECISION NOT NULL,
    high        DOUBLE PRECISION NOT NULL,
    low         DOUBLE PRECISION NOT NULL,
    close       DOUBLE PRECISION NOT NULL,
    volume      DOUBLE PRECISION NOT NULL,
    UNIQUE (symbol, timestamp)
);

CREATE INDEX IF NOT EXISTS idx_ohlcv_symbol_timestamp
    ON ohlcv_data (symbol, timestamp);
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type CandleRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewCandleRepository(pool PgxPool, tracer trace.Tracer) *CandleRepository {
	return &CandleRepository{pool: pool, tracer: tracer}
}

func (r *CandleRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "candle-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createOHLCVTable)
	return err
}

// InsertIgnoreCandles writes a batch of candles, skipping rows whose
// (symbol, timestamp) already exists. Returns the number of rows
// actually inserted, so re-running the same range reports zero.
func (r *CandleRepository) InsertIgnoreCandles(ctx context.Context, candles []domain.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	_, span := r.tracer.Start(ctx, "candle-repo.insert-ignore-candles")
	defer span.End()

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(
			`INSERT INTO ohlcv_data (symbol, timestamp, date, open, high, low, close, volume)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (symbol, timestamp) DO NOTHING`,
			c.Symbol, c.Timestamp, c.Date, c.Open, c.High, c.Low, c.Close, c.Volume,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for range candles {
		tag, err := br.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// TimeBounds returns the min and max stored timestamp for a symbol.
// Both are nil when the store holds no rows for it.
func (r *CandleRepository) TimeBounds(ctx context.Context, symbol string) (*int64, *int64, error) {
	_, span := r.tracer.Start(ctx, "candle-repo.time-bounds")
	defer span.End()

	var minTs, maxTs *int64
	err := r.pool.QueryRow(ctx,
		`SELECT MIN(timestamp), MAX(timestamp) FROM ohlcv_data WHERE symbol = $1`,
		symbol,
	).Scan(&minTs, &maxTs)
	if err != nil {
		return nil, nil, err
	}
	return minTs, maxTs, nil
}

// LastTimestamp returns the newest stored timestamp for a symbol, nil
// when none.
func (r *CandleRepository) LastTimestamp(ctx context.Context, symbol string) (*int64, error) {
	_, span := r.tracer.Start(ctx, "candle-repo.last-timestamp")
	defer span.End()

	var ts *int64
	err := r.pool.QueryRow(ctx,
		`SELECT MAX(timestamp) FROM ohlcv_data WHERE symbol = $1`,
		symbol,
	).Scan(&ts)
	if err != nil {
		return nil, err
	}
	return ts, nil
}

// GetHistory returns the newest candles for a symbol in ascending
// timestamp order.
func (r *CandleRepository) GetHistory(ctx context.Context, symbol string, limit int) ([]domain.Candle, error) {
	_, span := r.tracer.Start(ctx, "candle-repo.get-history")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT symbol, timestamp, date, open, high, low, close, volume
		 FROM (
		     SELECT symbol, timestamp, date, open, high, low, close, volume
		     FROM ohlcv_data
		     WHERE symbol = $1
		     ORDER BY timestamp DESC
		     LIMIT $2
		 ) recent
		 ORDER BY timestamp ASC`,
		symbol, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(&c.Symbol, &c.Timestamp, &c.Date, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}
