package repository

import (
	"context"
	"errors"

	"coinfeed/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

const createUniverseTables = `
CREATE TABLE IF NOT EXISTS top_coins (
    coin_id          TEXT PRIMARY KEY,
    symbol           TEXT             NOT NULL,
    name             TEXT             NOT NULL,
    market_cap_rank  INTEGER          NOT NULL,
    price            DOUBLE PRECISION NOT NULL,
    market_cap       DOUBLE PRECISION NOT NULL,
    volume_24h       DOUBLE PRECISION NOT NULL,
    liquidity_score  DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS meta_info (
    id                   INTEGER PRIMARY KEY,
    last_top1000_update  TEXT
);

INSERT INTO meta_info (id, last_top1000_update)
VALUES (1, NULL)
ON CONFLICT (id) DO NOTHING;
`

// UniverseRepository persists the daily top-coins cache and the
// singleton refresh stamp.
type UniverseRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewUniverseRepository(pool PgxPool, tracer trace.Tracer) *UniverseRepository {
	return &UniverseRepository{pool: pool, tracer: tracer}
}

func (r *UniverseRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "universe-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createUniverseTables)
	return err
}

// ReplaceTopCoins swaps the whole universe cache in one transaction:
// delete-all then bulk insert.
func (r *UniverseRepository) ReplaceTopCoins(ctx context.Context, coins []domain.CoinSnapshot) error {
	_, span := r.tracer.Start(ctx, "universe-repo.replace-top-coins")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM top_coins`); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, c := range coins {
		batch.Queue(
			`INSERT INTO top_coins (coin_id, symbol, name, market_cap_rank, price, market_cap, volume_24h, liquidity_score)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.CoinID, c.Symbol, c.Name, c.MarketCapRank, c.Price, c.MarketCap, c.Volume24h, c.LiquidityScore,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range coins {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListTopCoins returns the cached universe in rank order.
func (r *UniverseRepository) ListTopCoins(ctx context.Context) ([]domain.CoinSnapshot, error) {
	_, span := r.tracer.Start(ctx, "universe-repo.list-top-coins")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT coin_id, symbol, name, market_cap_rank, price, market_cap, volume_24h, liquidity_score
		 FROM top_coins
		 ORDER BY market_cap_rank ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var coins []domain.CoinSnapshot
	for rows.Next() {
		var c domain.CoinSnapshot
		if err := rows.Scan(&c.CoinID, &c.Symbol, &c.Name, &c.MarketCapRank, &c.Price, &c.MarketCap, &c.Volume24h, &c.LiquidityScore); err != nil {
			return nil, err
		}
		coins = append(coins, c)
	}
	return coins, rows.Err()
}

// FindBySymbol returns the cached coin with the given ticker symbol,
// or nil when the universe does not hold it.
func (r *UniverseRepository) FindBySymbol(ctx context.Context, symbol string) (*domain.CoinSnapshot, error) {
	_, span := r.tracer.Start(ctx, "universe-repo.find-by-symbol")
	defer span.End()

	var c domain.CoinSnapshot
	err := r.pool.QueryRow(ctx,
		`SELECT coin_id, symbol, name, market_cap_rank, price, market_cap, volume_24h, liquidity_score
		 FROM top_coins
		 WHERE symbol = $1
		 ORDER BY market_cap_rank ASC
		 LIMIT 1`,
		symbol,
	).Scan(&c.CoinID, &c.Symbol, &c.Name, &c.MarketCapRank, &c.Price, &c.MarketCap, &c.Volume24h, &c.LiquidityScore)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// LastUniverseUpdate returns the stamped refresh date (YYYY-MM-DD), or
// "" when the universe has never been refreshed.
func (r *UniverseRepository) LastUniverseUpdate(ctx context.Context) (string, error) {
	_, span := r.tracer.Start(ctx, "universe-repo.last-universe-update")
	defer span.End()

	var date *string
	err := r.pool.QueryRow(ctx, `SELECT last_top1000_update FROM meta_info WHERE id = 1`).Scan(&date)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if date == nil {
		return "", nil
	}
	return *date, nil
}

// SetLastUniverseUpdate stamps the refresh date. Called only after a
// genuine replace.
func (r *UniverseRepository) SetLastUniverseUpdate(ctx context.Context, date string) error {
	_, span := r.tracer.Start(ctx, "universe-repo.set-last-universe-update")
	defer span.End()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO meta_info (id, last_top1000_update) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET last_top1000_update = EXCLUDED.last_top1000_update`,
		date,
	)
	return err
}
