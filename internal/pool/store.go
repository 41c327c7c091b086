package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/drosera/sniper/internal/raydium"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store persists pool records. The core treats ids as opaque beyond
// equality and lookup.
type Store interface {
	InsertRecord(ctx context.Context, record *Record) (int64, error)
	FindRecord(ctx context.Context, id int64) (*Record, error)
	UpdateMarketExtras(ctx context.Context, id int64, extras raydium.MarketExtras) error
}

// PostgresStore keeps pool records in a single Postgres table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS pool_records (
		id BIGSERIAL PRIMARY KEY,
		program_id TEXT NOT NULL,
		amm_id TEXT NOT NULL,
		amm_authority TEXT NOT NULL,
		amm_open_orders TEXT NOT NULL,
		amm_target_orders TEXT NOT NULL,
		lp_mint TEXT NOT NULL,
		token_mint TEXT NOT NULL,
		sol_mint TEXT NOT NULL,
		token_vault TEXT NOT NULL,
		sol_vault TEXT NOT NULL,
		deployer TEXT NOT NULL,
		market_program_id TEXT NOT NULL,
		market_id TEXT NOT NULL,
		market_authority TEXT NOT NULL,
		market_base_vault TEXT NOT NULL,
		market_quote_vault TEXT NOT NULL,
		market_bids TEXT NOT NULL DEFAULT '',
		market_asks TEXT NOT NULL DEFAULT '',
		market_event_queue TEXT NOT NULL DEFAULT '',
		open_time BIGINT NOT NULL,
		init_coin_amount NUMERIC NOT NULL,
		init_pc_amount NUMERIC NOT NULL,
		k TEXT NOT NULL,
		v DOUBLE PRECISION NOT NULL,
		is_wsol BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);`

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate pool_records: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertRecord(ctx context.Context, record *Record) (int64, error) {
	const query = `INSERT INTO pool_records (
		program_id, amm_id, amm_authority, amm_open_orders, amm_target_orders,
		lp_mint, token_mint, sol_mint, token_vault, sol_vault, deployer,
		market_program_id, market_id, market_authority, market_base_vault,
		market_quote_vault, market_bids, market_asks, market_event_queue,
		open_time, init_coin_amount, init_pc_amount, k, v, is_wsol, created_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26
	) RETURNING id`

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		record.ProgramID.String(),
		record.AmmID.String(),
		record.AmmAuthority.String(),
		record.AmmOpenOrders.String(),
		record.AmmTargetOrders.String(),
		record.LpMint.String(),
		record.TokenMint.String(),
		record.SolMint.String(),
		record.TokenVault.String(),
		record.SolVault.String(),
		record.Deployer.String(),
		record.MarketProgramID.String(),
		record.MarketID.String(),
		record.MarketAuthority.String(),
		record.MarketBaseVault.String(),
		record.MarketQuoteVault.String(),
		pubkeyText(record.MarketBids),
		pubkeyText(record.MarketAsks),
		pubkeyText(record.MarketEventQueue),
		int64(record.OpenTime),
		record.InitCoinAmount,
		record.InitPcAmount,
		record.K.String(),
		record.V,
		record.IsWSOL,
		record.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert pool record: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) FindRecord(ctx context.Context, id int64) (*Record, error) {
	const query = `SELECT
		id, program_id, amm_id, amm_authority, amm_open_orders,
		amm_target_orders, lp_mint, token_mint, sol_mint, token_vault,
		sol_vault, deployer, market_program_id, market_id, market_authority,
		market_base_vault, market_quote_vault, market_bids, market_asks,
		market_event_queue, open_time, init_coin_amount, init_pc_amount,
		k, v, is_wsol, created_at
	FROM pool_records WHERE id = $1`

	row := s.db.QueryRowContext(ctx, query, id)

	var (
		record   Record
		keys     [19]string
		openTime int64
		kText    string
	)
	err := row.Scan(
		&record.ID,
		&keys[0], &keys[1], &keys[2], &keys[3], &keys[4], &keys[5],
		&keys[6], &keys[7], &keys[8], &keys[9], &keys[10], &keys[11],
		&keys[12], &keys[13], &keys[14], &keys[15], &keys[16], &keys[17],
		&keys[18],
		&openTime,
		&record.InitCoinAmount,
		&record.InitPcAmount,
		&kText,
		&record.V,
		&record.IsWSOL,
		&record.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find pool record %d: %w", id, err)
	}

	record.OpenTime = uint64(openTime)
	k, ok := new(big.Int).SetString(kText, 10)
	if !ok {
		return nil, fmt.Errorf("pool record %d: corrupt invariant %q", id, kText)
	}
	record.K = k

	targets := []*solana.PublicKey{
		&record.ProgramID, &record.AmmID, &record.AmmAuthority,
		&record.AmmOpenOrders, &record.AmmTargetOrders, &record.LpMint,
		&record.TokenMint, &record.SolMint, &record.TokenVault,
		&record.SolVault, &record.Deployer, &record.MarketProgramID,
		&record.MarketID, &record.MarketAuthority, &record.MarketBaseVault,
		&record.MarketQuoteVault, &record.MarketBids, &record.MarketAsks,
		&record.MarketEventQueue,
	}
	for i, target := range targets {
		if keys[i] == "" {
			continue
		}
		key, err := solana.PublicKeyFromBase58(keys[i])
		if err != nil {
			return nil, fmt.Errorf("pool record %d: corrupt address %q: %w", id, keys[i], err)
		}
		*target = key
	}

	return &record, nil
}

func (s *PostgresStore) UpdateMarketExtras(ctx context.Context, id int64, extras raydium.MarketExtras) error {
	const query = `UPDATE pool_records
		SET market_bids = $2, market_asks = $3, market_event_queue = $4
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, id,
		extras.Bids.String(), extras.Asks.String(), extras.EventQueue.String())
	if err != nil {
		return fmt.Errorf("update market extras for record %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrPoolNotFound
	}
	return nil
}

func pubkeyText(key solana.PublicKey) string {
	if key.IsZero() {
		return ""
	}
	return key.String()
}
