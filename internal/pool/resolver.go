package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/drosera/sniper/internal/raydium"
)

// ErrSkipTransaction reports a transaction whose account table does not
// cover the initialize2 index map. Some legitimate transaction shapes lack
// the trailing accounts, so callers skip these instead of failing.
var ErrSkipTransaction = errors.New("transaction account table too short for pool resolution")

// AccountFetcher is the slice of the RPC client the resolver needs for
// market enrichment.
type AccountFetcher interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// Resolver turns confirmed transactions into persisted pool records.
type Resolver struct {
	accounts  AccountFetcher
	store     Store
	programID solana.PublicKey
	logger    *slog.Logger
}

func NewResolver(accounts AccountFetcher, store Store, programID solana.PublicKey, logger *slog.Logger) *Resolver {
	return &Resolver{
		accounts:  accounts,
		store:     store,
		programID: programID,
		logger:    logger,
	}
}

// ProcessTransaction scans the transaction's instructions in order and
// resolves the first one owned by the AMM program that carries a payload.
// One pool per transaction is assumed. Returns ErrPoolNotFound when no
// instruction matches and ErrSkipTransaction when the account table cannot
// satisfy the index map.
func (r *Resolver) ProcessTransaction(ctx context.Context, tx *solana.Transaction) (*Record, error) {
	msg := &tx.Message

	for _, ix := range msg.Instructions {
		if int(ix.ProgramIDIndex) >= len(msg.AccountKeys) {
			continue
		}
		program := msg.AccountKeys[ix.ProgramIDIndex]
		if !program.Equals(r.programID) || len(ix.Data) == 0 {
			continue
		}
		return r.resolveInstruction(ctx, msg, ix)
	}

	return nil, ErrPoolNotFound
}

func (r *Resolver) resolveInstruction(ctx context.Context, msg *solana.Message, ix solana.CompiledInstruction) (*Record, error) {
	payload, err := raydium.DecodeInitPayload(ix.Data)
	if err != nil {
		return nil, err
	}

	account := func(position int) (solana.PublicKey, error) {
		if position >= len(ix.Accounts) {
			return solana.PublicKey{}, fmt.Errorf("%w: instruction account %d absent", ErrSkipTransaction, position)
		}
		keyIndex := ix.Accounts[position]
		if int(keyIndex) >= len(msg.AccountKeys) {
			return solana.PublicKey{}, fmt.Errorf("%w: account key index %d out of range", ErrSkipTransaction, keyIndex)
		}
		return msg.AccountKeys[keyIndex], nil
	}

	record := &Record{CreatedAt: time.Now().UTC()}
	for _, field := range []struct {
		position int
		dst      *solana.PublicKey
	}{
		{raydium.InitIdxProgram, &record.ProgramID},
		{raydium.InitIdxAmmID, &record.AmmID},
		{raydium.InitIdxAmmAuthority, &record.AmmAuthority},
		{raydium.InitIdxAmmOpenOrders, &record.AmmOpenOrders},
		{raydium.InitIdxLpMint, &record.LpMint},
		{raydium.InitIdxCoinMint, &record.TokenMint},
		{raydium.InitIdxPcMint, &record.SolMint},
		{raydium.InitIdxCoinVault, &record.TokenVault},
		{raydium.InitIdxPcVault, &record.SolVault},
		{raydium.InitIdxTargetOrders, &record.AmmTargetOrders},
		{raydium.InitIdxMarketProgram, &record.MarketProgramID},
		{raydium.InitIdxMarketID, &record.MarketID},
		{raydium.InitIdxDeployer, &record.Deployer},
		{raydium.InitIdxMarketBaseVault, &record.MarketBaseVault},
		{raydium.InitIdxMarketQuoteVault, &record.MarketQuoteVault},
		{raydium.InitIdxMarketAuthority, &record.MarketAuthority},
	} {
		key, err := account(field.position)
		if err != nil {
			return nil, err
		}
		*field.dst = key
	}

	record.OpenTime = payload.OpenTime
	record.InitCoinAmount = payload.InitCoinAmount
	record.InitPcAmount = payload.InitPcAmount
	record.ComputeInvariants()
	record.Normalize()

	// Best effort: a freshly created market account may not be visible yet.
	// The record is persisted either way and UpdateMarketExtras is the
	// retry path.
	if err := r.enrichFromMarket(ctx, record); err != nil {
		r.logger.Warn("market enrichment failed, persisting without order-book addresses",
			"market", record.MarketID, "err", err)
	}

	id, err := r.store.InsertRecord(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("persist pool record: %w", err)
	}
	record.ID = id

	r.logger.Info("pool record resolved",
		"id", record.ID,
		"amm", record.AmmID,
		"token", record.TokenMint,
		"wsol", record.IsWSOL,
		"init_coin", record.InitCoinAmount,
		"init_pc", record.InitPcAmount,
	)
	return record, nil
}

func (r *Resolver) enrichFromMarket(ctx context.Context, record *Record) error {
	info, err := r.accounts.GetAccountInfo(ctx, record.MarketID)
	if err != nil {
		return fmt.Errorf("fetch market account %s: %w", record.MarketID, err)
	}
	if info == nil || info.Value == nil {
		return fmt.Errorf("market account %s not found", record.MarketID)
	}

	extras, err := raydium.DecodeMarketExtras(info.Value.Data.GetBinary())
	if err != nil {
		return err
	}
	record.ApplyMarketExtras(extras)
	return nil
}

// Enrich retries order-book resolution for an already-persisted record and
// stores the addresses on success.
func (r *Resolver) Enrich(ctx context.Context, record *Record) error {
	if err := r.enrichFromMarket(ctx, record); err != nil {
		return err
	}
	return r.store.UpdateMarketExtras(ctx, record.ID, raydium.MarketExtras{
		EventQueue: record.MarketEventQueue,
		Bids:       record.MarketBids,
		Asks:       record.MarketAsks,
	})
}
