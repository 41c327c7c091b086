// Package pool defines the liquidity pool record discovered from Raydium
// initialize2 transactions, its persistence contract, and the resolver that
// builds records out of confirmed transactions.
package pool

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/drosera/sniper/internal/raydium"
)

// ErrPoolNotFound reports that no pool-creation instruction (or persisted
// record) matched the query. Best-effort scans treat it as an empty result.
var ErrPoolNotFound = errors.New("pool not found")

// IncompleteError reports a record that is missing fields required for a
// swap. The record itself stays persisted so a later enrichment can fill
// the gaps.
type IncompleteError struct {
	Missing []string
}

func (e *IncompleteError) Error() string {
	return "pool record incomplete: missing " + strings.Join(e.Missing, ", ")
}

// Record is one discovered liquidity pool. K and V are computed once from
// the initial reserve amounts and never change afterwards; the order-book
// addresses may stay zero until enrichment fills them.
type Record struct {
	ID int64

	ProgramID       solana.PublicKey
	AmmID           solana.PublicKey
	AmmAuthority    solana.PublicKey
	AmmOpenOrders   solana.PublicKey
	AmmTargetOrders solana.PublicKey
	LpMint          solana.PublicKey

	// TokenMint/TokenVault always hold the traded token side and
	// SolMint/SolVault the WSOL side after normalization.
	TokenMint  solana.PublicKey
	SolMint    solana.PublicKey
	TokenVault solana.PublicKey
	SolVault   solana.PublicKey

	Deployer solana.PublicKey

	MarketProgramID  solana.PublicKey
	MarketID         solana.PublicKey
	MarketAuthority  solana.PublicKey
	MarketBaseVault  solana.PublicKey
	MarketQuoteVault solana.PublicKey
	MarketBids       solana.PublicKey
	MarketAsks       solana.PublicKey
	MarketEventQueue solana.PublicKey

	OpenTime       uint64
	InitCoinAmount uint64
	InitPcAmount   uint64
	K              *big.Int
	V              float64

	IsWSOL    bool
	CreatedAt time.Time
}

// ComputeInvariants derives the constant product K and the baseline price V
// from the initial reserve amounts. Called exactly once when the record is
// assembled; both values are immutable afterwards.
func (r *Record) ComputeInvariants() {
	coin := new(big.Int).SetUint64(r.InitCoinAmount)
	pc := new(big.Int).SetUint64(r.InitPcAmount)
	r.K = coin.Mul(coin, pc)

	lo, hi := r.InitCoinAmount, r.InitPcAmount
	if lo > hi {
		lo, hi = hi, lo
	}
	if hi == 0 {
		r.V = 0
		return
	}
	r.V = float64(lo) / float64(hi)
}

// Normalize swaps the token and SOL roles when the traded mint came out of
// the instruction on the WSOL side, and flags the record for wrap/unwrap
// handling. A record whose TokenMint is not WSOL passes through untouched,
// so applying Normalize to an already-normalized record is a no-op.
func (r *Record) Normalize() {
	if !r.TokenMint.Equals(raydium.WSOLMint) {
		return
	}
	r.IsWSOL = true
	r.TokenMint, r.SolMint = r.SolMint, r.TokenMint
	r.TokenVault, r.SolVault = r.SolVault, r.TokenVault
}

// Validate checks every field a swap compilation requires and reports all
// missing ones at once.
func (r *Record) Validate() error {
	required := []struct {
		name string
		key  solana.PublicKey
	}{
		{"ammId", r.AmmID},
		{"ammAuthority", r.AmmAuthority},
		{"ammOpenOrders", r.AmmOpenOrders},
		{"tokenVault", r.TokenVault},
		{"solVault", r.SolVault},
		{"marketProgramId", r.MarketProgramID},
		{"marketId", r.MarketID},
		{"marketBids", r.MarketBids},
		{"marketAsks", r.MarketAsks},
		{"marketEventQueue", r.MarketEventQueue},
		{"marketBaseVault", r.MarketBaseVault},
		{"marketQuoteVault", r.MarketQuoteVault},
		{"marketAuthority", r.MarketAuthority},
		{"programId", r.ProgramID},
	}

	var missing []string
	for _, field := range required {
		if field.key.IsZero() {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return &IncompleteError{Missing: missing}
	}
	return nil
}

// ApplyMarketExtras fills the order-book addresses from a decoded market
// account.
func (r *Record) ApplyMarketExtras(extras raydium.MarketExtras) {
	r.MarketEventQueue = extras.EventQueue
	r.MarketBids = extras.Bids
	r.MarketAsks = extras.Asks
}

func (r *Record) String() string {
	return fmt.Sprintf("pool{id=%d amm=%s token=%s}", r.ID, r.AmmID, r.TokenMint)
}
