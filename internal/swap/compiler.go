// Package swap compiles pool swap intents into ready-to-sign instruction
// batches. The compiler never signs or submits anything.
package swap

import (
	"errors"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/drosera/sniper/internal/pool"
	"github.com/drosera/sniper/internal/raydium"
)

// ErrInvalidAmount reports a swap amount that scales to a non-positive raw
// value.
var ErrInvalidAmount = errors.New("swap amount must scale to a positive raw value")

const (
	// DefaultDecimals is assumed when an intent does not carry the asset's
	// decimal precision.
	DefaultDecimals = 9

	DefaultComputeUnitLimit              = 200_000
	DefaultComputeUnitPriceMicroLamports = 10_000
)

// Intent is one swap request against a resolved pool.
type Intent struct {
	Source      solana.PublicKey
	Destination solana.PublicKey
	// Amount is human-scale; the compiler converts it to raw units.
	Amount    float64
	Direction raydium.SwapDirection
	// Decimals of the amount's asset; zero means DefaultDecimals.
	Decimals uint8
}

// Compiler builds instruction batches for one owner wallet.
type Compiler struct {
	owner           solana.PublicKey
	computeLimit    uint32
	computePriceMLP uint64
}

func NewCompiler(owner solana.PublicKey, computeUnitLimit uint32, computeUnitPriceMicroLamports uint64) *Compiler {
	if computeUnitLimit == 0 {
		computeUnitLimit = DefaultComputeUnitLimit
	}
	if computeUnitPriceMicroLamports == 0 {
		computeUnitPriceMicroLamports = DefaultComputeUnitPriceMicroLamports
	}
	return &Compiler{
		owner:           owner,
		computeLimit:    computeUnitLimit,
		computePriceMLP: computeUnitPriceMicroLamports,
	}
}

// Compile produces the full ordered instruction batch for the intent:
// compute-budget preamble, the optional WSOL wrap steps, the swap itself
// and the wrapped-account close. The record must carry every address the
// swap program requires.
func (c *Compiler) Compile(record *pool.Record, intent Intent) ([]solana.Instruction, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}

	rawAmount, err := scaleAmount(intent.Amount, intent.Decimals)
	if err != nil {
		return nil, err
	}

	limitIx, err := computebudget.NewSetComputeUnitLimitInstruction(c.computeLimit).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build compute unit limit instruction: %w", err)
	}
	priceIx, err := computebudget.NewSetComputeUnitPriceInstruction(c.computePriceMLP).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build compute unit price instruction: %w", err)
	}

	instructions := []solana.Instruction{limitIx, priceIx}

	source := intent.Source
	var wsolAccount solana.PublicKey
	if record.IsWSOL {
		wsolAccount, _, err = solana.FindAssociatedTokenAddress(c.owner, raydium.WSOLMint)
		if err != nil {
			return nil, fmt.Errorf("derive wrapped SOL account: %w", err)
		}

		wrapIx, err := system.NewTransferInstruction(rawAmount, c.owner, wsolAccount).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build wrap transfer instruction: %w", err)
		}
		createIx, err := associatedtokenaccount.NewCreateInstruction(c.owner, c.owner, raydium.WSOLMint).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build wrapped account creation instruction: %w", err)
		}
		instructions = append(instructions, wrapIx, createIx)
		source = wsolAccount
	}

	instructions = append(instructions, c.swapInstruction(record, source, intent.Destination, intent.Direction, rawAmount))

	if record.IsWSOL {
		// The temporary wrapped account must never hold balance across
		// calls.
		closeIx, err := token.NewCloseAccountInstruction(wsolAccount, c.owner, c.owner, nil).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build wrapped account close instruction: %w", err)
		}
		instructions = append(instructions, closeIx)
	}

	return instructions, nil
}

// swapInstruction assembles the Raydium swap with its fixed account order.
// Only the owner signs.
func (c *Compiler) swapInstruction(record *pool.Record, source, destination solana.PublicKey, direction raydium.SwapDirection, rawAmount uint64) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(record.AmmID, true, false),
		solana.NewAccountMeta(record.AmmAuthority, false, false),
		solana.NewAccountMeta(record.AmmOpenOrders, true, false),
		solana.NewAccountMeta(record.TokenVault, true, false),
		solana.NewAccountMeta(record.SolVault, true, false),
		solana.NewAccountMeta(record.MarketProgramID, false, false),
		solana.NewAccountMeta(record.MarketID, true, false),
		solana.NewAccountMeta(record.MarketBids, true, false),
		solana.NewAccountMeta(record.MarketAsks, true, false),
		solana.NewAccountMeta(record.MarketEventQueue, true, false),
		solana.NewAccountMeta(record.MarketBaseVault, true, false),
		solana.NewAccountMeta(record.MarketQuoteVault, true, false),
		solana.NewAccountMeta(record.MarketAuthority, false, false),
		solana.NewAccountMeta(source, true, false),
		solana.NewAccountMeta(destination, true, false),
		solana.NewAccountMeta(c.owner, false, true),
	}

	return solana.NewInstruction(record.ProgramID, accounts, raydium.EncodeSwapData(direction, rawAmount))
}

func scaleAmount(amount float64, decimals uint8) (uint64, error) {
	if decimals == 0 {
		decimals = DefaultDecimals
	}
	scaled := math.Floor(amount * math.Pow10(int(decimals)))
	if scaled <= 0 || math.IsNaN(scaled) {
		return 0, fmt.Errorf("%w: amount=%v decimals=%d", ErrInvalidAmount, amount, decimals)
	}
	if scaled > math.MaxUint64 {
		return 0, fmt.Errorf("%w: amount=%v overflows u64", ErrInvalidAmount, amount)
	}
	return uint64(scaled), nil
}
