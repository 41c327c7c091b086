// Package sniper drives the buy-watch-sell lifecycle of a single pool
// position and the discovery loop that opens positions on freshly created
// pools.
package sniper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/drosera/sniper/internal/pool"
	"github.com/drosera/sniper/internal/pricing"
	"github.com/drosera/sniper/internal/raydium"
	"github.com/drosera/sniper/internal/swap"
)

// MinSOLReserveLamports is kept aside for fees and rent; a buy never spends
// the wallet below it.
const MinSOLReserveLamports = 50_000_000

const lamportsPerSOL = 1_000_000_000

var (
	ErrInvalidState        = errors.New("operation not allowed in current position state")
	ErrInsufficientBalance = errors.New("wallet balance below buy amount plus reserve")
	ErrAlreadyWatching     = errors.New("position already has an active watch")
)

// State is the lifecycle phase of a position.
type State int

const (
	StateIdle State = iota
	StateBought
	StateWatching
	StateSold
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBought:
		return "bought"
	case StateWatching:
		return "watching"
	case StateSold:
		return "sold"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// WatchMode selects how vault balance changes reach the position.
type WatchMode string

const (
	WatchModePoll      WatchMode = "poll"
	WatchModeSubscribe WatchMode = "subscribe"
)

// BalanceReader reads lamport balances of accounts.
type BalanceReader interface {
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// Submitter signs and lands an instruction batch, returning the confirmed
// signature.
type Submitter interface {
	Submit(ctx context.Context, instructions []solana.Instruction) (solana.Signature, error)
}

// InstructionCompiler turns a swap intent against a pool into instructions.
type InstructionCompiler interface {
	Compile(record *pool.Record, intent swap.Intent) ([]solana.Instruction, error)
}

// VaultWatcher pushes lamport balance updates for an account. The returned
// cancel tears the subscription down and must be safe to call repeatedly.
type VaultWatcher interface {
	WatchAccount(ctx context.Context, account solana.PublicKey, onLamports func(uint64)) (cancel func(), err error)
}

// Position tracks one pool from buy to sell. All transitions are serialized
// behind the mutex; the sell fires at most once no matter how many balance
// observations race past the target.
type Position struct {
	record       *pool.Record
	owner        solana.PublicKey
	tokenAccount solana.PublicKey

	compiler  InstructionCompiler
	submitter Submitter
	balances  BalanceReader
	watcher   VaultWatcher
	logger    *slog.Logger

	mu            sync.Mutex
	state         State
	buyAmount     float64
	sellTargetPct float64
	targetPrice   float64
	sellInFlight  bool
	watchCancel   func()
}

func NewPosition(record *pool.Record, owner solana.PublicKey, compiler InstructionCompiler, submitter Submitter, balances BalanceReader, watcher VaultWatcher, logger *slog.Logger) (*Position, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}
	tokenAccount, _, err := solana.FindAssociatedTokenAddress(owner, record.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("derive token account: %w", err)
	}
	return &Position{
		record:       record,
		owner:        owner,
		tokenAccount: tokenAccount,
		compiler:     compiler,
		submitter:    submitter,
		balances:     balances,
		watcher:      watcher,
		logger:       logger.With("pool", record.AmmID.String()),
		state:        StateIdle,
		targetPrice:  record.V,
	}, nil
}

// State reports the current lifecycle phase.
func (p *Position) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetBuyAmount sets the SOL amount to spend on the buy. Only allowed before
// the position starts watching.
func (p *Position) SetBuyAmount(amount float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateIdle && p.state != StateBought {
		return fmt.Errorf("%w: set buy amount in %s", ErrInvalidState, p.state)
	}
	p.buyAmount = amount
	return nil
}

// SetSellTargetPercentage sets the uplift over the pool's baseline price at
// which the position sells, and recomputes the absolute target.
func (p *Position) SetSellTargetPercentage(pct float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateIdle && p.state != StateBought {
		return fmt.Errorf("%w: set sell target in %s", ErrInvalidState, p.state)
	}
	p.sellTargetPct = pct
	p.targetPrice = pricing.TargetSellPrice(p.record.V, pct)
	return nil
}

// Buy spends the configured SOL amount on the pool's token. On failure the
// position stays idle and can be retried.
func (p *Position) Buy(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return fmt.Errorf("%w: buy in %s", ErrInvalidState, p.state)
	}
	amount := p.buyAmount
	p.mu.Unlock()

	balance, err := p.balances.GetBalance(ctx, p.owner)
	if err != nil {
		return fmt.Errorf("read wallet balance: %w", err)
	}
	needed := uint64(amount*lamportsPerSOL) + MinSOLReserveLamports
	if balance < needed {
		return fmt.Errorf("%w: have %d lamports, need %d", ErrInsufficientBalance, balance, needed)
	}

	instructions, err := p.compiler.Compile(p.record, swap.Intent{
		Source:      p.record.SolVault,
		Destination: p.tokenAccount,
		Amount:      amount,
		Direction:   raydium.SwapBaseIn,
	})
	if err != nil {
		return fmt.Errorf("compile buy: %w", err)
	}

	signature, err := p.submitter.Submit(ctx, instructions)
	if err != nil {
		return fmt.Errorf("submit buy: %w", err)
	}

	p.mu.Lock()
	p.state = StateBought
	p.mu.Unlock()

	p.logger.Info("position bought",
		"amount_sol", amount,
		"signature", signature.String(),
		"target_price", p.targetPrice)
	return nil
}

// Watch starts observing the pool's SOL vault until the target price hits or
// the watch is cancelled. Poll mode reads the balance on a ticker; subscribe
// mode takes pushed updates from the watcher. The two are mutually exclusive
// per position.
func (p *Position) Watch(ctx context.Context, mode WatchMode, interval time.Duration) error {
	p.mu.Lock()
	if p.state != StateBought {
		p.mu.Unlock()
		if p.state == StateWatching {
			return ErrAlreadyWatching
		}
		return fmt.Errorf("%w: watch in %s", ErrInvalidState, p.state)
	}
	p.state = StateWatching
	p.mu.Unlock()

	switch mode {
	case WatchModeSubscribe:
		cancel, err := p.watcher.WatchAccount(ctx, p.record.SolVault, func(lamports uint64) {
			p.observe(ctx, lamports)
		})
		if err != nil {
			p.mu.Lock()
			p.state = StateBought
			p.mu.Unlock()
			return fmt.Errorf("subscribe to vault: %w", err)
		}
		p.mu.Lock()
		p.watchCancel = cancel
		p.mu.Unlock()
	case WatchModePoll:
		pollCtx, cancel := context.WithCancel(ctx)
		p.mu.Lock()
		p.watchCancel = cancel
		p.mu.Unlock()
		go p.pollLoop(pollCtx, interval)
	default:
		p.mu.Lock()
		p.state = StateBought
		p.mu.Unlock()
		return fmt.Errorf("unknown watch mode %q", mode)
	}

	p.logger.Info("watching vault",
		"vault", p.record.SolVault.String(),
		"mode", string(mode),
		"target_price", p.targetPrice)
	return nil
}

func (p *Position) pollLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lamports, err := p.balances.GetBalance(ctx, p.record.SolVault)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Warn("vault balance read failed", "error", err)
				}
				continue
			}
			p.observe(ctx, lamports)
		}
	}
}

// observe evaluates one vault balance against the target. The in-flight flag
// closes the race between concurrent observations: only the first one past
// the target sells.
func (p *Position) observe(ctx context.Context, lamports uint64) {
	p.mu.Lock()
	if p.state != StateWatching || p.sellInFlight {
		p.mu.Unlock()
		return
	}

	balance := float64(lamports) / lamportsPerSOL
	price := pricing.PoolPrice(balance, p.record.K)
	if price < p.targetPrice {
		p.mu.Unlock()
		return
	}
	p.sellInFlight = true
	amount := p.buyAmount
	p.mu.Unlock()

	p.logger.Info("target price reached", "price", price, "target", p.targetPrice)
	p.sell(ctx, amount)
}

// sell fires the one sell of the position's lifetime and tears the watch
// down whether it lands or not.
func (p *Position) sell(ctx context.Context, amount float64) {
	instructions, err := p.compiler.Compile(p.record, swap.Intent{
		Source:      p.tokenAccount,
		Destination: p.record.SolVault,
		Amount:      amount,
		Direction:   raydium.SwapBaseOut,
	})

	var signature solana.Signature
	if err == nil {
		signature, err = p.submitter.Submit(ctx, instructions)
	}

	p.mu.Lock()
	p.teardownWatchLocked()
	if err != nil {
		p.state = StateErrored
		p.mu.Unlock()
		p.logger.Error("sell failed", "error", err)
		return
	}
	p.state = StateSold
	p.mu.Unlock()

	p.logger.Info("position sold", "signature", signature.String())
}

// Cancel stops watching without selling. The position returns to bought and
// can be watched again later. Safe to call any number of times and in any
// state.
func (p *Position) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.teardownWatchLocked()
	if p.state == StateWatching && !p.sellInFlight {
		p.state = StateBought
	}
}

func (p *Position) teardownWatchLocked() {
	if p.watchCancel != nil {
		p.watchCancel()
		p.watchCancel = nil
	}
}
