package sniper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drosera/sniper/internal/pool"
	"github.com/drosera/sniper/internal/raydium"
	"github.com/drosera/sniper/internal/swap"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (s *fakeSubmitter) Submit(_ context.Context, _ []solana.Instruction) (solana.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.calls
	s.calls++
	if call < len(s.errs) && s.errs[call] != nil {
		return solana.Signature{}, s.errs[call]
	}
	return solana.Signature{}, nil
}

func (s *fakeSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeBalances struct {
	mu       sync.Mutex
	balances map[solana.PublicKey]uint64
}

func (b *fakeBalances) GetBalance(_ context.Context, account solana.PublicKey) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[account], nil
}

type fakeWatcher struct {
	mu         sync.Mutex
	onLamports func(uint64)
	cancels    int
	err        error
}

func (w *fakeWatcher) WatchAccount(_ context.Context, _ solana.PublicKey, onLamports func(uint64)) (func(), error) {
	if w.err != nil {
		return nil, w.err
	}
	w.mu.Lock()
	w.onLamports = onLamports
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		w.cancels++
		w.mu.Unlock()
	}, nil
}

func (w *fakeWatcher) push(lamports uint64) {
	w.mu.Lock()
	fn := w.onLamports
	w.mu.Unlock()
	if fn != nil {
		fn(lamports)
	}
}

func testRecord(t *testing.T) *pool.Record {
	t.Helper()

	record := &pool.Record{
		ProgramID:        raydium.AMMProgramID,
		AmmID:            solana.NewWallet().PublicKey(),
		AmmAuthority:     solana.NewWallet().PublicKey(),
		AmmOpenOrders:    solana.NewWallet().PublicKey(),
		AmmTargetOrders:  solana.NewWallet().PublicKey(),
		LpMint:           solana.NewWallet().PublicKey(),
		TokenMint:        solana.NewWallet().PublicKey(),
		SolMint:          raydium.WSOLMint,
		TokenVault:       solana.NewWallet().PublicKey(),
		SolVault:         solana.NewWallet().PublicKey(),
		Deployer:         solana.NewWallet().PublicKey(),
		MarketProgramID:  solana.NewWallet().PublicKey(),
		MarketID:         solana.NewWallet().PublicKey(),
		MarketAuthority:  solana.NewWallet().PublicKey(),
		MarketBaseVault:  solana.NewWallet().PublicKey(),
		MarketQuoteVault: solana.NewWallet().PublicKey(),
		MarketBids:       solana.NewWallet().PublicKey(),
		MarketAsks:       solana.NewWallet().PublicKey(),
		MarketEventQueue: solana.NewWallet().PublicKey(),
		// Invariant chosen so a 2 SOL vault balance clears the sell target.
		K: big.NewInt(1),
		V: 0.5,
	}
	require.NoError(t, record.Validate())
	return record
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func boughtPosition(t *testing.T, submitter *fakeSubmitter, watcher *fakeWatcher) *Position {
	t.Helper()

	owner := solana.NewWallet().PublicKey()
	balances := &fakeBalances{balances: map[solana.PublicKey]uint64{
		owner: 10 * lamportsPerSOL,
	}}
	position, err := NewPosition(testRecord(t), owner,
		swap.NewCompiler(owner, 0, 0), submitter, balances, watcher, testLogger())
	require.NoError(t, err)

	require.NoError(t, position.SetBuyAmount(0.1))
	require.NoError(t, position.SetSellTargetPercentage(10))
	require.NoError(t, position.Buy(context.Background()))
	require.Equal(t, StateBought, position.State())
	return position
}

func TestPosition_BuyMovesToBought(t *testing.T) {
	submitter := &fakeSubmitter{}
	position := boughtPosition(t, submitter, &fakeWatcher{})
	assert.Equal(t, 1, submitter.count())
	assert.Equal(t, StateBought, position.State())
}

func TestPosition_BuyInsufficientBalance(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	balances := &fakeBalances{balances: map[solana.PublicKey]uint64{
		owner: MinSOLReserveLamports, // reserve alone, nothing to spend
	}}
	position, err := NewPosition(testRecord(t), owner,
		swap.NewCompiler(owner, 0, 0), &fakeSubmitter{}, balances, &fakeWatcher{}, testLogger())
	require.NoError(t, err)
	require.NoError(t, position.SetBuyAmount(0.1))

	err = position.Buy(context.Background())
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, StateIdle, position.State())
}

func TestPosition_BuyFailureStaysIdle(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	balances := &fakeBalances{balances: map[solana.PublicKey]uint64{
		owner: 10 * lamportsPerSOL,
	}}
	submitter := &fakeSubmitter{errs: []error{errors.New("blockhash expired")}}
	position, err := NewPosition(testRecord(t), owner,
		swap.NewCompiler(owner, 0, 0), submitter, balances, &fakeWatcher{}, testLogger())
	require.NoError(t, err)
	require.NoError(t, position.SetBuyAmount(0.1))

	require.Error(t, position.Buy(context.Background()))
	assert.Equal(t, StateIdle, position.State())

	// The same position can retry after a failed buy.
	require.NoError(t, position.Buy(context.Background()))
	assert.Equal(t, StateBought, position.State())
}

func TestPosition_AtMostOneSell(t *testing.T) {
	submitter := &fakeSubmitter{}
	watcher := &fakeWatcher{}
	position := boughtPosition(t, submitter, watcher)

	require.NoError(t, position.Watch(context.Background(), WatchModeSubscribe, 0))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			watcher.push(2 * lamportsPerSOL)
		}()
	}
	wg.Wait()

	assert.Equal(t, StateSold, position.State())
	// one buy plus exactly one sell
	assert.Equal(t, 2, submitter.count())
}

func TestPosition_BelowTargetDoesNotSell(t *testing.T) {
	submitter := &fakeSubmitter{}
	watcher := &fakeWatcher{}
	position := boughtPosition(t, submitter, watcher)

	require.NoError(t, position.Watch(context.Background(), WatchModeSubscribe, 0))

	watcher.push(0)
	assert.Equal(t, StateWatching, position.State())
	assert.Equal(t, 1, submitter.count())
}

func TestPosition_SellFailureMovesToErrored(t *testing.T) {
	submitter := &fakeSubmitter{errs: []error{nil, errors.New("node unavailable")}}
	watcher := &fakeWatcher{}
	position := boughtPosition(t, submitter, watcher)

	require.NoError(t, position.Watch(context.Background(), WatchModeSubscribe, 0))
	watcher.push(2 * lamportsPerSOL)

	assert.Equal(t, StateErrored, position.State())

	// No second sell attempt after the failure.
	watcher.push(3 * lamportsPerSOL)
	assert.Equal(t, 2, submitter.count())
}

func TestPosition_CancelIdempotent(t *testing.T) {
	watcher := &fakeWatcher{}
	position := boughtPosition(t, &fakeSubmitter{}, watcher)

	require.NoError(t, position.Watch(context.Background(), WatchModeSubscribe, 0))
	position.Cancel()
	position.Cancel()
	position.Cancel()

	assert.Equal(t, StateBought, position.State())
	watcher.mu.Lock()
	cancels := watcher.cancels
	watcher.mu.Unlock()
	assert.Equal(t, 1, cancels)
}

func TestPosition_CancelBeforeWatchIsNoop(t *testing.T) {
	position := boughtPosition(t, &fakeSubmitter{}, &fakeWatcher{})
	position.Cancel()
	assert.Equal(t, StateBought, position.State())
}

func TestPosition_WatchIsExclusive(t *testing.T) {
	watcher := &fakeWatcher{}
	position := boughtPosition(t, &fakeSubmitter{}, watcher)

	require.NoError(t, position.Watch(context.Background(), WatchModeSubscribe, 0))
	assert.ErrorIs(t, position.Watch(context.Background(), WatchModeSubscribe, 0), ErrAlreadyWatching)
}

func TestPosition_WatchSubscribeFailureReturnsToBought(t *testing.T) {
	watcher := &fakeWatcher{err: errors.New("websocket closed")}
	position := boughtPosition(t, &fakeSubmitter{}, watcher)

	require.Error(t, position.Watch(context.Background(), WatchModeSubscribe, 0))
	assert.Equal(t, StateBought, position.State())
}

func TestPosition_SettersRejectedWhileWatching(t *testing.T) {
	position := boughtPosition(t, &fakeSubmitter{}, &fakeWatcher{})
	require.NoError(t, position.Watch(context.Background(), WatchModeSubscribe, 0))

	assert.ErrorIs(t, position.SetBuyAmount(1), ErrInvalidState)
	assert.ErrorIs(t, position.SetSellTargetPercentage(50), ErrInvalidState)
}

func TestPosition_PollModeSells(t *testing.T) {
	submitter := &fakeSubmitter{}
	watcher := &fakeWatcher{}
	position := boughtPosition(t, submitter, watcher)

	record := position.record
	position.balances.(*fakeBalances).mu.Lock()
	position.balances.(*fakeBalances).balances[record.SolVault] = 2 * lamportsPerSOL
	position.balances.(*fakeBalances).mu.Unlock()

	require.NoError(t, position.Watch(context.Background(), WatchModePoll, 5*time.Millisecond))

	require.Eventually(t, func() bool {
		return position.State() == StateSold
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, submitter.count())
}
