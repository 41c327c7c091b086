package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go/rpc"
	_ "github.com/joho/godotenv/autoload"

	"github.com/drosera/sniper/internal/config"
	"github.com/drosera/sniper/internal/logging"
	"github.com/drosera/sniper/internal/pool"
	"github.com/drosera/sniper/internal/sniper"
	"github.com/drosera/sniper/internal/swap"
	"github.com/drosera/sniper/internal/wallet"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadSniperConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("sniper", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	if source, sourceErr := config.CurrentConfigSource(); sourceErr == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}

	w, err := loadWallet(cfg)
	if err != nil {
		logger.Error("failed to load wallet", "err", err)
		os.Exit(1)
	}
	logger.Info("wallet loaded", "pubkey", w.PublicKey().String())

	store, err := pool.NewPostgresStore(cfg.DBDSN)
	if err != nil {
		logger.Error("failed to open pool store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	rpcClient := rpc.New(cfg.RPCURL)

	resolver := pool.NewResolver(rpcClient, store, cfg.AMMProgramID, logger)
	compiler := swap.NewCompiler(w.PublicKey(), cfg.ComputeUnitLimit, cfg.ComputeUnitPriceMicroLamports)
	submitter := sniper.NewTxSubmitter(rpcClient, w, sniper.TxSubmitterConfig{
		Commitment:    cfg.Commitment,
		SkipPreflight: cfg.SkipPreflight,
		MaxRetries:    cfg.MaxRetries,
		Timeout:       cfg.TxTimeout,
	}, logger)
	watcher := sniper.NewWSVaultWatcher(cfg.WSURL, cfg.Commitment, logger)

	onPool := func(ctx context.Context, record *pool.Record) {
		if !cfg.AutoSnipe {
			return
		}
		snipe(ctx, cfg, record, compiler, submitter, watcher, resolver, logger, w)
	}

	service := sniper.NewService(rpcClient, resolver, sniper.ServiceConfig{
		ProgramID:      cfg.AMMProgramID,
		Commitment:     cfg.Commitment,
		PollInterval:   cfg.PollInterval,
		SignatureLimit: cfg.SignatureLimit,
	}, onPool, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := service.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("sniper exited with error", "err", err)
		os.Exit(1)
	}
}

func loadWallet(cfg config.SniperConfig) (*wallet.Wallet, error) {
	if cfg.WalletPrivateKey != "" {
		return wallet.FromBase58(cfg.WalletPrivateKey)
	}
	return wallet.FromKeygenFile(cfg.KeypairPath)
}

// snipe runs the full lifecycle of one discovered pool: fill in missing
// order-book addresses, buy, then watch the vault until the sell target.
func snipe(ctx context.Context, cfg config.SniperConfig, record *pool.Record, compiler *swap.Compiler, submitter *sniper.TxSubmitter, watcher *sniper.WSVaultWatcher, resolver *pool.Resolver, logger *slog.Logger, w *wallet.Wallet) {
	if record.Validate() != nil {
		if err := resolver.Enrich(ctx, record); err != nil {
			logger.Warn("pool not ready for trading, skipping", "pool", record.String(), "err", err)
			return
		}
	}

	position, err := sniper.NewPosition(record, w.PublicKey(), compiler, submitter, submitter, watcher, logger)
	if err != nil {
		logger.Error("failed to build position", "pool", record.String(), "err", err)
		return
	}

	if err := position.SetBuyAmount(cfg.BuyAmountSOL); err != nil {
		logger.Error("failed to configure position", "err", err)
		return
	}
	if err := position.SetSellTargetPercentage(cfg.SellTargetPct); err != nil {
		logger.Error("failed to configure position", "err", err)
		return
	}

	if err := position.Buy(ctx); err != nil {
		logger.Error("buy failed", "pool", record.String(), "err", err)
		return
	}

	if err := position.Watch(ctx, sniper.WatchMode(cfg.WatchMode), cfg.WatchInterval); err != nil {
		logger.Error("watch failed", "pool", record.String(), "err", err)
	}
}
