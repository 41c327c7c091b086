package sniper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/drosera/sniper/internal/wallet"
)

// TxSubmitter signs instruction batches with the sniper wallet, lands them
// through the RPC node and blocks until the cluster confirms the signature.
type TxSubmitter struct {
	rpc           *rpc.Client
	wallet        *wallet.Wallet
	commitment    rpc.CommitmentType
	skipPreflight bool
	maxRetries    *uint
	timeout       time.Duration
	logger        *slog.Logger
}

type TxSubmitterConfig struct {
	Commitment    rpc.CommitmentType
	SkipPreflight bool
	MaxRetries    *uint
	// Timeout bounds the confirmation wait per transaction.
	Timeout time.Duration
}

func NewTxSubmitter(rpcClient *rpc.Client, w *wallet.Wallet, cfg TxSubmitterConfig, logger *slog.Logger) *TxSubmitter {
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &TxSubmitter{
		rpc:           rpcClient,
		wallet:        w,
		commitment:    cfg.Commitment,
		skipPreflight: cfg.SkipPreflight,
		maxRetries:    cfg.MaxRetries,
		timeout:       cfg.Timeout,
		logger:        logger,
	}
}

// Submit sends the batch as one transaction and waits for confirmation.
func (s *TxSubmitter) Submit(ctx context.Context, instructions []solana.Instruction) (solana.Signature, error) {
	recent, err := s.rpc.GetLatestBlockhash(ctx, s.commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		instructions,
		recent.Value.Blockhash,
		solana.TransactionPayer(s.wallet.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	if _, err := tx.Sign(s.wallet.Signer()); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	opts := rpc.TransactionOpts{
		SkipPreflight:       s.skipPreflight,
		PreflightCommitment: s.commitment,
	}
	if s.maxRetries != nil {
		retries := *s.maxRetries
		opts.MaxRetries = &retries
	}

	sig, err := s.rpc.SendTransactionWithOpts(ctx, tx, opts)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	s.logger.Debug("transaction sent", "signature", sig.String())

	confirmCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.waitForConfirmation(confirmCtx, sig); err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}

// GetBalance reads the lamport balance of an account at the submitter's
// commitment.
func (s *TxSubmitter) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	out, err := s.rpc.GetBalance(ctx, account, s.commitment)
	if err != nil {
		return 0, fmt.Errorf("get balance of %s: %w", account, err)
	}
	return out.Value, nil
}

func (s *TxSubmitter) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(700 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation of %s: %w", sig, ctx.Err())
		case <-ticker.C:
			result, err := s.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				continue
			}
			if len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}
			status := result.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed: %v", sig, status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}
