package sniper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/drosera/sniper/internal/pool"
)

// signatureClient is the slice of the RPC surface discovery needs.
type signatureClient interface {
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

type poolResolver interface {
	ProcessTransaction(ctx context.Context, tx *solana.Transaction) (*pool.Record, error)
}

// ServiceConfig tunes the discovery loop.
type ServiceConfig struct {
	ProgramID    solana.PublicKey
	Commitment   rpc.CommitmentType
	PollInterval time.Duration
	// SignatureLimit caps how many signatures one scan fetches.
	SignatureLimit int
}

// Service polls the AMM program's transaction history for pool creations and
// hands every newly resolved pool to the onPool callback.
type Service struct {
	client   signatureClient
	resolver poolResolver
	cfg      ServiceConfig
	onPool   func(ctx context.Context, record *pool.Record)
	logger   *slog.Logger

	seen   map[solana.Signature]struct{}
	primed bool
}

func NewService(client signatureClient, resolver poolResolver, cfg ServiceConfig, onPool func(ctx context.Context, record *pool.Record), logger *slog.Logger) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.SignatureLimit <= 0 {
		cfg.SignatureLimit = 50
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	return &Service{
		client:   client,
		resolver: resolver,
		cfg:      cfg,
		onPool:   onPool,
		logger:   logger,
		seen:     make(map[solana.Signature]struct{}),
	}
}

// Run polls until the context ends. The first scan only primes the dedupe
// set so historical pools are never sniped; processing starts with the
// second scan.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("discovery started",
		"program", s.cfg.ProgramID.String(),
		"interval", s.cfg.PollInterval.String())

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("discovery stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.tick(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("discovery scan failed", "error", err)
			}
		}
	}
}

func (s *Service) tick(ctx context.Context) error {
	limit := s.cfg.SignatureLimit
	signatures, err := s.client.GetSignaturesForAddressWithOpts(ctx, s.cfg.ProgramID, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: s.cfg.Commitment,
	})
	if err != nil {
		return fmt.Errorf("get signatures: %w", err)
	}

	if !s.primed {
		for _, sig := range signatures {
			s.seen[sig.Signature] = struct{}{}
		}
		s.primed = true
		return nil
	}

	// Oldest first so pools are processed in creation order.
	for i := len(signatures) - 1; i >= 0; i-- {
		sig := signatures[i]
		if _, ok := s.seen[sig.Signature]; ok {
			continue
		}
		s.seen[sig.Signature] = struct{}{}

		if sig.Err != nil {
			continue
		}
		s.processSignature(ctx, sig.Signature)
	}
	return nil
}

func (s *Service) processSignature(ctx context.Context, signature solana.Signature) {
	maxVersion := uint64(0)
	out, err := s.client.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     s.cfg.Commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		s.logger.Warn("transaction fetch failed", "signature", signature.String(), "error", err)
		return
	}
	if out == nil || out.Transaction == nil {
		return
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		s.logger.Warn("transaction decode failed", "signature", signature.String(), "error", err)
		return
	}

	record, err := s.resolver.ProcessTransaction(ctx, tx)
	switch {
	case err == nil:
		s.logger.Info("pool discovered", "signature", signature.String(), "pool", record.String())
		if s.onPool != nil {
			s.onPool(ctx, record)
		}
	case errors.Is(err, pool.ErrPoolNotFound), errors.Is(err, pool.ErrSkipTransaction):
		s.logger.Debug("transaction skipped", "signature", signature.String(), "reason", err)
	default:
		s.logger.Error("pool resolution failed", "signature", signature.String(), "error", err)
	}
}
