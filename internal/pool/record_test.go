package pool

import (
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drosera/sniper/internal/raydium"
)

func TestComputeInvariants(t *testing.T) {
	record := &Record{
		InitCoinAmount: 1_000_000_000,
		InitPcAmount:   500_000_000,
	}
	record.ComputeInvariants()

	assert.Equal(t, "500000000000000000", record.K.String())
	assert.InDelta(t, 0.5, record.V, 1e-15)
}

func TestComputeInvariants_RatioIsAtMostOne(t *testing.T) {
	cases := []struct{ coin, pc uint64 }{
		{1, 1},
		{10, 1},
		{1, 10},
		{1_000_000_000, 3},
	}
	for _, tc := range cases {
		record := &Record{InitCoinAmount: tc.coin, InitPcAmount: tc.pc}
		record.ComputeInvariants()
		assert.Greater(t, record.V, 0.0, "coin=%d pc=%d", tc.coin, tc.pc)
		assert.LessOrEqual(t, record.V, 1.0, "coin=%d pc=%d", tc.coin, tc.pc)
	}
}

func TestComputeInvariants_EmptyReserves(t *testing.T) {
	record := &Record{}
	record.ComputeInvariants()

	assert.Zero(t, record.K.Cmp(big.NewInt(0)))
	assert.Zero(t, record.V)
}

func TestNormalize_SwapsWSOLSide(t *testing.T) {
	tokenMint := solana.NewWallet().PublicKey()
	coinVault := solana.NewWallet().PublicKey()
	pcVault := solana.NewWallet().PublicKey()

	record := &Record{
		TokenMint:  raydium.WSOLMint,
		SolMint:    tokenMint,
		TokenVault: coinVault,
		SolVault:   pcVault,
	}
	record.Normalize()

	assert.True(t, record.IsWSOL)
	assert.Equal(t, tokenMint, record.TokenMint)
	assert.Equal(t, raydium.WSOLMint, record.SolMint)
	assert.Equal(t, pcVault, record.TokenVault)
	assert.Equal(t, coinVault, record.SolVault)
}

func TestNormalize_Idempotent(t *testing.T) {
	record := &Record{
		TokenMint:  raydium.WSOLMint,
		SolMint:    solana.NewWallet().PublicKey(),
		TokenVault: solana.NewWallet().PublicKey(),
		SolVault:   solana.NewWallet().PublicKey(),
	}
	record.Normalize()
	normalized := *record

	record.Normalize()
	assert.Equal(t, normalized, *record)
}

func TestNormalize_NoopWithoutWSOL(t *testing.T) {
	record := &Record{
		TokenMint: solana.NewWallet().PublicKey(),
		SolMint:   raydium.WSOLMint,
	}
	before := *record
	record.Normalize()

	assert.False(t, record.IsWSOL)
	assert.Equal(t, before, *record)
}

func TestValidate_ReportsAllMissingFields(t *testing.T) {
	record := &Record{
		ProgramID:    raydium.AMMProgramID,
		AmmID:        solana.NewWallet().PublicKey(),
		AmmAuthority: solana.NewWallet().PublicKey(),
	}

	err := record.Validate()
	var incomplete *IncompleteError
	require.ErrorAs(t, err, &incomplete)

	assert.Contains(t, incomplete.Missing, "tokenVault")
	assert.Contains(t, incomplete.Missing, "marketBids")
	assert.Contains(t, incomplete.Missing, "marketEventQueue")
	assert.NotContains(t, incomplete.Missing, "ammId")
	assert.NotContains(t, incomplete.Missing, "programId")
	assert.Contains(t, err.Error(), "marketAsks")
}
