// Package raydium holds the wire-level contracts of the Raydium AMM v4
// program and the Serum market accounts it references: fixed byte layouts,
// instruction opcodes and the account ordering the program enforces.
// Offsets and indices here mirror the on-chain layouts exactly and must not
// be derived dynamically.
package raydium

import (
	"encoding/binary"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Well-known program ids referenced by every pool record.
var (
	// AMMProgramID is the Raydium AMM v4 program.
	AMMProgramID = solana.MustPublicKeyFromBase58("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")
	// WSOLMint is the wrapped SOL mint.
	WSOLMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
)

var (
	ErrMalformedPayload = errors.New("malformed initialize2 payload")
	ErrMalformedAccount = errors.New("malformed market account data")
)

// Swap instruction opcodes (first payload byte).
const (
	OpSwapBaseIn  = 9
	OpSwapBaseOut = 10
)

// SwapDirection selects which side of the pool the input amount is specified in.
type SwapDirection uint8

const (
	SwapBaseIn SwapDirection = iota
	SwapBaseOut
)

func (d SwapDirection) String() string {
	if d == SwapBaseIn {
		return "base_in"
	}
	return "base_out"
}

// Opcode returns the on-wire opcode byte for the direction.
func (d SwapDirection) Opcode() byte {
	if d == SwapBaseIn {
		return OpSwapBaseIn
	}
	return OpSwapBaseOut
}

// InitPayload is the decoded initialize2 instruction payload.
// All multi-byte fields are little-endian.
type InitPayload struct {
	Discriminator  uint8
	Nonce          uint8
	OpenTime       uint64
	InitPcAmount   uint64
	InitCoinAmount uint64
}

// InitPayloadLen is the fixed byte length of the initialize2 payload.
const InitPayloadLen = 26

// DecodeInitPayload decodes the fixed 26-byte initialize2 payload.
func DecodeInitPayload(data []byte) (InitPayload, error) {
	if len(data) < InitPayloadLen {
		return InitPayload{}, fmt.Errorf("%w: got %d bytes, need %d", ErrMalformedPayload, len(data), InitPayloadLen)
	}

	var payload InitPayload
	if err := bin.NewBinDecoder(data[:InitPayloadLen]).Decode(&payload); err != nil {
		return InitPayload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return payload, nil
}

// Serum market account byte offsets for the addresses the swap needs.
const (
	marketEventQueueOffset = 245
	marketBidsOffset       = 277
	marketAsksOffset       = 309
	marketMinAccountLen    = marketAsksOffset + 32
)

// MarketExtras are the Serum order-book addresses read out of the market
// account body.
type MarketExtras struct {
	EventQueue solana.PublicKey
	Bids       solana.PublicKey
	Asks       solana.PublicKey
}

// DecodeMarketExtras reads the event queue, bids and asks addresses at their
// fixed offsets in a Serum market account.
func DecodeMarketExtras(data []byte) (MarketExtras, error) {
	if len(data) < marketMinAccountLen {
		return MarketExtras{}, fmt.Errorf("%w: got %d bytes, need %d", ErrMalformedAccount, len(data), marketMinAccountLen)
	}

	return MarketExtras{
		EventQueue: solana.PublicKeyFromBytes(data[marketEventQueueOffset : marketEventQueueOffset+32]),
		Bids:       solana.PublicKeyFromBytes(data[marketBidsOffset : marketBidsOffset+32]),
		Asks:       solana.PublicKeyFromBytes(data[marketAsksOffset : marketAsksOffset+32]),
	}, nil
}

// SwapDataLen is the byte length of a swap instruction payload.
const SwapDataLen = 9

// EncodeSwapData builds the swap instruction payload: opcode followed by the
// raw input amount as an unsigned little-endian 64-bit integer.
func EncodeSwapData(direction SwapDirection, rawAmount uint64) []byte {
	data := make([]byte, SwapDataLen)
	data[0] = direction.Opcode()
	binary.LittleEndian.PutUint64(data[1:], rawAmount)
	return data
}

// Account indices of the initialize2 instruction. These are a contract with
// the Raydium program's instruction shape; the resolver indexes the
// transaction account table through them.
const (
	InitIdxProgram          = 0
	InitIdxAmmID            = 4
	InitIdxAmmAuthority     = 5
	InitIdxAmmOpenOrders    = 6
	InitIdxLpMint           = 7
	InitIdxCoinMint         = 8
	InitIdxPcMint           = 9
	InitIdxCoinVault        = 10
	InitIdxPcVault          = 11
	InitIdxTargetOrders     = 13
	InitIdxMarketProgram    = 15
	InitIdxMarketID         = 16
	InitIdxDeployer         = 17
	InitIdxMarketBaseVault  = 18
	InitIdxMarketQuoteVault = 19
	InitIdxMarketAuthority  = 20
)
