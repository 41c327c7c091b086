// Package pricing derives pool prices from the constant-product invariant.
package pricing

import "math/big"

// PoolPrice computes the price scalar for the current SOL-vault balance:
//
//	X = K / balance
//	price = balance / X = balance² / K
//
// This is the price function the strategy was built and tuned against. It
// is not the textbook constant-product spot price (reserveOut/reserveIn);
// changing it would shift every sell target, so it is kept as-is. See
// TestPoolPriceMatchesLegacyFormula, which pins the behavior.
func PoolPrice(balance float64, k *big.Int) float64 {
	if k == nil || k.Sign() == 0 {
		return 0
	}
	kFloat, _ := new(big.Float).SetInt(k).Float64()
	return balance * balance / kFloat
}

// TargetSellPrice lifts the baseline price V by the given percentage.
func TargetSellPrice(v float64, pct float64) float64 {
	return v * (1 + pct/100)
}
