package types

// COIN is the number of minimal units in one whole coin.
const COIN int64 = 100_000_000

// RoundCoin rounds amount up to the next multiple of `multiple` whole coins.
// Exact multiples are returned unchanged.
func RoundCoin(amount int64, multiple int64) int64 {
	if multiple <= 0 {
		return amount
	}
	n := multiple * COIN
	rem := amount % n
	if rem == 0 {
		return amount
	}
	return amount + (n - rem)
}
