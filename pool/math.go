package pool

import "math/big"

// basisPoints is the denominator for every rate in the engine.
const basisPoints = 10_000

var (
	bpsDivisor = big.NewInt(basisPoints)
	// sqrtRescale compensates the four implied decimal places of the input:
	// sqrt(10^4) = 10^2.
	sqrtRescale = big.NewInt(100)
	lockScale   = big.NewInt(100_000)
)

// Sqrt computes the integer square root of a fixed-point amount using the
// Babylonian iteration on the raw magnitude, then rescales by 100 to
// compensate the input's decimal-place scaling. Zero and negative inputs
// yield zero; the iteration is monotonically non-increasing after the first
// step, so it cannot diverge.
func Sqrt(amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	root := new(big.Int).Rsh(amount, 1)
	if root.Sign() == 0 {
		// amount is 1; the iteration below would divide by zero.
		return new(big.Int).Set(sqrtRescale)
	}
	for {
		next := new(big.Int).Quo(amount, root)
		next.Add(next, root)
		next.Rsh(next, 1)
		if next.Cmp(root) >= 0 {
			break
		}
		root = next
	}
	return root.Mul(root, sqrtRescale)
}

// LockSeconds sizes a pool's time-lock from its collateral: larger collateral
// yields a shorter lock. The coefficient comes from configuration.
func LockSeconds(collateral *big.Int, coefficient int64) uint64 {
	root := Sqrt(collateral)
	if root.Sign() == 0 {
		return 0
	}
	numerator := new(big.Int).Mul(big.NewInt(coefficient), lockScale)
	return numerator.Quo(numerator, root).Uint64()
}

// share applies a basis-point rate to an amount, truncating toward zero.
func share(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, bpsDivisor)
}

// shareOfShare applies two basis-point rates with a single truncation, which
// keeps holder and owner reward splits exact to the raw unit.
func shareOfShare(amount *big.Int, firstBps, secondBps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || firstBps == 0 || secondBps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(firstBps))
	out.Mul(out, new(big.Int).SetUint64(secondBps))
	out.Quo(out, bpsDivisor)
	return out.Quo(out, bpsDivisor)
}

func minAmount(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
