package pool

import (
	"math/big"
	"testing"
)

func TestSqrt(t *testing.T) {
	cases := []struct {
		in   int64
		want int64
	}{
		{0, 0},
		{-5, 0},
		{1, 100},
		{4, 200},
		{99, 900},             // floor(sqrt(99)) = 9
		{100, 1000},
		{10_000, 10_000},
		{10_000_000, 316_200}, // floor(sqrt(1e7)) = 3162
		{1_000_000_000, 3_162_200},
	}
	for _, tc := range cases {
		got := Sqrt(big.NewInt(tc.in))
		if got.Int64() != tc.want {
			t.Fatalf("Sqrt(%d) = %s, want %d", tc.in, got, tc.want)
		}
	}
}

func TestSqrtDoesNotMutateInput(t *testing.T) {
	in := big.NewInt(10_000)
	Sqrt(in)
	if in.Int64() != 10_000 {
		t.Fatalf("input mutated: %s", in)
	}
}

func TestLockSeconds(t *testing.T) {
	// 57000*100000 / sqrt-rescaled(1e9) = 5.7e9 / 3162200
	if got := LockSeconds(big.NewInt(1_000_000_000), 57_000); got != 1802 {
		t.Fatalf("LockSeconds = %d, want 1802", got)
	}
	if got := LockSeconds(big.NewInt(10_000_000), 57_000); got != 18026 {
		t.Fatalf("LockSeconds = %d, want 18026", got)
	}
	if got := LockSeconds(big.NewInt(0), 57_000); got != 0 {
		t.Fatalf("LockSeconds on zero collateral = %d, want 0", got)
	}
}

func TestShare(t *testing.T) {
	if got := share(big.NewInt(2_000_000), 50); got.Int64() != 10_000 {
		t.Fatalf("share = %s, want 10000", got)
	}
	if got := share(big.NewInt(1_500_000), 200); got.Int64() != 30_000 {
		t.Fatalf("share = %s, want 30000", got)
	}
	// Truncation toward zero.
	if got := share(big.NewInt(3), 50); got.Sign() != 0 {
		t.Fatalf("share of dust = %s, want 0", got)
	}
}

func TestShareOfShare(t *testing.T) {
	if got := shareOfShare(big.NewInt(1_000_000), 200, 6000); got.Int64() != 12_000 {
		t.Fatalf("shareOfShare = %s, want 12000", got)
	}
	if got := shareOfShare(big.NewInt(1_500_000), 200, 4000); got.Int64() != 12_000 {
		t.Fatalf("shareOfShare = %s, want 12000", got)
	}
	if got := shareOfShare(big.NewInt(500_000), 10, 10_000); got.Int64() != 500 {
		t.Fatalf("shareOfShare = %s, want 500", got)
	}
}

func TestMinAmount(t *testing.T) {
	a, b := big.NewInt(5), big.NewInt(7)
	if got := minAmount(a, b); got.Int64() != 5 {
		t.Fatalf("minAmount = %s, want 5", got)
	}
	got := minAmount(b, a)
	got.SetInt64(99)
	if a.Int64() != 5 {
		t.Fatalf("minAmount aliased its argument")
	}
}
