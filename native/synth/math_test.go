package synth

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestMulDivFloorUsesWideIntermediate(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	two := uint256.NewInt(2)

	// max*2 overflows 256 bits but max*2/2 fits.
	out, err := MulDivFloor(max, two, two)
	if err != nil {
		t.Fatalf("mulDiv: %v", err)
	}
	if !out.Eq(max) {
		t.Fatalf("expected max, got %s", out.Hex())
	}

	if _, err := MulDivFloor(max, two, uint256.NewInt(1)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := MulDivFloor(uint256.NewInt(1), uint256.NewInt(1), new(uint256.Int)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow on zero divisor, got %v", err)
	}
}

func TestMulDivFloorRoundsDown(t *testing.T) {
	out, err := MulDivFloor(uint256.NewInt(7), uint256.NewInt(3), uint256.NewInt(2))
	if err != nil {
		t.Fatalf("mulDiv: %v", err)
	}
	if out.Uint64() != 10 {
		t.Fatalf("expected floor(21/2)=10, got %d", out.Uint64())
	}
}

func TestScaleByPow10(t *testing.T) {
	cases := []struct {
		x    uint64
		exp  int32
		want uint64
	}{
		{x: 12345, exp: 2, want: 1_234_500},
		{x: 12345, exp: -2, want: 123},
		{x: 12345, exp: -5, want: 0},
		{x: 12345, exp: -200, want: 0},
		{x: 0, exp: 200, want: 0},
	}
	for _, tc := range cases {
		out, err := ScaleByPow10(uint256.NewInt(tc.x), tc.exp)
		if err != nil {
			t.Fatalf("scale %d by %d: %v", tc.x, tc.exp, err)
		}
		if out.Uint64() != tc.want {
			t.Fatalf("scale %d by %d: want %d, got %s", tc.x, tc.exp, tc.want, out.Dec())
		}
	}
	if _, err := ScaleByPow10(uint256.NewInt(2), 77); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow for 2*10^77, got %v", err)
	}
	if _, err := ScaleByPow10(uint256.NewInt(1), 78); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow for 10^78, got %v", err)
	}
}

func TestCheckedAccumulators(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	if _, err := addChecked(max, uint256.NewInt(1)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := subChecked(uint256.NewInt(1), uint256.NewInt(2)); !errors.Is(err, ErrAccountingUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
}
