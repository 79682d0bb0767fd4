package synth

import (
	errorsmod "cosmossdk.io/errors"
	"github.com/holiman/uint256"
)

// BasisPoints is the denominator for fee and collateral ratios.
const BasisPoints = 10_000

// maxPow10 is the largest power of ten representable in 256 bits.
const maxPow10 = 77

var (
	basisPoints = uint256.NewInt(BasisPoints)
	pow10Table  [maxPow10 + 1]uint256.Int
)

func init() {
	pow10Table[0].SetOne()
	ten := uint256.NewInt(10)
	for i := 1; i <= maxPow10; i++ {
		pow10Table[i].Mul(&pow10Table[i-1], ten)
	}
}

// Pow10 returns 10^exp. Exponents beyond 77 overflow 256 bits.
func Pow10(exp uint) (*uint256.Int, error) {
	if exp > maxPow10 {
		return nil, errorsmod.Wrapf(ErrArithmeticOverflow, "10^%d exceeds 256 bits", exp)
	}
	return new(uint256.Int).Set(&pow10Table[exp]), nil
}

// MulDivFloor returns floor(a*b/d). The product is held in 512 bits so only a
// quotient wider than 256 bits overflows.
func MulDivFloor(a, b, d *uint256.Int) (*uint256.Int, error) {
	if a == nil || b == nil || d == nil {
		return nil, errorsmod.Wrap(ErrArithmeticOverflow, "nil operand")
	}
	if d.IsZero() {
		return nil, errorsmod.Wrap(ErrArithmeticOverflow, "division by zero")
	}
	out, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, errorsmod.Wrapf(ErrArithmeticOverflow, "%s * %s / %s", a.Dec(), b.Dec(), d.Dec())
	}
	return out, nil
}

// ScaleByPow10 multiplies x by 10^exp when exp is non-negative and floor
// divides by 10^-exp otherwise.
func ScaleByPow10(x *uint256.Int, exp int32) (*uint256.Int, error) {
	if x == nil {
		return nil, errorsmod.Wrap(ErrArithmeticOverflow, "nil operand")
	}
	if exp >= 0 {
		if x.IsZero() {
			return new(uint256.Int), nil
		}
		factor, err := Pow10(uint(exp))
		if err != nil {
			return nil, err
		}
		out, overflow := new(uint256.Int).MulOverflow(x, factor)
		if overflow {
			return nil, errorsmod.Wrapf(ErrArithmeticOverflow, "%s * 10^%d", x.Dec(), exp)
		}
		return out, nil
	}
	shift := -int64(exp)
	if shift > maxPow10 {
		// every 256-bit value is below 10^78
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Div(x, &pow10Table[shift]), nil
}

func toUint64(x *uint256.Int) (uint64, bool) {
	if x == nil || !x.IsUint64() {
		return 0, false
	}
	return x.Uint64(), true
}

func addChecked(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, errorsmod.Wrapf(ErrArithmeticOverflow, "%s + %s", a.Dec(), b.Dec())
	}
	return out, nil
}

func subChecked(a, b *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, errorsmod.Wrapf(ErrAccountingUnderflow, "%s - %s", a.Dec(), b.Dec())
	}
	return out, nil
}
