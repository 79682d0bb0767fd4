package synth

import (
	errorsmod "cosmossdk.io/errors"
	"github.com/holiman/uint256"
)

// MaxFeeRateBps caps the protocol fee at 5%.
const MaxFeeRateBps = 500

// MinCollateralBps is the lowest accepted collateralization (200%).
const MinCollateralBps = 20_000

// ComputeFee splits amount into the protocol fee and the remainder.
func ComputeFee(amount, feeRateBps uint64) (fee, net uint64, err error) {
	if amount == 0 {
		return 0, 0, errorsmod.Wrap(ErrInvalidAmount, "amount must be positive")
	}
	raw, err := MulDivFloor(uint256.NewInt(amount), uint256.NewInt(feeRateBps), basisPoints)
	if err != nil {
		return 0, 0, errorsmod.Wrapf(ErrInvalidAmount, "fee on %d: %v", amount, err)
	}
	fee, ok := toUint64(raw)
	if !ok || fee > amount {
		return 0, 0, errorsmod.Wrapf(ErrInvalidAmount, "fee rate %d bps exceeds amount", feeRateBps)
	}
	return fee, amount - fee, nil
}

// Convert prices amount of one asset in another:
// value = amount * priceFrom / 10^decimalsFrom, result = value * 10^decimalsTo / priceTo.
// Dust and results wider than 64 bits are rejected.
func Convert(amount uint64, decimalsFrom uint8, priceFromCents uint64, decimalsTo uint8, priceToCents uint64) (uint64, error) {
	out, err := convertWide(uint256.NewInt(amount), decimalsFrom, priceFromCents, decimalsTo, priceToCents)
	if err != nil {
		return 0, err
	}
	if out.IsZero() {
		return 0, errorsmod.Wrapf(ErrInvalidAmount, "%d converts to dust", amount)
	}
	result, ok := toUint64(out)
	if !ok {
		return 0, errorsmod.Wrapf(ErrInvalidAmount, "%d converts beyond 64 bits", amount)
	}
	return result, nil
}

func convertWide(amount *uint256.Int, decimalsFrom uint8, priceFromCents uint64, decimalsTo uint8, priceToCents uint64) (*uint256.Int, error) {
	scaleFrom, err := Pow10(uint(decimalsFrom))
	if err != nil {
		return nil, err
	}
	scaleTo, err := Pow10(uint(decimalsTo))
	if err != nil {
		return nil, err
	}
	valueCents, err := MulDivFloor(amount, uint256.NewInt(priceFromCents), scaleFrom)
	if err != nil {
		return nil, err
	}
	return MulDivFloor(valueCents, scaleTo, uint256.NewInt(priceToCents))
}
