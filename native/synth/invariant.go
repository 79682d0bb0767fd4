package synth

import (
	errorsmod "cosmossdk.io/errors"
	"github.com/holiman/uint256"
)

// PriceSet pairs the two normalized prices read for one operation.
type PriceSet struct {
	CollateralCents uint64
	SyntheticCents  uint64
}

// RequiredCollateral returns the collateral units the treasury must hold to
// back totalOutstanding synthetic units at minCollateralBps.
func RequiredCollateral(totalOutstanding *uint256.Int, syntheticPriceCents uint64, syntheticDecimals uint8, collateralPriceCents uint64, collateralDecimals uint8, minCollateralBps uint64) (*uint256.Int, error) {
	if totalOutstanding == nil || totalOutstanding.IsZero() {
		return new(uint256.Int), nil
	}
	equivalent, err := convertWide(totalOutstanding, syntheticDecimals, syntheticPriceCents, collateralDecimals, collateralPriceCents)
	if err != nil {
		return nil, err
	}
	return MulDivFloor(equivalent, uint256.NewInt(minCollateralBps), basisPoints)
}

// CheckCollateral fails when the treasury holds less than required.
func CheckCollateral(treasuryBalance uint64, required *uint256.Int) error {
	if required == nil {
		return nil
	}
	if uint256.NewInt(treasuryBalance).Lt(required) {
		return errorsmod.Wrapf(ErrInsufficientCollateral, "treasury %d below required %s", treasuryBalance, required.Dec())
	}
	return nil
}

// CollateralRatioBps reports treasury value over outstanding value in basis
// points. Zero outstanding supply reports zero.
func CollateralRatioBps(treasuryBalance uint64, totalOutstanding *uint256.Int, prices PriceSet, collateralDecimals, syntheticDecimals uint8) (*uint256.Int, error) {
	if totalOutstanding == nil || totalOutstanding.IsZero() {
		return new(uint256.Int), nil
	}
	equivalent, err := convertWide(totalOutstanding, syntheticDecimals, prices.SyntheticCents, collateralDecimals, prices.CollateralCents)
	if err != nil {
		return nil, err
	}
	if equivalent.IsZero() {
		return new(uint256.Int), nil
	}
	return MulDivFloor(uint256.NewInt(treasuryBalance), basisPoints, equivalent)
}
