package synth

import (
	errorsmod "cosmossdk.io/errors"
)

// Codespace scopes the registered error codes of the synth module.
const Codespace = "synth"

// Operation errors. Codes are stable and surfaced to API clients.
var (
	ErrInvalidAmount          = errorsmod.Register(Codespace, 2, "invalid amount")
	ErrArithmeticOverflow     = errorsmod.Register(Codespace, 3, "arithmetic overflow")
	ErrPaused                 = errorsmod.Register(Codespace, 4, "protocol paused")
	ErrInvalidAsset           = errorsmod.Register(Codespace, 5, "invalid asset")
	ErrInvalidAccountOwner    = errorsmod.Register(Codespace, 6, "invalid account owner")
	ErrInsufficientBalance    = errorsmod.Register(Codespace, 7, "insufficient balance")
	ErrInsufficientLiquidity  = errorsmod.Register(Codespace, 8, "insufficient treasury liquidity")
	ErrStalePrice             = errorsmod.Register(Codespace, 9, "stale price")
	ErrUnreliablePrice        = errorsmod.Register(Codespace, 10, "price confidence too wide")
	ErrOracleError            = errorsmod.Register(Codespace, 11, "oracle error")
	ErrInsufficientCollateral = errorsmod.Register(Codespace, 12, "insufficient collateral")
	ErrAccountingUnderflow    = errorsmod.Register(Codespace, 13, "accounting underflow")
	ErrInvalidPrice           = errorsmod.Register(Codespace, 14, "invalid price")
)

// Ledger errors.
var (
	ErrUnauthorized      = errorsmod.Register(Codespace, 20, "unauthorized")
	ErrInsufficientFunds = errorsmod.Register(Codespace, 21, "insufficient funds")
	ErrAccountNotFound   = errorsmod.Register(Codespace, 22, "account not found")
	ErrAssetNotFound     = errorsmod.Register(Codespace, 23, "asset not found")
)

// Administrative errors.
var (
	ErrInvalidFeeRate         = errorsmod.Register(Codespace, 30, "fee rate must be 5% or less")
	ErrInvalidCollateralRatio = errorsmod.Register(Codespace, 31, "collateral ratio must be at least 200%")
	ErrInvalidMintAuthority   = errorsmod.Register(Codespace, 32, "synthetic asset must be minted by the admin before initialization")
	ErrAlreadyInitialized     = errorsmod.Register(Codespace, 33, "already initialized")
	ErrNotInitialized         = errorsmod.Register(Codespace, 34, "not initialized")
)
