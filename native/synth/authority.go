package synth

import (
	"strings"

	errorsmod "cosmossdk.io/errors"
	"lukechampine.com/blake3"

	"otcswap/crypto"
)

// Authority labels mixed into derivation.
const (
	MintAuthorityLabel     = "synth_mint_authority"
	TreasuryAuthorityLabel = "treasury_auth_v1"
	FeeAuthorityLabel      = "fee_auth_v1"
)

// DefaultAuthorityNonce is the disambiguator stored at initialization.
const DefaultAuthorityNonce uint8 = 255

// Authorities holds the program identities the ledger accepts for the
// treasury, the fee vault and the synthetic asset mint.
type Authorities struct {
	Mint     crypto.Address
	Treasury crypto.Address
	Fee      crypto.Address
}

// DeriveAuthority computes the program authority for label under admin. The
// nonce is read from storage, never searched for.
func DeriveAuthority(label string, admin crypto.Address, nonce uint8) crypto.Address {
	buf := make([]byte, 0, len(label)+crypto.AddressLength+1)
	buf = append(buf, label...)
	buf = append(buf, admin.Bytes()...)
	buf = append(buf, nonce)
	sum := blake3.Sum256(buf)
	return crypto.NewAddress(crypto.AuthorityPrefix, sum[:crypto.AddressLength])
}

// DeriveAuthorities derives the three program authorities for an admin
// identity using the given nonces.
func DeriveAuthorities(admin string, mintNonce, treasuryNonce, feeNonce uint8) (Authorities, error) {
	addr, err := crypto.DecodeAddress(admin)
	if err != nil {
		return Authorities{}, errorsmod.Wrapf(ErrUnauthorized, "admin %q: %v", strings.TrimSpace(admin), err)
	}
	return Authorities{
		Mint:     DeriveAuthority(MintAuthorityLabel, addr, mintNonce),
		Treasury: DeriveAuthority(TreasuryAuthorityLabel, addr, treasuryNonce),
		Fee:      DeriveAuthority(FeeAuthorityLabel, addr, feeNonce),
	}, nil
}

// DefaultAuthorities derives authorities with the default nonce.
func DefaultAuthorities(admin string) (Authorities, error) {
	return DeriveAuthorities(admin, DefaultAuthorityNonce, DefaultAuthorityNonce, DefaultAuthorityNonce)
}
