package api

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"

	"otcswap/crypto"
)

// signingDomain separates synthd payloads from any other keccak digest the
// same key might sign.
const signingDomain = "otcswap/synthd/v1"

type signingPayload struct {
	Domain      string
	Kind        string
	Requester   string
	Amount      uint64
	Source      string
	Destination string
	Nonce       string
	Timestamp   uint64
}

// Digest returns the keccak256 hash of the RLP encoded request for kind.
func (r OperationRequest) Digest(kind string) ([]byte, error) {
	if r.Timestamp < 0 {
		return nil, fmt.Errorf("timestamp must not be negative")
	}
	encoded, err := rlp.EncodeToBytes(signingPayload{
		Domain:      signingDomain,
		Kind:        strings.ToLower(strings.TrimSpace(kind)),
		Requester:   strings.TrimSpace(r.Requester),
		Amount:      r.Amount,
		Source:      strings.TrimSpace(r.SourceAccount),
		Destination: strings.TrimSpace(r.DestinationAccount),
		Nonce:       strings.TrimSpace(r.Nonce),
		Timestamp:   uint64(r.Timestamp),
	})
	if err != nil {
		return nil, fmt.Errorf("encode signing payload: %w", err)
	}
	return crypto.Digest(encoded), nil
}

// Sign fills Requester (when empty) and Signature using key.
func (r *OperationRequest) Sign(kind string, key *crypto.PrivateKey) error {
	if key == nil {
		return fmt.Errorf("signing key required")
	}
	if strings.TrimSpace(r.Requester) == "" {
		r.Requester = key.PubKey().Address().String()
	}
	digest, err := r.Digest(kind)
	if err != nil {
		return err
	}
	sig, err := key.Sign(digest)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	r.Signature = "0x" + hex.EncodeToString(sig)
	return nil
}

// SignatureBytes decodes the hex signature.
func (r OperationRequest) SignatureBytes() ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(r.Signature), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("signature required")
	}
	sig, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	return sig, nil
}
