// Package auth authenticates synthd callers: account owners sign mint and
// burn requests with their secp256k1 key and admins present a bearer token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"otcswap/crypto"
	"otcswap/services/synthd/api"
)

const (
	defaultSignatureSkew  = 5 * time.Minute
	defaultNonceRetention = 24 * time.Hour
	pruneInterval         = time.Minute
)

var (
	// ErrBadSignature covers malformed, missing or mismatched signatures.
	ErrBadSignature = errors.New("invalid request signature")
	// ErrExpired is returned when the signed timestamp is outside the skew.
	ErrExpired = errors.New("request timestamp outside allowed skew")
	// ErrReplay is returned when a nonce has already been consumed.
	ErrReplay = errors.New("nonce already used")
)

// Verifier checks signed operation requests and consumes their nonces.
type Verifier struct {
	skew      time.Duration
	retention time.Duration
	now       func() time.Time
	nonces    NonceStore

	mu         sync.Mutex
	lastPruned time.Time
}

// NewVerifier constructs a verifier. Retention is raised to twice the skew so
// a pruned nonce can never pass the timestamp check again.
func NewVerifier(nonces NonceStore, skew, retention time.Duration, now func() time.Time) (*Verifier, error) {
	if nonces == nil {
		return nil, fmt.Errorf("nonce store required")
	}
	if skew <= 0 {
		skew = defaultSignatureSkew
	}
	if retention <= 0 {
		retention = defaultNonceRetention
	}
	if retention < 2*skew {
		retention = 2 * skew
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{skew: skew, retention: retention, now: now, nonces: nonces}, nil
}

// Verify authenticates req for kind and returns the recovered requester.
func (v *Verifier) Verify(ctx context.Context, kind string, req api.OperationRequest) (crypto.Address, error) {
	requester, err := crypto.DecodeAddress(req.Requester)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: requester: %v", ErrBadSignature, err)
	}
	if strings.TrimSpace(req.Nonce) == "" {
		return crypto.Address{}, fmt.Errorf("%w: nonce required", ErrBadSignature)
	}
	now := v.now().UTC()
	ts := time.Unix(req.Timestamp, 0).UTC()
	drift := now.Sub(ts)
	if drift < 0 {
		drift = -drift
	}
	if drift > v.skew {
		return crypto.Address{}, fmt.Errorf("%w of %s", ErrExpired, v.skew)
	}
	sig, err := req.SignatureBytes()
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	digest, err := req.Digest(kind)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	signer, err := crypto.RecoverAddress(digest, sig)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !signer.Equal(requester) {
		return crypto.Address{}, fmt.Errorf("%w: signer %s is not requester", ErrBadSignature, signer)
	}
	if err := v.prune(ctx, now); err != nil {
		return crypto.Address{}, err
	}
	used, err := v.nonces.EnsureNonce(ctx, NonceRecord{Requester: requester.String(), Nonce: req.Nonce, ObservedAt: now})
	if err != nil {
		return crypto.Address{}, fmt.Errorf("persist nonce: %w", err)
	}
	if used {
		return crypto.Address{}, ErrReplay
	}
	return requester, nil
}

func (v *Verifier) prune(ctx context.Context, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.lastPruned.IsZero() && now.Sub(v.lastPruned) < pruneInterval {
		return nil
	}
	if err := v.nonces.PruneNonces(ctx, now.Add(-v.retention)); err != nil {
		return fmt.Errorf("prune nonces: %w", err)
	}
	v.lastPruned = now
	return nil
}
