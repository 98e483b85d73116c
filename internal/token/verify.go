package token

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultClockSkew is how far in the future iat may be.
const DefaultClockSkew = 30 * time.Second

// RevocationChecker reports whether the token (jti, tenantID) was revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti, tenantID string) (bool, error)
}

// Verifier checks signatures and time bounds against an injected clock.
type Verifier struct {
	clock clock.Clock
	skew  time.Duration
}

// NewVerifier returns a Verifier. A nil clock uses the wall clock and a
// non-positive skew uses DefaultClockSkew.
func NewVerifier(clk clock.Clock, skew time.Duration) *Verifier {
	if clk == nil {
		clk = clock.New()
	}
	if skew <= 0 {
		skew = DefaultClockSkew
	}
	return &Verifier{clock: clk, skew: skew}
}

// Verify checks token against key and returns its claims. Checks run in a
// fixed order and the first failure is returned.
func (v *Verifier) Verify(token string, key *ecdsa.PublicKey) (*Claims, error) {
	if key == nil {
		return nil, ErrSignature
	}

	parts, err := split(token)
	if err != nil {
		return nil, err
	}

	sig, err := decodeSegment(parts[2])
	if err != nil {
		return nil, err
	}
	if err := signingMethod.Verify(parts[0]+"."+parts[1], sig, key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	rawHeader, err := decodeSegment(parts[0])
	if err != nil {
		return nil, err
	}
	var h header
	if err := json.Unmarshal(rawHeader, &h); err != nil || h.Alg != signingMethod.Alg() {
		return nil, ErrMalformed
	}

	claims, err := decodeClaims(parts[1])
	if err != nil {
		return nil, err
	}

	if name := claims.missingClaim(); name != "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingClaim, name)
	}

	now := v.clock.Now().Unix()
	if claims.IssuedAt > now+int64(v.skew/time.Second) {
		return nil, ErrIssuedInFuture
	}
	if claims.ExpiresAt < now {
		return nil, ErrExpired
	}
	if claims.IssuedAt > claims.ExpiresAt {
		return nil, ErrIssuedAfterExpiry
	}

	return claims, nil
}

// VerifyWithRevocation runs Verify and then consults revoked. The store is
// only asked about tokens that already passed every other check, and a
// lookup error is treated as revoked.
func (v *Verifier) VerifyWithRevocation(ctx context.Context, token string, key *ecdsa.PublicKey, revoked RevocationChecker) (*Claims, error) {
	claims, err := v.Verify(token, key)
	if err != nil {
		return nil, err
	}
	if revoked == nil {
		return claims, nil
	}

	isRevoked, err := revoked.IsRevoked(ctx, claims.JTI, claims.TenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: revocation check failed: %v", ErrRevoked, err)
	}
	if isRevoked {
		return nil, ErrRevoked
	}
	return claims, nil
}
