// Package token issues and verifies the ES256 tokens keyforge callers present.
//
// A token is base64url(header) "." base64url(claims) "." base64url(signature),
// signed with ECDSA P-256 / SHA-256 in the fixed width r||s form.
package token

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jamesmcfarland/keyforge/internal/model"
)

// RootSubject is the subject of tokens signed with the root key.
const RootSubject = "root"

const (
	maxSegmentBytes = 10 << 20
	maxPaddingFixes = 10
)

var (
	ErrMalformed         = errors.New("token is malformed")
	ErrTooLarge          = errors.New("token segment exceeds size limit")
	ErrSignature         = errors.New("token signature is invalid")
	ErrClaims            = errors.New("token claims are not a JSON object")
	ErrMissingClaim      = errors.New("token is missing a required claim")
	ErrIssuedInFuture    = errors.New("token issued in the future")
	ErrExpired           = errors.New("token has expired")
	ErrIssuedAfterExpiry = errors.New("token issued after it expires")
	ErrRevoked           = errors.New("token has been revoked")
)

var signingMethod = jwt.SigningMethodES256

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// Claims is the payload carried by a token.
type Claims struct {
	Subject   string                 `json:"sub"`
	IssuedAt  int64                  `json:"iat"`
	ExpiresAt int64                  `json:"exp"`
	JTI       string                 `json:"jti"`
	TenantID  string                 `json:"tenantId"`
	RequestID string                 `json:"requestId"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	IsAdmin   bool                   `json:"isAdmin,omitempty"`
}

// NewClaims returns claims for subject/tenant valid from now for ttl, with a
// fresh jti and request id.
func NewClaims(subject, tenantID string, now time.Time, ttl time.Duration) Claims {
	return Claims{
		Subject:   subject,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		JTI:       NewJTI(),
		TenantID:  tenantID,
		RequestID: model.RandomHex(8),
	}
}

// NewJTI returns a random token identifier.
func NewJTI() string {
	return model.RandomHex(16)
}

// ExpiresAtTime returns exp as a time.
func (c *Claims) ExpiresAtTime() time.Time {
	return time.Unix(c.ExpiresAt, 0).UTC()
}

func (c *Claims) missingClaim() string {
	switch {
	case c.Subject == "":
		return "sub"
	case c.IssuedAt == 0:
		return "iat"
	case c.ExpiresAt == 0:
		return "exp"
	case c.JTI == "":
		return "jti"
	case c.TenantID == "":
		return "tenantId"
	case c.RequestID == "":
		return "requestId"
	}
	return ""
}

// Issue signs claims with key.
func Issue(claims Claims, key *ecdsa.PrivateKey) (string, error) {
	if key == nil {
		return "", errors.New("token: nil signing key")
	}
	h, err := json.Marshal(header{Alg: signingMethod.Alg(), Typ: "JWT"})
	if err != nil {
		return "", err
	}
	p, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("token: encode claims: %w", err)
	}

	signingInput := encodeSegment(h) + "." + encodeSegment(p)
	sig, err := signingMethod.Sign(signingInput, key)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signingInput + "." + encodeSegment(sig), nil
}

// DecodeUnverified returns the claims of token without checking the
// signature or any claim. It only tells the caller which key to verify with.
func DecodeUnverified(token string) (*Claims, error) {
	parts, err := split(token)
	if err != nil {
		return nil, err
	}
	return decodeClaims(parts[1])
}

func split(token string) ([]string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrMalformed
	}
	for _, p := range parts {
		if p == "" {
			return nil, ErrMalformed
		}
	}
	return parts, nil
}

func decodeClaims(segment string) (*Claims, error) {
	raw, err := decodeSegment(segment)
	if err != nil {
		return nil, err
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClaims, err)
	}
	return &claims, nil
}

func encodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// decodeSegment decodes base64url with or without padding. Oversized input
// is rejected before any work is done and padding repair is bounded.
func decodeSegment(s string) ([]byte, error) {
	if len(s) > maxSegmentBytes {
		return nil, ErrTooLarge
	}
	for i := 0; len(s)%4 != 0; i++ {
		if i >= maxPaddingFixes {
			return nil, ErrMalformed
		}
		s += "="
	}
	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return b, nil
}
