// Package keyregistry resolves the public key that must verify a token.
package keyregistry

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/jamesmcfarland/keyforge/internal/model"
	"github.com/jamesmcfarland/keyforge/internal/token"
	"gorm.io/gorm"
)

// RootKey is the process wide trust anchor. It is built once at startup by
// LoadRootKey and never changes afterwards.
type RootKey struct {
	pem string
	key *ecdsa.PublicKey
}

// PEM returns the PEM encoding of the root key.
func (r RootKey) PEM() string { return r.pem }

// Key returns the parsed root key.
func (r RootKey) Key() *ecdsa.PublicKey { return r.key }

// LoadRootKey parses value as either a PEM public key or base64 encoded PEM.
func LoadRootKey(value string) (RootKey, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return RootKey{}, errors.New("root public key is not configured")
	}

	pemText := value
	if !strings.Contains(value, "-----BEGIN") {
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return RootKey{}, fmt.Errorf("root public key is neither PEM nor base64: %w", err)
		}
		pemText = string(decoded)
	}

	key, err := token.ParsePublicKey(pemText)
	if err != nil {
		return RootKey{}, fmt.Errorf("invalid root public key: %w", err)
	}
	return RootKey{pem: pemText, key: key}, nil
}

// Registry stores per-tenant public keys and resolves verification keys.
type Registry struct {
	db    *gorm.DB
	root  RootKey
	clock clock.Clock
}

// New returns a Registry trusting root for the root subject.
func New(db *gorm.DB, root RootKey, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{db: db, root: root, clock: clk}
}

// StoreTenantKey records publicPEM as the current key of tenantID.
func (r *Registry) StoreTenantKey(ctx context.Context, tenantID, publicPEM string) error {
	if _, err := token.ParsePublicKey(publicPEM); err != nil {
		return fmt.Errorf("store tenant key: %w", err)
	}
	kp := model.KeyPair{
		TenantID:  &tenantID,
		PublicKey: publicPEM,
		CreatedAt: model.Timestamp(r.clock.Now()),
	}
	return r.db.WithContext(ctx).Create(&kp).Error
}

// GetTenantKey returns the newest key of tenantID, or nil when the tenant
// has no key or its key was revoked.
func (r *Registry) GetTenantKey(ctx context.Context, tenantID string) (*ecdsa.PublicKey, error) {
	var kp model.KeyPair
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(1).
		Find(&kp).Error
	if err != nil {
		return nil, err
	}
	if kp.ID == "" || kp.RevokedAt != nil {
		return nil, nil
	}
	return token.ParsePublicKey(kp.PublicKey)
}

// RevokeTenantKey marks every unrevoked key of tenantID as revoked. It is
// a one-way operation; already revoked keys keep their original timestamp.
func (r *Registry) RevokeTenantKey(ctx context.Context, tenantID string) (int64, error) {
	now := model.Timestamp(r.clock.Now())
	res := r.db.WithContext(ctx).
		Model(&model.KeyPair{}).
		Where("tenant_id = ? AND revoked_at IS NULL", tenantID).
		Update("revoked_at", now)
	return res.RowsAffected, res.Error
}

// ResolveVerificationKey returns the key that must verify a token with the
// given sub and tenantId claims, or nil when no key may verify it.
func (r *Registry) ResolveVerificationKey(ctx context.Context, subject, tenantID string) (*ecdsa.PublicKey, error) {
	if subject == token.RootSubject {
		return r.root.Key(), nil
	}
	if subject == "" || subject != tenantID {
		return nil, nil
	}
	return r.GetTenantKey(ctx, tenantID)
}
