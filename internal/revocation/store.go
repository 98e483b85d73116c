// Package revocation tracks individually revoked tokens until they expire.
package revocation

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jamesmcfarland/keyforge/internal/model"
	"github.com/jamesmcfarland/keyforge/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists revoked (jti, tenant) pairs.
type Store struct {
	db    *gorm.DB
	clock clock.Clock
}

// NewStore returns a Store backed by db.
func NewStore(db *gorm.DB, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{db: db, clock: clk}
}

// Revoke marks (jti, tenantID) revoked until expiresAt. Revoking a pair that
// is already revoked is a no-op.
func (s *Store) Revoke(ctx context.Context, jti, tenantID string, expiresAt time.Time) error {
	defer prometheus.TrackDBOperation("revoke_token")(time.Now())

	row := model.RevokedToken{
		JTI:       jti,
		TenantID:  tenantID,
		ExpiresAt: model.Timestamp(expiresAt),
		RevokedAt: model.Timestamp(s.clock.Now()),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

// IsRevoked reports whether (jti, tenantID) has been revoked.
func (s *Store) IsRevoked(ctx context.Context, jti, tenantID string) (bool, error) {
	defer prometheus.TrackDBOperation("check_revocation")(time.Now())

	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.RevokedToken{}).
		Where("jti = ? AND tenant_id = ?", jti, tenantID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Prune deletes entries whose token has already expired and returns how
// many were removed.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	defer prometheus.TrackDBOperation("prune_revocations")(time.Now())

	res := s.db.WithContext(ctx).
		Where("expires_at < ?", model.Timestamp(s.clock.Now())).
		Delete(&model.RevokedToken{})
	return res.RowsAffected, res.Error
}

// RunPruner calls Prune every interval until ctx is done.
func (s *Store) RunPruner(ctx context.Context, interval time.Duration, log *zap.Logger) error {
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Prune(ctx)
			if err != nil {
				log.Warn("Failed to prune revoked tokens", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("Pruned expired revoked tokens", zap.Int64("count", n))
			}
		}
	}
}
