package revocation_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jamesmcfarland/keyforge/internal/model"
	"github.com/jamesmcfarland/keyforge/internal/revocation"
	"github.com/jamesmcfarland/keyforge/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newStore(t *testing.T) (*revocation.Store, *gorm.DB, *clock.Mock) {
	t.Helper()
	db := testutil.NewDB(t)
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	return revocation.NewStore(db, clk), db, clk
}

func TestRevokeIsScopedToTenant(t *testing.T) {
	s, _, clk := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Revoke(ctx, "jti-1", "instance-a", clk.Now().Add(time.Hour)))

	tests := []struct {
		jti, tenant string
		want        bool
	}{
		{"jti-1", "instance-a", true},
		{"jti-1", "instance-b", false},
		{"jti-2", "instance-a", false},
	}
	for _, tt := range tests {
		got, err := s.IsRevoked(ctx, tt.jti, tt.tenant)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s/%s", tt.jti, tt.tenant)
	}
}

func TestRevokeTwiceIsNoop(t *testing.T) {
	s, db, clk := newStore(t)
	ctx := context.Background()

	first := clk.Now().Add(time.Hour)
	require.NoError(t, s.Revoke(ctx, "jti-1", "instance-a", first))
	require.NoError(t, s.Revoke(ctx, "jti-1", "instance-a", first.Add(time.Hour)))

	var rows []model.RevokedToken
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].ExpiresAt.Equal(first), "first revocation is kept")
}

func TestPrune(t *testing.T) {
	s, _, clk := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Revoke(ctx, "short", "instance-a", clk.Now().Add(time.Minute)))
	require.NoError(t, s.Revoke(ctx, "long", "instance-a", clk.Now().Add(time.Hour)))

	n, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Add(2 * time.Minute)
	n, err = s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	revoked, err := s.IsRevoked(ctx, "short", "instance-a")
	require.NoError(t, err)
	assert.False(t, revoked)

	revoked, err = s.IsRevoked(ctx, "long", "instance-a")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestRunPrunerStopsOnCancel(t *testing.T) {
	s, _, _ := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.RunPruner(ctx, time.Minute, zap.NewNop()) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pruner did not stop")
	}
}
