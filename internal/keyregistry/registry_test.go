package keyregistry_test

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jamesmcfarland/keyforge/internal/keyregistry"
	"github.com/jamesmcfarland/keyforge/internal/model"
	"github.com/jamesmcfarland/keyforge/internal/testutil"
	"github.com/jamesmcfarland/keyforge/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRootKey(t *testing.T) {
	_, pubPEM, err := token.GenerateKeyPair()
	require.NoError(t, err)

	fromPEM, err := keyregistry.LoadRootKey(pubPEM)
	require.NoError(t, err)
	require.NotNil(t, fromPEM.Key())

	fromB64, err := keyregistry.LoadRootKey(base64.StdEncoding.EncodeToString([]byte(pubPEM)))
	require.NoError(t, err)
	assert.True(t, fromPEM.Key().Equal(fromB64.Key()))

	for _, bad := range []string{"", "   ", "%%%not-base64%%%", base64.StdEncoding.EncodeToString([]byte("hello")), "-----BEGIN PUBLIC KEY-----\ngarbage\n-----END PUBLIC KEY-----"} {
		_, err := keyregistry.LoadRootKey(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func newRegistry(t *testing.T) (*keyregistry.Registry, keyregistry.RootKey, *clock.Mock) {
	t.Helper()
	db := testutil.NewDB(t)
	_, rootPEM, err := token.GenerateKeyPair()
	require.NoError(t, err)
	root, err := keyregistry.LoadRootKey(rootPEM)
	require.NoError(t, err)

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	for _, id := range []string{"instance-a", "instance-b"} {
		require.NoError(t, db.Create(&model.Instance{ID: id, Name: id, BackendURL: "http://x", BackendAdminSecret: "s", Status: model.InstanceReady, CreatedAt: clk.Now()}).Error)
	}
	return keyregistry.New(db, root, clk), root, clk
}

func TestTenantKeyLifecycle(t *testing.T) {
	reg, _, clk := newRegistry(t)
	ctx := context.Background()

	key, err := reg.GetTenantKey(ctx, "instance-a")
	require.NoError(t, err)
	assert.Nil(t, key)

	_, pubPEM, err := token.GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, reg.StoreTenantKey(ctx, "instance-a", pubPEM))

	key, err = reg.GetTenantKey(ctx, "instance-a")
	require.NoError(t, err)
	require.NotNil(t, key)

	clk.Add(time.Minute)
	_, rotatedPEM, err := token.GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, reg.StoreTenantKey(ctx, "instance-a", rotatedPEM))

	rotated, err := token.ParsePublicKey(rotatedPEM)
	require.NoError(t, err)
	key, err = reg.GetTenantKey(ctx, "instance-a")
	require.NoError(t, err)
	assert.True(t, rotated.Equal(key), "newest key wins")

	n, err := reg.RevokeTenantKey(ctx, "instance-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	key, err = reg.GetTenantKey(ctx, "instance-a")
	require.NoError(t, err)
	assert.Nil(t, key)

	n, err = reg.RevokeTenantKey(ctx, "instance-a")
	require.NoError(t, err)
	assert.Zero(t, n, "revocation is one-way and not repeated")
}

func TestStoreTenantKeyRejectsGarbage(t *testing.T) {
	reg, _, _ := newRegistry(t)
	assert.Error(t, reg.StoreTenantKey(context.Background(), "instance-a", "nope"))
}

func TestResolveVerificationKey(t *testing.T) {
	reg, root, _ := newRegistry(t)
	ctx := context.Background()

	_, pubPEM, err := token.GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, reg.StoreTenantKey(ctx, "instance-a", pubPEM))
	tenantKey, err := token.ParsePublicKey(pubPEM)
	require.NoError(t, err)

	tests := []struct {
		name     string
		sub      string
		tenantID string
		want     *ecdsa.PublicKey
	}{
		{name: "root subject", sub: "root", tenantID: "instance-b", want: root.Key()},
		{name: "matching tenant", sub: "instance-a", tenantID: "instance-a", want: tenantKey},
		{name: "subject differs from tenant", sub: "instance-a", tenantID: "instance-b"},
		{name: "tenant without key", sub: "instance-b", tenantID: "instance-b"},
		{name: "unknown tenant", sub: "instance-zzz", tenantID: "instance-zzz"},
		{name: "empty subject", sub: "", tenantID: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.ResolveVerificationKey(ctx, tt.sub, tt.tenantID)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(got))
		})
	}
}
