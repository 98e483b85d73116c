package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jamesmcfarland/keyforge/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestKeygenSignDecode(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "keygen", "--out-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "private.pem")

	info, err := os.Stat(filepath.Join(dir, "private.pem"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	raw, err := execute(t, "token", "sign", "--key", filepath.Join(dir, "private.pem"),
		"--sub", "root", "--tenant", "instance-a", "--admin", "-m", "client=ops")
	require.NoError(t, err)
	raw = strings.TrimSpace(raw)

	pubPEM, err := os.ReadFile(filepath.Join(dir, "public.pem"))
	require.NoError(t, err)
	pub, err := token.ParsePublicKey(string(pubPEM))
	require.NoError(t, err)
	claims, err := token.NewVerifier(nil, 0).Verify(raw, pub)
	require.NoError(t, err)
	assert.Equal(t, "root", claims.Subject)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, "ops", claims.Metadata["client"])

	out, err = execute(t, "token", "decode", raw)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "instance-a", decoded["tenantId"])
}

func TestKeygenToStdout(t *testing.T) {
	out, err := execute(t, "keygen")
	require.NoError(t, err)
	assert.Contains(t, out, "BEGIN PRIVATE KEY")
	assert.Contains(t, out, "BEGIN PUBLIC KEY")
}

func TestTokenSignValidation(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "keygen", "-o", dir)
	require.NoError(t, err)
	key := filepath.Join(dir, "private.pem")

	_, err = execute(t, "token", "sign", "--key", key)
	assert.EqualError(t, err, "--tenant is required")

	_, err = execute(t, "token", "sign", "--key", key, "--tenant", "t", "-m", "novalue")
	assert.Error(t, err)

	_, err = execute(t, "token", "decode", "garbage")
	assert.Error(t, err)
}
