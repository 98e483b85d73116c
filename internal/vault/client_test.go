package vault

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *Client {
	c := NewClient(5 * time.Second)
	c.HealthRetryDelay = 10 * time.Millisecond
	c.HealthTimeout = time.Second
	return c
}

func TestMasterPasswordHash(t *testing.T) {
	h := MasterPasswordHash("Org@Keyforge.Local", "secret")
	assert.Equal(t, h, MasterPasswordHash("org@keyforge.local", "secret"), "salt is the lower-cased email")
	assert.NotEqual(t, h, MasterPasswordHash("org@keyforge.local", "other"))
	assert.Len(t, h, 44)
}

func TestRegisterAuthenticateCreateOrganization(t *testing.T) {
	var registered registerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/identity/accounts/register":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&registered))
			w.WriteHeader(http.StatusOK)
		case "/identity/connect/token":
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "password", r.PostForm.Get("grant_type"))
			assert.Equal(t, "org@keyforge.local", r.PostForm.Get("username"))
			assert.Equal(t, registered.MasterPasswordHash, r.PostForm.Get("password"))
			assert.Equal(t, "api offline_access", r.PostForm.Get("scope"))
			assert.Equal(t, "web", r.PostForm.Get("client_id"))
			assert.Equal(t, "keyforge", r.PostForm.Get("deviceName"))
			assert.NotEmpty(t, r.PostForm.Get("deviceIdentifier"))
			_, _ = io.WriteString(w, `{"access_token":"session-1","token_type":"Bearer"}`)
		case "/api/organizations":
			assert.Equal(t, "Bearer session-1", r.Header.Get("Authorization"))
			var req organizationRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "Eng", req.Name)
			_, _ = io.WriteString(w, `{"id":"org-123"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient()
	ctx := context.Background()

	master, err := c.RegisterUser(ctx, srv.URL, "org@keyforge.local", "Eng")
	require.NoError(t, err)
	assert.NotEmpty(t, master)
	assert.Equal(t, "org@keyforge.local", registered.Email)
	assert.Equal(t, MasterPasswordHash("org@keyforge.local", master), registered.MasterPasswordHash)
	assert.Equal(t, kdfIterations, registered.KdfIterations)

	session, err := c.AuthenticateUser(ctx, srv.URL, "org@keyforge.local", master)
	require.NoError(t, err)
	assert.Equal(t, "session-1", session)

	orgID, err := c.CreateOrganization(ctx, srv.URL, session, "Eng")
	require.NoError(t, err)
	assert.Equal(t, "org-123", orgID)
}

func TestCipherOperations(t *testing.T) {
	var created cipherRequest
	var deleted atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/ciphers":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			_, _ = io.WriteString(w, `{"id":"cipher-1"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/api/ciphers/organization-details":
			assert.Equal(t, "org-1", r.URL.Query().Get("organizationId"))
			_, _ = io.WriteString(w, `{"data":[{"id":"cipher-1","name":"GitHub"},{"id":"cipher-2","name":"AWS"}]}`)
		case r.Method == http.MethodGet && r.URL.Path == "/api/ciphers/cipher-1":
			_, _ = io.WriteString(w, `{"id":"cipher-1","name":"GitHub","notes":null,"creationDate":"2026-01-02T03:04:05.000Z",
				"login":{"username":"octo","password":"x","totp":null,"uris":[{"uri":"https://github.com","match":null}]}}`)
		case r.Method == http.MethodPut && r.URL.Path == "/api/ciphers/cipher-1":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodDelete && r.URL.Path == "/api/ciphers/cipher-1":
			deleted.Store(true)
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "nope", http.StatusTeapot)
		}
	}))
	defer srv.Close()

	c := newTestClient()
	ctx := context.Background()

	id, err := c.CreateCipher(ctx, srv.URL, "tok", "org-1", CipherInput{Name: "GitHub", Password: "x", URIs: []string{"https://github.com"}})
	require.NoError(t, err)
	assert.Equal(t, "cipher-1", id)
	assert.Equal(t, cipherTypeLogin, created.Type)
	assert.Equal(t, "org-1", created.OrganizationID)
	assert.Nil(t, created.Login.Username, "empty optional fields are null")
	assert.Nil(t, created.Notes)
	require.Len(t, created.Login.URIs, 1)

	list, err := c.GetCiphers(ctx, srv.URL, "tok", "org-1")
	require.NoError(t, err)
	assert.Equal(t, []CipherSummary{{ID: "cipher-1", Name: "GitHub"}, {ID: "cipher-2", Name: "AWS"}}, list)

	got, err := c.GetCipher(ctx, srv.URL, "tok", "cipher-1")
	require.NoError(t, err)
	assert.Equal(t, "octo", got.Username)
	assert.Equal(t, "x", got.Password)
	assert.Equal(t, []string{"https://github.com"}, got.URIs)
	assert.Equal(t, "", got.TOTP)
	assert.Equal(t, 2026, got.CreatedAt.Year())

	require.NoError(t, c.UpdateCipher(ctx, srv.URL, "tok", "cipher-1", "org-1", CipherInput{Name: "GitHub", Password: "y"}))
	require.NoError(t, c.DeleteCipher(ctx, srv.URL, "tok", "cipher-1"))
	assert.True(t, deleted.Load())

	err = c.DeleteCipher(ctx, srv.URL, "tok", "cipher-404")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTeapot, statusErr.StatusCode)
	assert.Contains(t, err.Error(), "delete cipher failed with status 418")
}

func TestCheckHealth(t *testing.T) {
	var calls atomic.Int32
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/alive", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	c := newTestClient()
	res := c.CheckHealth(context.Background(), healthy.URL)
	assert.Equal(t, Healthy, res.Status)
	assert.Equal(t, int32(1), calls.Load())

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	res = c.CheckHealth(context.Background(), failing.URL)
	assert.Equal(t, Unhealthy, res.Status)
	assert.Equal(t, "VaultWarden returned status 502", res.Message)
}

func TestCheckHealthRetriesConnectionErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient()
	start := time.Now()
	res := c.CheckHealth(context.Background(), url)
	assert.Equal(t, Unhealthy, res.Status)
	assert.NotEmpty(t, res.Message)
	assert.GreaterOrEqual(t, time.Since(start), 2*c.HealthRetryDelay, "two waits between three attempts")
}
