package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jamesmcfarland/keyforge/internal/audit"
	"github.com/jamesmcfarland/keyforge/internal/handler"
	"github.com/jamesmcfarland/keyforge/internal/keyregistry"
	"github.com/jamesmcfarland/keyforge/internal/middleware"
	"github.com/jamesmcfarland/keyforge/internal/model"
	"github.com/jamesmcfarland/keyforge/internal/registry"
	"github.com/jamesmcfarland/keyforge/internal/revocation"
	"github.com/jamesmcfarland/keyforge/internal/service"
	"github.com/jamesmcfarland/keyforge/internal/testutil"
	"github.com/jamesmcfarland/keyforge/internal/token"
	"github.com/jamesmcfarland/keyforge/internal/tracker"
	"github.com/jamesmcfarland/keyforge/internal/vault"
	"github.com/jamesmcfarland/keyforge/internal/vault/vaulttest"
	"github.com/jamesmcfarland/keyforge/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const apiKey = "test-admin-api-key"

type provisioner struct {
	reg   *registry.Registry
	ready bool
}

func (p *provisioner) Start(id, _ string) {
	if p.ready {
		_, _ = p.reg.TransitionInstance(context.Background(), id, model.InstanceReady, "")
	}
}

func (p *provisioner) Destroy(ctx context.Context, id string) error {
	return p.reg.DeleteInstance(ctx, id)
}

type app struct {
	e       *echo.Echo
	db      *gorm.DB
	tracker *tracker.Tracker
	vault   *vaulttest.Fake
	prov    *provisioner
	audit   *audit.Writer
}

func newApp(t *testing.T) *app {
	t.Helper()
	db := testutil.NewDB(t)

	_, rootPub, err := token.GenerateKeyPair()
	require.NoError(t, err)
	root, err := keyregistry.LoadRootKey(rootPub)
	require.NoError(t, err)

	tr := tracker.New(db, nil)
	reg := registry.New(db, tr)
	keys := keyregistry.New(db, root, nil)
	revoked := revocation.NewStore(db, nil)
	fake := vaulttest.New()
	prov := &provisioner{reg: reg, ready: true}
	writer := audit.NewWriter(db, nil, nil)
	t.Cleanup(writer.Wait)

	router := &handler.Router{
		Health:        handler.NewHealthHandler(db, reg, fake),
		Admin:         handler.NewAdminHandler(service.NewInstanceService(reg, keys, prov, "", nil, nil), reg, tr),
		Organisations: handler.NewOrganisationHandler(service.NewOrganisationService(reg, fake, nil, nil), service.NewPasswordService(reg, fake, nil, nil)),
		Tokens:        handler.NewTokenHandler(revoked),
		Auth:          middleware.NewAuthenticator(keys, token.NewVerifier(nil, 0), revoked, writer, apiKey),
		Audit:         writer,
	}

	e := echo.New()
	e.HTTPErrorHandler = handler.HTTPErrorHandler
	e.Use(middleware.RequestID, logger.Middleware())
	router.Register(e)

	return &app{e: e, db: db, tracker: tr, vault: fake, prov: prov, audit: writer}
}

func (a *app) do(t *testing.T, method, path, auth string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var payload *strings.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		payload = strings.NewReader(string(b))
	} else {
		payload = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, payload)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+auth)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)

	out := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

// createInstance returns the instance id and a token scoped to it.
func (a *app) createInstance(t *testing.T, name string) (string, string) {
	t.Helper()
	status, body := a.do(t, http.MethodPost, "/admin/instances", apiKey, echo.Map{"name": name})
	require.Equal(t, http.StatusAccepted, status, body)

	id := body["instance_id"].(string)
	priv, err := token.ParsePrivateKey(body["jwt_private_key"].(string))
	require.NoError(t, err)
	raw, err := token.Issue(token.NewClaims(id, id, time.Now(), time.Hour), priv)
	require.NoError(t, err)
	return id, raw
}

func TestBannerAndHealth(t *testing.T) {
	a := newApp(t)

	status, body := a.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Keyforge API", body["name"])
	assert.Equal(t, "running", body["status"])

	status, body = a.do(t, http.MethodGet, "/health?check=db", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["db_status"])
}

func TestCreateInstanceReturnsSecretsOnce(t *testing.T) {
	a := newApp(t)

	status, body := a.do(t, http.MethodPost, "/admin/instances", apiKey, echo.Map{"name": ""})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Instance name is required", body["error"])

	status, body = a.do(t, http.MethodPost, "/admin/instances", apiKey, echo.Map{"name": "Acme"})
	require.Equal(t, http.StatusAccepted, status)
	id := body["instance_id"].(string)
	secret := body["admin_token"].(string)
	assert.Equal(t, "provisioning", body["status"])
	assert.Contains(t, body["jwt_private_key"], "PRIVATE KEY")

	req := httptest.NewRequest(http.MethodGet, "/admin/instances/"+id, nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+apiKey)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), secret)
	assert.Contains(t, rec.Body.String(), `"status":"ready"`)

	status, body = a.do(t, http.MethodGet, "/admin/instances", apiKey, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["instances"], 1)
}

func TestAdminRoutesRequireCredentials(t *testing.T) {
	a := newApp(t)
	_, tenantToken := a.createInstance(t, "Acme")

	status, body := a.do(t, http.MethodGet, "/admin/instances", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "No authorization token", body["error"])

	status, _ = a.do(t, http.MethodGet, "/admin/instances", "wrong-key", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = a.do(t, http.MethodGet, "/admin/instances", tenantToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	a.audit.Wait()
	var failures int64
	require.NoError(t, a.db.Model(&model.AuditLog{}).Where("event_type = ?", model.AuditAuthFailure).Count(&failures).Error)
	assert.EqualValues(t, 3, failures)
}

func TestAcmeEngineeringGitHubOverHTTP(t *testing.T) {
	a := newApp(t)
	id, tok := a.createInstance(t, "Acme")
	base := "/instances/" + id + "/organisations"

	status, body := a.do(t, http.MethodPost, base, tok, echo.Map{"name": "Engineering"})
	require.Equal(t, http.StatusCreated, status, body)
	orgID := body["organisation_id"].(string)
	assert.Equal(t, "created", body["status"])
	assert.NotEmpty(t, body["vaultwd_org_id"])

	status, body = a.do(t, http.MethodGet, base+"/"+orgID, tok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, body, "backend_user_token")

	pwBase := base + "/" + orgID + "/passwords"
	status, body = a.do(t, http.MethodPost, pwBase, tok, echo.Map{"name": "GitHub", "password": "hunter2", "username": "acme"})
	require.Equal(t, http.StatusCreated, status, body)
	pwdID := body["password_id"].(string)

	status, body = a.do(t, http.MethodGet, pwBase, tok, nil)
	require.Equal(t, http.StatusOK, status)
	list := body["passwords"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, "GitHub", list[0].(map[string]interface{})["name"])

	status, body = a.do(t, http.MethodPut, pwBase+"/"+pwdID, tok, echo.Map{"notes": "rotated"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "hunter2", body["password"])
	assert.Equal(t, "rotated", body["notes"])

	status, body = a.do(t, http.MethodPut, pwBase+"/"+pwdID, tok, echo.Map{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "At least one field is required", body["error"])

	status, _ = a.do(t, http.MethodDelete, pwBase+"/"+pwdID, tok, nil)
	require.Equal(t, http.StatusOK, status)
	status, body = a.do(t, http.MethodGet, pwBase+"/"+pwdID, tok, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Password not found", body["error"])

	a.audit.Wait()
	var modifications int64
	require.NoError(t, a.db.Model(&model.AuditLog{}).
		Where("tenant_id = ? AND event_type = ?", id, model.AuditDataModification).
		Count(&modifications).Error)
	assert.EqualValues(t, 5, modifications, "org create, password create, two updates, delete")
}

func TestTenantIsolation(t *testing.T) {
	a := newApp(t)
	_, tokA := a.createInstance(t, "Acme")
	idB, _ := a.createInstance(t, "Globex")

	status, body := a.do(t, http.MethodGet, "/instances/"+idB+"/organisations", tokA, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Access denied to this instance", body["error"])
}

func TestOrganisationRequiresReadyInstance(t *testing.T) {
	a := newApp(t)
	a.prov.ready = false
	id, tok := a.createInstance(t, "Acme")

	status, body := a.do(t, http.MethodPost, "/instances/"+id+"/organisations", tok, echo.Map{"name": "Engineering"})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "Instance status is provisioning", body["error"])

	status, body = a.do(t, http.MethodGet, "/health/vaultwd/"+id, "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestVaultHealth(t *testing.T) {
	a := newApp(t)
	id, _ := a.createInstance(t, "Acme")

	status, body := a.do(t, http.MethodGet, "/health/vaultwd/"+id, "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, id, body["instance_id"])

	a.vault.Health = vault.HealthResult{Status: vault.Unhealthy, Message: "connection refused"}
	status, body = a.do(t, http.MethodGet, "/health/vaultwd/"+id, "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "connection refused", body["message"])

	status, _ = a.do(t, http.MethodGet, "/health/vaultwd/instance-missing", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRevocation(t *testing.T) {
	a := newApp(t)
	id, tok := a.createInstance(t, "Acme")
	orgs := "/instances/" + id + "/organisations"

	status, _ := a.do(t, http.MethodPost, "/instances/"+id+"/tokens/revoke", tok, nil)
	require.Equal(t, http.StatusOK, status)
	status, body := a.do(t, http.MethodGet, orgs, tok, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Token has been revoked", body["error"])

	status, body = a.do(t, http.MethodPost, "/admin/tokens/revoke", apiKey, echo.Map{"jti": "abc"})
	assert.Equal(t, http.StatusBadRequest, status, body)

	// revoking the instance key invalidates every token it signed
	_, tok2 := a.createInstance(t, "Globex")
	parsed, err := token.DecodeUnverified(tok2)
	require.NoError(t, err)
	status, _ = a.do(t, http.MethodGet, "/instances/"+parsed.TenantID+"/organisations", tok2, nil)
	require.Equal(t, http.StatusOK, status)
	status, body = a.do(t, http.MethodPost, "/admin/instances/"+parsed.TenantID+"/keys/revoke", apiKey, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 1, body["revoked"])
	status, _ = a.do(t, http.MethodGet, "/instances/"+parsed.TenantID+"/organisations", tok2, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestDeploymentViews(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()
	id, _ := a.createInstance(t, "Acme")

	_, err := a.tracker.LogEvent(ctx, id, "deploy_install", model.EventSuccess, "")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		level := model.LogInfo
		if i%2 == 0 {
			level = model.LogDebug
		}
		_, err := a.tracker.LogMessage(ctx, id, level, fmt.Sprintf("line %d", i))
		require.NoError(t, err)
	}

	status, body := a.do(t, http.MethodGet, "/admin/deployments/"+id, apiKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["events"], 1)
	assert.Equal(t, id, body["instance"].(map[string]interface{})["id"])

	status, body = a.do(t, http.MethodGet, "/admin/deployments/"+id+"/events", apiKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, body["deployment_id"])

	status, body = a.do(t, http.MethodGet, "/admin/deployments/"+id+"/logs?level=debug&page=2&limit=2", apiKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 3, body["total"])
	assert.EqualValues(t, 2, body["page"])
	logs := body["logs"].([]interface{})
	require.Len(t, logs, 1)
	assert.Equal(t, "line 0", logs[0].(map[string]interface{})["message"])

	status, body = a.do(t, http.MethodGet, "/admin/deployments/"+id+"/logs?level=trace", apiKey, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = a.do(t, http.MethodGet, "/admin/deployments/instance-missing/logs", apiKey, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Deployment not found", body["error"])

	status, body = a.do(t, http.MethodGet, "/admin/deployments", apiKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["deployments"], 1)
}
