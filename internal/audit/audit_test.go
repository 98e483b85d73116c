package audit_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jamesmcfarland/keyforge/internal/audit"
	"github.com/jamesmcfarland/keyforge/internal/model"
	"github.com/jamesmcfarland/keyforge/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorizeRequest(t *testing.T) {
	tests := []struct {
		path, method string
		want         model.AuditEventType
	}{
		{"/admin/instances", "POST", model.AuditAdminOperation},
		{"/admin/instances/instance-a", "DELETE", model.AuditAdminOperation},
		{"/admin/instances/instance-a", "GET", model.AuditInstanceAccess},
		{"/admin/instances/instance-a/keys/revoke", "POST", model.AuditKeyRotation},
		{"/instances/instance-a/organisations", "POST", model.AuditDataModification},
		{"/instances/instance-a/organisations/o/passwords/p", "PUT", model.AuditDataModification},
		{"/instances/instance-a/organisations/o/passwords/p", "DELETE", model.AuditDataModification},
		{"/instances/instance-a/organisations", "GET", model.AuditInstanceAccess},
		{"/admin/deployments", "GET", model.AuditInstanceAccess},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, audit.CategorizeRequest(tt.path, tt.method))
		})
	}
}

func TestWriterRecords(t *testing.T) {
	db := testutil.NewDB(t)
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 5, 5, 12, 0, 0, 0, time.UTC))
	w := audit.NewWriter(db, clk, nil)

	w.Record(audit.Entry{
		Endpoint: "/instances/instance-a/organisations", Method: "POST", TenantID: "instance-a",
		RequestID: "req-1", Metadata: map[string]interface{}{"client": "cli"},
		ResponseStatus: 201, EventType: model.AuditDataModification,
	})
	w.RecordAuthFailure("/admin/instances", "GET", "Invalid API key", 401)
	w.Wait()

	var rows []model.AuditLog
	require.NoError(t, db.Order("tenant_id").Find(&rows).Error)
	require.Len(t, rows, 2)

	assert.Equal(t, "instance-a", rows[0].TenantID)
	assert.Equal(t, 201, rows[0].ResponseStatus)
	var meta map[string]string
	require.NoError(t, json.Unmarshal(rows[0].Metadata, &meta))
	assert.Equal(t, "cli", meta["client"])
	assert.True(t, clk.Now().Equal(rows[0].Timestamp))

	assert.Equal(t, audit.UnknownTenant, rows[1].TenantID)
	assert.Equal(t, model.AuditAuthFailure, rows[1].EventType)
	assert.Equal(t, 401, rows[1].ResponseStatus)
	assert.Regexp(t, `^[0-9a-f]{16}$`, rows[1].RequestID)
}

func TestWriterSwallowsErrors(t *testing.T) {
	db := testutil.NewDB(t)
	w := audit.NewWriter(db, nil, nil)
	require.NoError(t, db.Migrator().DropTable(&model.AuditLog{}))

	assert.NotPanics(t, func() {
		w.RecordAuthFailure("/admin", "GET", "No authorization header", 401)
		w.Wait()
	})
}
