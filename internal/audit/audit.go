// Package audit records authenticated requests and rejected
// authentication attempts.
package audit

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jamesmcfarland/keyforge/internal/model"
	"github.com/jamesmcfarland/keyforge/prometheus"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UnknownTenant is recorded when the caller could not be identified.
const UnknownTenant = "unknown"

const writeTimeout = 5 * time.Second

// Entry describes one audited request.
type Entry struct {
	Endpoint       string
	Method         string
	TenantID       string
	RequestID      string
	Metadata       map[string]interface{}
	ResponseStatus int
	EventType      model.AuditEventType
}

// Writer stores audit entries in the background. Write failures are
// logged and counted, never returned.
type Writer struct {
	db    *gorm.DB
	clock clock.Clock
	log   *zap.Logger
	wg    sync.WaitGroup
}

// NewWriter returns a Writer backed by db.
func NewWriter(db *gorm.DB, clk clock.Clock, log *zap.Logger) *Writer {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{db: db, clock: clk, log: log.With(zap.String("component", "audit"))}
}

// Record stores e without blocking the caller.
func (w *Writer) Record(e Entry) {
	now := model.Timestamp(w.clock.Now())
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.write(e, now)
	}()
}

// RecordAuthFailure stores a rejected authentication attempt.
func (w *Writer) RecordAuthFailure(endpoint, method, reason string, status int) {
	w.Record(Entry{
		Endpoint:       endpoint,
		Method:         method,
		TenantID:       UnknownTenant,
		RequestID:      model.RandomHex(8),
		Metadata:       map[string]interface{}{"reason": reason},
		ResponseStatus: status,
		EventType:      model.AuditAuthFailure,
	})
}

// Wait blocks until every pending write has finished.
func (w *Writer) Wait() {
	w.wg.Wait()
}

func (w *Writer) write(e Entry, at time.Time) {
	defer prometheus.TrackDBOperation("write_audit")(time.Now())

	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		w.log.Warn("Audit metadata is not serialisable", zap.Error(err))
		meta = []byte("{}")
	}

	row := model.AuditLog{
		Timestamp:      at,
		Endpoint:       e.Endpoint,
		Method:         e.Method,
		TenantID:       e.TenantID,
		RequestID:      e.RequestID,
		Metadata:       datatypes.JSON(meta),
		ResponseStatus: e.ResponseStatus,
		EventType:      e.EventType,
		CreatedAt:      at,
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := w.db.WithContext(ctx).Create(&row).Error; err != nil {
		prometheus.RecordAuditWriteFailure()
		w.log.Error("Failed to write audit log",
			zap.String("endpoint", e.Endpoint),
			zap.String("event_type", string(e.EventType)),
			zap.Error(err))
	}
}

// CategorizeRequest derives the audit event type of a request.
func CategorizeRequest(path, method string) model.AuditEventType {
	if strings.HasPrefix(path, "/admin/instances") {
		switch method {
		case "POST", "DELETE":
			if strings.Contains(path, "/keys") {
				return model.AuditKeyRotation
			}
			return model.AuditAdminOperation
		case "GET":
			return model.AuditInstanceAccess
		}
	}
	if strings.Contains(path, "/keys") || strings.Contains(path, "/rotate") {
		return model.AuditKeyRotation
	}
	switch method {
	case "POST", "PUT", "PATCH", "DELETE":
		return model.AuditDataModification
	}
	return model.AuditInstanceAccess
}
