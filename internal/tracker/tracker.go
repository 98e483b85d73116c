// Package tracker keeps the append-only event and log journal of each
// deployment.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jamesmcfarland/keyforge/internal/model"
	"github.com/jamesmcfarland/keyforge/prometheus"
	"gorm.io/gorm"
)

const (
	DefaultLogLimit = 100
	MaxLogLimit     = 1000
)

// LogQuery filters and pages deployment logs.
type LogQuery struct {
	Level  model.LogLevel // empty matches every level
	Since  *time.Time     // only entries created at or after Since
	Limit  int
	Offset int
}

// Tracker writes and reads deployment events and logs.
type Tracker struct {
	db    *gorm.DB
	clock clock.Clock

	mu   sync.Mutex
	last time.Time
}

// New returns a Tracker backed by db.
func New(db *gorm.DB, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{db: db, clock: clk}
}

// now returns a timestamp strictly after every previous one handed out by
// this tracker so entries written in quick succession keep their order.
func (t *Tracker) now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := model.Timestamp(t.clock.Now())
	if !ts.After(t.last) {
		ts = t.last.Add(time.Microsecond)
	}
	t.last = ts
	return ts
}

// LogEvent appends a milestone for deploymentID.
func (t *Tracker) LogEvent(ctx context.Context, deploymentID, step string, status model.EventStatus, message string) (*model.DeploymentEvent, error) {
	defer prometheus.TrackDBOperation("log_event")(time.Now())

	ev := &model.DeploymentEvent{
		ID:           model.NewID(model.PrefixEvent),
		DeploymentID: deploymentID,
		Step:         step,
		Status:       status,
		CreatedAt:    t.now(),
	}
	if message != "" {
		ev.Message = &message
	}
	if err := t.db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, fmt.Errorf("log event %s/%s: %w", deploymentID, step, err)
	}
	return ev, nil
}

// LogMessage appends an operational log line for deploymentID.
func (t *Tracker) LogMessage(ctx context.Context, deploymentID string, level model.LogLevel, message string) (*model.DeploymentLog, error) {
	defer prometheus.TrackDBOperation("log_message")(time.Now())

	if !level.Valid() {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	entry := &model.DeploymentLog{
		ID:           model.NewID(model.PrefixLog),
		DeploymentID: deploymentID,
		Level:        level,
		Message:      message,
		CreatedAt:    t.now(),
	}
	if err := t.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("log message %s: %w", deploymentID, err)
	}
	return entry, nil
}

// Events returns every event of deploymentID, oldest first.
func (t *Tracker) Events(ctx context.Context, deploymentID string) ([]model.DeploymentEvent, error) {
	defer prometheus.TrackDBOperation("list_events")(time.Now())

	events := []model.DeploymentEvent{}
	err := t.db.WithContext(ctx).
		Where("deployment_id = ?", deploymentID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&events).Error
	return events, err
}

// Logs returns one page of logs for deploymentID, newest first, together
// with the number of entries matching the filters.
func (t *Tracker) Logs(ctx context.Context, deploymentID string, q LogQuery) ([]model.DeploymentLog, int64, error) {
	defer prometheus.TrackDBOperation("list_logs")(time.Now())

	if q.Limit <= 0 {
		q.Limit = DefaultLogLimit
	}
	if q.Limit > MaxLogLimit {
		q.Limit = MaxLogLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	scope := t.db.WithContext(ctx).Model(&model.DeploymentLog{}).Where("deployment_id = ?", deploymentID)
	if q.Level != "" {
		scope = scope.Where("level = ?", q.Level)
	}
	if q.Since != nil {
		scope = scope.Where("created_at >= ?", model.Timestamp(*q.Since))
	}

	var total int64
	if err := scope.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	logs := []model.DeploymentLog{}
	err := scope.Session(&gorm.Session{}).
		Order("created_at DESC").
		Order("id DESC").
		Limit(q.Limit).
		Offset(q.Offset).
		Find(&logs).Error
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
