package model

import (
	"time"
)

// EventStatus is the state reported by a deployment event.
type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventInProgress EventStatus = "in_progress"
	EventSuccess    EventStatus = "success"
	EventFailed     EventStatus = "failed"
)

// LogLevel is the severity of a deployment log line.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
	LogDebug LogLevel = "debug"
)

// Valid reports whether l is one of the known levels.
func (l LogLevel) Valid() bool {
	switch l {
	case LogInfo, LogWarn, LogError, LogDebug:
		return true
	}
	return false
}

// DeploymentEvent is a provisioning milestone such as "deploy_install".
type DeploymentEvent struct {
	ID           string      `json:"id" gorm:"primaryKey;type:varchar(64)"`
	DeploymentID string      `json:"deployment_id" gorm:"type:varchar(64);index:idx_event_deployment_created,priority:1;not null"`
	Step         string      `json:"step" gorm:"type:varchar(64);not null"`
	Status       EventStatus `json:"status" gorm:"type:varchar(32);not null"`
	Message      *string     `json:"message,omitempty" gorm:"type:text"`
	CreatedAt    time.Time   `json:"created_at" gorm:"index:idx_event_deployment_created,priority:2"`

	Instance *Instance `json:"-" gorm:"foreignKey:DeploymentID;constraint:OnDelete:CASCADE"`
}

// DeploymentLog is an operational log line for a deployment.
type DeploymentLog struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	DeploymentID string    `json:"deployment_id" gorm:"type:varchar(64);index:idx_log_deployment_created,priority:1;not null"`
	Level        LogLevel  `json:"level" gorm:"type:varchar(16);not null"`
	Message      string    `json:"message" gorm:"type:text;not null"`
	CreatedAt    time.Time `json:"created_at" gorm:"index:idx_log_deployment_created,priority:2"`

	Instance *Instance `json:"-" gorm:"foreignKey:DeploymentID;constraint:OnDelete:CASCADE"`
}
