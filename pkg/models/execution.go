package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FileReference binds one file or directory on the submit host to the path
// where it must appear on the target resource.
//
// Source is a locator of the form file://<host>/<abs path>. A trailing slash on
// the locator stages the directory contents rather than the directory itself.
type FileReference struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

func (f FileReference) String() string {
	return f.Source + " -> " + f.Destination
}

// TaskStatus is the lifecycle state of a submitted task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskSucceeded TaskStatus = "SUCCEEDED"
	TaskFailed    TaskStatus = "FAILED"
)

// Terminal reports whether no further transitions can happen.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// Execution is the persisted record of one task submission.
type Execution struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	TaskName    string         `json:"task_name" gorm:"not null;index"`
	Resource    string         `json:"resource" gorm:"type:varchar(128);not null"`
	Command     string         `json:"command" gorm:"not null"`
	Status      TaskStatus     `json:"status" gorm:"type:varchar(20);default:'PENDING'"`
	ExitCode    int            `json:"exit_code"`
	StdoutPath  string         `json:"stdout_path"`
	StderrPath  string         `json:"stderr_path"`
	Inputs      FileReferences `json:"inputs" gorm:"type:jsonb"`
	Outputs     FileReferences `json:"outputs" gorm:"type:jsonb"`
	OutputURI   string         `json:"output_uri"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// BeforeCreate hook to generate UUID if not present
func (e *Execution) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return
}

// TaskEvent describes a single status transition, published to event sinks.
type TaskEvent struct {
	TaskID   uuid.UUID  `json:"task_id"`
	TaskName string     `json:"task_name"`
	Resource string     `json:"resource"`
	Status   TaskStatus `json:"status"`
	Message  string     `json:"message,omitempty"`
	At       time.Time  `json:"at"`
}
