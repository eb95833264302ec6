package models

import "fmt"

// ConnectorStatus represents the lifecycle state of a connector record.
// The control-plane protocol uses lower case strings.
type ConnectorStatus string

const (
	StatusCreated            ConnectorStatus = "created"
	StatusNeedsConfiguration ConnectorStatus = "needs_configuration"
	StatusConfigured         ConnectorStatus = "configured"
	StatusConnected          ConnectorStatus = "connected"
	StatusError              ConnectorStatus = "error"
)

// ValidConnectorStatus reports whether s is a known connector status
func ValidConnectorStatus(s ConnectorStatus) bool {
	switch s {
	case StatusCreated, StatusNeedsConfiguration, StatusConfigured, StatusConnected, StatusError:
		return true
	}
	return false
}

// ParseConnectorStatus converts a stored status string into the enum
func ParseConnectorStatus(value string) (ConnectorStatus, error) {
	s := ConnectorStatus(value)
	if !ValidConnectorStatus(s) {
		return "", fmt.Errorf("unknown connector status %q", value)
	}
	return s, nil
}

// JobStatus represents the state of a sync job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCanceling  JobStatus = "canceling"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusSuspended  JobStatus = "suspended"
)

// Terminal reports whether the status ends a job. Only terminal jobs carry
// a completed_at timestamp.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}
