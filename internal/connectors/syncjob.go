package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/models"
)

// SyncJob is the lifecycle object for one ingestion run. It is created
// pending, moved to in_progress by Start (which persists the job document
// and captures the cluster-assigned id), and ends through one of the
// terminal transitions.
type SyncJob struct {
	ID          string
	connectorID string
	index       *SyncJobIndex

	status      models.JobStatus
	createdAt   time.Time
	completedAt time.Time
	indexed     int
	deleted     int
}

// NewSyncJob creates a pending job for a connector
func NewSyncJob(connectorID string, index *SyncJobIndex) *SyncJob {
	return &SyncJob{
		connectorID: connectorID,
		index:       index,
		status:      models.JobStatusPending,
	}
}

// Status returns the current job status
func (j *SyncJob) Status() models.JobStatus {
	return j.status
}

// Duration returns seconds between start and completion, or -1 while the
// job has not completed.
func (j *SyncJob) Duration() float64 {
	if j.completedAt.IsZero() {
		return -1
	}
	return j.completedAt.Sub(j.createdAt).Seconds()
}

// Start moves the job to in_progress and persists it with the flattened
// filtering snapshot. The snapshot is immutable for the rest of the run.
func (j *SyncJob) Start(ctx context.Context, filtering models.Filter) error {
	j.status = models.JobStatusInProgress
	j.createdAt = time.Now()

	doc := models.SyncJobDoc{
		Connector: models.SyncJobConnectorRef{
			ID:        j.connectorID,
			Filtering: models.TransformFiltering(filtering),
		},
		Status:    string(j.status),
		CreatedAt: common.ISOUTC(j.createdAt),
		LastSeen:  common.ISOUTC(j.createdAt),
	}

	id, err := j.index.Upsert(ctx, "", doc)
	if err != nil {
		return fmt.Errorf("failed to persist sync job for connector %s: %w", j.connectorID, err)
	}
	j.ID = id
	return nil
}

// Heartbeat advances the job liveness marker so stuck-job sweeps on other
// replicas leave a healthy run alone.
func (j *SyncJob) Heartbeat(ctx context.Context) error {
	partial := map[string]interface{}{"last_seen": common.NowISO()}
	if err := j.index.Update(ctx, j.ID, partial); err != nil {
		return fmt.Errorf("failed to heartbeat sync job %s: %w", j.ID, err)
	}
	return nil
}

// Done completes the job with its counters. A non-nil error turns the
// outcome into failed.
func (j *SyncJob) Done(ctx context.Context, indexed, deleted int, syncErr error) error {
	status := models.JobStatusCompleted
	message := ""
	if syncErr != nil {
		status = models.JobStatusFailed
		message = syncErr.Error()
	}
	return j.terminate(ctx, status, indexed, deleted, message)
}

// Fail marks the job failed without counters
func (j *SyncJob) Fail(ctx context.Context, syncErr error) error {
	return j.Done(ctx, 0, 0, syncErr)
}

// Cancel ends the job; a canceled run is recorded as failed with a marker
// error so completed_at stays tied to the terminal statuses.
func (j *SyncJob) Cancel(ctx context.Context) error {
	return j.terminate(ctx, models.JobStatusFailed, j.indexed, j.deleted, "sync job canceled")
}

// Suspend parks the job without completing it; a later run resumes it.
// No completed_at is written.
func (j *SyncJob) Suspend(ctx context.Context) error {
	j.status = models.JobStatusSuspended
	partial := map[string]interface{}{
		"status": string(j.status),
	}
	if err := j.index.Update(ctx, j.ID, partial); err != nil {
		return fmt.Errorf("failed to suspend sync job %s: %w", j.ID, err)
	}
	return nil
}

func (j *SyncJob) terminate(ctx context.Context, status models.JobStatus, indexed, deleted int, message string) error {
	j.status = status
	j.indexed = indexed
	j.deleted = deleted
	j.completedAt = time.Now()

	partial := map[string]interface{}{
		"status":                 string(status),
		"indexed_document_count": indexed,
		"deleted_document_count": deleted,
		"completed_at":           common.ISOUTC(j.completedAt),
		"error":                  message,
	}
	if err := j.index.Update(ctx, j.ID, partial); err != nil {
		return fmt.Errorf("failed to finalize sync job %s: %w", j.ID, err)
	}
	return nil
}
