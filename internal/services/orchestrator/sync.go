package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/trawler/internal/connectors"
	"github.com/ternarybob/trawler/internal/ingest"
	"github.com/ternarybob/trawler/internal/models"
)

// runSync executes one full sync run for a claimed connector: claim
// preparation, source ping, filtering validation, job lifecycle, bulk
// ingestion, and the write-back of the outcome.
func (s *Service) runSync(ctx context.Context, connector *connectors.Connector) {
	syncID := uuid.NewString()

	err := connector.Prepare(connectors.ServiceConfig{
		ServiceType: s.fallbackServiceType(),
		Sources:     s.sources,
	})
	if err != nil {
		s.connectorFailed(ctx, connector, syncID, err)
		return
	}

	if connector.Status() == models.StatusNeedsConfiguration {
		// Prepare filled missing fields with nulls; the UI has to complete them
		if err := connector.Flush(ctx); err != nil {
			s.logger.Warn().Err(err).Str("connector_id", connector.ID).Msg("Flush failed")
		}
		s.logger.Info().
			Str("sync_id", syncID).
			Str("connector_id", connector.ID).
			Msg("Connector needs configuration, not syncing")
		return
	}

	source := connector.Source()
	if err := source.Ping(ctx); err != nil {
		s.connectorFailed(ctx, connector, syncID, fmt.Errorf("source ping failed: %w", err))
		return
	}
	_ = connector.SetStatus(models.StatusConnected)
	connector.SetError("")

	filter := connector.Doc.Filtering.GetActiveFilter(models.DefaultDomain)
	if validationErr := s.validateFiltering(ctx, connector, filter); validationErr != nil {
		s.recordInvalidFiltering(ctx, connector, syncID, filter, validationErr)
		return
	}

	if !connector.Doc.SyncNow {
		changed, err := source.Changed(ctx)
		if err == nil && !changed {
			s.logger.Debug().
				Str("sync_id", syncID).
				Str("connector_id", connector.ID).
				Msg("Source unchanged, skipping sync")
			return
		}
	}

	job := connectors.NewSyncJob(connector.ID, s.jobs)
	if err := job.Start(ctx, filter); err != nil {
		s.connectorFailed(ctx, connector, syncID, err)
		return
	}
	connector.SetSyncNow(false)
	connector.SetLastSyncStatus(models.JobStatusInProgress)
	if err := connector.Flush(ctx); err != nil {
		s.logger.Warn().Err(err).Str("connector_id", connector.ID).Msg("Flush failed")
	}
	s.logger.Info().
		Str("sync_id", syncID).
		Str("connector_id", connector.ID).
		Str("job_id", job.ID).
		Str("index", connector.Doc.IndexName).
		Msg("Sync started")

	opts := ingest.Options{
		ChunkSize:           s.config.Bulk.ChunkSize,
		ConcurrentDownloads: s.config.Bulk.ConcurrentDownloads,
		Pipeline:            s.pipelineName(connector),
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	var cancelRequested atomic.Bool
	monitorDone := s.monitorJob(runCtx, job, &cancelRequested, cancelRun)

	result, syncErr := s.coordinator.Sync(runCtx, source, connector.Doc.IndexName, filter, opts)
	cancelRun()
	<-monitorDone

	if cancelRequested.Load() {
		// The UI flipped the job to canceling; abort and record the marker error
		if err := job.Cancel(context.Background()); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to finalize job")
		}
		connector.SetLastSyncStatus(job.Status())
		connector.SetLastSyncError("sync job canceled")
		connector.SetLastSynced(time.Now())
		if err := connector.Flush(ctx); err != nil {
			s.logger.Warn().Err(err).Str("connector_id", connector.ID).Msg("Flush failed")
		}
		s.logger.Info().
			Str("sync_id", syncID).
			Str("connector_id", connector.ID).
			Str("job_id", job.ID).
			Msg("Sync canceled on request")
		return
	}

	if syncErr != nil && errors.Is(syncErr, context.Canceled) {
		// Shutdown caught us mid-run; park the job so a later run resumes it
		background := context.Background()
		if err := job.Suspend(background); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to suspend job")
		}
		connector.SetLastSyncStatus(models.JobStatusSuspended)
		if err := connector.Flush(background); err != nil {
			s.logger.Warn().Err(err).Str("connector_id", connector.ID).Msg("Flush failed")
		}
		return
	}

	indexed, deleted := 0, 0
	if result != nil {
		indexed, deleted = result.Indexed, result.Deleted
		if len(result.DocErrors) > 0 {
			s.logger.Warn().
				Str("sync_id", syncID).
				Str("job_id", job.ID).
				Int("doc_errors", len(result.DocErrors)).
				Msg("Documents rejected during bulk ingestion")
		}
	}
	if err := job.Done(ctx, indexed, deleted, syncErr); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to finalize job")
	}

	connector.SetLastSyncStatus(job.Status())
	connector.SetLastSynced(time.Now())
	if syncErr != nil {
		connector.SetLastSyncError(syncErr.Error())
		connector.SetError(syncErr.Error())
		_ = connector.SetStatus(models.StatusError)
		s.countFailure(connector, syncID, syncErr)
	} else {
		connector.SetLastSyncError("")
		connector.SetError("")
		s.errorCounts[connector.ID] = 0
		s.logger.Info().
			Str("sync_id", syncID).
			Str("connector_id", connector.ID).
			Str("job_id", job.ID).
			Int("indexed", indexed).
			Int("deleted", deleted).
			Float64("duration_seconds", job.Duration()).
			Msg("Sync finished")
	}
	if err := connector.Flush(ctx); err != nil {
		s.logger.Warn().Err(err).Str("connector_id", connector.ID).Msg("Flush failed")
	}
}

// monitorJob heartbeats the running job and watches its row for an external
// cancel request. A canceling status aborts the run via cancelRun.
func (s *Service) monitorJob(ctx context.Context, job *connectors.SyncJob, cancelRequested *atomic.Bool, cancelRun context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(time.Duration(s.config.Service.HeartbeatSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := job.Heartbeat(ctx); err != nil {
					s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Job heartbeat failed")
				}
				row, found, err := s.jobs.Get(ctx, job.ID)
				if err != nil || !found {
					continue
				}
				if models.JobStatus(row.Doc.Status) == models.JobStatusCanceling {
					cancelRequested.Store(true)
					cancelRun()
					return
				}
			}
		}
	}()
	return done
}

// validateFiltering invokes the rules validator when sync rules are enabled
// and advanced rules are present, embeds the result into the active block,
// and fails the sync for invalid rules.
func (s *Service) validateFiltering(ctx context.Context, connector *connectors.Connector, filter models.Filter) error {
	if s.validator == nil {
		return nil
	}
	if !connector.Doc.Features.SyncRulesEnabled() {
		return nil
	}
	if !filter.HasAdvancedRules() && len(filter.GetBasicRules()) == 0 {
		return nil
	}

	result, err := s.validator.ValidateFiltering(ctx, connector.ID, filter)
	if err != nil {
		return fmt.Errorf("filtering validation failed: %w", err)
	}
	if err := s.connectors.UpdateFilteringValidation(ctx, connector, result, models.ValidationTargetActive); err != nil {
		s.logger.Warn().Err(err).Str("connector_id", connector.ID).Msg("Failed to persist filtering validation")
	}
	if result.State == models.FilteringValidationInvalid {
		return fmt.Errorf("filtering rules invalid: %v", result.Errors)
	}
	return nil
}

// recordInvalidFiltering writes a failed job for a sync blocked by filtering
// validation, without touching the target index.
func (s *Service) recordInvalidFiltering(ctx context.Context, connector *connectors.Connector, syncID string, filter models.Filter, validationErr error) {
	job := connectors.NewSyncJob(connector.ID, s.jobs)
	if err := job.Start(ctx, filter); err == nil {
		if err := job.Fail(ctx, validationErr); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to finalize job")
		}
	}
	connector.SetSyncNow(false)
	connector.SetLastSyncStatus(models.JobStatusFailed)
	connector.SetLastSyncError(validationErr.Error())
	connector.SetLastSynced(time.Now())
	if err := connector.Flush(ctx); err != nil {
		s.logger.Warn().Err(err).Str("connector_id", connector.ID).Msg("Flush failed")
	}
	s.countFailure(connector, syncID, validationErr)
}

// connectorFailed records a failure that happened before a job existed
func (s *Service) connectorFailed(ctx context.Context, connector *connectors.Connector, syncID string, err error) {
	s.logger.Warn().
		Err(err).
		Str("sync_id", syncID).
		Str("connector_id", connector.ID).
		Msg("Connector unusable")
	_ = connector.SetStatus(models.StatusError)
	connector.SetError(err.Error())
	if flushErr := connector.Flush(ctx); flushErr != nil {
		s.logger.Warn().Err(flushErr).Str("connector_id", connector.ID).Msg("Flush failed")
	}
	s.countFailure(connector, syncID, err)
}

// countFailure advances the consecutive-failure counter and trips the
// circuit at the configured limit.
func (s *Service) countFailure(connector *connectors.Connector, syncID string, err error) {
	s.errorCounts[connector.ID]++
	if s.errorCounts[connector.ID] >= s.config.Service.MaxErrors {
		s.logger.Error().
			Err(err).
			Str("sync_id", syncID).
			Str("connector_id", connector.ID).
			Int("failures", s.errorCounts[connector.ID]).
			Msg("Connector exceeded max consecutive failures, parked until manual intervention")
	}
}

// fallbackServiceType is written back onto UI-created rows that carry no
// service type. Only unambiguous with a single configured type.
func (s *Service) fallbackServiceType() string {
	if len(s.config.Service.ServiceTypes) == 1 {
		return s.config.Service.ServiceTypes[0]
	}
	return ""
}

// pipelineName prefers the pipeline pinned on the connector row over the
// configured default.
func (s *Service) pipelineName(connector *connectors.Connector) string {
	if name, ok := connector.Doc.Pipeline["name"].(string); ok && name != "" {
		return name
	}
	return s.config.Bulk.Pipeline
}
