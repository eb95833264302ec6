package orchestrator

import (
	"context"

	"github.com/ternarybob/trawler/internal/models"
)

// sweepJobs reconciles the job-history index against the current connector
// rows: orphaned and stuck jobs get force-failed, externally created pending
// jobs turn into sync_now triggers.
func (s *Service) sweepJobs(ctx context.Context, connectorIDs []string) {
	s.sweepOrphaned(ctx, connectorIDs)
	s.sweepStuck(ctx, connectorIDs)
	s.sweepPending(ctx, connectorIDs)
}

// sweepOrphaned fails jobs whose connector row was deleted. An empty id
// list is indistinguishable from a failed connector listing, and an empty
// terms clause under must_not matches every job, so it never sweeps.
func (s *Service) sweepOrphaned(ctx context.Context, connectorIDs []string) {
	if len(connectorIDs) == 0 {
		return
	}
	query := s.jobs.OrphanedJobsQuery(connectorIDs)
	for job := range s.jobs.GetAll(ctx, query) {
		if job.Doc.Status != "" && models.JobStatus(job.Doc.Status).Terminal() {
			continue
		}
		if err := s.jobs.MarkFailed(ctx, job.ID, "connector no longer exists"); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Orphan sweep failed")
			continue
		}
		s.logger.Info().
			Str("job_id", job.ID).
			Str("connector_id", job.Doc.Connector.ID).
			Msg("Failed orphaned job")
	}
}

// sweepStuck fails non-terminal jobs whose heartbeat went silent
func (s *Service) sweepStuck(ctx context.Context, connectorIDs []string) {
	if len(connectorIDs) == 0 {
		return
	}
	query := s.jobs.StuckJobsQuery(connectorIDs, s.config.Service.StuckJobsThreshold)
	for job := range s.jobs.GetAll(ctx, query) {
		if err := s.jobs.MarkFailed(ctx, job.ID, "sync job stuck, no heartbeat"); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Stuck sweep failed")
			continue
		}
		s.logger.Warn().
			Str("job_id", job.ID).
			Str("connector_id", job.Doc.Connector.ID).
			Int("threshold_seconds", s.config.Service.StuckJobsThreshold).
			Msg("Failed stuck job")
	}
}

// sweepPending converts externally created pending jobs into one-shot sync
// triggers on their connector and retires the placeholder row.
func (s *Service) sweepPending(ctx context.Context, connectorIDs []string) {
	if len(connectorIDs) == 0 {
		return
	}
	query := s.jobs.PendingJobsQuery(connectorIDs)
	for job := range s.jobs.GetAll(ctx, query) {
		connectorID := job.Doc.Connector.ID
		if err := s.connectors.UpdateDoc(ctx, connectorID, map[string]interface{}{"sync_now": true}); err != nil {
			s.logger.Warn().Err(err).Str("connector_id", connectorID).Msg("Pending sweep trigger failed")
			continue
		}
		if err := s.jobs.Delete(ctx, job.ID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to retire pending job")
			continue
		}
		s.logger.Info().
			Str("job_id", job.ID).
			Str("connector_id", connectorID).
			Msg("Converted pending job into sync trigger")
	}
}
