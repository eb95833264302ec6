package orchestrator

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/connectors"
	"github.com/ternarybob/trawler/internal/ingest"
	"github.com/ternarybob/trawler/internal/interfaces"
)

// Service is the poll loop that reconciles connector rows: it claims the
// connectors this replica handles, heartbeats them, runs due syncs through
// the bulk coordinator, and sweeps the job history for orphaned and stuck
// rows.
type Service struct {
	config      *common.Config
	connectors  *connectors.ConnectorIndex
	jobs        *connectors.SyncJobIndex
	coordinator *ingest.Coordinator
	sources     map[string]interfaces.SourceDefinition
	validator   interfaces.FilteringValidator
	logger      arbor.ILogger

	// claimed holds the connectors this replica heartbeats, keyed by id.
	// Run owns the map; no lock needed.
	claimed map[string]*connectors.Connector

	// errorCounts tracks consecutive sync failures per connector. At
	// MaxErrors the connector is parked in error until a successful run.
	errorCounts map[string]int
}

// New assembles the orchestrator
func New(
	config *common.Config,
	connectorIndex *connectors.ConnectorIndex,
	jobIndex *connectors.SyncJobIndex,
	coordinator *ingest.Coordinator,
	sourceDefs map[string]interfaces.SourceDefinition,
	logger arbor.ILogger,
) *Service {
	return &Service{
		config:      config,
		connectors:  connectorIndex,
		jobs:        jobIndex,
		coordinator: coordinator,
		sources:     sourceDefs,
		logger:      logger,
		claimed:     make(map[string]*connectors.Connector),
		errorCounts: make(map[string]int),
	}
}

// WithFilteringValidator installs the rules-validation callback. Without one,
// filtering passes through unvalidated.
func (s *Service) WithFilteringValidator(validator interfaces.FilteringValidator) *Service {
	s.validator = validator
	return s
}

// Run executes poll ticks until the context is canceled, then releases every
// claimed connector.
func (s *Service) Run(ctx context.Context) error {
	idle := time.Duration(s.config.Service.IdleSeconds) * time.Second
	s.logger.Info().
		Str("connectors_index", connectors.ConnectorsIndexName).
		Str("jobs_index", connectors.JobsIndexName).
		Int("idling", s.config.Service.IdleSeconds).
		Msg("Orchestrator started")

	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	for {
		s.tick(ctx)

		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tick runs one reconciliation pass
func (s *Service) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	allIDs := s.listConnectorIDs(ctx)
	s.sweepJobs(ctx, allIDs)

	query := s.connectors.DocsQuery(s.config.Service.ServiceTypes)
	for connector := range s.connectors.GetAll(ctx, query) {
		if ctx.Err() != nil {
			return
		}
		s.reconcile(ctx, connector)
	}
}

// reconcile handles one connector row for this tick: claim it if free, keep
// its heartbeat running, and sync when due.
func (s *Service) reconcile(ctx context.Context, hydrated *connectors.Connector) {
	connector, ok := s.claimed[hydrated.ID]
	if ok {
		// Keep the claimed instance, adopt the fresh view of the row
		connector.AdoptDoc(hydrated.Doc)
	} else {
		if s.claimedElsewhere(hydrated) {
			s.logger.Debug().Str("connector_id", hydrated.ID).Msg("Connector heartbeating under another replica, skipping")
			return
		}
		connector = hydrated
		s.claimed[connector.ID] = connector
		connector.SetLastSeen(time.Now())
		if err := connector.Flush(ctx); err != nil {
			s.logger.Warn().Err(err).Str("connector_id", connector.ID).Msg("Claim flush failed")
		}
		connector.StartHeartbeat(time.Duration(s.config.Service.HeartbeatSeconds) * time.Second)
		s.logger.Info().Str("connector_id", connector.ID).Str("service_type", connector.Doc.ServiceType).Msg("Claimed connector")
	}

	if s.errorCounts[connector.ID] >= s.config.Service.MaxErrors {
		return
	}
	if !s.syncDue(connector) {
		return
	}
	s.runSync(ctx, connector)
}

// claimedElsewhere reports whether another replica heartbeated the row
// recently enough that we must not take it.
func (s *Service) claimedElsewhere(connector *connectors.Connector) bool {
	if connector.Doc.LastSeen == "" {
		return false
	}
	lastSeen, err := common.ParseISO(connector.Doc.LastSeen)
	if err != nil {
		return false
	}
	staleAfter := time.Duration(s.config.Service.HeartbeatSeconds) * time.Second
	return time.Since(lastSeen) < staleAfter
}

// syncDue applies the dueness rule: an explicit sync_now wins, otherwise the
// enabled schedule must have fired since the last sync.
func (s *Service) syncDue(connector *connectors.Connector) bool {
	if connector.Doc.SyncNow {
		return true
	}
	scheduling := connector.Doc.Scheduling
	if !scheduling.Enabled || scheduling.Interval == "" {
		return false
	}

	lastSynced := time.Time{}
	if connector.Doc.LastSynced != "" {
		parsed, err := common.ParseISO(connector.Doc.LastSynced)
		if err == nil {
			lastSynced = parsed
		}
	}
	if lastSynced.IsZero() {
		return true
	}

	next, err := common.NextScheduledTime(scheduling.Interval, lastSynced)
	if err != nil {
		s.logger.Warn().Err(err).Str("connector_id", connector.ID).Msg("Unparseable scheduling interval")
		return false
	}
	return !next.After(time.Now())
}

// listConnectorIDs pages every connector row regardless of service type.
// The job sweeps need the complete id list.
func (s *Service) listConnectorIDs(ctx context.Context) []string {
	ids := make([]string, 0)
	query := s.connectors.DocsQuery(nil)
	for connector := range s.connectors.GetAll(ctx, query) {
		ids = append(ids, connector.ID)
	}
	return ids
}

// shutdown releases claimed connectors after the context is canceled
func (s *Service) shutdown() {
	for id, connector := range s.claimed {
		if err := connector.Close(); err != nil {
			s.logger.Warn().Err(err).Str("connector_id", id).Msg("Failed to release connector")
		}
		delete(s.claimed, id)
	}
	s.logger.Info().Msg("Orchestrator stopped")
}
