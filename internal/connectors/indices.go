package connectors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/elastic"
	"github.com/ternarybob/trawler/internal/models"
)

// Control indices maintained by the external UI. The service reads and
// updates them, never recreates them.
const (
	ConnectorsIndexName = ".elastic-connectors"
	JobsIndexName       = ".elastic-connectors-sync-jobs"
)

// ConnectorIndex is the typed gateway over the connector control index
type ConnectorIndex struct {
	*elastic.Index[*Connector]
	logger arbor.ILogger
}

// NewConnectorIndex creates the gateway and wires hydration of hits into
// Connector records bound to this index.
func NewConnectorIndex(client *elastic.Client, logger arbor.ILogger) *ConnectorIndex {
	index := &ConnectorIndex{logger: logger}
	index.Index = elastic.NewIndex(client, ConnectorsIndexName, index.hydrate, logger)
	return index
}

func (i *ConnectorIndex) hydrate(hit elastic.Hit) (*Connector, error) {
	var doc models.ConnectorDoc
	if err := json.Unmarshal(hit.Source, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode connector %s: %w", hit.ID, err)
	}
	return NewConnector(i, hit.ID, doc, i.logger), nil
}

// UpdateDoc satisfies the store used by Connector.Flush
func (i *ConnectorIndex) UpdateDoc(ctx context.Context, id string, partial map[string]interface{}) error {
	return i.Update(ctx, id, partial)
}

// DocsQuery selects the connector rows whose service type this replica
// handles. An empty list matches everything.
func (i *ConnectorIndex) DocsQuery(serviceTypes []string) map[string]interface{} {
	if len(serviceTypes) == 0 {
		return map[string]interface{}{"match_all": map[string]interface{}{}}
	}
	return map[string]interface{}{
		"terms": map[string]interface{}{"service_type": serviceTypes},
	}
}

// UpdateFilteringValidation embeds a validation result into the draft or
// active block of the default domain and writes the whole document back with
// retry-on-conflict, matching how the UI round-trips filtering.
func (i *ConnectorIndex) UpdateFilteringValidation(ctx context.Context, connector *Connector, result *models.FilteringValidationResult, target models.ValidationTarget) error {
	errs := result.Errors
	if errs == nil {
		errs = []interface{}{}
	}
	embedded := map[string]interface{}{
		"state":  result.State,
		"errors": errs,
	}

	for _, block := range connector.Doc.Filtering {
		domain, _ := block["domain"].(string)
		if domain != models.DefaultDomain {
			continue
		}
		if sub, ok := block[string(target)].(map[string]interface{}); ok {
			sub["validation"] = embedded
		}
	}

	if err := i.Update(ctx, connector.ID, connector.Doc); err != nil {
		return fmt.Errorf("failed to update filtering validation for connector %s: %w", connector.ID, err)
	}
	return nil
}

// PersistedSyncJob is a hydrated row of the job-history index, used by the
// orphan/stuck/pending sweeps.
type PersistedSyncJob struct {
	ID  string
	Doc models.SyncJobDoc
}

// SyncJobIndex is the typed gateway over the job-history index
type SyncJobIndex struct {
	*elastic.Index[*PersistedSyncJob]
	logger arbor.ILogger
}

// NewSyncJobIndex creates the job-history gateway
func NewSyncJobIndex(client *elastic.Client, logger arbor.ILogger) *SyncJobIndex {
	index := &SyncJobIndex{logger: logger}
	index.Index = elastic.NewIndex(client, JobsIndexName, hydrateSyncJob, logger)
	return index
}

func hydrateSyncJob(hit elastic.Hit) (*PersistedSyncJob, error) {
	var doc models.SyncJobDoc
	if err := json.Unmarshal(hit.Source, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode sync job %s: %w", hit.ID, err)
	}
	return &PersistedSyncJob{ID: hit.ID, Doc: doc}, nil
}

// PendingJobsQuery selects pending jobs belonging to known connectors
func (i *SyncJobIndex) PendingJobsQuery(connectorIDs []string) map[string]interface{} {
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"must": []interface{}{
				map[string]interface{}{"terms": map[string]interface{}{"status": []string{string(models.JobStatusPending)}}},
				map[string]interface{}{"terms": map[string]interface{}{"connector.id": connectorIDs}},
			},
		},
	}
}

// OrphanedJobsQuery selects jobs whose connector row no longer exists
func (i *SyncJobIndex) OrphanedJobsQuery(connectorIDs []string) map[string]interface{} {
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"must_not": map[string]interface{}{"terms": map[string]interface{}{"connector.id": connectorIDs}},
		},
	}
}

// StuckJobsQuery selects non-terminal jobs whose owner stopped heartbeating
// for longer than the staleness threshold.
func (i *SyncJobIndex) StuckJobsQuery(connectorIDs []string, thresholdSeconds int) map[string]interface{} {
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"filter": []interface{}{
				map[string]interface{}{"terms": map[string]interface{}{"connector.id": connectorIDs}},
				map[string]interface{}{"terms": map[string]interface{}{"status": []string{
					string(models.JobStatusInProgress),
					string(models.JobStatusCanceling),
				}}},
				map[string]interface{}{"range": map[string]interface{}{"last_seen": map[string]interface{}{
					"lte": fmt.Sprintf("now-%ds", thresholdSeconds),
				}}},
			},
		},
	}
}

// MarkFailed force-fails a job found by a sweep
func (i *SyncJobIndex) MarkFailed(ctx context.Context, jobID, reason string) error {
	partial := map[string]interface{}{
		"status":       string(models.JobStatusFailed),
		"error":        reason,
		"completed_at": common.NowISO(),
	}
	if err := i.Update(ctx, jobID, partial); err != nil {
		return fmt.Errorf("failed to mark job %s failed: %w", jobID, err)
	}
	return nil
}
