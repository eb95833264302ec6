package connectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/interfaces"
	"github.com/ternarybob/trawler/internal/models"
)

// ErrServiceTypeNotSupported is returned when a connector references a
// service type this replica has no source for.
var ErrServiceTypeNotSupported = fmt.Errorf("service type not supported")

// connectorStore persists changed connector fields. Satisfied by
// ConnectorIndex; faked in tests.
type connectorStore interface {
	UpdateDoc(ctx context.Context, id string, partial map[string]interface{}) error
}

// ServiceConfig binds service types to source definitions for claim time.
// ServiceType is the fallback written back when a UI-created record carries
// none.
type ServiceConfig struct {
	ServiceType string
	Sources     map[string]interfaces.SourceDefinition
}

// Connector is the in-memory record for one persisted connector row. The
// persisted document stays authoritative: setters record changed fields and
// Flush issues one partial update for them.
type Connector struct {
	ID  string
	Doc models.ConnectorDoc

	store  connectorStore
	logger arbor.ILogger

	mu      sync.Mutex
	changes map[string]interface{}

	source interfaces.Source

	hbMu     sync.Mutex
	hbCancel context.CancelFunc
	hbDone   chan struct{}
}

// NewConnector wraps a hydrated connector document
func NewConnector(store connectorStore, id string, doc models.ConnectorDoc, logger arbor.ILogger) *Connector {
	return &Connector{
		ID:      id,
		Doc:     doc,
		store:   store,
		logger:  logger,
		changes: make(map[string]interface{}),
	}
}

// Status derives the connector status: an incomplete configuration always
// reads as needs_configuration, overriding whatever is stored.
func (c *Connector) Status() models.ConnectorStatus {
	if !c.Doc.Configuration.Complete() {
		return models.StatusNeedsConfiguration
	}
	return models.ConnectorStatus(c.Doc.Status)
}

// SetStatus mutates the stored status. Unknown values are rejected.
func (c *Connector) SetStatus(status models.ConnectorStatus) error {
	if !models.ValidConnectorStatus(status) {
		return fmt.Errorf("invalid connector status %q", status)
	}
	c.Doc.Status = string(status)
	c.track("status", string(status))
	return nil
}

// SetServiceType writes the service type back onto a UI-created record
func (c *Connector) SetServiceType(serviceType string) {
	c.Doc.ServiceType = serviceType
	c.track("service_type", serviceType)
}

// SetConfiguration replaces the configuration mapping
func (c *Connector) SetConfiguration(configuration models.Configuration) {
	c.Doc.Configuration = configuration
	c.track("configuration", configuration)
}

// SetError records a connector-level error message
func (c *Connector) SetError(message string) {
	c.Doc.Error = message
	c.track("error", message)
}

// SetSyncNow sets or clears the one-shot sync flag
func (c *Connector) SetSyncNow(syncNow bool) {
	c.Doc.SyncNow = syncNow
	c.track("sync_now", syncNow)
}

// SetLastSyncStatus records the outcome status of the most recent sync
func (c *Connector) SetLastSyncStatus(status models.JobStatus) {
	c.Doc.LastSyncStatus = string(status)
	c.track("last_sync_status", string(status))
}

// SetLastSyncError records the error of the most recent sync
func (c *Connector) SetLastSyncError(message string) {
	c.Doc.LastSyncError = message
	c.track("last_sync_error", message)
}

// SetLastSynced stamps the completion of a sync
func (c *Connector) SetLastSynced(t time.Time) {
	value := common.ISOUTC(t)
	c.Doc.LastSynced = value
	c.track("last_synced", value)
}

// SetLastSeen advances the liveness timestamp. Unlike the other setters it is
// called from the heartbeat goroutine, so the document write happens under
// the same lock as the change tracking.
func (c *Connector) SetLastSeen(t time.Time) {
	value := common.ISOUTC(t)
	c.mu.Lock()
	c.Doc.LastSeen = value
	c.changes["last_seen"] = value
	c.mu.Unlock()
}

// AdoptDoc replaces the in-memory view with a freshly hydrated row. Unflushed
// changes stay tracked and win on the next Flush.
func (c *Connector) AdoptDoc(doc models.ConnectorDoc) {
	c.mu.Lock()
	c.Doc = doc
	c.mu.Unlock()
}

func (c *Connector) track(field string, value interface{}) {
	c.mu.Lock()
	c.changes[field] = value
	c.mu.Unlock()
}

// Dirty reports whether unflushed changes exist
func (c *Connector) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changes) > 0
}

// Flush persists the changed fields as one partial update and clears the
// dirty state. A no-op when nothing changed.
func (c *Connector) Flush(ctx context.Context) error {
	c.mu.Lock()
	if len(c.changes) == 0 {
		c.mu.Unlock()
		return nil
	}
	now := common.NowISO()
	c.Doc.UpdatedAt = now
	c.changes["updated_at"] = now
	partial := make(map[string]interface{}, len(c.changes))
	flushed := make([]string, 0, len(c.changes))
	for field, value := range c.changes {
		partial[field] = value
		flushed = append(flushed, field)
	}
	c.mu.Unlock()

	if err := c.store.UpdateDoc(ctx, c.ID, partial); err != nil {
		return fmt.Errorf("failed to flush connector %s: %w", c.ID, err)
	}

	c.mu.Lock()
	for _, field := range flushed {
		delete(c.changes, field)
	}
	c.mu.Unlock()
	return nil
}

// StartHeartbeat launches the liveness loop: every interval the connector
// advances last_seen and flushes. Subsequent calls are no-ops until Close.
func (c *Connector) StartHeartbeat(interval time.Duration) {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	if c.hbCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.hbCancel = cancel
	c.hbDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.SetLastSeen(time.Now())
				if err := c.Flush(ctx); err != nil {
					c.logger.Warn().Err(err).Str("connector_id", c.ID).Msg("Heartbeat flush failed")
				}
			}
		}
	}()
}

// Prepare claims the connector for this replica: it resolves the service
// type to a source definition, merges missing configuration fields from the
// source defaults (added with null values, which flips the derived status to
// needs_configuration), and instantiates the source.
func (c *Connector) Prepare(config ServiceConfig) error {
	serviceType := c.Doc.ServiceType
	if serviceType == "" {
		// UI-created rows carry no service type; the service writes back its own
		if config.ServiceType == "" {
			return fmt.Errorf("connector %s has no service type", c.ID)
		}
		serviceType = config.ServiceType
		c.SetServiceType(serviceType)
	}

	definition, ok := config.Sources[serviceType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrServiceTypeNotSupported, serviceType)
	}

	configuration := c.Doc.Configuration
	if configuration == nil {
		configuration = models.Configuration{}
	}
	missing := false
	for name, field := range definition.DefaultConfiguration() {
		if _, exists := configuration[name]; !exists {
			configuration[name] = models.ConfigurableField{Value: nil, Label: field.Label, Type: field.Type}
			missing = true
		}
	}
	if missing {
		c.logger.Warn().Str("connector_id", c.ID).Str("service_type", serviceType).Msg("Configuration missing declared fields, filling with nulls")
		c.SetConfiguration(configuration)
	}

	source, err := definition.Builder(configuration, c.logger)
	if err != nil {
		return fmt.Errorf("failed to build source %s: %w", serviceType, err)
	}
	c.source = source
	return nil
}

// Source returns the source instantiated by Prepare, or nil
func (c *Connector) Source() interfaces.Source {
	return c.source
}

// Close stops the heartbeat, waits for it, and closes the source
func (c *Connector) Close() error {
	c.hbMu.Lock()
	cancel, done := c.hbCancel, c.hbDone
	c.hbCancel, c.hbDone = nil, nil
	c.hbMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if c.source != nil {
		if err := c.source.Close(); err != nil {
			return fmt.Errorf("failed to close source for connector %s: %w", c.ID, err)
		}
		c.source = nil
	}
	return nil
}
