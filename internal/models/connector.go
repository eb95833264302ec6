package models

// ConfigurableField is one entry of a connector's configuration mapping.
// Keys mirror the options declared by the matching source.
type ConfigurableField struct {
	Value interface{} `json:"value"`
	Label string      `json:"label,omitempty"`
	Type  string      `json:"type,omitempty"` // str, int, bool, list
}

// Configuration maps field names to configurable values
type Configuration map[string]ConfigurableField

// Complete reports whether every declared field carries a non-null value.
// A connector with an incomplete configuration needs configuration before
// it can sync.
func (c Configuration) Complete() bool {
	for _, field := range c {
		if field.Value == nil {
			return false
		}
	}
	return true
}

// Scheduling controls recurring syncs for a connector
type Scheduling struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval"` // quartz-style cron, seconds precision
}

// ConnectorDoc is the persisted connector record as stored in the control
// index. The document is authoritative; in-memory mutation happens on the
// Connector record which flushes changed fields back.
type ConnectorDoc struct {
	ServiceType    string                 `json:"service_type"`
	IndexName      string                 `json:"index_name"`
	Configuration  Configuration          `json:"configuration"`
	Status         string                 `json:"status"`
	Language       string                 `json:"language"`
	Scheduling     Scheduling             `json:"scheduling"`
	SyncNow        bool                   `json:"sync_now"`
	LastSyncStatus string                 `json:"last_sync_status"`
	LastSyncError  string                 `json:"last_sync_error"`
	LastSynced     string                 `json:"last_synced"`
	LastSeen       string                 `json:"last_seen"`
	CreatedAt      string                 `json:"created_at"`
	UpdatedAt      string                 `json:"updated_at"`
	Error          string                 `json:"error"`
	Pipeline       map[string]interface{} `json:"pipeline"`
	Filtering      Filtering              `json:"filtering"`
	Features       Features               `json:"features"`
}
