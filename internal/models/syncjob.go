package models

// SyncJobConnectorRef embeds the owning connector id and the flattened
// active filter into a job document.
type SyncJobConnectorRef struct {
	ID        string `json:"id"`
	Filtering Filter `json:"filtering"`
}

// SyncJobDoc is the persisted record of one ingestion run, written to the
// job-history index for audit.
type SyncJobDoc struct {
	Connector            SyncJobConnectorRef `json:"connector"`
	Status               string              `json:"status"`
	Error                string              `json:"error"`
	IndexedDocumentCount int                 `json:"indexed_document_count"`
	DeletedDocumentCount int                 `json:"deleted_document_count"`
	CreatedAt            string              `json:"created_at"`
	CompletedAt          string              `json:"completed_at,omitempty"`
	LastSeen             string              `json:"last_seen,omitempty"`
}
