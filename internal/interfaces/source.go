package interfaces

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/trawler/internal/models"
)

// BulkOptions are the knobs the bulk ingestion coordinator honors per sync.
// A source may lower them for its own rate limits via TweakBulkOptions.
type BulkOptions struct {
	ChunkSize           int // documents per bulk request
	ConcurrentDownloads int // outstanding lazy downloads at any instant
}

// DownloadFunc lazily fetches the heavy content of one document. It is
// invoked by the bulk coordinator with doit=false to skip, or doit=true with
// the currently indexed timestamp (empty for new documents). A nil result
// means there is nothing to merge into the document.
type DownloadFunc func(ctx context.Context, doit bool, timestamp string) (map[string]interface{}, error)

// DocEntry pairs one document with its optional lazy download
type DocEntry struct {
	Doc      map[string]interface{}
	Download DownloadFunc
}

// Source is the capability implemented by every data-source adapter.
type Source interface {
	// Ping probes connectivity with the external system
	Ping(ctx context.Context) error

	// GetDocs streams documents. Every doc carries _id and _timestamp. Both
	// channels are closed when the stream ends; a terminal failure is sent
	// once on the error channel before it closes.
	GetDocs(ctx context.Context, filtering models.Filter) (<-chan DocEntry, <-chan error)

	// Changed reports whether the backend has changed since the last sync.
	// Sources that cannot tell return true.
	Changed(ctx context.Context) (bool, error)

	// TweakBulkOptions lets the source lower coordinator options
	TweakBulkOptions(options *BulkOptions)

	// Close releases any backend resources
	Close() error
}

// SourceDefinition is the registry entry for one service type. Configuration
// descriptors are discovered from DefaultConfiguration at claim time.
type SourceDefinition struct {
	Name                 string
	DefaultConfiguration func() models.Configuration
	Builder              func(configuration models.Configuration, logger arbor.ILogger) (Source, error)
}
