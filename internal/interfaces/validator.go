package interfaces

import (
	"context"

	"github.com/ternarybob/trawler/internal/models"
)

// FilteringValidator is the opaque callback into the rules-validation
// subsystem. The orchestrator invokes it before a sync when sync rules are
// enabled; the result is embedded into the connector document.
type FilteringValidator interface {
	ValidateFiltering(ctx context.Context, connectorID string, filter models.Filter) (*models.FilteringValidationResult, error)
}
