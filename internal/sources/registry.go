package sources

import (
	"sort"
	"sync"

	"github.com/ternarybob/trawler/internal/interfaces"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]interfaces.SourceDefinition)
)

// Register adds a source definition under its service type name. Later
// registrations replace earlier ones.
func Register(definition interfaces.SourceDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[definition.Name] = definition
}

// Definitions returns a copy of the registry keyed by service type
func Definitions() map[string]interfaces.SourceDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make(map[string]interfaces.SourceDefinition, len(registry))
	for name, definition := range registry {
		out[name] = definition
	}
	return out
}

// Names returns the registered service type names, sorted
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(DirectoryDefinition())
	Register(GoogleCloudStorageDefinition())
}
