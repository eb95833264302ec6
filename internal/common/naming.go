package common

import (
	"fmt"
	"strings"
)

const maxIndexNameBytes = 255

var invalidIndexChars = []string{"\\", "/", "*", "?", "\"", "<", ">", "|", " ", ",", "#"}

var reservedIndexNames = map[string]struct{}{
	".":  {},
	"..": {},
}

// ValidateIndexName checks a target index name against the cluster naming
// rules: lower-case, no reserved characters, must not start with -, _, + or .
func ValidateIndexName(name string) error {
	if name == "" {
		return fmt.Errorf("index name cannot be empty")
	}
	if _, reserved := reservedIndexNames[name]; reserved {
		return fmt.Errorf("index name %q is reserved", name)
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, "_") ||
		strings.HasPrefix(name, "+") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("index name %q cannot start with -, _, + or .", name)
	}
	for _, ch := range invalidIndexChars {
		if strings.Contains(name, ch) {
			return fmt.Errorf("index name %q contains invalid character %q", name, ch)
		}
	}
	if strings.ToLower(name) != name {
		return fmt.Errorf("index name %q must be lower-case", name)
	}
	if len(name) > maxIndexNameBytes {
		return fmt.Errorf("index name %q exceeds %d bytes", name, maxIndexNameBytes)
	}
	return nil
}
