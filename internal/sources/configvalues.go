package sources

import (
	"fmt"
	"strconv"

	"github.com/ternarybob/trawler/internal/models"
)

// Configuration values round-trip through JSON, so numbers arrive as float64
// and everything else needs coercion before use.

func configString(configuration models.Configuration, key string) string {
	field, ok := configuration[key]
	if !ok || field.Value == nil {
		return ""
	}
	switch value := field.Value.(type) {
	case string:
		return value
	default:
		return fmt.Sprint(value)
	}
}

func configInt(configuration models.Configuration, key string, fallback int) int {
	field, ok := configuration[key]
	if !ok || field.Value == nil {
		return fallback
	}
	switch value := field.Value.(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	case string:
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fallback
		}
		return parsed
	default:
		return fallback
	}
}

func configBool(configuration models.Configuration, key string, fallback bool) bool {
	field, ok := configuration[key]
	if !ok || field.Value == nil {
		return fallback
	}
	switch value := field.Value.(type) {
	case bool:
		return value
	case string:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fallback
		}
		return parsed
	default:
		return fallback
	}
}
