package models

// Feature tags answered by Features.FeatureEnabled. The "new" flags live
// under sync_rules.*; the "old" flags are the flat pre-rename fields kept
// for control-plane compatibility.
type Feature string

const (
	BasicRulesNew    Feature = "basic_rules_new"
	AdvancedRulesNew Feature = "advanced_rules_new"
	BasicRulesOld    Feature = "basic_rules_old"
	AdvancedRulesOld Feature = "advanced_rules_old"
)

// Features wraps the feature-flag document of a connector
type Features map[string]interface{}

// FeatureEnabled reports whether the given feature tag is switched on.
// Missing paths resolve to false.
func (f Features) FeatureEnabled(feature Feature) bool {
	switch feature {
	case BasicRulesNew:
		return f.nestedEnabled([]string{"sync_rules", "basic", "enabled"}, false)
	case AdvancedRulesNew:
		return f.nestedEnabled([]string{"sync_rules", "advanced", "enabled"}, false)
	case BasicRulesOld:
		return f.nestedEnabled([]string{"filtering_rules"}, false)
	case AdvancedRulesOld:
		return f.nestedEnabled([]string{"filtering_advanced_config"}, false)
	default:
		return false
	}
}

// SyncRulesEnabled reports whether any of the rule features, old or new
// naming, is enabled
func (f Features) SyncRulesEnabled() bool {
	return f.FeatureEnabled(BasicRulesNew) ||
		f.FeatureEnabled(AdvancedRulesNew) ||
		f.FeatureEnabled(BasicRulesOld) ||
		f.FeatureEnabled(AdvancedRulesOld)
}

// nestedEnabled walks a key path through nested mappings. Any missing key or
// non-boolean leaf falls back to the default.
func (f Features) nestedEnabled(keys []string, fallback bool) bool {
	if f == nil {
		return fallback
	}
	var current interface{} = map[string]interface{}(f)
	for _, key := range keys {
		node, ok := current.(map[string]interface{})
		if !ok {
			return fallback
		}
		current, ok = node[key]
		if !ok {
			return fallback
		}
	}
	enabled, ok := current.(bool)
	if !ok {
		return fallback
	}
	return enabled
}
