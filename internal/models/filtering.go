package models

// DefaultDomain is the filtering domain used when the UI does not
// namespace rule sets.
const DefaultDomain = "DEFAULT"

// FilterState selects the draft or active block inside a filtering domain
type FilterState string

const (
	FilterStateDraft  FilterState = "draft"
	FilterStateActive FilterState = "active"
)

// Filter is one per-domain rule block (advanced snippet, basic rules,
// validation result). It stays untyped because the UI round-trips it
// verbatim; typed accessors live on the methods below.
type Filter map[string]interface{}

// GetAdvancedRules returns the advanced snippet with the at-rest "value"
// wrapper lifted away, or an empty mapping.
func (f Filter) GetAdvancedRules() map[string]interface{} {
	if f == nil {
		return map[string]interface{}{}
	}
	snippet, ok := f["advanced_snippet"].(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	if value, ok := snippet["value"].(map[string]interface{}); ok {
		return value
	}
	return snippet
}

// HasAdvancedRules reports whether the advanced snippet is non-empty after
// value lifting
func (f Filter) HasAdvancedRules() bool {
	return len(f.GetAdvancedRules()) > 0
}

// GetBasicRules returns the basic rules list, or an empty list
func (f Filter) GetBasicRules() []interface{} {
	if f == nil {
		return []interface{}{}
	}
	if rules, ok := f["rules"].([]interface{}); ok {
		return rules
	}
	return []interface{}{}
}

// Filtering is the ordered sequence of per-domain filter blocks stored on a
// connector document. At most one draft and one active block exist per domain.
type Filtering []map[string]interface{}

// GetFilter selects the block for (state, domain). A missing domain or a
// missing filtering sequence yields an empty filter.
func (f Filtering) GetFilter(state FilterState, domain string) Filter {
	for _, block := range f {
		if blockDomain, _ := block["domain"].(string); blockDomain == domain {
			if sub, ok := block[string(state)].(map[string]interface{}); ok {
				return Filter(sub)
			}
			return Filter{}
		}
	}
	return Filter{}
}

// GetActiveFilter returns the active filter for a domain
func (f Filtering) GetActiveFilter(domain string) Filter {
	return f.GetFilter(FilterStateActive, domain)
}

// GetDraftFilter returns the draft filter for a domain
func (f Filtering) GetDraftFilter(domain string) Filter {
	return f.GetFilter(FilterStateDraft, domain)
}

// TransformFiltering flattens a filter for embedding into a sync job:
// the advanced snippet is replaced by its "value" contents (or an empty
// mapping) and the rules list defaults to empty. All other keys are kept.
func TransformFiltering(f Filter) Filter {
	out := Filter{}
	for k, v := range f {
		out[k] = v
	}
	snippet := map[string]interface{}{}
	if raw, ok := out["advanced_snippet"].(map[string]interface{}); ok {
		if value, ok := raw["value"].(map[string]interface{}); ok {
			snippet = value
		}
	}
	out["advanced_snippet"] = snippet
	if _, ok := out["rules"]; !ok {
		out["rules"] = []interface{}{}
	}
	return out
}

// FilteringValidationResult is produced by the out-of-band rules validator
// and embedded into the draft or active block of a domain.
type FilteringValidationResult struct {
	State  string        `json:"state"`
	Errors []interface{} `json:"errors"`
}

// Validation states produced by the rules validator
const (
	FilteringValidationValid   = "valid"
	FilteringValidationInvalid = "invalid"
	FilteringValidationEdited  = "edited"
)

// ValidationTarget names which block of a domain receives a validation result
type ValidationTarget string

const (
	ValidationTargetDraft  ValidationTarget = "draft"
	ValidationTargetActive ValidationTarget = "active"
)
