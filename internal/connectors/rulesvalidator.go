package connectors

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/trawler/internal/models"
)

var (
	validRulePolicies = map[string]struct{}{
		"include": {},
		"exclude": {},
	}
	validRuleOperators = map[string]struct{}{
		"equals":      {},
		"starts_with": {},
		"ends_with":   {},
		"contains":    {},
		"regex":       {},
		">":           {},
		"<":           {},
	}
)

// BasicRulesValidator checks the shape of basic filtering rules before a
// sync. Advanced snippets are source-specific and pass through untouched.
type BasicRulesValidator struct {
	logger arbor.ILogger
}

// NewBasicRulesValidator creates the default rules validator
func NewBasicRulesValidator(logger arbor.ILogger) *BasicRulesValidator {
	return &BasicRulesValidator{logger: logger}
}

// ValidateFiltering inspects every basic rule of the filter and reports the
// aggregate validation state.
func (v *BasicRulesValidator) ValidateFiltering(ctx context.Context, connectorID string, filter models.Filter) (*models.FilteringValidationResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var errs []interface{}
	for position, raw := range filter.GetBasicRules() {
		rule, ok := raw.(map[string]interface{})
		if !ok {
			errs = append(errs, ruleError(position, "", "rule is not a mapping"))
			continue
		}
		id, _ := rule["id"].(string)
		if id == "" {
			errs = append(errs, ruleError(position, id, "rule has no id"))
		}
		if policy, _ := rule["policy"].(string); policy != "" {
			if _, ok := validRulePolicies[policy]; !ok {
				errs = append(errs, ruleError(position, id, fmt.Sprintf("unknown policy %q", policy)))
			}
		} else {
			errs = append(errs, ruleError(position, id, "rule has no policy"))
		}
		if operator, _ := rule["rule"].(string); operator != "" {
			if _, ok := validRuleOperators[operator]; !ok {
				errs = append(errs, ruleError(position, id, fmt.Sprintf("unknown operator %q", operator)))
			}
		} else {
			errs = append(errs, ruleError(position, id, "rule has no operator"))
		}
		if field, _ := rule["field"].(string); field == "" {
			errs = append(errs, ruleError(position, id, "rule has no field"))
		}
	}

	state := models.FilteringValidationValid
	if len(errs) > 0 {
		state = models.FilteringValidationInvalid
		v.logger.Warn().
			Str("connector_id", connectorID).
			Int("errors", len(errs)).
			Msg("Basic filtering rules rejected")
	}
	return &models.FilteringValidationResult{State: state, Errors: errs}, nil
}

func ruleError(position int, id, message string) map[string]interface{} {
	ids := []interface{}{}
	if id != "" {
		ids = append(ids, id)
	}
	return map[string]interface{}{
		"ids":      ids,
		"position": position,
		"messages": []interface{}{message},
	}
}
