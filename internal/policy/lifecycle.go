package policy

import (
	"fmt"
	"strings"
)

// BuildLifecyclePolicy validates the declared rules and returns them as a
// lifecycle policy. Caller order is preserved; rules are neither sorted nor
// deduplicated. A nil or empty input yields an explicit empty policy.
func BuildLifecyclePolicy(specs []RuleSpec) (LifecyclePolicy, error) {
	rules := make([]Rule, 0, len(specs))
	seen := make(map[int]int, len(specs))

	for i, spec := range specs {
		if prev, ok := seen[spec.Priority]; ok {
			return LifecyclePolicy{}, ErrInvalidRuleSpec{
				Index:    i,
				Priority: spec.Priority,
				Reason:   fmt.Sprintf("priority already used by rule #%d", prev),
			}
		}
		seen[spec.Priority] = i

		rule, err := buildRule(i, spec)
		if err != nil {
			return LifecyclePolicy{}, err
		}
		rules = append(rules, rule)
	}

	return LifecyclePolicy{Rules: rules}, nil
}

func buildRule(index int, spec RuleSpec) (Rule, error) {
	invalid := func(format string, args ...interface{}) error {
		return ErrInvalidRuleSpec{Index: index, Priority: spec.Priority, Reason: fmt.Sprintf(format, args...)}
	}

	if spec.Priority <= 0 {
		return Rule{}, invalid("priority must be a positive integer")
	}

	sel := Selection{
		TagStatus:   spec.TagStatus,
		CountType:   spec.CountType,
		CountNumber: spec.CountNumber,
	}

	switch spec.TagStatus {
	case TagStatusTagged:
		if len(spec.TagPrefixes) == 0 {
			return Rule{}, invalid("tagged selection requires at least one tag prefix")
		}
		for _, prefix := range spec.TagPrefixes {
			if strings.TrimSpace(prefix) == "" {
				return Rule{}, invalid("tag prefixes must not be blank")
			}
		}
		sel.TagPrefixes = append([]string(nil), spec.TagPrefixes...)
	case TagStatusUntagged, TagStatusAny:
		if len(spec.TagPrefixes) > 0 {
			return Rule{}, invalid("tag prefixes are only valid for tagged selections")
		}
	case "":
		return Rule{}, invalid("tagStatus is required")
	default:
		return Rule{}, invalid("unknown tagStatus %q", spec.TagStatus)
	}

	switch spec.CountType {
	case CountTypeSinceImagePushed:
		if spec.CountUnit == "" {
			return Rule{}, invalid("sinceImagePushed requires countUnit")
		}
		if spec.CountUnit != CountUnitDays {
			return Rule{}, invalid("unsupported countUnit %q", spec.CountUnit)
		}
		if spec.CountNumber <= 0 {
			return Rule{}, invalid("sinceImagePushed requires a positive countNumber")
		}
		sel.CountUnit = spec.CountUnit
	case CountTypeImageCountMoreThan:
		if spec.CountNumber <= 0 {
			return Rule{}, invalid("imageCountMoreThan requires a positive countNumber")
		}
		if spec.CountUnit != "" {
			return Rule{}, invalid("imageCountMoreThan does not take a countUnit")
		}
	case "":
		return Rule{}, invalid("countType is required")
	default:
		return Rule{}, invalid("unknown countType %q", spec.CountType)
	}

	action := ActionType(spec.Action)
	if action == "" {
		action = ActionExpire
	}
	if action != ActionExpire {
		return Rule{}, invalid("unsupported action %q", spec.Action)
	}

	return Rule{
		Priority:    spec.Priority,
		Description: spec.Description,
		Selection:   sel,
		Action:      Action{Type: action},
	}, nil
}

// DefaultRuleSpecs returns the deployment default applied when no rules are
// declared: expire untagged images after the given number of days.
// Zero days means no default rule.
func DefaultRuleSpecs(untaggedExpiryDays int) []RuleSpec {
	if untaggedExpiryDays <= 0 {
		return nil
	}
	return []RuleSpec{
		{
			Priority:    10,
			Description: fmt.Sprintf("Expire untagged images after %d days", untaggedExpiryDays),
			TagStatus:   TagStatusUntagged,
			CountType:   CountTypeSinceImagePushed,
			CountUnit:   CountUnitDays,
			CountNumber: untaggedExpiryDays,
			Action:      string(ActionExpire),
		},
	}
}
