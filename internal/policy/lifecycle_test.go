package policy

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func untaggedRule(priority, days int) RuleSpec {
	return RuleSpec{
		Priority:    priority,
		Description: "Expire untagged images",
		TagStatus:   TagStatusUntagged,
		CountType:   CountTypeSinceImagePushed,
		CountUnit:   CountUnitDays,
		CountNumber: days,
	}
}

func taggedRule(priority int, prefixes []string, keep int) RuleSpec {
	return RuleSpec{
		Priority:    priority,
		Description: "Keep last tagged images",
		TagStatus:   TagStatusTagged,
		TagPrefixes: prefixes,
		CountType:   CountTypeImageCountMoreThan,
		CountNumber: keep,
	}
}

func TestBuildLifecyclePolicy_PreservesOrder(t *testing.T) {
	specs := []RuleSpec{
		untaggedRule(10, 30),
		taggedRule(20, []string{"test-"}, 20),
		taggedRule(30, []string{"pre-"}, 30),
	}

	p, err := BuildLifecyclePolicy(specs)
	require.NoError(t, err)
	require.Len(t, p.Rules, 3)

	assert.Equal(t, 10, p.Rules[0].Priority)
	assert.Equal(t, 20, p.Rules[1].Priority)
	assert.Equal(t, 30, p.Rules[2].Priority)

	assert.Equal(t, TagStatusUntagged, p.Rules[0].Selection.TagStatus)
	assert.Equal(t, CountUnitDays, p.Rules[0].Selection.CountUnit)
	assert.Equal(t, 30, p.Rules[0].Selection.CountNumber)
	assert.Equal(t, []string{"test-"}, p.Rules[1].Selection.TagPrefixes)
	assert.Equal(t, []string{"pre-"}, p.Rules[2].Selection.TagPrefixes)
	for _, r := range p.Rules {
		assert.Equal(t, ActionExpire, r.Action.Type)
	}
}

func TestBuildLifecyclePolicy_DoesNotReorder(t *testing.T) {
	p, err := BuildLifecyclePolicy([]RuleSpec{untaggedRule(30, 7), untaggedRule(10, 14)})
	require.NoError(t, err)
	assert.Equal(t, 30, p.Rules[0].Priority)
	assert.Equal(t, 10, p.Rules[1].Priority)
}

func TestBuildLifecyclePolicy_Empty(t *testing.T) {
	p, err := BuildLifecyclePolicy(nil)
	require.NoError(t, err)
	assert.True(t, p.IsEmpty())

	data, err := p.Render()
	require.NoError(t, err)
	assert.JSONEq(t, `{"rules":[]}`, string(data))
}

func TestBuildLifecyclePolicy_Validation(t *testing.T) {
	tests := []struct {
		name   string
		spec   RuleSpec
		reason string
	}{
		{
			name:   "tagged without prefixes",
			spec:   taggedRule(10, nil, 5),
			reason: "tagged selection requires at least one tag prefix",
		},
		{
			name:   "tagged with empty prefix set",
			spec:   taggedRule(10, []string{}, 5),
			reason: "tagged selection requires at least one tag prefix",
		},
		{
			name:   "blank prefix",
			spec:   taggedRule(10, []string{" "}, 5),
			reason: "tag prefixes must not be blank",
		},
		{
			name: "sinceImagePushed without unit",
			spec: RuleSpec{
				Priority: 10, TagStatus: TagStatusUntagged,
				CountType: CountTypeSinceImagePushed, CountNumber: 30,
			},
			reason: "sinceImagePushed requires countUnit",
		},
		{
			name: "sinceImagePushed without number",
			spec: RuleSpec{
				Priority: 10, TagStatus: TagStatusUntagged,
				CountType: CountTypeSinceImagePushed, CountUnit: CountUnitDays,
			},
			reason: "sinceImagePushed requires a positive countNumber",
		},
		{
			name: "unsupported unit",
			spec: RuleSpec{
				Priority: 10, TagStatus: TagStatusUntagged,
				CountType: CountTypeSinceImagePushed, CountUnit: "weeks", CountNumber: 2,
			},
			reason: `unsupported countUnit "weeks"`,
		},
		{
			name: "imageCountMoreThan without number",
			spec: RuleSpec{
				Priority: 10, TagStatus: TagStatusAny, CountType: CountTypeImageCountMoreThan,
			},
			reason: "imageCountMoreThan requires a positive countNumber",
		},
		{
			name: "imageCountMoreThan with unit",
			spec: RuleSpec{
				Priority: 10, TagStatus: TagStatusAny, CountType: CountTypeImageCountMoreThan,
				CountUnit: CountUnitDays, CountNumber: 3,
			},
			reason: "imageCountMoreThan does not take a countUnit",
		},
		{
			name: "untagged with prefixes",
			spec: RuleSpec{
				Priority: 10, TagStatus: TagStatusUntagged, TagPrefixes: []string{"x"},
				CountType: CountTypeImageCountMoreThan, CountNumber: 3,
			},
			reason: "tag prefixes are only valid for tagged selections",
		},
		{
			name:   "zero priority",
			spec:   untaggedRule(0, 30),
			reason: "priority must be a positive integer",
		},
		{
			name: "missing tag status",
			spec: RuleSpec{
				Priority: 10, CountType: CountTypeImageCountMoreThan, CountNumber: 3,
			},
			reason: "tagStatus is required",
		},
		{
			name: "unknown count type",
			spec: RuleSpec{
				Priority: 10, TagStatus: TagStatusAny, CountType: "sinceForever", CountNumber: 3,
			},
			reason: `unknown countType "sinceForever"`,
		},
		{
			name: "unsupported action",
			spec: RuleSpec{
				Priority: 10, TagStatus: TagStatusAny, CountType: CountTypeImageCountMoreThan,
				CountNumber: 3, Action: "archive",
			},
			reason: `unsupported action "archive"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildLifecyclePolicy([]RuleSpec{tt.spec})
			require.Error(t, err)

			var ruleErr ErrInvalidRuleSpec
			require.True(t, errors.As(err, &ruleErr), "expected ErrInvalidRuleSpec, got %T", err)
			assert.Equal(t, 0, ruleErr.Index)
			assert.Equal(t, tt.reason, ruleErr.Reason)
		})
	}
}

func TestBuildLifecyclePolicy_DuplicatePriority(t *testing.T) {
	_, err := BuildLifecyclePolicy([]RuleSpec{untaggedRule(10, 30), taggedRule(10, []string{"a"}, 2)})

	var ruleErr ErrInvalidRuleSpec
	require.ErrorAs(t, err, &ruleErr)
	assert.Equal(t, 1, ruleErr.Index)
	assert.Equal(t, 10, ruleErr.Priority)
	assert.Contains(t, ruleErr.Error(), "priority already used by rule #0")
}

func TestLifecyclePolicy_Render(t *testing.T) {
	p, err := BuildLifecyclePolicy([]RuleSpec{
		{
			Priority:    10,
			Description: "Expire untagged images after 30 days",
			TagStatus:   TagStatusUntagged,
			CountType:   CountTypeSinceImagePushed,
			CountUnit:   CountUnitDays,
			CountNumber: 30,
		},
		taggedRule(20, []string{"test-"}, 20),
	})
	require.NoError(t, err)

	data, err := p.Render()
	require.NoError(t, err)

	expected := `{
		"rules": [
			{
				"rulePriority": 10,
				"description": "Expire untagged images after 30 days",
				"selection": {"tagStatus": "untagged", "countType": "sinceImagePushed", "countUnit": "days", "countNumber": 30},
				"action": {"type": "expire"}
			},
			{
				"rulePriority": 20,
				"description": "Keep last tagged images",
				"selection": {"tagStatus": "tagged", "tagPrefixList": ["test-"], "countType": "imageCountMoreThan", "countNumber": 20},
				"action": {"type": "expire"}
			}
		]
	}`
	assert.JSONEq(t, expected, string(data))

	again, err := p.Render()
	require.NoError(t, err)
	assert.Equal(t, data, again, "rendering must be deterministic")
}

func TestDefaultRuleSpecs(t *testing.T) {
	assert.Nil(t, DefaultRuleSpecs(0))

	specs := DefaultRuleSpecs(30)
	require.Len(t, specs, 1)

	p, err := BuildLifecyclePolicy(specs)
	require.NoError(t, err)
	assert.Equal(t, "Expire untagged images after 30 days", p.Rules[0].Description)
	assert.Equal(t, 30, p.Rules[0].Selection.CountNumber)
}

// TestBuildLifecyclePolicy_OrderProperty checks that any list of valid rules
// with distinct priorities comes back in the same order with the same content.
func TestBuildLifecyclePolicy_OrderProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		priorities := rapid.SliceOfNDistinct(rapid.IntRange(1, 1000), 1, 15, rapid.ID[int]).Draw(rt, "priorities")

		specs := make([]RuleSpec, len(priorities))
		for i, prio := range priorities {
			if rapid.Bool().Draw(rt, "tagged") {
				prefix := rapid.StringMatching(`[a-z]{1,6}-`).Draw(rt, "prefix")
				specs[i] = taggedRule(prio, []string{prefix}, rapid.IntRange(1, 500).Draw(rt, "keep"))
			} else {
				specs[i] = untaggedRule(prio, rapid.IntRange(1, 365).Draw(rt, "days"))
			}
		}

		p, err := BuildLifecyclePolicy(specs)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if len(p.Rules) != len(specs) {
			rt.Fatalf("expected %d rules, got %d", len(specs), len(p.Rules))
		}
		for i, r := range p.Rules {
			s := specs[i]
			if r.Priority != s.Priority || r.Selection.CountNumber != s.CountNumber || r.Selection.TagStatus != s.TagStatus {
				rt.Fatalf("rule %d changed: spec %+v, rule %+v", i, s, r)
			}
		}

		data, err := p.Render()
		if err != nil {
			rt.Fatalf("render failed: %v", err)
		}
		var decoded LifecyclePolicy
		if err := json.Unmarshal(data, &decoded); err != nil {
			rt.Fatalf("rendered policy is not valid JSON: %v", err)
		}
		for i, r := range decoded.Rules {
			if r.Priority != priorities[i] {
				rt.Fatalf("rendered rule %d has priority %d, want %d", i, r.Priority, priorities[i])
			}
		}
	})
}
