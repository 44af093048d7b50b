package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// TagStatus selects images by whether they carry a tag
type TagStatus string

const (
	TagStatusUntagged TagStatus = "untagged"
	TagStatusTagged   TagStatus = "tagged"
	TagStatusAny      TagStatus = "any"
)

// CountType defines how the count in a selection is interpreted
type CountType string

const (
	CountTypeSinceImagePushed   CountType = "sinceImagePushed"
	CountTypeImageCountMoreThan CountType = "imageCountMoreThan"
)

// ActionType is what the registry does with selected images
type ActionType string

const (
	ActionExpire ActionType = "expire"
)

// CountUnitDays is the only unit accepted for sinceImagePushed counts
const CountUnitDays = "days"

// RuleSpec is a caller-declared lifecycle rule, as read from configuration
type RuleSpec struct {
	Priority    int       `yaml:"priority" json:"priority"`
	Description string    `yaml:"description" json:"description"`
	TagStatus   TagStatus `yaml:"tagStatus" json:"tagStatus"`
	TagPrefixes []string  `yaml:"tagPrefixes" json:"tagPrefixes"`
	CountType   CountType `yaml:"countType" json:"countType"`
	CountUnit   string    `yaml:"countUnit" json:"countUnit"`
	CountNumber int       `yaml:"countNumber" json:"countNumber"`
	Action      string    `yaml:"action" json:"action"`
}

// Selection is the image-matching part of a lifecycle rule
type Selection struct {
	TagStatus   TagStatus `json:"tagStatus"`
	TagPrefixes []string  `json:"tagPrefixList,omitempty"`
	CountType   CountType `json:"countType"`
	CountUnit   string    `json:"countUnit,omitempty"`
	CountNumber int       `json:"countNumber"`
}

// Action is applied to the images matched by a rule
type Action struct {
	Type ActionType `json:"type"`
}

// Rule is a validated lifecycle rule
type Rule struct {
	Priority    int       `json:"rulePriority"`
	Description string    `json:"description,omitempty"`
	Selection   Selection `json:"selection"`
	Action      Action    `json:"action"`
}

// LifecyclePolicy is an ordered set of rules evaluated by the registry in
// ascending priority order
type LifecyclePolicy struct {
	Rules []Rule `json:"rules"`
}

// Render returns the registry wire representation of the policy
func (p LifecyclePolicy) Render() ([]byte, error) {
	doc := p
	if doc.Rules == nil {
		doc.Rules = []Rule{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to render lifecycle policy: %w", err)
	}
	return data, nil
}

// IsEmpty reports whether the policy carries no rules
func (p LifecyclePolicy) IsEmpty() bool {
	return len(p.Rules) == 0
}

// Effect is the outcome of an access statement
type Effect string

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

// StringList is a JSON value that may be written as a single string or an array
type StringList []string

// UnmarshalJSON accepts both "a" and ["a", "b"]
func (s *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*s = StringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// Principal maps a principal kind (e.g. "AWS") to identity references.
// The wildcard principal "*" is kept under the "*" key.
type Principal map[string]StringList

const wildcardPrincipal = "*"

// UnmarshalJSON accepts "*" or an object of kind to identity list
func (p *Principal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		if single != wildcardPrincipal {
			return fmt.Errorf("principal string must be %q, got %q", wildcardPrincipal, single)
		}
		*p = Principal{wildcardPrincipal: {wildcardPrincipal}}
		return nil
	}
	var m map[string]StringList
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*p = m
	return nil
}

// MarshalJSON writes the wildcard back as "*"
func (p Principal) MarshalJSON() ([]byte, error) {
	if v, ok := p[wildcardPrincipal]; ok && len(p) == 1 && len(v) == 1 && v[0] == wildcardPrincipal {
		return json.Marshal(wildcardPrincipal)
	}
	return json.Marshal(map[string]StringList(p))
}

// Identities returns every identity reference in the principal, sorted by kind
func (p Principal) Identities() []string {
	kinds := make([]string, 0, len(p))
	for k := range p {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	var out []string
	for _, k := range kinds {
		out = append(out, p[k]...)
	}
	return out
}

// Statement grants or denies actions to principals
type Statement struct {
	Sid       string     `json:"Sid,omitempty"`
	Effect    Effect     `json:"Effect"`
	Principal Principal  `json:"Principal,omitempty"`
	Action    StringList `json:"Action,omitempty"`
}

// AccessPolicy is a repository access document. A policy parsed from a
// caller override keeps its original bytes and renders them verbatim.
type AccessPolicy struct {
	Version    string      `json:"Version"`
	Statements []Statement `json:"Statement"`

	raw []byte
}

// Render returns the registry wire representation of the policy
func (p AccessPolicy) Render() ([]byte, error) {
	if p.raw != nil {
		out := make([]byte, len(p.raw))
		copy(out, p.raw)
		return out, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to render access policy: %w", err)
	}
	return data, nil
}

// IsOverride reports whether the policy was supplied verbatim by the caller
func (p AccessPolicy) IsOverride() bool {
	return p.raw != nil
}

// ScanConfiguration controls vulnerability scanning on image push
type ScanConfiguration struct {
	ScanOnPush bool
}
