package policy

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk layout of a lifecycle rules file
type ruleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// LoadRuleSpecs reads lifecycle rule specs from YAML (or JSON, which is valid
// YAML). Unknown fields are rejected so typos surface before any remote call.
func LoadRuleSpecs(r io.Reader) ([]RuleSpec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f ruleFile
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode lifecycle rules: %w", err)
	}
	return f.Rules, nil
}

// LoadRuleSpecsFile reads lifecycle rule specs from a file
func LoadRuleSpecsFile(path string) ([]RuleSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open lifecycle rules file: %w", err)
	}
	defer f.Close()

	specs, err := LoadRuleSpecs(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return specs, nil
}
