package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRules = `
rules:
  - priority: 10
    description: Expire untagged images after 30 days
    tagStatus: untagged
    countType: sinceImagePushed
    countUnit: days
    countNumber: 30
  - priority: 20
    description: Expire test images, keep 20 last
    tagStatus: tagged
    tagPrefixes: ["test-"]
    countType: imageCountMoreThan
    countNumber: 20
`

func TestLoadRuleSpecs(t *testing.T) {
	specs, err := LoadRuleSpecs(strings.NewReader(sampleRules))
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, 10, specs[0].Priority)
	assert.Equal(t, TagStatusUntagged, specs[0].TagStatus)
	assert.Equal(t, CountUnitDays, specs[0].CountUnit)
	assert.Equal(t, []string{"test-"}, specs[1].TagPrefixes)
	assert.Equal(t, CountTypeImageCountMoreThan, specs[1].CountType)

	_, err = BuildLifecyclePolicy(specs)
	assert.NoError(t, err)
}

func TestLoadRuleSpecs_JSON(t *testing.T) {
	specs, err := LoadRuleSpecs(strings.NewReader(`{"rules":[{"priority":5,"tagStatus":"any","countType":"imageCountMoreThan","countNumber":100}]}`))
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, TagStatusAny, specs[0].TagStatus)
}

func TestLoadRuleSpecs_Empty(t *testing.T) {
	specs, err := LoadRuleSpecs(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, specs)
}

func TestLoadRuleSpecs_UnknownField(t *testing.T) {
	_, err := LoadRuleSpecs(strings.NewReader("rules:\n  - priority: 1\n    tagStatuss: untagged\n"))
	assert.Error(t, err)
}

func TestLoadRuleSpecsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lifecycle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0o600))

	specs, err := LoadRuleSpecsFile(path)
	require.NoError(t, err)
	assert.Len(t, specs, 2)

	_, err = LoadRuleSpecsFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
