package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEquivalent(t *testing.T) {
	a := []byte(`{"rules":[{"rulePriority":10,"action":{"type":"expire"}}]}`)
	b := []byte(`{
		"rules": [ { "action": { "type": "expire" }, "rulePriority": 10 } ]
	}`)
	c := []byte(`{"rules":[{"rulePriority":20,"action":{"type":"expire"}}]}`)

	assert.True(t, Equivalent(a, b))
	assert.False(t, Equivalent(a, c))
	assert.True(t, Equivalent(nil, []byte("  ")))
	assert.False(t, Equivalent(nil, a))
}

func TestEquivalent_InvalidJSONFallsBackToBytes(t *testing.T) {
	assert.True(t, Equivalent([]byte("not json"), []byte("not json\n")))
	assert.False(t, Equivalent([]byte("not json"), []byte("other")))
}

func TestDiff(t *testing.T) {
	current := []byte(`{"rules":[{"rulePriority":10}]}`)
	desired := []byte(`{"rules":[{"rulePriority":20}]}`)

	assert.Empty(t, Diff(current, current))

	diff := Diff(current, desired)
	assert.NotEmpty(t, diff)
	assert.True(t, strings.Contains(diff, "10") && strings.Contains(diff, "20"), diff)
}

func TestEquivalentAccess(t *testing.T) {
	rendered := []byte(`{"Version":"2012-10-17","Statement":[{"Sid":"AllowPull","Effect":"Allow","Principal":{"AWS":["arn:aws:iam::210987654321:root"]},"Action":["ecr:BatchGetImage","ecr:GetDownloadUrlForLayer"]}]}`)
	stored := []byte(`{
  "Version" : "2012-10-17",
  "Statement" : [ {
    "Sid" : "AllowPull",
    "Effect" : "Allow",
    "Principal" : {
      "AWS" : "arn:aws:iam::210987654321:root"
    },
    "Action" : [ "ecr:GetDownloadUrlForLayer", "ecr:BatchGetImage" ]
  } ]
}`)
	otherPrincipal := []byte(`{"Version":"2012-10-17","Statement":[{"Sid":"AllowPull","Effect":"Allow","Principal":{"AWS":"arn:aws:iam::111111111111:root"},"Action":["ecr:BatchGetImage","ecr:GetDownloadUrlForLayer"]}]}`)
	extraCondition := []byte(`{"Version":"2012-10-17","Statement":[{"Sid":"AllowPull","Effect":"Allow","Principal":{"AWS":"arn:aws:iam::210987654321:root"},"Action":["ecr:BatchGetImage","ecr:GetDownloadUrlForLayer"],"Condition":{"StringEquals":{"aws:PrincipalOrgID":"o-1234"}}}]}`)

	assert.False(t, Equivalent(rendered, stored))
	assert.True(t, EquivalentAccess(rendered, stored))
	assert.Empty(t, DiffAccess(stored, rendered))

	assert.False(t, EquivalentAccess(rendered, otherPrincipal))
	assert.False(t, EquivalentAccess(rendered, extraCondition))
	assert.Contains(t, DiffAccess(otherPrincipal, rendered), "111111111111")
}

func TestEquivalentAccess_StatementOrderMatters(t *testing.T) {
	a := []byte(`{"Statement":[{"Sid":"A"},{"Sid":"B"}]}`)
	b := []byte(`{"Statement":[{"Sid":"B"},{"Sid":"A"}]}`)

	assert.False(t, EquivalentAccess(a, b))
}

func TestEquivalentAccess_InvalidJSONFallsBackToBytes(t *testing.T) {
	assert.True(t, EquivalentAccess([]byte("not json"), []byte(" not json")))
	assert.False(t, EquivalentAccess([]byte("not json"), []byte(`{}`)))
}
