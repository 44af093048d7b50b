package policy

import "fmt"

// ErrInvalidRuleSpec is returned when a declared lifecycle rule violates the
// rule constraints. It is raised before any remote call is made.
type ErrInvalidRuleSpec struct {
	Index    int
	Priority int
	Reason   string
}

func (e ErrInvalidRuleSpec) Error() string {
	return fmt.Sprintf("invalid lifecycle rule #%d (priority %d): %s", e.Index, e.Priority, e.Reason)
}

// ErrInvalidPolicyDocument is returned when an access policy document is
// malformed or cannot be synthesized from the defaults table
type ErrInvalidPolicyDocument struct {
	Reason string
	Err    error
}

func (e ErrInvalidPolicyDocument) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid access policy document: %s: %v", e.Reason, e.Err)
	}
	return "invalid access policy document: " + e.Reason
}

func (e ErrInvalidPolicyDocument) Unwrap() error {
	return e.Err
}
