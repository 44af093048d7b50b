package policy

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/google/go-cmp/cmp"
)

// Equivalent reports whether two policy documents are semantically equal.
// Key order and whitespace are ignored; documents that are not valid JSON
// fall back to a byte comparison.
func Equivalent(a, b []byte) bool {
	va, errA := normalize(a)
	vb, errB := normalize(b)
	if errA != nil || errB != nil {
		return bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b))
	}
	return cmp.Equal(va, vb)
}

// Diff returns a human readable diff from current to desired, or an empty
// string when the documents are equivalent
func Diff(current, desired []byte) string {
	vc, errC := normalize(current)
	vd, errD := normalize(desired)
	if errC != nil || errD != nil {
		return cmp.Diff(string(current), string(desired))
	}
	return cmp.Diff(vc, vd)
}

// EquivalentAccess reports whether two access policy documents grant the
// same access. Besides what Equivalent ignores, a value and the
// one-element list holding it are the same, and string lists are unordered.
// Registries store access policies in that folded form, e.g. ECR returns
// "AWS": "arn:..." for a single principal.
func EquivalentAccess(a, b []byte) bool {
	va, errA := normalizeAccess(a)
	vb, errB := normalizeAccess(b)
	if errA != nil || errB != nil {
		return bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b))
	}
	return cmp.Equal(va, vb)
}

// DiffAccess is Diff under the EquivalentAccess rules
func DiffAccess(current, desired []byte) string {
	vc, errC := normalizeAccess(current)
	vd, errD := normalizeAccess(desired)
	if errC != nil || errD != nil {
		return cmp.Diff(string(current), string(desired))
	}
	return cmp.Diff(vc, vd)
}

func normalize(doc []byte) (interface{}, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func normalizeAccess(doc []byte) (interface{}, error) {
	v, err := normalize(doc)
	if err != nil {
		return nil, err
	}
	return fold(v), nil
}

// fold rewrites a decoded document into its canonical spelling
func fold(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = fold(e)
		}
		return out
	case []interface{}:
		if len(t) == 1 {
			return fold(t[0])
		}
		out := make([]interface{}, len(t))
		strs := true
		for i, e := range t {
			out[i] = fold(e)
			if _, ok := out[i].(string); !ok {
				strs = false
			}
		}
		if strs {
			sort.Slice(out, func(i, j int) bool { return out[i].(string) < out[j].(string) })
		}
		return out
	default:
		return v
	}
}
