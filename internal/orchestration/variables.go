package orchestration

import (
	"fmt"
	"strings"
)

// ResolveParameters substitutes "${name}" placeholders in a task's
// parameters with values from the workflow's variable set. Substitution is
// exact-match only (the whole string value must be "${name}", not a
// fragment of a larger string), non-recursive (a substituted value is never
// itself re-scanned for placeholders), and idempotent (a parameter value
// with no placeholder is returned unchanged). Unknown variable names are
// left as the literal "${name}" string rather than erroring, so a workflow
// author's typo surfaces in the task's recorded parameters instead of
// aborting the run. It does not descend into nested objects or arrays: a
// non-string parameter value passes through unchanged.
func ResolveParameters(params map[string]interface{}, variables map[string]interface{}) map[string]interface{} {
	if len(params) == 0 {
		return params
	}

	resolved := make(map[string]interface{}, len(params))
	for k, v := range params {
		resolved[k] = resolveValue(v, variables)
	}
	return resolved
}

func resolveValue(v interface{}, variables map[string]interface{}) interface{} {
	val, ok := v.(string)
	if !ok {
		return v
	}
	name, ok := placeholderName(val)
	if !ok {
		return val
	}
	if resolved, found := variables[name]; found {
		return resolved
	}
	return val
}

// placeholderName reports the variable name if s is exactly "${name}", with
// no other characters before or after the placeholder.
func placeholderName(s string) (string, bool) {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") || len(s) < 4 {
		return "", false
	}
	name := s[2 : len(s)-1]
	if name == "" || strings.ContainsAny(name, "${}") {
		return "", false
	}
	return name, true
}

// DataPath reads a dot-separated path ("a.b.c") out of a decoded JSON value,
// used by the chain manager's data mapping to pull a value out of a
// workflow's output. Returns an error if an intermediate segment is not a
// map or the path does not resolve.
func DataPath(value interface{}, path string) (interface{}, error) {
	if path == "" {
		return value, nil
	}
	segments := strings.Split(path, ".")
	cur := value
	for i, seg := range segments {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("path %q: segment %d (%q) is not an object", path, i, seg)
		}
		next, ok := m[seg]
		if !ok {
			return nil, fmt.Errorf("path %q: key %q not found", path, seg)
		}
		cur = next
	}
	return cur, nil
}
