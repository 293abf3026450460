// Package template renders template bodies with {{placeholder}} substitution
// and validates parameters against the template's declared parameter schema.
// Rendering is a pure function: identical inputs yield identical output.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/agentmesh/agentmesh/pkg/types"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// Render substitutes params into the template body after validating them.
// Unknown placeholders are left intact so nested templates survive a pass.
func Render(t *types.Template, params map[string]any) (string, error) {
	if t == nil {
		return "", types.NewError(types.ErrBadInput, "template is required")
	}
	if err := ValidateParams(t, params); err != nil {
		return "", err
	}

	rendered := placeholderPattern.ReplaceAllStringFunc(t.Body, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := params[name]
		if !ok {
			return match
		}
		return stringify(value)
	})

	return rendered, nil
}

// ValidateParams checks required keys and declared types.
func ValidateParams(t *types.Template, params map[string]any) error {
	var violations []string

	for _, name := range t.Required {
		if _, ok := params[name]; !ok {
			violations = append(violations, fmt.Sprintf("missing required parameter %q", name))
		}
	}

	for name, value := range params {
		declared, ok := t.Parameters[name]
		if !ok {
			continue
		}
		if !matchesType(declared, value) {
			violations = append(violations,
				fmt.Sprintf("parameter %q: expected %s, got %T", name, declared, value))
		}
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		return types.NewError(types.ErrBadInput, "invalid template parameters: %s",
			strings.Join(violations, "; "))
	}
	return nil
}

// Placeholders lists the distinct placeholder names in the body, sorted.
func Placeholders(body string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, match := range placeholderPattern.FindAllStringSubmatch(body, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			names = append(names, match[1])
		}
	}
	sort.Strings(names)
	return names
}

func matchesType(declared string, value any) bool {
	switch strings.ToLower(declared) {
	case "string", "text":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case "boolean", "bool":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	default:
		return true
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
