// Package schema evaluates payloads against the closed type set used for
// agent input and output contracts. It intentionally avoids a general
// validation framework; the contract is narrow and precise.
package schema

import (
	"fmt"
	"strings"

	"github.com/agentmesh/agentmesh/pkg/types"
)

// Validate checks payload against s. A nil schema accepts anything.
// Violations are reported together as one bad-input error.
func Validate(s *types.Schema, payload map[string]any) error {
	if s == nil || len(s.Fields) == 0 {
		return nil
	}

	var violations []string
	for name, field := range s.Fields {
		value, present := payload[name]
		if !present {
			if field.Required {
				violations = append(violations, fmt.Sprintf("missing required field %q", name))
			}
			continue
		}
		if err := checkField(name, field, value); err != nil {
			violations = append(violations, err.Error())
		}
	}

	if len(violations) > 0 {
		return types.NewError(types.ErrBadInput, "schema validation failed: %s",
			strings.Join(violations, "; "))
	}
	return nil
}

func checkField(path string, field *types.SchemaField, value any) error {
	if field == nil || field.Type == types.TypeAny {
		return nil
	}
	if value == nil {
		// Present-but-null passes for any non-required shape check.
		return nil
	}

	switch field.Type {
	case types.TypeString, types.TypeText, types.TypeXML, types.TypeCSV:
		if _, ok := value.(string); !ok {
			return typeMismatch(path, field.Type, value)
		}
	case types.TypeAudio, types.TypeImage, types.TypeVideo,
		types.TypeDocument, types.TypeFile, types.TypeBinary, types.TypePDF:
		// Media payloads arrive as references or base64 strings.
		if _, ok := value.(string); !ok {
			return typeMismatch(path, field.Type, value)
		}
	case types.TypeNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64:
		default:
			return typeMismatch(path, field.Type, value)
		}
	case types.TypeBoolean:
		if _, ok := value.(bool); !ok {
			return typeMismatch(path, field.Type, value)
		}
	case types.TypeObject, types.TypeJSON:
		obj, ok := value.(map[string]any)
		if !ok {
			return typeMismatch(path, field.Type, value)
		}
		for name, sub := range field.Fields {
			v, present := obj[name]
			subPath := path + "." + name
			if !present {
				if sub.Required {
					return fmt.Errorf("missing required field %q", subPath)
				}
				continue
			}
			if err := checkField(subPath, sub, v); err != nil {
				return err
			}
		}
	case types.TypeArray:
		arr, ok := value.([]any)
		if !ok {
			return typeMismatch(path, field.Type, value)
		}
		if field.Items != nil {
			for i, item := range arr {
				if err := checkField(fmt.Sprintf("%s[%d]", path, i), field.Items, item); err != nil {
					return err
				}
			}
		}
	default:
		return fmt.Errorf("field %q has unknown type %q", path, field.Type)
	}
	return nil
}

func typeMismatch(path string, want types.FieldType, got any) error {
	return fmt.Errorf("field %q: expected %s, got %T", path, want, got)
}
