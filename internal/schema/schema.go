// Package schema validates decoded JSON objects against declarative specs.
// The strict path rejects outright with stable error codes and never mutates
// its input; the lenient path in normalize.go coerces instead and is used only
// where explicitly configured.
package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Violation codes. Callers branch on these, so they are part of the contract
// and must stay stable.
const (
	CodeType     = "VAL_SCHEMA_TYPE"
	CodeRequired = "VAL_SCHEMA_REQUIRED"
	CodeEmpty    = "VAL_SCHEMA_EMPTY"
	CodeExtra    = "VAL_SCHEMA_EXTRA"
	CodeNull     = "VAL_SCHEMA_NULL"
	CodeLength   = "VAL_SCHEMA_LENGTH"
	CodeFormat   = "VAL_SCHEMA_FORMAT"
	CodeRange    = "VAL_SCHEMA_RANGE"
	CodeEnum     = "VAL_SCHEMA_ENUM"
)

// Type names the JSON type a field must carry.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeArray   Type = "array"
)

// FieldSpec describes one field of an object.
type FieldSpec struct {
	Type     Type
	Required bool
	Nullable bool
	// MinLength/MaxLength bound string length; MaxLength 0 means unbounded.
	MinLength int
	MaxLength int
	// Min/Max bound numeric values when non-nil.
	Min *float64
	Max *float64
	// Pattern must match the whole intent of the field format, e.g. dates.
	Pattern *regexp.Regexp
	// Enum lists the allowed string values when non-empty.
	Enum []string
	// Items validates each element of an array field.
	Items *ObjectSpec
}

// ObjectSpec describes a closed-world object: any key not listed is a violation.
type ObjectSpec struct {
	Fields map[string]FieldSpec
}

// Violation is one schema failure with a stable code and field path.
type Violation struct {
	Code    string
	Field   string
	Message string
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s: %s: %s", v.Code, v.Field, v.Message)
}

// Float64 returns a pointer for use in Min/Max bounds.
func Float64(v float64) *float64 {
	return &v
}

// Validate checks value against spec and returns every violation in
// deterministic order (fields sorted, array elements in index order). A nil or
// empty result means the value conforms.
func Validate(value map[string]any, spec ObjectSpec) []Violation {
	return validateObject(value, spec, "")
}

func validateObject(value map[string]any, spec ObjectSpec, prefix string) []Violation {
	var violations []Violation

	names := make([]string, 0, len(spec.Fields))
	for name := range spec.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := spec.Fields[name]
		path := prefix + name
		raw, present := value[name]

		if !present {
			if field.Required {
				violations = append(violations, Violation{
					Code:    CodeRequired,
					Field:   path,
					Message: "required field is missing",
				})
			}
			continue
		}
		if raw == nil {
			if !field.Nullable {
				violations = append(violations, Violation{
					Code:    CodeNull,
					Field:   path,
					Message: "field must not be null",
				})
			}
			continue
		}
		violations = append(violations, validateValue(raw, field, path)...)
	}

	// Closed world: reject keys the spec does not name.
	extras := make([]string, 0)
	for key := range value {
		if _, ok := spec.Fields[key]; !ok {
			extras = append(extras, key)
		}
	}
	sort.Strings(extras)
	for _, key := range extras {
		violations = append(violations, Violation{
			Code:    CodeExtra,
			Field:   prefix + key,
			Message: "field is not part of the schema",
		})
	}

	return violations
}

func validateValue(raw any, field FieldSpec, path string) []Violation {
	switch field.Type {
	case TypeString:
		return validateString(raw, field, path)
	case TypeNumber:
		return validateNumber(raw, field, path)
	case TypeBoolean:
		if _, ok := raw.(bool); !ok {
			return []Violation{{Code: CodeType, Field: path, Message: fmt.Sprintf("expected boolean, got %T", raw)}}
		}
		return nil
	case TypeArray:
		return validateArray(raw, field, path)
	default:
		return []Violation{{Code: CodeType, Field: path, Message: fmt.Sprintf("unknown schema type %q", field.Type)}}
	}
}

func validateString(raw any, field FieldSpec, path string) []Violation {
	str, ok := raw.(string)
	if !ok {
		return []Violation{{Code: CodeType, Field: path, Message: fmt.Sprintf("expected string, got %T", raw)}}
	}

	var violations []Violation
	if field.MinLength > 0 && strings.TrimSpace(str) == "" {
		return []Violation{{Code: CodeEmpty, Field: path, Message: "value must not be empty"}}
	}
	length := len([]rune(str))
	if field.MinLength > 0 && length < field.MinLength {
		violations = append(violations, Violation{
			Code:    CodeLength,
			Field:   path,
			Message: fmt.Sprintf("length %d is below minimum %d", length, field.MinLength),
		})
	}
	if field.MaxLength > 0 && length > field.MaxLength {
		violations = append(violations, Violation{
			Code:    CodeLength,
			Field:   path,
			Message: fmt.Sprintf("length %d exceeds maximum %d", length, field.MaxLength),
		})
	}
	if field.Pattern != nil && !field.Pattern.MatchString(str) {
		violations = append(violations, Violation{
			Code:    CodeFormat,
			Field:   path,
			Message: fmt.Sprintf("value does not match pattern %s", field.Pattern.String()),
		})
	}
	if len(field.Enum) > 0 {
		allowed := false
		for _, candidate := range field.Enum {
			if str == candidate {
				allowed = true
				break
			}
		}
		if !allowed {
			violations = append(violations, Violation{
				Code:    CodeEnum,
				Field:   path,
				Message: fmt.Sprintf("value must be one of %v", field.Enum),
			})
		}
	}
	return violations
}

func validateNumber(raw any, field FieldSpec, path string) []Violation {
	num, ok := asNumber(raw)
	if !ok {
		return []Violation{{Code: CodeType, Field: path, Message: fmt.Sprintf("expected number, got %T", raw)}}
	}
	var violations []Violation
	if field.Min != nil && num < *field.Min {
		violations = append(violations, Violation{
			Code:    CodeRange,
			Field:   path,
			Message: fmt.Sprintf("value %v is below minimum %v", num, *field.Min),
		})
	}
	if field.Max != nil && num > *field.Max {
		violations = append(violations, Violation{
			Code:    CodeRange,
			Field:   path,
			Message: fmt.Sprintf("value %v exceeds maximum %v", num, *field.Max),
		})
	}
	return violations
}

func validateArray(raw any, field FieldSpec, path string) []Violation {
	items, ok := raw.([]any)
	if !ok {
		return []Violation{{Code: CodeType, Field: path, Message: fmt.Sprintf("expected array, got %T", raw)}}
	}
	if field.Items == nil {
		return nil
	}
	var violations []Violation
	for i, item := range items {
		element, ok := item.(map[string]any)
		if !ok {
			violations = append(violations, Violation{
				Code:    CodeType,
				Field:   fmt.Sprintf("%s[%d]", path, i),
				Message: fmt.Sprintf("expected object, got %T", item),
			})
			continue
		}
		violations = append(violations, validateObject(element, *field.Items, fmt.Sprintf("%s[%d].", path, i))...)
	}
	return violations
}

func asNumber(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
