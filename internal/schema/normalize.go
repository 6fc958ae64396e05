package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Normalize is the lenient counterpart to Validate. It returns a coerced copy
// of value: strings are trimmed, numeric strings become numbers, missing
// optional fields default to null, and unknown keys are dropped. The input is
// never mutated. Values that cannot be coerced are passed through unchanged so
// a follow-up Validate still reports them.
func Normalize(value map[string]any, spec ObjectSpec) map[string]any {
	out := make(map[string]any, len(spec.Fields))
	for name, field := range spec.Fields {
		raw, present := value[name]
		if !present || raw == nil {
			out[name] = nil
			continue
		}
		out[name] = normalizeValue(raw, field)
	}
	return out
}

func normalizeValue(raw any, field FieldSpec) any {
	switch field.Type {
	case TypeString:
		if str, ok := raw.(string); ok {
			trimmed := strings.TrimSpace(str)
			if trimmed == "" {
				return nil
			}
			return trimmed
		}
		// Numbers and booleans become their string forms.
		return fmt.Sprintf("%v", raw)
	case TypeNumber:
		if num, ok := asNumber(raw); ok {
			return num
		}
		if str, ok := raw.(string); ok {
			cleaned := strings.TrimSpace(str)
			cleaned = strings.NewReplacer("£", "", "$", "", "€", "", ",", "").Replace(cleaned)
			if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
				return parsed
			}
		}
		return raw
	case TypeBoolean:
		if b, ok := raw.(bool); ok {
			return b
		}
		if str, ok := raw.(string); ok {
			switch strings.ToLower(strings.TrimSpace(str)) {
			case "true", "yes":
				return true
			case "false", "no":
				return false
			}
		}
		return raw
	case TypeArray:
		items, ok := raw.([]any)
		if !ok || field.Items == nil {
			return raw
		}
		normalized := make([]any, 0, len(items))
		for _, item := range items {
			if element, ok := item.(map[string]any); ok {
				normalized = append(normalized, Normalize(element, *field.Items))
			} else {
				normalized = append(normalized, item)
			}
		}
		return normalized
	default:
		return raw
	}
}
