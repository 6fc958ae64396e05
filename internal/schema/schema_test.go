package schema

import (
	"regexp"
	"testing"
)

func testSpec() ObjectSpec {
	return ObjectSpec{
		Fields: map[string]FieldSpec{
			"client_name": {
				Type:      TypeString,
				Required:  true,
				MinLength: 1,
				MaxLength: 200,
			},
			"contract_value": {
				Type:     TypeNumber,
				Nullable: true,
				Min:      Float64(0),
				Max:      Float64(100_000_000),
			},
			"start_date": {
				Type:     TypeString,
				Nullable: true,
				Pattern:  regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`),
			},
			"ir35_status": {
				Type:     TypeString,
				Nullable: true,
				Enum:     []string{"Inside", "Outside", "Not Specified"},
			},
			"day_rates": {
				Type:     TypeArray,
				Nullable: true,
				Items: &ObjectSpec{
					Fields: map[string]FieldSpec{
						"role": {Type: TypeString, Required: true, MinLength: 1, MaxLength: 100},
						"rate": {Type: TypeNumber, Required: true, Min: Float64(0), Max: Float64(5000)},
					},
				},
			},
			"signatures_present": {Type: TypeBoolean, Nullable: true},
		},
	}
}

func codes(violations []Violation) []string {
	out := make([]string, 0, len(violations))
	for _, v := range violations {
		out = append(out, v.Code)
	}
	return out
}

func findViolation(t *testing.T, violations []Violation, code, field string) Violation {
	t.Helper()
	for _, v := range violations {
		if v.Code == code && v.Field == field {
			return v
		}
	}
	t.Fatalf("no violation %s on %s in %v", code, field, violations)
	return Violation{}
}

func TestValidateAcceptsConformingObject(t *testing.T) {
	value := map[string]any{
		"client_name":        "Acme Corp",
		"contract_value":     50000.0,
		"start_date":         "2026-01-15",
		"ir35_status":        "Outside",
		"day_rates":          []any{map[string]any{"role": "Engineer", "rate": 650.0}},
		"signatures_present": true,
	}
	if violations := Validate(value, testSpec()); len(violations) != 0 {
		t.Fatalf("expected no violations, got %v", violations)
	}
}

func TestValidateRequiredMissing(t *testing.T) {
	violations := Validate(map[string]any{}, testSpec())
	findViolation(t, violations, CodeRequired, "client_name")
	if len(violations) != 1 {
		t.Fatalf("optional fields must not be flagged when absent: %v", violations)
	}
}

func TestValidateNullHandling(t *testing.T) {
	value := map[string]any{
		"client_name":    nil,
		"contract_value": nil,
	}
	violations := Validate(value, testSpec())
	findViolation(t, violations, CodeNull, "client_name")
	for _, v := range violations {
		if v.Field == "contract_value" {
			t.Fatalf("nullable field must accept null: %v", v)
		}
	}
}

func TestValidateTypeMismatch(t *testing.T) {
	value := map[string]any{
		"client_name":        42.0,
		"contract_value":     "lots",
		"signatures_present": "yes",
	}
	violations := Validate(value, testSpec())
	findViolation(t, violations, CodeType, "client_name")
	findViolation(t, violations, CodeType, "contract_value")
	findViolation(t, violations, CodeType, "signatures_present")
}

func TestValidateEmptyString(t *testing.T) {
	violations := Validate(map[string]any{"client_name": "   "}, testSpec())
	findViolation(t, violations, CodeEmpty, "client_name")
}

func TestValidateLengthBounds(t *testing.T) {
	long := make([]byte, 201)
	for i := range long {
		long[i] = 'x'
	}
	violations := Validate(map[string]any{"client_name": string(long)}, testSpec())
	findViolation(t, violations, CodeLength, "client_name")
}

func TestValidatePatternAndEnum(t *testing.T) {
	value := map[string]any{
		"client_name": "Acme",
		"start_date":  "15/01/2026",
		"ir35_status": "Maybe",
	}
	violations := Validate(value, testSpec())
	findViolation(t, violations, CodeFormat, "start_date")
	findViolation(t, violations, CodeEnum, "ir35_status")
}

func TestValidateNumericRange(t *testing.T) {
	value := map[string]any{
		"client_name":    "Acme",
		"contract_value": 250_000_000.0,
	}
	violations := Validate(value, testSpec())
	findViolation(t, violations, CodeRange, "contract_value")
}

func TestValidateClosedWorldRejectsExtras(t *testing.T) {
	value := map[string]any{
		"client_name": "Acme",
		"notes":       "free-form",
	}
	violations := Validate(value, testSpec())
	findViolation(t, violations, CodeExtra, "notes")
}

func TestValidateArrayItemPathsCarryIndexes(t *testing.T) {
	value := map[string]any{
		"client_name": "Acme",
		"day_rates": []any{
			map[string]any{"role": "Engineer", "rate": 650.0},
			map[string]any{"role": "Architect", "rate": 9000.0},
			map[string]any{"rate": 500.0},
		},
	}
	violations := Validate(value, testSpec())
	findViolation(t, violations, CodeRange, "day_rates[1].rate")
	findViolation(t, violations, CodeRequired, "day_rates[2].role")
}

func TestValidateIsDeterministic(t *testing.T) {
	value := map[string]any{
		"zzz":         "extra",
		"aaa":         "extra",
		"ir35_status": "Maybe",
	}
	first := codes(Validate(value, testSpec()))
	for i := 0; i < 10; i++ {
		again := codes(Validate(value, testSpec()))
		if len(again) != len(first) {
			t.Fatalf("violation count changed between runs: %v vs %v", first, again)
		}
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("violation order changed between runs: %v vs %v", first, again)
			}
		}
	}
}

func TestValidateDoesNotMutateInput(t *testing.T) {
	value := map[string]any{
		"client_name":    "  padded  ",
		"contract_value": "123",
	}
	_ = Validate(value, testSpec())
	if value["client_name"] != "  padded  " || value["contract_value"] != "123" {
		t.Fatal("strict validation must not mutate its input")
	}
}

func TestNormalizeCoercesAndDefaults(t *testing.T) {
	value := map[string]any{
		"client_name":        "  Acme Corp  ",
		"contract_value":     "£1,250.50",
		"signatures_present": "yes",
		"day_rates": []any{
			map[string]any{"role": " Engineer ", "rate": "650"},
		},
		"unknown_field": "dropped",
	}
	out := Normalize(value, testSpec())

	if out["client_name"] != "Acme Corp" {
		t.Fatalf("expected trimmed name, got %q", out["client_name"])
	}
	if out["contract_value"] != 1250.50 {
		t.Fatalf("expected coerced number, got %v", out["contract_value"])
	}
	if out["signatures_present"] != true {
		t.Fatalf("expected coerced bool, got %v", out["signatures_present"])
	}
	if _, ok := out["unknown_field"]; ok {
		t.Fatal("unknown keys must be dropped")
	}
	if out["start_date"] != nil {
		t.Fatalf("missing optional must default to null, got %v", out["start_date"])
	}

	rates, ok := out["day_rates"].([]any)
	if !ok || len(rates) != 1 {
		t.Fatalf("expected normalized rates, got %v", out["day_rates"])
	}
	rate := rates[0].(map[string]any)
	if rate["role"] != "Engineer" || rate["rate"] != 650.0 {
		t.Fatalf("nested coercion failed: %v", rate)
	}

	// Original untouched.
	if value["contract_value"] != "£1,250.50" {
		t.Fatal("normalize must not mutate its input")
	}
}

func TestNormalizedOutputPassesStrictValidation(t *testing.T) {
	value := map[string]any{
		"client_name":    "  Acme  ",
		"contract_value": "50000",
	}
	out := Normalize(value, testSpec())
	if violations := Validate(out, testSpec()); len(violations) != 0 {
		t.Fatalf("normalized output should validate cleanly, got %v", violations)
	}
}
