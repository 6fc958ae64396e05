package contract

import (
	"testing"

	"docflow/internal/schema"
)

func validPayload() map[string]any {
	return map[string]any{
		"client_name":    "Acme Corp",
		"contract_value": 125000.0,
		"start_date":     "2026-01-01",
		"end_date":       "2026-12-31",
		"po_number":      "PO-2026-0042",
		"ir35_status":    "Outside",
		"day_rates": []any{
			map[string]any{"role": "Engineer", "rate": 650.0, "currency": "GBP"},
		},
		"signatures_present": true,
	}
}

func TestSchemaAcceptsValidPayload(t *testing.T) {
	if violations := schema.Validate(validPayload(), Schema()); len(violations) != 0 {
		t.Fatalf("expected clean validation, got %v", violations)
	}
}

func TestSchemaAcceptsAllOptionalFieldsNull(t *testing.T) {
	payload := map[string]any{
		"client_name":        "Acme Corp",
		"contract_value":     nil,
		"start_date":         nil,
		"end_date":           nil,
		"po_number":          nil,
		"ir35_status":        nil,
		"day_rates":          nil,
		"signatures_present": nil,
	}
	if violations := schema.Validate(payload, Schema()); len(violations) != 0 {
		t.Fatalf("nullable fields must accept null: %v", violations)
	}
}

func TestSchemaRejectsBadDateAndCurrency(t *testing.T) {
	payload := validPayload()
	payload["start_date"] = "01/01/2026"
	payload["day_rates"] = []any{
		map[string]any{"role": "Engineer", "rate": 650.0, "currency": "JPY"},
	}
	violations := schema.Validate(payload, Schema())

	var sawDate, sawCurrency bool
	for _, v := range violations {
		if v.Code == schema.CodeFormat && v.Field == "start_date" {
			sawDate = true
		}
		if v.Code == schema.CodeEnum && v.Field == "day_rates[0].currency" {
			sawCurrency = true
		}
	}
	if !sawDate || !sawCurrency {
		t.Fatalf("expected date format and currency enum violations, got %v", violations)
	}
}

func TestSchemaRejectsIR35OutsideEnum(t *testing.T) {
	payload := validPayload()
	payload["ir35_status"] = "Unknown"
	violations := schema.Validate(payload, Schema())
	if len(violations) != 1 || violations[0].Code != schema.CodeEnum {
		t.Fatalf("expected single enum violation, got %v", violations)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	data, err := Decode(validPayload())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.ClientName != "Acme Corp" {
		t.Fatalf("client name lost: %q", data.ClientName)
	}
	if data.ContractValue == nil || *data.ContractValue != 125000.0 {
		t.Fatalf("contract value lost: %v", data.ContractValue)
	}
	if data.IR35Status == nil || *data.IR35Status != IR35Outside {
		t.Fatalf("ir35 status lost: %v", data.IR35Status)
	}
	if len(data.DayRates) != 1 || data.DayRates[0].Rate != 650.0 {
		t.Fatalf("day rates lost: %v", data.DayRates)
	}

	encoded, err := data.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if violations := schema.Validate(encoded, Schema()); len(violations) != 0 {
		t.Fatalf("round-tripped payload should validate, got %v", violations)
	}
}
