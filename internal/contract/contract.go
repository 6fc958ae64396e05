// Package contract defines the SOW (statement of work) domain model the
// structured-extraction stage produces and the validation stage scores. The
// schema table here is the single source of truth for what a well-formed
// extraction payload looks like.
package contract

import (
	"encoding/json"
	"fmt"
	"regexp"

	"docflow/internal/schema"
)

// IR35 status values. "Not Specified" is a legitimate extraction result, not
// an absence.
const (
	IR35Inside       = "Inside"
	IR35Outside      = "Outside"
	IR35NotSpecified = "Not Specified"
)

// DayRate is one role's contracted daily rate.
type DayRate struct {
	Role     string  `json:"role"`
	Rate     float64 `json:"rate"`
	Currency string  `json:"currency"`
}

// ExtractedData is the structured payload extracted from a SOW document.
// Optional fields are pointers so "absent" and "zero" stay distinguishable.
type ExtractedData struct {
	ClientName        string    `json:"client_name"`
	ContractValue     *float64  `json:"contract_value"`
	StartDate         *string   `json:"start_date"`
	EndDate           *string   `json:"end_date"`
	PONumber          *string   `json:"po_number"`
	IR35Status        *string   `json:"ir35_status"`
	DayRates          []DayRate `json:"day_rates"`
	SignaturesPresent *bool     `json:"signatures_present"`
}

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Schema returns the closed-world schema for an extraction payload.
func Schema() schema.ObjectSpec {
	return schema.ObjectSpec{
		Fields: map[string]schema.FieldSpec{
			"client_name": {
				Type:      schema.TypeString,
				Required:  true,
				MinLength: 1,
				MaxLength: 200,
			},
			"contract_value": {
				Type:     schema.TypeNumber,
				Nullable: true,
				Min:      schema.Float64(0),
				Max:      schema.Float64(100_000_000),
			},
			"start_date": {
				Type:     schema.TypeString,
				Nullable: true,
				Pattern:  datePattern,
			},
			"end_date": {
				Type:     schema.TypeString,
				Nullable: true,
				Pattern:  datePattern,
			},
			"po_number": {
				Type:      schema.TypeString,
				Nullable:  true,
				MaxLength: 100,
			},
			"ir35_status": {
				Type:     schema.TypeString,
				Nullable: true,
				Enum:     []string{IR35Inside, IR35Outside, IR35NotSpecified},
			},
			"day_rates": {
				Type:     schema.TypeArray,
				Nullable: true,
				Items: &schema.ObjectSpec{
					Fields: map[string]schema.FieldSpec{
						"role": {
							Type:      schema.TypeString,
							Required:  true,
							MinLength: 1,
							MaxLength: 100,
						},
						"rate": {
							Type:     schema.TypeNumber,
							Required: true,
							Min:      schema.Float64(0),
							Max:      schema.Float64(5000),
						},
						"currency": {
							Type:     schema.TypeString,
							Required: true,
							Enum:     []string{"GBP", "USD", "EUR"},
						},
					},
				},
			},
			"signatures_present": {
				Type:     schema.TypeBoolean,
				Nullable: true,
			},
		},
	}
}

// Decode converts a validated payload map into the typed domain form.
func Decode(payload map[string]any) (*ExtractedData, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var data ExtractedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode extraction payload: %w", err)
	}
	return &data, nil
}

// Encode converts the typed form back into a generic map, the shape the
// envelope and rule engine work with.
func (d *ExtractedData) Encode() (map[string]any, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode extracted data: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode extracted data: %w", err)
	}
	return out, nil
}
