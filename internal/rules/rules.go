// Package rules scores extracted contract data against the business-rule
// table. Every rule runs on every evaluation: there is no short-circuiting,
// so a single run reports the complete picture. Rules are pure functions of
// the data and the injected clock, and a rule whose input is absent simply
// abstains rather than failing.
package rules

import (
	"fmt"
	"time"

	"docflow/internal/contract"
)

// Severity partitions findings into those that fail the document and those
// that merely flag it.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Rule codes. Stable contract for operators and downstream consumers.
const (
	CodeClientMissing = "VAL_CLIENT_MISSING"
	CodeDateMissing   = "VAL_DATE_MISSING"
	CodeDateFormat    = "VAL_DATE_FORMAT"
	CodeDateRange     = "VAL_DATE_RANGE"
	CodeDatePast      = "VAL_DATE_PAST"
	CodeDateLong      = "VAL_DATE_LONG"
	CodeValueMissing  = "VAL_VALUE_MISSING"
	CodeValueInvalid  = "VAL_VALUE_INVALID"
	CodeValueHigh     = "VAL_VALUE_HIGH"
	CodeRateInvalid   = "VAL_RATE_INVALID"
	CodeRateHigh      = "VAL_RATE_HIGH"
	CodeRateLow       = "VAL_RATE_LOW"
)

// Thresholds used by the value and rate rules.
const (
	highContractValue = 10_000_000
	highDayRate       = 1200
	lowDayRate        = 200
	longContractYears = 3
)

const dateLayout = "2006-01-02"

// Finding is one rule violation.
type Finding struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Field    string   `json:"field"`
	Message  string   `json:"message"`
}

// Result partitions findings by severity. Passed is true iff there are no
// error-severity findings; warnings alone never fail a document.
type Result struct {
	Passed   bool      `json:"passed"`
	Errors   []Finding `json:"errors"`
	Warnings []Finding `json:"warnings"`
}

type rule struct {
	code     string
	severity Severity
	evaluate func(data *contract.ExtractedData, now time.Time) []Finding
}

// Engine evaluates the fixed rule table. The clock is injected so date rules
// are deterministic under test.
type Engine struct {
	now func() time.Time
}

// NewEngine returns an engine using the wall clock.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// NewEngineAt returns an engine pinned to a fixed clock.
func NewEngineAt(now func() time.Time) *Engine {
	return &Engine{now: now}
}

// Evaluate runs the full rule table over data. A nil data means extraction
// produced nothing; every rule abstains and the result passes vacuously.
func (e *Engine) Evaluate(data *contract.ExtractedData) Result {
	result := Result{Passed: true}
	if data == nil {
		return result
	}
	now := e.now().UTC()
	for _, r := range ruleTable {
		for _, finding := range r.evaluate(data, now) {
			finding.Code = r.code
			finding.Severity = r.severity
			switch r.severity {
			case SeverityError:
				result.Errors = append(result.Errors, finding)
			case SeverityWarning:
				result.Warnings = append(result.Warnings, finding)
			}
		}
	}
	result.Passed = len(result.Errors) == 0
	return result
}

// ruleTable is evaluated in order. The order matches the registration order
// operators are used to seeing in reports.
var ruleTable = []rule{
	{
		code:     CodeClientMissing,
		severity: SeverityError,
		evaluate: func(data *contract.ExtractedData, _ time.Time) []Finding {
			if data.ClientName == "" {
				return []Finding{{Field: "client_name", Message: "client name was not extracted"}}
			}
			return nil
		},
	},
	{
		code:     CodeDateMissing,
		severity: SeverityError,
		evaluate: func(data *contract.ExtractedData, _ time.Time) []Finding {
			var findings []Finding
			if data.StartDate == nil {
				findings = append(findings, Finding{Field: "start_date", Message: "start date was not extracted"})
			}
			if data.EndDate == nil {
				findings = append(findings, Finding{Field: "end_date", Message: "end date was not extracted"})
			}
			return findings
		},
	},
	{
		code:     CodeDateFormat,
		severity: SeverityError,
		evaluate: func(data *contract.ExtractedData, _ time.Time) []Finding {
			var findings []Finding
			if data.StartDate != nil {
				if _, err := time.Parse(dateLayout, *data.StartDate); err != nil {
					findings = append(findings, Finding{Field: "start_date", Message: "start date is not a valid ISO date"})
				}
			}
			if data.EndDate != nil {
				if _, err := time.Parse(dateLayout, *data.EndDate); err != nil {
					findings = append(findings, Finding{Field: "end_date", Message: "end date is not a valid ISO date"})
				}
			}
			return findings
		},
	},
	{
		code:     CodeDateRange,
		severity: SeverityError,
		evaluate: func(data *contract.ExtractedData, _ time.Time) []Finding {
			start, end, ok := parsedDates(data)
			if !ok {
				return nil
			}
			if !end.After(start) {
				return []Finding{{Field: "end_date", Message: "end date must be after start date"}}
			}
			return nil
		},
	},
	{
		code:     CodeDatePast,
		severity: SeverityWarning,
		evaluate: func(data *contract.ExtractedData, now time.Time) []Finding {
			if data.EndDate == nil {
				return nil
			}
			end, err := time.Parse(dateLayout, *data.EndDate)
			if err != nil {
				return nil
			}
			if end.Before(now.Truncate(24 * time.Hour)) {
				return []Finding{{Field: "end_date", Message: "contract end date is in the past"}}
			}
			return nil
		},
	},
	{
		code:     CodeDateLong,
		severity: SeverityWarning,
		evaluate: func(data *contract.ExtractedData, _ time.Time) []Finding {
			start, end, ok := parsedDates(data)
			if !ok || end.Before(start) {
				return nil
			}
			// Flat 365-day years, so a span crossing a leap day still
			// trips the threshold at the same day count.
			if end.Sub(start) > time.Duration(longContractYears*365)*24*time.Hour {
				return []Finding{{
					Field:   "end_date",
					Message: fmt.Sprintf("contract duration exceeds %d years", longContractYears),
				}}
			}
			return nil
		},
	},
	{
		code:     CodeValueMissing,
		severity: SeverityWarning,
		evaluate: func(data *contract.ExtractedData, _ time.Time) []Finding {
			if data.ContractValue == nil {
				return []Finding{{Field: "contract_value", Message: "contract value was not extracted"}}
			}
			return nil
		},
	},
	{
		code:     CodeValueInvalid,
		severity: SeverityError,
		evaluate: func(data *contract.ExtractedData, _ time.Time) []Finding {
			if data.ContractValue != nil && *data.ContractValue <= 0 {
				return []Finding{{Field: "contract_value", Message: "contract value must be positive"}}
			}
			return nil
		},
	},
	{
		code:     CodeValueHigh,
		severity: SeverityWarning,
		evaluate: func(data *contract.ExtractedData, _ time.Time) []Finding {
			if data.ContractValue != nil && *data.ContractValue > highContractValue {
				return []Finding{{
					Field:   "contract_value",
					Message: fmt.Sprintf("contract value exceeds %d, verify extraction", highContractValue),
				}}
			}
			return nil
		},
	},
	{
		code:     CodeRateInvalid,
		severity: SeverityError,
		evaluate: func(data *contract.ExtractedData, _ time.Time) []Finding {
			var findings []Finding
			for i, rate := range data.DayRates {
				if rate.Rate <= 0 {
					findings = append(findings, Finding{
						Field:   fmt.Sprintf("day_rates[%d].rate", i),
						Message: "day rate must be positive",
					})
				}
			}
			return findings
		},
	},
	{
		code:     CodeRateHigh,
		severity: SeverityWarning,
		evaluate: func(data *contract.ExtractedData, _ time.Time) []Finding {
			var findings []Finding
			for i, rate := range data.DayRates {
				if rate.Rate > highDayRate {
					findings = append(findings, Finding{
						Field:   fmt.Sprintf("day_rates[%d].rate", i),
						Message: fmt.Sprintf("day rate exceeds %d, verify extraction", highDayRate),
					})
				}
			}
			return findings
		},
	},
	{
		code:     CodeRateLow,
		severity: SeverityWarning,
		evaluate: func(data *contract.ExtractedData, _ time.Time) []Finding {
			var findings []Finding
			for i, rate := range data.DayRates {
				if rate.Rate > 0 && rate.Rate < lowDayRate {
					findings = append(findings, Finding{
						Field:   fmt.Sprintf("day_rates[%d].rate", i),
						Message: fmt.Sprintf("day rate is below %d, verify extraction", lowDayRate),
					})
				}
			}
			return findings
		},
	},
}

func parsedDates(data *contract.ExtractedData) (time.Time, time.Time, bool) {
	if data.StartDate == nil || data.EndDate == nil {
		return time.Time{}, time.Time{}, false
	}
	start, err := time.Parse(dateLayout, *data.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(dateLayout, *data.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}
