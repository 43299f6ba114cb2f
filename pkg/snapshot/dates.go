package snapshot

import (
	"strings"
	"time"

	"github.com/adnet-tools/wmsnap/pkg/wmerr"
)

const dateLayout = "2006-01-02"

const (
	maxLookbackDays = 730
	maxRangeDays    = 60
	skuMaxRangeDays = 15
)

// ValidReportTypes are the snapshot report types the API accepts.
var ValidReportTypes = []string{
	"campaign",
	"lineItem",
	"tactic",
	"sku",
	"creative",
	"bid",
	"newBuyer",
}

// IsValidReportType reports whether reportType is one of ValidReportTypes.
func IsValidReportType(reportType string) bool {
	for _, t := range ValidReportTypes {
		if t == reportType {
			return true
		}
	}
	return false
}

// Today returns the current UTC calendar date, which is what the API's
// date-range rules are relative to.
func Today() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour)
}

// ValidateDates enforces the API's date-range rules for the given report
// type, relative to today. Each violated rule fails with its own message so
// the user knows exactly what to fix.
func ValidateDates(reportType, startDate, endDate string, today time.Time) error {
	start, err := time.Parse(dateLayout, startDate)
	if err != nil {
		return wmerr.New(wmerr.Validation, "invalid start date %q, expected YYYY-MM-DD", startDate)
	}
	end, err := time.Parse(dateLayout, endDate)
	if err != nil {
		return wmerr.New(wmerr.Validation, "invalid end date %q, expected YYYY-MM-DD", endDate)
	}

	if !start.Before(end) {
		return wmerr.New(wmerr.Validation, "start date (%s) must be before end date (%s)", startDate, endDate)
	}

	if !end.Before(today) {
		return wmerr.New(wmerr.Validation, "end date (%s) cannot include the current day or future dates", endDate)
	}

	if start.Before(today.AddDate(0, 0, -maxLookbackDays)) {
		return wmerr.New(wmerr.Validation, "start date (%s) cannot be more than 2 years in the past", startDate)
	}

	spanDays := int(end.Sub(start).Hours() / 24)
	limit := maxRangeDays
	if reportType == "sku" {
		limit = skuMaxRangeDays
	}
	if spanDays > limit {
		return wmerr.New(wmerr.Validation, "date range (%d days) exceeds the %d-day limit for %q reports", spanDays, limit, reportType)
	}

	return nil
}

// ReportTypesHelp renders the valid types for CLI help text.
func ReportTypesHelp() string {
	return strings.Join(ValidReportTypes, ", ")
}
