package faults

import (
	"fmt"
	"strings"
	"time"
)

// reportCategoryOrder fixes the category listing order in reports so output
// is stable across runs.
var reportCategoryOrder = []Category{
	CategoryNetwork,
	CategoryTimeout,
	CategoryValidation,
	CategoryPermission,
	CategoryNotFound,
	CategoryRateLimit,
	CategoryServiceUnavailable,
	CategoryInternal,
	CategoryUnknown,
}

var reportSeverityOrder = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
}

// Report renders a human-readable summary of the retained records:
// totals, per-category and per-severity counts, and recent criticals.
func (s *Store) Report() string {
	stats := s.Stats()
	criticals := s.RecentCritical(5)

	var b strings.Builder
	fmt.Fprintf(&b, "Fault report (%s)\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Total records: %d\n", stats.Total)

	b.WriteString("\nBy category:\n")
	for _, cat := range reportCategoryOrder {
		if n := stats.ByCategory[cat]; n > 0 {
			fmt.Fprintf(&b, "  %-20s %d\n", cat, n)
		}
	}

	b.WriteString("\nBy severity:\n")
	for _, sev := range reportSeverityOrder {
		if n := stats.BySeverity[sev]; n > 0 {
			fmt.Fprintf(&b, "  %-10s %d\n", sev, n)
		}
	}

	if len(criticals) > 0 {
		b.WriteString("\nRecent critical failures:\n")
		for _, rec := range criticals {
			fmt.Fprintf(&b, "  [%s] %s/%s: %s\n",
				rec.Timestamp.Format(time.RFC3339), rec.ServiceName, rec.Operation, rec.Message)
		}
	}

	return b.String()
}
