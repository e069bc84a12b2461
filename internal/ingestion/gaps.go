package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mandi-price-sync/internal/domain"
)

// auditDateLayout is the date format used by gap audit reports and CLI args.
const auditDateLayout = "2006-01-02"

// Gap is one missing date window reported by an external audit, inclusive on
// both ends.
type Gap struct {
	Start time.Time
	End   time.Time
}

// Days returns how many calendar days the gap spans.
func (g Gap) Days() int {
	return int(g.End.Sub(g.Start).Hours()/24) + 1
}

// ValidateGaps rejects malformed gap lists before any upstream traffic is
// spent on them: zero dates, inverted windows, and windows out of ascending
// order are all errors.
func ValidateGaps(gaps []Gap) error {
	for i, g := range gaps {
		if g.Start.IsZero() || g.End.IsZero() {
			return fmt.Errorf("gap %d: missing start or end date", i)
		}
		if g.End.Before(g.Start) {
			return fmt.Errorf("gap %d: end %s before start %s",
				i, g.End.Format(auditDateLayout), g.Start.Format(auditDateLayout))
		}
		if i > 0 && g.Start.Before(gaps[i-1].End) {
			return fmt.Errorf("gap %d: starts %s, before previous gap ends %s",
				i, g.Start.Format(auditDateLayout), gaps[i-1].End.Format(auditDateLayout))
		}
	}
	return nil
}

// gapDoc is one entry of an audit report JSON array.
type gapDoc struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// ParseGapsJSON parses an audit report of the form
// [{"start_date":"2024-01-01","end_date":"2024-01-31"}, ...] and validates it.
func ParseGapsJSON(data []byte) ([]Gap, error) {
	var docs []gapDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse gaps json: %w", err)
	}

	gaps := make([]Gap, 0, len(docs))
	for i, doc := range docs {
		start, err := parseAuditDate(doc.StartDate)
		if err != nil {
			return nil, fmt.Errorf("gap %d: %w", i, err)
		}
		end, err := parseAuditDate(doc.EndDate)
		if err != nil {
			return nil, fmt.Errorf("gap %d: %w", i, err)
		}
		gaps = append(gaps, Gap{Start: start, End: end})
	}

	if err := ValidateGaps(gaps); err != nil {
		return nil, err
	}
	return gaps, nil
}

// ParseGapsArg parses the compact CLI form "2024-01-01:2024-01-31,2024-03-05:2024-03-05"
// and validates it.
func ParseGapsArg(s string) ([]Gap, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty gaps argument")
	}

	parts := strings.Split(s, ",")
	gaps := make([]Gap, 0, len(parts))
	for i, part := range parts {
		bounds := strings.Split(strings.TrimSpace(part), ":")
		if len(bounds) != 2 {
			return nil, fmt.Errorf("gap %d: want start:end, got %q", i, part)
		}
		start, err := parseAuditDate(bounds[0])
		if err != nil {
			return nil, fmt.Errorf("gap %d: %w", i, err)
		}
		end, err := parseAuditDate(bounds[1])
		if err != nil {
			return nil, fmt.Errorf("gap %d: %w", i, err)
		}
		gaps = append(gaps, Gap{Start: start, End: end})
	}

	if err := ValidateGaps(gaps); err != nil {
		return nil, err
	}
	return gaps, nil
}

func parseAuditDate(s string) (time.Time, error) {
	t, err := time.Parse(auditDateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return domain.DateOnly(t), nil
}
