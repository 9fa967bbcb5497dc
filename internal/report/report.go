// Package report computes the dashboard indicators from the mirrored
// rows. All functions here are pure compute over already-fetched data;
// the service layer in service.go owns fetching and caching.
package report

import (
	"strings"
	"time"

	"github.com/naperu/painel/internal/domain"
	"github.com/naperu/painel/internal/ghl"
	"github.com/naperu/painel/internal/mapping"
)

// The sentinel label for empty dimension values, so grouping never
// produces a blank row.
const emptyLabel = "—"

// The fallback owner label when an opportunity has no assignee.
const unassignedLabel = "Não atribuído"

// Period is a closed interval with millisecond precision, matching the
// start/end query parameters.
type Period struct {
	Start time.Time
	End   time.Time
}

// PeriodFromMs builds a Period from epoch-millisecond bounds.
func PeriodFromMs(startMs, endMs int64) Period {
	return Period{
		Start: time.UnixMilli(startMs).UTC(),
		End:   time.UnixMilli(endMs).UTC(),
	}
}

// Previous derives the immediately preceding window of equal length:
// [start-len-1ms, start-1ms]. Nil when the period length is not
// positive.
func (p Period) Previous() *Period {
	length := p.End.Sub(p.Start)
	if length <= 0 {
		return nil
	}
	end := p.Start.Add(-time.Millisecond)
	return &Period{Start: end.Add(-length), End: end}
}

// Contains reports whether t falls inside the closed interval. Nil
// timestamps never match.
func (p Period) Contains(t *time.Time) bool {
	return t != nil && !t.Before(p.Start) && !t.After(p.End)
}

// DateStrings returns the interval bounds as YYYY-MM-DD (UTC), the
// granularity of the ads spend rows.
func (p Period) DateStrings() (string, string) {
	return p.Start.UTC().Format("2006-01-02"), p.End.UTC().Format("2006-01-02")
}

// Days is the period length in whole days, rounded up.
func (p Period) Days() int {
	length := p.End.Sub(p.Start)
	days := int(length / (24 * time.Hour))
	if length%(24*time.Hour) > 0 {
		days++
	}
	return days
}

// Filters narrow which opportunities participate in a report.
type Filters struct {
	PipelineIDs []string
	Sources     []string
}

func (f Filters) matchPipeline(o *domain.Opportunity) bool {
	if len(f.PipelineIDs) == 0 {
		return true
	}
	if o.PipelineID == nil {
		return false
	}
	for _, id := range f.PipelineIDs {
		if id == *o.PipelineID {
			return true
		}
	}
	return false
}

func (f Filters) matchSource(o *domain.Opportunity) bool {
	if len(f.Sources) == 0 {
		return true
	}
	src := sourceLabel(o)
	for _, s := range f.Sources {
		if s == src {
			return true
		}
	}
	return false
}

// Match applies both filters.
func (f Filters) Match(o *domain.Opportunity) bool {
	return f.matchPipeline(o) && f.matchSource(o)
}

func sourceLabel(o *domain.Opportunity) string {
	if o.Source != nil {
		if s := strings.TrimSpace(*o.Source); s != "" {
			return s
		}
	}
	return emptyLabel
}

// effectiveDate picks the date axis of one opportunity: the parsed sale
// date when a sale-date field is mapped and this row carries a value,
// otherwise the creation timestamp.
func effectiveDate(o *domain.Opportunity, m *mapping.Mapping) *time.Time {
	if m.SaleDateFieldID != "" && o.SaleDateValue != nil {
		return ghl.ParseTime(*o.SaleDateValue)
	}
	if o.DateAdded != nil {
		return o.DateAdded
	}
	t := o.CreatedAt
	return &t
}

// hasSaleDate gates revenue-bearing metrics: true when no sale-date
// field is mapped at all, or when this row's value parses to a date. A
// won deal with the field mapped but absent must not count as revenue.
func hasSaleDate(o *domain.Opportunity, m *mapping.Mapping) bool {
	if m.SaleDateFieldID == "" {
		return true
	}
	return o.SaleDateValue != nil && ghl.ParseTime(*o.SaleDateValue) != nil
}

func isWon(o *domain.Opportunity) bool {
	return o.Status != nil && *o.Status == domain.OpportunityStatusWon
}

func isAds(o *domain.Opportunity, m *mapping.Mapping) bool {
	if o.UtmSource == nil {
		return false
	}
	return m.IsAdsSource(*o.UtmSource)
}

func eventShowed(e *domain.CalendarEvent) bool {
	return e.Status != nil && strings.ToLower(strings.TrimSpace(*e.Status)) == "showed"
}

// eventCreatedTime is the creation axis of an event (distinct from its
// start-time axis).
func eventCreatedTime(e *domain.CalendarEvent) *time.Time {
	if e.DateAdded != nil {
		return e.DateAdded
	}
	t := e.CreatedAt
	return &t
}

func monetary(o *domain.Opportunity) float64 {
	if o.MonetaryValue == nil {
		return 0
	}
	return *o.MonetaryValue
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

// ratio computes a percentage, nil (never ±Inf) on a zero denominator.
func ratio(numerator float64, denominator int) *float64 {
	if denominator == 0 {
		return nil
	}
	return floatPtr(numerator / float64(denominator) * 100)
}
