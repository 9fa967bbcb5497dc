package syncer

import (
	"time"

	"github.com/naperu/painel/internal/domain"
)

// Tenant day boundaries follow the dashboard's operating timezone.
const reportTimezone = "America/Sao_Paulo"

// Legacy catch-up horizon when a tenant has no persisted rows yet.
const normalLookback = 90 * 24 * time.Hour

// Hourly mode refetches a trailing event window because appointments
// far in the future can still be edited.
const incrementalEventLookback = 7 * 24 * time.Hour

// TenantState feeds the planner with the newest persisted rows so the
// legacy mode can resume where the last run stopped.
type TenantState struct {
	LatestOpportunityCreated *time.Time
	LatestEventStart         *time.Time
}

// Window is the planned fetch strategy for one sync run. Zero times
// mean unbounded; exactly one opportunity axis is populated unless
// FullOpportunities is set.
type Window struct {
	Mode domain.SyncMode

	// Opportunity fetch bounds. Updated* selects the updated axis.
	OppCreatedSince   time.Time
	OppCreatedUntil   time.Time
	OppUpdatedSince   time.Time
	OppUpdatedUntil   time.Time
	FullOpportunities bool

	// Calendar event fetch bounds (the API filters by start time) and
	// the precise in-process filter on updated-or-created.
	EventFetchStart   time.Time
	EventFetchEnd     time.Time
	EventFilterSince  time.Time
	EventFilterUntil  time.Time
}

// FiltersEvents reports whether the run re-filters fetched events by
// their updated-or-created date.
func (w *Window) FiltersEvents() bool {
	return !w.EventFilterSince.IsZero() || !w.EventFilterUntil.IsZero()
}

// KeepEvent applies the in-process event filter. Events without any
// resolvable date are dropped when a filter is active.
func (w *Window) KeepEvent(updatedOrCreated *time.Time) bool {
	if !w.FiltersEvents() {
		return true
	}
	if updatedOrCreated == nil {
		return false
	}
	if !w.EventFilterSince.IsZero() && updatedOrCreated.Before(w.EventFilterSince) {
		return false
	}
	if !w.EventFilterUntil.IsZero() && updatedOrCreated.After(w.EventFilterUntil) {
		return false
	}
	return true
}

// PlanWindow decides the fetch bounds for each mode:
//
//   - incremental_1h: opportunities updated in the last hour; events
//     from a trailing 7 day window filtered to the last hour.
//   - daily_reprocess: yesterday in the tenant timezone, by update
//     date; events padded a day on each side then filtered to the day.
//   - full: all opportunities; events two years back to one year ahead.
//   - normal: resume from the newest persisted row, capped at 90 days.
func PlanWindow(mode domain.SyncMode, now time.Time, state TenantState) Window {
	w := Window{Mode: mode}

	switch mode {
	case domain.SyncModeIncremental1h:
		w.OppUpdatedSince = now.Add(-time.Hour)
		w.OppUpdatedUntil = now
		w.EventFetchStart = now.Add(-incrementalEventLookback)
		w.EventFetchEnd = now.Add(24 * time.Hour)
		w.EventFilterSince = w.OppUpdatedSince
		w.EventFilterUntil = w.OppUpdatedUntil

	case domain.SyncModeDailyReprocess:
		dayStart, dayEnd := yesterdayBounds(now)
		w.OppUpdatedSince = dayStart
		w.OppUpdatedUntil = dayEnd
		w.EventFetchStart = dayStart.Add(-24 * time.Hour)
		w.EventFetchEnd = dayEnd.Add(24 * time.Hour)
		w.EventFilterSince = dayStart
		w.EventFilterUntil = dayEnd

	case domain.SyncModeFull:
		w.FullOpportunities = true
		w.EventFetchStart = now.AddDate(-2, 0, 0)
		w.EventFetchEnd = now.AddDate(1, 0, 0)

	default: // normal
		oppStart := now.Add(-normalLookback)
		if state.LatestOpportunityCreated != nil && state.LatestOpportunityCreated.Before(oppStart) {
			oppStart = *state.LatestOpportunityCreated
		}
		w.OppCreatedSince = oppStart
		w.OppCreatedUntil = now.Add(24 * time.Hour)

		evStart := now.Add(-normalLookback)
		if state.LatestEventStart != nil && state.LatestEventStart.Before(evStart) {
			evStart = *state.LatestEventStart
		}
		w.EventFetchStart = evStart
		w.EventFetchEnd = now.Add(24 * time.Hour)
	}

	return w
}

// yesterdayBounds returns yesterday 00:00:00 and 23:59:59.999 in the
// tenant timezone, as instants. Falls back to UTC when the tz database
// is unavailable.
func yesterdayBounds(now time.Time) (time.Time, time.Time) {
	loc, err := time.LoadLocation(reportTimezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y := local.AddDate(0, 0, -1)
	start := time.Date(y.Year(), y.Month(), y.Day(), 0, 0, 0, 0, loc)
	end := time.Date(y.Year(), y.Month(), y.Day(), 23, 59, 59, 999_000_000, loc)
	return start, end
}

// NightPause reports whether the hourly cron should skip this tick.
// The hourly sync stays quiet between 21:00 and 05:59 tenant time.
func NightPause(now time.Time) bool {
	loc, err := time.LoadLocation(reportTimezone)
	if err != nil {
		loc = time.UTC
	}
	h := now.In(loc).Hour()
	return h >= 21 || h < 6
}
