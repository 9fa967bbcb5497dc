package report

import (
	"strings"

	"github.com/naperu/painel/internal/domain"
	"github.com/naperu/painel/internal/mapping"
)

// Indicators are the headline numbers of the dashboard for one period.
// Pointer fields are nulled when the data source they depend on failed
// to load or when a ratio's denominator is zero.
type Indicators struct {
	Sales                  *int     `json:"sales"`
	Revenue                *float64 `json:"revenue"`
	SalesAds               *int     `json:"salesAds"`
	RevenueAds             *float64 `json:"revenueAds"`
	CallsRealized          *int     `json:"callsRealized"`
	CallsRealizedAds       *int     `json:"callsRealizedAds"`
	ConversionRate         *float64 `json:"conversionRate"`
	CallsScheduled         *int     `json:"callsScheduled"`
	CallsScheduledAds      *int     `json:"callsScheduledAds"`
	ShowRate               *float64 `json:"showRate"`
	AppointmentsCreated    *int     `json:"appointmentsCreated"`
	AppointmentsCreatedAds *int     `json:"appointmentsCreatedAds"`
	LeadsQualified         *int     `json:"leadsQualified"`
	LeadsQualifiedAds      *int     `json:"leadsQualifiedAds"`
}

// PreviousIndicators carry the comparison window; ratios are omitted
// there because the UI recomputes deltas from the raw numbers.
type PreviousIndicators struct {
	Sales                  *int     `json:"sales"`
	Revenue                *float64 `json:"revenue"`
	SalesAds               *int     `json:"salesAds"`
	RevenueAds             *float64 `json:"revenueAds"`
	CallsRealized          *int     `json:"callsRealized"`
	CallsRealizedAds       *int     `json:"callsRealizedAds"`
	CallsScheduled         *int     `json:"callsScheduled"`
	CallsScheduledAds      *int     `json:"callsScheduledAds"`
	AppointmentsCreated    *int     `json:"appointmentsCreated"`
	AppointmentsCreatedAds *int     `json:"appointmentsCreatedAds"`
	LeadsQualified         *int     `json:"leadsQualified"`
	LeadsQualifiedAds      *int     `json:"leadsQualifiedAds"`
}

// IndicatorsResult is the indicators endpoint payload.
type IndicatorsResult struct {
	SaleDateFieldID    *string             `json:"saleDateFieldId"`
	Indicators         Indicators          `json:"indicators"`
	PreviousIndicators *PreviousIndicators `json:"previousIndicators"`
	Errors             []string            `json:"errors"`
}

// Input carries the fully fetched per-tenant rows plus the fetch
// errors. A non-empty error mentioning a subject ("oportunidades",
// "calendário") nulls out only the metrics derived from that source.
type Input struct {
	Opportunities []*domain.Opportunity
	Events        []*domain.CalendarEvent
	Errors        []string
}

func (in Input) failed(subject string) bool {
	for _, e := range in.Errors {
		if strings.Contains(e, subject) {
			return true
		}
	}
	return false
}

// periodSlice holds the per-window opportunity partitions.
type periodSlice struct {
	all        []*domain.Opportunity
	ads        []*domain.Opportunity
	sales      int
	revenue    float64
	salesAds   int
	revenueAds float64
	adContacts map[string]struct{}
}

func sliceOpportunities(opps []*domain.Opportunity, m *mapping.Mapping, p Period) periodSlice {
	s := periodSlice{adContacts: map[string]struct{}{}}
	for _, o := range opps {
		if !p.Contains(effectiveDate(o, m)) {
			continue
		}
		s.all = append(s.all, o)
		ad := isAds(o, m)
		if ad {
			s.ads = append(s.ads, o)
			if o.ContactID != nil && *o.ContactID != "" {
				s.adContacts[*o.ContactID] = struct{}{}
			}
		}
		if isWon(o) && hasSaleDate(o, m) {
			s.sales++
			s.revenue += monetary(o)
			if ad {
				s.salesAds++
				s.revenueAds += monetary(o)
			}
		}
	}
	return s
}

// eventSlice holds the per-window event counts on both date axes.
type eventSlice struct {
	scheduled    int
	scheduledAds int
	showed       int
	showedAds    int
	created      int
	createdAds   int
}

func sliceEvents(events []*domain.CalendarEvent, p Period, adContacts map[string]struct{}) eventSlice {
	var s eventSlice
	adEvent := func(e *domain.CalendarEvent) bool {
		if e.ContactID == nil || *e.ContactID == "" {
			return false
		}
		_, ok := adContacts[*e.ContactID]
		return ok
	}
	for _, e := range events {
		if p.Contains(e.StartTime) {
			s.scheduled++
			ad := adEvent(e)
			if ad {
				s.scheduledAds++
			}
			if eventShowed(e) {
				s.showed++
				if ad {
					s.showedAds++
				}
			}
		}
		if p.Contains(eventCreatedTime(e)) {
			s.created++
			if adEvent(e) {
				s.createdAds++
			}
		}
	}
	return s
}

// ComputeIndicators aggregates the headline indicators for the period
// and its immediately preceding window of equal length.
//
// Date semantics: opportunities use the effective date (mapped sale
// date, falling back to creation); calls scheduled/realized use event
// start time while appointments created uses event creation time — the
// two axes are deliberately different. Sales and revenue require status
// "won" AND the sale-date gate.
func ComputeIndicators(in Input, m *mapping.Mapping, period Period, filters Filters) *IndicatorsResult {
	opps := make([]*domain.Opportunity, 0, len(in.Opportunities))
	for _, o := range in.Opportunities {
		if filters.Match(o) {
			opps = append(opps, o)
		}
	}

	cur := sliceOpportunities(opps, m, period)
	curEv := sliceEvents(in.Events, period, cur.adContacts)

	oppFailed := in.failed("oportunidades")
	evFailed := in.failed("calendário")

	oppInt := func(v int) *int {
		if oppFailed {
			return nil
		}
		return intPtr(v)
	}
	oppFloat := func(v float64) *float64 {
		if oppFailed {
			return nil
		}
		return floatPtr(v)
	}
	evInt := func(v int) *int {
		if evFailed {
			return nil
		}
		return intPtr(v)
	}

	ind := Indicators{
		Sales:                  oppInt(cur.sales),
		Revenue:                oppFloat(cur.revenue),
		SalesAds:               oppInt(cur.salesAds),
		RevenueAds:             oppFloat(cur.revenueAds),
		CallsRealized:          evInt(curEv.showed),
		CallsRealizedAds:       evInt(curEv.showedAds),
		CallsScheduled:         evInt(curEv.scheduled),
		CallsScheduledAds:      evInt(curEv.scheduledAds),
		AppointmentsCreated:    evInt(curEv.created),
		AppointmentsCreatedAds: evInt(curEv.createdAds),
		LeadsQualified:         oppInt(len(cur.all)),
		LeadsQualifiedAds:      oppInt(len(cur.ads)),
	}
	if !oppFailed && !evFailed {
		ind.ConversionRate = ratio(float64(cur.sales), curEv.showed)
	}
	if !evFailed {
		ind.ShowRate = ratio(float64(curEv.showed), curEv.scheduled)
	}

	result := &IndicatorsResult{
		Indicators: ind,
		Errors:     in.Errors,
	}
	if result.Errors == nil {
		result.Errors = []string{}
	}
	if m.SaleDateFieldID != "" {
		id := m.SaleDateFieldID
		result.SaleDateFieldID = &id
	}

	if prev := period.Previous(); prev != nil {
		p := sliceOpportunities(opps, m, *prev)
		pEv := sliceEvents(in.Events, *prev, p.adContacts)
		result.PreviousIndicators = &PreviousIndicators{
			Sales:                  oppInt(p.sales),
			Revenue:                oppFloat(p.revenue),
			SalesAds:               oppInt(p.salesAds),
			RevenueAds:             oppFloat(p.revenueAds),
			CallsRealized:          evInt(pEv.showed),
			CallsRealizedAds:       evInt(pEv.showedAds),
			CallsScheduled:         evInt(pEv.scheduled),
			CallsScheduledAds:      evInt(pEv.scheduledAds),
			AppointmentsCreated:    evInt(pEv.created),
			AppointmentsCreatedAds: evInt(pEv.createdAds),
			LeadsQualified:         oppInt(len(p.all)),
			LeadsQualifiedAds:      oppInt(len(p.ads)),
		}
	}

	return result
}

// InvestmentResult is the investment endpoint payload: spend summed
// over the period and over the immediately preceding window.
type InvestmentResult struct {
	Total         float64 `json:"total"`
	PreviousTotal float64 `json:"previousTotal"`
}
