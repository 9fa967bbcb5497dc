package report

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/naperu/painel/internal/domain"
	"github.com/naperu/painel/internal/mapping"
)

func sp(s string) *string { return &s }

func fp(f float64) *float64 { return &f }

func tp(t time.Time) *time.Time { return &t }

func march2024() Period {
	return Period{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC),
	}
}

func wonOpp(created time.Time, value float64) *domain.Opportunity {
	return &domain.Opportunity{
		ID:               uuid.New(),
		GhlOpportunityID: uuid.NewString(),
		Status:           sp(domain.OpportunityStatusWon),
		MonetaryValue:    fp(value),
		DateAdded:        tp(created),
	}
}

func TestPeriodPrevious(t *testing.T) {
	p := march2024()
	prev := p.Previous()
	if prev == nil {
		t.Fatalf("Previous = nil")
	}
	if got := prev.End; !got.Equal(p.Start.Add(-time.Millisecond)) {
		t.Errorf("previous end = %v, want start-1ms", got)
	}
	if got, want := prev.End.Sub(prev.Start), p.End.Sub(p.Start); got != want {
		t.Errorf("previous length = %v, want %v", got, want)
	}

	zero := Period{Start: p.Start, End: p.Start}
	if zero.Previous() != nil {
		t.Errorf("zero-length period must have no previous window")
	}
}

func TestSalesWithoutSaleDateField(t *testing.T) {
	// Scenario: no sale-date field mapped; a won March opportunity counts.
	m := &mapping.Mapping{}
	in := Input{Opportunities: []*domain.Opportunity{
		wonOpp(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), 5000),
	}}

	r := ComputeIndicators(in, m, march2024(), Filters{})
	if r.Indicators.Sales == nil || *r.Indicators.Sales != 1 {
		t.Errorf("sales = %v, want 1", r.Indicators.Sales)
	}
	if r.Indicators.Revenue == nil || *r.Indicators.Revenue != 5000 {
		t.Errorf("revenue = %v, want 5000", r.Indicators.Revenue)
	}
	if r.SaleDateFieldID != nil {
		t.Errorf("saleDateFieldId = %v, want nil", r.SaleDateFieldID)
	}
}

func TestSaleDateGate(t *testing.T) {
	// Same opportunity, but a sale-date field is mapped and this row has
	// no value: it must not count as a sale, even in-period by creation.
	m := &mapping.Mapping{SaleDateFieldID: "F1"}
	in := Input{Opportunities: []*domain.Opportunity{
		wonOpp(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), 5000),
	}}

	r := ComputeIndicators(in, m, march2024(), Filters{})
	if r.Indicators.Sales == nil || *r.Indicators.Sales != 0 {
		t.Errorf("sales = %v, want 0 without a sale date value", r.Indicators.Sales)
	}
	if r.Indicators.Revenue == nil || *r.Indicators.Revenue != 0 {
		t.Errorf("revenue = %v, want 0", r.Indicators.Revenue)
	}
	// Still a qualified lead by creation date.
	if r.Indicators.LeadsQualified == nil || *r.Indicators.LeadsQualified != 1 {
		t.Errorf("leadsQualified = %v, want 1", r.Indicators.LeadsQualified)
	}
}

func TestSaleDateMovesEffectiveDate(t *testing.T) {
	// Created in February but sold in March: the sale date wins.
	m := &mapping.Mapping{SaleDateFieldID: "F1"}
	o := wonOpp(time.Date(2024, 2, 20, 12, 0, 0, 0, time.UTC), 800)
	o.SaleDateValue = sp("2024-03-15")
	in := Input{Opportunities: []*domain.Opportunity{o}}

	r := ComputeIndicators(in, m, march2024(), Filters{})
	if r.Indicators.Sales == nil || *r.Indicators.Sales != 1 {
		t.Errorf("sales = %v, want 1 by sale date", r.Indicators.Sales)
	}
}

func TestAdsSubset(t *testing.T) {
	// Two leads, one from a configured paid source.
	m := &mapping.Mapping{AdsSourceTerms: map[string]struct{}{"facebook": {}}}
	created := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	fb := &domain.Opportunity{DateAdded: tp(created), UtmSource: sp(" Facebook ")}
	organic := &domain.Opportunity{DateAdded: tp(created), UtmSource: sp("organic")}
	in := Input{Opportunities: []*domain.Opportunity{fb, organic}}

	r := ComputeIndicators(in, m, march2024(), Filters{})
	if *r.Indicators.LeadsQualified != 2 {
		t.Errorf("leadsQualified = %d, want 2", *r.Indicators.LeadsQualified)
	}
	if *r.Indicators.LeadsQualifiedAds != 1 {
		t.Errorf("leadsQualifiedAds = %d, want 1", *r.Indicators.LeadsQualifiedAds)
	}
}

func TestEventAxesAndShowedCase(t *testing.T) {
	m := &mapping.Mapping{}
	inPeriod := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	outside := time.Date(2024, 4, 2, 14, 0, 0, 0, time.UTC)
	in := Input{Events: []*domain.CalendarEvent{
		// Starts in-period, mixed-case status: scheduled + realized.
		{StartTime: tp(inPeriod), Status: sp("Showed"), DateAdded: tp(outside)},
		// Starts after the period but created inside it: only the
		// created axis counts.
		{StartTime: tp(outside), Status: sp("confirmed"), DateAdded: tp(inPeriod)},
	}}

	r := ComputeIndicators(in, m, march2024(), Filters{})
	if *r.Indicators.CallsScheduled != 1 {
		t.Errorf("callsScheduled = %d, want 1", *r.Indicators.CallsScheduled)
	}
	if *r.Indicators.CallsRealized != 1 {
		t.Errorf("callsRealized = %d, want mixed-case Showed counted", *r.Indicators.CallsRealized)
	}
	if *r.Indicators.AppointmentsCreated != 2 {
		t.Errorf("appointmentsCreated = %d, want 2 (both created in-period)", *r.Indicators.AppointmentsCreated)
	}
	if r.Indicators.ShowRate == nil || *r.Indicators.ShowRate != 100 {
		t.Errorf("showRate = %v, want 100", r.Indicators.ShowRate)
	}
}

func TestEventAdsAttributionByContact(t *testing.T) {
	m := &mapping.Mapping{AdsSourceTerms: map[string]struct{}{"facebook": {}}}
	created := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	in := Input{
		Opportunities: []*domain.Opportunity{
			{DateAdded: tp(created), UtmSource: sp("facebook"), ContactID: sp("ct-1")},
		},
		Events: []*domain.CalendarEvent{
			{StartTime: tp(created), Status: sp("showed"), ContactID: sp("ct-1")},
			{StartTime: tp(created), Status: sp("showed"), ContactID: sp("ct-2")},
		},
	}

	r := ComputeIndicators(in, m, march2024(), Filters{})
	if *r.Indicators.CallsRealized != 2 {
		t.Errorf("callsRealized = %d, want 2", *r.Indicators.CallsRealized)
	}
	if *r.Indicators.CallsRealizedAds != 1 {
		t.Errorf("callsRealizedAds = %d, want only the ads contact", *r.Indicators.CallsRealizedAds)
	}
}

func TestNullSafeRatios(t *testing.T) {
	r := ComputeIndicators(Input{}, &mapping.Mapping{}, march2024(), Filters{})
	if r.Indicators.ConversionRate != nil {
		t.Errorf("conversionRate = %v, want nil with no realized calls", r.Indicators.ConversionRate)
	}
	if r.Indicators.ShowRate != nil {
		t.Errorf("showRate = %v, want nil with no scheduled calls", r.Indicators.ShowRate)
	}
}

func TestErrorNulling(t *testing.T) {
	m := &mapping.Mapping{}
	created := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	in := Input{
		Events: []*domain.CalendarEvent{{StartTime: tp(created), Status: sp("showed")}},
		Errors: []string{"Erro ao buscar oportunidades: timeout"},
	}

	r := ComputeIndicators(in, m, march2024(), Filters{})
	if r.Indicators.Sales != nil || r.Indicators.LeadsQualified != nil {
		t.Errorf("opportunity metrics must be nulled on an oportunidades error")
	}
	if r.Indicators.CallsRealized == nil || *r.Indicators.CallsRealized != 1 {
		t.Errorf("event metrics must still compute: callsRealized = %v", r.Indicators.CallsRealized)
	}
	if r.Indicators.ConversionRate != nil {
		t.Errorf("conversionRate depends on both sources and must be nil")
	}
	if len(r.Errors) != 1 {
		t.Errorf("errors = %v, want passed through", r.Errors)
	}
}

func TestFilters(t *testing.T) {
	m := &mapping.Mapping{}
	created := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	in := Input{Opportunities: []*domain.Opportunity{
		{DateAdded: tp(created), PipelineID: sp("p1"), Source: sp("Indicação")},
		{DateAdded: tp(created), PipelineID: sp("p2"), Source: sp("Indicação")},
		{DateAdded: tp(created), PipelineID: sp("p1")},
	}}

	r := ComputeIndicators(in, m, march2024(), Filters{PipelineIDs: []string{"p1"}})
	if *r.Indicators.LeadsQualified != 2 {
		t.Errorf("pipeline filter: leads = %d, want 2", *r.Indicators.LeadsQualified)
	}

	// The empty source maps to the sentinel label.
	r = ComputeIndicators(in, m, march2024(), Filters{Sources: []string{"—"}})
	if *r.Indicators.LeadsQualified != 1 {
		t.Errorf("source sentinel filter: leads = %d, want 1", *r.Indicators.LeadsQualified)
	}
}

func TestPreviousIndicators(t *testing.T) {
	m := &mapping.Mapping{}
	in := Input{Opportunities: []*domain.Opportunity{
		wonOpp(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), 100),
		wonOpp(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), 70),
	}}

	r := ComputeIndicators(in, m, march2024(), Filters{})
	if *r.Indicators.Sales != 1 {
		t.Errorf("sales = %d, want 1", *r.Indicators.Sales)
	}
	if r.PreviousIndicators == nil {
		t.Fatalf("previousIndicators missing")
	}
	if *r.PreviousIndicators.Sales != 1 || *r.PreviousIndicators.Revenue != 70 {
		t.Errorf("previous sales/revenue = %v/%v, want 1/70",
			*r.PreviousIndicators.Sales, *r.PreviousIndicators.Revenue)
	}
}
