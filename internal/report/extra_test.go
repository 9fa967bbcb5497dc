package report

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/naperu/painel/internal/domain"
	"github.com/naperu/painel/internal/mapping"
)

func TestSeriesBuckets(t *testing.T) {
	m := &mapping.Mapping{}
	day := func(d int) time.Time { return time.Date(2024, 3, d, 12, 0, 0, 0, time.UTC) }
	in := ExtraInput{
		Opportunities: []*domain.Opportunity{
			{DateAdded: tp(day(5))},
			{DateAdded: tp(day(5)), Status: sp("won")},
			{DateAdded: tp(day(7))},
		},
		Events: []*domain.CalendarEvent{{StartTime: tp(day(5))}},
		Spend:  []*domain.AdsDailyInsight{{Date: "2024-03-05", Spend: 40}, {Date: "2024-03-07", Spend: 10}},
	}

	r := ComputeExtra(in, m, march2024(), Filters{}, ExtraOptions{})
	want := []SeriesPoint{
		{Date: "2024-03-05", Leads: 2, Appointments: 1, Sales: 1, Investment: 40},
		{Date: "2024-03-07", Leads: 1, Investment: 10},
	}
	if diff := cmp.Diff(want, r.Series); diff != "" {
		t.Errorf("series mismatch (-want +got):\n%s", diff)
	}
}

func TestSeriesMonthBucketsOnLongPeriods(t *testing.T) {
	m := &mapping.Mapping{}
	period := Period{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC),
	}
	in := ExtraInput{
		Opportunities: []*domain.Opportunity{
			{DateAdded: tp(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))},
			{DateAdded: tp(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))},
		},
		Spend: []*domain.AdsDailyInsight{{Date: "2024-01-15", Spend: 25}},
	}

	r := ComputeExtra(in, m, period, Filters{}, ExtraOptions{})
	if len(r.Series) != 2 || r.Series[0].Date != "2024-01" || r.Series[1].Date != "2024-03" {
		t.Fatalf("series = %+v, want month buckets 2024-01 and 2024-03", r.Series)
	}
	if r.Series[0].Investment != 25 {
		t.Errorf("january investment = %v, want 25", r.Series[0].Investment)
	}
}

func TestMonthlyFixedYear(t *testing.T) {
	m := &mapping.Mapping{}
	year := 2024
	in := ExtraInput{
		Opportunities: []*domain.Opportunity{
			// Outside the March period but inside the year: must appear.
			{DateAdded: tp(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)), Status: sp("won"), MonetaryValue: fp(300)},
			{DateAdded: tp(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))},
			// Other year: excluded.
			{DateAdded: tp(time.Date(2023, 3, 10, 0, 0, 0, 0, time.UTC))},
		},
	}
	opts := ExtraOptions{
		Year:      &year,
		YearSpend: []*domain.AdsDailyInsight{{Date: "2024-07-02", Spend: 150}},
	}

	r := ComputeExtra(in, m, march2024(), Filters{}, opts)
	if len(r.Monthly) != 2 {
		t.Fatalf("monthly = %+v, want 2024-03 and 2024-07", r.Monthly)
	}
	july := r.Monthly[1]
	if july.Month != "2024-07" || july.Sales != 1 || july.Revenue != 300 {
		t.Errorf("july = %+v, want 1 sale of 300", july)
	}
	if july.Investment != 150 || july.Cpa != 150 {
		t.Errorf("july investment/cpa = %v/%v, want 150/150", july.Investment, july.Cpa)
	}
}

func TestByResponsible(t *testing.T) {
	m := &mapping.Mapping{}
	created := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	in := ExtraInput{
		Opportunities: []*domain.Opportunity{
			{DateAdded: tp(created), AssignedTo: sp("u1"), Status: sp("won"), MonetaryValue: fp(100)},
			{DateAdded: tp(created), AssignedTo: sp("u1")},
			{DateAdded: tp(created)},
		},
		UserNames: map[string]string{"u1": "Ana"},
	}

	r := ComputeExtra(in, m, march2024(), Filters{}, ExtraOptions{})
	if len(r.ByResponsible) != 2 {
		t.Fatalf("byResponsible = %+v, want 2 rows", r.ByResponsible)
	}
	ana := r.ByResponsible[0]
	if ana.Name != "Ana" || ana.Opportunities != 2 || ana.Sales != 1 {
		t.Errorf("ana = %+v, want 2 opps, 1 sale", ana)
	}
	if ana.ConversionRate != 50 {
		t.Errorf("conversionRate = %v, want 50", ana.ConversionRate)
	}
	if r.ByResponsible[1].Name != "Não atribuído" {
		t.Errorf("fallback label = %q", r.ByResponsible[1].Name)
	}
}

func TestUtmEventAttributionViaFirstOpportunity(t *testing.T) {
	m := &mapping.Mapping{}
	in := ExtraInput{
		Opportunities: []*domain.Opportunity{
			// Second chronologically; must not win the contact's UTM.
			{DateAdded: tp(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)), ContactID: sp("ct-1"), UtmCampaign: sp("late")},
			{DateAdded: tp(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)), ContactID: sp("ct-1"), UtmCampaign: sp("early")},
		},
		Events: []*domain.CalendarEvent{
			{StartTime: tp(time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)), Status: sp("showed"), ContactID: sp("ct-1")},
		},
	}

	r := ComputeExtra(in, m, march2024(), Filters{}, ExtraOptions{})
	var early *UtmRow
	for i := range r.UtmCampaign {
		if r.UtmCampaign[i].Name == "early" {
			early = &r.UtmCampaign[i]
		}
	}
	if early == nil {
		t.Fatalf("utmCampaign = %+v, missing early row", r.UtmCampaign)
	}
	if early.Appointments != 1 || early.CallsRealized != 1 {
		t.Errorf("early = %+v, want the event attributed to the first opportunity's UTM", early)
	}
}

func TestRevenueByRange(t *testing.T) {
	m := &mapping.Mapping{}
	created := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	in := ExtraInput{Opportunities: []*domain.Opportunity{
		wonOpp(created, 500),
		wonOpp(created, 1000),
		wonOpp(created, 75000),
		// Not won: ignored.
		{DateAdded: tp(created), MonetaryValue: fp(2000)},
	}}

	r := ComputeExtra(in, m, march2024(), Filters{}, ExtraOptions{})
	want := []RangeRow{
		{Range: "0 - 1.000", Count: 1, Revenue: 500},
		{Range: "1.000 - 5.000", Count: 1, Revenue: 1000},
		{Range: "50.000+", Count: 1, Revenue: 75000},
	}
	if diff := cmp.Diff(want, r.RevenueByRange); diff != "" {
		t.Errorf("revenueByRange mismatch (-want +got):\n%s", diff)
	}
}

func TestCrossMatrixWithCustomDimension(t *testing.T) {
	m := &mapping.Mapping{
		ImportColumns: []mapping.ImportColumn{{FieldID: "fld-x", Name: "Produto", Column: "cf_fld_x"}},
	}
	created := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	in := ExtraInput{
		Opportunities: []*domain.Opportunity{
			{DateAdded: tp(created), Source: sp("Indicação"), CustomFields: map[string]string{"cf_fld_x": "Plano A"}, Status: sp("won")},
			{DateAdded: tp(created), Source: sp("Indicação")},
		},
	}

	r := ComputeExtra(in, m, march2024(), Filters{}, ExtraOptions{RowDim: "cf_fld_x", ColDim: "source"})
	found := false
	for _, d := range r.AvailableDimensions {
		if d.ID == "cf_fld_x" && d.Label == "Produto" {
			found = true
		}
	}
	if !found {
		t.Errorf("availableDimensions = %+v, missing cf_fld_x", r.AvailableDimensions)
	}

	cm := r.CrossMatrix
	if diff := cmp.Diff([]string{"Plano A", "—"}, cm.RowLabels); diff != "" {
		t.Fatalf("rowLabels mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Indicação"}, cm.ColLabels); diff != "" {
		t.Fatalf("colLabels mismatch (-want +got):\n%s", diff)
	}
	if cm.Leads[0][0] != 1 || cm.Sales[0][0] != 1 {
		t.Errorf("Plano A cell = %d/%d, want 1/1", cm.Leads[0][0], cm.Sales[0][0])
	}
	if cm.Leads[1][0] != 1 || cm.Sales[1][0] != 0 {
		t.Errorf("sentinel cell = %d/%d, want 1/0", cm.Leads[1][0], cm.Sales[1][0])
	}
}

func TestShares(t *testing.T) {
	m := &mapping.Mapping{}
	created := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	in := ExtraInput{Opportunities: []*domain.Opportunity{
		{DateAdded: tp(created), Source: sp("A"), Status: sp("won"), MonetaryValue: fp(300)},
		{DateAdded: tp(created), Source: sp("B"), Status: sp("won"), MonetaryValue: fp(100)},
	}}

	r := ComputeExtra(in, m, march2024(), Filters{}, ExtraOptions{})
	for _, row := range r.BySource {
		if row.CountShare != 50 {
			t.Errorf("%s countShare = %v, want 50", row.Source, row.CountShare)
		}
	}
	var a SourceRow
	for _, row := range r.BySource {
		if row.Source == "A" {
			a = row
		}
	}
	if a.RevenueShare != 75 {
		t.Errorf("A revenueShare = %v, want 75", a.RevenueShare)
	}
}
