package report

import (
	"sort"
	"strings"
	"time"

	"github.com/naperu/painel/internal/domain"
	"github.com/naperu/painel/internal/mapping"
)

// SeriesPoint is one bucket of the line chart: day buckets, or month
// buckets when the period spans more than 30 days.
type SeriesPoint struct {
	Date         string  `json:"date"`
	Leads        int     `json:"leads"`
	Appointments int     `json:"appointments"`
	Sales        int     `json:"sales"`
	Investment   float64 `json:"investment"`
}

// MonthRow is one row of the monthly summary table.
type MonthRow struct {
	Month         string  `json:"month"`
	Sales         int     `json:"sales"`
	Revenue       float64 `json:"revenue"`
	Investment    float64 `json:"investment"`
	CallsRealized int     `json:"callsRealized"`
	Appointments  int     `json:"appointments"`
	Leads         int     `json:"leads"`
	Cpl           float64 `json:"cpl"`
	Cpa           float64 `json:"cpa"`
}

// ResponsibleRow aggregates one owner's performance.
type ResponsibleRow struct {
	Name           string  `json:"name"`
	Sales          int     `json:"sales"`
	Revenue        float64 `json:"revenue"`
	Opportunities  int     `json:"opportunities"`
	ConversionRate float64 `json:"conversionRate"`
	CountShare     float64 `json:"countShare"`
	RevenueShare   float64 `json:"revenueShare"`
}

// UtmRow aggregates one UTM value. Events are attributed through the
// contact's first in-period opportunity.
type UtmRow struct {
	Name          string  `json:"name"`
	Leads         int     `json:"leads"`
	Sales         int     `json:"sales"`
	Revenue       float64 `json:"revenue"`
	Investment    float64 `json:"investment"`
	Appointments  int     `json:"appointments"`
	CallsRealized int     `json:"callsRealized"`
	CountShare    float64 `json:"countShare"`
	RevenueShare  float64 `json:"revenueShare"`
}

// SourceRow aggregates one lead source.
type SourceRow struct {
	Source        string  `json:"source"`
	Opportunities int     `json:"opportunities"`
	Sales         int     `json:"sales"`
	Revenue       float64 `json:"revenue"`
	Conversion    float64 `json:"conversion"`
	CountShare    float64 `json:"countShare"`
	RevenueShare  float64 `json:"revenueShare"`
}

// RangeRow is one monetary-value bucket of won deals.
type RangeRow struct {
	Range   string  `json:"range"`
	Count   int     `json:"count"`
	Revenue float64 `json:"revenue"`
}

// DimensionOption is a selectable cross-matrix dimension.
type DimensionOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// CrossMatrix is the generic two-dimension lead/sale matrix.
type CrossMatrix struct {
	RowDim    string   `json:"rowDim"`
	ColDim    string   `json:"colDim"`
	RowLabels []string `json:"rowLabels"`
	ColLabels []string `json:"colLabels"`
	Leads     [][]int  `json:"leads"`
	Sales     [][]int  `json:"sales"`
}

// CrossSourceResponsible is the fixed source × owner matrix.
type CrossSourceResponsible struct {
	Sources      []string `json:"sources"`
	Responsibles []string `json:"responsibles"`
	Leads        [][]int  `json:"leads"`
	Sales        [][]int  `json:"sales"`
}

// ExtraResult is the extra endpoint payload.
type ExtraResult struct {
	Series                 []SeriesPoint          `json:"series"`
	Monthly                []MonthRow             `json:"monthly"`
	ByResponsible          []ResponsibleRow       `json:"byResponsible"`
	UtmCampaign            []UtmRow               `json:"utmCampaign"`
	UtmMedium              []UtmRow               `json:"utmMedium"`
	UtmContent             []UtmRow               `json:"utmContent"`
	BySource               []SourceRow            `json:"bySource"`
	RevenueByRange         []RangeRow             `json:"revenueByRange"`
	CrossSourceResponsible CrossSourceResponsible `json:"crossSourceResponsible"`
	AvailableDimensions    []DimensionOption      `json:"availableDimensions"`
	CrossMatrix            CrossMatrix            `json:"crossMatrix"`
}

// ExtraOptions select the cross-matrix dimensions and the optional
// fixed calendar year of the monthly summary.
type ExtraOptions struct {
	RowDim string
	ColDim string
	// Year switches the monthly summary to Jan 1 .. Dec 31 of that year
	// regardless of the active period.
	Year *int
	// YearSpend holds the whole year's spend rows when Year is set.
	YearSpend []*domain.AdsDailyInsight
}

// ExtraInput carries the fetched rows of one extra computation.
type ExtraInput struct {
	Opportunities []*domain.Opportunity
	Events        []*domain.CalendarEvent
	Spend         []*domain.AdsDailyInsight
	// UserNames resolves assigned_to ids to display names.
	UserNames map[string]string
}

func (in ExtraInput) responsible(o *domain.Opportunity) string {
	if o.AssignedTo == nil || *o.AssignedTo == "" {
		return unassignedLabel
	}
	if name, ok := in.UserNames[*o.AssignedTo]; ok && strings.TrimSpace(name) != "" {
		return name
	}
	return *o.AssignedTo
}

var revenueRanges = []struct {
	label string
	min   float64
	max   float64
}{
	{"0 - 1.000", 0, 1000},
	{"1.000 - 5.000", 1000, 5000},
	{"5.000 - 10.000", 5000, 10000},
	{"10.000 - 50.000", 10000, 50000},
	{"50.000+", 50000, -1},
}

// dimValue resolves a dimension id against one opportunity: the fixed
// columns, the owner name, or an imported cf_ column.
func (in ExtraInput) dimValue(o *domain.Opportunity, dimID string) string {
	var raw string
	switch dimID {
	case "source":
		if o.Source != nil {
			raw = *o.Source
		}
	case "responsible":
		raw = in.responsible(o)
	case "utm_campaign":
		if o.UtmCampaign != nil {
			raw = *o.UtmCampaign
		}
	case "utm_medium":
		if o.UtmMedium != nil {
			raw = *o.UtmMedium
		}
	case "utm_content":
		if o.UtmContent != nil {
			raw = *o.UtmContent
		}
	default:
		if strings.HasPrefix(dimID, "cf_") {
			raw = o.CustomFields[dimID]
		}
	}
	if raw = strings.TrimSpace(raw); raw == "" {
		return emptyLabel
	}
	return raw
}

// ComputeExtra builds the secondary report tables over the same rows
// the indicators use.
func ComputeExtra(in ExtraInput, m *mapping.Mapping, period Period, filters Filters, opts ExtraOptions) *ExtraResult {
	if opts.RowDim == "" {
		opts.RowDim = "source"
	}
	if opts.ColDim == "" {
		opts.ColDim = "responsible"
	}

	opps := make([]*domain.Opportunity, 0, len(in.Opportunities))
	for _, o := range in.Opportunities {
		if filters.Match(o) {
			opps = append(opps, o)
		}
	}

	result := &ExtraResult{
		Series:         computeSeries(in, opps, m, period),
		Monthly:        computeMonthly(in, opps, m, period, opts),
		ByResponsible:  computeByResponsible(in, opps, m, period),
		BySource:       computeBySource(opps, m, period),
		RevenueByRange: computeRevenueByRange(opps, m, period),
	}

	contactUtm := firstOpportunityUtm(opps, m, period)
	result.UtmCampaign = computeUtm(in, opps, m, period, contactUtm, func(u utmValues) string { return u.campaign })
	result.UtmMedium = computeUtm(in, opps, m, period, contactUtm, func(u utmValues) string { return u.medium })
	result.UtmContent = computeUtm(in, opps, m, period, contactUtm, func(u utmValues) string { return u.content })

	result.AvailableDimensions = availableDimensions(m)
	result.CrossSourceResponsible, result.CrossMatrix = computeCross(in, opps, m, period, opts)

	return result
}

func dayKey(t time.Time, byMonth bool) string {
	if byMonth {
		return t.UTC().Format("2006-01")
	}
	return t.UTC().Format("2006-01-02")
}

func computeSeries(in ExtraInput, opps []*domain.Opportunity, m *mapping.Mapping, period Period) []SeriesPoint {
	byMonth := period.Days() > 30
	buckets := map[string]*SeriesPoint{}
	bucket := func(k string) *SeriesPoint {
		if b, ok := buckets[k]; ok {
			return b
		}
		b := &SeriesPoint{Date: k}
		buckets[k] = b
		return b
	}

	for _, o := range opps {
		t := effectiveDate(o, m)
		if !period.Contains(t) {
			continue
		}
		b := bucket(dayKey(*t, byMonth))
		b.Leads++
		if isWon(o) && hasSaleDate(o, m) {
			b.Sales++
		}
	}
	for _, e := range in.Events {
		if !period.Contains(e.StartTime) {
			continue
		}
		bucket(dayKey(*e.StartTime, byMonth)).Appointments++
	}
	for _, r := range in.Spend {
		k := r.Date
		if byMonth && len(k) >= 7 {
			k = k[:7]
		}
		bucket(k).Investment += r.Spend
	}

	out := make([]SeriesPoint, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func computeMonthly(in ExtraInput, opps []*domain.Opportunity, m *mapping.Mapping, period Period, opts ExtraOptions) []MonthRow {
	window := period
	spend := in.Spend
	if opts.Year != nil {
		y := *opts.Year
		window = Period{
			Start: time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(y, 12, 31, 23, 59, 59, int(999*time.Millisecond), time.UTC),
		}
		spend = opts.YearSpend
	}

	buckets := map[string]*MonthRow{}
	bucket := func(k string) *MonthRow {
		if b, ok := buckets[k]; ok {
			return b
		}
		b := &MonthRow{Month: k}
		buckets[k] = b
		return b
	}

	for _, o := range opps {
		t := effectiveDate(o, m)
		if !window.Contains(t) {
			continue
		}
		b := bucket(t.UTC().Format("2006-01"))
		b.Leads++
		if isWon(o) && hasSaleDate(o, m) {
			b.Sales++
			b.Revenue += monetary(o)
		}
	}
	for _, e := range in.Events {
		if !window.Contains(e.StartTime) {
			continue
		}
		b := bucket(e.StartTime.UTC().Format("2006-01"))
		b.Appointments++
		if eventShowed(e) {
			b.CallsRealized++
		}
	}
	for _, r := range spend {
		if len(r.Date) >= 7 {
			bucket(r.Date[:7]).Investment += r.Spend
		}
	}

	out := make([]MonthRow, 0, len(buckets))
	for _, b := range buckets {
		if b.Leads > 0 {
			b.Cpl = b.Investment / float64(b.Leads)
		}
		if b.Sales > 0 {
			b.Cpa = b.Investment / float64(b.Sales)
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

func computeByResponsible(in ExtraInput, opps []*domain.Opportunity, m *mapping.Mapping, period Period) []ResponsibleRow {
	buckets := map[string]*ResponsibleRow{}
	totalCount := 0
	totalRevenue := 0.0
	for _, o := range opps {
		if !period.Contains(effectiveDate(o, m)) {
			continue
		}
		name := in.responsible(o)
		b, ok := buckets[name]
		if !ok {
			b = &ResponsibleRow{Name: name}
			buckets[name] = b
		}
		b.Opportunities++
		totalCount++
		if isWon(o) && hasSaleDate(o, m) {
			b.Sales++
			b.Revenue += monetary(o)
			totalRevenue += monetary(o)
		}
	}

	out := make([]ResponsibleRow, 0, len(buckets))
	for _, b := range buckets {
		if b.Opportunities > 0 {
			b.ConversionRate = float64(b.Sales) / float64(b.Opportunities) * 100
		}
		b.CountShare = share(float64(b.Opportunities), float64(totalCount))
		b.RevenueShare = share(b.Revenue, totalRevenue)
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sales != out[j].Sales {
			return out[i].Sales > out[j].Sales
		}
		return out[i].Name < out[j].Name
	})
	return out
}

type utmValues struct {
	campaign string
	medium   string
	content  string
}

// firstOpportunityUtm maps each contact to the UTM values of its first
// in-period opportunity, the proxy used to attribute events to UTMs.
func firstOpportunityUtm(opps []*domain.Opportunity, m *mapping.Mapping, period Period) map[string]utmValues {
	type dated struct {
		o *domain.Opportunity
		t time.Time
	}
	var inPeriod []dated
	for _, o := range opps {
		t := effectiveDate(o, m)
		if period.Contains(t) {
			inPeriod = append(inPeriod, dated{o: o, t: *t})
		}
	}
	sort.SliceStable(inPeriod, func(i, j int) bool { return inPeriod[i].t.Before(inPeriod[j].t) })

	out := map[string]utmValues{}
	label := func(v *string) string {
		if v != nil {
			if s := strings.TrimSpace(*v); s != "" {
				return s
			}
		}
		return emptyLabel
	}
	for _, d := range inPeriod {
		o := d.o
		if o.ContactID == nil || *o.ContactID == "" {
			continue
		}
		if _, ok := out[*o.ContactID]; ok {
			continue
		}
		out[*o.ContactID] = utmValues{
			campaign: label(o.UtmCampaign),
			medium:   label(o.UtmMedium),
			content:  label(o.UtmContent),
		}
	}
	return out
}

func computeUtm(in ExtraInput, opps []*domain.Opportunity, m *mapping.Mapping, period Period, contactUtm map[string]utmValues, pick func(utmValues) string) []UtmRow {
	buckets := map[string]*UtmRow{}
	bucket := func(k string) *UtmRow {
		if k == "" {
			k = emptyLabel
		}
		if b, ok := buckets[k]; ok {
			return b
		}
		b := &UtmRow{Name: k}
		buckets[k] = b
		return b
	}

	totalCount := 0
	totalRevenue := 0.0
	oppKey := func(o *domain.Opportunity) string {
		u := utmValues{}
		if o.UtmCampaign != nil {
			u.campaign = strings.TrimSpace(*o.UtmCampaign)
		}
		if o.UtmMedium != nil {
			u.medium = strings.TrimSpace(*o.UtmMedium)
		}
		if o.UtmContent != nil {
			u.content = strings.TrimSpace(*o.UtmContent)
		}
		return pick(u)
	}
	for _, o := range opps {
		if !period.Contains(effectiveDate(o, m)) {
			continue
		}
		b := bucket(oppKey(o))
		b.Leads++
		totalCount++
		if isWon(o) && hasSaleDate(o, m) {
			b.Sales++
			b.Revenue += monetary(o)
			totalRevenue += monetary(o)
		}
	}
	for _, e := range in.Events {
		if !period.Contains(e.StartTime) {
			continue
		}
		if e.ContactID == nil {
			continue
		}
		u, ok := contactUtm[*e.ContactID]
		if !ok {
			continue
		}
		b := bucket(pick(u))
		b.Appointments++
		if eventShowed(e) {
			b.CallsRealized++
		}
	}

	out := make([]UtmRow, 0, len(buckets))
	for _, b := range buckets {
		b.CountShare = share(float64(b.Leads), float64(totalCount))
		b.RevenueShare = share(b.Revenue, totalRevenue)
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Leads != out[j].Leads {
			return out[i].Leads > out[j].Leads
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func computeBySource(opps []*domain.Opportunity, m *mapping.Mapping, period Period) []SourceRow {
	buckets := map[string]*SourceRow{}
	totalCount := 0
	totalRevenue := 0.0
	for _, o := range opps {
		if !period.Contains(effectiveDate(o, m)) {
			continue
		}
		src := sourceLabel(o)
		b, ok := buckets[src]
		if !ok {
			b = &SourceRow{Source: src}
			buckets[src] = b
		}
		b.Opportunities++
		totalCount++
		if isWon(o) && hasSaleDate(o, m) {
			b.Sales++
			b.Revenue += monetary(o)
			totalRevenue += monetary(o)
		}
	}

	out := make([]SourceRow, 0, len(buckets))
	for _, b := range buckets {
		if b.Opportunities > 0 {
			b.Conversion = float64(b.Sales) / float64(b.Opportunities) * 100
		}
		b.CountShare = share(float64(b.Opportunities), float64(totalCount))
		b.RevenueShare = share(b.Revenue, totalRevenue)
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Opportunities != out[j].Opportunities {
			return out[i].Opportunities > out[j].Opportunities
		}
		return out[i].Source < out[j].Source
	})
	return out
}

func computeRevenueByRange(opps []*domain.Opportunity, m *mapping.Mapping, period Period) []RangeRow {
	counts := make([]RangeRow, len(revenueRanges))
	for i, r := range revenueRanges {
		counts[i] = RangeRow{Range: r.label}
	}
	for _, o := range opps {
		if !period.Contains(effectiveDate(o, m)) || !isWon(o) || !hasSaleDate(o, m) {
			continue
		}
		val := monetary(o)
		idx := len(revenueRanges) - 1
		for i, r := range revenueRanges {
			if val >= r.min && (r.max < 0 || val < r.max) {
				idx = i
				break
			}
		}
		counts[idx].Count++
		counts[idx].Revenue += val
	}

	out := make([]RangeRow, 0, len(counts))
	for _, r := range counts {
		if r.Count > 0 || r.Revenue > 0 {
			out = append(out, r)
		}
	}
	return out
}

func availableDimensions(m *mapping.Mapping) []DimensionOption {
	dims := []DimensionOption{
		{ID: "source", Label: "Origem"},
		{ID: "responsible", Label: "Responsável"},
		{ID: "utm_campaign", Label: "UTM Campaign"},
		{ID: "utm_medium", Label: "UTM Medium"},
		{ID: "utm_content", Label: "UTM Content"},
	}
	for _, c := range m.ImportColumns {
		label := strings.TrimSpace(c.Name)
		if label == "" {
			label = c.FieldID
		}
		dims = append(dims, DimensionOption{ID: c.Column, Label: label})
	}
	return dims
}

func computeCross(in ExtraInput, opps []*domain.Opportunity, m *mapping.Mapping, period Period, opts ExtraOptions) (CrossSourceResponsible, CrossMatrix) {
	type cell struct{ leads, sales int }
	fixed := map[string]map[string]*cell{}
	generic := map[string]map[string]*cell{}
	at := func(grid map[string]map[string]*cell, row, col string) *cell {
		r, ok := grid[row]
		if !ok {
			r = map[string]*cell{}
			grid[row] = r
		}
		c, ok := r[col]
		if !ok {
			c = &cell{}
			r[col] = c
		}
		return c
	}

	for _, o := range opps {
		if !period.Contains(effectiveDate(o, m)) {
			continue
		}
		won := isWon(o) && hasSaleDate(o, m)

		f := at(fixed, sourceLabel(o), in.responsible(o))
		f.leads++
		if won {
			f.sales++
		}

		g := at(generic, in.dimValue(o, opts.RowDim), in.dimValue(o, opts.ColDim))
		g.leads++
		if won {
			g.sales++
		}
	}

	labels := func(grid map[string]map[string]*cell) ([]string, []string) {
		rowSet := make([]string, 0, len(grid))
		colSet := map[string]struct{}{}
		for row, cols := range grid {
			rowSet = append(rowSet, row)
			for col := range cols {
				colSet[col] = struct{}{}
			}
		}
		cols := make([]string, 0, len(colSet))
		for col := range colSet {
			cols = append(cols, col)
		}
		sort.Strings(rowSet)
		sort.Strings(cols)
		return rowSet, cols
	}
	matrices := func(grid map[string]map[string]*cell, rows, cols []string) ([][]int, [][]int) {
		leads := make([][]int, len(rows))
		sales := make([][]int, len(rows))
		for i, row := range rows {
			leads[i] = make([]int, len(cols))
			sales[i] = make([]int, len(cols))
			for j, col := range cols {
				if c, ok := grid[row][col]; ok {
					leads[i][j] = c.leads
					sales[i][j] = c.sales
				}
			}
		}
		return leads, sales
	}

	fixedRows, fixedCols := labels(fixed)
	fixedLeads, fixedSales := matrices(fixed, fixedRows, fixedCols)
	genRows, genCols := labels(generic)
	genLeads, genSales := matrices(generic, genRows, genCols)

	return CrossSourceResponsible{
			Sources:      fixedRows,
			Responsibles: fixedCols,
			Leads:        fixedLeads,
			Sales:        fixedSales,
		}, CrossMatrix{
			RowDim:    opts.RowDim,
			ColDim:    opts.ColDim,
			RowLabels: genRows,
			ColLabels: genCols,
			Leads:     genLeads,
			Sales:     genSales,
		}
}

// share is a percentage of total, 0 when the total is 0.
func share(part, total float64) float64 {
	if total == 0 {
		return 0
	}
	return part / total * 100
}
