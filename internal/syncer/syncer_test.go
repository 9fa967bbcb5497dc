package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/naperu/painel/internal/domain"
	"github.com/naperu/painel/internal/ghl"
)

// fakeCRM serves canned CRM payloads and records enrichment lookups.
type fakeCRM struct {
	pipelines     []ghl.Pipeline
	stages        map[string][]ghl.Stage
	calendars     []ghl.Calendar
	users         []ghl.User
	opportunities []ghl.Opportunity
	events        map[string][]ghl.CalendarEvent
	byID          map[string]*ghl.Opportunity

	enriched  []string
	searchErr error
	stagesErr error
}

func (f *fakeCRM) GetPipelines(ctx context.Context) ([]ghl.Pipeline, error) {
	return f.pipelines, nil
}

func (f *fakeCRM) GetPipelineStages(ctx context.Context, pipelineID string) ([]ghl.Stage, error) {
	if f.stagesErr != nil {
		return nil, f.stagesErr
	}
	return f.stages[pipelineID], nil
}

func (f *fakeCRM) GetCalendars(ctx context.Context) ([]ghl.Calendar, error) {
	return f.calendars, nil
}

func (f *fakeCRM) GetUsers(ctx context.Context) ([]ghl.User, error) {
	return f.users, nil
}

func (f *fakeCRM) SearchOpportunities(ctx context.Context, opts ghl.SearchOptions) ([]ghl.Opportunity, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.opportunities, nil
}

func (f *fakeCRM) GetOpportunityByID(ctx context.Context, id string) (*ghl.Opportunity, error) {
	f.enriched = append(f.enriched, id)
	if o, ok := f.byID[id]; ok {
		return o, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeCRM) GetCalendarEvents(ctx context.Context, calendarID string, start, end time.Time) ([]ghl.CalendarEvent, error) {
	return f.events[calendarID], nil
}

// fakeStore records everything the syncer persists.
type fakeStore struct {
	predefs map[string]string

	pipelines       map[string]string
	stages          map[string][]string
	calendars       []string
	calendarsKept   []string
	ghlUsers        []string
	ghlUsersKept    []string
	opportunities   []*domain.Opportunity
	events          []*domain.CalendarEvent
	oppUpsertErr    error
	failFirstChunk  bool
	oppChunkCalls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		predefs:   map[string]string{},
		pipelines: map[string]string{},
		stages:    map[string][]string{},
	}
}

func (f *fakeStore) GetActivePredefinitions(ctx context.Context, clientID uuid.UUID) (map[string]string, error) {
	return f.predefs, nil
}

func (f *fakeStore) LatestOpportunityCreated(ctx context.Context, clientID uuid.UUID) (*time.Time, error) {
	return nil, nil
}

func (f *fakeStore) LatestEventStart(ctx context.Context, clientID uuid.UUID) (*time.Time, error) {
	return nil, nil
}

func (f *fakeStore) UpsertPipeline(ctx context.Context, clientID uuid.UUID, ghlPipelineID, name string) (uuid.UUID, error) {
	f.pipelines[ghlPipelineID] = name
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(ghlPipelineID)), nil
}

func (f *fakeStore) UpsertStage(ctx context.Context, pipelineID uuid.UUID, ghlStageID, name string, position int) error {
	key := pipelineID.String()
	f.stages[key] = append(f.stages[key], ghlStageID)
	return nil
}

func (f *fakeStore) UpsertCalendar(ctx context.Context, clientID uuid.UUID, ghlCalendarID string, name *string) error {
	f.calendars = append(f.calendars, ghlCalendarID)
	return nil
}

func (f *fakeStore) DeleteAbsentCalendars(ctx context.Context, clientID uuid.UUID, keepGhlIDs []string) error {
	f.calendarsKept = keepGhlIDs
	return nil
}

func (f *fakeStore) UpsertGhlUser(ctx context.Context, clientID uuid.UUID, ghlUserID string, name, email *string) error {
	f.ghlUsers = append(f.ghlUsers, ghlUserID)
	return nil
}

func (f *fakeStore) DeleteAbsentGhlUsers(ctx context.Context, clientID uuid.UUID, keepGhlIDs []string) error {
	f.ghlUsersKept = keepGhlIDs
	return nil
}

func (f *fakeStore) UpsertOpportunities(ctx context.Context, rows []*domain.Opportunity) error {
	f.oppChunkCalls++
	if f.oppUpsertErr != nil && (!f.failFirstChunk || f.oppChunkCalls == 1) {
		return f.oppUpsertErr
	}
	f.opportunities = append(f.opportunities, rows...)
	return nil
}

func (f *fakeStore) UpsertEvents(ctx context.Context, rows []*domain.CalendarEvent) error {
	f.events = append(f.events, rows...)
	return nil
}

func testClient() *domain.Client {
	key, loc := "key", "loc"
	return &domain.Client{ID: uuid.New(), Name: "Acme", GhlAPIKey: &key, GhlLocationID: &loc}
}

func newTestSyncer(store Store, crm CRMClient) *Syncer {
	s := New(store)
	s.newClient = func(apiKey, locationID string) CRMClient { return crm }
	return s
}

func rawOpp(id string, extra string) ghl.Opportunity {
	payload := `{"id": "` + id + `"` + extra + `}`
	var o ghl.Opportunity
	if err := json.Unmarshal([]byte(payload), &o); err != nil {
		panic(err)
	}
	return o
}

func TestRunSyncsEverything(t *testing.T) {
	crm := &fakeCRM{
		pipelines: []ghl.Pipeline{{ID: "p1", Name: "Vendas"}},
		stages:    map[string][]ghl.Stage{"p1": {{ID: "s1", Name: "Novo"}, {ID: "s2", Name: "Fechado"}}},
		calendars: []ghl.Calendar{{ID: "c1", Name: "Agenda"}},
		users:     []ghl.User{{ID: "u1", Name: "Ana"}},
		opportunities: []ghl.Opportunity{
			rawOpp("o1", `, "name": "Lead 1", "status": " Won ", "monetaryValue": 1000, "stageId": "s2", "dateAdded": "2026-05-01T10:00:00Z"`),
		},
		events: map[string][]ghl.CalendarEvent{
			"c1": {{ID: "e1", CalendarID: "c1", AppointmentStatus: "showed"}},
		},
	}
	store := newFakeStore()
	s := newTestSyncer(store, crm)

	result, err := s.Run(context.Background(), testClient(), Options{Mode: domain.SyncModeFull, Privileged: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Pipelines != 1 || result.Stages != 2 || result.Calendars != 1 || result.Users != 1 {
		t.Errorf("references = %+v, want 1/2/1/1", result)
	}
	if result.Opportunities != 1 || result.CalendarEvents != 1 {
		t.Errorf("rows = %d opps, %d events, want 1/1", result.Opportunities, result.CalendarEvents)
	}
	if len(result.Errors) != 0 {
		t.Errorf("errors = %v, want none", result.Errors)
	}

	if len(store.opportunities) != 1 {
		t.Fatalf("persisted opps = %d, want 1", len(store.opportunities))
	}
	o := store.opportunities[0]
	if o.Status == nil || *o.Status != "won" {
		t.Errorf("status = %v, want lowercased won", o.Status)
	}
	if o.StageID == nil || *o.StageID != "s2" {
		t.Errorf("stage = %v, want s2", o.StageID)
	}

	// Reference reconciliation keeps exactly the fetched ids.
	if len(store.calendarsKept) != 1 || store.calendarsKept[0] != "c1" {
		t.Errorf("calendars kept = %v, want [c1]", store.calendarsKept)
	}
	if len(store.ghlUsersKept) != 1 || store.ghlUsersKept[0] != "u1" {
		t.Errorf("users kept = %v, want [u1]", store.ghlUsersKept)
	}
}

func TestRunCooldown(t *testing.T) {
	crm := &fakeCRM{}
	store := newFakeStore()
	s := newTestSyncer(store, crm)
	client := testClient()

	if _, err := s.Run(context.Background(), client, Options{Mode: domain.SyncModeFull, Privileged: true}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	_, err := s.Run(context.Background(), client, Options{Mode: domain.SyncModeFull, Privileged: true})
	var cooldown *ErrCooldown
	if !errors.As(err, &cooldown) {
		t.Fatalf("second run error = %v, want ErrCooldown", err)
	}
	if cooldown.RetryAfter <= 0 || cooldown.RetryAfter > 5*time.Minute {
		t.Errorf("retry after = %v, want within 5m", cooldown.RetryAfter)
	}

	// Cron bypasses the guard entirely.
	if _, err := s.Run(context.Background(), client, Options{Mode: domain.SyncModeFull, BypassGuard: true}); err != nil {
		t.Errorf("bypass run: %v", err)
	}
}

func TestRunVolumeExceeded(t *testing.T) {
	var opps []ghl.Opportunity
	for i := 0; i <= VolumeLimit; i++ {
		opps = append(opps, rawOpp(fmt.Sprintf("o%d", i), ""))
	}
	crm := &fakeCRM{opportunities: opps}
	store := newFakeStore()
	s := newTestSyncer(store, crm)
	client := testClient()

	_, err := s.Run(context.Background(), client, Options{Mode: domain.SyncModeIncremental1h})
	var volume *ErrVolumeExceeded
	if !errors.As(err, &volume) {
		t.Fatalf("error = %v, want ErrVolumeExceeded", err)
	}
	if len(store.opportunities) != 0 {
		t.Errorf("persisted %d rows, want none on volume rejection", len(store.opportunities))
	}

	// The rejection wrote nothing, so the cooldown is released: a
	// privileged retry on the same tenant runs at once without the
	// ceiling.
	if _, err := s.Run(context.Background(), client, Options{Mode: domain.SyncModeIncremental1h, Privileged: true}); err != nil {
		t.Errorf("privileged run: %v", err)
	}
}

func TestRunUtmAndImportMapping(t *testing.T) {
	crm := &fakeCRM{
		opportunities: []ghl.Opportunity{
			rawOpp("o1", `, "customFields": [
				{"id": "fld_src", "fieldValueString": " Facebook "},
				{"id": "fld_camp", "value": "verao-2026"},
				{"id": "fld_extra", "value": "42"}
			]`),
		},
	}
	store := newFakeStore()
	store.predefs = map[string]string{
		domain.KeyUtmSourceFieldID:   "fld_src",
		domain.KeyUtmCampaignFieldID: "fld_camp",
		domain.KeyImportCustomFields: `[{"id":"fld_extra","name":"Extra"}]`,
	}
	s := newTestSyncer(store, crm)

	if _, err := s.Run(context.Background(), testClient(), Options{Mode: domain.SyncModeFull, Privileged: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	o := store.opportunities[0]
	if o.UtmSource == nil || *o.UtmSource != "Facebook" {
		t.Errorf("utm_source = %v, want trimmed Facebook", o.UtmSource)
	}
	if o.UtmCampaign == nil || *o.UtmCampaign != "verao-2026" {
		t.Errorf("utm_campaign = %v, want verao-2026", o.UtmCampaign)
	}
	if o.CustomFields["cf_fld_extra"] != "42" {
		t.Errorf("custom_fields = %v, want cf_fld_extra=42", o.CustomFields)
	}
}

func TestRunEnrichmentOnlyWhenConfiguredAndMissing(t *testing.T) {
	withCF := rawOpp("has-cf", `, "customFields": [{"id": "fld_sale", "value": "2026-05-01"}]`)
	withoutCF := rawOpp("no-cf", "")
	enrichedPayload := rawOpp("no-cf", `, "customFields": [{"id": "fld_sale", "value": "2026-05-02"}]`)

	crm := &fakeCRM{
		opportunities: []ghl.Opportunity{withCF, withoutCF},
		byID:          map[string]*ghl.Opportunity{"no-cf": &enrichedPayload},
	}
	store := newFakeStore()
	store.predefs = map[string]string{domain.KeySaleDateFieldID: "fld_sale"}
	s := newTestSyncer(store, crm)

	if _, err := s.Run(context.Background(), testClient(), Options{Mode: domain.SyncModeFull, Privileged: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(crm.enriched) != 1 || crm.enriched[0] != "no-cf" {
		t.Errorf("enriched = %v, want only the row without custom fields", crm.enriched)
	}
	for _, o := range store.opportunities {
		if o.GhlOpportunityID == "no-cf" {
			if o.SaleDateValue == nil || *o.SaleDateValue != "2026-05-02" {
				t.Errorf("sale_date_value = %v, want backfilled 2026-05-02", o.SaleDateValue)
			}
		}
	}

	// No sale date field configured: nothing is enriched.
	crm2 := &fakeCRM{opportunities: []ghl.Opportunity{withoutCF}}
	s2 := newTestSyncer(newFakeStore(), crm2)
	if _, err := s2.Run(context.Background(), testClient(), Options{Mode: domain.SyncModeFull, Privileged: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(crm2.enriched) != 0 {
		t.Errorf("enriched = %v, want none without sale date field", crm2.enriched)
	}
}

func TestRunChunkErrorsAccumulate(t *testing.T) {
	var opps []ghl.Opportunity
	for i := 0; i < upsertChunkSize+10; i++ {
		opps = append(opps, rawOpp(fmt.Sprintf("o%d", i), ""))
	}
	crm := &fakeCRM{opportunities: opps}
	store := newFakeStore()
	store.oppUpsertErr = errors.New("disk full")
	store.failFirstChunk = true
	s := newTestSyncer(store, crm)

	result, err := s.Run(context.Background(), testClient(), Options{Mode: domain.SyncModeFull, Privileged: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "oportunidades") {
		t.Errorf("errors = %v, want one oportunidades chunk error", result.Errors)
	}
	if result.Opportunities != 10 {
		t.Errorf("opportunities = %d, want only the surviving chunk (10)", result.Opportunities)
	}
}

func TestRunFetchErrorAborts(t *testing.T) {
	crm := &fakeCRM{searchErr: &ghl.APIError{StatusCode: 401, Message: "Invalid JWT"}}
	store := newFakeStore()
	s := newTestSyncer(store, crm)

	_, err := s.Run(context.Background(), testClient(), Options{Mode: domain.SyncModeFull, Privileged: true})
	if err == nil {
		t.Fatalf("Run = nil error, want fetch failure")
	}
	var apiErr *ghl.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 401 {
		t.Errorf("error = %v, want wrapped 401 APIError", err)
	}
	if len(store.opportunities) != 0 || len(store.calendars) != 0 {
		t.Errorf("fetch failure must not persist partial data")
	}
}

func TestRunStageFailureDegradesToEmpty(t *testing.T) {
	crm := &fakeCRM{
		pipelines: []ghl.Pipeline{{ID: "p1", Name: "Vendas"}},
		stagesErr: errors.New("boom"),
	}
	store := newFakeStore()
	s := newTestSyncer(store, crm)

	result, err := s.Run(context.Background(), testClient(), Options{Mode: domain.SyncModeFull, Privileged: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Pipelines != 1 || result.Stages != 0 {
		t.Errorf("pipelines/stages = %d/%d, want 1/0 on stage fetch failure", result.Pipelines, result.Stages)
	}
}

func TestRunEventWindowFilter(t *testing.T) {
	now := time.Now()
	recent := ghl.Timestamp{Time: now.Add(-10 * time.Minute)}
	stale := ghl.Timestamp{Time: now.Add(-48 * time.Hour)}
	crm := &fakeCRM{
		calendars: []ghl.Calendar{{ID: "c1"}},
		events: map[string][]ghl.CalendarEvent{
			"c1": {
				{ID: "fresh", DateUpdated: &recent},
				{ID: "stale", DateUpdated: &stale},
				{ID: "undated"},
			},
		},
	}
	store := newFakeStore()
	s := newTestSyncer(store, crm)

	result, err := s.Run(context.Background(), testClient(), Options{Mode: domain.SyncModeIncremental1h, Privileged: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.CalendarEvents != 1 {
		t.Errorf("events = %d, want only the fresh one", result.CalendarEvents)
	}
	if len(store.events) != 1 || store.events[0].GhlEventID != "fresh" {
		t.Errorf("persisted events = %v, want [fresh]", store.events)
	}
}

func TestRunInvalidMode(t *testing.T) {
	s := newTestSyncer(newFakeStore(), &fakeCRM{})
	if _, err := s.Run(context.Background(), testClient(), Options{Mode: "weekly"}); err == nil {
		t.Errorf("invalid mode accepted")
	}
}

func TestRunModuleScope(t *testing.T) {
	crm := &fakeCRM{
		pipelines: []ghl.Pipeline{{ID: "p1", Name: "Vendas"}},
		stages:    map[string][]ghl.Stage{"p1": {{ID: "s1", Name: "Novo"}}},
		calendars: []ghl.Calendar{{ID: "c1", Name: "Agenda"}},
		users:     []ghl.User{{ID: "u1", Name: "Ana"}},
		opportunities: []ghl.Opportunity{
			rawOpp("o1", `, "dateAdded": "2026-05-01T10:00:00Z"`),
		},
		events: map[string][]ghl.CalendarEvent{
			"c1": {{ID: "e1", CalendarID: "c1"}},
		},
	}
	store := newFakeStore()
	s := newTestSyncer(store, crm)

	result, err := s.Run(context.Background(), testClient(), Options{
		Mode:       domain.SyncModeFull,
		Modules:    []string{ModulePipelines},
		Privileged: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Pipelines != 1 || result.Stages != 1 {
		t.Errorf("pipelines/stages = %d/%d, want 1/1", result.Pipelines, result.Stages)
	}
	if result.Calendars != 0 || result.Users != 0 || result.Opportunities != 0 || result.CalendarEvents != 0 {
		t.Errorf("result = %+v, want only pipelines touched", result)
	}
	if len(store.calendars) != 0 || len(store.ghlUsers) != 0 || len(store.opportunities) != 0 || len(store.events) != 0 {
		t.Errorf("persisted collections outside the requested scope")
	}
	// Reconciliation must not run for collections the caller left out.
	if store.calendarsKept != nil || store.ghlUsersKept != nil {
		t.Errorf("delete-absent ran for unrequested collections: calendars=%v users=%v",
			store.calendarsKept, store.ghlUsersKept)
	}
}

func TestRunModuleScopeEventsOnly(t *testing.T) {
	// The calendar list is read as input for the events fetch, but the
	// calendars themselves are neither upserted nor reconciled.
	crm := &fakeCRM{
		calendars: []ghl.Calendar{{ID: "c1", Name: "Agenda"}},
		events: map[string][]ghl.CalendarEvent{
			"c1": {{ID: "e1", CalendarID: "c1"}},
		},
	}
	store := newFakeStore()
	s := newTestSyncer(store, crm)

	result, err := s.Run(context.Background(), testClient(), Options{
		Mode:       domain.SyncModeFull,
		Modules:    []string{ModuleCalendarEvents},
		Privileged: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.CalendarEvents != 1 || len(store.events) != 1 {
		t.Errorf("events = %d persisted %d, want 1/1", result.CalendarEvents, len(store.events))
	}
	if result.Calendars != 0 || len(store.calendars) != 0 || store.calendarsKept != nil {
		t.Errorf("calendars persisted or reconciled on an events-only run")
	}
}

func TestRunInvalidModule(t *testing.T) {
	s := newTestSyncer(newFakeStore(), &fakeCRM{})
	_, err := s.Run(context.Background(), testClient(), Options{
		Mode:    domain.SyncModeNormal,
		Modules: []string{"leads"},
	})
	if err == nil || !strings.Contains(err.Error(), "módulo") {
		t.Errorf("error = %v, want unknown module rejection", err)
	}
}

func TestRunFailureReleasesCooldown(t *testing.T) {
	crm := &fakeCRM{searchErr: &ghl.APIError{StatusCode: 500, Message: "upstream down"}}
	store := newFakeStore()
	s := newTestSyncer(store, crm)
	client := testClient()

	if _, err := s.Run(context.Background(), client, Options{Mode: domain.SyncModeFull, Privileged: true}); err == nil {
		t.Fatalf("Run = nil error, want fetch failure")
	}

	// Nothing was written, so the retry must not hit the cooldown.
	crm.searchErr = nil
	if _, err := s.Run(context.Background(), client, Options{Mode: domain.SyncModeFull, Privileged: true}); err != nil {
		t.Errorf("retry after failed run: %v", err)
	}
}
