// Package syncer pulls a tenant's CRM data (pipelines, calendars,
// users, opportunities, appointments) into the local mirror and keeps
// the Meta daily spend mirror fresh.
package syncer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/naperu/painel/internal/domain"
	"github.com/naperu/painel/internal/ghl"
	"github.com/naperu/painel/internal/mapping"
	"github.com/naperu/painel/internal/metrics"
)

// Rows are persisted in chunks of this size; one chunk failing does not
// abort the run, its error is accumulated instead.
const upsertChunkSize = 200

// Custom-field backfill fetches rows by id in chunks of this size.
const enrichBatchSize = 10

// ErrCooldown rejects a run started before the tenant+mode cooldown
// elapsed.
type ErrCooldown struct {
	RetryAfter time.Duration
}

func (e *ErrCooldown) Error() string {
	return fmt.Sprintf("sync em cooldown, tente novamente em %ds", int(e.RetryAfter.Seconds()))
}

// ErrVolumeExceeded rejects an unprivileged incremental run that
// fetched more rows than the allowance.
type ErrVolumeExceeded struct {
	Rows  int
	Limit int
}

func (e *ErrVolumeExceeded) Error() string {
	return fmt.Sprintf("volume de dados excede o limite (%d > %d)", e.Rows, e.Limit)
}

// Collections one run may be scoped to.
const (
	ModulePipelines      = "pipelines"
	ModuleCalendars      = "calendars"
	ModuleUsers          = "users"
	ModuleOpportunities  = "opportunities"
	ModuleCalendarEvents = "calendar_events"
)

// AllModules is the default scope when a run does not name any.
var AllModules = []string{ModulePipelines, ModuleCalendars, ModuleUsers, ModuleOpportunities, ModuleCalendarEvents}

// moduleSet expands the requested module list; empty means every
// collection. Unknown names are rejected so a typo cannot silently
// skip data.
func moduleSet(requested []string) (map[string]bool, error) {
	if len(requested) == 0 {
		requested = AllModules
	}
	known := make(map[string]bool, len(AllModules))
	for _, m := range AllModules {
		known[m] = true
	}
	set := make(map[string]bool, len(requested))
	for _, m := range requested {
		m = strings.TrimSpace(m)
		if !known[m] {
			return nil, fmt.Errorf("módulo de sync inválido: %q", m)
		}
		set[m] = true
	}
	return set, nil
}

// CRMClient is the LeadConnector surface the syncer consumes.
type CRMClient interface {
	GetPipelines(ctx context.Context) ([]ghl.Pipeline, error)
	GetPipelineStages(ctx context.Context, pipelineID string) ([]ghl.Stage, error)
	GetCalendars(ctx context.Context) ([]ghl.Calendar, error)
	GetUsers(ctx context.Context) ([]ghl.User, error)
	SearchOpportunities(ctx context.Context, opts ghl.SearchOptions) ([]ghl.Opportunity, error)
	GetOpportunityByID(ctx context.Context, opportunityID string) (*ghl.Opportunity, error)
	GetCalendarEvents(ctx context.Context, calendarID string, start, end time.Time) ([]ghl.CalendarEvent, error)
}

// Store is the persistence surface the syncer writes through.
type Store interface {
	GetActivePredefinitions(ctx context.Context, clientID uuid.UUID) (map[string]string, error)
	LatestOpportunityCreated(ctx context.Context, clientID uuid.UUID) (*time.Time, error)
	LatestEventStart(ctx context.Context, clientID uuid.UUID) (*time.Time, error)

	UpsertPipeline(ctx context.Context, clientID uuid.UUID, ghlPipelineID, name string) (uuid.UUID, error)
	UpsertStage(ctx context.Context, pipelineID uuid.UUID, ghlStageID, name string, position int) error
	UpsertCalendar(ctx context.Context, clientID uuid.UUID, ghlCalendarID string, name *string) error
	DeleteAbsentCalendars(ctx context.Context, clientID uuid.UUID, keepGhlIDs []string) error
	UpsertGhlUser(ctx context.Context, clientID uuid.UUID, ghlUserID string, name, email *string) error
	DeleteAbsentGhlUsers(ctx context.Context, clientID uuid.UUID, keepGhlIDs []string) error
	UpsertOpportunities(ctx context.Context, rows []*domain.Opportunity) error
	UpsertEvents(ctx context.Context, rows []*domain.CalendarEvent) error
}

// ClientFactory builds a CRM client from tenant credentials; swapped
// for a fake in tests.
type ClientFactory func(apiKey, locationID string) CRMClient

// Syncer runs the sync pipeline for one process.
type Syncer struct {
	store     Store
	guard     *Guard
	newClient ClientFactory
	now       func() time.Time
}

func New(store Store) *Syncer {
	return &Syncer{
		store: store,
		guard: NewGuard(),
		newClient: func(apiKey, locationID string) CRMClient {
			return ghl.NewClient(apiKey, locationID)
		},
		now: time.Now,
	}
}

// Guard exposes the rate guard (shared with the ads sync).
func (s *Syncer) Guard() *Guard {
	return s.guard
}

// Options select how one run behaves.
type Options struct {
	Mode domain.SyncMode
	// Modules restricts the run to a subset of the collections
	// (pipelines, calendars, users, opportunities, calendar_events).
	// Empty means all of them.
	Modules []string
	// Privileged callers (admins, cron) skip the volume ceiling and use
	// the long cooldown on incremental runs.
	Privileged bool
	// BypassGuard skips the cooldown entirely (cron scheduler).
	BypassGuard bool
}

// Run syncs one tenant, touching only the collections in opts.Modules.
// Fetch failures abort the run; persistence failures are accumulated
// per chunk into the result's Errors so one broken row cannot hide the
// rest of the data.
func (s *Syncer) Run(ctx context.Context, client *domain.Client, opts Options) (*domain.SyncResult, error) {
	if !opts.Mode.Valid() {
		return nil, fmt.Errorf("modo de sync inválido: %q", opts.Mode)
	}
	do, err := moduleSet(opts.Modules)
	if err != nil {
		return nil, err
	}
	if !client.HasGhlCredentials() {
		return nil, fmt.Errorf("cliente %s sem credenciais GHL", client.ID)
	}

	if !opts.BypassGuard {
		if ok, retry := s.guard.TryAcquire(client.ID, opts.Mode, opts.Privileged); !ok {
			return nil, &ErrCooldown{RetryAfter: retry}
		}
	}
	// Runs that fail before writing anything give the cooldown back.
	release := func() {
		if !opts.BypassGuard {
			s.guard.Release(client.ID, opts.Mode)
		}
	}

	started := s.now()
	log.Printf("[Sync] client=%s mode=%s start", client.ID, opts.Mode)
	metrics.SyncRuns.WithLabelValues(string(opts.Mode)).Inc()

	m, err := mapping.NewResolver(predefSource{s.store}).Resolve(ctx, client.ID)
	if err != nil {
		release()
		return nil, fmt.Errorf("resolver mapeamento de campos: %w", err)
	}

	state := TenantState{}
	if opts.Mode == domain.SyncModeNormal {
		if t, err := s.store.LatestOpportunityCreated(ctx, client.ID); err == nil {
			state.LatestOpportunityCreated = t
		}
		if t, err := s.store.LatestEventStart(ctx, client.ID); err == nil {
			state.LatestEventStart = t
		}
	}
	window := PlanWindow(opts.Mode, started, state)

	crm := s.newClient(*client.GhlAPIKey, *client.GhlLocationID)

	// Top-level fetches in parallel. Stage listing failures degrade to
	// an empty stage list so one broken pipeline cannot block the run.
	var (
		pipelines     []ghl.Pipeline
		stagesByPipe  map[string][]ghl.Stage
		calendars     []ghl.Calendar
		users         []ghl.User
		opportunities []ghl.Opportunity
	)
	g, gctx := errgroup.WithContext(ctx)
	if do[ModulePipelines] {
		g.Go(func() error {
			var err error
			pipelines, err = crm.GetPipelines(gctx)
			if err != nil {
				return fmt.Errorf("pipelines: %w", err)
			}
			stagesByPipe = make(map[string][]ghl.Stage, len(pipelines))
			for _, p := range pipelines {
				if len(p.Stages) > 0 {
					stagesByPipe[p.ID] = p.Stages
					continue
				}
				stages, err := crm.GetPipelineStages(gctx, p.ID)
				if err != nil {
					log.Printf("[Sync] client=%s pipeline=%s stages failed: %v", client.ID, p.ID, err)
					stagesByPipe[p.ID] = nil
					continue
				}
				stagesByPipe[p.ID] = stages
			}
			return nil
		})
	}
	// Calendars feed the events fetch, so either module pulls the list;
	// it is only persisted when calendars were requested.
	if do[ModuleCalendars] || do[ModuleCalendarEvents] {
		g.Go(func() error {
			var err error
			calendars, err = crm.GetCalendars(gctx)
			if err != nil {
				return fmt.Errorf("calendários: %w", err)
			}
			return nil
		})
	}
	if do[ModuleUsers] {
		g.Go(func() error {
			var err error
			users, err = crm.GetUsers(gctx)
			if err != nil {
				return fmt.Errorf("usuários: %w", err)
			}
			return nil
		})
	}
	if do[ModuleOpportunities] {
		g.Go(func() error {
			var err error
			opportunities, err = crm.SearchOpportunities(gctx, searchOptions(window))
			if err != nil {
				return fmt.Errorf("oportunidades: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.SyncErrors.WithLabelValues(string(opts.Mode)).Inc()
		release()
		return nil, err
	}

	// Events per calendar, deduped by id, then the precise window
	// filter (the API only filters by start time).
	var events []ghl.CalendarEvent
	if do[ModuleCalendarEvents] {
		events, err = s.fetchEvents(ctx, crm, calendars, window)
		if err != nil {
			metrics.SyncErrors.WithLabelValues(string(opts.Mode)).Inc()
			release()
			return nil, err
		}
	}

	if !opts.Privileged && opts.Mode == domain.SyncModeIncremental1h {
		total := len(opportunities) + len(events)
		if total > VolumeLimit {
			release()
			return nil, &ErrVolumeExceeded{Rows: total, Limit: VolumeLimit}
		}
	}

	result := &domain.SyncResult{SyncedAt: started}

	// References first: opportunity rows point at pipeline/stage ids.
	if do[ModulePipelines] {
		s.persistPipelines(ctx, client.ID, pipelines, stagesByPipe, result)
	}
	if do[ModuleCalendars] {
		s.persistCalendars(ctx, client.ID, calendars, result)
	}
	if do[ModuleUsers] {
		s.persistUsers(ctx, client.ID, users, result)
	}

	if do[ModuleOpportunities] {
		oppRows := s.buildOpportunityRows(ctx, crm, client.ID, opportunities, m)
		s.persistChunks(len(oppRows), func(lo, hi int) error {
			return s.store.UpsertOpportunities(ctx, oppRows[lo:hi])
		}, "oportunidades", &result.Opportunities, &result.Errors)
	}

	if do[ModuleCalendarEvents] {
		eventRows := buildEventRows(client.ID, events)
		s.persistChunks(len(eventRows), func(lo, hi int) error {
			return s.store.UpsertEvents(ctx, eventRows[lo:hi])
		}, "calendário", &result.CalendarEvents, &result.Errors)
	}

	result.Duration = s.now().Sub(started).Round(time.Millisecond).String()
	metrics.SyncRows.WithLabelValues("opportunities").Add(float64(result.Opportunities))
	metrics.SyncRows.WithLabelValues("calendar_events").Add(float64(result.CalendarEvents))
	if len(result.Errors) > 0 {
		metrics.SyncErrors.WithLabelValues(string(opts.Mode)).Inc()
	}
	log.Printf("[Sync] client=%s mode=%s done in %s: %d opps, %d events, %d errors",
		client.ID, opts.Mode, result.Duration, result.Opportunities, result.CalendarEvents, len(result.Errors))

	return result, nil
}

// searchOptions translates the planned window into client options.
func searchOptions(w Window) ghl.SearchOptions {
	if w.FullOpportunities {
		return ghl.SearchOptions{}
	}
	return ghl.SearchOptions{
		CreatedSince: w.OppCreatedSince,
		CreatedUntil: w.OppCreatedUntil,
		UpdatedSince: w.OppUpdatedSince,
		UpdatedUntil: w.OppUpdatedUntil,
	}
}

func (s *Syncer) fetchEvents(ctx context.Context, crm CRMClient, calendars []ghl.Calendar, w Window) ([]ghl.CalendarEvent, error) {
	byID := make(map[string]ghl.CalendarEvent)
	order := make([]string, 0)
	for _, cal := range calendars {
		list, err := crm.GetCalendarEvents(ctx, cal.ID, w.EventFetchStart, w.EventFetchEnd)
		if err != nil {
			return nil, fmt.Errorf("calendário %s: %w", cal.ID, err)
		}
		for _, ev := range list {
			if ev.ID == "" {
				continue
			}
			if _, ok := byID[ev.ID]; ok {
				continue
			}
			byID[ev.ID] = ev
			order = append(order, ev.ID)
		}
	}

	out := make([]ghl.CalendarEvent, 0, len(order))
	for _, id := range order {
		ev := byID[id]
		if !w.KeepEvent(ev.UpdatedOrCreatedTime()) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Syncer) persistPipelines(ctx context.Context, clientID uuid.UUID, pipelines []ghl.Pipeline, stagesByPipe map[string][]ghl.Stage, result *domain.SyncResult) {
	for _, p := range pipelines {
		if p.ID == "" {
			continue
		}
		localID, err := s.store.UpsertPipeline(ctx, clientID, p.ID, p.Name)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("pipelines: %s: %v", p.ID, err))
			continue
		}
		result.Pipelines++
		for i, st := range stagesByPipe[p.ID] {
			if st.ID == "" {
				continue
			}
			if err := s.store.UpsertStage(ctx, localID, st.ID, st.Name, i); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("pipelines: estágio %s: %v", st.ID, err))
				continue
			}
			result.Stages++
		}
	}
}

func (s *Syncer) persistCalendars(ctx context.Context, clientID uuid.UUID, calendars []ghl.Calendar, result *domain.SyncResult) {
	keep := make([]string, 0, len(calendars))
	for _, c := range calendars {
		if c.ID == "" {
			continue
		}
		if err := s.store.UpsertCalendar(ctx, clientID, c.ID, strPtr(c.Name)); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("calendários: %s: %v", c.ID, err))
			continue
		}
		keep = append(keep, c.ID)
		result.Calendars++
	}
	if err := s.store.DeleteAbsentCalendars(ctx, clientID, keep); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("calendários: remover ausentes: %v", err))
	}
}

func (s *Syncer) persistUsers(ctx context.Context, clientID uuid.UUID, users []ghl.User, result *domain.SyncResult) {
	keep := make([]string, 0, len(users))
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		if err := s.store.UpsertGhlUser(ctx, clientID, u.ID, strPtr(u.Name), strPtr(u.Email)); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("usuários: %s: %v", u.ID, err))
			continue
		}
		keep = append(keep, u.ID)
		result.Users++
	}
	if err := s.store.DeleteAbsentGhlUsers(ctx, clientID, keep); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("usuários: remover ausentes: %v", err))
	}
}

// buildOpportunityRows normalizes the raw payloads into mirror rows.
// Rows missing custom fields are re-fetched by id (in small chunks)
// when a sale date field is configured, because the sale date only
// exists inside the custom fields.
func (s *Syncer) buildOpportunityRows(ctx context.Context, crm CRMClient, clientID uuid.UUID, list []ghl.Opportunity, m mapping.Mapping) []*domain.Opportunity {
	if m.SaleDateFieldID != "" {
		var missing []int
		for i := range list {
			if !list[i].HasCustomFields() {
				missing = append(missing, i)
			}
		}
		for lo := 0; lo < len(missing); lo += enrichBatchSize {
			hi := lo + enrichBatchSize
			if hi > len(missing) {
				hi = len(missing)
			}
			for _, idx := range missing[lo:hi] {
				full, err := crm.GetOpportunityByID(ctx, list[idx].ID)
				if err != nil {
					log.Printf("[Sync] client=%s enrich %s failed: %v", clientID, list[idx].ID, err)
					continue
				}
				if full != nil && full.HasCustomFields() {
					list[idx].CustomFields = full.CustomFields
				}
			}
		}
	}

	rows := make([]*domain.Opportunity, 0, len(list))
	for i := range list {
		o := &list[i]
		if o.ID == "" {
			continue
		}
		cf := ghl.NormalizeCustomFields(o.CustomFields)

		row := &domain.Opportunity{
			ClientID:         clientID,
			GhlOpportunityID: o.ID,
			PipelineID:       strPtr(o.ResolvedPipelineID()),
			StageID:          strPtr(o.ResolvedStageID()),
			Name:             strPtr(o.Name),
			Status:           strPtr(strings.ToLower(strings.TrimSpace(o.Status))),
			MonetaryValue:    o.MonetaryValue,
			ContactID:        strPtr(o.ResolvedContactID()),
			AssignedTo:       strPtr(o.ResolvedAssignedTo()),
			Source:           strPtr(o.Source),
			DateAdded:        o.CreatedTime(),
			DateUpdated:      o.UpdatedTime(),
			UtmSource:        cfPtr(cf, m.UtmSourceFieldID),
			UtmCampaign:      cfPtr(cf, m.UtmCampaignFieldID),
			UtmMedium:        cfPtr(cf, m.UtmMediumFieldID),
			UtmTerm:          cfPtr(cf, m.UtmTermFieldID),
			UtmContent:       cfPtr(cf, m.UtmContentFieldID),
			SaleDateValue:    cfPtr(cf, m.SaleDateFieldID),
		}

		if len(m.ImportColumns) > 0 {
			imported := make(map[string]string, len(m.ImportColumns))
			for _, col := range m.ImportColumns {
				if v, ok := cf[col.FieldID]; ok {
					imported[col.Column] = v
				}
			}
			if len(imported) > 0 {
				row.CustomFields = imported
			}
		}

		rows = append(rows, row)
	}
	return rows
}

func buildEventRows(clientID uuid.UUID, events []ghl.CalendarEvent) []*domain.CalendarEvent {
	rows := make([]*domain.CalendarEvent, 0, len(events))
	for i := range events {
		ev := &events[i]
		if ev.ID == "" {
			continue
		}
		rows = append(rows, &domain.CalendarEvent{
			ClientID:       clientID,
			GhlEventID:     ev.ID,
			GhlCalendarID:  strPtr(ev.CalendarID),
			Title:          strPtr(ev.Title),
			Status:         strPtr(ev.ResolvedStatus()),
			StartTime:      tsPtr(ev.StartTime),
			EndTime:        tsPtr(ev.EndTime),
			ContactID:      strPtr(ev.ContactID),
			AssignedUserID: strPtr(ev.AssignedUserID),
			Notes:          strPtr(ev.Notes),
			Source:         strPtr(ev.Source),
			DateAdded:      ev.CreatedTime(),
			DateUpdated:    tsPtr(ev.DateUpdated),
		})
	}
	return rows
}

// persistChunks writes rows in fixed-size chunks, counting successes
// and accumulating one error string per failed chunk.
func (s *Syncer) persistChunks(total int, write func(lo, hi int) error, subject string, counter *int, errs *[]string) {
	for lo := 0; lo < total; lo += upsertChunkSize {
		hi := lo + upsertChunkSize
		if hi > total {
			hi = total
		}
		if err := write(lo, hi); err != nil {
			*errs = append(*errs, fmt.Sprintf("%s: lote %d-%d: %v", subject, lo, hi, err))
			continue
		}
		*counter += hi - lo
	}
}

// predefSource adapts the Store to the mapping resolver.
type predefSource struct {
	store Store
}

func (p predefSource) GetActivePredefinitions(ctx context.Context, clientID uuid.UUID) (map[string]string, error) {
	return p.store.GetActivePredefinitions(ctx, clientID)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func cfPtr(cf map[string]string, fieldID string) *string {
	if fieldID == "" {
		return nil
	}
	if v, ok := cf[fieldID]; ok && v != "" {
		return &v
	}
	return nil
}

func tsPtr(ts *ghl.Timestamp) *time.Time {
	if ts == nil || ts.IsZero() {
		return nil
	}
	t := ts.Time
	return &t
}
