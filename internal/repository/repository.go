package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/naperu/painel/internal/domain"
)

// Page size of the full-table scans the report read path uses.
const scanPageSize = 1000

type Repositories struct {
	db            *pgxpool.Pool
	User          *UserRepository
	Client        *ClientRepository
	Pipeline      *PipelineRepository
	Calendar      *CalendarRepository
	GhlUser       *GhlUserRepository
	Opportunity   *OpportunityRepository
	Event         *EventRepository
	Predefinition *PredefinitionRepository
	AdsInsight    *AdsInsightRepository
}

func NewRepositories(db *pgxpool.Pool) *Repositories {
	return &Repositories{
		db:            db,
		User:          &UserRepository{db: db},
		Client:        &ClientRepository{db: db},
		Pipeline:      &PipelineRepository{db: db},
		Calendar:      &CalendarRepository{db: db},
		GhlUser:       &GhlUserRepository{db: db},
		Opportunity:   &OpportunityRepository{db: db},
		Event:         &EventRepository{db: db},
		Predefinition: &PredefinitionRepository{db: db},
		AdsInsight:    &AdsInsightRepository{db: db},
	}
}

// DB returns the underlying database pool.
func (r *Repositories) DB() *pgxpool.Pool {
	return r.db
}

// UserRepository handles dashboard login data access
type UserRepository struct {
	db *pgxpool.Pool
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	user := &domain.User{}
	err := r.db.QueryRow(ctx, `
		SELECT id, client_id, username, email, password_hash, role, is_active, created_at, updated_at
		FROM users WHERE username = $1 AND is_active = TRUE
	`, username).Scan(
		&user.ID, &user.ClientID, &user.Username, &user.Email, &user.PasswordHash,
		&user.Role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return user, err
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user := &domain.User{}
	err := r.db.QueryRow(ctx, `
		SELECT id, client_id, username, email, password_hash, role, is_active, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(
		&user.ID, &user.ClientID, &user.Username, &user.Email, &user.PasswordHash,
		&user.Role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return user, err
}

// ClientRepository handles tenant data access
type ClientRepository struct {
	db *pgxpool.Pool
}

func (r *ClientRepository) Create(ctx context.Context, c *domain.Client) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO clients (name, ghl_api_key, ghl_location_id, fb_access_token, fb_ad_account_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, c.Name, c.GhlAPIKey, c.GhlLocationID, c.FbAccessToken, c.FbAdAccountID).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (r *ClientRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	c := &domain.Client{}
	err := r.db.QueryRow(ctx, `
		SELECT id, name, ghl_api_key, ghl_location_id, fb_access_token, fb_ad_account_id, created_at, updated_at
		FROM clients WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.GhlAPIKey, &c.GhlLocationID, &c.FbAccessToken, &c.FbAdAccountID, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *ClientRepository) List(ctx context.Context) ([]*domain.Client, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, ghl_api_key, ghl_location_id, fb_access_token, fb_ad_account_id, created_at, updated_at
		FROM clients ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []*domain.Client
	for rows.Next() {
		c := &domain.Client{}
		if err := rows.Scan(&c.ID, &c.Name, &c.GhlAPIKey, &c.GhlLocationID, &c.FbAccessToken, &c.FbAdAccountID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// ListWithGhlCredentials returns the tenants the cron can sync.
func (r *ClientRepository) ListWithGhlCredentials(ctx context.Context) ([]*domain.Client, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, ghl_api_key, ghl_location_id, fb_access_token, fb_ad_account_id, created_at, updated_at
		FROM clients
		WHERE ghl_api_key IS NOT NULL AND ghl_api_key != ''
		  AND ghl_location_id IS NOT NULL AND ghl_location_id != ''
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []*domain.Client
	for rows.Next() {
		c := &domain.Client{}
		if err := rows.Scan(&c.ID, &c.Name, &c.GhlAPIKey, &c.GhlLocationID, &c.FbAccessToken, &c.FbAdAccountID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (r *ClientRepository) Update(ctx context.Context, c *domain.Client) error {
	_, err := r.db.Exec(ctx, `
		UPDATE clients
		SET name = $2, ghl_api_key = $3, ghl_location_id = $4, fb_access_token = $5, fb_ad_account_id = $6, updated_at = NOW()
		WHERE id = $1
	`, c.ID, c.Name, c.GhlAPIKey, c.GhlLocationID, c.FbAccessToken, c.FbAdAccountID)
	return err
}

func (r *ClientRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id)
	return err
}

// PipelineRepository mirrors CRM pipelines and stages. Background sync
// only upserts; deactivation happens on explicit settings save.
type PipelineRepository struct {
	db *pgxpool.Pool
}

// Upsert inserts or refreshes a pipeline and returns its local id.
func (r *PipelineRepository) Upsert(ctx context.Context, clientID uuid.UUID, ghlPipelineID, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, `
		INSERT INTO pipelines (client_id, ghl_pipeline_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (client_id, ghl_pipeline_id)
		DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
		RETURNING id
	`, clientID, ghlPipelineID, name).Scan(&id)
	return id, err
}

// UpsertStage inserts or refreshes a stage of a local pipeline.
func (r *PipelineRepository) UpsertStage(ctx context.Context, pipelineID uuid.UUID, ghlStageID, name string, position int) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO pipeline_stages (pipeline_id, ghl_stage_id, name, position)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pipeline_id, ghl_stage_id)
		DO UPDATE SET name = EXCLUDED.name, position = EXCLUDED.position, updated_at = NOW()
	`, pipelineID, ghlStageID, name, position)
	return err
}

// ListWithStages returns the tenant's pipelines with stages attached.
func (r *PipelineRepository) ListWithStages(ctx context.Context, clientID uuid.UUID, activeOnly bool) ([]*domain.Pipeline, error) {
	q := `
		SELECT id, client_id, ghl_pipeline_id, name, active, created_at, updated_at
		FROM pipelines WHERE client_id = $1`
	if activeOnly {
		q += ` AND active = TRUE`
	}
	q += ` ORDER BY name`

	rows, err := r.db.Query(ctx, q, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pipelines []*domain.Pipeline
	byID := make(map[uuid.UUID]*domain.Pipeline)
	for rows.Next() {
		p := &domain.Pipeline{}
		if err := rows.Scan(&p.ID, &p.ClientID, &p.GhlPipelineID, &p.Name, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(pipelines) == 0 {
		return pipelines, nil
	}

	sq := `
		SELECT s.id, s.pipeline_id, s.ghl_stage_id, s.name, s.position, s.active, s.created_at, s.updated_at
		FROM pipeline_stages s
		JOIN pipelines p ON p.id = s.pipeline_id
		WHERE p.client_id = $1`
	if activeOnly {
		sq += ` AND s.active = TRUE`
	}
	sq += ` ORDER BY s.position`

	stageRows, err := r.db.Query(ctx, sq, clientID)
	if err != nil {
		return nil, err
	}
	defer stageRows.Close()

	for stageRows.Next() {
		s := domain.PipelineStage{}
		if err := stageRows.Scan(&s.ID, &s.PipelineID, &s.GhlStageID, &s.Name, &s.Position, &s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		if p, ok := byID[s.PipelineID]; ok {
			p.Stages = append(p.Stages, s)
		}
	}
	return pipelines, stageRows.Err()
}

// SetActiveByGhlIDs activates the listed CRM pipeline ids and
// deactivates the rest of the tenant's pipelines.
func (r *PipelineRepository) SetActiveByGhlIDs(ctx context.Context, clientID uuid.UUID, ghlIDs []string) error {
	if _, err := r.db.Exec(ctx, `
		UPDATE pipelines SET active = (ghl_pipeline_id = ANY($2)), updated_at = NOW()
		WHERE client_id = $1
	`, clientID, ghlIDs); err != nil {
		return err
	}
	return nil
}

// SetStagesActiveByGhlIDs activates the listed stage ids of one
// pipeline and deactivates its other stages. An empty list is a no-op:
// a pipeline submitted without stages keeps everything active.
func (r *PipelineRepository) SetStagesActiveByGhlIDs(ctx context.Context, clientID uuid.UUID, ghlPipelineID string, stageGhlIDs []string) error {
	if len(stageGhlIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		UPDATE pipeline_stages s SET active = (s.ghl_stage_id = ANY($3)), updated_at = NOW()
		FROM pipelines p
		WHERE s.pipeline_id = p.id AND p.client_id = $1 AND p.ghl_pipeline_id = $2
	`, clientID, ghlPipelineID, stageGhlIDs)
	return err
}

// CalendarRepository mirrors CRM calendars.
type CalendarRepository struct {
	db *pgxpool.Pool
}

func (r *CalendarRepository) Upsert(ctx context.Context, clientID uuid.UUID, ghlCalendarID string, name *string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO ghl_calendars (client_id, ghl_calendar_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (client_id, ghl_calendar_id)
		DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
	`, clientID, ghlCalendarID, name)
	return err
}

// DeleteAbsent removes calendars that disappeared from the CRM.
func (r *CalendarRepository) DeleteAbsent(ctx context.Context, clientID uuid.UUID, keepGhlIDs []string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM ghl_calendars
		WHERE client_id = $1 AND NOT (ghl_calendar_id = ANY($2))
	`, clientID, keepGhlIDs)
	return err
}

func (r *CalendarRepository) List(ctx context.Context, clientID uuid.UUID, activeOnly bool) ([]*domain.Calendar, error) {
	q := `
		SELECT id, client_id, ghl_calendar_id, name, active, created_at, updated_at
		FROM ghl_calendars WHERE client_id = $1`
	if activeOnly {
		q += ` AND active = TRUE`
	}
	q += ` ORDER BY name`

	rows, err := r.db.Query(ctx, q, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calendars []*domain.Calendar
	for rows.Next() {
		c := &domain.Calendar{}
		if err := rows.Scan(&c.ID, &c.ClientID, &c.GhlCalendarID, &c.Name, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		calendars = append(calendars, c)
	}
	return calendars, rows.Err()
}

// SetActiveByGhlIDs activates the listed calendars, deactivates the rest.
func (r *CalendarRepository) SetActiveByGhlIDs(ctx context.Context, clientID uuid.UUID, ghlIDs []string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE ghl_calendars SET active = (ghl_calendar_id = ANY($2)), updated_at = NOW()
		WHERE client_id = $1
	`, clientID, ghlIDs)
	return err
}

// GhlUserRepository mirrors CRM users (responsibles).
type GhlUserRepository struct {
	db *pgxpool.Pool
}

func (r *GhlUserRepository) Upsert(ctx context.Context, clientID uuid.UUID, ghlUserID string, name, email *string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO ghl_users (client_id, ghl_user_id, name, email)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (client_id, ghl_user_id)
		DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, updated_at = NOW()
	`, clientID, ghlUserID, name, email)
	return err
}

func (r *GhlUserRepository) DeleteAbsent(ctx context.Context, clientID uuid.UUID, keepGhlIDs []string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM ghl_users
		WHERE client_id = $1 AND NOT (ghl_user_id = ANY($2))
	`, clientID, keepGhlIDs)
	return err
}

func (r *GhlUserRepository) List(ctx context.Context, clientID uuid.UUID, activeOnly bool) ([]*domain.GhlUser, error) {
	q := `
		SELECT id, client_id, ghl_user_id, name, email, active, created_at, updated_at
		FROM ghl_users WHERE client_id = $1`
	if activeOnly {
		q += ` AND active = TRUE`
	}
	q += ` ORDER BY name`

	rows, err := r.db.Query(ctx, q, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.GhlUser
	for rows.Next() {
		u := &domain.GhlUser{}
		if err := rows.Scan(&u.ID, &u.ClientID, &u.GhlUserID, &u.Name, &u.Email, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// NameMap returns ghl_user_id → name for responsible resolution.
func (r *GhlUserRepository) NameMap(ctx context.Context, clientID uuid.UUID) (map[string]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT ghl_user_id, COALESCE(name, '') FROM ghl_users WHERE client_id = $1
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

func (r *GhlUserRepository) SetActiveByGhlIDs(ctx context.Context, clientID uuid.UUID, ghlIDs []string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE ghl_users SET active = (ghl_user_id = ANY($2)), updated_at = NOW()
		WHERE client_id = $1
	`, clientID, ghlIDs)
	return err
}

// OpportunityRepository mirrors CRM opportunities.
type OpportunityRepository struct {
	db *pgxpool.Pool
}

const opportunityUpsertSQL = `
	INSERT INTO opportunities (
		client_id, ghl_opportunity_id, pipeline_id, stage_id, name, status,
		monetary_value, contact_id, assigned_to, source, date_added, date_updated,
		sale_date_value, utm_source, utm_campaign, utm_medium, utm_term, utm_content,
		custom_fields
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	ON CONFLICT (client_id, ghl_opportunity_id) DO UPDATE SET
		pipeline_id = EXCLUDED.pipeline_id,
		stage_id = EXCLUDED.stage_id,
		name = EXCLUDED.name,
		status = EXCLUDED.status,
		monetary_value = EXCLUDED.monetary_value,
		contact_id = EXCLUDED.contact_id,
		assigned_to = EXCLUDED.assigned_to,
		source = EXCLUDED.source,
		date_added = EXCLUDED.date_added,
		date_updated = EXCLUDED.date_updated,
		sale_date_value = EXCLUDED.sale_date_value,
		utm_source = EXCLUDED.utm_source,
		utm_campaign = EXCLUDED.utm_campaign,
		utm_medium = EXCLUDED.utm_medium,
		utm_term = EXCLUDED.utm_term,
		utm_content = EXCLUDED.utm_content,
		custom_fields = EXCLUDED.custom_fields,
		updated_at = NOW()`

// UpsertChunk writes one batch of rows in a single round trip.
func (r *OpportunityRepository) UpsertChunk(ctx context.Context, rows []*domain.Opportunity) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, o := range rows {
		cf, err := json.Marshal(o.CustomFields)
		if err != nil {
			return fmt.Errorf("marshal custom fields: %w", err)
		}
		if o.CustomFields == nil {
			cf = []byte("{}")
		}
		batch.Queue(opportunityUpsertSQL,
			o.ClientID, o.GhlOpportunityID, o.PipelineID, o.StageID, o.Name, o.Status,
			o.MonetaryValue, o.ContactID, o.AssignedTo, o.Source, o.DateAdded, o.DateUpdated,
			o.SaleDateValue, o.UtmSource, o.UtmCampaign, o.UtmMedium, o.UtmTerm, o.UtmContent,
			cf,
		)
	}
	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LatestDateAdded returns the newest persisted creation date.
func (r *OpportunityRepository) LatestDateAdded(ctx context.Context, clientID uuid.UUID) (*time.Time, error) {
	var t *time.Time
	err := r.db.QueryRow(ctx, `
		SELECT MAX(date_added) FROM opportunities WHERE client_id = $1
	`, clientID).Scan(&t)
	return t, err
}

func scanOpportunity(rows pgx.Rows) (*domain.Opportunity, error) {
	o := &domain.Opportunity{}
	var cf []byte
	if err := rows.Scan(
		&o.ID, &o.ClientID, &o.GhlOpportunityID, &o.PipelineID, &o.StageID, &o.Name, &o.Status,
		&o.MonetaryValue, &o.ContactID, &o.AssignedTo, &o.Source, &o.DateAdded, &o.DateUpdated,
		&o.SaleDateValue, &o.UtmSource, &o.UtmCampaign, &o.UtmMedium, &o.UtmTerm, &o.UtmContent,
		&cf, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(cf) > 0 {
		if err := json.Unmarshal(cf, &o.CustomFields); err != nil {
			o.CustomFields = nil
		}
	}
	return o, nil
}

const opportunitySelectCols = `
	id, client_id, ghl_opportunity_id, pipeline_id, stage_id, name, status,
	monetary_value, contact_id, assigned_to, source, date_added, date_updated,
	sale_date_value, utm_source, utm_campaign, utm_medium, utm_term, utm_content,
	custom_fields, created_at, updated_at`

// ListAllByClient scans the whole tenant in pages so the aggregator can
// compute over the full mirror.
func (r *OpportunityRepository) ListAllByClient(ctx context.Context, clientID uuid.UUID) ([]*domain.Opportunity, error) {
	var all []*domain.Opportunity
	for offset := 0; ; offset += scanPageSize {
		rows, err := r.db.Query(ctx, `
			SELECT `+opportunitySelectCols+`
			FROM opportunities WHERE client_id = $1
			ORDER BY date_added NULLS LAST, id
			LIMIT $2 OFFSET $3
		`, clientID, scanPageSize, offset)
		if err != nil {
			return nil, err
		}
		n := 0
		for rows.Next() {
			o, err := scanOpportunity(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			all = append(all, o)
			n++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if n < scanPageSize {
			break
		}
	}
	return all, nil
}

// ListPage returns one page for the raw data table view.
func (r *OpportunityRepository) ListPage(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]*domain.Opportunity, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+opportunitySelectCols+`
		FROM opportunities WHERE client_id = $1
		ORDER BY date_added DESC NULLS LAST, id
		LIMIT $2 OFFSET $3
	`, clientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *OpportunityRepository) CountByClient(ctx context.Context, clientID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM opportunities WHERE client_id = $1`, clientID).Scan(&n)
	return n, err
}

// EventRepository mirrors CRM calendar appointments.
type EventRepository struct {
	db *pgxpool.Pool
}

const eventUpsertSQL = `
	INSERT INTO calendar_events (
		client_id, ghl_event_id, ghl_calendar_id, title, status, start_time, end_time,
		contact_id, assigned_user_id, notes, source, date_added, date_updated
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (client_id, ghl_event_id) DO UPDATE SET
		ghl_calendar_id = EXCLUDED.ghl_calendar_id,
		title = EXCLUDED.title,
		status = EXCLUDED.status,
		start_time = EXCLUDED.start_time,
		end_time = EXCLUDED.end_time,
		contact_id = EXCLUDED.contact_id,
		assigned_user_id = EXCLUDED.assigned_user_id,
		notes = EXCLUDED.notes,
		source = EXCLUDED.source,
		date_added = EXCLUDED.date_added,
		date_updated = EXCLUDED.date_updated,
		updated_at = NOW()`

func (r *EventRepository) UpsertChunk(ctx context.Context, rows []*domain.CalendarEvent) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range rows {
		batch.Queue(eventUpsertSQL,
			e.ClientID, e.GhlEventID, e.GhlCalendarID, e.Title, e.Status, e.StartTime, e.EndTime,
			e.ContactID, e.AssignedUserID, e.Notes, e.Source, e.DateAdded, e.DateUpdated,
		)
	}
	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LatestStartTime returns the newest persisted appointment start.
func (r *EventRepository) LatestStartTime(ctx context.Context, clientID uuid.UUID) (*time.Time, error) {
	var t *time.Time
	err := r.db.QueryRow(ctx, `
		SELECT MAX(start_time) FROM calendar_events WHERE client_id = $1
	`, clientID).Scan(&t)
	return t, err
}

func (r *EventRepository) ListAllByClient(ctx context.Context, clientID uuid.UUID) ([]*domain.CalendarEvent, error) {
	var all []*domain.CalendarEvent
	for offset := 0; ; offset += scanPageSize {
		rows, err := r.db.Query(ctx, `
			SELECT id, client_id, ghl_event_id, ghl_calendar_id, title, status, start_time, end_time,
			       contact_id, assigned_user_id, notes, source, date_added, date_updated, created_at, updated_at
			FROM calendar_events WHERE client_id = $1
			ORDER BY start_time NULLS LAST, id
			LIMIT $2 OFFSET $3
		`, clientID, scanPageSize, offset)
		if err != nil {
			return nil, err
		}
		n := 0
		for rows.Next() {
			e := &domain.CalendarEvent{}
			if err := rows.Scan(
				&e.ID, &e.ClientID, &e.GhlEventID, &e.GhlCalendarID, &e.Title, &e.Status, &e.StartTime, &e.EndTime,
				&e.ContactID, &e.AssignedUserID, &e.Notes, &e.Source, &e.DateAdded, &e.DateUpdated, &e.CreatedAt, &e.UpdatedAt,
			); err != nil {
				rows.Close()
				return nil, err
			}
			all = append(all, e)
			n++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if n < scanPageSize {
			break
		}
	}
	return all, nil
}

// PredefinitionRepository stores per-tenant settings with append-only
// history: saving a key deactivates the old row and inserts a new one.
type PredefinitionRepository struct {
	db *pgxpool.Pool
}

// GetActivePredefinitions returns the active key → value rows. Keys
// with NULL value are omitted.
func (r *PredefinitionRepository) GetActivePredefinitions(ctx context.Context, clientID uuid.UUID) (map[string]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT key, value FROM location_predefinitions
		WHERE client_id = $1 AND active = TRUE
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key string
		var value *string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		if value != nil {
			values[key] = *value
		}
	}
	return values, rows.Err()
}

// SaveKeys flips the old active rows of the given keys and inserts
// fresh active rows, all in one transaction. A nil value clears the
// key: the old row is deactivated and nothing is inserted.
func (r *PredefinitionRepository) SaveKeys(ctx context.Context, clientID uuid.UUID, values map[string]*string) error {
	if len(values) == 0 {
		return nil
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for key, value := range values {
		if _, err := tx.Exec(ctx, `
			UPDATE location_predefinitions SET active = FALSE
			WHERE client_id = $1 AND key = $2 AND active = TRUE
		`, clientID, key); err != nil {
			return fmt.Errorf("deactivate %s: %w", key, err)
		}
		if value == nil {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO location_predefinitions (client_id, key, value, active)
			VALUES ($1, $2, $3, TRUE)
		`, clientID, key, *value); err != nil {
			return fmt.Errorf("insert %s: %w", key, err)
		}
	}

	return tx.Commit(ctx)
}

// AdsInsightRepository stores the Meta daily spend mirror.
type AdsInsightRepository struct {
	db *pgxpool.Pool
}

const insightUpsertSQL = `
	INSERT INTO facebook_ads_daily_insights (
		client_id, date, campaign_id, campaign_name, adset_id, adset_name,
		ad_id, ad_name, impressions, clicks, spend
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (client_id, date, ad_id) DO UPDATE SET
		campaign_id = EXCLUDED.campaign_id,
		campaign_name = EXCLUDED.campaign_name,
		adset_id = EXCLUDED.adset_id,
		adset_name = EXCLUDED.adset_name,
		ad_name = EXCLUDED.ad_name,
		impressions = EXCLUDED.impressions,
		clicks = EXCLUDED.clicks,
		spend = EXCLUDED.spend,
		updated_at = NOW()`

func (r *AdsInsightRepository) UpsertChunk(ctx context.Context, rows []*domain.AdsDailyInsight) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, i := range rows {
		batch.Queue(insightUpsertSQL,
			i.ClientID, i.Date, i.CampaignID, i.CampaignName, i.AdsetID, i.AdsetName,
			i.AdID, i.AdName, i.Impressions, i.Clicks, i.Spend,
		)
	}
	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// MaxDate returns the newest persisted insight date (YYYY-MM-DD).
func (r *AdsInsightRepository) MaxDate(ctx context.Context, clientID uuid.UUID) (string, error) {
	var d *time.Time
	err := r.db.QueryRow(ctx, `
		SELECT MAX(date) FROM facebook_ads_daily_insights WHERE client_id = $1
	`, clientID).Scan(&d)
	if err != nil || d == nil {
		return "", err
	}
	return d.Format("2006-01-02"), nil
}

// SumSpend totals spend in an inclusive date range (YYYY-MM-DD).
func (r *AdsInsightRepository) SumSpend(ctx context.Context, clientID uuid.UUID, startDate, endDate string) (float64, error) {
	var total float64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(spend), 0) FROM facebook_ads_daily_insights
		WHERE client_id = $1 AND date >= $2 AND date <= $3
	`, clientID, startDate, endDate).Scan(&total)
	return total, err
}

// ListByDateRange returns the rows in an inclusive date range.
func (r *AdsInsightRepository) ListByDateRange(ctx context.Context, clientID uuid.UUID, startDate, endDate string) ([]*domain.AdsDailyInsight, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, client_id, to_char(date, 'YYYY-MM-DD'), campaign_id, campaign_name, adset_id, adset_name,
		       ad_id, ad_name, impressions, clicks, spend, created_at, updated_at
		FROM facebook_ads_daily_insights
		WHERE client_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date, ad_id
	`, clientID, startDate, endDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AdsDailyInsight
	for rows.Next() {
		i := &domain.AdsDailyInsight{}
		if err := rows.Scan(
			&i.ID, &i.ClientID, &i.Date, &i.CampaignID, &i.CampaignName, &i.AdsetID, &i.AdsetName,
			&i.AdID, &i.AdName, &i.Impressions, &i.Clicks, &i.Spend, &i.CreatedAt, &i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}
