package domain

import (
	"time"

	"github.com/google/uuid"
)

// Client represents a tenant (one dashboard customer with its own CRM
// and ads credentials). All synced data is scoped by ClientID.
type Client struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	GhlAPIKey     *string   `json:"ghl_api_key,omitempty"`
	GhlLocationID *string   `json:"ghl_location_id,omitempty"`
	FbAccessToken *string   `json:"fb_access_token,omitempty"`
	FbAdAccountID *string   `json:"fb_ad_account_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasGhlCredentials reports whether the tenant can talk to the CRM API.
func (c *Client) HasGhlCredentials() bool {
	return c.GhlAPIKey != nil && *c.GhlAPIKey != "" &&
		c.GhlLocationID != nil && *c.GhlLocationID != ""
}

// HasFbCredentials reports whether the tenant can talk to the Meta API.
func (c *Client) HasFbCredentials() bool {
	return c.FbAccessToken != nil && *c.FbAccessToken != "" &&
		c.FbAdAccountID != nil && *c.FbAdAccountID != ""
}

// User represents a dashboard login.
type User struct {
	ID           uuid.UUID  `json:"id"`
	ClientID     *uuid.UUID `json:"client_id,omitempty"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"` // ADM, USER
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// User role constants
const (
	RoleAdmin = "ADM"
	RoleUser  = "USER"
)

// Pipeline mirrors a CRM pipeline. Active is only flipped by an
// explicit settings save, never by background sync.
type Pipeline struct {
	ID            uuid.UUID `json:"id"`
	ClientID      uuid.UUID `json:"client_id"`
	GhlPipelineID string    `json:"ghl_pipeline_id"`
	Name          string    `json:"name"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Populated on demand
	Stages []PipelineStage `json:"stages,omitempty"`
}

// PipelineStage mirrors a stage inside a CRM pipeline.
type PipelineStage struct {
	ID         uuid.UUID `json:"id"`
	PipelineID uuid.UUID `json:"pipeline_id"`
	GhlStageID string    `json:"ghl_stage_id"`
	Name       string    `json:"name"`
	Position   int       `json:"position"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Calendar mirrors a CRM calendar.
type Calendar struct {
	ID            uuid.UUID `json:"id"`
	ClientID      uuid.UUID `json:"client_id"`
	GhlCalendarID string    `json:"ghl_calendar_id"`
	Name          *string   `json:"name,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// GhlUser mirrors a CRM user (responsible/assignee).
type GhlUser struct {
	ID        uuid.UUID `json:"id"`
	ClientID  uuid.UUID `json:"client_id"`
	GhlUserID string    `json:"ghl_user_id"`
	Name      *string   `json:"name,omitempty"`
	Email     *string   `json:"email,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Opportunity is the local mirror of a CRM opportunity. PipelineID and
// StageID store the CRM's own string ids, not local uuids. Imported
// custom fields live in CustomFields keyed by sanitized column (cf_*).
type Opportunity struct {
	ID               uuid.UUID         `json:"id"`
	ClientID         uuid.UUID         `json:"client_id"`
	GhlOpportunityID string            `json:"ghl_opportunity_id"`
	PipelineID       *string           `json:"pipeline_id,omitempty"`
	StageID          *string           `json:"stage_id,omitempty"`
	Name             *string           `json:"name,omitempty"`
	Status           *string           `json:"status,omitempty"` // open, won, lost, abandoned
	MonetaryValue    *float64          `json:"monetary_value,omitempty"`
	ContactID        *string           `json:"contact_id,omitempty"`
	AssignedTo       *string           `json:"assigned_to,omitempty"`
	Source           *string           `json:"source,omitempty"`
	DateAdded        *time.Time        `json:"date_added,omitempty"`
	DateUpdated      *time.Time        `json:"date_updated,omitempty"`
	SaleDateValue    *string           `json:"sale_date_value,omitempty"`
	UtmSource        *string           `json:"utm_source,omitempty"`
	UtmCampaign      *string           `json:"utm_campaign,omitempty"`
	UtmMedium        *string           `json:"utm_medium,omitempty"`
	UtmTerm          *string           `json:"utm_term,omitempty"`
	UtmContent       *string           `json:"utm_content,omitempty"`
	CustomFields     map[string]string `json:"custom_fields,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Opportunity status constants (CRM values, stored lowercase)
const (
	OpportunityStatusOpen      = "open"
	OpportunityStatusWon       = "won"
	OpportunityStatusLost      = "lost"
	OpportunityStatusAbandoned = "abandoned"
)

// CalendarEvent is the local mirror of a CRM calendar appointment.
type CalendarEvent struct {
	ID             uuid.UUID  `json:"id"`
	ClientID       uuid.UUID  `json:"client_id"`
	GhlEventID     string     `json:"ghl_event_id"`
	GhlCalendarID  *string    `json:"ghl_calendar_id,omitempty"`
	Title          *string    `json:"title,omitempty"`
	Status         *string    `json:"status,omitempty"` // confirmed, showed, noshow, cancelled...
	StartTime      *time.Time `json:"start_time,omitempty"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	ContactID      *string    `json:"contact_id,omitempty"`
	AssignedUserID *string    `json:"assigned_user_id,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	Source         *string    `json:"source,omitempty"`
	DateAdded      *time.Time `json:"date_added,omitempty"`
	DateUpdated    *time.Time `json:"date_updated,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Predefinition is a per-tenant setting row. History is append-only:
// saving flips the old row to active=false and inserts a new active one.
type Predefinition struct {
	ID        uuid.UUID `json:"id"`
	ClientID  uuid.UUID `json:"client_id"`
	Key       string    `json:"key"`
	Value     *string   `json:"value,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Predefinition keys
const (
	KeyUtmSourceFieldID        = "utm_source_field_id"
	KeyUtmCampaignFieldID      = "utm_campaign_field_id"
	KeyUtmMediumFieldID        = "utm_medium_field_id"
	KeyUtmTermFieldID          = "utm_term_field_id"
	KeyUtmContentFieldID       = "utm_content_field_id"
	KeySaleDateFieldID         = "sale_date_field_id"
	KeyImportCustomFields      = "opportunity_import_custom_fields"
	KeyFacebookUtmSourceTerms  = "facebook_utm_source_terms"
	KeyFacebookCampaignUtm     = "facebook_campaign_utm"
	KeyFacebookAdsetUtm        = "facebook_adset_utm"
	KeyFacebookCreativeUtm     = "facebook_creative_utm"
	KeyAdsLinkOpportunityCol   = "opportunity_ads_link_opportunity_column"
	KeyAdsLinkAdsCol           = "opportunity_ads_link_ads_column"
	KeyPredefinitionsSavedAt   = "predefinitions_last_saved_at"
)

// AdsDailyInsight is one day of spend for one Meta ad.
type AdsDailyInsight struct {
	ID           uuid.UUID `json:"id"`
	ClientID     uuid.UUID `json:"client_id"`
	Date         string    `json:"date"` // YYYY-MM-DD
	CampaignID   *string   `json:"campaign_id,omitempty"`
	CampaignName *string   `json:"campaign_name,omitempty"`
	AdsetID      *string   `json:"adset_id,omitempty"`
	AdsetName    *string   `json:"adset_name,omitempty"`
	AdID         string    `json:"ad_id"`
	AdName       *string   `json:"ad_name,omitempty"`
	Impressions  int64     `json:"impressions"`
	Clicks       int64     `json:"clicks"`
	Spend        float64   `json:"spend"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SyncMode selects the fetch window strategy for a sync run.
type SyncMode string

const (
	SyncModeNormal         SyncMode = "normal"
	SyncModeIncremental1h  SyncMode = "incremental_1h"
	SyncModeDailyReprocess SyncMode = "daily_reprocess"
	SyncModeFull           SyncMode = "full"
)

// Valid reports whether the mode is one the sync endpoint accepts.
func (m SyncMode) Valid() bool {
	switch m {
	case SyncModeNormal, SyncModeIncremental1h, SyncModeDailyReprocess, SyncModeFull:
		return true
	}
	return false
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	Pipelines      int       `json:"pipelines"`
	Stages         int       `json:"stages"`
	Calendars      int       `json:"calendars"`
	Users          int       `json:"users"`
	Opportunities  int       `json:"opportunities"`
	CalendarEvents int       `json:"calendar_events"`
	Errors         []string  `json:"errors,omitempty"`
	Duration       string    `json:"duration"`
	SyncedAt       time.Time `json:"synced_at"`
}

// AdsSyncResult summarizes one ads-insights sync run.
type AdsSyncResult struct {
	Days     int       `json:"days"`
	Rows     int       `json:"rows"`
	Errors   []string  `json:"errors,omitempty"`
	Duration string    `json:"duration"`
	SyncedAt time.Time `json:"synced_at"`
}
