package ghl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://services.leadconnectorhq.com"

// apiVersion is the LeadConnector API version header value.
const apiVersion = "2021-07-28"

// Page size asked from the API (common max 100). The API may return less.
const opportunitiesPageSize = 100

// Hard cap so a broken cursor never loops forever (500 * 100 = 50k rows).
const opportunitiesMaxPages = 500

// APIError is an error returned by the LeadConnector API, carrying the
// HTTP status so handlers can translate it (401 means invalid API key).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ghl API %d: %s", e.StatusCode, e.Message)
}

// Client is a rate-limited HTTP client for the LeadConnector API.
type Client struct {
	baseURL    string
	apiKey     string
	locationID string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client bound to one tenant's credentials.
func NewClient(apiKey, locationID string) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		locationID: locationID,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		// 5 req/s keeps us under the platform burst limit.
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}
}

// SetBaseURL overrides the API base URL (tests).
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if c.apiKey == "" {
		return nil, &APIError{StatusCode: 400, Message: "ghl_api_key is required"}
	}
	if c.locationID == "" {
		return nil, &APIError{StatusCode: 400, Message: "locationId is required"}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Version", apiVersion)
	req.Header.Set("Location-Id", c.locationID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ghl request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ghl read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseAPIError(body, resp.StatusCode)
	}

	return body, nil
}

// parseAPIError extracts {statusCode, message} from an error body when
// present, falling back to the raw body and HTTP status.
func parseAPIError(body []byte, status int) *APIError {
	var j struct {
		StatusCode int    `json:"statusCode"`
		Message    string `json:"message"`
	}
	apiErr := &APIError{StatusCode: status, Message: fmt.Sprintf("GHL API: %d", status)}
	if len(body) > 0 {
		apiErr.Message = string(body)
	}
	if err := json.Unmarshal(body, &j); err == nil {
		if j.StatusCode != 0 {
			apiErr.StatusCode = j.StatusCode
		}
		if j.Message != "" {
			apiErr.Message = j.Message
		}
	}
	return apiErr
}

// --- API types ---

type Pipeline struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Stages []Stage `json:"stages,omitempty"`
}

type Stage struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PipelineID string `json:"pipelineId,omitempty"`
}

type Calendar struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// CustomFieldDef describes an opportunity custom field definition.
type CustomFieldDef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	DataType string `json:"dataType,omitempty"`
}

// Opportunity is the raw API shape. The platform spells several fields
// inconsistently across endpoints; resolver methods in normalize.go pick
// the first populated variant.
type Opportunity struct {
	ID              string          `json:"id"`
	PipelineID      string          `json:"pipelineId"`
	PipelineIDSnake string          `json:"pipeline_id"`
	StageID         string          `json:"stageId"`
	PipelineStageID string          `json:"pipelineStageId"`
	StageIDSnake    string          `json:"pipeline_stage_id"`
	Name            string          `json:"name"`
	Status          string          `json:"status"`
	MonetaryValue   *float64        `json:"monetaryValue"`
	ContactID       string          `json:"contactId"`
	ContactIDSnake  string          `json:"contact_id"`
	AssignedTo      string          `json:"assignedTo"`
	AssignedToSnake string          `json:"assigned_to"`
	Source          string          `json:"source"`
	DateAdded       *Timestamp      `json:"dateAdded"`
	DateAddedSnake  *Timestamp      `json:"date_added"`
	DateCreated     *Timestamp      `json:"dateCreated"`
	CreatedAt       *Timestamp      `json:"createdAt"`
	DateUpdated     *Timestamp      `json:"dateUpdated"`
	DateUpdSnake    *Timestamp      `json:"date_updated"`
	CustomFields    json.RawMessage `json:"customFields"`
}

// CalendarEvent is the raw API appointment shape.
type CalendarEvent struct {
	ID                string     `json:"id"`
	CalendarID        string     `json:"calendarId"`
	Title             string     `json:"title"`
	Status            string     `json:"status"`
	AppointmentStatus string     `json:"appointmentStatus"`
	EventStatus       string     `json:"eventStatus"`
	StartTime         *Timestamp `json:"startTime"`
	EndTime           *Timestamp `json:"endTime"`
	ContactID         string     `json:"contactId"`
	AssignedUserID    string     `json:"assignedUserId"`
	Notes             string     `json:"notes"`
	Source            string     `json:"source"`
	DateAdded         *Timestamp `json:"dateAdded"`
	DateUpdated       *Timestamp `json:"dateUpdated"`
	CreatedAt         *Timestamp `json:"createdAt"`
}

// --- endpoints ---

// GetPipelines lists the location's pipelines, with stages when the API
// includes them.
func (c *Client) GetPipelines(ctx context.Context) ([]Pipeline, error) {
	q := url.Values{"locationId": {c.locationID}}
	body, err := c.get(ctx, "/opportunities/pipelines/", q)
	if err != nil {
		return nil, err
	}
	var data struct {
		Pipelines []Pipeline `json:"pipelines"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		var list []Pipeline
		if err2 := json.Unmarshal(body, &list); err2 == nil {
			return list, nil
		}
		return nil, fmt.Errorf("ghl decode pipelines: %w", err)
	}
	return data.Pipelines, nil
}

// GetPipelineStages lists the stages of one pipeline.
func (c *Client) GetPipelineStages(ctx context.Context, pipelineID string) ([]Stage, error) {
	q := url.Values{"locationId": {c.locationID}}
	body, err := c.get(ctx, "/opportunities/pipelines/"+url.PathEscape(pipelineID)+"/stages/", q)
	if err != nil {
		return nil, err
	}
	var data struct {
		Stages []Stage `json:"stages"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		var list []Stage
		if err2 := json.Unmarshal(body, &list); err2 == nil {
			data.Stages = list
		} else {
			return nil, fmt.Errorf("ghl decode stages: %w", err)
		}
	}
	for i := range data.Stages {
		data.Stages[i].PipelineID = pipelineID
	}
	return data.Stages, nil
}

// GetCalendars lists the location's calendars.
func (c *Client) GetCalendars(ctx context.Context) ([]Calendar, error) {
	q := url.Values{"locationId": {c.locationID}}
	body, err := c.get(ctx, "/calendars/", q)
	if err != nil {
		return nil, err
	}
	var data struct {
		Calendars []Calendar `json:"calendars"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("ghl decode calendars: %w", err)
	}
	return data.Calendars, nil
}

// GetUsers lists the location's users.
func (c *Client) GetUsers(ctx context.Context) ([]User, error) {
	q := url.Values{"locationId": {c.locationID}}
	body, err := c.get(ctx, "/users/", q)
	if err != nil {
		return nil, err
	}
	var data struct {
		Users []User `json:"users"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("ghl decode users: %w", err)
	}
	return data.Users, nil
}

// GetOpportunityCustomFields lists the opportunity custom field
// definitions of the location (settings screen).
func (c *Client) GetOpportunityCustomFields(ctx context.Context) ([]CustomFieldDef, error) {
	body, err := c.get(ctx, "/locations/"+url.PathEscape(c.locationID)+"/customFields", url.Values{"model": {"opportunity"}})
	if err != nil {
		return nil, err
	}
	var data struct {
		CustomFields []CustomFieldDef `json:"customFields"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("ghl decode custom fields: %w", err)
	}
	return data.CustomFields, nil
}

// GetOpportunityByID fetches one opportunity (used to backfill custom
// fields when the search payload omits them).
func (c *Client) GetOpportunityByID(ctx context.Context, opportunityID string) (*Opportunity, error) {
	if opportunityID == "" {
		return nil, &APIError{StatusCode: 400, Message: "opportunityId is required"}
	}
	q := url.Values{"locationId": {c.locationID}}
	body, err := c.get(ctx, "/opportunities/"+url.PathEscape(opportunityID), q)
	if err != nil {
		return nil, err
	}
	// Some responses wrap the row in {"opportunity": {...}}.
	var wrapped struct {
		Opportunity *Opportunity `json:"opportunity"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Opportunity != nil && wrapped.Opportunity.ID != "" {
		return wrapped.Opportunity, nil
	}
	var opp Opportunity
	if err := json.Unmarshal(body, &opp); err != nil {
		return nil, fmt.Errorf("ghl decode opportunity: %w", err)
	}
	return &opp, nil
}

// SearchOptions bounds an opportunity search. Zero times mean unbounded.
// Created* and Updated* select which axis is sent to the API and which
// axis the in-process filter applies; Updated* wins when both are set.
type SearchOptions struct {
	CreatedSince time.Time
	CreatedUntil time.Time
	UpdatedSince time.Time
	UpdatedUntil time.Time
}

// formatDateParam renders the API's MM-DD-YYYY date query format.
func formatDateParam(t time.Time) string {
	return t.UTC().Format("01-02-2006")
}

// SearchOpportunities walks the numeric page cursor (page=1,2,3...)
// accumulating unique rows. It stops on an empty or short page, a
// repeated first id, meta.nextPage == null, or the page cap. The API's
// date params only have day granularity, so the window filter is always
// re-applied in process.
func (c *Client) SearchOpportunities(ctx context.Context, opts SearchOptions) ([]Opportunity, error) {
	useUpdated := !opts.UpdatedSince.IsZero() || !opts.UpdatedUntil.IsZero()

	all := make([]Opportunity, 0, opportunitiesPageSize)
	seen := make(map[string]struct{})
	var previousFirstID string

	for page := 1; page <= opportunitiesMaxPages; page++ {
		q := url.Values{
			"location_id": {c.locationID},
			"limit":       {strconv.Itoa(opportunitiesPageSize)},
			"page":        {strconv.Itoa(page)},
		}
		if useUpdated {
			if !opts.UpdatedSince.IsZero() {
				q.Set("date", formatDateParam(opts.UpdatedSince))
			}
			if !opts.UpdatedUntil.IsZero() {
				q.Set("endDate", formatDateParam(opts.UpdatedUntil))
			}
		} else {
			if !opts.CreatedSince.IsZero() {
				q.Set("date", formatDateParam(opts.CreatedSince))
			}
			if !opts.CreatedUntil.IsZero() {
				q.Set("endDate", formatDateParam(opts.CreatedUntil))
			}
		}

		body, err := c.get(ctx, "/opportunities/search", q)
		if err != nil {
			return nil, err
		}
		var data struct {
			Opportunities []Opportunity `json:"opportunities"`
			Data          []Opportunity `json:"data"`
			Meta          *struct {
				NextPage *int `json:"nextPage"`
			} `json:"meta"`
		}
		if err := json.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("ghl decode opportunities page %d: %w", page, err)
		}
		items := data.Opportunities
		if items == nil {
			items = data.Data
		}

		var firstID string
		added := 0
		for _, o := range items {
			if o.ID == "" {
				continue
			}
			if firstID == "" {
				firstID = o.ID
			}
			if _, ok := seen[o.ID]; ok {
				continue
			}
			seen[o.ID] = struct{}{}
			all = append(all, o)
			added++
		}

		if page > 1 && firstID != "" && firstID == previousFirstID {
			break
		}
		previousFirstID = firstID

		if len(items) == 0 || len(items) < opportunitiesPageSize {
			break
		}
		if data.Meta != nil && data.Meta.NextPage == nil {
			break
		}
		if added == 0 {
			break
		}
	}

	return filterOpportunities(all, opts), nil
}

// filterOpportunities applies the precise window filter in process.
// Rows with no resolvable date on the filter axis are kept.
func filterOpportunities(list []Opportunity, opts SearchOptions) []Opportunity {
	useUpdated := !opts.UpdatedSince.IsZero() || !opts.UpdatedUntil.IsZero()
	useCreated := !useUpdated && (!opts.CreatedSince.IsZero() || !opts.CreatedUntil.IsZero())
	if !useUpdated && !useCreated {
		return list
	}

	out := list[:0]
	for _, o := range list {
		var axis *time.Time
		if useUpdated {
			axis = o.UpdatedTime()
		} else {
			axis = o.CreatedTime()
		}
		if axis == nil {
			out = append(out, o)
			continue
		}
		if useUpdated {
			if !opts.UpdatedSince.IsZero() && axis.Before(opts.UpdatedSince) {
				continue
			}
			if !opts.UpdatedUntil.IsZero() && axis.After(opts.UpdatedUntil) {
				continue
			}
		} else {
			if !opts.CreatedSince.IsZero() && axis.Before(opts.CreatedSince) {
				continue
			}
			if !opts.CreatedUntil.IsZero() && axis.After(opts.CreatedUntil) {
				continue
			}
		}
		out = append(out, o)
	}
	return out
}

// GetCalendarEvents lists the appointments of one calendar in the
// window. The endpoint takes unix-ms bounds and has no pagination.
func (c *Client) GetCalendarEvents(ctx context.Context, calendarID string, start, end time.Time) ([]CalendarEvent, error) {
	q := url.Values{
		"locationId": {c.locationID},
		"calendarId": {calendarID},
		"startTime":  {strconv.FormatInt(start.UnixMilli(), 10)},
		"endTime":    {strconv.FormatInt(end.UnixMilli(), 10)},
	}
	body, err := c.get(ctx, "/calendars/events", q)
	if err != nil {
		return nil, err
	}
	var data struct {
		Events       []CalendarEvent `json:"events"`
		Appointments []CalendarEvent `json:"appointments"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("ghl decode calendar events: %w", err)
	}
	if data.Events != nil {
		return data.Events, nil
	}
	return data.Appointments, nil
}
