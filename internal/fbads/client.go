// Package fbads is a thin client for the Meta Marketing API
// (graph.facebook.com), covering the ad account listing, campaign
// listing and the daily spend insights the dashboard stores.
package fbads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultGraphBase = "https://graph.facebook.com"
const graphVersion = "v21.0"

// Fetching ad names in bulk uses the ids= batch endpoint, 50 per call.
const adNamesBatchChunk = 50

// APIError carries the Graph API error code and HTTP status.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("facebook API %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

// NormalizeAdAccountID accepts the account id with or without the
// "act_" prefix.
func NormalizeAdAccountID(adAccountID string) (string, error) {
	raw := strings.TrimSpace(adAccountID)
	if raw == "" {
		return "", &APIError{StatusCode: 400, Message: "ID da conta de anúncios é obrigatório"}
	}
	if strings.HasPrefix(raw, "act_") {
		return raw, nil
	}
	return "act_" + raw, nil
}

// Client talks to the Graph API with one tenant's access token.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

func NewClient(accessToken string) *Client {
	return &Client{
		baseURL:     defaultGraphBase,
		accessToken: accessToken,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// SetBaseURL overrides the Graph base URL (tests).
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

func (c *Client) get(ctx context.Context, path string, params url.Values, fallbackMsg string) ([]byte, error) {
	if strings.TrimSpace(c.accessToken) == "" {
		return nil, &APIError{StatusCode: 400, Message: "Token de acesso Facebook é obrigatório"}
	}
	params.Set("access_token", c.accessToken)

	u := c.baseURL + "/" + graphVersion + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("facebook request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("facebook read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var wrapper struct {
			Error struct {
				Message string `json:"message"`
				Code    int    `json:"code"`
			} `json:"error"`
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: fallbackMsg}
		if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Message != "" {
			apiErr.Message = wrapper.Error.Message
			apiErr.Code = wrapper.Error.Code
		}
		return nil, apiErr
	}

	return body, nil
}

// --- API types ---

type AdAccount struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	AccountID     string `json:"account_id,omitempty"`
	AccountStatus int    `json:"account_status,omitempty"`
}

type Campaign struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status,omitempty"`
	Objective   string `json:"objective,omitempty"`
	CreatedTime string `json:"created_time,omitempty"`
	UpdatedTime string `json:"updated_time,omitempty"`
}

// Insight is an aggregate metrics row (string-typed like the API).
type Insight struct {
	DateStart   string `json:"date_start,omitempty"`
	DateStop    string `json:"date_stop,omitempty"`
	Impressions string `json:"impressions,omitempty"`
	Clicks      string `json:"clicks,omitempty"`
	Spend       string `json:"spend,omitempty"`
	CTR         string `json:"ctr,omitempty"`
	CPC         string `json:"cpc,omitempty"`
	CPM         string `json:"cpm,omitempty"`
	Reach       string `json:"reach,omitempty"`
	Frequency   string `json:"frequency,omitempty"`
}

// DailyInsightRow is one day of one ad (level=ad, time_increment=1).
type DailyInsightRow struct {
	DateStart   string `json:"date_start"`
	DateStop    string `json:"date_stop"`
	AdID        string `json:"ad_id,omitempty"`
	CampaignID  string `json:"campaign_id,omitempty"`
	AdsetID     string `json:"adset_id,omitempty"`
	Impressions string `json:"impressions,omitempty"`
	Clicks      string `json:"clicks,omitempty"`
	Spend       string `json:"spend,omitempty"`
}

// AdInfo is the name enrichment for one ad.
type AdInfo struct {
	ID       string
	Name     string
	Campaign *IDName
	Adset    *IDName
}

type IDName struct {
	ID   string
	Name string
}

// --- endpoints ---

// GetAdAccounts lists the ad accounts visible to the token.
func (c *Client) GetAdAccounts(ctx context.Context) ([]AdAccount, error) {
	params := url.Values{"fields": {"id,name,account_id,account_status"}}
	body, err := c.get(ctx, "/me/adaccounts", params, "Erro ao listar contas de anúncios")
	if err != nil {
		return nil, err
	}
	var data struct {
		Data []AdAccount `json:"data"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("facebook decode ad accounts: %w", err)
	}
	return data.Data, nil
}

// GetCampaigns lists the campaigns of an ad account, optionally
// filtered by effective status.
func (c *Client) GetCampaigns(ctx context.Context, adAccountID, status string) ([]Campaign, error) {
	accountID, err := NormalizeAdAccountID(adAccountID)
	if err != nil {
		return nil, err
	}
	params := url.Values{"fields": {"id,name,status,objective,created_time,updated_time"}}
	if status != "" {
		filter, _ := json.Marshal([]map[string]any{
			{"field": "campaign.effective_status", "operator": "IN", "value": []string{status}},
		})
		params.Set("filtering", string(filter))
	}
	body, err := c.get(ctx, "/"+accountID+"/campaigns", params, "Erro ao listar campanhas")
	if err != nil {
		return nil, err
	}
	var data struct {
		Data []Campaign `json:"data"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("facebook decode campaigns: %w", err)
	}
	return data.Data, nil
}

// InsightsParams bounds an aggregate insight query. Since/Until are
// YYYY-MM-DD; DatePreset is an API preset like last_30d.
type InsightsParams struct {
	Since      string
	Until      string
	DatePreset string
	Level      string // account, campaign, adset, ad
}

// GetInsights fetches aggregate metrics for the account.
func (c *Client) GetInsights(ctx context.Context, adAccountID string, p InsightsParams) ([]Insight, error) {
	accountID, err := NormalizeAdAccountID(adAccountID)
	if err != nil {
		return nil, err
	}
	params := url.Values{"fields": {"impressions,clicks,spend,ctr,cpc,cpm,reach,frequency"}}
	if p.Level != "" {
		params.Set("level", p.Level)
	}
	if p.DatePreset != "" {
		params.Set("date_preset", p.DatePreset)
	}
	if p.Since != "" {
		until := p.Until
		if until == "" {
			until = p.Since
		}
		tr, _ := json.Marshal(map[string]string{"since": p.Since, "until": until})
		params.Set("time_range", string(tr))
	}
	body, err := c.get(ctx, "/"+accountID+"/insights", params, "Erro ao buscar insights")
	if err != nil {
		return nil, err
	}
	var data struct {
		Data []Insight `json:"data"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("facebook decode insights: %w", err)
	}
	return data.Data, nil
}

// GetInsightsDaily fetches per-ad metrics with one row per day
// (level=ad, time_increment=1). Since/until are YYYY-MM-DD.
func (c *Client) GetInsightsDaily(ctx context.Context, adAccountID, since, until string) ([]DailyInsightRow, error) {
	accountID, err := NormalizeAdAccountID(adAccountID)
	if err != nil {
		return nil, err
	}
	tr, _ := json.Marshal(map[string]string{"since": since, "until": until})
	params := url.Values{
		"level":          {"ad"},
		"time_increment": {"1"},
		"fields":         {"ad_id,campaign_id,adset_id,impressions,clicks,spend"},
		"time_range":     {string(tr)},
	}
	body, err := c.get(ctx, "/"+accountID+"/insights", params, "Erro ao buscar insights diários")
	if err != nil {
		return nil, err
	}
	var data struct {
		Data []DailyInsightRow `json:"data"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("facebook decode daily insights: %w", err)
	}
	for i := range data.Data {
		if data.Data[i].Impressions == "" {
			data.Data[i].Impressions = "0"
		}
		if data.Data[i].Clicks == "" {
			data.Data[i].Clicks = "0"
		}
		if data.Data[i].Spend == "" {
			data.Data[i].Spend = "0"
		}
	}
	return data.Data, nil
}

// GetAdNamesBatch fetches ad, campaign and adset names for the given ad
// ids in chunks of 50.
func (c *Client) GetAdNamesBatch(ctx context.Context, adIDs []string) (map[string]AdInfo, error) {
	result := make(map[string]AdInfo, len(adIDs))

	for i := 0; i < len(adIDs); i += adNamesBatchChunk {
		end := i + adNamesBatchChunk
		if end > len(adIDs) {
			end = len(adIDs)
		}
		chunk := adIDs[i:end]

		params := url.Values{
			"ids":    {strings.Join(chunk, ",")},
			"fields": {"name,campaign{id,name},adset{id,name}"},
		}
		body, err := c.get(ctx, "/", params, "Erro ao buscar dados dos anúncios")
		if err != nil {
			return nil, err
		}

		var data map[string]struct {
			Name     string `json:"name"`
			Campaign *struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"campaign"`
			Adset *struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"adset"`
		}
		if err := json.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("facebook decode ad names: %w", err)
		}

		for _, id := range chunk {
			obj, ok := data[id]
			if !ok {
				continue
			}
			info := AdInfo{ID: id, Name: obj.Name}
			if obj.Campaign != nil {
				info.Campaign = &IDName{ID: obj.Campaign.ID, Name: obj.Campaign.Name}
			}
			if obj.Adset != nil {
				info.Adset = &IDName{ID: obj.Adset.ID, Name: obj.Adset.Name}
			}
			result[id] = info
		}
	}
	return result, nil
}
