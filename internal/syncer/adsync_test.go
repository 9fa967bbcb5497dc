package syncer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/naperu/painel/internal/domain"
	"github.com/naperu/painel/internal/fbads"
)

type fakeAdsStore struct {
	maxDate   string
	rows      []*domain.AdsDailyInsight
	upsertErr error
}

func (f *fakeAdsStore) MaxInsightDate(ctx context.Context, clientID uuid.UUID) (string, error) {
	return f.maxDate, nil
}

func (f *fakeAdsStore) UpsertInsights(ctx context.Context, rows []*domain.AdsDailyInsight) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.rows = append(f.rows, rows...)
	return nil
}

type fakeAdsClient struct {
	insights map[string][]fbads.DailyInsightRow
	names    map[string]fbads.AdInfo

	daysFetched []string
	namesAsked  []string
	insightsErr error
}

func (f *fakeAdsClient) GetInsightsDaily(ctx context.Context, adAccountID, since, until string) ([]fbads.DailyInsightRow, error) {
	if f.insightsErr != nil {
		return nil, f.insightsErr
	}
	f.daysFetched = append(f.daysFetched, since)
	return f.insights[since], nil
}

func (f *fakeAdsClient) GetAdNamesBatch(ctx context.Context, adIDs []string) (map[string]fbads.AdInfo, error) {
	f.namesAsked = append(f.namesAsked, adIDs...)
	return f.names, nil
}

func adsTestClient() *domain.Client {
	token, account := "tok", "act_123"
	return &domain.Client{ID: uuid.New(), Name: "Acme", FbAccessToken: &token, FbAdAccountID: &account}
}

func newTestAdsSyncer(store AdsStore, api AdsClient) *AdsSyncer {
	s := NewAdsSyncer(store, NewGuard())
	s.newClient = func(accessToken string) AdsClient { return api }
	return s
}

func TestNormalizeMetaDate(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"2026-05-20", "2026-05-20"},
		{"20/05/2026", "2026-05-20"},
		{"5/1/2026", "2026-01-05"},
		{"20-05-2026", "2026-05-20"},
		{"2026-13-40", ""},
		{"31/02/2026", ""},
		{"yesterday", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeMetaDate(tc.in); got != tc.want {
			t.Errorf("NormalizeMetaDate(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDaysBetween(t *testing.T) {
	got := daysBetween("2026-05-30", "2026-06-02")
	want := []string{"2026-05-30", "2026-05-31", "2026-06-01", "2026-06-02"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("daysBetween mismatch (-want +got):\n%s", diff)
	}
	if daysBetween("2026-06-02", "2026-05-30") != nil {
		t.Errorf("inverted range must yield no days")
	}
	if got := daysBetween("2026-05-30", "2026-05-30"); len(got) != 1 {
		t.Errorf("single day range = %v, want one day", got)
	}
}

func TestAdsRunExplicitWindow(t *testing.T) {
	api := &fakeAdsClient{
		insights: map[string][]fbads.DailyInsightRow{
			"2026-05-01": {{DateStart: "2026-05-01", AdID: "ad1", Impressions: "100", Clicks: "7", Spend: "12.50", CampaignID: "raw-camp"}},
			"2026-05-02": {{DateStart: "2026-05-02", AdID: "ad1", Impressions: "80", Clicks: "3", Spend: "9.00"}},
		},
		names: map[string]fbads.AdInfo{
			"ad1": {
				ID:       "ad1",
				Name:     "Criativo A",
				Campaign: &fbads.IDName{ID: "c9", Name: "Verao"},
				Adset:    &fbads.IDName{ID: "as1", Name: "Publico frio"},
			},
		},
	}
	store := &fakeAdsStore{}
	s := newTestAdsSyncer(store, api)

	result, err := s.Run(context.Background(), adsTestClient(), AdsOptions{DateStart: "2026-05-01", DateEnd: "2026-05-02"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Days != 2 || result.Rows != 2 {
		t.Errorf("days/rows = %d/%d, want 2/2", result.Days, result.Rows)
	}
	if len(api.daysFetched) != 2 {
		t.Errorf("days fetched = %v, want one request per day", api.daysFetched)
	}
	if len(api.namesAsked) != 1 || api.namesAsked[0] != "ad1" {
		t.Errorf("names asked = %v, want deduped [ad1]", api.namesAsked)
	}

	row := store.rows[0]
	if row.Impressions != 100 || row.Clicks != 7 || row.Spend != 12.50 {
		t.Errorf("metrics = %d/%d/%v, want 100/7/12.50", row.Impressions, row.Clicks, row.Spend)
	}
	if row.AdName == nil || *row.AdName != "Criativo A" {
		t.Errorf("ad_name = %v, want Criativo A", row.AdName)
	}
	if row.CampaignID == nil || *row.CampaignID != "c9" {
		t.Errorf("campaign_id = %v, want the batch value over the raw row one", row.CampaignID)
	}
	if row.AdsetName == nil || *row.AdsetName != "Publico frio" {
		t.Errorf("adset_name = %v, want Publico frio", row.AdsetName)
	}
}

func TestAdsRunIncrementalWindow(t *testing.T) {
	today := time.Now().UTC().Format("2006-01-02")
	since := time.Now().UTC().AddDate(0, 0, -2).Format("2006-01-02")

	api := &fakeAdsClient{}
	store := &fakeAdsStore{maxDate: since}
	s := newTestAdsSyncer(store, api)

	result, err := s.Run(context.Background(), adsTestClient(), AdsOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Days != 3 {
		t.Errorf("days = %d, want 3 (%s..%s inclusive)", result.Days, since, today)
	}
	if result.Rows != 0 || len(api.namesAsked) != 0 {
		t.Errorf("empty insights must skip the name batch")
	}
}

func TestAdsRunBackfillWithoutHistory(t *testing.T) {
	api := &fakeAdsClient{}
	s := newTestAdsSyncer(&fakeAdsStore{}, api)

	result, err := s.Run(context.Background(), adsTestClient(), AdsOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Days != adsBackfillDays+1 {
		t.Errorf("days = %d, want %d day backfill", result.Days, adsBackfillDays+1)
	}
}

func TestAdsRunInvertedRange(t *testing.T) {
	s := newTestAdsSyncer(&fakeAdsStore{}, &fakeAdsClient{})
	_, err := s.Run(context.Background(), adsTestClient(), AdsOptions{DateStart: "2026-05-10", DateEnd: "2026-05-01"})
	if err == nil || !strings.Contains(err.Error(), "anterior ou igual") {
		t.Errorf("error = %v, want inverted range rejection", err)
	}
}

func TestAdsRunCooldown(t *testing.T) {
	api := &fakeAdsClient{}
	s := newTestAdsSyncer(&fakeAdsStore{}, api)
	client := adsTestClient()

	if _, err := s.Run(context.Background(), client, AdsOptions{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	_, err := s.Run(context.Background(), client, AdsOptions{})
	var cooldown *ErrCooldown
	if !errors.As(err, &cooldown) {
		t.Fatalf("second run error = %v, want ErrCooldown", err)
	}
	if _, err := s.Run(context.Background(), client, AdsOptions{BypassGuard: true}); err != nil {
		t.Errorf("bypass run: %v", err)
	}
}

func TestAdsRunFetchErrorAborts(t *testing.T) {
	api := &fakeAdsClient{insightsErr: &fbads.APIError{StatusCode: 400, Code: 190, Message: "expired"}}
	store := &fakeAdsStore{}
	s := newTestAdsSyncer(store, api)

	_, err := s.Run(context.Background(), adsTestClient(), AdsOptions{DateStart: "2026-05-01", DateEnd: "2026-05-01"})
	var apiErr *fbads.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 190 {
		t.Fatalf("error = %v, want wrapped Graph error", err)
	}
	if len(store.rows) != 0 {
		t.Errorf("fetch failure must not persist rows")
	}
}

func TestAdsRunFailureReleasesCooldown(t *testing.T) {
	api := &fakeAdsClient{insightsErr: &fbads.APIError{StatusCode: 500, Code: 1, Message: "upstream down"}}
	s := newTestAdsSyncer(&fakeAdsStore{}, api)
	client := adsTestClient()

	if _, err := s.Run(context.Background(), client, AdsOptions{DateStart: "2026-05-01", DateEnd: "2026-05-01"}); err == nil {
		t.Fatalf("Run = nil error, want insights failure")
	}

	// Nothing was written, so the retry must not hit the cooldown.
	api.insightsErr = nil
	if _, err := s.Run(context.Background(), client, AdsOptions{DateStart: "2026-05-01", DateEnd: "2026-05-01"}); err != nil {
		t.Errorf("retry after failed run: %v", err)
	}
}

func TestAdsRunMissingCredentials(t *testing.T) {
	s := newTestAdsSyncer(&fakeAdsStore{}, &fakeAdsClient{})
	client := &domain.Client{ID: uuid.New(), Name: "Sem Meta"}
	if _, err := s.Run(context.Background(), client, AdsOptions{}); err == nil {
		t.Errorf("client without credentials accepted")
	}
}
