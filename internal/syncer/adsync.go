package syncer

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/naperu/painel/internal/domain"
	"github.com/naperu/painel/internal/fbads"
	"github.com/naperu/painel/internal/metrics"
)

// The ads sync shares the guard with the CRM sync under its own mode key.
const adsSyncMode domain.SyncMode = "facebook_ads"

// Backfill horizon when a tenant has no persisted spend yet.
const adsBackfillDays = 30

// AdsStore is the persistence surface of the spend mirror.
type AdsStore interface {
	MaxInsightDate(ctx context.Context, clientID uuid.UUID) (string, error)
	UpsertInsights(ctx context.Context, rows []*domain.AdsDailyInsight) error
}

// AdsClient is the Meta API surface the ads sync consumes.
type AdsClient interface {
	GetInsightsDaily(ctx context.Context, adAccountID, since, until string) ([]fbads.DailyInsightRow, error)
	GetAdNamesBatch(ctx context.Context, adIDs []string) (map[string]fbads.AdInfo, error)
}

// AdsClientFactory builds a Meta client from a tenant's token.
type AdsClientFactory func(accessToken string) AdsClient

// AdsSyncer keeps the Meta daily spend mirror fresh.
type AdsSyncer struct {
	store     AdsStore
	guard     *Guard
	newClient AdsClientFactory
	now       func() time.Time
}

func NewAdsSyncer(store AdsStore, guard *Guard) *AdsSyncer {
	return &AdsSyncer{
		store: store,
		guard: guard,
		newClient: func(accessToken string) AdsClient {
			return fbads.NewClient(accessToken)
		},
		now: time.Now,
	}
}

var metaDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
var brDateRe = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{4})$`)

// NormalizeMetaDate accepts YYYY-MM-DD or dd/mm/yyyy and returns
// YYYY-MM-DD, or "" when the value does not parse.
func NormalizeMetaDate(value string) string {
	if metaDateRe.MatchString(value) {
		if _, err := time.Parse("2006-01-02", value); err == nil {
			return value
		}
		return ""
	}
	m := brDateRe.FindStringSubmatch(value)
	if m == nil {
		return ""
	}
	t, err := time.Parse("2-1-2006", fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3]))
	if err != nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// daysBetween lists the days from since to until inclusive (YYYY-MM-DD).
func daysBetween(since, until string) []string {
	a, err1 := time.Parse("2006-01-02", since)
	b, err2 := time.Parse("2006-01-02", until)
	if err1 != nil || err2 != nil || a.After(b) {
		return nil
	}
	var out []string
	for d := a; !d.After(b); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format("2006-01-02"))
	}
	return out
}

// AdsOptions select the window of one ads sync run. Empty dates mean
// incremental: newest persisted day through today.
type AdsOptions struct {
	DateStart   string
	DateEnd     string
	BypassGuard bool
}

// Run fetches spend day by day (one request per day avoids the API
// aggregating the range), enriches ad names in bulk and upserts by
// (tenant, date, ad).
func (s *AdsSyncer) Run(ctx context.Context, client *domain.Client, opts AdsOptions) (*domain.AdsSyncResult, error) {
	if !client.HasFbCredentials() {
		return nil, fmt.Errorf("cliente %s sem credenciais Facebook", client.ID)
	}

	if !opts.BypassGuard {
		if ok, retry := s.guard.TryAcquire(client.ID, adsSyncMode, true); !ok {
			return nil, &ErrCooldown{RetryAfter: retry}
		}
	}
	// Runs that fail before writing anything give the cooldown back.
	release := func() {
		if !opts.BypassGuard {
			s.guard.Release(client.ID, adsSyncMode)
		}
	}

	started := s.now()
	today := started.UTC().Format("2006-01-02")

	var since, until string
	if opts.DateStart != "" && opts.DateEnd != "" {
		since, until = opts.DateStart, opts.DateEnd
	} else {
		maxDate, err := s.store.MaxInsightDate(ctx, client.ID)
		if err != nil {
			release()
			return nil, fmt.Errorf("consultar última data: %w", err)
		}
		if maxDate != "" {
			since = maxDate
		} else {
			since = started.UTC().AddDate(0, 0, -adsBackfillDays).Format("2006-01-02")
		}
		until = today
	}

	days := daysBetween(since, until)
	if len(days) == 0 {
		release()
		return nil, fmt.Errorf("data início deve ser anterior ou igual à data fim")
	}

	log.Printf("[FB Sync] client=%s window=%s..%s (%d days)", client.ID, since, until, len(days))
	metrics.SyncRuns.WithLabelValues(string(adsSyncMode)).Inc()

	api := s.newClient(*client.FbAccessToken)
	accountID := *client.FbAdAccountID

	var allRows []fbads.DailyInsightRow
	for _, day := range days {
		rows, err := api.GetInsightsDaily(ctx, accountID, day, day)
		if err != nil {
			metrics.SyncErrors.WithLabelValues(string(adsSyncMode)).Inc()
			release()
			return nil, fmt.Errorf("insights de %s: %w", day, err)
		}
		allRows = append(allRows, rows...)
	}

	result := &domain.AdsSyncResult{Days: len(days), SyncedAt: started}

	adIDSet := make(map[string]struct{})
	adIDs := make([]string, 0)
	for _, r := range allRows {
		if r.AdID == "" {
			continue
		}
		if _, ok := adIDSet[r.AdID]; !ok {
			adIDSet[r.AdID] = struct{}{}
			adIDs = append(adIDs, r.AdID)
		}
	}
	if len(adIDs) == 0 {
		result.Duration = s.now().Sub(started).Round(time.Millisecond).String()
		return result, nil
	}

	adInfo, err := api.GetAdNamesBatch(ctx, adIDs)
	if err != nil {
		metrics.SyncErrors.WithLabelValues(string(adsSyncMode)).Inc()
		release()
		return nil, fmt.Errorf("nomes dos anúncios: %w", err)
	}

	toUpsert := make([]*domain.AdsDailyInsight, 0, len(allRows))
	for _, r := range allRows {
		if r.DateStart == "" || r.AdID == "" {
			continue
		}
		row := &domain.AdsDailyInsight{
			ClientID:    client.ID,
			Date:        r.DateStart,
			AdID:        r.AdID,
			Impressions: parseInt64(r.Impressions),
			Clicks:      parseInt64(r.Clicks),
			Spend:       parseFloat(r.Spend),
		}
		info, ok := adInfo[r.AdID]
		if ok {
			row.AdName = strPtr(info.Name)
			if info.Campaign != nil {
				row.CampaignID = strPtr(info.Campaign.ID)
				row.CampaignName = strPtr(info.Campaign.Name)
			}
			if info.Adset != nil {
				row.AdsetID = strPtr(info.Adset.ID)
				row.AdsetName = strPtr(info.Adset.Name)
			}
		}
		if row.CampaignID == nil {
			row.CampaignID = strPtr(r.CampaignID)
		}
		if row.AdsetID == nil {
			row.AdsetID = strPtr(r.AdsetID)
		}
		toUpsert = append(toUpsert, row)
	}

	var errs []string
	count := 0
	for lo := 0; lo < len(toUpsert); lo += upsertChunkSize {
		hi := lo + upsertChunkSize
		if hi > len(toUpsert) {
			hi = len(toUpsert)
		}
		if err := s.store.UpsertInsights(ctx, toUpsert[lo:hi]); err != nil {
			errs = append(errs, fmt.Sprintf("anúncios: lote %d-%d: %v", lo, hi, err))
			continue
		}
		count += hi - lo
	}

	result.Rows = count
	result.Errors = errs
	result.Duration = s.now().Sub(started).Round(time.Millisecond).String()
	metrics.SyncRows.WithLabelValues("ads_insights").Add(float64(count))
	if len(errs) > 0 {
		metrics.SyncErrors.WithLabelValues(string(adsSyncMode)).Inc()
	}
	log.Printf("[FB Sync] client=%s done in %s: %d rows, %d errors", client.ID, result.Duration, count, len(errs))

	return result, nil
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
