package report

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/naperu/painel/internal/mapping"
	"github.com/naperu/painel/internal/metrics"
	"github.com/naperu/painel/internal/repository"
	"github.com/naperu/painel/pkg/cache"
)

const cacheTTL = 60 * time.Second

// Service owns the report read path: full scoped fetches (the window
// filter runs in-process because the imported cf_ dimensions live in a
// per-row map), compute, and a short per-query cache.
type Service struct {
	repos *repository.Repositories
	cache *cache.Cache
}

func NewService(repos *repository.Repositories, c *cache.Cache) *Service {
	return &Service{repos: repos, cache: c}
}

// InvalidateClient drops every cached report of one tenant; called
// after a successful sync.
func (s *Service) InvalidateClient(ctx context.Context, clientID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DelPattern(ctx, "report:"+clientID.String()+":*"); err != nil {
		log.Printf("[Report] invalidate cache client=%s: %v", clientID, err)
	}
}

func (s *Service) cached(ctx context.Context, key string, endpoint string, dest any) bool {
	if s.cache == nil {
		return false
	}
	hit, err := s.cache.GetJSON(ctx, key, dest)
	if err != nil {
		log.Printf("[Report] cache read %s: %v", key, err)
		return false
	}
	if hit {
		metrics.ReportRequests.WithLabelValues(endpoint, "hit").Inc()
	}
	return hit
}

func (s *Service) store(ctx context.Context, key string, endpoint string, value any) {
	metrics.ReportRequests.WithLabelValues(endpoint, "miss").Inc()
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJSON(ctx, key, value, cacheTTL); err != nil {
		log.Printf("[Report] cache write %s: %v", key, err)
	}
}

func (s *Service) resolveMapping(ctx context.Context, clientID uuid.UUID) (*mapping.Mapping, error) {
	values, err := s.repos.Predefinition.GetActivePredefinitions(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("buscar predefinições: %w", err)
	}
	m := mapping.FromPredefinitions(values)
	return &m, nil
}

// fetchInput loads the full opportunity and event sets of one tenant.
// A source failing to load is recorded as a subject-tagged error so the
// aggregator can null only the dependent metrics.
func (s *Service) fetchInput(ctx context.Context, clientID uuid.UUID) Input {
	var in Input
	opps, err := s.repos.Opportunity.ListAllByClient(ctx, clientID)
	if err != nil {
		in.Errors = append(in.Errors, fmt.Sprintf("Erro ao buscar oportunidades: %v", err))
	} else {
		in.Opportunities = opps
	}
	events, err := s.repos.Event.ListAllByClient(ctx, clientID)
	if err != nil {
		in.Errors = append(in.Errors, fmt.Sprintf("Erro ao buscar eventos de calendário: %v", err))
	} else {
		in.Events = events
	}
	return in
}

func filterCacheKey(f Filters) string {
	return strings.Join(f.PipelineIDs, ",") + "|" + strings.Join(f.Sources, ",")
}

// Indicators computes the headline numbers for one tenant and period.
func (s *Service) Indicators(ctx context.Context, clientID uuid.UUID, period Period, filters Filters) (*IndicatorsResult, error) {
	key := fmt.Sprintf("report:%s:indicators:%d:%d:%s",
		clientID, period.Start.UnixMilli(), period.End.UnixMilli(), filterCacheKey(filters))
	var cached IndicatorsResult
	if s.cached(ctx, key, "indicators", &cached) {
		return &cached, nil
	}

	m, err := s.resolveMapping(ctx, clientID)
	if err != nil {
		return nil, err
	}
	in := s.fetchInput(ctx, clientID)
	result := ComputeIndicators(in, m, period, filters)

	s.store(ctx, key, "indicators", result)
	return result, nil
}

// Extra computes the secondary tables (series, monthly, breakdowns,
// cross matrices).
func (s *Service) Extra(ctx context.Context, clientID uuid.UUID, period Period, filters Filters, opts ExtraOptions) (*ExtraResult, error) {
	year := ""
	if opts.Year != nil {
		year = fmt.Sprintf("%d", *opts.Year)
	}
	key := fmt.Sprintf("report:%s:extra:%d:%d:%s:%s:%s:%s",
		clientID, period.Start.UnixMilli(), period.End.UnixMilli(),
		filterCacheKey(filters), opts.RowDim, opts.ColDim, year)
	var cached ExtraResult
	if s.cached(ctx, key, "extra", &cached) {
		return &cached, nil
	}

	m, err := s.resolveMapping(ctx, clientID)
	if err != nil {
		return nil, err
	}

	opps, err := s.repos.Opportunity.ListAllByClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("buscar oportunidades: %w", err)
	}
	events, err := s.repos.Event.ListAllByClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("buscar eventos de calendário: %w", err)
	}
	names, err := s.repos.GhlUser.NameMap(ctx, clientID)
	if err != nil {
		log.Printf("[Report] client=%s user names: %v", clientID, err)
		names = map[string]string{}
	}

	startDate, endDate := period.DateStrings()
	spend, err := s.repos.AdsInsight.ListByDateRange(ctx, clientID, startDate, endDate)
	if err != nil {
		log.Printf("[Report] client=%s spend: %v", clientID, err)
	}
	if opts.Year != nil {
		y := fmt.Sprintf("%d", *opts.Year)
		yearSpend, err := s.repos.AdsInsight.ListByDateRange(ctx, clientID, y+"-01-01", y+"-12-31")
		if err != nil {
			log.Printf("[Report] client=%s year spend: %v", clientID, err)
		}
		opts.YearSpend = yearSpend
	}

	in := ExtraInput{
		Opportunities: opps,
		Events:        events,
		Spend:         spend,
		UserNames:     names,
	}
	result := ComputeExtra(in, m, period, filters, opts)

	s.store(ctx, key, "extra", result)
	return result, nil
}

// Investment sums the ads spend of the period and of the preceding
// window of equal length.
func (s *Service) Investment(ctx context.Context, clientID uuid.UUID, period Period) (*InvestmentResult, error) {
	key := fmt.Sprintf("report:%s:investment:%d:%d",
		clientID, period.Start.UnixMilli(), period.End.UnixMilli())
	var cached InvestmentResult
	if s.cached(ctx, key, "investment", &cached) {
		return &cached, nil
	}

	startDate, endDate := period.DateStrings()
	total, err := s.repos.AdsInsight.SumSpend(ctx, clientID, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("somar investimento: %w", err)
	}
	result := &InvestmentResult{Total: total}
	if prev := period.Previous(); prev != nil {
		prevStart, prevEnd := prev.DateStrings()
		prevTotal, err := s.repos.AdsInsight.SumSpend(ctx, clientID, prevStart, prevEnd)
		if err != nil {
			return nil, fmt.Errorf("somar investimento anterior: %w", err)
		}
		result.PreviousTotal = prevTotal
	}

	s.store(ctx, key, "investment", result)
	return result, nil
}

// DataPipeline is a pipeline with its stages, keyed by CRM ids for the
// filter dropdowns.
type DataPipeline struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Stages []DataStage `json:"stages"`
}

type DataStage struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DataOpportunity is the minimal row for the table view filters.
type DataOpportunity struct {
	PipelineID *string `json:"pipelineId,omitempty"`
	StageID    *string `json:"stageId,omitempty"`
}

// DataResult is the data endpoint payload: the filter reference sets
// served straight from the mirror, without touching the CRM.
type DataResult struct {
	Pipelines     []DataPipeline    `json:"pipelines"`
	Opportunities []DataOpportunity `json:"opportunities"`
	Sources       []string          `json:"sources"`
}

// Data lists the mirrored pipelines/stages plus every opportunity's
// pipeline/stage refs and the distinct source labels.
func (s *Service) Data(ctx context.Context, clientID uuid.UUID) (*DataResult, error) {
	key := fmt.Sprintf("report:%s:data", clientID)
	var cached DataResult
	if s.cached(ctx, key, "data", &cached) {
		return &cached, nil
	}

	pipelines, err := s.repos.Pipeline.ListWithStages(ctx, clientID, true)
	if err != nil {
		return nil, fmt.Errorf("buscar pipelines: %w", err)
	}
	result := &DataResult{Pipelines: make([]DataPipeline, 0, len(pipelines))}
	for _, p := range pipelines {
		dp := DataPipeline{ID: p.GhlPipelineID, Name: p.Name, Stages: []DataStage{}}
		for _, st := range p.Stages {
			dp.Stages = append(dp.Stages, DataStage{ID: st.GhlStageID, Name: st.Name})
		}
		result.Pipelines = append(result.Pipelines, dp)
	}

	opps, err := s.repos.Opportunity.ListAllByClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("buscar oportunidades: %w", err)
	}
	sourceSet := map[string]struct{}{}
	result.Opportunities = make([]DataOpportunity, 0, len(opps))
	for _, o := range opps {
		result.Opportunities = append(result.Opportunities, DataOpportunity{
			PipelineID: o.PipelineID,
			StageID:    o.StageID,
		})
		sourceSet[sourceLabel(o)] = struct{}{}
	}
	result.Sources = make([]string, 0, len(sourceSet))
	for src := range sourceSet {
		result.Sources = append(result.Sources, src)
	}
	sort.Strings(result.Sources)

	s.store(ctx, key, "data", result)
	return result, nil
}
