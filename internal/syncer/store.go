package syncer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/naperu/painel/internal/domain"
	"github.com/naperu/painel/internal/repository"
)

// RepoStore adapts the pgx repositories to the syncer's Store surface.
type RepoStore struct {
	repos *repository.Repositories
}

func NewRepoStore(repos *repository.Repositories) *RepoStore {
	return &RepoStore{repos: repos}
}

func (s *RepoStore) GetActivePredefinitions(ctx context.Context, clientID uuid.UUID) (map[string]string, error) {
	return s.repos.Predefinition.GetActivePredefinitions(ctx, clientID)
}

func (s *RepoStore) LatestOpportunityCreated(ctx context.Context, clientID uuid.UUID) (*time.Time, error) {
	return s.repos.Opportunity.LatestDateAdded(ctx, clientID)
}

func (s *RepoStore) LatestEventStart(ctx context.Context, clientID uuid.UUID) (*time.Time, error) {
	return s.repos.Event.LatestStartTime(ctx, clientID)
}

func (s *RepoStore) UpsertPipeline(ctx context.Context, clientID uuid.UUID, ghlPipelineID, name string) (uuid.UUID, error) {
	return s.repos.Pipeline.Upsert(ctx, clientID, ghlPipelineID, name)
}

func (s *RepoStore) UpsertStage(ctx context.Context, pipelineID uuid.UUID, ghlStageID, name string, position int) error {
	return s.repos.Pipeline.UpsertStage(ctx, pipelineID, ghlStageID, name, position)
}

func (s *RepoStore) UpsertCalendar(ctx context.Context, clientID uuid.UUID, ghlCalendarID string, name *string) error {
	return s.repos.Calendar.Upsert(ctx, clientID, ghlCalendarID, name)
}

func (s *RepoStore) DeleteAbsentCalendars(ctx context.Context, clientID uuid.UUID, keepGhlIDs []string) error {
	return s.repos.Calendar.DeleteAbsent(ctx, clientID, keepGhlIDs)
}

func (s *RepoStore) UpsertGhlUser(ctx context.Context, clientID uuid.UUID, ghlUserID string, name, email *string) error {
	return s.repos.GhlUser.Upsert(ctx, clientID, ghlUserID, name, email)
}

func (s *RepoStore) DeleteAbsentGhlUsers(ctx context.Context, clientID uuid.UUID, keepGhlIDs []string) error {
	return s.repos.GhlUser.DeleteAbsent(ctx, clientID, keepGhlIDs)
}

func (s *RepoStore) UpsertOpportunities(ctx context.Context, rows []*domain.Opportunity) error {
	return s.repos.Opportunity.UpsertChunk(ctx, rows)
}

func (s *RepoStore) UpsertEvents(ctx context.Context, rows []*domain.CalendarEvent) error {
	return s.repos.Event.UpsertChunk(ctx, rows)
}

func (s *RepoStore) MaxInsightDate(ctx context.Context, clientID uuid.UUID) (string, error) {
	return s.repos.AdsInsight.MaxDate(ctx, clientID)
}

func (s *RepoStore) UpsertInsights(ctx context.Context, rows []*domain.AdsDailyInsight) error {
	return s.repos.AdsInsight.UpsertChunk(ctx, rows)
}
