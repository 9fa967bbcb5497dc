package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/naperu/painel/internal/domain"
	"github.com/naperu/painel/internal/mapping"
	"github.com/naperu/painel/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

type Services struct {
	Auth     *AuthService
	Client   *ClientService
	Settings *SettingsService
}

func NewServices(repos *repository.Repositories) *Services {
	return &Services{
		Auth:     &AuthService{repos: repos},
		Client:   &ClientService{repos: repos},
		Settings: &SettingsService{repos: repos},
	}
}

// AuthService handles authentication
type AuthService struct {
	repos *repository.Repositories
}

type JWTClaims struct {
	UserID   uuid.UUID  `json:"user_id"`
	ClientID *uuid.UUID `json:"client_id,omitempty"`
	Username string     `json:"username"`
	Role     string     `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the claims carry the admin role.
func (c *JWTClaims) IsAdmin() bool {
	return c.Role == domain.RoleAdmin
}

func (s *AuthService) Login(ctx context.Context, username, password, jwtSecret string) (string, *domain.User, error) {
	user, err := s.repos.User.GetByUsername(ctx, username)
	if err != nil {
		return "", nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil || !user.IsActive {
		return "", nil, fmt.Errorf("credenciais inválidas")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, fmt.Errorf("credenciais inválidas")
	}

	claims := &JWTClaims{
		UserID:   user.ID,
		ClientID: user.ClientID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * 7 * time.Hour)), // 7 days
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "painel",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, user, nil
}

func (s *AuthService) ValidateToken(tokenString, jwtSecret string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

func (s *AuthService) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.repos.User.GetByID(ctx, userID)
}

// ClientService handles tenant management
type ClientService struct {
	repos *repository.Repositories
}

func (s *ClientService) Create(ctx context.Context, c *domain.Client) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("nome do cliente é obrigatório")
	}
	return s.repos.Client.Create(ctx, c)
}

func (s *ClientService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	return s.repos.Client.GetByID(ctx, id)
}

func (s *ClientService) List(ctx context.Context) ([]*domain.Client, error) {
	return s.repos.Client.List(ctx)
}

func (s *ClientService) Update(ctx context.Context, c *domain.Client) error {
	return s.repos.Client.Update(ctx, c)
}

func (s *ClientService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repos.Client.Delete(ctx, id)
}

// ResolveClientID picks the tenant of one request: admins may act on
// any tenant via the explicit id, regular users are pinned to their
// own.
func (s *ClientService) ResolveClientID(claims *JWTClaims, requested string) (uuid.UUID, error) {
	if claims.IsAdmin() {
		if requested == "" {
			return uuid.Nil, fmt.Errorf("client_id é obrigatório")
		}
		id, err := uuid.Parse(requested)
		if err != nil {
			return uuid.Nil, fmt.Errorf("client_id inválido")
		}
		return id, nil
	}
	if claims.ClientID == nil {
		return uuid.Nil, fmt.Errorf("usuário sem cliente associado")
	}
	if requested != "" && requested != claims.ClientID.String() {
		return uuid.Nil, fmt.Errorf("acesso negado ao cliente informado")
	}
	return *claims.ClientID, nil
}

// SettingsService handles the per-tenant predefinition settings.
type SettingsService struct {
	repos *repository.Repositories
}

// PredefinitionsPayload is the explicit save: the reference sets the
// operator confirmed in the settings screen.
type PredefinitionsPayload struct {
	Pipelines []PipelinePayload `json:"pipelines"`
	Calendars []IDName          `json:"calendars"`
	Users     []UserPayload     `json:"users"`
}

type PipelinePayload struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Stages []IDName `json:"stages,omitempty"`
}

type IDName struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type UserPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// SavePredefinitions is the only operation that deactivates pipelines
// and stages: everything in the payload is upserted active, everything
// else is flipped inactive. Stages are only deactivated when the
// submitted stage list for that pipeline is non-empty, so a transient
// empty fetch cannot wipe history. Stamps the save timestamp.
func (s *SettingsService) SavePredefinitions(ctx context.Context, clientID uuid.UUID, payload PredefinitionsPayload) error {
	pipelineIDs := make([]string, 0, len(payload.Pipelines))
	for _, p := range payload.Pipelines {
		if p.ID == "" {
			continue
		}
		pipelineIDs = append(pipelineIDs, p.ID)

		localID, err := s.repos.Pipeline.Upsert(ctx, clientID, p.ID, p.Name)
		if err != nil {
			return fmt.Errorf("pipeline %s: %w", p.Name, err)
		}
		for i, st := range p.Stages {
			if st.ID == "" {
				continue
			}
			if err := s.repos.Pipeline.UpsertStage(ctx, localID, st.ID, st.Name, i); err != nil {
				return fmt.Errorf("estágio %s: %w", st.Name, err)
			}
		}

		stageIDs := make([]string, 0, len(p.Stages))
		for _, st := range p.Stages {
			if st.ID != "" {
				stageIDs = append(stageIDs, st.ID)
			}
		}
		if err := s.repos.Pipeline.SetStagesActiveByGhlIDs(ctx, clientID, p.ID, stageIDs); err != nil {
			return fmt.Errorf("estágios do pipeline %s: %w", p.Name, err)
		}
	}
	if err := s.repos.Pipeline.SetActiveByGhlIDs(ctx, clientID, pipelineIDs); err != nil {
		return fmt.Errorf("pipelines: %w", err)
	}

	calendarIDs := make([]string, 0, len(payload.Calendars))
	for _, c := range payload.Calendars {
		if c.ID == "" {
			continue
		}
		calendarIDs = append(calendarIDs, c.ID)
		name := c.Name
		if err := s.repos.Calendar.Upsert(ctx, clientID, c.ID, &name); err != nil {
			return fmt.Errorf("calendário %s: %w", c.Name, err)
		}
	}
	if err := s.repos.Calendar.SetActiveByGhlIDs(ctx, clientID, calendarIDs); err != nil {
		return fmt.Errorf("calendários: %w", err)
	}

	userIDs := make([]string, 0, len(payload.Users))
	for _, u := range payload.Users {
		if u.ID == "" {
			continue
		}
		userIDs = append(userIDs, u.ID)
		name, email := u.Name, u.Email
		var emailPtr *string
		if email != "" {
			emailPtr = &email
		}
		if err := s.repos.GhlUser.Upsert(ctx, clientID, u.ID, &name, emailPtr); err != nil {
			return fmt.Errorf("usuário %s: %w", u.Name, err)
		}
	}
	if err := s.repos.GhlUser.SetActiveByGhlIDs(ctx, clientID, userIDs); err != nil {
		return fmt.Errorf("usuários: %w", err)
	}

	savedAt := time.Now().UTC().Format(time.RFC3339)
	return s.repos.Predefinition.SaveKeys(ctx, clientID, map[string]*string{
		domain.KeyPredefinitionsSavedAt: &savedAt,
	})
}

// LastSavedAt returns the RFC3339 timestamp of the last explicit save,
// nil when never saved.
func (s *SettingsService) LastSavedAt(ctx context.Context, clientID uuid.UUID) (*string, error) {
	values, err := s.repos.Predefinition.GetActivePredefinitions(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if v, ok := values[domain.KeyPredefinitionsSavedAt]; ok {
		return &v, nil
	}
	return nil, nil
}

// UtmMappingPayload mirrors the UTM settings screen. Pointer fields
// distinguish "not submitted" from "clear this key".
type UtmMappingPayload struct {
	UtmSourceFieldID   *string `json:"utm_source_field_id"`
	UtmCampaignFieldID *string `json:"utm_campaign_field_id"`
	UtmMediumFieldID   *string `json:"utm_medium_field_id"`
	UtmTermFieldID     *string `json:"utm_term_field_id"`
	UtmContentFieldID  *string `json:"utm_content_field_id"`

	FacebookCampaignUtm *string `json:"facebook_campaign_utm"`
	FacebookAdsetUtm    *string `json:"facebook_adset_utm"`
	FacebookCreativeUtm *string `json:"facebook_creative_utm"`

	FacebookUtmSourceTerms []string `json:"facebook_utm_source_terms,omitempty"`

	AdsLinkOpportunityColumn *string `json:"opportunity_ads_link_opportunity_column"`
	AdsLinkAdsColumn         *string `json:"opportunity_ads_link_ads_column"`
}

var utmFieldKeys = []string{
	domain.KeyUtmSourceFieldID,
	domain.KeyUtmCampaignFieldID,
	domain.KeyUtmMediumFieldID,
	domain.KeyUtmTermFieldID,
	domain.KeyUtmContentFieldID,
}

// GetUtmMapping reads the active UTM mapping settings.
func (s *SettingsService) GetUtmMapping(ctx context.Context, clientID uuid.UUID) (*UtmMappingPayload, error) {
	values, err := s.repos.Predefinition.GetActivePredefinitions(ctx, clientID)
	if err != nil {
		return nil, err
	}
	get := func(key string) *string {
		if v, ok := values[key]; ok && v != "" {
			return &v
		}
		return nil
	}
	payload := &UtmMappingPayload{
		UtmSourceFieldID:         get(domain.KeyUtmSourceFieldID),
		UtmCampaignFieldID:       get(domain.KeyUtmCampaignFieldID),
		UtmMediumFieldID:         get(domain.KeyUtmMediumFieldID),
		UtmTermFieldID:           get(domain.KeyUtmTermFieldID),
		UtmContentFieldID:        get(domain.KeyUtmContentFieldID),
		FacebookCampaignUtm:      get(domain.KeyFacebookCampaignUtm),
		FacebookAdsetUtm:         get(domain.KeyFacebookAdsetUtm),
		FacebookCreativeUtm:      get(domain.KeyFacebookCreativeUtm),
		FacebookUtmSourceTerms:   []string{},
		AdsLinkOpportunityColumn: get(domain.KeyAdsLinkOpportunityCol),
		AdsLinkAdsColumn:         get(domain.KeyAdsLinkAdsCol),
	}
	if raw, ok := values[domain.KeyFacebookUtmSourceTerms]; ok && raw != "" {
		var terms []string
		if err := json.Unmarshal([]byte(raw), &terms); err == nil {
			for _, t := range terms {
				if t = strings.TrimSpace(t); t != "" {
					payload.FacebookUtmSourceTerms = append(payload.FacebookUtmSourceTerms, t)
				}
			}
		}
	}
	return payload, nil
}

// SaveUtmMapping rewrites the whole UTM mapping key set: every key is
// deactivated and only submitted non-empty values are re-inserted.
func (s *SettingsService) SaveUtmMapping(ctx context.Context, clientID uuid.UUID, payload UtmMappingPayload) error {
	values := map[string]*string{}
	for _, key := range utmFieldKeys {
		values[key] = nil
	}
	values[domain.KeyFacebookCampaignUtm] = nil
	values[domain.KeyFacebookAdsetUtm] = nil
	values[domain.KeyFacebookCreativeUtm] = nil
	values[domain.KeyFacebookUtmSourceTerms] = nil
	values[domain.KeyAdsLinkOpportunityCol] = nil
	values[domain.KeyAdsLinkAdsCol] = nil

	setField := func(key string, v *string) {
		if v == nil {
			return
		}
		if trimmed := strings.TrimSpace(*v); trimmed != "" {
			values[key] = &trimmed
		}
	}
	setField(domain.KeyUtmSourceFieldID, payload.UtmSourceFieldID)
	setField(domain.KeyUtmCampaignFieldID, payload.UtmCampaignFieldID)
	setField(domain.KeyUtmMediumFieldID, payload.UtmMediumFieldID)
	setField(domain.KeyUtmTermFieldID, payload.UtmTermFieldID)
	setField(domain.KeyUtmContentFieldID, payload.UtmContentFieldID)

	// Facebook → UTM column picks must be one of the UTM columns.
	setColumn := func(key string, v *string, allowed []string) {
		if v == nil {
			return
		}
		trimmed := strings.TrimSpace(*v)
		for _, col := range allowed {
			if col == trimmed {
				values[key] = &trimmed
				return
			}
		}
	}
	setColumn(domain.KeyFacebookCampaignUtm, payload.FacebookCampaignUtm, mapping.OpportunityLinkColumns)
	setColumn(domain.KeyFacebookAdsetUtm, payload.FacebookAdsetUtm, mapping.OpportunityLinkColumns)
	setColumn(domain.KeyFacebookCreativeUtm, payload.FacebookCreativeUtm, mapping.OpportunityLinkColumns)
	setColumn(domain.KeyAdsLinkOpportunityCol, payload.AdsLinkOpportunityColumn, mapping.OpportunityLinkColumns)
	setColumn(domain.KeyAdsLinkAdsCol, payload.AdsLinkAdsColumn, mapping.AdsLinkColumns)

	if payload.FacebookUtmSourceTerms != nil {
		seen := map[string]struct{}{}
		terms := make([]string, 0, len(payload.FacebookUtmSourceTerms))
		for _, t := range payload.FacebookUtmSourceTerms {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			terms = append(terms, t)
		}
		encoded, err := json.Marshal(terms)
		if err != nil {
			return err
		}
		v := string(encoded)
		values[domain.KeyFacebookUtmSourceTerms] = &v
	}

	return s.repos.Predefinition.SaveKeys(ctx, clientID, values)
}

// GetSaleDateField reads the mapped sale-date field id, "" when unset.
func (s *SettingsService) GetSaleDateField(ctx context.Context, clientID uuid.UUID) (string, error) {
	values, err := s.repos.Predefinition.GetActivePredefinitions(ctx, clientID)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(values[domain.KeySaleDateFieldID]), nil
}

// SaveSaleDateField maps (or clears, with an empty id) the sale-date
// custom field.
func (s *SettingsService) SaveSaleDateField(ctx context.Context, clientID uuid.UUID, fieldID string) error {
	fieldID = strings.TrimSpace(fieldID)
	var value *string
	if fieldID != "" {
		value = &fieldID
	}
	return s.repos.Predefinition.SaveKeys(ctx, clientID, map[string]*string{
		domain.KeySaleDateFieldID: value,
	})
}

// ImportField is one custom field the tenant mirrors into the
// opportunity rows.
type ImportField struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GetImportFields reads the configured import fields.
func (s *SettingsService) GetImportFields(ctx context.Context, clientID uuid.UUID) ([]ImportField, error) {
	values, err := s.repos.Predefinition.GetActivePredefinitions(ctx, clientID)
	if err != nil {
		return nil, err
	}
	fields := []ImportField{}
	if raw, ok := values[domain.KeyImportCustomFields]; ok && raw != "" {
		var parsed []ImportField
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			for _, f := range parsed {
				if strings.TrimSpace(f.ID) != "" {
					fields = append(fields, f)
				}
			}
		}
	}
	return fields, nil
}

// SaveImportFields replaces the import field selection. The stored
// value keeps only id and name; the mirror column name is derived at
// sync and read time from the id.
func (s *SettingsService) SaveImportFields(ctx context.Context, clientID uuid.UUID, fields []ImportField) error {
	clean := make([]ImportField, 0, len(fields))
	seen := map[string]struct{}{}
	for _, f := range fields {
		f.ID = strings.TrimSpace(f.ID)
		f.Name = strings.TrimSpace(f.Name)
		if f.ID == "" {
			continue
		}
		if _, ok := seen[f.ID]; ok {
			continue
		}
		seen[f.ID] = struct{}{}
		clean = append(clean, f)
	}
	encoded, err := json.Marshal(clean)
	if err != nil {
		return err
	}
	v := string(encoded)
	return s.repos.Predefinition.SaveKeys(ctx, clientID, map[string]*string{
		domain.KeyImportCustomFields: &v,
	})
}
