// Package mapping resolves the per-tenant field mapping settings that
// drive the sync pipeline: which CRM custom fields feed the UTM columns,
// the sale date, the imported extra columns and the ads linkage.
package mapping

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/naperu/painel/internal/domain"
)

// OpportunityLinkColumns are the opportunity columns allowed on the ads
// linkage (opportunity side).
var OpportunityLinkColumns = []string{
	"utm_source", "utm_campaign", "utm_medium", "utm_term", "utm_content",
}

// AdsLinkColumns are the insight columns allowed on the ads linkage
// (ads side).
var AdsLinkColumns = []string{
	"ad_id", "ad_name", "campaign_id", "campaign_name", "adset_id", "adset_name",
}

// ImportColumn is one extra custom field imported into the opportunity
// mirror, stored in the custom_fields map under Column.
type ImportColumn struct {
	FieldID string `json:"id"`
	Name    string `json:"name"`
	Column  string `json:"-"`
}

// LinkColumns is the configured opportunity ↔ ads join. Empty values
// mean the linkage is not configured.
type LinkColumns struct {
	OpportunityColumn string
	AdsColumn         string
}

// Mapping is the resolved per-tenant configuration. Zero values mean
// "not configured"; resolution never fails on missing keys.
type Mapping struct {
	UtmSourceFieldID   string
	UtmCampaignFieldID string
	UtmMediumFieldID   string
	UtmTermFieldID     string
	UtmContentFieldID  string
	SaleDateFieldID    string
	ImportColumns      []ImportColumn
	AdsSourceTerms     map[string]struct{}
	Link               LinkColumns
}

// IsAdsSource reports whether a raw utm_source value counts as paid
// traffic: trimmed, lowercased membership in the configured term set.
func (m *Mapping) IsAdsSource(utmSource string) bool {
	if len(m.AdsSourceTerms) == 0 {
		return false
	}
	_, ok := m.AdsSourceTerms[strings.ToLower(strings.TrimSpace(utmSource))]
	return ok
}

// SanitizeColumn derives a stable column name from a CRM field id:
// "cf_" prefix and every byte outside [A-Za-z0-9_] replaced by '_'.
func SanitizeColumn(fieldID string) string {
	var b strings.Builder
	b.Grow(len(fieldID) + 3)
	b.WriteString("cf_")
	for i := 0; i < len(fieldID); i++ {
		c := fieldID[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteByte(c)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// FromPredefinitions builds a Mapping from the active predefinition
// key/value rows. Malformed JSON values degrade to empty configuration
// for that key.
func FromPredefinitions(values map[string]string) Mapping {
	m := Mapping{
		UtmSourceFieldID:   strings.TrimSpace(values[domain.KeyUtmSourceFieldID]),
		UtmCampaignFieldID: strings.TrimSpace(values[domain.KeyUtmCampaignFieldID]),
		UtmMediumFieldID:   strings.TrimSpace(values[domain.KeyUtmMediumFieldID]),
		UtmTermFieldID:     strings.TrimSpace(values[domain.KeyUtmTermFieldID]),
		UtmContentFieldID:  strings.TrimSpace(values[domain.KeyUtmContentFieldID]),
		SaleDateFieldID:    strings.TrimSpace(values[domain.KeySaleDateFieldID]),
		AdsSourceTerms:     map[string]struct{}{},
	}

	if raw := values[domain.KeyImportCustomFields]; raw != "" {
		var cols []ImportColumn
		if err := json.Unmarshal([]byte(raw), &cols); err == nil {
			for _, c := range cols {
				c.FieldID = strings.TrimSpace(c.FieldID)
				if c.FieldID == "" {
					continue
				}
				c.Column = SanitizeColumn(c.FieldID)
				m.ImportColumns = append(m.ImportColumns, c)
			}
		}
	}

	if raw := values[domain.KeyFacebookUtmSourceTerms]; raw != "" {
		var terms []string
		if err := json.Unmarshal([]byte(raw), &terms); err == nil {
			for _, t := range terms {
				t = strings.ToLower(strings.TrimSpace(t))
				if t != "" {
					m.AdsSourceTerms[t] = struct{}{}
				}
			}
		}
	}

	if col := strings.TrimSpace(values[domain.KeyAdsLinkOpportunityCol]); contains(OpportunityLinkColumns, col) {
		m.Link.OpportunityColumn = col
	}
	if col := strings.TrimSpace(values[domain.KeyAdsLinkAdsCol]); contains(AdsLinkColumns, col) {
		m.Link.AdsColumn = col
	}

	return m
}

func contains(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// PredefinitionSource reads the active settings rows of a tenant.
type PredefinitionSource interface {
	GetActivePredefinitions(ctx context.Context, clientID uuid.UUID) (map[string]string, error)
}

// Resolver loads the Mapping of a tenant from its stored settings.
type Resolver struct {
	source PredefinitionSource
}

func NewResolver(source PredefinitionSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve reads the active predefinitions and builds the Mapping.
// Missing keys yield zero values, never errors.
func (r *Resolver) Resolve(ctx context.Context, clientID uuid.UUID) (Mapping, error) {
	values, err := r.source.GetActivePredefinitions(ctx, clientID)
	if err != nil {
		return Mapping{}, err
	}
	return FromPredefinitions(values), nil
}
