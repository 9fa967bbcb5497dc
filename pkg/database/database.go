package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/naperu/painel/pkg/config"
	"golang.org/x/crypto/bcrypt"
)

func Connect(databaseURL string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

func Migrate(db *pgxpool.Pool) error {
	ctx := context.Background()

	migrations := []string{
		// Clients table (multi-tenant: one row per dashboard customer)
		`CREATE TABLE IF NOT EXISTS clients (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(255) NOT NULL,
			ghl_api_key TEXT,
			ghl_location_id VARCHAR(255),
			fb_access_token TEXT,
			fb_ad_account_id VARCHAR(255),
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		// Users table (dashboard logins)
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			client_id UUID REFERENCES clients(id) ON DELETE SET NULL,
			username VARCHAR(255) UNIQUE NOT NULL,
			email VARCHAR(255) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			role VARCHAR(50) DEFAULT 'USER',
			is_active BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		// Pipelines mirrored from the CRM
		`CREATE TABLE IF NOT EXISTS pipelines (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			client_id UUID NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
			ghl_pipeline_id VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			active BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(client_id, ghl_pipeline_id)
		)`,

		`CREATE TABLE IF NOT EXISTS pipeline_stages (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			pipeline_id UUID NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
			ghl_stage_id VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			position INT DEFAULT 0,
			active BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(pipeline_id, ghl_stage_id)
		)`,

		`CREATE TABLE IF NOT EXISTS ghl_calendars (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			client_id UUID NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
			ghl_calendar_id VARCHAR(255) NOT NULL,
			name VARCHAR(255),
			active BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(client_id, ghl_calendar_id)
		)`,

		`CREATE TABLE IF NOT EXISTS ghl_users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			client_id UUID NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
			ghl_user_id VARCHAR(255) NOT NULL,
			name VARCHAR(255),
			email VARCHAR(255),
			active BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(client_id, ghl_user_id)
		)`,

		// Opportunities mirror. Imported custom fields live in the
		// custom_fields JSONB map keyed by sanitized column name (cf_*).
		`CREATE TABLE IF NOT EXISTS opportunities (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			client_id UUID NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
			ghl_opportunity_id VARCHAR(255) NOT NULL,
			pipeline_id VARCHAR(255),
			stage_id VARCHAR(255),
			name TEXT,
			status VARCHAR(50),
			monetary_value DOUBLE PRECISION,
			contact_id VARCHAR(255),
			assigned_to VARCHAR(255),
			source TEXT,
			date_added TIMESTAMPTZ,
			date_updated TIMESTAMPTZ,
			sale_date_value TEXT,
			utm_source TEXT,
			utm_campaign TEXT,
			utm_medium TEXT,
			utm_term TEXT,
			utm_content TEXT,
			custom_fields JSONB DEFAULT '{}',
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(client_id, ghl_opportunity_id)
		)`,

		`CREATE TABLE IF NOT EXISTS calendar_events (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			client_id UUID NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
			ghl_event_id VARCHAR(255) NOT NULL,
			ghl_calendar_id VARCHAR(255),
			title TEXT,
			status VARCHAR(100),
			start_time TIMESTAMPTZ,
			end_time TIMESTAMPTZ,
			contact_id VARCHAR(255),
			assigned_user_id VARCHAR(255),
			notes TEXT,
			source TEXT,
			date_added TIMESTAMPTZ,
			date_updated TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(client_id, ghl_event_id)
		)`,

		// Per-tenant settings, append-only history: one active row per key.
		`CREATE TABLE IF NOT EXISTS location_predefinitions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			client_id UUID NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
			key VARCHAR(255) NOT NULL,
			value TEXT,
			active BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS facebook_ads_daily_insights (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			client_id UUID NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
			date DATE NOT NULL,
			campaign_id VARCHAR(255),
			campaign_name TEXT,
			adset_id VARCHAR(255),
			adset_name TEXT,
			ad_id VARCHAR(255) NOT NULL,
			ad_name TEXT,
			impressions BIGINT DEFAULT 0,
			clicks BIGINT DEFAULT 0,
			spend DOUBLE PRECISION DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(client_id, date, ad_id)
		)`,

		// Indexes for the report read path
		`CREATE INDEX IF NOT EXISTS idx_users_client ON users(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pipelines_client ON pipelines(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_stages_pipeline ON pipeline_stages(pipeline_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ghl_calendars_client ON ghl_calendars(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ghl_users_client ON ghl_users(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_client ON opportunities(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_date_added ON opportunities(client_id, date_added)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_contact ON opportunities(client_id, contact_id)`,
		`CREATE INDEX IF NOT EXISTS idx_calendar_events_client ON calendar_events(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_calendar_events_start ON calendar_events(client_id, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_location_predefinitions_client ON location_predefinitions(client_id, key)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_location_predefinitions_active ON location_predefinitions(client_id, key) WHERE active = TRUE`,
		`CREATE INDEX IF NOT EXISTS idx_fb_insights_client_date ON facebook_ads_daily_insights(client_id, date)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, migration)
		}
	}

	return nil
}

func SeedAdmin(db *pgxpool.Pool, cfg *config.Config) error {
	ctx := context.Background()

	var count int
	err := db.QueryRow(ctx, "SELECT COUNT(*) FROM users WHERE username = $1", cfg.AdminUser).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check admin existence: %w", err)
	}

	if count > 0 {
		return nil // Admin already exists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	_, err = db.Exec(ctx, `
		INSERT INTO users (username, email, password_hash, role)
		VALUES ($1, $2, $3, 'ADM')
		ON CONFLICT (email) DO UPDATE SET password_hash = EXCLUDED.password_hash, role = 'ADM'
	`, cfg.AdminUser, cfg.AdminEmail, string(hashedPassword))
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	return nil
}
