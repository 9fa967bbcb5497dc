package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/naperu/painel/internal/api"
	"github.com/naperu/painel/internal/domain"
	"github.com/naperu/painel/internal/report"
	"github.com/naperu/painel/internal/repository"
	"github.com/naperu/painel/internal/service"
	"github.com/naperu/painel/internal/syncer"
	"github.com/naperu/painel/pkg/cache"
	"github.com/naperu/painel/pkg/config"
	"github.com/naperu/painel/pkg/database"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Seed admin user
	if err := database.SeedAdmin(db, cfg); err != nil {
		log.Printf("Warning: Failed to seed admin: %v", err)
	}

	// Initialize repositories
	repos := repository.NewRepositories(db)

	// Initialize Redis cache (reports run uncached without it)
	var redisCache *cache.Cache
	if cfg.RedisURL != "" {
		redisCache, err = cache.New(cfg.RedisURL)
		if err != nil {
			log.Printf("Warning: Failed to initialize Redis cache: %v (caching disabled)", err)
		} else {
			log.Printf("✅ Redis cache initialized")
		}
	}

	// Sync pipeline; the ads sync shares the CRM sync's rate guard
	crmSync := syncer.New(syncer.NewRepoStore(repos))
	adsSync := syncer.NewAdsSyncer(syncer.NewRepoStore(repos), crmSync.Guard())

	// Initialize services
	services := service.NewServices(repos)
	reports := report.NewService(repos, redisCache)

	// Initialize API server
	server := api.NewServer(cfg, services, crmSync, adsSync, reports)

	// Internal scheduler: hourly incremental outside the night window,
	// full daily reprocess early morning.
	var sched *cron.Cron
	if cfg.CronEnabled {
		loc, err := time.LoadLocation("America/Sao_Paulo")
		if err != nil {
			log.Printf("Warning: timezone load failed, scheduler on UTC: %v", err)
			loc = time.UTC
		}
		sched = cron.New(cron.WithLocation(loc))

		sched.AddFunc("0 * * * *", func() {
			if syncer.NightPause(time.Now().In(loc)) {
				log.Println("[Cron] night pause, skipping hourly sync")
				return
			}
			runScheduledSync(repos, crmSync, adsSync, reports, "incremental_1h")
		})
		sched.AddFunc("10 5 * * *", func() {
			runScheduledSync(repos, crmSync, adsSync, reports, "daily_reprocess")
		})
		sched.Start()
		log.Println("✅ Internal scheduler started")
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")

		if sched != nil {
			<-sched.Stop().Done()
		}

		if err := server.Shutdown(); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	log.Printf("🚀 Painel server starting on port %s", cfg.Port)
	if err := server.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// runScheduledSync walks every tenant with CRM credentials and syncs it
// sequentially; the scheduler bypasses the cooldown guard. Tenants with
// Meta credentials also get an incremental spend refresh.
func runScheduledSync(repos *repository.Repositories, crmSync *syncer.Syncer, adsSync *syncer.AdsSyncer, reports *report.Service, mode string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	clients, err := repos.Client.ListWithGhlCredentials(ctx)
	if err != nil {
		log.Printf("[Cron] list clients: %v", err)
		return
	}

	for _, client := range clients {
		result, err := crmSync.Run(ctx, client, syncer.Options{
			Mode:        domain.SyncMode(mode),
			Privileged:  true,
			BypassGuard: true,
		})
		if err != nil {
			log.Printf("[Cron] client=%s mode=%s: %v", client.ID, mode, err)
			continue
		}
		if len(result.Errors) > 0 {
			log.Printf("[Cron] client=%s mode=%s finished with %d errors", client.ID, mode, len(result.Errors))
		}
		reports.InvalidateClient(ctx, client.ID)

		if client.HasFbCredentials() {
			if _, err := adsSync.Run(ctx, client, syncer.AdsOptions{BypassGuard: true}); err != nil {
				log.Printf("[Cron] client=%s ads sync: %v", client.ID, err)
			}
		}
	}
}
