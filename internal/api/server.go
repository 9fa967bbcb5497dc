package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/naperu/painel/internal/domain"
	"github.com/naperu/painel/internal/fbads"
	"github.com/naperu/painel/internal/ghl"
	"github.com/naperu/painel/internal/report"
	"github.com/naperu/painel/internal/service"
	"github.com/naperu/painel/internal/syncer"
	"github.com/naperu/painel/pkg/config"
)

type Server struct {
	app       *fiber.App
	cfg       *config.Config
	services  *service.Services
	syncer    *syncer.Syncer
	adsSyncer *syncer.AdsSyncer
	reports   *report.Service
}

func NewServer(cfg *config.Config, services *service.Services, sync *syncer.Syncer, adsSync *syncer.AdsSyncer, reports *report.Service) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Painel",
		DisableStartupMessage: false,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"error":   err.Error(),
			})
		},
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "15:04:05",
	}))

	// Security Headers (Helmet)
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))

	// Rate Limiting - 500 requests per minute per IP (skip metrics scrape)
	app.Use(limiter.New(limiter.Config{
		Max:        500,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "too many requests, please slow down",
			})
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/metrics" || c.Path() == "/health"
		},
	}))

	// CORS Configuration
	corsOrigins := "http://localhost:3000,http://localhost:8080"
	if cfg.IsProduction() && len(cfg.CORSOrigins) > 0 {
		corsOrigins = strings.Join(cfg.CORSOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,x-cron-secret",
		AllowCredentials: true,
	}))

	server := &Server{
		app:       app,
		cfg:       cfg,
		services:  services,
		syncer:    sync,
		adsSyncer: adsSync,
		reports:   reports,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	// Health check
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"time":   time.Now(),
		})
	})

	// Prometheus scrape endpoint
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API routes
	api := s.app.Group("/api")

	// Auth routes (no auth required)
	auth := api.Group("/auth")
	auth.Post("/login", s.handleLogin)

	// Sync routes accept the scheduler's shared secret instead of a JWT
	ghlGroup := api.Group("/ghl", s.cronOrAuthMiddleware)
	ghlGroup.Post("/sync", s.handleSync)
	ghlGroup.Post("/save-predefinicoes", s.handleSavePredefinitions)

	predef := ghlGroup.Group("/predefinitions")
	predef.Get("/utm-mapping", s.handleGetUtmMapping)
	predef.Post("/utm-mapping", s.handleSaveUtmMapping)
	predef.Get("/sale-date-field", s.handleGetSaleDateField)
	predef.Post("/sale-date-field", s.handleSaveSaleDateField)
	predef.Get("/opportunity-custom-fields-import", s.handleGetImportFields)
	predef.Post("/opportunity-custom-fields-import", s.handleSaveImportFields)
	predef.Get("/last-saved", s.handleGetLastSaved)

	// CRM proxies for the settings screens
	ghlGroup.Get("/pipelines", s.handleGhlPipelines)
	ghlGroup.Get("/calendars", s.handleGhlCalendars)
	ghlGroup.Get("/users", s.handleGhlUsers)
	ghlGroup.Get("/opportunity-custom-fields", s.handleGhlCustomFields)

	fb := api.Group("/facebook-ads", s.cronOrAuthMiddleware)
	fb.Post("/sync", s.handleAdsSync)
	fb.Get("/ad-accounts", s.handleFbAdAccounts)
	fb.Get("/campaigns", s.handleFbCampaigns)
	fb.Get("/insights", s.handleFbInsights)

	// Protected routes
	protected := api.Group("", s.authMiddleware)
	protected.Get("/me", s.handleGetMe)

	reports := protected.Group("/report")
	reports.Get("/indicators", s.handleReportIndicators)
	reports.Get("/extra", s.handleReportExtra)
	reports.Get("/investment", s.handleReportInvestment)
	reports.Get("/data", s.handleReportData)

	// Tenant management (admin only)
	clients := protected.Group("/clients", s.adminMiddleware)
	clients.Get("/", s.handleListClients)
	clients.Post("/", s.handleCreateClient)
	clients.Get("/:id", s.handleGetClient)
	clients.Put("/:id", s.handleUpdateClient)
	clients.Delete("/:id", s.handleDeleteClient)
}

// --- Middleware ---

func (s *Server) authMiddleware(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		// Try cookie
		authHeader = c.Cookies("auth-token")
	}

	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return c.Status(401).JSON(fiber.Map{
			"success": false,
			"error":   "Unauthorized",
		})
	}

	claims, err := s.services.Auth.ValidateToken(token, s.cfg.JWTSecret)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid token",
		})
	}

	c.Locals("claims", claims)
	return c.Next()
}

// cronOrAuthMiddleware lets the external scheduler in with the shared
// x-cron-secret header; everything else goes through the JWT path.
func (s *Server) cronOrAuthMiddleware(c *fiber.Ctx) error {
	if secret := c.Get("x-cron-secret"); secret != "" && s.cfg.CronSecret != "" && secret == s.cfg.CronSecret {
		c.Locals("cron", true)
		return c.Next()
	}
	return s.authMiddleware(c)
}

func (s *Server) adminMiddleware(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*service.JWTClaims)
	if !claims.IsAdmin() {
		return c.Status(403).JSON(fiber.Map{
			"success": false,
			"error":   "Forbidden: admin access required",
		})
	}
	return c.Next()
}

func (s *Server) isCron(c *fiber.Ctx) bool {
	v, _ := c.Locals("cron").(bool)
	return v
}

// tenantID resolves which tenant the request acts on: cron callers must
// name it, admins may name any, regular users are pinned to their own.
func (s *Server) tenantID(c *fiber.Ctx, requested string) (uuid.UUID, error) {
	if s.isCron(c) {
		id, err := uuid.Parse(requested)
		if err != nil {
			return uuid.Nil, fmt.Errorf("client_id inválido")
		}
		return id, nil
	}
	claims := c.Locals("claims").(*service.JWTClaims)
	return s.services.Client.ResolveClientID(claims, requested)
}

func (s *Server) isPrivileged(c *fiber.Ctx) bool {
	if s.isCron(c) {
		return true
	}
	claims, ok := c.Locals("claims").(*service.JWTClaims)
	return ok && claims.IsAdmin()
}

// tenant loads the tenant row after resolving access.
func (s *Server) tenant(c *fiber.Ctx, requested string) (*domain.Client, error) {
	id, err := s.tenantID(c, requested)
	if err != nil {
		return nil, err
	}
	client, err := s.services.Client.GetByID(c.Context(), id)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("cliente não encontrado")
	}
	return client, nil
}

// --- Auth Handlers ---

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	token, user, err := s.services.Auth.Login(c.Context(), req.Username, req.Password, s.cfg.JWTSecret)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	// Set cookie
	c.Cookie(&fiber.Cookie{
		Name:     "auth-token",
		Value:    token,
		Expires:  time.Now().Add(24 * 7 * time.Hour),
		HTTPOnly: true,
		Secure:   s.cfg.IsProduction(),
		SameSite: "Lax",
	})

	return c.JSON(fiber.Map{
		"success": true,
		"token":   token,
		"user": fiber.Map{
			"id":        user.ID,
			"username":  user.Username,
			"email":     user.Email,
			"role":      user.Role,
			"client_id": user.ClientID,
		},
	})
}

func (s *Server) handleGetMe(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*service.JWTClaims)
	user, err := s.services.Auth.GetUser(c.Context(), claims.UserID)
	if err != nil || user == nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "User not found"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"user": fiber.Map{
			"id":        user.ID,
			"username":  user.Username,
			"email":     user.Email,
			"role":      user.Role,
			"client_id": user.ClientID,
		},
	})
}

// --- Sync Handlers ---

func (s *Server) handleSync(c *fiber.Ctx) error {
	var req struct {
		ClientID string   `json:"client_id"`
		Mode     string   `json:"mode"`
		Modules  []string `json:"modules"`
	}
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}
	if req.Mode == "" {
		req.Mode = string(domain.SyncModeNormal)
	}

	client, err := s.tenant(c, req.ClientID)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if !client.HasGhlCredentials() {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "cliente sem credenciais GHL configuradas"})
	}

	result, err := s.syncer.Run(c.Context(), client, syncer.Options{
		Mode:        domain.SyncMode(req.Mode),
		Modules:     req.Modules,
		Privileged:  s.isPrivileged(c),
		BypassGuard: s.isCron(c),
	})
	if err != nil {
		return s.syncError(c, err)
	}

	s.reports.InvalidateClient(c.Context(), client.ID)

	if len(result.Errors) > 0 {
		return c.Status(502).JSON(fiber.Map{
			"success": false,
			"error":   "sincronização concluída com erros",
			"details": result.Errors,
			"result":  result,
		})
	}
	return c.JSON(fiber.Map{"success": true, "result": result})
}

// syncError translates the typed sync failures into HTTP responses.
func (s *Server) syncError(c *fiber.Ctx, err error) error {
	var cooldown *syncer.ErrCooldown
	if errors.As(err, &cooldown) {
		seconds := int(cooldown.RetryAfter.Seconds())
		c.Set("Retry-After", strconv.Itoa(seconds))
		return c.Status(429).JSON(fiber.Map{
			"success":             false,
			"error":               err.Error(),
			"retry_after_seconds": seconds,
		})
	}
	var volume *syncer.ErrVolumeExceeded
	if errors.As(err, &volume) {
		return c.Status(429).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
			"code":    "volume_exceeded",
		})
	}
	var ghlErr *ghl.APIError
	if errors.As(err, &ghlErr) && ghlErr.StatusCode == 401 {
		return c.Status(401).JSON(fiber.Map{
			"success": false,
			"error":   "API Key do cliente inválida ou expirada",
		})
	}
	var fbErr *fbads.APIError
	if errors.As(err, &fbErr) && (fbErr.StatusCode == 401 || fbErr.Code == 190) {
		return c.Status(401).JSON(fiber.Map{
			"success": false,
			"error":   "Token do Facebook inválido ou expirado",
		})
	}
	return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
}

func (s *Server) handleAdsSync(c *fiber.Ctx) error {
	var req struct {
		ClientID  string `json:"client_id"`
		DateStart string `json:"date_start"`
		DateEnd   string `json:"date_end"`
	}
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	client, err := s.tenant(c, req.ClientID)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if !client.HasFbCredentials() {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "cliente sem credenciais Facebook configuradas"})
	}

	// Accepts dd/mm/yyyy from the UI date picker
	opts := syncer.AdsOptions{
		DateStart:   syncer.NormalizeMetaDate(req.DateStart),
		DateEnd:     syncer.NormalizeMetaDate(req.DateEnd),
		BypassGuard: s.isCron(c),
	}
	if (req.DateStart != "" && opts.DateStart == "") || (req.DateEnd != "" && opts.DateEnd == "") {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "data inválida, use dd/mm/aaaa ou aaaa-mm-dd"})
	}

	result, err := s.adsSyncer.Run(c.Context(), client, opts)
	if err != nil {
		return s.syncError(c, err)
	}

	s.reports.InvalidateClient(c.Context(), client.ID)

	if len(result.Errors) > 0 {
		return c.Status(502).JSON(fiber.Map{
			"success": false,
			"error":   "sincronização concluída com erros",
			"details": result.Errors,
			"result":  result,
		})
	}
	return c.JSON(fiber.Map{"success": true, "result": result})
}

// --- Predefinition Handlers ---

func (s *Server) handleSavePredefinitions(c *fiber.Ctx) error {
	clientID, err := s.tenantID(c, c.Query("client_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	var payload service.PredefinitionsPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	if err := s.services.Settings.SavePredefinitions(c.Context(), clientID, payload); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	s.reports.InvalidateClient(c.Context(), clientID)
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleGetUtmMapping(c *fiber.Ctx) error {
	clientID, err := s.tenantID(c, c.Query("client_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	payload, err := s.services.Settings.GetUtmMapping(c.Context(), clientID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "mapping": payload})
}

func (s *Server) handleSaveUtmMapping(c *fiber.Ctx) error {
	clientID, err := s.tenantID(c, c.Query("client_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	var payload service.UtmMappingPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	if err := s.services.Settings.SaveUtmMapping(c.Context(), clientID, payload); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	s.reports.InvalidateClient(c.Context(), clientID)
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleGetSaleDateField(c *fiber.Ctx) error {
	clientID, err := s.tenantID(c, c.Query("client_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	fieldID, err := s.services.Settings.GetSaleDateField(c.Context(), clientID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "sale_date_field_id": fieldID})
}

func (s *Server) handleSaveSaleDateField(c *fiber.Ctx) error {
	clientID, err := s.tenantID(c, c.Query("client_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	var req struct {
		FieldID string `json:"sale_date_field_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	if err := s.services.Settings.SaveSaleDateField(c.Context(), clientID, req.FieldID); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	s.reports.InvalidateClient(c.Context(), clientID)
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleGetImportFields(c *fiber.Ctx) error {
	clientID, err := s.tenantID(c, c.Query("client_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	fields, err := s.services.Settings.GetImportFields(c.Context(), clientID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "fields": fields})
}

func (s *Server) handleSaveImportFields(c *fiber.Ctx) error {
	clientID, err := s.tenantID(c, c.Query("client_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	var req struct {
		Fields []service.ImportField `json:"fields"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	if err := s.services.Settings.SaveImportFields(c.Context(), clientID, req.Fields); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	s.reports.InvalidateClient(c.Context(), clientID)
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleGetLastSaved(c *fiber.Ctx) error {
	clientID, err := s.tenantID(c, c.Query("client_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	savedAt, err := s.services.Settings.LastSavedAt(c.Context(), clientID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "last_saved_at": savedAt})
}

// --- CRM Proxy Handlers ---

func (s *Server) ghlClient(c *fiber.Ctx) (*ghl.Client, error) {
	client, err := s.tenant(c, c.Query("client_id"))
	if err != nil {
		return nil, err
	}
	if !client.HasGhlCredentials() {
		return nil, fmt.Errorf("cliente sem credenciais GHL configuradas")
	}
	return ghl.NewClient(*client.GhlAPIKey, *client.GhlLocationID), nil
}

// ghlProxyError keeps the platform's invalid-credential signal intact.
func (s *Server) ghlProxyError(c *fiber.Ctx, err error) error {
	var apiErr *ghl.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == 401 {
		return c.Status(401).JSON(fiber.Map{
			"success": false,
			"error":   "API Key do cliente inválida ou expirada",
		})
	}
	return c.Status(502).JSON(fiber.Map{"success": false, "error": err.Error()})
}

func (s *Server) handleGhlPipelines(c *fiber.Ctx) error {
	crm, err := s.ghlClient(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	pipelines, err := crm.GetPipelines(c.Context())
	if err != nil {
		return s.ghlProxyError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "pipelines": pipelines})
}

func (s *Server) handleGhlCalendars(c *fiber.Ctx) error {
	crm, err := s.ghlClient(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	calendars, err := crm.GetCalendars(c.Context())
	if err != nil {
		return s.ghlProxyError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "calendars": calendars})
}

func (s *Server) handleGhlUsers(c *fiber.Ctx) error {
	crm, err := s.ghlClient(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	users, err := crm.GetUsers(c.Context())
	if err != nil {
		return s.ghlProxyError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "users": users})
}

func (s *Server) handleGhlCustomFields(c *fiber.Ctx) error {
	crm, err := s.ghlClient(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	fields, err := crm.GetOpportunityCustomFields(c.Context())
	if err != nil {
		return s.ghlProxyError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "fields": fields})
}

// --- Meta Proxy Handlers ---

func (s *Server) fbClient(c *fiber.Ctx) (*fbads.Client, *domain.Client, error) {
	client, err := s.tenant(c, c.Query("client_id"))
	if err != nil {
		return nil, nil, err
	}
	if client.FbAccessToken == nil || *client.FbAccessToken == "" {
		return nil, nil, fmt.Errorf("cliente sem token Facebook configurado")
	}
	return fbads.NewClient(*client.FbAccessToken), client, nil
}

func (s *Server) fbProxyError(c *fiber.Ctx, err error) error {
	var apiErr *fbads.APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == 401 || apiErr.Code == 190) {
		return c.Status(401).JSON(fiber.Map{
			"success": false,
			"error":   "Token do Facebook inválido ou expirado",
		})
	}
	return c.Status(502).JSON(fiber.Map{"success": false, "error": err.Error()})
}

func (s *Server) handleFbAdAccounts(c *fiber.Ctx) error {
	api, _, err := s.fbClient(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	accounts, err := api.GetAdAccounts(c.Context())
	if err != nil {
		return s.fbProxyError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "ad_accounts": accounts})
}

func (s *Server) handleFbCampaigns(c *fiber.Ctx) error {
	api, client, err := s.fbClient(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	adAccountID := c.Query("ad_account_id")
	if adAccountID == "" && client.FbAdAccountID != nil {
		adAccountID = *client.FbAdAccountID
	}
	if adAccountID == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "ad_account_id é obrigatório"})
	}

	campaigns, err := api.GetCampaigns(c.Context(), adAccountID, c.Query("status"))
	if err != nil {
		return s.fbProxyError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "campaigns": campaigns})
}

func (s *Server) handleFbInsights(c *fiber.Ctx) error {
	api, client, err := s.fbClient(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	adAccountID := c.Query("ad_account_id")
	if adAccountID == "" && client.FbAdAccountID != nil {
		adAccountID = *client.FbAdAccountID
	}
	if adAccountID == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "ad_account_id é obrigatório"})
	}

	insights, err := api.GetInsights(c.Context(), adAccountID, fbads.InsightsParams{
		Since:      syncer.NormalizeMetaDate(c.Query("since")),
		Until:      syncer.NormalizeMetaDate(c.Query("until")),
		DatePreset: c.Query("date_preset"),
		Level:      c.Query("level"),
	})
	if err != nil {
		return s.fbProxyError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "insights": insights})
}

// --- Report Handlers ---

// reportPeriod parses the mandatory start/end epoch-millisecond params.
func reportPeriod(c *fiber.Ctx) (report.Period, error) {
	startMs, err := strconv.ParseInt(c.Query("start"), 10, 64)
	if err != nil {
		return report.Period{}, fmt.Errorf("parâmetro start inválido")
	}
	endMs, err := strconv.ParseInt(c.Query("end"), 10, 64)
	if err != nil {
		return report.Period{}, fmt.Errorf("parâmetro end inválido")
	}
	return report.PeriodFromMs(startMs, endMs), nil
}

func reportFilters(c *fiber.Ctx) report.Filters {
	var f report.Filters
	if raw := c.Query("pipeline_ids"); raw != "" {
		f.PipelineIDs = splitCSV(raw)
	}
	if raw := c.Query("sources"); raw != "" {
		f.Sources = splitCSV(raw)
	}
	return f
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *Server) handleReportIndicators(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*service.JWTClaims)
	clientID, err := s.services.Client.ResolveClientID(claims, c.Query("client_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	period, err := reportPeriod(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	result, err := s.reports.Indicators(c.Context(), clientID, period, reportFilters(c))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(result)
}

func (s *Server) handleReportExtra(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*service.JWTClaims)
	clientID, err := s.services.Client.ResolveClientID(claims, c.Query("client_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	period, err := reportPeriod(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	opts := report.ExtraOptions{
		RowDim: c.Query("row_dim"),
		ColDim: c.Query("col_dim"),
	}
	if raw := c.Query("year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"success": false, "error": "parâmetro year inválido"})
		}
		opts.Year = &year
	}

	result, err := s.reports.Extra(c.Context(), clientID, period, reportFilters(c), opts)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(result)
}

func (s *Server) handleReportInvestment(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*service.JWTClaims)
	clientID, err := s.services.Client.ResolveClientID(claims, c.Query("client_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	period, err := reportPeriod(c)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	result, err := s.reports.Investment(c.Context(), clientID, period)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(result)
}

func (s *Server) handleReportData(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*service.JWTClaims)
	clientID, err := s.services.Client.ResolveClientID(claims, c.Query("client_id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	result, err := s.reports.Data(c.Context(), clientID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(result)
}

// --- Client Handlers ---

type clientRequest struct {
	Name          string  `json:"name"`
	GhlAPIKey     *string `json:"ghl_api_key"`
	GhlLocationID *string `json:"ghl_location_id"`
	FbAccessToken *string `json:"fb_access_token"`
	FbAdAccountID *string `json:"fb_ad_account_id"`
}

func (s *Server) handleListClients(c *fiber.Ctx) error {
	clients, err := s.services.Client.List(c.Context())
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "clients": clients})
}

func (s *Server) handleCreateClient(c *fiber.Ctx) error {
	var req clientRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}

	client := &domain.Client{
		Name:          strings.TrimSpace(req.Name),
		GhlAPIKey:     req.GhlAPIKey,
		GhlLocationID: req.GhlLocationID,
		FbAccessToken: req.FbAccessToken,
		FbAdAccountID: req.FbAdAccountID,
	}
	if err := s.services.Client.Create(c.Context(), client); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.Status(201).JSON(fiber.Map{"success": true, "client": client})
}

func (s *Server) handleGetClient(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid client ID"})
	}

	client, err := s.services.Client.GetByID(c.Context(), id)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if client == nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "cliente não encontrado"})
	}
	return c.JSON(fiber.Map{"success": true, "client": client})
}

func (s *Server) handleUpdateClient(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid client ID"})
	}

	client, err := s.services.Client.GetByID(c.Context(), id)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if client == nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "error": "cliente não encontrado"})
	}

	var req clientRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid request"})
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		client.Name = name
	}
	if req.GhlAPIKey != nil {
		client.GhlAPIKey = req.GhlAPIKey
	}
	if req.GhlLocationID != nil {
		client.GhlLocationID = req.GhlLocationID
	}
	if req.FbAccessToken != nil {
		client.FbAccessToken = req.FbAccessToken
	}
	if req.FbAdAccountID != nil {
		client.FbAdAccountID = req.FbAdAccountID
	}

	if err := s.services.Client.Update(c.Context(), client); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "client": client})
}

func (s *Server) handleDeleteClient(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "error": "Invalid client ID"})
	}

	if err := s.services.Client.Delete(c.Context(), id); err != nil {
		return c.Status(500).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
