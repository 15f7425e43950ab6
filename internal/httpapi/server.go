// Package httpapi is the HTTP transport shell: a chi router over the core
// services with bearer-claim extraction, permission gates, per-operation
// rate limits and a stable JSON error shape.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"ppmcore/internal/ai"
	"ppmcore/internal/audit"
	"ppmcore/internal/authz"
	"ppmcore/internal/cache"
	"ppmcore/internal/config"
	"ppmcore/internal/finance"
	"ppmcore/internal/helpchat"
	"ppmcore/internal/importer"
	"ppmcore/internal/schedule"
	"ppmcore/internal/store"
	"ppmcore/internal/variance"
)

// Per-operation request rates (per identity, per minute).
const (
	rateDashboard = 30
	rateImport    = 5
	rateAIQuery   = 10
	rateHelp      = 20
	rateFeedback  = 30
)

// Services bundles everything the transport exposes.
type Services struct {
	Store    *store.PPMStore
	Importer *importer.Engine
	Variance *variance.Engine
	Authz    *authz.Service
	RAG      *ai.RAGService
	Feedback *ai.FeedbackService
	ABTests  *ai.ABTestService
	Schedule *schedule.Service
	Finance  *finance.Service
	Audit    *audit.Service
	Help     *helpchat.Service
}

// Server is the HTTP shell.
type Server struct {
	cfg      *config.Config
	svc      Services
	cache    *cache.Cache
	limiter  *cache.RateLimiter
	log      *zap.Logger
	orgID    string
	maxBytes int64
}

// New builds the server. The cache is shared with the services so admin
// endpoints can see invalidation effects.
func New(cfg *config.Config, svc Services, c *cache.Cache, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	maxBytes := cfg.Import.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Server{
		cfg:      cfg,
		svc:      svc,
		cache:    c,
		limiter:  cache.NewRateLimiter(),
		log:      log,
		orgID:    "default",
		maxBytes: maxBytes,
	}
}

// Router wires all routes. Every business route sits behind authentication;
// health does not.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		// Dashboard and variance
		r.With(s.rateLimit("dashboard", rateDashboard), s.requirePerm(authz.FinancialRead)).
			Get("/api/dashboard", s.handleDashboard)
		r.With(s.requirePerm(authz.FinancialRead)).Route("/api/variance", func(r chi.Router) {
			r.Get("/projects/{projectID}", s.handleVarianceSummary)
			r.Get("/projects/{projectID}/wbs", s.handleVarianceWBS)
			r.Get("/projects/{projectID}/trends", s.handleVarianceTrends)
		})

		// Alerts
		r.Route("/api/alerts", func(r chi.Router) {
			r.With(s.requirePerm(authz.AlertRead)).Get("/", s.handleListAlerts)
			r.With(s.requirePerm(authz.AlertManage)).Post("/check", s.handleCheckThresholds)
			r.With(s.requirePerm(authz.AlertManage)).Post("/{alertID}/acknowledge", s.handleAcknowledgeAlert)
			r.With(s.requirePerm(authz.AlertManage)).Post("/{alertID}/resolve", s.handleResolveAlert)
		})

		// Imports
		r.Route("/api/imports", func(r chi.Router) {
			r.With(s.rateLimit("import", rateImport), s.requirePerm(authz.FinancialImport)).
				Post("/{importType}", s.handleImportUpload)
			r.With(s.requirePerm(authz.FinancialRead)).Get("/history", s.handleImportHistory)
			r.With(s.requirePerm(authz.FinancialRead)).Get("/statistics", s.handleImportStatistics)
			r.With(s.requirePerm(authz.FinancialImport)).Post("/mappings/suggest", s.handleSuggestMappings)
		})

		// AI
		r.Route("/api/ai", func(r chi.Router) {
			r.With(s.rateLimit("ai_query", rateAIQuery), s.requirePerm(authz.AIQuery)).
				Post("/query", s.handleAIQuery)
			r.With(s.requirePerm(authz.AIQuery)).Get("/conversations/{conversationID}", s.handleConversation)
			r.With(s.rateLimit("feedback", rateFeedback), s.requirePerm(authz.AIFeedback)).
				Post("/feedback", s.handleAIFeedback)
			r.With(s.requirePerm(authz.AIManage)).Get("/performance", s.handleAIPerformance)
			r.With(s.requirePerm(authz.AIManage)).Route("/abtests", func(r chi.Router) {
				r.Post("/", s.handleCreateABTest)
				r.Post("/{testID}/start", s.handleStartABTest)
				r.Post("/{testID}/complete", s.handleCompleteABTest)
				r.Get("/{testID}/results", s.handleABTestResults)
			})
		})

		// Help
		r.Route("/api/help", func(r chi.Router) {
			r.With(s.rateLimit("help", rateHelp), s.requirePerm(authz.AIQuery)).
				Post("/ask", s.handleHelpAsk)
			r.With(s.rateLimit("feedback", rateFeedback), s.requirePerm(authz.AIFeedback)).
				Post("/feedback", s.handleHelpFeedback)
			r.Get("/tips", s.handleTips)
			r.Post("/tips/{tipID}/dismiss", s.handleDismissTip)
		})

		// Schedules
		r.Route("/api/schedules", func(r chi.Router) {
			r.With(s.requirePerm(authz.ScheduleManage)).Post("/", s.handleCreateSchedule)
			r.With(s.requirePerm(authz.ScheduleManage)).Post("/{scheduleID}/baseline", s.handleSetBaseline)
			r.With(s.requirePerm(authz.ScheduleRead)).Get("/{scheduleID}/metrics", s.handleScheduleMetrics)
			r.With(s.requirePerm(authz.ScheduleRead)).Get("/{scheduleID}/health", s.handleScheduleHealth)
			r.With(s.requirePerm(authz.ScheduleRead)).Get("/{scheduleID}/tasks", s.handleListTasks)
			r.With(s.requirePerm(authz.ScheduleManage)).Post("/{scheduleID}/tasks", s.handleCreateTask)
		})
		r.Route("/api/tasks", func(r chi.Router) {
			r.With(s.requirePerm(authz.ScheduleManage)).Post("/{taskID}/progress", s.handleTaskProgress)
			r.With(s.requirePerm(authz.ScheduleManage)).Delete("/{taskID}", s.handleDeleteTask)
		})
		r.Route("/api/wbs", func(r chi.Router) {
			r.With(s.requirePerm(authz.ScheduleManage)).Post("/", s.handleCreateWBS)
			r.With(s.requirePerm(authz.ScheduleManage)).Post("/{elementID}/move", s.handleMoveWBS)
			r.With(s.requirePerm(authz.ScheduleManage)).Delete("/{elementID}", s.handleDeleteWBS)
			r.With(s.requirePerm(authz.ScheduleRead)).Get("/projects/{projectID}", s.handleWBSTree)
			r.With(s.requirePerm(authz.ScheduleRead)).Get("/projects/{projectID}/validate", s.handleValidateWBS)
		})

		// Finance
		r.Route("/api/finance", func(r chi.Router) {
			r.With(s.requirePerm(authz.FinancialRead)).Get("/report", s.handleFinanceReport)
			r.With(s.requirePerm(authz.FinancialRead)).Get("/projects/{projectID}/budget", s.handleProjectBudget)
			r.With(s.requirePerm(authz.FinancialRead)).Get("/projects/{projectID}/thresholds", s.handleBudgetThresholds)
			r.With(s.requirePerm(authz.FinancialRead)).Get("/currencies", s.handleCurrencies)
		})

		// Admin
		r.Route("/api/admin", func(r chi.Router) {
			r.With(s.requirePerm(authz.AdminRoles)).Route("/roles", func(r chi.Router) {
				r.Post("/", s.handleCreateRole)
				r.Put("/{roleID}", s.handleUpdateRole)
				r.Delete("/{roleID}", s.handleDeleteRole)
				r.Post("/{roleID}/assign", s.handleAssignRole)
				r.Post("/{roleID}/remove", s.handleRemoveRole)
			})
			r.With(s.requirePerm(authz.AdminAudit)).Get("/audit", s.handleAuditEvents)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"name":    s.cfg.Name,
		"version": s.cfg.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}
