// Package api exposes the admin HTTP surface: previews, campaign and template
// management, sends, mail configuration and send log queries.
package api

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/herald/internal/audience"
	"github.com/foxzi/herald/internal/dispatch"
	"github.com/foxzi/herald/internal/ipfilter"
	"github.com/foxzi/herald/internal/metrics"
	"github.com/foxzi/herald/internal/models"
	"github.com/foxzi/herald/internal/sandbox"
	"github.com/foxzi/herald/internal/template"
	"github.com/foxzi/herald/internal/transport"
)

// Dispatcher is the write side the API drives
type Dispatcher interface {
	SendTemplated(ctx context.Context, req dispatch.TemplatedRequest) transport.Result
	SendTest(ctx context.Context, req dispatch.TestRequest) transport.Result
	DispatchCampaign(ctx context.Context, id string) (*dispatch.DispatchResult, error)
	PreviewAudience(ctx context.Context, spec models.AudienceSpec) (*audience.Preview, error)
	SaveCampaign(ctx context.Context, c *models.Campaign) error
	SaveTemplate(ctx context.Context, t *models.Template) error
}

// TemplateStore is the read and delete side of templates
type TemplateStore interface {
	GetByID(ctx context.Context, id string) (*models.Template, error)
	List(ctx context.Context, filter models.TemplateListFilter) ([]models.Template, int, error)
	Delete(ctx context.Context, id string) error
}

// CampaignStore is the read and delete side of campaigns
type CampaignStore interface {
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
	List(ctx context.Context, filter models.CampaignListFilter) ([]models.Campaign, int, error)
	Delete(ctx context.Context, id string) error
}

// SendLogStore queries the send log
type SendLogStore interface {
	List(ctx context.Context, filter models.SendLogFilter) ([]models.SendLogEntry, int, error)
	Stats(ctx context.Context, filter models.SendLogFilter) (*models.SendLogStats, error)
}

// SettingsStore reads and writes the mail configuration
type SettingsStore interface {
	GetMailConfig(ctx context.Context) (models.MailConfig, error)
	SaveMailConfig(ctx context.Context, cfg models.MailConfig) error
}

// Stores groups the read dependencies of the API
type Stores struct {
	Templates TemplateStore
	Campaigns CampaignStore
	Logs      SendLogStore
	Settings  SettingsStore
}

// Options configures the HTTP server
type Options struct {
	ListenAddr   string
	TokenHash    string // bcrypt hash; empty disables auth
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Version      string
	// Allow restricts callers by address; nil allows everyone
	Allow *ipfilter.Filter
	// TLS serves HTTPS when set
	TLS *tls.Config
	// StaticVars are merged under preview variables
	StaticVars map[string]any
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	dispatcher Dispatcher
	stores     Stores
	sandbox    *SandboxServer
	engine     *template.Engine
	metrics    *metrics.Metrics
	opts       Options
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server. sb and m may be nil.
func NewServer(d Dispatcher, stores Stores, sb *sandbox.Storage, m *metrics.Metrics, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		dispatcher: d,
		stores:     stores,
		engine:     template.NewEngine(),
		metrics:    m,
		opts:       opts,
		logger:     logger.With("component", "api"),
		startTime:  time.Now(),
	}
	if sb != nil {
		s.sandbox = NewSandboxServer(sb, s.logger)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Filter on the socket address, before RealIP rewrites it
	s.router.Use(s.opts.Allow.Middleware)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metrics.Middleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/send/templated", s.handleSendTemplated)
		r.Post("/send/test", s.handleSendTest)
		r.Post("/audience/preview", s.handlePreviewAudience)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handleCampaignList)
			r.Post("/", s.handleCampaignCreate)
			r.Get("/{id}", s.handleCampaignGet)
			r.Put("/{id}", s.handleCampaignUpdate)
			r.Delete("/{id}", s.handleCampaignDelete)
			r.Post("/{id}/send", s.handleCampaignSend)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleTemplateList)
			r.Post("/", s.handleTemplateCreate)
			r.Get("/{id}", s.handleTemplateGet)
			r.Put("/{id}", s.handleTemplateUpdate)
			r.Delete("/{id}", s.handleTemplateDelete)
			r.Post("/{id}/preview", s.handleTemplatePreview)
		})

		r.Get("/settings/mail", s.handleMailConfigGet)
		r.Put("/settings/mail", s.handleMailConfigUpdate)

		r.Get("/logs", s.handleLogList)
		r.Get("/logs/stats", s.handleLogStats)

		if s.sandbox != nil {
			s.sandbox.RegisterRoutes(r)
		}
	})
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.opts.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
		TLSConfig:    s.opts.TLS,
	}

	if s.opts.TLS != nil {
		s.logger.Info("starting HTTPS API server", "addr", s.opts.ListenAddr)
		return s.httpServer.ListenAndServeTLS("", "")
	}

	s.logger.Info("starting HTTP API server", "addr", s.opts.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Sandbox bool   `json:"sandbox"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.opts.Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		Sandbox: s.sandbox != nil,
	})
}
