package app

import (
	"context"
	stdtls "crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foxzi/herald/internal/api"
	"github.com/foxzi/herald/internal/audience"
	"github.com/foxzi/herald/internal/automation"
	"github.com/foxzi/herald/internal/config"
	"github.com/foxzi/herald/internal/db"
	"github.com/foxzi/herald/internal/dispatch"
	"github.com/foxzi/herald/internal/dkim"
	"github.com/foxzi/herald/internal/ipfilter"
	"github.com/foxzi/herald/internal/metrics"
	"github.com/foxzi/herald/internal/models"
	"github.com/foxzi/herald/internal/repository"
	"github.com/foxzi/herald/internal/sandbox"
	"github.com/foxzi/herald/internal/tls"
	"github.com/foxzi/herald/internal/transport"
)

// Version is set at build time
var Version = "dev"

// Repositories groups the SQLite repositories
type Repositories struct {
	Templates *repository.TemplateRepository
	Campaigns *repository.CampaignRepository
	Users     *repository.UserRepository
	Logs      *repository.SendLogRepository
	Settings  *repository.SettingsRepository
}

// App is the main application
type App struct {
	config        *config.Config
	db            *db.DB
	repos         Repositories
	sandbox       *sandbox.Storage
	metrics       *metrics.Metrics
	metricsServer *metrics.Server
	dispatcher    *dispatch.Dispatcher
	apiServer     *api.Server
	logger        *slog.Logger
}

// New opens the stores, applies migrations and wires every component.
// Nothing listens until Run.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := SetupLogger(cfg.Logging)

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	a := &App{
		config: cfg,
		db:     database,
		repos: Repositories{
			Templates: repository.NewTemplateRepository(database.DB),
			Campaigns: repository.NewCampaignRepository(database.DB),
			Users:     repository.NewUserRepository(database.DB),
			Logs:      repository.NewSendLogRepository(database.DB),
			Settings:  repository.NewSettingsRepository(database.DB),
		},
		logger: logger,
	}

	if cfg.Metrics.Enabled {
		metricsLogger := logger.With("component", "metrics")
		allow, err := ipfilter.New(cfg.Metrics.AllowedIPs, metricsLogger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid metrics.allowed_ips: %w", err)
		}
		a.metrics = metrics.New()
		a.metrics.MustRegister(metrics.NewSendLogCollector(a.repos.Logs, metricsLogger))
		a.metricsServer = metrics.NewServer(a.metrics, cfg.Metrics.ListenAddr, cfg.Metrics.Path, allow, metricsLogger)
	}

	apiAllow, err := ipfilter.New(cfg.Server.AllowedIPs, logger.With("component", "api"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid server.allowed_ips: %w", err)
	}

	var apiTLS *stdtls.Config
	if cfg.Server.TLSCertFile != "" {
		cert, err := tls.Load(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		apiTLS = cert.Config
		if days := cert.DaysLeft(time.Now()); days < 14 {
			logger.Warn("API TLS certificate expires soon", "subject", cert.Subject, "days_left", days)
		}
	}

	tr, err := a.newTransport()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.dispatcher = dispatch.New(dispatch.Stores{
		Templates: a.repos.Templates,
		Campaigns: a.repos.Campaigns,
		Logs:      a.repos.Logs,
		Settings:  a.repos.Settings,
	},
		audience.NewResolver(a.repos.Users),
		transport.NewGateway(tr, logger.With("component", "gateway")),
		a.metrics,
		dispatch.Options{
			Concurrency: cfg.Dispatch.Concurrency,
			SampleSize:  cfg.Dispatch.SampleSize,
			SendTimeout: cfg.Dispatch.SendTimeout,
			StaticVars:  cfg.StaticVariables(),
		},
		logger,
	)

	a.apiServer = api.NewServer(a.dispatcher, api.Stores{
		Templates: a.repos.Templates,
		Campaigns: a.repos.Campaigns,
		Logs:      a.repos.Logs,
		Settings:  a.repos.Settings,
	}, a.sandbox, a.metrics, api.Options{
		ListenAddr:   cfg.Server.ListenAddr,
		TokenHash:    cfg.Server.APITokenHash,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		Version:      Version,
		StaticVars:   cfg.StaticVariables(),
		Allow:        apiAllow,
		TLS:          apiTLS,
	}, logger)

	return a, nil
}

// newTransport returns the sandbox capture transport when sandbox mode is on,
// otherwise the SMTP transport with optional DKIM signing
func (a *App) newTransport() (transport.Transport, error) {
	cfg := a.config

	if cfg.Sandbox.Enabled {
		storage, err := sandbox.Open(cfg.Sandbox.Path)
		if err != nil {
			return nil, err
		}
		a.sandbox = storage
		a.logger.Warn("sandbox mode enabled, messages are captured and not delivered", "path", cfg.Sandbox.Path)
		return sandbox.NewTransport(storage, a.logger.With("component", "sandbox")), nil
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}
	smtpTransport := transport.NewSMTPTransport(hostname, cfg.Dispatch.SendTimeout, a.logger.With("component", "smtp_client"))

	if cfg.DKIM.Enabled {
		signer, err := dkim.LoadSigner(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
		if err != nil {
			return nil, fmt.Errorf("failed to load DKIM key: %w", err)
		}
		smtpTransport.SetDKIMSigner(signer)
		a.logger.Info("DKIM signing enabled", "domain", signer.Domain(), "selector", signer.Selector())
	}

	return smtpTransport, nil
}

// Dispatcher returns the campaign and message dispatcher
func (a *App) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}

// Repositories returns the SQLite repositories
func (a *App) Repositories() Repositories {
	return a.repos
}

// Sandbox returns the capture store, or nil outside sandbox mode
func (a *App) Sandbox() *sandbox.Storage {
	return a.sandbox
}

// Logger returns the configured root logger
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Seed creates missing automation templates and, when HERALD_SMTP_* values
// are present, fills SMTP settings that are not configured yet. force resets
// automation templates and overwrites SMTP settings.
func (a *App) Seed(ctx context.Context, force bool) (*automation.SeedResult, error) {
	result, err := automation.Seed(ctx, a.repos.Templates, force, a.logger.With("component", "seed"))
	if err != nil {
		return nil, err
	}

	boot := a.config.SMTPBootstrap
	if !boot.IsSet() {
		return result, nil
	}

	cfg, err := a.repos.Settings.GetMailConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.SMTP.Complete() && !force {
		return result, nil
	}

	cfg.SMTP = models.SMTPSettings{
		Host:   boot.Host,
		Port:   boot.Port,
		Secure: boot.Secure,
		User:   boot.User,
		Pass:   boot.Pass,
		From:   boot.From,
	}
	if err := a.repos.Settings.SaveMailConfig(ctx, cfg); err != nil {
		return nil, err
	}
	a.logger.Info("smtp settings seeded from environment", "host", boot.Host, "complete", cfg.SMTP.Complete())
	return result, nil
}

// RecoverInterrupted fails campaigns a previous process left in sending.
// Only the serving process calls it, since CLI commands may share the
// database with a live dispatch.
func (a *App) RecoverInterrupted(ctx context.Context) (int, error) {
	n, err := a.repos.Campaigns.ResetStale(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		a.logger.Warn("interrupted campaigns marked failed", "count", n)
	}
	return n, nil
}

// Run starts the servers and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting herald",
		"version", Version,
		"api_addr", a.config.Server.ListenAddr,
		"database", a.config.Database.Path,
		"sandbox", a.config.Sandbox.Enabled,
	)

	if a.config.Server.APITokenHash == "" {
		a.logger.Warn("api_token_hash is empty, admin API is unauthenticated")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if _, err := a.Seed(ctx, false); err != nil {
		a.logger.Error("startup seeding failed", "error", err)
	}
	if _, err := a.RecoverInterrupted(ctx); err != nil {
		a.logger.Error("failed to recover interrupted campaigns", "error", err)
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	a.Shutdown(context.Background())
	return runErr
}

// Shutdown gracefully stops the servers and closes the stores
func (a *App) Shutdown(ctx context.Context) {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if err := a.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}
	a.logger.Info("shutdown complete")
}

// Close closes the stores
func (a *App) Close() error {
	var errs []error
	if a.sandbox != nil {
		errs = append(errs, a.sandbox.Close())
	}
	errs = append(errs, a.db.Close())
	return errors.Join(errs...)
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
