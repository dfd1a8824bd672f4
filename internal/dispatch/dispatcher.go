// Package dispatch sends templated one-off messages and fans campaigns out to
// their audience. Every attempt, whatever its outcome, ends in exactly one
// send log entry.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/foxzi/herald/internal/audience"
	"github.com/foxzi/herald/internal/metrics"
	"github.com/foxzi/herald/internal/models"
	"github.com/foxzi/herald/internal/template"
	"github.com/foxzi/herald/internal/transport"
)

// TemplateStore is the template side of the store
type TemplateStore interface {
	GetByID(ctx context.Context, id string) (*models.Template, error)
	GetByAutomationKey(ctx context.Context, key string) (*models.Template, error)
	Create(ctx context.Context, t *models.Template) error
	Update(ctx context.Context, t *models.Template) error
}

// CampaignStore is the campaign side of the store
type CampaignStore interface {
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
	Create(ctx context.Context, c *models.Campaign) error
	UpdateDraft(ctx context.Context, c *models.Campaign) error
	TryStartSending(ctx context.Context, id string) (bool, error)
	SaveSnapshot(ctx context.Context, id string, audience models.AudienceSpec, recipients []models.Recipient) error
	Finish(ctx context.Context, id, status string, stats models.CampaignStats, lastError string, sentAt *time.Time) error
}

// SendLog is the append-only send log
type SendLog interface {
	Append(ctx context.Context, e *models.SendLogEntry) error
}

// SettingsStore provides the current mail configuration
type SettingsStore interface {
	GetMailConfig(ctx context.Context) (models.MailConfig, error)
}

// AudienceResolver resolves audience specifications
type AudienceResolver interface {
	Resolve(ctx context.Context, spec models.AudienceSpec) ([]models.Recipient, error)
	Preview(ctx context.Context, spec models.AudienceSpec, sampleSize int) (*audience.Preview, error)
}

// Sender hands a single message to the transport
type Sender interface {
	Send(ctx context.Context, settings models.SMTPSettings, msg transport.Message) transport.Result
}

// Stores groups the persistence dependencies of a Dispatcher
type Stores struct {
	Templates TemplateStore
	Campaigns CampaignStore
	Logs      SendLog
	Settings  SettingsStore
}

// Options tunes dispatch behaviour
type Options struct {
	Concurrency int
	SampleSize  int
	SendTimeout time.Duration
	// StaticVars are merged under caller variables on every render
	StaticVars map[string]any
}

// Dispatcher coordinates rendering, gating, delivery and logging
type Dispatcher struct {
	templates TemplateStore
	campaigns CampaignStore
	logs      SendLog
	settings  SettingsStore
	audience  AudienceResolver
	sender    Sender
	engine    *template.Engine
	metrics   *metrics.Metrics
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a dispatcher. m may be nil.
func New(stores Stores, resolver AudienceResolver, sender Sender, m *metrics.Metrics, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = 10
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}

	return &Dispatcher{
		templates: stores.Templates,
		campaigns: stores.Campaigns,
		logs:      stores.Logs,
		settings:  stores.Settings,
		audience:  resolver,
		sender:    sender,
		engine:    template.NewEngine(),
		metrics:   m,
		opts:      opts,
		logger:    logger.With("component", "dispatch"),
		now:       time.Now,
	}
}

// delivery is one rendered message plus the metadata its log entry carries
type delivery struct {
	msg   transport.Message
	entry models.SendLogEntry
}

// deliver sends d and writes its log entry after the transport returns
func (d *Dispatcher) deliver(ctx context.Context, settings models.SMTPSettings, dl delivery) transport.Result {
	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	result := d.sender.Send(sendCtx, settings, dl.msg)
	cancel()

	entry := dl.entry
	entry.Status = result.Status
	entry.ErrorMessage = result.Error
	entry.ProviderMessageID = result.ProviderMessageID
	if result.OK() {
		sentAt := d.now().UTC()
		entry.SentAt = &sentAt
	}
	d.record(ctx, &entry)
	return result
}

// record appends entry to the send log. The write survives cancellation of
// ctx so an attempt is never left unlogged.
func (d *Dispatcher) record(ctx context.Context, entry *models.SendLogEntry) {
	if err := d.logs.Append(context.WithoutCancel(ctx), entry); err != nil {
		d.logger.Error("failed to write send log",
			"to", entry.To,
			"status", entry.Status,
			"category", entry.Category,
			"error", err,
		)
	}
	d.metrics.ObserveMessage(entry.Category, entry.Status)
}

// recordOutcome writes an entry for an attempt that never reached the
// transport and returns the matching result
func (d *Dispatcher) recordOutcome(ctx context.Context, entry models.SendLogEntry, status, message, reason string) transport.Result {
	entry.Status = status
	entry.ErrorMessage = message
	d.record(ctx, &entry)
	return transport.Result{Status: status, Error: message, Reason: reason}
}

func (d *Dispatcher) vars(bags ...template.Vars) template.Vars {
	return template.Merge(append([]template.Vars{d.opts.StaticVars}, bags...)...)
}
