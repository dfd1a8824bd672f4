package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/foxzi/herald/internal/audience"
	"github.com/foxzi/herald/internal/models"
	"github.com/foxzi/herald/internal/repository"
	"github.com/foxzi/herald/internal/transport"
)

// DispatchResult summarises a finished campaign dispatch
type DispatchResult struct {
	CampaignID string               `json:"campaignId"`
	Status     string               `json:"status"`
	Stats      models.CampaignStats `json:"stats"`
	LastError  string               `json:"lastError,omitempty"`
	Reason     string               `json:"reason,omitempty"` // set when no recipient was tried
	Duration   time.Duration        `json:"duration"`
}

// outcome is what a worker reports for one recipient
type outcome struct {
	status  string
	message string
}

// tally folds outcomes into campaign stats
type tally struct {
	stats     models.CampaignStats
	lastError string
}

func (t *tally) add(o outcome) {
	t.stats.Total++
	switch o.status {
	case models.SendStatusSent:
		t.stats.Sent++
	case models.SendStatusSkipped:
		t.stats.Skipped++
	default:
		t.stats.Failed++
	}
	if o.status != models.SendStatusSent && o.message != "" {
		t.lastError = o.message
	}
}

// DispatchCampaign sends campaign id to its resolved audience. Exactly one
// caller wins the move to sending; the others get ErrDispatchInProgress.
// Campaigns in draft, sent or failed may be dispatched; a re-dispatch
// resolves the audience again and sends to everyone.
func (d *Dispatcher) DispatchCampaign(ctx context.Context, id string) (*DispatchResult, error) {
	start := d.now()

	c, err := d.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}
	if c == nil {
		return nil, ErrCampaignNotFound
	}
	if c.Status == models.CampaignStatusSending {
		return nil, ErrDispatchInProgress
	}

	won, err := d.campaigns.TryStartSending(ctx, id)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrDispatchInProgress
	}

	logger := d.logger.With("campaign_id", c.ID, "campaign", c.Name)
	logger.Info("campaign dispatch started", "audience", c.Audience.Type)

	// The campaign is ours now and must leave the sending state however the
	// dispatch ends.
	storeCtx := context.WithoutCancel(ctx)
	finish := func(status string, stats models.CampaignStats, lastError string) (*DispatchResult, error) {
		var sentAt *time.Time
		if status == models.CampaignStatusSent {
			t := d.now().UTC()
			sentAt = &t
		}
		err := d.campaigns.Finish(storeCtx, c.ID, status, stats, lastError, sentAt)
		if err != nil {
			logger.Warn("failed to write campaign result, retrying", "error", err)
			err = d.campaigns.Finish(storeCtx, c.ID, status, stats, lastError, sentAt)
		}
		if err != nil {
			logger.Error("failed to write campaign result", "error", err)
			return nil, err
		}

		elapsed := d.now().Sub(start)
		d.metrics.ObserveDispatch(status, elapsed)
		logger.Info("campaign dispatch finished",
			"status", status,
			"total", stats.Total,
			"sent", stats.Sent,
			"failed", stats.Failed,
			"skipped", stats.Skipped,
			"duration", elapsed,
		)
		return &DispatchResult{
			CampaignID: c.ID,
			Status:     status,
			Stats:      stats,
			LastError:  lastError,
			Duration:   elapsed,
		}, nil
	}

	// abort ends a dispatch that never reached the recipients. The previous
	// run's snapshot is cleared so it matches the zero stats.
	abort := func(lastError string) (*DispatchResult, error) {
		cleared := c.Audience
		cleared.LastResolvedCount = 0
		if err := d.campaigns.SaveSnapshot(storeCtx, c.ID, cleared, nil); err != nil {
			logger.Error("failed to clear recipients snapshot", "error", err)
		}
		return finish(models.CampaignStatusFailed, models.CampaignStats{}, lastError)
	}

	cfg, err := d.settings.GetMailConfig(ctx)
	if err != nil {
		return abort(fmt.Sprintf("mail config unavailable: %v", err))
	}

	recipients, err := d.audience.Resolve(ctx, c.Audience)
	if err != nil {
		return abort(fmt.Sprintf("audience resolution failed: %v", err))
	}

	c.Audience.LastResolvedCount = len(recipients)
	if err := d.campaigns.SaveSnapshot(storeCtx, c.ID, c.Audience, recipients); err != nil {
		return abort(err.Error())
	}

	if len(recipients) == 0 {
		logger.Warn("campaign audience is empty")
		res, err := finish(models.CampaignStatusFailed, models.CampaignStats{}, MessageNoRecipients)
		if res != nil {
			res.Reason = models.ReasonAudienceEmpty
		}
		return res, err
	}

	t := d.fanOut(ctx, c, cfg.SMTP, recipients)

	status := models.CampaignStatusFailed
	if t.stats.Sent > 0 {
		status = models.CampaignStatusSent
	}
	return finish(status, t.stats, t.lastError)
}

// fanOut sends to every recipient on a bounded worker pool. Outcomes flow
// back over a channel and are folded by the caller goroutine only.
func (d *Dispatcher) fanOut(ctx context.Context, c *models.Campaign, settings models.SMTPSettings, recipients []models.Recipient) tally {
	workers := min(d.opts.Concurrency, len(recipients))

	jobs := make(chan models.Recipient)
	results := make(chan outcome, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range jobs {
				results <- d.sendToRecipient(ctx, c, settings, r)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, r := range recipients {
			jobs <- r
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var t tally
	for o := range results {
		t.add(o)
	}
	return t
}

func (d *Dispatcher) sendToRecipient(ctx context.Context, c *models.Campaign, settings models.SMTPSettings, r models.Recipient) outcome {
	vars := d.vars(map[string]any{
		"email":     r.Email,
		"firstName": r.FirstName,
		"lastName":  r.LastName,
		"fullName":  r.FullName(),
	})

	entry := models.SendLogEntry{
		To:           r.Email,
		Subject:      d.engine.Render(c.Subject, vars),
		Category:     models.CategoryCampaign,
		CampaignID:   c.ID,
		CampaignName: c.Name,
		UserID:       r.UserID,
	}

	if ctx.Err() != nil {
		res := d.recordOutcome(ctx, entry, models.SendStatusSkipped, MessageCancelled, models.ReasonDispatchCancelled)
		return outcome{status: res.Status, message: res.Error}
	}

	res := d.deliver(ctx, settings, delivery{
		msg: transport.Message{
			To:      r.Email,
			Subject: entry.Subject,
			HTML:    d.engine.Render(c.Body, vars),
		},
		entry: entry,
	})
	return outcome{status: res.Status, message: res.Error}
}

// SaveCampaign validates c and creates it, or updates its authored fields
// when c.ID is set
func (d *Dispatcher) SaveCampaign(ctx context.Context, c *models.Campaign) error {
	if err := d.validateCampaign(c); err != nil {
		return err
	}

	if c.ID == "" {
		return d.campaigns.Create(ctx, c)
	}

	existing, err := d.campaigns.GetByID(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("failed to load campaign: %w", err)
	}
	if existing == nil {
		return ErrCampaignNotFound
	}

	if err := d.campaigns.UpdateDraft(ctx, c); err != nil {
		if errors.Is(err, repository.ErrCampaignBusy) {
			return ErrDispatchInProgress
		}
		return err
	}
	c.Status = existing.Status
	c.Stats = existing.Stats
	c.CreatedAt = existing.CreatedAt
	return nil
}

func (d *Dispatcher) validateCampaign(c *models.Campaign) error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCampaign)
	}
	if c.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidCampaign)
	}
	if err := validateAudience(c.Audience); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCampaign, err)
	}
	if err := d.engine.Validate(c.Subject, c.Body); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCampaign, err)
	}
	return nil
}

// PreviewAudience resolves spec without sending and returns the count with a
// bounded sample
func (d *Dispatcher) PreviewAudience(ctx context.Context, spec models.AudienceSpec) (*audience.Preview, error) {
	if err := validateAudience(spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudience, err)
	}
	return d.audience.Preview(ctx, spec, d.opts.SampleSize)
}

func validateAudience(spec models.AudienceSpec) error {
	if !models.IsValidAudienceType(spec.Type) {
		return fmt.Errorf("unknown audience type %q", spec.Type)
	}
	if spec.DaysSinceSignup < 0 {
		return errors.New("daysSinceSignup must not be negative")
	}
	return nil
}
