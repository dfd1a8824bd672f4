package dispatch

import (
	"context"
	"fmt"

	"github.com/foxzi/herald/internal/automation"
	"github.com/foxzi/herald/internal/models"
	"github.com/foxzi/herald/internal/transport"
)

// TemplatedRequest describes a one-off templated send
type TemplatedRequest struct {
	To string `json:"to"`
	// Ref is an automation key or a template id
	Ref       string         `json:"ref"`
	Variables map[string]any `json:"variables,omitempty"`
	Overrides *Overrides     `json:"overrides,omitempty"`
	UserID    string         `json:"userId,omitempty"`
}

// Overrides replace the stored template of a templated send
type Overrides struct {
	TemplateID string `json:"templateId,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body,omitempty"`
}

// TestRequest describes an ad-hoc test send
type TestRequest struct {
	To        string         `json:"to"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	Variables map[string]any `json:"variables,omitempty"`
}

type resolvedTemplate struct {
	subject       string
	body          string
	templateID    string
	templateName  string
	category      string
	automationKey string
}

// SendTemplated resolves the template for req, renders it and sends it.
// Automation sends are gated by the configured switches.
func (d *Dispatcher) SendTemplated(ctx context.Context, req TemplatedRequest) transport.Result {
	entry := models.SendLogEntry{
		To:        req.To,
		Category:  models.CategorySystem,
		UserID:    req.UserID,
		Variables: req.Variables,
	}
	if automation.IsKnown(req.Ref) {
		entry.Category = models.CategoryAutomation
		entry.AutomationKey = req.Ref
	}

	vars := d.vars(req.Variables)
	if req.Overrides != nil {
		entry.Subject = d.engine.Render(req.Overrides.Subject, vars)
	}

	rt, err := d.resolveTemplate(ctx, req.Ref, req.Overrides)
	if err != nil {
		d.logger.Error("template lookup failed", "ref", req.Ref, "error", err)
		return d.recordOutcome(ctx, entry, models.SendStatusFailed, err.Error(), models.ReasonTemplateNotFound)
	}
	if rt == nil {
		d.logger.Warn("no template for templated send", "ref", req.Ref, "to", req.To)
		return d.recordOutcome(ctx, entry, models.SendStatusFailed, MessageTemplateNotFound, models.ReasonTemplateNotFound)
	}

	entry.Category = rt.category
	entry.TemplateID = rt.templateID
	entry.TemplateName = rt.templateName
	entry.AutomationKey = rt.automationKey
	entry.Subject = d.engine.Render(rt.subject, vars)

	cfg, err := d.settings.GetMailConfig(ctx)
	if err != nil {
		d.logger.Error("failed to load mail config", "error", err)
		return d.recordOutcome(ctx, entry, models.SendStatusFailed,
			fmt.Sprintf("mail config unavailable: %v", err), models.ReasonConfigIncomplete)
	}

	if rt.category == models.CategoryAutomation && !automation.Enabled(cfg.Automations, rt.automationKey) {
		d.logger.Debug("automation disabled", "key", rt.automationKey, "to", req.To)
		return d.recordOutcome(ctx, entry, models.SendStatusSkipped, automation.DisabledReason, models.ReasonAutomationDisabled)
	}

	return d.deliver(ctx, cfg.SMTP, delivery{
		msg: transport.Message{
			To:      req.To,
			Subject: entry.Subject,
			HTML:    d.engine.Render(rt.body, vars),
		},
		entry: entry,
	})
}

// resolveTemplate applies the lookup order: explicit subject and body,
// explicit template id, stored automation template, built-in automation
// template, then ref as a template id. A nil result means nothing matched.
func (d *Dispatcher) resolveTemplate(ctx context.Context, ref string, ov *Overrides) (*resolvedTemplate, error) {
	key := ""
	if automation.IsKnown(ref) {
		key = ref
	}

	if ov != nil && ov.Subject != "" && ov.Body != "" {
		rt := &resolvedTemplate{subject: ov.Subject, body: ov.Body, category: models.CategorySystem}
		if key != "" {
			rt.category = models.CategoryAutomation
			rt.automationKey = key
		}
		return rt, nil
	}

	if ov != nil && ov.TemplateID != "" {
		t, err := d.templates.GetByID(ctx, ov.TemplateID)
		if err != nil {
			return nil, fmt.Errorf("failed to load template %s: %w", ov.TemplateID, err)
		}
		if t != nil {
			return fromTemplate(t, key), nil
		}
	}

	if ref == "" {
		return nil, nil
	}

	t, err := d.templates.GetByAutomationKey(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to load automation template %s: %w", ref, err)
	}
	if t != nil {
		return fromTemplate(t, ref), nil
	}

	if def := automation.DefaultTemplate(ref); def != nil {
		return &resolvedTemplate{
			subject:       def.Subject,
			body:          def.Body,
			templateName:  def.Name,
			category:      models.CategoryAutomation,
			automationKey: ref,
		}, nil
	}

	t, err = d.templates.GetByID(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", ref, err)
	}
	if t != nil {
		return fromTemplate(t, ""), nil
	}
	return nil, nil
}

func fromTemplate(t *models.Template, key string) *resolvedTemplate {
	rt := &resolvedTemplate{
		subject:       t.Subject,
		body:          t.Body,
		templateID:    t.ID,
		templateName:  t.Name,
		category:      t.Category,
		automationKey: t.AutomationKey,
	}
	if rt.automationKey == "" {
		rt.automationKey = key
	}
	if rt.automationKey != "" {
		rt.category = models.CategoryAutomation
	}
	return rt
}

// SendTest renders and sends an ad-hoc message. Test sends are never gated.
func (d *Dispatcher) SendTest(ctx context.Context, req TestRequest) transport.Result {
	entry := models.SendLogEntry{
		To:        req.To,
		Category:  models.CategoryTest,
		Variables: req.Variables,
	}

	cfg, err := d.settings.GetMailConfig(ctx)
	if err != nil {
		d.logger.Error("failed to load mail config", "error", err)
		return d.recordOutcome(ctx, entry, models.SendStatusFailed,
			fmt.Sprintf("mail config unavailable: %v", err), models.ReasonConfigIncomplete)
	}

	vars := d.vars(req.Variables)
	entry.Subject = d.engine.Render(req.Subject, vars)

	return d.deliver(ctx, cfg.SMTP, delivery{
		msg: transport.Message{
			To:      req.To,
			Subject: entry.Subject,
			HTML:    d.engine.Render(req.Body, vars),
		},
		entry: entry,
	})
}
