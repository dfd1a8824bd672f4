package dispatch

import (
	"context"
	"fmt"

	"github.com/foxzi/herald/internal/automation"
	"github.com/foxzi/herald/internal/models"
	"github.com/foxzi/herald/internal/template"
)

// SaveTemplate validates t, derives its variable names and stores it.
// Templates without an ID are created.
func (d *Dispatcher) SaveTemplate(ctx context.Context, t *models.Template) error {
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if t.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidTemplate)
	}
	if !models.IsValidTemplateCategory(t.Category) {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidTemplate, t.Category)
	}

	switch {
	case t.Category == models.CategoryAutomation && t.AutomationKey == "":
		return fmt.Errorf("%w: automation templates need an automation key", ErrInvalidTemplate)
	case t.Category != models.CategoryAutomation && t.AutomationKey != "":
		return fmt.Errorf("%w: automation key is only allowed on automation templates", ErrInvalidTemplate)
	}
	if t.AutomationKey != "" && !automation.IsKnown(t.AutomationKey) {
		d.logger.Warn("template uses an automation key without a switch", "key", t.AutomationKey)
	}

	if err := d.engine.Validate(t.Subject, t.Body); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	t.VariableNames = template.ExtractVariableNames(t.Subject, t.Body)

	if t.ID == "" {
		return d.templates.Create(ctx, t)
	}
	return d.templates.Update(ctx, t)
}
