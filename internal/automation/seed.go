package automation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/foxzi/herald/internal/models"
)

// TemplateStore is the subset of template persistence used for seeding
type TemplateStore interface {
	GetByAutomationKey(ctx context.Context, key string) (*models.Template, error)
	Create(ctx context.Context, t *models.Template) error
	Update(ctx context.Context, t *models.Template) error
}

// SeedResult reports what a seeding run changed
type SeedResult struct {
	Created   []string `json:"created"`
	Refreshed []string `json:"refreshed"`
	Unchanged []string `json:"unchanged"`
}

// Seed makes sure every automation key has a stored template. Existing
// templates are left alone unless force is set, in which case their subject
// and body are reset to the built-in version.
func Seed(ctx context.Context, store TemplateStore, force bool, logger *slog.Logger) (*SeedResult, error) {
	result := &SeedResult{}

	for _, key := range Keys() {
		def := DefaultTemplate(key)

		existing, err := store.GetByAutomationKey(ctx, key)
		if err != nil {
			return result, fmt.Errorf("failed to look up template %q: %w", key, err)
		}

		switch {
		case existing == nil:
			if err := store.Create(ctx, def); err != nil {
				return result, fmt.Errorf("failed to create template %q: %w", key, err)
			}
			result.Created = append(result.Created, key)
			logger.Info("seeded automation template", "key", key, "id", def.ID)
		case force:
			existing.Subject = def.Subject
			existing.Body = def.Body
			existing.Category = models.CategoryAutomation
			existing.VariableNames = def.VariableNames
			if err := store.Update(ctx, existing); err != nil {
				return result, fmt.Errorf("failed to refresh template %q: %w", key, err)
			}
			result.Refreshed = append(result.Refreshed, key)
			logger.Info("refreshed automation template", "key", key, "id", existing.ID)
		default:
			result.Unchanged = append(result.Unchanged, key)
		}
	}

	return result, nil
}
