// Package audience turns audience specifications into concrete, deduplicated
// recipient lists.
package audience

import (
	"context"
	"fmt"
	"time"

	"github.com/foxzi/herald/internal/email"
	"github.com/foxzi/herald/internal/models"
)

// UserStore is the read side of the user store
type UserStore interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, error)
}

// Preview is the result of a dry audience resolution
type Preview struct {
	Count  int                `json:"count"`
	Sample []models.Recipient `json:"sample"`
}

// Resolver resolves audience specifications
type Resolver struct {
	users UserStore
	now   func() time.Time
}

// NewResolver creates a resolver backed by users
func NewResolver(users UserStore) *Resolver {
	return &Resolver{users: users, now: time.Now}
}

// Resolve returns the recipients selected by spec. Invalid addresses are
// dropped and duplicates collapse on their lowercase form.
func (r *Resolver) Resolve(ctx context.Context, spec models.AudienceSpec) ([]models.Recipient, error) {
	if spec.Type == models.AudienceCustomEmails {
		return fromAddresses(spec.CustomEmails), nil
	}

	filter, err := r.filterFor(spec)
	if err != nil {
		return nil, err
	}

	users, err := r.users.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s audience: %w", spec.Type, err)
	}
	return fromUsers(users), nil
}

// Preview resolves spec and returns the count with up to sampleSize recipients
func (r *Resolver) Preview(ctx context.Context, spec models.AudienceSpec, sampleSize int) (*Preview, error) {
	recipients, err := r.Resolve(ctx, spec)
	if err != nil {
		return nil, err
	}

	if sampleSize < 0 {
		sampleSize = 0
	}
	n := min(sampleSize, len(recipients))
	sample := make([]models.Recipient, n)
	copy(sample, recipients[:n])

	return &Preview{Count: len(recipients), Sample: sample}, nil
}

func (r *Resolver) filterFor(spec models.AudienceSpec) (models.UserFilter, error) {
	switch spec.Type {
	case models.AudienceAllUsers:
		return models.UserFilter{}, nil
	case models.AudienceAdmins:
		return models.UserFilter{Role: models.RoleAdmin}, nil
	case models.AudienceNotificationsEnabled:
		return models.UserFilter{NotificationsEnabled: true}, nil
	case models.AudienceRecentUsers:
		since := r.now().AddDate(0, 0, -RecentWindow(spec.DaysSinceSignup))
		return models.UserFilter{CreatedSince: &since}, nil
	default:
		return models.UserFilter{}, fmt.Errorf("unknown audience type %q", spec.Type)
	}
}

// RecentWindow returns the signup window in days for recent_users
func RecentWindow(days int) int {
	if days <= 0 {
		return models.DefaultRecentDays
	}
	return max(days, 1)
}

func fromAddresses(entries []string) []models.Recipient {
	seen := make(map[string]struct{})
	recipients := []models.Recipient{}

	for _, addr := range email.SplitList(entries) {
		if !email.IsValid(addr) {
			continue
		}
		normalized := email.Normalize(addr)
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		recipients = append(recipients, models.Recipient{Email: normalized})
	}
	return recipients
}

func fromUsers(users []models.User) []models.Recipient {
	seen := make(map[string]struct{}, len(users))
	recipients := make([]models.Recipient, 0, len(users))

	for _, u := range users {
		if !email.IsValid(u.Email) {
			continue
		}
		normalized := email.Normalize(u.Email)
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		recipients = append(recipients, models.Recipient{
			Email:     normalized,
			UserID:    u.ID,
			FirstName: u.FirstName,
			LastName:  u.LastName,
		})
	}
	return recipients
}
